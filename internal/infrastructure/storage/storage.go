package storage

import (
	"context"
	"fmt"

	"chainlens/internal/config"
	"chainlens/internal/domain"
	"chainlens/internal/infrastructure/mysql"
	"chainlens/internal/infrastructure/sqlite"
)

// Repository is the full store contract shared by the MySQL and sqlite
// backends. The ingester uses the write half, the HTTP API the read half.
type Repository interface {
	UpsertTransactions(ctx context.Context, transactions []domain.Transaction) error
	LastIngestedBlock(ctx context.Context) (uint64, bool, error)
	SetLastIngestedBlock(ctx context.Context, block uint64) error

	LatestTransactions(ctx context.Context, limit, offset int) ([]domain.Transaction, error)
	SearchTransactions(ctx context.Context, search string, limit, offset int) ([]domain.Transaction, error)
	FilterTransactions(ctx context.Context, category domain.Category, limit, offset int) ([]domain.Transaction, error)
	TransactionByHash(ctx context.Context, hash string) (domain.Transaction, bool, error)
	TransactionsForAddress(ctx context.Context, address string, limit, offset int) ([]domain.Transaction, error)
	AddressSummary(ctx context.Context, address string) (domain.AddressSummary, error)

	ThroughputStats(ctx context.Context) (domain.ThroughputStats, error)
	TopSenders(ctx context.Context, limit, windowDays int) ([]domain.LeaderboardRow, error)
	TopReceivers(ctx context.Context, limit, windowDays int) ([]domain.LeaderboardRow, error)
	TopVolume(ctx context.Context, limit, windowDays int) ([]domain.LeaderboardRow, error)

	Ping(ctx context.Context) error
	Close() error
}

// Open builds the configured backend. MySQL optionally gets the Redis
// read-through cache; sqlite stays plain since it targets single-process
// deployments where a cache layer buys nothing.
func Open(cfg config.Config) (Repository, error) {
	switch cfg.DBDriver {
	case config.DriverMySQL:
		repo, err := mysql.NewRepository(cfg.DBDSN)
		if err != nil {
			return nil, fmt.Errorf("open mysql store: %w", err)
		}
		if cfg.RedisAddr == "" {
			return repo, nil
		}
		cached, err := mysql.NewCachedRepository(repo, mysql.CacheConfig{Addr: cfg.RedisAddr})
		if err != nil {
			_ = repo.Close()
			return nil, fmt.Errorf("attach redis cache: %w", err)
		}
		return cached, nil
	case config.DriverSQLite:
		repo, err := sqlite.NewRepository(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.DBDriver)
	}
}
