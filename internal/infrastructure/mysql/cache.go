package mysql

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"chainlens/internal/domain"

	"github.com/redis/go-redis/v9"
)

const (
	cacheVersionKey = "chainlens:txs:version"
	cacheKeyPrefix  = "chainlens:txs:v"
	defaultCacheTTL = time.Minute
)

type CacheConfig struct {
	Addr string
	TTL  time.Duration
}

// CachedRepository layers a Redis read-through cache over the hot read
// paths (latest feed, throughput stats, leaderboards). Every upsert bumps a
// version key, which implicitly drops all cached entries.
type CachedRepository struct {
	*Repository
	cache *redis.Client
	ttl   time.Duration
}

func NewCachedRepository(base *Repository, cfg CacheConfig) (*CachedRepository, error) {
	if base == nil {
		return nil, errors.New("base repository is required")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return &CachedRepository{Repository: base}, nil
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultCacheTTL
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &CachedRepository{Repository: base, cache: client, ttl: cfg.TTL}, nil
}

func (r *CachedRepository) UpsertTransactions(ctx context.Context, transactions []domain.Transaction) error {
	if err := r.Repository.UpsertTransactions(ctx, transactions); err != nil {
		return err
	}
	if len(transactions) > 0 {
		r.invalidate(ctx)
	}
	return nil
}

func (r *CachedRepository) LatestTransactions(ctx context.Context, limit, offset int) ([]domain.Transaction, error) {
	key := r.cacheKey(ctx, "latest", strconv.Itoa(normalizeLimit(limit)), strconv.Itoa(normalizeOffset(offset)))
	return cachedQuery(ctx, r, key, func() ([]domain.Transaction, error) {
		return r.Repository.LatestTransactions(ctx, limit, offset)
	})
}

func (r *CachedRepository) ThroughputStats(ctx context.Context) (domain.ThroughputStats, error) {
	// The one-minute window moves with the clock, so the version trick is
	// not enough on its own; a short TTL keeps the numbers honest.
	key := r.cacheKey(ctx, "throughput")
	return cachedQuery(ctx, r, key, func() (domain.ThroughputStats, error) {
		return r.Repository.ThroughputStats(ctx)
	})
}

func (r *CachedRepository) TopSenders(ctx context.Context, limit, windowDays int) ([]domain.LeaderboardRow, error) {
	key := r.cacheKey(ctx, "top-senders", strconv.Itoa(normalizeLimit(limit)), strconv.Itoa(windowDays))
	return cachedQuery(ctx, r, key, func() ([]domain.LeaderboardRow, error) {
		return r.Repository.TopSenders(ctx, limit, windowDays)
	})
}

func (r *CachedRepository) TopReceivers(ctx context.Context, limit, windowDays int) ([]domain.LeaderboardRow, error) {
	key := r.cacheKey(ctx, "top-receivers", strconv.Itoa(normalizeLimit(limit)), strconv.Itoa(windowDays))
	return cachedQuery(ctx, r, key, func() ([]domain.LeaderboardRow, error) {
		return r.Repository.TopReceivers(ctx, limit, windowDays)
	})
}

func (r *CachedRepository) TopVolume(ctx context.Context, limit, windowDays int) ([]domain.LeaderboardRow, error) {
	key := r.cacheKey(ctx, "top-volume", strconv.Itoa(normalizeLimit(limit)), strconv.Itoa(windowDays))
	return cachedQuery(ctx, r, key, func() ([]domain.LeaderboardRow, error) {
		return r.Repository.TopVolume(ctx, limit, windowDays)
	})
}

func (r *CachedRepository) Close() error {
	if r.cache != nil {
		_ = r.cache.Close()
	}
	return r.Repository.Close()
}

func cachedQuery[T any](ctx context.Context, r *CachedRepository, key string, load func() (T, error)) (T, error) {
	if r.cache == nil || key == "" {
		return load()
	}
	if cached, err := r.cache.Get(ctx, key).Result(); err == nil {
		var value T
		if err := json.Unmarshal([]byte(cached), &value); err == nil {
			return value, nil
		}
	}
	value, err := load()
	if err != nil {
		return value, err
	}
	if payload, err := json.Marshal(value); err == nil {
		_ = r.cache.Set(ctx, key, payload, r.ttl).Err()
	}
	return value, nil
}

func (r *CachedRepository) cacheKey(ctx context.Context, parts ...string) string {
	if r.cache == nil {
		return ""
	}
	version, err := r.cache.Get(ctx, cacheVersionKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			return ""
		}
		version = "0"
	}
	return cacheKeyPrefix + version + ":" + strings.Join(parts, ":")
}

func (r *CachedRepository) invalidate(ctx context.Context) {
	if r.cache == nil {
		return
	}
	_ = r.cache.Incr(ctx, cacheVersionKey).Err()
}
