package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"chainlens/internal/domain"

	_ "github.com/go-sql-driver/mysql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const lastIngestedKey = "last_ingested_block"

type Repository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(dsn string) (*Repository, error) {
	if dsn == "" {
		return nil, errors.New("db dsn is required")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if err := createSchema(db); err != nil {
		return nil, err
	}
	return &Repository{db: db, now: time.Now}, nil
}

func createSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS transactions (
			hash VARCHAR(66) NOT NULL,
			from_addr VARCHAR(42) NOT NULL,
			to_addr VARCHAR(42) NULL,
			value_wei DECIMAL(65,0) NOT NULL,
			value_eth VARCHAR(80) NOT NULL,
			status VARCHAR(16) NOT NULL,
			block_number BIGINT UNSIGNED NOT NULL,
			block_hash VARCHAR(66) NOT NULL,
			tx_index BIGINT UNSIGNED NOT NULL,
			gas BIGINT UNSIGNED NOT NULL,
			gas_price DECIMAL(65,0) NOT NULL,
			input MEDIUMTEXT NOT NULL,
			nonce BIGINT UNSIGNED NOT NULL,
			tx_type BIGINT UNSIGNED NOT NULL,
			chain_id BIGINT UNSIGNED NOT NULL,
			timestamp DATETIME NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			PRIMARY KEY (hash),
			KEY tx_timestamp_idx (timestamp),
			KEY tx_from_idx (from_addr),
			KEY tx_to_idx (to_addr),
			KEY tx_block_idx (block_number)
		)`,
		`CREATE TABLE IF NOT EXISTS state (
			state_key VARCHAR(64) NOT NULL,
			state_value VARCHAR(64) NOT NULL,
			PRIMARY KEY (state_key)
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// UpsertTransactions writes a batch in one transaction, keyed by hash.
// Conflicts overwrite every field, so re-ingesting a block is a no-op for
// unchanged data. created_at/updated_at stay store-managed.
func (r *Repository) UpsertTransactions(ctx context.Context, transactions []domain.Transaction) error {
	if len(transactions) == 0 {
		return nil
	}
	ctx, span := startDBSpan(ctx, "mysql.UpsertTransactions", attribute.Int("tx.count", len(transactions)))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return failSpan(span, err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO transactions
		(hash, from_addr, to_addr, value_wei, value_eth, status, block_number, block_hash, tx_index, gas, gas_price, input, nonce, tx_type, chain_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			from_addr = VALUES(from_addr),
			to_addr = VALUES(to_addr),
			value_wei = VALUES(value_wei),
			value_eth = VALUES(value_eth),
			status = VALUES(status),
			block_number = VALUES(block_number),
			block_hash = VALUES(block_hash),
			tx_index = VALUES(tx_index),
			gas = VALUES(gas),
			gas_price = VALUES(gas_price),
			input = VALUES(input),
			nonce = VALUES(nonce),
			tx_type = VALUES(tx_type),
			chain_id = VALUES(chain_id),
			timestamp = VALUES(timestamp)`)
	if err != nil {
		_ = tx.Rollback()
		return failSpan(span, err)
	}
	defer stmt.Close()

	for _, entry := range transactions {
		var toAddr any
		if entry.To != nil {
			toAddr = strings.ToLower(*entry.To)
		}
		valueWei := entry.ValueWei
		if valueWei == "" {
			valueWei = "0"
		}
		gasPrice := entry.GasPrice
		if gasPrice == "" {
			gasPrice = "0"
		}
		if _, err := stmt.ExecContext(ctx,
			strings.ToLower(entry.Hash), strings.ToLower(entry.From), toAddr,
			valueWei, entry.ValueEth, string(entry.Status),
			entry.BlockNumber, strings.ToLower(entry.BlockHash), entry.TxIndex,
			entry.Gas, gasPrice, entry.Input, entry.Nonce, entry.TxType,
			entry.ChainID, entry.Timestamp.UTC(),
		); err != nil {
			_ = tx.Rollback()
			return failSpan(span, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return failSpan(span, err)
	}
	return nil
}

func (r *Repository) LastIngestedBlock(ctx context.Context) (uint64, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var value string
	if err := r.db.QueryRowContext(ctx, `SELECT state_value FROM state WHERE state_key = ?`, lastIngestedKey).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	var block uint64
	if _, err := fmt.Sscanf(value, "%d", &block); err != nil {
		return 0, false, err
	}
	return block, true, nil
}

func (r *Repository) SetLastIngestedBlock(ctx context.Context, block uint64) error {
	ctx, span := startDBSpan(ctx, "mysql.SetLastIngestedBlock", attribute.Int64("block.number", int64(block)))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `INSERT INTO state (state_key, state_value) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE state_value = VALUES(state_value)`, lastIngestedKey, fmt.Sprintf("%d", block))
	if err != nil {
		return failSpan(span, err)
	}
	return nil
}

const transactionColumns = `hash, from_addr, to_addr, value_wei, value_eth, status, block_number, block_hash, tx_index, gas, gas_price, input, nonce, tx_type, chain_id, timestamp`

func (r *Repository) LatestTransactions(ctx context.Context, limit, offset int) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		ORDER BY timestamp DESC, block_number DESC, tx_index DESC LIMIT ? OFFSET ?`
	return r.queryTransactions(ctx, "mysql.LatestTransactions", query, normalizeLimit(limit), normalizeOffset(offset))
}

func (r *Repository) SearchTransactions(ctx context.Context, search string, limit, offset int) ([]domain.Transaction, error) {
	pattern := "%" + strings.ToLower(strings.TrimSpace(search)) + "%"
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE hash LIKE ? OR from_addr LIKE ? OR to_addr LIKE ?
		ORDER BY timestamp DESC, block_number DESC, tx_index DESC LIMIT ? OFFSET ?`
	return r.queryTransactions(ctx, "mysql.SearchTransactions", query, pattern, pattern, pattern, normalizeLimit(limit), normalizeOffset(offset))
}

func (r *Repository) FilterTransactions(ctx context.Context, category domain.Category, limit, offset int) ([]domain.Transaction, error) {
	var clause string
	switch category {
	case domain.CategoryTokenTransfer:
		clause = "value_wei > 0"
	case domain.CategoryContractCall:
		clause = "value_wei = 0"
	case domain.CategoryFailed:
		clause = "status = 'failed'"
	default:
		return nil, fmt.Errorf("unknown filter category %q", category)
	}
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE ` + clause + `
		ORDER BY timestamp DESC, block_number DESC, tx_index DESC LIMIT ? OFFSET ?`
	return r.queryTransactions(ctx, "mysql.FilterTransactions", query, normalizeLimit(limit), normalizeOffset(offset))
}

func (r *Repository) TransactionByHash(ctx context.Context, hash string) (domain.Transaction, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE hash = ?`, strings.ToLower(hash))
	record, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Transaction{}, false, nil
		}
		return domain.Transaction{}, false, err
	}
	return record, true, nil
}

func (r *Repository) TransactionsForAddress(ctx context.Context, address string, limit, offset int) ([]domain.Transaction, error) {
	addr := strings.ToLower(address)
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE from_addr = ? OR to_addr = ?
		ORDER BY timestamp DESC, block_number DESC, tx_index DESC LIMIT ? OFFSET ?`
	return r.queryTransactions(ctx, "mysql.TransactionsForAddress", query, addr, addr, normalizeLimit(limit), normalizeOffset(offset))
}

// ThroughputStats computes the trailing one-minute window, boundary
// inclusive (timestamp >= now-1m).
func (r *Repository) ThroughputStats(ctx context.Context) (domain.ThroughputStats, error) {
	ctx, span := startDBSpan(ctx, "mysql.ThroughputStats")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cutoff := r.now().UTC().Add(-time.Minute)

	var stats domain.ThroughputStats
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT block_number) FROM transactions WHERE timestamp >= ?`,
		cutoff,
	).Scan(&stats.TxCount, &stats.BlocksPerMinute); err != nil {
		return domain.ThroughputStats{}, failSpan(span, err)
	}
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT addr) FROM (
			SELECT from_addr AS addr FROM transactions WHERE timestamp >= ?
			UNION
			SELECT to_addr FROM transactions WHERE timestamp >= ? AND to_addr IS NOT NULL
		) active`,
		cutoff, cutoff,
	).Scan(&stats.ActiveAddresses); err != nil {
		return domain.ThroughputStats{}, failSpan(span, err)
	}
	stats.TPS = float64(stats.TxCount) / 60.0
	return stats, nil
}

func (r *Repository) TopSenders(ctx context.Context, limit, windowDays int) ([]domain.LeaderboardRow, error) {
	query := `SELECT from_addr, COUNT(*) AS tx_count, COALESCE(SUM(value_wei), 0)
		FROM transactions WHERE timestamp >= ?
		GROUP BY from_addr ORDER BY tx_count DESC, from_addr ASC LIMIT ?`
	return r.queryLeaderboard(ctx, "mysql.TopSenders", query, r.windowCutoff(windowDays), normalizeLimit(limit))
}

func (r *Repository) TopReceivers(ctx context.Context, limit, windowDays int) ([]domain.LeaderboardRow, error) {
	query := `SELECT to_addr, COUNT(*) AS tx_count, COALESCE(SUM(value_wei), 0)
		FROM transactions WHERE timestamp >= ? AND to_addr IS NOT NULL
		GROUP BY to_addr ORDER BY tx_count DESC, to_addr ASC LIMIT ?`
	return r.queryLeaderboard(ctx, "mysql.TopReceivers", query, r.windowCutoff(windowDays), normalizeLimit(limit))
}

func (r *Repository) TopVolume(ctx context.Context, limit, windowDays int) ([]domain.LeaderboardRow, error) {
	query := `SELECT from_addr, COUNT(*) AS tx_count, COALESCE(SUM(value_wei), 0) AS total
		FROM transactions WHERE timestamp >= ?
		GROUP BY from_addr ORDER BY total DESC, from_addr ASC LIMIT ?`
	return r.queryLeaderboard(ctx, "mysql.TopVolume", query, r.windowCutoff(windowDays), normalizeLimit(limit))
}

func (r *Repository) AddressSummary(ctx context.Context, address string) (domain.AddressSummary, error) {
	ctx, span := startDBSpan(ctx, "mysql.AddressSummary", attribute.String("address", strings.ToLower(address)))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	addr := strings.ToLower(address)
	summary := domain.AddressSummary{Address: addr}
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE from_addr = ?`, addr).Scan(&summary.SentCount); err != nil {
		return domain.AddressSummary{}, failSpan(span, err)
	}
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE to_addr = ?`, addr).Scan(&summary.ReceivedCount); err != nil {
		return domain.AddressSummary{}, failSpan(span, err)
	}
	if err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(value_wei), 0) FROM transactions WHERE from_addr = ? OR to_addr = ?`,
		addr, addr,
	).Scan(&summary.TotalValueWei); err != nil {
		return domain.AddressSummary{}, failSpan(span, err)
	}
	return summary, nil
}

func (r *Repository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) windowCutoff(windowDays int) time.Time {
	if windowDays <= 0 {
		windowDays = 7
	}
	return r.now().UTC().Add(-time.Duration(windowDays) * 24 * time.Hour)
}

func (r *Repository) queryTransactions(ctx context.Context, spanName, query string, args ...any) ([]domain.Transaction, error) {
	ctx, span := startDBSpan(ctx, spanName)
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, failSpan(span, err)
	}
	defer rows.Close()

	var transactions []domain.Transaction
	for rows.Next() {
		record, err := scanTransaction(rows)
		if err != nil {
			return nil, failSpan(span, err)
		}
		transactions = append(transactions, record)
	}
	if err := rows.Err(); err != nil {
		return nil, failSpan(span, err)
	}
	return transactions, nil
}

func (r *Repository) queryLeaderboard(ctx context.Context, spanName, query string, args ...any) ([]domain.LeaderboardRow, error) {
	ctx, span := startDBSpan(ctx, spanName)
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, failSpan(span, err)
	}
	defer rows.Close()

	var leaderboard []domain.LeaderboardRow
	for rows.Next() {
		var row domain.LeaderboardRow
		if err := rows.Scan(&row.Address, &row.TxCount, &row.TotalValueWei); err != nil {
			return nil, failSpan(span, err)
		}
		leaderboard = append(leaderboard, row)
	}
	if err := rows.Err(); err != nil {
		return nil, failSpan(span, err)
	}
	return leaderboard, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (domain.Transaction, error) {
	var record domain.Transaction
	var toAddr sql.NullString
	var status string
	if err := row.Scan(
		&record.Hash, &record.From, &toAddr, &record.ValueWei, &record.ValueEth,
		&status, &record.BlockNumber, &record.BlockHash, &record.TxIndex,
		&record.Gas, &record.GasPrice, &record.Input, &record.Nonce,
		&record.TxType, &record.ChainID, &record.Timestamp,
	); err != nil {
		return domain.Transaction{}, err
	}
	if toAddr.Valid {
		value := toAddr.String
		record.To = &value
	}
	record.Status = domain.Status(status)
	record.Timestamp = record.Timestamp.UTC()
	return record, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 50
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

func failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func startDBSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("db.system", "mysql"))
	return otel.Tracer("chainlens/mysql").Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
}
