package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"chainlens/internal/domain"

	_ "modernc.org/sqlite"
)

const lastIngestedKey = "last_ingested_block"

// Repository is the embedded store backend. It implements the same contract
// as the MySQL repository so the two are interchangeable behind config.
// Aggregate volume sums go through REAL arithmetic here; exactness beyond
// display formatting is out of scope for the embedded backend.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(dbPath string) (*Repository, error) {
	if dbPath == "" {
		return nil, errors.New("db path is required")
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer; one pooled connection avoids
	// SQLITE_BUSY under concurrent upserts and reads.
	db.SetMaxOpenConns(1)
	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db, now: time.Now}, nil
}

func createSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS transactions (
			hash TEXT PRIMARY KEY,
			from_addr TEXT NOT NULL,
			to_addr TEXT NULL,
			value_wei TEXT NOT NULL,
			value_eth TEXT NOT NULL,
			status TEXT NOT NULL,
			block_number INTEGER NOT NULL,
			block_hash TEXT NOT NULL,
			tx_index INTEGER NOT NULL,
			gas INTEGER NOT NULL,
			gas_price TEXT NOT NULL,
			input TEXT NOT NULL,
			nonce INTEGER NOT NULL,
			tx_type INTEGER NOT NULL,
			chain_id INTEGER NOT NULL,
			timestamp TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		)`,
		`CREATE INDEX IF NOT EXISTS tx_timestamp_idx ON transactions (timestamp)`,
		`CREATE INDEX IF NOT EXISTS tx_from_idx ON transactions (from_addr)`,
		`CREATE INDEX IF NOT EXISTS tx_to_idx ON transactions (to_addr)`,
		`CREATE TABLE IF NOT EXISTS state (
			state_key TEXT PRIMARY KEY,
			state_value TEXT NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) UpsertTransactions(ctx context.Context, transactions []domain.Transaction) error {
	if len(transactions) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO transactions
		(hash, from_addr, to_addr, value_wei, value_eth, status, block_number, block_hash, tx_index, gas, gas_price, input, nonce, tx_type, chain_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET
			from_addr = excluded.from_addr,
			to_addr = excluded.to_addr,
			value_wei = excluded.value_wei,
			value_eth = excluded.value_eth,
			status = excluded.status,
			block_number = excluded.block_number,
			block_hash = excluded.block_hash,
			tx_index = excluded.tx_index,
			gas = excluded.gas,
			gas_price = excluded.gas_price,
			input = excluded.input,
			nonce = excluded.nonce,
			tx_type = excluded.tx_type,
			chain_id = excluded.chain_id,
			timestamp = excluded.timestamp,
			updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')`)
	if err != nil {
		_ = tx.Rollback()
		return err
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
			entry.ChainID, formatTime(entry.Timestamp),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (r *Repository) LastIngestedBlock(ctx context.Context) (uint64, bool, error) {
	var value string
	if err := r.db.QueryRowContext(ctx, `SELECT state_value FROM state WHERE state_key = ?`, lastIngestedKey).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	block, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return block, true, nil
}

func (r *Repository) SetLastIngestedBlock(ctx context.Context, block uint64) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO state (state_key, state_value) VALUES (?, ?)
		ON CONFLICT(state_key) DO UPDATE SET state_value = excluded.state_value`,
		lastIngestedKey, strconv.FormatUint(block, 10))
	return err
}

const transactionColumns = `hash, from_addr, to_addr, value_wei, value_eth, status, block_number, block_hash, tx_index, gas, gas_price, input, nonce, tx_type, chain_id, timestamp`

func (r *Repository) LatestTransactions(ctx context.Context, limit, offset int) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		ORDER BY timestamp DESC, block_number DESC, tx_index DESC LIMIT ? OFFSET ?`
	return r.queryTransactions(ctx, query, normalizeLimit(limit), normalizeOffset(offset))
}

func (r *Repository) SearchTransactions(ctx context.Context, search string, limit, offset int) ([]domain.Transaction, error) {
	pattern := "%" + strings.ToLower(strings.TrimSpace(search)) + "%"
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE hash LIKE ? OR from_addr LIKE ? OR to_addr LIKE ?
		ORDER BY timestamp DESC, block_number DESC, tx_index DESC LIMIT ? OFFSET ?`
	return r.queryTransactions(ctx, query, pattern, pattern, pattern, normalizeLimit(limit), normalizeOffset(offset))
}

func (r *Repository) FilterTransactions(ctx context.Context, category domain.Category, limit, offset int) ([]domain.Transaction, error) {
	// value_wei is a non-negative decimal string, so the zero test is an
	// exact string compare.
	var clause string
	switch category {
	case domain.CategoryTokenTransfer:
		clause = "value_wei <> '0'"
	case domain.CategoryContractCall:
		clause = "value_wei = '0'"
	case domain.CategoryFailed:
		clause = "status = 'failed'"
	default:
		return nil, fmt.Errorf("unknown filter category %q", category)
	}
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE ` + clause + `
		ORDER BY timestamp DESC, block_number DESC, tx_index DESC LIMIT ? OFFSET ?`
	return r.queryTransactions(ctx, query, normalizeLimit(limit), normalizeOffset(offset))
}

func (r *Repository) TransactionByHash(ctx context.Context, hash string) (domain.Transaction, bool, error) {
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
	return r.queryTransactions(ctx, query, addr, addr, normalizeLimit(limit), normalizeOffset(offset))
}

func (r *Repository) ThroughputStats(ctx context.Context) (domain.ThroughputStats, error) {
	cutoff := formatTime(r.now().Add(-time.Minute))

	var stats domain.ThroughputStats
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT block_number) FROM transactions WHERE timestamp >= ?`,
		cutoff,
	).Scan(&stats.TxCount, &stats.BlocksPerMinute); err != nil {
		return domain.ThroughputStats{}, err
	}
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT addr) FROM (
			SELECT from_addr AS addr FROM transactions WHERE timestamp >= ?
			UNION
			SELECT to_addr FROM transactions WHERE timestamp >= ? AND to_addr IS NOT NULL
		) active`,
		cutoff, cutoff,
	).Scan(&stats.ActiveAddresses); err != nil {
		return domain.ThroughputStats{}, err
	}
	stats.TPS = float64(stats.TxCount) / 60.0
	return stats, nil
}

func (r *Repository) TopSenders(ctx context.Context, limit, windowDays int) ([]domain.LeaderboardRow, error) {
	query := `SELECT from_addr, COUNT(*) AS tx_count, COALESCE(SUM(CAST(value_wei AS REAL)), 0)
		FROM transactions WHERE timestamp >= ?
		GROUP BY from_addr ORDER BY tx_count DESC, from_addr ASC LIMIT ?`
	return r.queryLeaderboard(ctx, query, r.windowCutoff(windowDays), normalizeLimit(limit))
}

func (r *Repository) TopReceivers(ctx context.Context, limit, windowDays int) ([]domain.LeaderboardRow, error) {
	query := `SELECT to_addr, COUNT(*) AS tx_count, COALESCE(SUM(CAST(value_wei AS REAL)), 0)
		FROM transactions WHERE timestamp >= ? AND to_addr IS NOT NULL
		GROUP BY to_addr ORDER BY tx_count DESC, to_addr ASC LIMIT ?`
	return r.queryLeaderboard(ctx, query, r.windowCutoff(windowDays), normalizeLimit(limit))
}

func (r *Repository) TopVolume(ctx context.Context, limit, windowDays int) ([]domain.LeaderboardRow, error) {
	query := `SELECT from_addr, COUNT(*) AS tx_count, COALESCE(SUM(CAST(value_wei AS REAL)), 0) AS total
		FROM transactions WHERE timestamp >= ?
		GROUP BY from_addr ORDER BY total DESC, from_addr ASC LIMIT ?`
	return r.queryLeaderboard(ctx, query, r.windowCutoff(windowDays), normalizeLimit(limit))
}

func (r *Repository) AddressSummary(ctx context.Context, address string) (domain.AddressSummary, error) {
	addr := strings.ToLower(address)
	summary := domain.AddressSummary{Address: addr}
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE from_addr = ?`, addr).Scan(&summary.SentCount); err != nil {
		return domain.AddressSummary{}, err
	}
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE to_addr = ?`, addr).Scan(&summary.ReceivedCount); err != nil {
		return domain.AddressSummary{}, err
	}
	var total float64
	if err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(CAST(value_wei AS REAL)), 0) FROM transactions WHERE from_addr = ? OR to_addr = ?`,
		addr, addr,
	).Scan(&total); err != nil {
		return domain.AddressSummary{}, err
	}
	summary.TotalValueWei = strconv.FormatFloat(total, 'f', 0, 64)
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

func (r *Repository) windowCutoff(windowDays int) string {
	if windowDays <= 0 {
		windowDays = 7
	}
	return formatTime(r.now().Add(-time.Duration(windowDays) * 24 * time.Hour))
}

func (r *Repository) queryTransactions(ctx context.Context, query string, args ...any) ([]domain.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []domain.Transaction
	for rows.Next() {
		record, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return transactions, nil
}

func (r *Repository) queryLeaderboard(ctx context.Context, query string, args ...any) ([]domain.LeaderboardRow, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var leaderboard []domain.LeaderboardRow
	for rows.Next() {
		var row domain.LeaderboardRow
		var total float64
		if err := rows.Scan(&row.Address, &row.TxCount, &total); err != nil {
			return nil, err
		}
		row.TotalValueWei = strconv.FormatFloat(total, 'f', 0, 64)
		leaderboard = append(leaderboard, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return leaderboard, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (domain.Transaction, error) {
	var record domain.Transaction
	var toAddr sql.NullString
	var status, timestamp string
	if err := row.Scan(
		&record.Hash, &record.From, &toAddr, &record.ValueWei, &record.ValueEth,
		&status, &record.BlockNumber, &record.BlockHash, &record.TxIndex,
		&record.Gas, &record.GasPrice, &record.Input, &record.Nonce,
		&record.TxType, &record.ChainID, &timestamp,
	); err != nil {
		return domain.Transaction{}, err
	}
	if toAddr.Valid {
		value := toAddr.String
		record.To = &value
	}
	record.Status = domain.Status(status)
	parsed, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return domain.Transaction{}, err
	}
	record.Timestamp = parsed.UTC()
	return record, nil
}

// formatTime fixes one RFC3339 rendering for both storage and window
// comparisons so lexicographic ordering matches time ordering.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
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
