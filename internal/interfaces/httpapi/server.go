package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"chainlens/internal/config"
	"chainlens/internal/domain"
)

// TransactionStore is the read half of the store contract the API serves
// from. Defined here so the server depends on behavior, not a backend.
type TransactionStore interface {
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
}

type RPCStatus interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

type Server struct {
	cfg       config.Config
	store     TransactionStore
	rpc       RPCStatus
	metrics   *Metrics
	buildInfo BuildInfo
}

// NewServer wires the API surface. rpc may be nil for deployments that
// serve reads only; /readyz then checks the store alone.
func NewServer(cfg config.Config, store TransactionStore, rpc RPCStatus, metrics *Metrics, buildInfo BuildInfo) (*Server, error) {
	if store == nil {
		return nil, errors.New("transaction store is required")
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Server{cfg: cfg, store: store, rpc: rpc, metrics: metrics, buildInfo: buildInfo}, nil
}

func (s *Server) MetricsObserver() *Metrics {
	return s.metrics
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/transactions/latest", s.handleLatest)
	mux.HandleFunc("/transactions/search", s.handleSearch)
	mux.HandleFunc("/transactions/filter", s.handleFilter)
	mux.HandleFunc("/transactions/", s.handleTransactionByHash)
	mux.HandleFunc("/analytics", s.handleAnalytics)
	mux.HandleFunc("/leaderboard/senders", s.leaderboardHandler(s.store.TopSenders))
	mux.HandleFunc("/leaderboard/receivers", s.leaderboardHandler(s.store.TopReceivers))
	mux.HandleFunc("/leaderboard/volume", s.leaderboardHandler(s.store.TopVolume))
	mux.HandleFunc("/address/summary", s.handleAddressSummary)
	mux.HandleFunc("/address/transactions", s.handleAddressTransactions)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/version", s.handleVersion)
	return mux
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "db not ready")
		return
	}
	if s.rpc != nil {
		if _, err := s.rpc.LatestBlockNumber(ctx); err != nil {
			respondError(w, http.StatusServiceUnavailable, "rpc not ready")
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePage(r, s.cfg.FeedPageSize)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	transactions, err := s.store.LatestTransactions(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	respondTransactions(w, transactions)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		respondError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit, offset, err := parsePage(r, s.cfg.FeedPageSize)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	transactions, err := s.store.SearchTransactions(r.Context(), query, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	respondTransactions(w, transactions)
}

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	category, ok := domain.ParseCategory(r.URL.Query().Get("category"))
	if !ok {
		respondError(w, http.StatusBadRequest, "unknown category")
		return
	}
	limit, offset, err := parsePage(r, s.cfg.FeedPageSize)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	transactions, err := s.store.FilterTransactions(r.Context(), category, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	respondTransactions(w, transactions)
}

func (s *Server) handleTransactionByHash(w http.ResponseWriter, r *http.Request) {
	hash := strings.TrimPrefix(r.URL.Path, "/transactions/")
	if hash == "" || strings.Contains(hash, "/") {
		respondError(w, http.StatusNotFound, "not found")
		return
	}
	record, found, err := s.store.TransactionByHash(r.Context(), hash)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, "transaction not found")
		return
	}
	respondJSON(w, http.StatusOK, record)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.ThroughputStats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) leaderboardHandler(query func(ctx context.Context, limit, windowDays int) ([]domain.LeaderboardRow, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := parseLimit(r, 10)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		window, err := parseWindow(r)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		rows, err := query(r.Context(), limit, window)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "query failed")
			return
		}
		if rows == nil {
			rows = []domain.LeaderboardRow{}
		}
		respondJSON(w, http.StatusOK, rows)
	}
}

func (s *Server) handleAddressSummary(w http.ResponseWriter, r *http.Request) {
	address := strings.TrimSpace(r.URL.Query().Get("address"))
	if address == "" {
		respondError(w, http.StatusBadRequest, "address is required")
		return
	}
	summary, err := s.store.AddressSummary(r.Context(), address)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handleAddressTransactions(w http.ResponseWriter, r *http.Request) {
	address := strings.TrimSpace(r.URL.Query().Get("address"))
	if address == "" {
		respondError(w, http.StatusBadRequest, "address is required")
		return
	}
	limit, offset, err := parsePage(r, s.cfg.FeedPageSize)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	transactions, err := s.store.TransactionsForAddress(r.Context(), address, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	respondTransactions(w, transactions)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	snap := s.metrics.Snapshot()

	uptime := time.Since(snap.StartTime).Seconds()
	lag := float64(0)
	if snap.LastIngested > 0 && snap.LatestBlock >= snap.LastIngested {
		lag = float64(snap.LatestBlock - snap.LastIngested)
	}

	fmt.Fprintf(w, "chainlens_uptime_seconds %.0f\n", uptime)
	fmt.Fprintf(w, "chainlens_latest_block %d\n", snap.LatestBlock)
	fmt.Fprintf(w, "chainlens_last_ingested_block %d\n", snap.LastIngested)
	fmt.Fprintf(w, "chainlens_last_block_txs %d\n", snap.LastBlockTxs)
	fmt.Fprintf(w, "chainlens_blocks_ingested_total %d\n", snap.BlocksIngested)
	fmt.Fprintf(w, "chainlens_cycles_skipped_total %d\n", snap.CyclesSkipped)
	fmt.Fprintf(w, "chainlens_cycle_errors_total %d\n", snap.CycleErrors)
	fmt.Fprintf(w, "chainlens_txs_ingested_total %d\n", snap.TxsIngested)
	fmt.Fprintf(w, "chainlens_block_lag %.0f\n", lag)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.buildInfo)
}

func parsePage(r *http.Request, defaultLimit int) (int, int, error) {
	limit, err := parseLimit(r, defaultLimit)
	if err != nil {
		return 0, 0, err
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = value
	}
	return limit, offset, nil
}

func parseLimit(r *http.Request, defaultLimit int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return 0, errors.New("invalid limit")
	}
	return value, nil
}

func parseWindow(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("window")
	if raw == "" {
		return 7, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("invalid window")
	}
	switch value {
	case 1, 7, 30:
		return value, nil
	default:
		return 0, errors.New("window must be 1, 7 or 30 days")
	}
}

func respondTransactions(w http.ResponseWriter, transactions []domain.Transaction) {
	if transactions == nil {
		transactions = []domain.Transaction{}
	}
	respondJSON(w, http.StatusOK, transactions)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
