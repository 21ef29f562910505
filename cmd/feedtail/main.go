package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chainlens/internal/config"
	"chainlens/internal/domain"
	"chainlens/internal/feed"
	"chainlens/internal/infrastructure/logging"
)

// feedtail is a terminal view over the HTTP API: it loads a page of the
// transaction feed, optionally keeps following the live feed, and prints
// every transaction it has not shown yet.
func main() {
	searchFlag := flag.String("search", "", "search by hash or address substring")
	categoryFlag := flag.String("category", "", "filter by category: token-transfer, contract-call, failed")
	pagesFlag := flag.Int("pages", 1, "number of pages to load")
	followFlag := flag.Bool("follow", false, "keep refreshing the live feed")
	apiFlag := flag.String("api", "", "api base url (overrides API_URL)")
	flag.Parse()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}
	if _, err := logging.Init(logging.Config{Level: cfg.LogLevel}); err != nil {
		slog.Error("logger init error", "err", err)
	}

	apiURL := cfg.APIURL
	if *apiFlag != "" {
		apiURL = *apiFlag
	}

	mode := feed.Latest()
	switch {
	case *searchFlag != "" && *categoryFlag != "":
		slog.Error("-search and -category are mutually exclusive")
		os.Exit(2)
	case *searchFlag != "":
		mode = feed.Search(*searchFlag)
	case *categoryFlag != "":
		category, ok := domain.ParseCategory(*categoryFlag)
		if !ok {
			slog.Error("unknown category", "category", *categoryFlag)
			os.Exit(2)
		}
		mode = feed.Filter(category)
	}
	if *followFlag && !mode.IsLatest() {
		slog.Error("-follow only applies to the live feed")
		os.Exit(2)
	}

	client, err := feed.NewClient(apiURL, nil)
	if err != nil {
		slog.Error("client error", "err", err)
		os.Exit(1)
	}
	syncer, err := feed.NewSynchronizer(client, cfg.FeedPageSize)
	if err != nil {
		slog.Error("synchronizer error", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := syncer.SetMode(ctx, mode); err != nil {
		slog.Error("feed load failed", "err", err, "mode", mode.String())
		os.Exit(1)
	}
	for page := 1; page < *pagesFlag && syncer.HasMore(); page++ {
		if err := syncer.LoadMore(ctx); err != nil {
			slog.Error("feed page load failed", "err", err, "page", page)
			os.Exit(1)
		}
	}

	shown := printNew(syncer.Transactions(), nil)

	if !*followFlag {
		return
	}

	ticker := time.NewTicker(cfg.FeedRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := syncer.Refresh(ctx); err != nil {
				slog.Warn("feed refresh failed", "err", err)
				continue
			}
			shown = printNew(syncer.Transactions(), shown)
		}
	}
}

// printNew prints transactions whose hash has not been printed before and
// returns the updated seen set.
func printNew(transactions []domain.Transaction, seen map[string]bool) map[string]bool {
	if seen == nil {
		seen = make(map[string]bool)
	}
	for _, record := range transactions {
		if seen[record.Hash] {
			continue
		}
		seen[record.Hash] = true
		to := "contract creation"
		if record.To != nil {
			to = *record.To
		}
		fmt.Printf("%s  block %-9d %s -> %s  %s ETH\n",
			record.Timestamp.Format(time.RFC3339), record.BlockNumber, record.From, to, record.ValueEth)
	}
	return seen
}
