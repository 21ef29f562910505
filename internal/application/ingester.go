package application

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"chainlens/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

// ChainSource is the node query surface the ingester polls.
type ChainSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number uint64, fullTx bool) (domain.RawBlock, error)
}

// TransactionStore is the write surface. UpsertTransactions must be safe to
// call repeatedly with overlapping data; idempotence is the store's duty via
// its hash conflict policy.
type TransactionStore interface {
	UpsertTransactions(ctx context.Context, transactions []domain.Transaction) error
	LastIngestedBlock(ctx context.Context) (uint64, bool, error)
	SetLastIngestedBlock(ctx context.Context, block uint64) error
}

// StreamPublisher mirrors stored batches onto a message stream. Optional.
type StreamPublisher interface {
	PublishTransactions(ctx context.Context, transactions []domain.Transaction) error
}

type IngestObserver interface {
	OnLatestBlock(block uint64)
	OnBlockIngested(block uint64, txCount int)
	OnCycleSkipped()
	OnCycleError()
}

type IngesterConfig struct {
	PollInterval time.Duration
	// CatchUp switches from latest-only polling to cursor-based sequential
	// ingestion: the last ingested block number is tracked in the store and
	// the gap since is fetched, capped per cycle by CatchUpMaxBlocks.
	CatchUp          bool
	CatchUpMaxBlocks uint64
}

// ErrCycleInFlight is returned when a cycle is requested while the previous
// one has not finished. The tick is dropped, never queued.
var ErrCycleInFlight = errors.New("ingest cycle already in flight")

// Ingester runs the fetch-normalize-store cycle on a fixed cadence. It is
// constructed at process start and owned by the caller; there is no
// package-level instance.
type Ingester struct {
	source    ChainSource
	store     TransactionStore
	publisher StreamPublisher
	observer  IngestObserver
	cfg       IngesterConfig
	inFlight  atomic.Bool
}

func NewIngester(source ChainSource, store TransactionStore, publisher StreamPublisher, observer IngestObserver, cfg IngesterConfig) (*Ingester, error) {
	if source == nil || store == nil {
		return nil, errors.New("ingester dependencies must not be nil")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.CatchUpMaxBlocks == 0 {
		cfg.CatchUpMaxBlocks = 10
	}
	return &Ingester{source: source, store: store, publisher: publisher, observer: observer, cfg: cfg}, nil
}

// Run ticks until ctx is cancelled. A failed cycle is logged and abandoned;
// the next tick starts clean. Ticks that pile up behind a slow cycle are
// drained so one slow poll does not trigger a burst afterwards.
func (i *Ingester) Run(ctx context.Context) error {
	ticker := time.NewTicker(i.cfg.PollInterval)
	defer ticker.Stop()

	i.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			i.tick(ctx)
			select {
			case <-ticker.C:
			default:
			}
		}
	}
}

func (i *Ingester) tick(ctx context.Context) {
	if err := i.RunCycle(ctx); err != nil {
		if errors.Is(err, ErrCycleInFlight) {
			slog.Debug("ingest tick skipped, cycle in flight")
			if i.observer != nil {
				i.observer.OnCycleSkipped()
			}
			return
		}
		if errors.Is(err, context.Canceled) {
			return
		}
		slog.Error("ingest cycle failed", "err", err)
		if i.observer != nil {
			i.observer.OnCycleError()
		}
	}
}

// RunCycle executes one fetch-normalize-store cycle. Concurrent calls are
// rejected with ErrCycleInFlight so overlapping ticks can never race on the
// store.
func (i *Ingester) RunCycle(ctx context.Context) error {
	if !i.inFlight.CompareAndSwap(false, true) {
		return ErrCycleInFlight
	}
	defer i.inFlight.Store(false)

	ctx, span := otel.Tracer("chainlens/ingest").Start(ctx, "ingest.cycle")
	defer span.End()

	err := i.cycle(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (i *Ingester) cycle(ctx context.Context) error {
	latest, err := i.source.LatestBlockNumber(ctx)
	if err != nil {
		return err
	}
	if i.observer != nil {
		i.observer.OnLatestBlock(latest)
	}

	from := latest
	if i.cfg.CatchUp {
		if last, ok, err := i.store.LastIngestedBlock(ctx); err != nil {
			return err
		} else if ok && last < latest {
			from = last + 1
			if latest-from >= i.cfg.CatchUpMaxBlocks {
				from = latest - i.cfg.CatchUpMaxBlocks + 1
			}
		}
	}

	for number := from; number <= latest; number++ {
		if err := i.ingestBlock(ctx, number); err != nil {
			return err
		}
	}

	if i.cfg.CatchUp {
		if err := i.store.SetLastIngestedBlock(ctx, latest); err != nil {
			return err
		}
	}
	return nil
}

func (i *Ingester) ingestBlock(ctx context.Context, number uint64) error {
	block, err := i.source.BlockByNumber(ctx, number, true)
	if err != nil {
		return err
	}
	records, err := NormalizeBlock(block)
	if err != nil {
		return err
	}
	if len(records) > 0 {
		if err := i.store.UpsertTransactions(ctx, records); err != nil {
			return err
		}
		if i.publisher != nil {
			// The batch is already committed; a publish failure must not
			// abort the cycle and force a re-upsert.
			if err := i.publisher.PublishTransactions(ctx, records); err != nil {
				slog.Warn("transaction stream publish failed", "err", err, "block", number)
			}
		}
	}
	if i.observer != nil {
		i.observer.OnBlockIngested(number, len(records))
	}
	slog.Info("ingested block", "block", number, "txs", len(records))
	return nil
}
