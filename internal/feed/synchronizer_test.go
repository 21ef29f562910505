package feed

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"chainlens/internal/domain"
)

type fakeSource struct {
	mu    sync.Mutex
	pages map[string][]domain.Transaction
	err   error

	// One-shot gate for the next fetch in gateMode; started is closed
	// once that fetch is in flight.
	gateMode string
	gate     chan struct{}
	started  chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{pages: make(map[string][]domain.Transaction)}
}

func pageKey(mode Mode, offset int) string {
	return mode.String() + "@" + strconv.Itoa(offset)
}

func (f *fakeSource) setPage(mode Mode, offset int, page []domain.Transaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[pageKey(mode, offset)] = page
}

func (f *fakeSource) gateNextFetch(mode Mode) (gate, started chan struct{}) {
	gate = make(chan struct{})
	started = make(chan struct{})
	f.mu.Lock()
	f.gateMode = mode.String()
	f.gate = gate
	f.started = started
	f.mu.Unlock()
	return gate, started
}

func (f *fakeSource) FetchPage(ctx context.Context, mode Mode, limit, offset int) ([]domain.Transaction, error) {
	f.mu.Lock()
	var gate, started chan struct{}
	if f.gate != nil && mode.String() == f.gateMode {
		gate, started = f.gate, f.started
		f.gate, f.started = nil, nil
	}
	err := f.err
	page := f.pages[pageKey(mode, offset)]
	f.mu.Unlock()

	if started != nil {
		close(started)
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return page, nil
}

func tx(hash string) domain.Transaction {
	return domain.Transaction{Hash: hash, From: "0xaaaa", Status: domain.StatusSuccess}
}

func hashes(transactions []domain.Transaction) []string {
	result := make([]string, len(transactions))
	for i, record := range transactions {
		result[i] = record.Hash
	}
	return result
}

func assertHashes(t *testing.T, got []domain.Transaction, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, hashes(got))
	}
	for i, hash := range want {
		if got[i].Hash != hash {
			t.Fatalf("expected %v, got %v", want, hashes(got))
		}
	}
}

func TestLoadMoreDeduplicatesOverlappingPages(t *testing.T) {
	source := newFakeSource()
	source.setPage(Latest(), 0, []domain.Transaction{tx("a"), tx("b"), tx("c")})
	source.setPage(Latest(), 3, []domain.Transaction{tx("b"), tx("c"), tx("d")})

	syncer, err := NewSynchronizer(source, 3)
	if err != nil {
		t.Fatalf("new synchronizer: %v", err)
	}
	ctx := context.Background()

	if err := syncer.SetMode(ctx, Latest()); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	assertHashes(t, syncer.Transactions(), "a", "b", "c")

	// Rows shifted between page fetches; the overlap must not duplicate.
	if err := syncer.LoadMore(ctx); err != nil {
		t.Fatalf("load more: %v", err)
	}
	assertHashes(t, syncer.Transactions(), "a", "b", "c", "d")
}

func TestHasMoreTracksPageFullness(t *testing.T) {
	source := newFakeSource()
	source.setPage(Latest(), 0, []domain.Transaction{tx("a"), tx("b")})
	source.setPage(Latest(), 2, []domain.Transaction{tx("c")})

	syncer, err := NewSynchronizer(source, 2)
	if err != nil {
		t.Fatalf("new synchronizer: %v", err)
	}
	ctx := context.Background()

	if err := syncer.SetMode(ctx, Latest()); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	if !syncer.HasMore() {
		t.Fatal("expected more pages after a full page")
	}
	if err := syncer.LoadMore(ctx); err != nil {
		t.Fatalf("load more: %v", err)
	}
	if syncer.HasMore() {
		t.Fatal("expected no more pages after a short page")
	}
}

func TestModeSwitchResetsView(t *testing.T) {
	source := newFakeSource()
	source.setPage(Latest(), 0, []domain.Transaction{tx("a"), tx("b")})
	source.setPage(Search("0xdead"), 0, []domain.Transaction{tx("x")})

	syncer, err := NewSynchronizer(source, 2)
	if err != nil {
		t.Fatalf("new synchronizer: %v", err)
	}
	ctx := context.Background()

	if err := syncer.SetMode(ctx, Latest()); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	if err := syncer.SetMode(ctx, Search("0xdead")); err != nil {
		t.Fatalf("switch mode: %v", err)
	}
	assertHashes(t, syncer.Transactions(), "x")
	if mode := syncer.Mode(); mode.String() != "search(0xdead)" {
		t.Fatalf("unexpected mode %q", mode)
	}
}

func TestStaleResponseDiscarded(t *testing.T) {
	source := newFakeSource()
	source.setPage(Latest(), 0, []domain.Transaction{tx("stale1"), tx("stale2")})
	source.setPage(Filter(domain.CategoryFailed), 0, []domain.Transaction{tx("fresh")})

	syncer, err := NewSynchronizer(source, 2)
	if err != nil {
		t.Fatalf("new synchronizer: %v", err)
	}
	ctx := context.Background()

	// Hold the latest fetch in flight while a mode switch overtakes it.
	gate, started := source.gateNextFetch(Latest())

	done := make(chan error, 1)
	go func() {
		done <- syncer.SetMode(ctx, Latest())
	}()
	<-started

	if err := syncer.SetMode(ctx, Filter(domain.CategoryFailed)); err != nil {
		t.Fatalf("switch mode: %v", err)
	}
	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("stale set mode: %v", err)
	}

	// The slow latest page must not leak into the filter view.
	assertHashes(t, syncer.Transactions(), "fresh")
}

func TestRefreshReplacesLatestView(t *testing.T) {
	source := newFakeSource()
	source.setPage(Latest(), 0, []domain.Transaction{tx("a"), tx("b")})
	source.setPage(Latest(), 2, []domain.Transaction{tx("c")})

	syncer, err := NewSynchronizer(source, 2)
	if err != nil {
		t.Fatalf("new synchronizer: %v", err)
	}
	ctx := context.Background()

	if err := syncer.SetMode(ctx, Latest()); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	if err := syncer.LoadMore(ctx); err != nil {
		t.Fatalf("load more: %v", err)
	}
	assertHashes(t, syncer.Transactions(), "a", "b", "c")

	// New blocks arrived; refresh shows only the fresh first page.
	source.setPage(Latest(), 0, []domain.Transaction{tx("new"), tx("a")})
	if err := syncer.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	assertHashes(t, syncer.Transactions(), "new", "a")
}

func TestRefreshIsNoOpOutsideLatest(t *testing.T) {
	source := newFakeSource()
	source.setPage(Search("abc"), 0, []domain.Transaction{tx("r1"), tx("r2")})

	syncer, err := NewSynchronizer(source, 2)
	if err != nil {
		t.Fatalf("new synchronizer: %v", err)
	}
	ctx := context.Background()

	if err := syncer.SetMode(ctx, Search("abc")); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	source.setPage(Search("abc"), 0, []domain.Transaction{tx("changed")})
	if err := syncer.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	assertHashes(t, syncer.Transactions(), "r1", "r2")
}

func TestFetchErrorKeepsLastGoodView(t *testing.T) {
	source := newFakeSource()
	source.setPage(Latest(), 0, []domain.Transaction{tx("a")})

	syncer, err := NewSynchronizer(source, 1)
	if err != nil {
		t.Fatalf("new synchronizer: %v", err)
	}
	ctx := context.Background()

	if err := syncer.SetMode(ctx, Latest()); err != nil {
		t.Fatalf("set mode: %v", err)
	}

	source.mu.Lock()
	source.err = errors.New("api down")
	source.mu.Unlock()

	if err := syncer.LoadMore(ctx); err == nil {
		t.Fatal("expected load more to fail")
	}
	if syncer.Err() == nil {
		t.Fatal("expected error to be recorded")
	}
	assertHashes(t, syncer.Transactions(), "a")

	// Recovery clears the recorded error.
	source.mu.Lock()
	source.err = nil
	source.mu.Unlock()
	source.setPage(Latest(), 1, []domain.Transaction{tx("b")})
	if err := syncer.LoadMore(ctx); err != nil {
		t.Fatalf("load more after recovery: %v", err)
	}
	if syncer.Err() != nil {
		t.Fatalf("expected error cleared, got %v", syncer.Err())
	}
	assertHashes(t, syncer.Transactions(), "a", "b")
}

func TestUpdatedRowKeepsPosition(t *testing.T) {
	source := newFakeSource()
	updated := tx("b")
	updated.ValueEth = "2"
	source.setPage(Latest(), 0, []domain.Transaction{tx("a"), tx("b")})
	source.setPage(Latest(), 2, []domain.Transaction{updated, tx("c")})

	syncer, err := NewSynchronizer(source, 2)
	if err != nil {
		t.Fatalf("new synchronizer: %v", err)
	}
	ctx := context.Background()

	if err := syncer.SetMode(ctx, Latest()); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	if err := syncer.LoadMore(ctx); err != nil {
		t.Fatalf("load more: %v", err)
	}

	view := syncer.Transactions()
	assertHashes(t, view, "a", "b", "c")
	if view[1].ValueEth != "2" {
		t.Fatalf("expected refreshed row content, got %q", view[1].ValueEth)
	}
}
