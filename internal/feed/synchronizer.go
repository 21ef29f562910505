package feed

import (
	"context"
	"errors"
	"sync"

	"chainlens/internal/domain"
)

// Source serves one page of the feed for a given mode.
type Source interface {
	FetchPage(ctx context.Context, mode Mode, limit, offset int) ([]domain.Transaction, error)
}

// Synchronizer maintains a client-side view of the transaction feed. Pages
// accumulate through LoadMore with hash-level dedup, Refresh replaces the
// view with the freshest page, and switching modes resets everything.
// Responses that arrive after a newer operation started are discarded, so
// a slow page can never clobber the state of a later mode.
type Synchronizer struct {
	source   Source
	pageSize int

	mu      sync.Mutex
	seq     uint64
	mode    Mode
	items   []domain.Transaction
	seen    map[string]int
	pages   int
	hasMore bool
	lastErr error
}

func NewSynchronizer(source Source, pageSize int) (*Synchronizer, error) {
	if source == nil {
		return nil, errors.New("feed source is required")
	}
	if pageSize <= 0 {
		pageSize = 10
	}
	return &Synchronizer{
		source:   source,
		pageSize: pageSize,
		mode:     Latest(),
		seen:     make(map[string]int),
	}, nil
}

// SetMode switches the view and loads its first page. The previous items
// are dropped immediately; the fetch happens outside the lock.
func (s *Synchronizer) SetMode(ctx context.Context, mode Mode) error {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mode = mode
	s.items = nil
	s.seen = make(map[string]int)
	s.pages = 0
	s.hasMore = false
	s.lastErr = nil
	s.mu.Unlock()

	return s.fetch(ctx, seq, mode, 0, false)
}

// LoadMore appends the next page to the view.
func (s *Synchronizer) LoadMore(ctx context.Context) error {
	s.mu.Lock()
	seq := s.seq
	mode := s.mode
	offset := s.pages * s.pageSize
	s.mu.Unlock()

	return s.fetch(ctx, seq, mode, offset, false)
}

// Refresh re-reads the first page and replaces the whole view with it.
// Only the latest feed is live; in search and filter modes Refresh is a
// no-op so accumulated results stay put.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	s.mu.Lock()
	seq := s.seq
	mode := s.mode
	s.mu.Unlock()

	if !mode.IsLatest() {
		return nil
	}
	return s.fetch(ctx, seq, mode, 0, true)
}

func (s *Synchronizer) fetch(ctx context.Context, seq uint64, mode Mode, offset int, replace bool) error {
	page, err := s.source.FetchPage(ctx, mode, s.pageSize, offset)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq != seq {
		// A newer SetMode won the race; this response is stale.
		return nil
	}
	if err != nil {
		// The last good view stays visible alongside the error.
		s.lastErr = err
		return err
	}
	s.lastErr = nil
	if replace {
		s.items = nil
		s.seen = make(map[string]int)
		s.pages = 0
	}
	s.merge(page)
	s.pages++
	s.hasMore = len(page) == s.pageSize
	return nil
}

// merge appends new transactions and refreshes known ones in place, so a
// hash seen on an earlier page keeps its position.
func (s *Synchronizer) merge(page []domain.Transaction) {
	for _, record := range page {
		if index, ok := s.seen[record.Hash]; ok {
			s.items[index] = record
			continue
		}
		s.seen[record.Hash] = len(s.items)
		s.items = append(s.items, record)
	}
}

// Transactions returns a copy of the current view.
func (s *Synchronizer) Transactions() []domain.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]domain.Transaction, len(s.items))
	copy(items, s.items)
	return items
}

// HasMore reports whether the last fetched page was full, meaning another
// LoadMore is likely to yield results.
func (s *Synchronizer) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

func (s *Synchronizer) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Err reports the outcome of the most recent fetch.
func (s *Synchronizer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}
