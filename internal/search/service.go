package search

import (
	"context"
	"log/slog"
	"sync"

	"ethos/api/internal/governance"
	"ethos/api/internal/store"
)

// Backend is a searchable ledger index.
type Backend interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
	IndexEntries(records []EntryRecord) error
}

// Fallback answers queries from the database.
type Fallback interface {
	SearchEntries(ctx context.Context, text string, limit int) ([]store.SearchHit, int, error)
	ListEntries(ctx context.Context) ([]store.LedgerEntry, error)
}

// Service is the facade that tries Meilisearch first and falls back to the
// database.
type Service struct {
	backend  Backend
	fallback Fallback
	logger   *slog.Logger

	mu      sync.Mutex
	started bool
	closed  bool
	queue   chan EntryRecord
	done    chan struct{}
}

const indexQueueSize = 256

// NewService creates a search service. backend may be nil if Meilisearch is
// not configured.
func NewService(backend Backend, fallback Fallback, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		backend:  backend,
		fallback: fallback,
		logger:   logger,
		queue:    make(chan EntryRecord, indexQueueSize),
		done:     make(chan struct{}),
	}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	q.Limit = normalizeLimit(q.Limit)
	if s.backend != nil && s.backend.Healthy() {
		results, total, err := s.backend.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("meilisearch error, falling back to database", "error", err)
	}

	hits, total, err := s.fallback.SearchEntries(ctx, q.Text, q.Limit)
	if err != nil {
		s.logger.Error("database search failed", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		results = append(results, Result{
			ID:                hit.EntryID,
			ChangeDescription: hit.ChangeDescription,
			Snippet:           hit.Snippet,
			Reversed:          hit.Reversed,
		})
	}
	return Response{Results: results, Total: total, Query: q.Text}
}

// Observe queues the entry behind a governance event for indexing. A single
// worker drains the queue so the index applies events in commit order. When
// the queue is full the event is dropped; the next ReindexAll repairs it.
func (s *Service) Observe(ctx context.Context, event governance.Event) {
	if s.backend == nil || !s.backend.Healthy() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if !s.started {
		s.started = true
		go s.indexLoop()
	}
	select {
	case s.queue <- RecordFromEntry(event.Entry):
	default:
		s.logger.WarnContext(ctx, "search index queue full, dropping event", "entry_id", event.Entry.ID)
	}
}

func (s *Service) indexLoop() {
	defer close(s.done)
	for record := range s.queue {
		if err := s.backend.IndexEntries([]EntryRecord{record}); err != nil {
			s.logger.Warn("index ledger entry", "entry_id", record.ID, "error", err)
		}
	}
}

// Close stops accepting events and waits for queued ones to be indexed.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	started := s.started
	s.mu.Unlock()

	if started {
		<-s.done
	}
}

// ReindexAll pushes the whole ledger into the index. Called at startup.
func (s *Service) ReindexAll(ctx context.Context) {
	if s.backend == nil || !s.backend.Healthy() {
		return
	}
	entries, err := s.fallback.ListEntries(ctx)
	if err != nil {
		s.logger.Warn("reindex load failed", "error", err)
		return
	}
	records := make([]EntryRecord, 0, len(entries))
	for _, entry := range entries {
		records = append(records, RecordFromEntry(entry))
	}
	if err := s.backend.IndexEntries(records); err != nil {
		s.logger.Warn("reindex ledger", "error", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
