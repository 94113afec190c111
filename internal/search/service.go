package search

import (
	"context"
	"log/slog"
	"sync"

	"persona/api/internal/persona"
)

const indexQueueSize = 256

// index is the slice of *Meili the service drives.
type index interface {
	Healthy() bool
	Search(ctx context.Context, q Query) ([]Result, int, error)
	IndexPersona(record PersonaRecord) error
	IndexPersonas(records []PersonaRecord) error
}

// Service is the facade that tries Meilisearch first and falls back to the
// backend-specific searcher. Index writes go through a single worker so a
// record never replaces a newer version of the same persona.
type Service struct {
	index    index
	fallback Searcher

	queue     chan []PersonaRecord
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	// indexed is owned by the worker.
	indexed map[string]int
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, fallback Searcher) *Service {
	if meili == nil {
		return newService(nil, fallback)
	}
	return newService(meili, fallback)
}

func newService(idx index, fallback Searcher) *Service {
	s := &Service{index: idx, fallback: fallback}
	if idx != nil {
		s.queue = make(chan []PersonaRecord, indexQueueSize)
		s.stop = make(chan struct{})
		s.done = make(chan struct{})
		s.indexed = make(map[string]int)
		go s.run()
	}
	return s
}

// Search tries Meilisearch if healthy, otherwise falls back.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.index != nil && s.index.Healthy() {
		results, total, err := s.index.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		slog.WarnContext(ctx, "Meilisearch error, falling back", "err", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		slog.ErrorContext(ctx, "Fallback search failed", "err", err)
		return Response{Results: []Result{}, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexPersona queues the current version of p for Meilisearch. It never
// blocks; the record is dropped when the queue is full.
func (s *Service) IndexPersona(p persona.Persona) {
	if s.index == nil || !s.index.Healthy() {
		return
	}
	select {
	case s.queue <- []PersonaRecord{RecordFor(p)}:
	case <-s.stop:
	default:
		slog.Warn("Index queue full, dropping persona", "name", p.Name, "version", p.Version)
	}
}

type recordLoader interface {
	LoadAllRecords(ctx context.Context) ([]PersonaRecord, error)
}

// Reindex loads every persona head from the fallback, when it can enumerate
// them, and queues them for Meilisearch.
func (s *Service) Reindex(ctx context.Context) {
	if s.index == nil || !s.index.Healthy() {
		return
	}
	loader, ok := s.fallback.(recordLoader)
	if !ok {
		return
	}
	records, err := loader.LoadAllRecords(ctx)
	if err != nil {
		slog.WarnContext(ctx, "Reindex load failed", "err", err)
		return
	}
	select {
	case s.queue <- records:
		slog.InfoContext(ctx, "Queued reindex", "count", len(records))
	case <-s.stop:
	case <-ctx.Done():
	}
}

// Close stops the worker after it has flushed what is already queued.
func (s *Service) Close() {
	if s.index == nil {
		return
	}
	s.closeOnce.Do(func() { close(s.stop) })
	<-s.done
}

func (s *Service) run() {
	defer close(s.done)
	for {
		select {
		case batch := <-s.queue:
			s.apply(batch)
		case <-s.stop:
			for {
				select {
				case batch := <-s.queue:
					s.apply(batch)
				default:
					return
				}
			}
		}
	}
}

func (s *Service) apply(batch []PersonaRecord) {
	fresh := make([]PersonaRecord, 0, len(batch))
	for _, record := range batch {
		if record.Version > s.indexed[record.ID] {
			fresh = append(fresh, record)
		}
	}
	if len(fresh) == 0 {
		return
	}

	var err error
	if len(fresh) == 1 {
		err = s.index.IndexPersona(fresh[0])
	} else {
		err = s.index.IndexPersonas(fresh)
	}
	if err != nil {
		slog.Warn("Index personas failed", "count", len(fresh), "err", err)
		return
	}
	for _, record := range fresh {
		s.indexed[record.ID] = max(s.indexed[record.ID], record.Version)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
