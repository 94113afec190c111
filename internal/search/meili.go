package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxPersonas = "personas"

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the index. A failed
// initial health check leaves the client unhealthy; the background loop
// recovers it.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		slog.Warn("Meilisearch unavailable", "url", url, "err", err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxPersonas,
		PrimaryKey: "id",
	}); err != nil {
		slog.Debug("Create index failed (may already exist)", "index", idxPersonas, "err", err)
	}

	index := m.client.Index(idxPersonas)
	filterable := []interface{}{"project", "type"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		slog.Warn("Update filterable attributes failed", "index", idxPersonas, "err", err)
	}
	searchable := []string{"name", "persona"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		slog.Warn("Update searchable attributes failed", "index", idxPersonas, "err", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				slog.Info("Meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(_ context.Context, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	sr := &meili.SearchRequest{
		IndexUID:              idxPersonas,
		Query:                 q.Text,
		Limit:                 int64(normalizeLimit(q.Limit)),
		Offset:                int64(q.Offset),
		AttributesToHighlight: []string{"persona"},
		AttributesToCrop:      []string{"persona"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}
	if filters := meiliFilters(q); len(filters) > 0 {
		sr.Filter = filters
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{sr},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	var results []Result
	total := 0
	for _, res := range resp.Results {
		total += int(res.EstimatedTotalHits)
		for _, hit := range res.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

// IndexPersona adds or replaces one persona record.
func (m *Meili) IndexPersona(record PersonaRecord) error {
	_, err := m.client.Index(idxPersonas).AddDocuments([]PersonaRecord{record}, nil)
	return err
}

// IndexPersonas bulk-indexes persona records.
func (m *Meili) IndexPersonas(records []PersonaRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxPersonas).AddDocuments(records, nil)
	return err
}

func meiliFilters(q Query) []string {
	var filters []string
	if q.Project != "" {
		filters = append(filters, fmt.Sprintf("project = %q", q.Project))
	}
	if q.Type != "" {
		filters = append(filters, fmt.Sprintf("type = %q", q.Type))
	}
	return filters
}

func hitToResult(hit meili.Hit) Result {
	r := Result{
		Project: decodeString(hit, "project"),
		Type:    decodeString(hit, "type"),
		Name:    decodeString(hit, "name"),
		Version: decodeInt(hit, "version"),
	}
	r.Snippet = firstNonBlank(decodeFormattedString(hit, "persona"), decodeString(hit, "persona"))
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeInt(hit meili.Hit, key string) int {
	raw, ok := hit[key]
	if !ok {
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	return 0
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
