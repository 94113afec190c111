// Package search indexes current personas for full-text lookup.
package search

import (
	"context"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"

	"persona/api/internal/persona"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Project string `json:"project"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Version int    `json:"version"`
	Snippet string `json:"snippet"`
}

// Query describes a search request. Project and Type narrow the search to one
// partition when set.
type Query struct {
	Text    string
	Project string
	Type    string
	Limit   int
	Offset  int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
}

// PersonaRecord is the data we index for a persona head.
type PersonaRecord struct {
	ID      string `json:"id"`
	Project string `json:"project"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Version int    `json:"version"`
	Persona string `json:"persona"`
}

// RecordFor builds the index record for p. The id is a digest of the
// identity because Meilisearch ids only allow [A-Za-z0-9_-].
func RecordFor(p persona.Persona) PersonaRecord {
	sum := blake2b.Sum256([]byte(persona.PartitionKey(p.Project, p.Type) + "/" + persona.RowKey(p.Name, 0)))
	return PersonaRecord{
		ID:      hex.EncodeToString(sum[:16]),
		Project: p.Project,
		Type:    p.Type,
		Name:    p.Name,
		Version: p.Version,
		Persona: p.Persona,
	}
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}
