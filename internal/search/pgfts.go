package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"persona/api/internal/persona"
)

// PgFTS implements Searcher with PostgreSQL full-text search over the head
// rows of the entity table.
type PgFTS struct {
	db    *sql.DB
	table string
}

// NewPgFTS creates a PostgreSQL FTS searcher over the given entity table.
func NewPgFTS(db *sql.DB, table string) *PgFTS {
	return &PgFTS{db: db, table: table}
}

// Search uses plainto_tsquery with ts_rank ordering and ts_headline snippets.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	const document = `to_tsvector('english', coalesce(properties->>'name', '') || ' ' || coalesce(properties->>'persona', ''))`
	const tsQuery = `plainto_tsquery('english', $1)`

	args := []any{q.Text, p.table}
	where := []string{
		"table_name = $2",
		"properties->>'kind' = 'head'",
		document + " @@ " + tsQuery,
	}
	if q.Project != "" {
		args = append(args, q.Project)
		where = append(where, fmt.Sprintf("properties->>'project' = $%d", len(args)))
	}
	if q.Type != "" {
		args = append(args, q.Type)
		where = append(where, fmt.Sprintf("properties->>'type' = $%d", len(args)))
	}
	args = append(args, normalizeLimit(q.Limit), offset)

	query := fmt.Sprintf(`
		SELECT
			coalesce(properties->>'project', ''),
			coalesce(properties->>'type', ''),
			coalesce(properties->>'name', ''),
			coalesce((properties->>'version')::int, 0),
			ts_headline('english', coalesce(properties->>'persona', ''), %s, 'MaxFragments=1,MaxWords=30'),
			COUNT(*) OVER()
		FROM table_entities
		WHERE %s
		ORDER BY ts_rank(%s, %s) DESC, properties->>'name'
		LIMIT $%d OFFSET $%d`,
		tsQuery, strings.Join(where, " AND "), document, tsQuery, len(args)-1, len(args))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var (
		results []Result
		total   int
	)
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.Project, &r.Type, &r.Name, &r.Version, &r.Snippet, &total); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("pgfts rows: %w", err)
	}
	return results, total, nil
}

// LoadAllRecords reads every persona head for a Meilisearch reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]PersonaRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT
			coalesce(properties->>'project', ''),
			coalesce(properties->>'type', ''),
			coalesce(properties->>'name', ''),
			coalesce((properties->>'version')::int, 0),
			coalesce(properties->>'persona', '')
		FROM table_entities
		WHERE table_name = $1 AND properties->>'kind' = 'head'
	`, p.table)
	if err != nil {
		return nil, fmt.Errorf("load persona heads: %w", err)
	}
	defer rows.Close()

	var records []PersonaRecord
	for rows.Next() {
		var head persona.Persona
		if err := rows.Scan(&head.Project, &head.Type, &head.Name, &head.Version, &head.Persona); err != nil {
			return nil, fmt.Errorf("scan persona head: %w", err)
		}
		records = append(records, RecordFor(head))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate persona heads: %w", err)
	}
	return records, nil
}
