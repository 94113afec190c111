package table

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"persona/api/internal/util"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Postgres stores entities in a single jsonb-backed table keyed by
// (table_name, partition_key, row_key).
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Postgres) CreateTable(ctx context.Context, table string) error {
	if _, err := p.db.ExecContext(ctx, `
		INSERT INTO entity_tables (name) VALUES ($1)
		ON CONFLICT (name) DO NOTHING
	`, table); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}

func (p *Postgres) GetEntity(ctx context.Context, table, partitionKey, rowKey string) (Entity, error) {
	var (
		raw    []byte
		entity = Entity{PartitionKey: partitionKey, RowKey: rowKey}
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT properties, etag, updated_at
		FROM table_entities
		WHERE table_name=$1 AND partition_key=$2 AND row_key=$3
	`, table, partitionKey, rowKey).Scan(&raw, &entity.ETag, &entity.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return Entity{}, p.missing(ctx, table)
	}
	if err != nil {
		return Entity{}, fmt.Errorf("get entity %s/%s: %w", partitionKey, rowKey, err)
	}
	if err := json.Unmarshal(raw, &entity.Properties); err != nil {
		return Entity{}, fmt.Errorf("decode entity %s/%s: %w", partitionKey, rowKey, err)
	}
	return entity, nil
}

func (p *Postgres) CreateEntity(ctx context.Context, table string, entity Entity) error {
	payload, err := json.Marshal(nonNilProperties(entity.Properties))
	if err != nil {
		return fmt.Errorf("encode entity %s/%s: %w", entity.PartitionKey, entity.RowKey, err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO table_entities (table_name, partition_key, row_key, properties, etag)
		VALUES ($1, $2, $3, $4::jsonb, $5)
	`, table, entity.PartitionKey, entity.RowKey, string(payload), util.NewID(""))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgUniqueViolation:
				return fmt.Errorf("create entity %s/%s: %w", entity.PartitionKey, entity.RowKey, ErrEntityExists)
			case pgForeignKeyViolation:
				return fmt.Errorf("create entity in %s: %w", table, ErrTableNotFound)
			}
		}
		return fmt.Errorf("create entity %s/%s: %w", entity.PartitionKey, entity.RowKey, err)
	}
	return nil
}

func (p *Postgres) UpdateEntity(ctx context.Context, table string, entity Entity, ifMatch string) error {
	payload, err := json.Marshal(nonNilProperties(entity.Properties))
	if err != nil {
		return fmt.Errorf("encode entity %s/%s: %w", entity.PartitionKey, entity.RowKey, err)
	}
	result, err := p.db.ExecContext(ctx, `
		UPDATE table_entities
		SET properties=$4::jsonb, etag=$5, updated_at=NOW()
		WHERE table_name=$1 AND partition_key=$2 AND row_key=$3
			AND ($6 = '' OR $6 = '*' OR etag = $6)
	`, table, entity.PartitionKey, entity.RowKey, string(payload), util.NewID(""), ifMatch)
	if err != nil {
		return fmt.Errorf("update entity %s/%s: %w", entity.PartitionKey, entity.RowKey, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update entity %s/%s: %w", entity.PartitionKey, entity.RowKey, err)
	}
	if affected > 0 {
		return nil
	}

	// Nothing matched: either the row is gone or the etag moved on.
	var current string
	err = p.db.QueryRowContext(ctx, `
		SELECT etag FROM table_entities
		WHERE table_name=$1 AND partition_key=$2 AND row_key=$3
	`, table, entity.PartitionKey, entity.RowKey).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return p.missing(ctx, table)
	}
	if err != nil {
		return fmt.Errorf("update entity %s/%s: %w", entity.PartitionKey, entity.RowKey, err)
	}
	return fmt.Errorf("update entity %s/%s: %w", entity.PartitionKey, entity.RowKey, ErrPreconditionFailed)
}

func (p *Postgres) ListEntities(ctx context.Context, table string, filter Filter) iter.Seq2[Entity, error] {
	return func(yield func(Entity, error) bool) {
		exists, err := p.tableExists(ctx, table)
		if err != nil {
			yield(Entity{}, err)
			return
		}
		if !exists {
			yield(Entity{}, fmt.Errorf("list %s: %w", table, ErrTableNotFound))
			return
		}

		containment, err := json.Marshal(filterContainment(filter))
		if err != nil {
			yield(Entity{}, fmt.Errorf("encode filter: %w", err))
			return
		}
		rows, err := p.db.QueryContext(ctx, `
			SELECT row_key, properties, etag, updated_at
			FROM table_entities
			WHERE table_name=$1 AND partition_key=$2 AND properties @> $3::jsonb
			ORDER BY row_key
		`, table, filter.PartitionKey, string(containment))
		if err != nil {
			yield(Entity{}, fmt.Errorf("list %s/%s: %w", table, filter.PartitionKey, err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				raw       []byte
				rowKey    string
				etag      string
				updatedAt time.Time
			)
			if err := rows.Scan(&rowKey, &raw, &etag, &updatedAt); err != nil {
				yield(Entity{}, fmt.Errorf("scan entity: %w", err))
				return
			}
			entity := Entity{PartitionKey: filter.PartitionKey, RowKey: rowKey, ETag: etag, Timestamp: updatedAt}
			if err := json.Unmarshal(raw, &entity.Properties); err != nil {
				yield(Entity{}, fmt.Errorf("decode entity %s/%s: %w", filter.PartitionKey, rowKey, err))
				return
			}
			if !yield(entity, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(Entity{}, fmt.Errorf("iterate %s/%s: %w", table, filter.PartitionKey, err))
		}
	}
}

func (p *Postgres) tableExists(ctx context.Context, table string) (bool, error) {
	var exists bool
	if err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM entity_tables WHERE name=$1)`, table).Scan(&exists); err != nil {
		return false, fmt.Errorf("check table %s: %w", table, err)
	}
	return exists, nil
}

// missing resolves a zero-row result into the more specific of the two
// not-found errors.
func (p *Postgres) missing(ctx context.Context, table string) error {
	exists, err := p.tableExists(ctx, table)
	if err != nil {
		return err
	}
	if !exists {
		return ErrTableNotFound
	}
	return ErrEntityNotFound
}

func filterContainment(filter Filter) map[string]string {
	if filter.Equals == nil {
		return map[string]string{}
	}
	return filter.Equals
}

func nonNilProperties(props map[string]any) map[string]any {
	if props == nil {
		return map[string]any{}
	}
	return props
}
