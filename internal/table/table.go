// Package table provides a partition/row keyed entity store with PostgreSQL
// and Redis backends.
package table

import (
	"context"
	"errors"
	"iter"
	"time"
)

var (
	ErrTableNotFound      = errors.New("table not found")
	ErrEntityNotFound     = errors.New("entity not found")
	ErrEntityExists       = errors.New("entity already exists")
	ErrPreconditionFailed = errors.New("entity etag mismatch")
)

// Entity is a single row addressed by (PartitionKey, RowKey).
type Entity struct {
	PartitionKey string
	RowKey       string
	Properties   map[string]any
	ETag         string
	Timestamp    time.Time
}

// Filter selects entities of one partition. Equals matches string properties
// exactly; an empty Equals selects every row of the partition.
type Filter struct {
	PartitionKey string
	Equals       map[string]string
}

// Client is the table store contract consumed by the persona store.
type Client interface {
	CreateTable(ctx context.Context, table string) error
	GetEntity(ctx context.Context, table, partitionKey, rowKey string) (Entity, error)
	CreateEntity(ctx context.Context, table string, entity Entity) error
	// UpdateEntity replaces the properties of an existing entity. An empty or
	// "*" ifMatch skips the etag check.
	UpdateEntity(ctx context.Context, table string, entity Entity, ifMatch string) error
	ListEntities(ctx context.Context, table string, filter Filter) iter.Seq2[Entity, error]
	Ping(ctx context.Context) error
}

func (f Filter) matches(props map[string]any) bool {
	for key, want := range f.Equals {
		got, ok := props[key].(string)
		if !ok || got != want {
			return false
		}
	}
	return true
}

func etagMatches(ifMatch, current string) bool {
	return ifMatch == "" || ifMatch == "*" || ifMatch == current
}
