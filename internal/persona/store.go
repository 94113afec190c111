package persona

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"persona/api/internal/table"
)

type Store struct {
	client table.Client
	table  string
}

func NewStore(client table.Client, tableName string) *Store {
	return &Store{client: client, table: tableName}
}

// Initialise creates the backing table if it does not exist yet.
func (s *Store) Initialise(ctx context.Context) error {
	if err := s.client.CreateTable(ctx, s.table); err != nil {
		return fmt.Errorf("initialise persona table: %w", err)
	}
	return nil
}

// Add creates version 1 of a new identity. The head row is written before
// the ":1" snapshot; the two writes are not atomic.
func (s *Store) Add(ctx context.Context, p Persona) (Persona, error) {
	if !ValidName(p.Name) {
		return Persona{}, &Error{Kind: KindInvalidName, Name: p.Name}
	}
	partitionKey := PartitionKey(p.Project, p.Type)
	headKey := RowKey(p.Name, 0)

	_, found, err := s.lookup(ctx, partitionKey, headKey)
	if err != nil {
		return Persona{}, err
	}
	if found {
		return Persona{}, &Error{Kind: KindAlreadyExists, Name: p.Name}
	}

	p.Version = 1
	head := table.Entity{PartitionKey: partitionKey, RowKey: headKey, Properties: p.properties(kindHead)}
	if err := s.client.CreateEntity(ctx, s.table, head); err != nil {
		if errors.Is(err, table.ErrEntityExists) {
			return Persona{}, &Error{Kind: KindAlreadyExists, Name: p.Name, Err: err}
		}
		return Persona{}, fmt.Errorf("create head for %s: %w", p.Name, err)
	}
	if err := s.createSnapshot(ctx, partitionKey, p); err != nil {
		return Persona{}, err
	}
	return p, nil
}

// Update appends the next version of an existing identity. The head row is
// overwritten conditionally on the etag read, so of two concurrent updates
// only one succeeds; the other gets KindConflict. Only head rows are ever
// overwritten.
func (s *Store) Update(ctx context.Context, p Persona) (Persona, error) {
	if !ValidName(p.Name) {
		return Persona{}, &Error{Kind: KindNotFound, Name: p.Name}
	}
	partitionKey := PartitionKey(p.Project, p.Type)
	headKey := RowKey(p.Name, 0)

	head, found, err := s.lookup(ctx, partitionKey, headKey)
	if err != nil {
		return Persona{}, err
	}
	if !found || head.Properties["kind"] != kindHead {
		return Persona{}, &Error{Kind: KindNotFound, Name: p.Name}
	}

	current, err := fromProperties(partitionKey, head.Properties)
	if err != nil {
		return Persona{}, fmt.Errorf("decode head for %s: %w", p.Name, err)
	}
	p.Version = current.Version + 1

	next := table.Entity{PartitionKey: partitionKey, RowKey: headKey, Properties: p.properties(kindHead)}
	if err := s.client.UpdateEntity(ctx, s.table, next, head.ETag); err != nil {
		switch {
		case errors.Is(err, table.ErrPreconditionFailed):
			return Persona{}, &Error{Kind: KindConflict, Name: p.Name, Err: err}
		case errors.Is(err, table.ErrEntityNotFound):
			return Persona{}, &Error{Kind: KindNotFound, Name: p.Name, Err: err}
		}
		return Persona{}, fmt.Errorf("update head for %s: %w", p.Name, err)
	}
	if err := s.createSnapshot(ctx, partitionKey, p); err != nil {
		return Persona{}, err
	}
	return p, nil
}

// Get reads the head row when version is 0, or the given snapshot. found is
// false when the row does not exist.
func (s *Store) Get(ctx context.Context, project, personaType, name string, version int) (p Persona, found bool, err error) {
	if !ValidName(name) {
		return Persona{}, false, nil
	}
	partitionKey := PartitionKey(project, personaType)
	entity, found, err := s.lookup(ctx, partitionKey, RowKey(name, version))
	if err != nil || !found {
		return Persona{}, false, err
	}
	wantKind := kindHead
	if version > 0 {
		wantKind = kindSnapshot
	}
	if entity.Properties["kind"] != wantKind {
		return Persona{}, false, nil
	}
	p, err = fromProperties(partitionKey, entity.Properties)
	if err != nil {
		return Persona{}, false, fmt.Errorf("decode %s/%s: %w", partitionKey, entity.RowKey, err)
	}
	return p, true, nil
}

// List returns the current version of every persona of a project/type,
// ordered by name.
func (s *Store) List(ctx context.Context, project, personaType string) ([]Persona, error) {
	filter := table.Filter{
		PartitionKey: PartitionKey(project, personaType),
		Equals:       map[string]string{"kind": kindHead},
	}
	personas, err := s.collect(ctx, filter)
	if err != nil {
		return nil, err
	}
	sort.Slice(personas, func(i, j int) bool {
		return personas[i].Name < personas[j].Name
	})
	return personas, nil
}

// Versions returns every snapshot of one identity, oldest first.
func (s *Store) Versions(ctx context.Context, project, personaType, name string) ([]Persona, error) {
	filter := table.Filter{
		PartitionKey: PartitionKey(project, personaType),
		Equals:       map[string]string{"kind": kindSnapshot, "key": NormalizeName(name)},
	}
	personas, err := s.collect(ctx, filter)
	if err != nil {
		return nil, err
	}
	sort.Slice(personas, func(i, j int) bool {
		return personas[i].Version < personas[j].Version
	})
	return personas, nil
}

// Ping checks the table store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

func (s *Store) collect(ctx context.Context, filter table.Filter) ([]Persona, error) {
	personas := []Persona{}
	for entity, err := range s.client.ListEntities(ctx, s.table, filter) {
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", filter.PartitionKey, err)
		}
		p, err := fromProperties(filter.PartitionKey, entity.Properties)
		if err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", filter.PartitionKey, entity.RowKey, err)
		}
		personas = append(personas, p)
	}
	return personas, nil
}

func (s *Store) createSnapshot(ctx context.Context, partitionKey string, p Persona) error {
	snapshot := table.Entity{
		PartitionKey: partitionKey,
		RowKey:       RowKey(p.Name, p.Version),
		Properties:   p.properties(kindSnapshot),
	}
	if err := s.client.CreateEntity(ctx, s.table, snapshot); err != nil {
		if errors.Is(err, table.ErrEntityExists) {
			return &Error{Kind: KindConflict, Name: p.Name, Err: err}
		}
		return fmt.Errorf("create snapshot %s: %w", snapshot.RowKey, err)
	}
	return nil
}

func (s *Store) lookup(ctx context.Context, partitionKey, rowKey string) (table.Entity, bool, error) {
	entity, err := s.client.GetEntity(ctx, s.table, partitionKey, rowKey)
	if errors.Is(err, table.ErrEntityNotFound) {
		return table.Entity{}, false, nil
	}
	if err != nil {
		return table.Entity{}, false, fmt.Errorf("get %s/%s: %w", partitionKey, rowKey, err)
	}
	return entity, true, nil
}
