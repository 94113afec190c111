package table

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	client, err := NewRedis("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis table client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client, s
}

func TestNewRedisRejectsBadURL(t *testing.T) {
	if _, err := NewRedis("not a url"); err == nil {
		t.Fatal("expected error for malformed url")
	}
}

func TestRedisPing(t *testing.T) {
	client, _ := setupTestRedis(t)
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
}

func TestRedisCreateTableIsIdempotent(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := client.CreateTable(ctx, "personas"); err != nil {
			t.Fatalf("CreateTable #%d failed: %v", i+1, err)
		}
	}
}

func TestRedisOperationsRequireTable(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	if _, err := client.GetEntity(ctx, "missing", "pk", "rk"); !errors.Is(err, ErrTableNotFound) {
		t.Errorf("GetEntity: expected ErrTableNotFound, got %v", err)
	}
	err := client.CreateEntity(ctx, "missing", Entity{PartitionKey: "pk", RowKey: "rk"})
	if !errors.Is(err, ErrTableNotFound) {
		t.Errorf("CreateEntity: expected ErrTableNotFound, got %v", err)
	}
	err = client.UpdateEntity(ctx, "missing", Entity{PartitionKey: "pk", RowKey: "rk"}, "")
	if !errors.Is(err, ErrTableNotFound) {
		t.Errorf("UpdateEntity: expected ErrTableNotFound, got %v", err)
	}
	for _, err := range client.ListEntities(ctx, "missing", Filter{PartitionKey: "pk"}) {
		if !errors.Is(err, ErrTableNotFound) {
			t.Errorf("ListEntities: expected ErrTableNotFound, got %v", err)
		}
	}
}

func TestRedisCreateAndGetEntity(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()
	if err := client.CreateTable(ctx, "personas"); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}

	entity := Entity{
		PartitionKey: "proj_briefing",
		RowKey:       "analyst",
		Properties:   map[string]any{"persona": "You are an analyst", "version": 1},
	}
	if err := client.CreateEntity(ctx, "personas", entity); err != nil {
		t.Fatalf("CreateEntity failed: %v", err)
	}

	got, err := client.GetEntity(ctx, "personas", "proj_briefing", "analyst")
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	if got.Properties["persona"] != "You are an analyst" {
		t.Errorf("unexpected persona property: %v", got.Properties["persona"])
	}
	if got.Properties["version"] != float64(1) {
		t.Errorf("expected version 1, got %v (%T)", got.Properties["version"], got.Properties["version"])
	}
	if got.ETag == "" {
		t.Error("expected etag to be set")
	}
	if got.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}

	if err := client.CreateEntity(ctx, "personas", entity); !errors.Is(err, ErrEntityExists) {
		t.Fatalf("expected ErrEntityExists on duplicate create, got %v", err)
	}

	if _, err := client.GetEntity(ctx, "personas", "proj_briefing", "nobody"); !errors.Is(err, ErrEntityNotFound) {
		t.Fatalf("expected ErrEntityNotFound, got %v", err)
	}
}

func TestRedisUpdateEntity(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()
	if err := client.CreateTable(ctx, "personas"); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}

	missing := Entity{PartitionKey: "pk", RowKey: "absent", Properties: map[string]any{"a": "b"}}
	if err := client.UpdateEntity(ctx, "personas", missing, ""); !errors.Is(err, ErrEntityNotFound) {
		t.Fatalf("expected ErrEntityNotFound, got %v", err)
	}

	entity := Entity{PartitionKey: "pk", RowKey: "rk", Properties: map[string]any{"body": "one"}}
	if err := client.CreateEntity(ctx, "personas", entity); err != nil {
		t.Fatalf("CreateEntity failed: %v", err)
	}
	original, err := client.GetEntity(ctx, "personas", "pk", "rk")
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}

	entity.Properties = map[string]any{"body": "two"}
	if err := client.UpdateEntity(ctx, "personas", entity, original.ETag); err != nil {
		t.Fatalf("UpdateEntity with current etag failed: %v", err)
	}

	// The etag read before the first update is now stale.
	entity.Properties = map[string]any{"body": "three"}
	if err := client.UpdateEntity(ctx, "personas", entity, original.ETag); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed, got %v", err)
	}

	got, err := client.GetEntity(ctx, "personas", "pk", "rk")
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	if got.Properties["body"] != "two" {
		t.Errorf("expected body two, got %v", got.Properties["body"])
	}
	if got.ETag == original.ETag {
		t.Error("expected etag to change after update")
	}

	if err := client.UpdateEntity(ctx, "personas", entity, "*"); err != nil {
		t.Fatalf("UpdateEntity with wildcard failed: %v", err)
	}
}

func TestRedisListEntitiesFiltersPartitionAndProperties(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()
	if err := client.CreateTable(ctx, "personas"); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}

	for i := 0; i < 250; i++ {
		kind := "snapshot"
		if i%10 == 0 {
			kind = "head"
		}
		entity := Entity{
			PartitionKey: "proj_briefing",
			RowKey:       fmt.Sprintf("row-%03d", i),
			Properties:   map[string]any{"kind": kind},
		}
		if err := client.CreateEntity(ctx, "personas", entity); err != nil {
			t.Fatalf("CreateEntity failed: %v", err)
		}
	}
	other := Entity{PartitionKey: "proj_correspondence", RowKey: "row-000", Properties: map[string]any{"kind": "head"}}
	if err := client.CreateEntity(ctx, "personas", other); err != nil {
		t.Fatalf("CreateEntity failed: %v", err)
	}

	var all, heads []string
	for entity, err := range client.ListEntities(ctx, "personas", Filter{PartitionKey: "proj_briefing"}) {
		if err != nil {
			t.Fatalf("ListEntities failed: %v", err)
		}
		all = append(all, entity.RowKey)
	}
	filter := Filter{PartitionKey: "proj_briefing", Equals: map[string]string{"kind": "head"}}
	for entity, err := range client.ListEntities(ctx, "personas", filter) {
		if err != nil {
			t.Fatalf("ListEntities failed: %v", err)
		}
		heads = append(heads, entity.RowKey)
	}

	if len(all) != 250 {
		t.Errorf("expected 250 entities in partition, got %d", len(all))
	}
	sort.Strings(heads)
	if len(heads) != 25 || heads[0] != "row-000" || heads[24] != "row-240" {
		t.Errorf("unexpected head rows: %v", heads)
	}
}

func TestRedisListEntitiesStopsEarly(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()
	if err := client.CreateTable(ctx, "personas"); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		entity := Entity{PartitionKey: "pk", RowKey: fmt.Sprintf("rk-%d", i)}
		if err := client.CreateEntity(ctx, "personas", entity); err != nil {
			t.Fatalf("CreateEntity failed: %v", err)
		}
	}

	seen := 0
	for _, err := range client.ListEntities(ctx, "personas", Filter{PartitionKey: "pk"}) {
		if err != nil {
			t.Fatalf("ListEntities failed: %v", err)
		}
		seen++
		if seen == 2 {
			break
		}
	}
	if seen != 2 {
		t.Fatalf("expected to stop after 2 entities, saw %d", seen)
	}
}

func TestRedisConnectionLoss(t *testing.T) {
	client, s := setupTestRedis(t)
	s.Close()

	if err := client.Ping(context.Background()); err == nil {
		t.Fatal("expected ping to fail after server shutdown")
	}
	_, err := client.GetEntity(context.Background(), "personas", "pk", "rk")
	if err == nil || errors.Is(err, ErrEntityNotFound) || errors.Is(err, ErrTableNotFound) {
		t.Fatalf("expected opaque connection error, got %v", err)
	}
}
