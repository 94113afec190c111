package table

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/redis/go-redis/v9"

	"persona/api/internal/util"
)

// Script results shared by createScript and updateScript.
const (
	scriptOK           = 1
	scriptConflict     = 0
	scriptNoTable      = -1
	scriptPrecondition = -2
)

// KEYS: registry, partition hash, etag hash
// ARGV: table, rowKey, payload, etag
var createScript = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 0 then return -1 end
if redis.call('HSETNX', KEYS[2], ARGV[2], ARGV[3]) == 0 then return 0 end
redis.call('HSET', KEYS[3], ARGV[2], ARGV[4])
return 1
`)

// KEYS: registry, partition hash, etag hash
// ARGV: table, rowKey, payload, etag, ifMatch
var updateScript = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 0 then return -1 end
if redis.call('HEXISTS', KEYS[2], ARGV[2]) == 0 then return 0 end
local current = redis.call('HGET', KEYS[3], ARGV[2])
if ARGV[5] ~= '' and ARGV[5] ~= '*' and ARGV[5] ~= current then return -2 end
redis.call('HSET', KEYS[2], ARGV[2], ARGV[3])
redis.call('HSET', KEYS[3], ARGV[2], ARGV[4])
return 1
`)

type redisRecord struct {
	Properties map[string]any `json:"properties"`
	ETag       string         `json:"etag"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Redis keeps one hash per partition, field = row key, value = JSON record.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to redisURL and verifies the connection.
func NewRedis(redisURL string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisWithClient(client), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{client: client, prefix: "tables:"}
}

func (r *Redis) registryKey() string {
	return r.prefix + "registry"
}

func (r *Redis) partitionKey(table, partitionKey string) string {
	return r.prefix + "entities:" + table + ":" + partitionKey
}

func (r *Redis) etagKey(table, partitionKey string) string {
	return r.prefix + "etags:" + table + ":" + partitionKey
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) CreateTable(ctx context.Context, table string) error {
	if err := r.client.SAdd(ctx, r.registryKey(), table).Err(); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}

func (r *Redis) GetEntity(ctx context.Context, table, partitionKey, rowKey string) (Entity, error) {
	raw, err := r.client.HGet(ctx, r.partitionKey(table, partitionKey), rowKey).Result()
	if errors.Is(err, redis.Nil) {
		return Entity{}, r.missing(ctx, table)
	}
	if err != nil {
		return Entity{}, fmt.Errorf("get entity %s/%s: %w", partitionKey, rowKey, err)
	}
	return decodeRedisRecord(partitionKey, rowKey, raw)
}

func (r *Redis) CreateEntity(ctx context.Context, table string, entity Entity) error {
	etag := util.NewID("")
	payload, err := encodeRedisRecord(entity, etag)
	if err != nil {
		return err
	}
	keys := []string{r.registryKey(), r.partitionKey(table, entity.PartitionKey), r.etagKey(table, entity.PartitionKey)}
	result, err := createScript.Run(ctx, r.client, keys, table, entity.RowKey, payload, etag).Int()
	if err != nil {
		return fmt.Errorf("create entity %s/%s: %w", entity.PartitionKey, entity.RowKey, err)
	}
	switch result {
	case scriptOK:
		return nil
	case scriptNoTable:
		return fmt.Errorf("create entity in %s: %w", table, ErrTableNotFound)
	default:
		return fmt.Errorf("create entity %s/%s: %w", entity.PartitionKey, entity.RowKey, ErrEntityExists)
	}
}

func (r *Redis) UpdateEntity(ctx context.Context, table string, entity Entity, ifMatch string) error {
	etag := util.NewID("")
	payload, err := encodeRedisRecord(entity, etag)
	if err != nil {
		return err
	}
	keys := []string{r.registryKey(), r.partitionKey(table, entity.PartitionKey), r.etagKey(table, entity.PartitionKey)}
	result, err := updateScript.Run(ctx, r.client, keys, table, entity.RowKey, payload, etag, ifMatch).Int()
	if err != nil {
		return fmt.Errorf("update entity %s/%s: %w", entity.PartitionKey, entity.RowKey, err)
	}
	switch result {
	case scriptOK:
		return nil
	case scriptNoTable:
		return fmt.Errorf("update entity in %s: %w", table, ErrTableNotFound)
	case scriptConflict:
		return fmt.Errorf("update entity %s/%s: %w", entity.PartitionKey, entity.RowKey, ErrEntityNotFound)
	case scriptPrecondition:
		return fmt.Errorf("update entity %s/%s: %w", entity.PartitionKey, entity.RowKey, ErrPreconditionFailed)
	default:
		return fmt.Errorf("update entity %s/%s: unexpected script result %d", entity.PartitionKey, entity.RowKey, result)
	}
}

// ListEntities walks the partition hash with HSCAN, so large partitions are
// never loaded in one round trip. Order is unspecified.
func (r *Redis) ListEntities(ctx context.Context, table string, filter Filter) iter.Seq2[Entity, error] {
	return func(yield func(Entity, error) bool) {
		exists, err := r.client.SIsMember(ctx, r.registryKey(), table).Result()
		if err != nil {
			yield(Entity{}, fmt.Errorf("check table %s: %w", table, err))
			return
		}
		if !exists {
			yield(Entity{}, fmt.Errorf("list %s: %w", table, ErrTableNotFound))
			return
		}

		key := r.partitionKey(table, filter.PartitionKey)
		var cursor uint64
		for {
			pairs, next, err := r.client.HScan(ctx, key, cursor, "", 100).Result()
			if err != nil {
				yield(Entity{}, fmt.Errorf("scan %s/%s: %w", table, filter.PartitionKey, err))
				return
			}
			for i := 0; i+1 < len(pairs); i += 2 {
				entity, err := decodeRedisRecord(filter.PartitionKey, pairs[i], pairs[i+1])
				if err != nil {
					yield(Entity{}, err)
					return
				}
				if !filter.matches(entity.Properties) {
					continue
				}
				if !yield(entity, nil) {
					return
				}
			}
			if next == 0 {
				return
			}
			cursor = next
		}
	}
}

func (r *Redis) missing(ctx context.Context, table string) error {
	exists, err := r.client.SIsMember(ctx, r.registryKey(), table).Result()
	if err != nil {
		return fmt.Errorf("check table %s: %w", table, err)
	}
	if !exists {
		return ErrTableNotFound
	}
	return ErrEntityNotFound
}

func encodeRedisRecord(entity Entity, etag string) (string, error) {
	payload, err := json.Marshal(redisRecord{
		Properties: nonNilProperties(entity.Properties),
		ETag:       etag,
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("encode entity %s/%s: %w", entity.PartitionKey, entity.RowKey, err)
	}
	return string(payload), nil
}

func decodeRedisRecord(partitionKey, rowKey, raw string) (Entity, error) {
	var record redisRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return Entity{}, fmt.Errorf("decode entity %s/%s: %w", partitionKey, rowKey, err)
	}
	return Entity{
		PartitionKey: partitionKey,
		RowKey:       rowKey,
		Properties:   record.Properties,
		ETag:         record.ETag,
		Timestamp:    record.Timestamp,
	}, nil
}
