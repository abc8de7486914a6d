package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/songzhibin97/workflow-fsm/types"
)

const (
	// DefaultRedisPrefix namespaces every key written by RedisStorage.
	DefaultRedisPrefix = "wffsm:"

	definitionSegment = "definition:"
	instanceSegment   = "instance:"
	definitionIndex   = "index:definitions"
	instanceIndex     = "index:instances"
)

// RedisStorage is a Redis-backed implementation of the Storage interface.
// Each record is a JSON string; ids are tracked in per-kind index sets for listing.
type RedisStorage struct {
	client *redis.Client
	prefix string
}

// RedisOptions extends redis.Options with additional configuration.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	IdleTimeout  time.Duration
	Prefix       string
}

// NewRedisStorage creates a new RedisStorage instance with configurable options.
func NewRedisStorage(opts RedisOptions) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		IdleTimeout:  opts.IdleTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStorageFromClient(client, opts.Prefix), nil
}

// NewRedisStorageFromClient wraps an existing client. An empty prefix selects DefaultRedisPrefix.
func NewRedisStorageFromClient(client *redis.Client, prefix string) *RedisStorage {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStorage{client: client, prefix: prefix}
}

func (s *RedisStorage) definitionKey(id string) string {
	return s.prefix + definitionSegment + id
}

func (s *RedisStorage) instanceKey(id string) string {
	return s.prefix + instanceSegment + id
}

// save writes a JSON value and registers its id in the index set atomically.
func (s *RedisStorage) save(ctx context.Context, key, index, id string, value interface{}) error {
	return withContextError(ctx, func() error {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", key, err)
		}
		pipe := s.client.TxPipeline()
		pipe.Set(ctx, key, data, 0)
		pipe.SAdd(ctx, s.prefix+index, id)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to set %s in Redis: %w", key, err)
		}
		return nil
	})
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// getFromRedis retrieves and unmarshals a value from Redis.
func getFromRedis[T any](ctx context.Context, client getter, key, id string, errNotFound error) (T, error) {
	return withContext(ctx, func() (T, error) {
		var zero T
		data, err := client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return zero, fmt.Errorf("%w: id=%s", errNotFound, id)
		} else if err != nil {
			return zero, fmt.Errorf("failed to get %s from Redis: %w", key, err)
		}

		var result T
		if err := json.Unmarshal(data, &result); err != nil {
			return zero, fmt.Errorf("failed to unmarshal %s: %w", key, err)
		}
		return result, nil
	})
}

// listFromRedis loads every record registered in an index set.
func listFromRedis[T any](ctx context.Context, s *RedisStorage, index string, key func(string) string) ([]T, error) {
	return withContext(ctx, func() ([]T, error) {
		ids, err := s.client.SMembers(ctx, s.prefix+index).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read index %s: %w", index, err)
		}
		out := make([]T, 0, len(ids))
		if len(ids) == 0 {
			return out, nil
		}

		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = key(id)
		}
		values, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to load %s records: %w", index, err)
		}
		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				// indexed but deleted out of band
				continue
			}
			var item T
			if err := json.Unmarshal([]byte(raw), &item); err != nil {
				return nil, fmt.Errorf("failed to unmarshal %s: %w", keys[i], err)
			}
			out = append(out, item)
		}
		return out, nil
	})
}

// SaveDefinition saves a workflow definition to Redis.
func (s *RedisStorage) SaveDefinition(ctx context.Context, def types.WorkflowDefinition) error {
	return s.save(ctx, s.definitionKey(def.ID), definitionIndex, def.ID, def)
}

// GetDefinition retrieves a workflow definition from Redis.
func (s *RedisStorage) GetDefinition(ctx context.Context, id string) (types.WorkflowDefinition, error) {
	return getFromRedis[types.WorkflowDefinition](ctx, s.client, s.definitionKey(id), id, ErrDefinitionNotFound)
}

// ListDefinitions returns all definitions registered in the definition index.
func (s *RedisStorage) ListDefinitions(ctx context.Context) ([]types.WorkflowDefinition, error) {
	defs, err := listFromRedis[types.WorkflowDefinition](ctx, s, definitionIndex, s.definitionKey)
	if err != nil {
		return nil, err
	}
	sortDefinitions(defs)
	return defs, nil
}

// SaveInstance saves a workflow instance to Redis.
func (s *RedisStorage) SaveInstance(ctx context.Context, inst types.WorkflowInstance) error {
	return s.save(ctx, s.instanceKey(inst.ID), instanceIndex, inst.ID, inst)
}

// UpdateInstance performs a WATCH/MULTI compare-and-swap on the instance version.
func (s *RedisStorage) UpdateInstance(ctx context.Context, inst types.WorkflowInstance, expectedVersion uint64) error {
	return withContextError(ctx, func() error {
		key := s.instanceKey(inst.ID)
		data, err := json.Marshal(inst)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", key, err)
		}

		err = s.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := getFromRedis[types.WorkflowInstance](ctx, tx, key, inst.ID, ErrInstanceNotFound)
			if err != nil {
				return err
			}
			if current.Version != expectedVersion {
				return fmt.Errorf("%w: id=%s stored=%d expected=%d", ErrVersionConflict, inst.ID, current.Version, expectedVersion)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, 0)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			return fmt.Errorf("%w: id=%s modified concurrently", ErrVersionConflict, inst.ID)
		}
		return err
	})
}

// GetInstance retrieves a workflow instance from Redis.
func (s *RedisStorage) GetInstance(ctx context.Context, id string) (types.WorkflowInstance, error) {
	return getFromRedis[types.WorkflowInstance](ctx, s.client, s.instanceKey(id), id, ErrInstanceNotFound)
}

// ListInstances returns all instances registered in the instance index.
func (s *RedisStorage) ListInstances(ctx context.Context) ([]types.WorkflowInstance, error) {
	insts, err := listFromRedis[types.WorkflowInstance](ctx, s, instanceIndex, s.instanceKey)
	if err != nil {
		return nil, err
	}
	sortInstances(insts)
	return insts, nil
}

// Close closes the Redis client connection.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}
