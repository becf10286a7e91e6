// Package store provides storage backends for the reply engine.
//
// This file implements a Redis-backed StateStore. It covers only the state
// blob; deployments that want a durable reply log pair it with a SQL store.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Compile-time check that RedisStateStore implements StateStore.
var _ StateStore = (*RedisStateStore)(nil)

const redisStateKeyPrefix = "replyengine:state:"

// RedisStateStore keeps conversation state blobs in Redis hashes with a
// version field for optimistic concurrency.
type RedisStateStore struct {
	client *redis.Client
}

// NewRedisStateStore creates a Redis-backed state store and verifies the
// connection with a ping.
func NewRedisStateStore(opts ...Option) (*RedisStateStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewRedisStateStore invoked", "addr_set", cfg.RedisAddr != "", "db", cfg.RedisDB)

	if cfg.RedisAddr == "" {
		slog.Error("RedisStateStore address not set")
		return nil, fmt.Errorf("redis address not set")
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	if err := client.Ping(context.Background()).Err(); err != nil {
		slog.Error("Redis ping failed", "error", err, "addr", cfg.RedisAddr)
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisStateStore{client: client}, nil
}

// Close releases the underlying client.
func (s *RedisStateStore) Close() error {
	return s.client.Close()
}

func stateKey(conversationID int64) string {
	return redisStateKeyPrefix + strconv.FormatInt(conversationID, 10)
}

func (s *RedisStateStore) LoadState(ctx context.Context, conversationID int64) ([]byte, int64, error) {
	vals, err := s.client.HGetAll(ctx, stateKey(conversationID)).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("redis load state for conversation %d failed: %w", conversationID, err)
	}
	if len(vals) == 0 {
		return nil, 0, nil
	}
	version, err := strconv.ParseInt(vals["version"], 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("redis state for conversation %d has malformed version %q: %w", conversationID, vals["version"], err)
	}
	return []byte(vals["blob"]), version, nil
}

func (s *RedisStateStore) SaveState(ctx context.Context, conversationID int64, blob []byte, expectedVersion int64) (int64, error) {
	key := stateKey(conversationID)
	next := expectedVersion + 1

	// WATCH/MULTI gives the same compare-and-swap the SQL backends get from
	// a conditional UPDATE.
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, "version").Result()
		switch {
		case err == redis.Nil:
			if expectedVersion != 0 {
				return ErrVersionConflict
			}
		case err != nil:
			return err
		default:
			v, parseErr := strconv.ParseInt(current, 10, 64)
			if parseErr != nil {
				return fmt.Errorf("malformed version %q: %w", current, parseErr)
			}
			if v != expectedVersion {
				return ErrVersionConflict
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "blob", string(blob), "version", strconv.FormatInt(next, 10))
			return nil
		})
		return err
	}, key)
	if err == redis.TxFailedErr {
		// Another writer touched the key between WATCH and EXEC.
		return 0, ErrVersionConflict
	}
	if err != nil {
		if err == ErrVersionConflict {
			return 0, err
		}
		return 0, fmt.Errorf("redis save state for conversation %d failed: %w", conversationID, err)
	}
	return next, nil
}

func (s *RedisStateStore) ResetState(ctx context.Context, conversationID int64) error {
	if err := s.client.Del(ctx, stateKey(conversationID)).Err(); err != nil {
		return fmt.Errorf("redis reset state for conversation %d failed: %w", conversationID, err)
	}
	return nil
}
