// Package store provides storage backends for ChatFlow.
//
// This file implements a Redis-backed StateStore. The conditional write uses
// WATCH-based optimistic transactions: the state key is watched, the version is
// compared client-side, and the transactional SET fails when any concurrent
// writer touched the key between read and write.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/ChatFlow/internal/models"
	"github.com/redis/go-redis/v9"
)

// Redis key prefixes.
const (
	redisStateKeyPrefix   = "chatflow:state:"
	redisAnswersKeyPrefix = "chatflow:answers:"
)

// RedisStore is a StateStore backed by Redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store from a redis:// DSN.
func NewRedisStore(opts ...Option) (*RedisStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewRedisStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("RedisStore DSN not set")
		return nil, fmt.Errorf("redis DSN not set")
	}

	ropts, err := redis.ParseURL(cfg.DSN)
	if err != nil {
		slog.Error("RedisStore DSN parse failed", "error", err)
		return nil, fmt.Errorf("invalid redis DSN: %w", err)
	}

	client := redis.NewClient(ropts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		slog.Error("Redis ping failed", "error", err)
		return nil, err
	}
	slog.Debug("Redis connection established", "addr", ropts.Addr)

	return &RedisStore{client: client}, nil
}

func stateKey(userID string) string   { return redisStateKeyPrefix + userID }
func answersKey(userID string) string { return redisAnswersKeyPrefix + userID }

// GetState retrieves the state for a user, or nil when absent.
func (s *RedisStore) GetState(ctx context.Context, userID string) (*models.State, error) {
	data, err := s.client.Get(ctx, stateKey(userID)).Bytes()
	if err == redis.Nil {
		slog.Debug("RedisStore GetState not found", "userID", userID)
		return nil, nil
	}
	if err != nil {
		slog.Error("RedisStore GetState failed", "error", err, "userID", userID)
		return nil, err
	}

	var st models.State
	if err := json.Unmarshal(data, &st); err != nil {
		slog.Error("RedisStore GetState unmarshal failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to decode state for %s: %w", userID, err)
	}
	slog.Debug("RedisStore GetState found", "userID", userID, "module", st.CurrentModuleID, "instruction", st.CurrentInstructionID, "version", st.Version)
	return &st, nil
}

// CompareAndSetState applies next iff the stored version equals expected.Version.
func (s *RedisStore) CompareAndSetState(ctx context.Context, expected, next models.State) (bool, error) {
	key := stateKey(next.UserID)
	applied := false

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == redis.Nil:
			if expected.Version != 0 {
				return nil // stale: row vanished since the caller's read
			}
		case err != nil:
			return err
		default:
			if expected.Version == 0 {
				return nil // insert lost the first-contact race
			}
			var cur models.State
			if err := json.Unmarshal(data, &cur); err != nil {
				return fmt.Errorf("failed to decode state for %s: %w", next.UserID, err)
			}
			if cur.Version != expected.Version {
				return nil
			}
			next.CreatedAt = cur.CreatedAt
		}

		now := time.Now()
		next.Version = expected.Version + 1
		if expected.Version == 0 {
			next.CreatedAt = now
		}
		next.UpdatedAt = now
		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to encode state for %s: %w", next.UserID, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		if err != nil {
			return err
		}
		applied = true
		return nil
	}

	err := s.client.Watch(ctx, txn, key)
	if err == redis.TxFailedErr {
		slog.Debug("RedisStore CompareAndSetState watch conflict", "userID", next.UserID)
		return false, nil
	}
	if err != nil {
		slog.Error("RedisStore CompareAndSetState failed", "error", err, "userID", next.UserID)
		return false, err
	}
	slog.Debug("RedisStore CompareAndSetState", "userID", next.UserID, "expectedVersion", expected.Version, "applied", applied)
	return applied, nil
}

// DeleteState removes a user's state.
func (s *RedisStore) DeleteState(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, stateKey(userID)).Err(); err != nil {
		slog.Error("RedisStore DeleteState failed", "error", err, "userID", userID)
		return err
	}
	slog.Debug("RedisStore DeleteState succeeded", "userID", userID)
	return nil
}

// AddAnswer appends an answer to the user's answer list.
func (s *RedisStore) AddAnswer(ctx context.Context, a models.Answer) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode answer for %s: %w", a.UserID, err)
	}
	if err := s.client.RPush(ctx, answersKey(a.UserID), payload).Err(); err != nil {
		slog.Error("RedisStore AddAnswer failed", "error", err, "userID", a.UserID, "instructionID", a.InstructionID)
		return err
	}
	slog.Debug("RedisStore AddAnswer succeeded", "userID", a.UserID, "instructionID", a.InstructionID)
	return nil
}

// ListAnswers returns a user's captured answers in insertion order.
func (s *RedisStore) ListAnswers(ctx context.Context, userID string) ([]models.Answer, error) {
	items, err := s.client.LRange(ctx, answersKey(userID), 0, -1).Result()
	if err != nil {
		slog.Error("RedisStore ListAnswers failed", "error", err, "userID", userID)
		return nil, err
	}

	var answers []models.Answer
	for _, item := range items {
		var a models.Answer
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			return nil, fmt.Errorf("failed to decode answer for %s: %w", userID, err)
		}
		answers = append(answers, a)
	}
	return answers, nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	slog.Debug("Closing Redis client")
	return s.client.Close()
}
