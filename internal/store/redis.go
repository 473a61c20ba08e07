package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/courier-track/internal/domain"
)

const (
	agentKeyPrefix = "agents:"
	agentIndexKey  = "agents:index"
	changeChannel  = "agents:changes"

	patchRetries = 5
)

// RedisStore is the Redis-backed record store. Records are JSON values
// keyed per agent, with a set index for roster listing and a pub/sub
// channel carrying change notifications.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, logger *zap.Logger) *RedisStore {
	return &RedisStore{client: client, logger: logger}
}

func agentKey(id string) string {
	return agentKeyPrefix + id
}

// Get fetches a single agent record.
func (s *RedisStore) Get(ctx context.Context, id string) (*domain.Agent, error) {
	data, err := s.client.Get(ctx, agentKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent %s: %w", id, err)
	}
	var agent domain.Agent
	if err := json.Unmarshal(data, &agent); err != nil {
		return nil, fmt.Errorf("decode agent %s: %w", id, err)
	}
	return &agent, nil
}

// List returns the full roster keyed by agent id. Records deleted
// between the index read and the value read are skipped.
func (s *RedisStore) List(ctx context.Context) (map[string]domain.Agent, error) {
	ids, err := s.client.SMembers(ctx, agentIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list agent index: %w", err)
	}
	agents := make(map[string]domain.Agent, len(ids))
	for _, id := range ids {
		agent, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		agents[id] = *agent
	}
	return agents, nil
}

// Create mints a generated record id. No write happens until Write.
func (s *RedisStore) Create(ctx context.Context) (string, error) {
	return uuid.NewString(), nil
}

// Write stores the full record and indexes it.
func (s *RedisStore) Write(ctx context.Context, agent *domain.Agent) error {
	data, err := json.Marshal(agent)
	if err != nil {
		return fmt.Errorf("encode agent %s: %w", agent.ID, err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, agentKey(agent.ID), data, 0)
		pipe.SAdd(ctx, agentIndexKey, agent.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("write agent %s: %w", agent.ID, err)
	}
	s.notify(ctx, agent.ID)
	return nil
}

// Patch applies a partial update with optimistic concurrency. A concurrent
// writer invalidates the transaction and the read-merge-write is retried.
func (s *RedisStore) Patch(ctx context.Context, id string, patch Patch) error {
	key := agentKey(id)

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var agent domain.Agent
		if err := json.Unmarshal(data, &agent); err != nil {
			return err
		}
		applyPatch(&agent, patch)
		merged, err := json.Marshal(&agent)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, merged, 0)
			return nil
		})
		return err
	}

	for i := 0; i < patchRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		if err == nil {
			s.notify(ctx, id)
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("patch agent %s: %w", id, err)
	}
	return fmt.Errorf("patch agent %s: too many concurrent writers", id)
}

// Delete removes the record and its index entry.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, agentKey(id))
		pipe.SRem(ctx, agentIndexKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete agent %s: %w", id, err)
	}
	s.notify(ctx, id)
	return nil
}

// Subscribe delivers a callback for every roster mutation until the
// context ends or the subscription is closed.
func (s *RedisStore) Subscribe(ctx context.Context, onChange func(agentID string), onErr func(error)) (Subscription, error) {
	pubsub := s.client.Subscribe(ctx, changeChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe to roster changes: %w", err)
	}

	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					if ctx.Err() == nil && onErr != nil {
						onErr(errors.New("roster change feed closed"))
					}
					return
				}
				onChange(msg.Payload)
			}
		}
	}()

	return pubsub, nil
}

func (s *RedisStore) notify(ctx context.Context, id string) {
	if err := s.client.Publish(ctx, changeChannel, id).Err(); err != nil {
		s.logger.Warn("publish roster change", zap.String("agent_id", id), zap.Error(err))
	}
}
