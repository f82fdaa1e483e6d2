package lockout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps lockout state in Redis as one JSON value per owner under keyPrefix.
// Values carry no TTL; the Tracker clears expired lockouts on read.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore returns a store using client. An empty keyPrefix stores values under the bare owner id.
func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

// OpenRedis parses url (redis://...) and pings the server.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// Get returns the state for ownerID, or the zero State when none is stored.
func (s *RedisStore) Get(ctx context.Context, ownerID string) (State, error) {
	if ownerID == "" {
		return State{}, errors.New("owner id is required")
	}
	raw, err := s.client.Get(ctx, s.key(ownerID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("redis get: %w", err)
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{}, fmt.Errorf("decode lockout state: %w", err)
	}
	return st, nil
}

// Save writes st for ownerID.
func (s *RedisStore) Save(ctx context.Context, ownerID string, st State) error {
	if ownerID == "" {
		return errors.New("owner id is required")
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode lockout state: %w", err)
	}
	if err := s.client.Set(ctx, s.key(ownerID), raw, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes the state for ownerID.
func (s *RedisStore) Delete(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		return errors.New("owner id is required")
	}
	if err := s.client.Del(ctx, s.key(ownerID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (s *RedisStore) key(ownerID string) string {
	if s.keyPrefix == "" {
		return ownerID
	}
	return fmt.Sprintf("%s:%s", s.keyPrefix, ownerID)
}

var _ Store = (*RedisStore)(nil)
