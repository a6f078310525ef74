// Package session keeps per-session pointers outside the relational store:
// the active organization and the demo persona.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = 8 * time.Hour

// Pointer is the value stored for each session.
type Pointer struct {
	ActiveOrgID string    `json:"active_org_id,omitempty"`
	Persona     string    `json:"persona,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RedisStore implements session pointer storage using Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore parses redisURL, connects and pings.
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client, ttl), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{client: client, prefix: "lexflow:session:", ttl: ttl}
}

func (s *RedisStore) key(sessionID string) string {
	return s.prefix + sessionID
}

// Load returns the pointer for sessionID. A missing key yields a zero Pointer.
func (s *RedisStore) Load(ctx context.Context, sessionID string) (Pointer, error) {
	if strings.TrimSpace(sessionID) == "" {
		return Pointer{}, nil
	}
	raw, err := s.client.Get(ctx, s.key(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return Pointer{}, nil
	}
	if err != nil {
		return Pointer{}, fmt.Errorf("load session: %w", err)
	}
	var p Pointer
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Pointer{}, fmt.Errorf("decode session: %w", err)
	}
	// sliding expiry
	if err := s.client.Expire(ctx, s.key(sessionID), s.ttl).Err(); err != nil {
		return Pointer{}, fmt.Errorf("refresh session ttl: %w", err)
	}
	return p, nil
}

func (s *RedisStore) save(ctx context.Context, sessionID string, p Pointer) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("session id is required")
	}
	p.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, s.key(sessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// ActiveOrg returns the active organization pointer, empty when unset.
func (s *RedisStore) ActiveOrg(ctx context.Context, sessionID string) (string, error) {
	p, err := s.Load(ctx, sessionID)
	return p.ActiveOrgID, err
}

// SetActiveOrg points the session at orgID. Switching tenants drops any
// demo persona.
func (s *RedisStore) SetActiveOrg(ctx context.Context, sessionID, orgID string) error {
	p, err := s.Load(ctx, sessionID)
	if err != nil {
		return err
	}
	if p.ActiveOrgID != orgID {
		p.Persona = ""
	}
	p.ActiveOrgID = orgID
	return s.save(ctx, sessionID, p)
}

// Persona returns the demo persona, empty when unset.
func (s *RedisStore) Persona(ctx context.Context, sessionID string) (string, error) {
	p, err := s.Load(ctx, sessionID)
	return p.Persona, err
}

// SetPersona stores the demo persona; an empty persona clears it.
func (s *RedisStore) SetPersona(ctx context.Context, sessionID, persona string) error {
	p, err := s.Load(ctx, sessionID)
	if err != nil {
		return err
	}
	p.Persona = persona
	return s.save(ctx, sessionID, p)
}

// Forget deletes every pointer for sessionID.
func (s *RedisStore) Forget(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("forget session: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
