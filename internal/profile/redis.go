// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "blink:profile:"

// RedisStore keeps profiles as JSON values with a TTL, plus a per-user
// history list of the thresholds committed.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:       addr,
		Password:   password,
		DB:         db,
		MaxRetries: 3,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisStoreWithClient(client, ttl), nil
}

func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (r *RedisStore) Save(ctx context.Context, p Profile) error {
	if err := validUser(p.UserID); err != nil {
		return err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, keyPrefix+p.UserID, data, r.ttl)
	pipe.LPush(ctx, keyPrefix+p.UserID+":history", data)
	pipe.LTrim(ctx, keyPrefix+p.UserID+":history", 0, 49)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store profile: %w", err)
	}
	return nil
}

func (r *RedisStore) Load(ctx context.Context, userID string) (Profile, error) {
	if err := validUser(userID); err != nil {
		return Profile{}, err
	}
	data, err := r.client.Get(ctx, keyPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Profile{}, fmt.Errorf("%s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return Profile{}, fmt.Errorf("failed to load profile: %w", err)
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("failed to parse profile: %w", err)
	}
	return p, nil
}

// History returns up to n previously saved profiles, newest first.
func (r *RedisStore) History(ctx context.Context, userID string, n int64) ([]Profile, error) {
	if err := validUser(userID); err != nil {
		return nil, err
	}
	raw, err := r.client.LRange(ctx, keyPrefix+userID+":history", 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load profile history: %w", err)
	}
	out := make([]Profile, 0, len(raw))
	for _, item := range raw {
		var p Profile
		if err := json.Unmarshal([]byte(item), &p); err != nil {
			return nil, fmt.Errorf("failed to parse profile history: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *RedisStore) Close() error { return r.client.Close() }
