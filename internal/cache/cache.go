// Package cache provides a fail-open JSON cache backed by redis. Cache errors
// are swallowed: a stale or missing read is acceptable, a blocked write is not.
package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Store interface {
	GetJSON(ctx context.Context, key string, dest any) bool
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration)
	Delete(ctx context.Context, key string)
}

type redisStore struct {
	client *redis.Client
	log    *zap.Logger
}

func NewStore(client *redis.Client, log *zap.Logger) Store {
	if client == nil {
		return noopStore{}
	}
	return &redisStore{client: client, log: log.Named("cache")}
}

func (s *redisStore) GetJSON(ctx context.Context, key string, dest any) bool {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.log.Debug("cache get failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		s.log.Debug("cache entry unreadable", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (s *redisStore) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		s.log.Debug("cache marshal failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := s.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		s.log.Debug("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *redisStore) Delete(ctx context.Context, key string) {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.log.Debug("cache delete failed", zap.String("key", key), zap.Error(err))
	}
}

type noopStore struct{}

func (noopStore) GetJSON(context.Context, string, any) bool        { return false }
func (noopStore) SetJSON(context.Context, string, any, time.Duration) {}
func (noopStore) Delete(context.Context, string)                   {}
