package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chitterchatter/portal/core"
)

const keyPrefix = "portal:session:"

// Store keeps the session of one browser in a redis hash. Every write refreshes the hash TTL.
type Store struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
	logger    core.Logger
	ctx       context.Context
}

var _ core.TokenStore = (*Store)(nil)

// New scopes a store to namespace (the browser id). ctx bounds every redis call.
func New(ctx context.Context, client *redis.Client, namespace string, ttl time.Duration, logger core.Logger) *Store {
	if logger == nil {
		logger = core.NopLogger
	}
	return &Store{
		client:    client,
		namespace: namespace,
		ttl:       ttl,
		logger:    logger,
		ctx:       ctx,
	}
}

func (s *Store) key() string {
	return keyPrefix + s.namespace
}

func (s *Store) Get(key string) (string, bool) {
	val, err := s.client.HGet(s.ctx, s.key(), key).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		s.logger.Warn("redis session read", err, map[string]interface{}{"key": key})
		return "", false
	}
	return val, true
}

func (s *Store) Set(key, value string) {
	pipe := s.client.TxPipeline()
	pipe.HSet(s.ctx, s.key(), key, value)
	if s.ttl > 0 {
		pipe.Expire(s.ctx, s.key(), s.ttl)
	}
	if _, err := pipe.Exec(s.ctx); err != nil {
		s.logger.Error("redis session write", err, map[string]interface{}{"key": key})
	}
}

func (s *Store) Remove(keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := s.client.HDel(s.ctx, s.key(), keys...).Err(); err != nil {
		s.logger.Error("redis session delete", err, map[string]interface{}{"keys": keys})
	}
}
