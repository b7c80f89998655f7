package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const domainCooldownPrefix = "cooldown:domain:"

// RedisStore implements CooldownStore. A cooldown is a plain TTL key per
// marketplace domain; expiry lifts the cooldown without any cleanup job.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr, password string, db int) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisStore{client: client}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// SetDomainCooldown marks a marketplace domain as blocked for ttl.
func (s *RedisStore) SetDomainCooldown(ctx context.Context, domainName string, ttl time.Duration) error {
	key := domainCooldownPrefix + domainName
	return s.client.Set(ctx, key, "1", ttl).Err()
}

// CooledDomains lists domains currently under a block cooldown.
func (s *RedisStore) CooledDomains(ctx context.Context) ([]string, error) {
	var domains []string
	iter := s.client.Scan(ctx, 0, domainCooldownPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		domains = append(domains, strings.TrimPrefix(iter.Val(), domainCooldownPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan cooldowns: %w", err)
	}
	return domains, nil
}
