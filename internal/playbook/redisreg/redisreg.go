// Package redisreg provides a Redis-backed playbook.Registry so several
// responder instances share one view of in-flight alerts.
package redisreg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/linnemanlabs/aegis/internal/rules"
)

// DefaultKeyPrefix namespaces registry keys.
const DefaultKeyPrefix = "aegis:inflight"

// Config configures Redis access for the registry.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// TTL bounds how long a registration survives a process that never
	// releases it. It should exceed the approval TTL plus the runner timeout.
	TTL time.Duration
}

// Registry implements playbook.Registry with SET NX.
type Registry struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New connects to Redis and returns a ready Registry.
func New(ctx context.Context, cfg Config) (*Registry, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("redis registry: address is required")
	}
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis registry: %w", err)
	}

	return &Registry{client: client, prefix: strings.TrimSpace(cfg.KeyPrefix), ttl: cfg.TTL}, nil
}

// Close closes the Redis client.
func (r *Registry) Close() error {
	return r.client.Close()
}

func (r *Registry) key(c rules.Classification) string {
	return r.prefix + ":" + c.Key()
}

// TryRegister implements playbook.Registry.
func (r *Registry) TryRegister(ctx context.Context, c rules.Classification) (bool, error) {
	added, err := r.client.SetNX(ctx, r.key(c), time.Now().UTC().Format(time.RFC3339), r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("register %s: %w", c.Key(), err)
	}
	return added, nil
}

// Release implements playbook.Registry.
func (r *Registry) Release(ctx context.Context, c rules.Classification) error {
	if err := r.client.Del(ctx, r.key(c)).Err(); err != nil {
		return fmt.Errorf("release %s: %w", c.Key(), err)
	}
	return nil
}

// Contains implements playbook.Registry.
func (r *Registry) Contains(ctx context.Context, c rules.Classification) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(c)).Result()
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", c.Key(), err)
	}
	return n > 0, nil
}
