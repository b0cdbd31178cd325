package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "clicker"

// RedisPersister shares credentials between client processes through Redis.
type RedisPersister struct {
	client    *redis.Client
	namespace string
}

var _ Persister = (*RedisPersister)(nil)

// NewRedisPersister connects to url and verifies the connection.
func NewRedisPersister(ctx context.Context, url, namespace string) (*RedisPersister, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisPersisterWithClient(client, namespace), nil
}

// NewRedisPersisterWithClient wraps an existing client (for testing)
func NewRedisPersisterWithClient(client *redis.Client, namespace string) *RedisPersister {
	if namespace == "" {
		namespace = "default"
	}
	return &RedisPersister{client: client, namespace: namespace}
}

func (p *RedisPersister) key(k string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, p.namespace, k)
}

func (p *RedisPersister) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := p.client.Get(ctx, p.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (p *RedisPersister) Set(ctx context.Context, key, value string) error {
	return p.client.Set(ctx, p.key(key), value, 0).Err()
}

func (p *RedisPersister) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = p.key(k)
	}
	return p.client.Del(ctx, full...).Err()
}

func (p *RedisPersister) Close() error {
	return p.client.Close()
}
