package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisBackend struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisBackend stores values without expiry when ttl is zero.
func NewRedisBackend(client *redis.Client, ttl time.Duration) *RedisBackend {
	return &RedisBackend{
		client: client,
		ttl:    ttl,
	}
}

func (b *RedisBackend) Origin(name string) Store {
	return &RedisStore{
		client: b.client,
		origin: name,
		ttl:    b.ttl,
	}
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}

// RedisStore writes values and publishes the matching Change in one MULTI so
// subscribers never hear about a write that did not happen.
type RedisStore struct {
	client *redis.Client
	origin string
	ttl    time.Duration
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, r.valueKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get failed: %w", err)
	}
	return value, nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	payload, err := r.changePayload(ctx, key)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.valueKey(key), value, r.ttl)
		pipe.Publish(ctx, r.channel(), payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisStore) Remove(ctx context.Context, key string) error {
	payload, err := r.changePayload(ctx, key)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.valueKey(key))
		pipe.Publish(ctx, r.channel(), payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// Watch returns once the subscription is confirmed, so writes made after it
// returns are always delivered.
func (r *RedisStore) Watch(ctx context.Context) (<-chan Change, error) {
	sub := r.client.Subscribe(ctx, r.channel())
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe failed: %w", err)
	}

	out := make(chan Change, subscriberBuffer)
	messages := sub.Channel()

	go func() {
		defer close(out)
		defer sub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var change Change
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					continue
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (r *RedisStore) changePayload(ctx context.Context, key string) (string, error) {
	data, err := json.Marshal(Change{Key: key, Source: SourceFrom(ctx)})
	if err != nil {
		return "", fmt.Errorf("marshal change failed: %w", err)
	}
	return string(data), nil
}

func (r *RedisStore) valueKey(key string) string {
	return fmt.Sprintf("storefront:%s:%s", r.origin, key)
}

func (r *RedisStore) channel() string {
	return fmt.Sprintf("storefront:%s:changes", r.origin)
}
