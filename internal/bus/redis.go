package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisBus implements Bus on a shared Redis deployment. The peer directory
// is the hash {prefix}peers mapping code -> node id; signals travel over
// the pub/sub channel {prefix}signals as JSON-encoded Messages.
type RedisBus struct {
	rdb    *redis.Client
	prefix string
	node   string
}

// NewRedis connects to the Redis at rawURL and verifies it with a ping.
func NewRedis(ctx context.Context, rawURL, prefix, node string) (*RedisBus, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisBus{rdb: rdb, prefix: prefix, node: node}, nil
}

func (b *RedisBus) peersKey() string   { return b.prefix + "peers" }
func (b *RedisBus) signalsKey() string { return b.prefix + "signals" }

func (b *RedisBus) Register(ctx context.Context, code string) error {
	return b.rdb.HSet(ctx, b.peersKey(), code, b.node).Err()
}

func (b *RedisBus) Unregister(ctx context.Context, code string) error {
	return b.rdb.HDel(ctx, b.peersKey(), code).Err()
}

func (b *RedisBus) Owner(ctx context.Context, code string) (string, error) {
	owner, err := b.rdb.HGet(ctx, b.peersKey(), code).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return owner, nil
}

func (b *RedisBus) Publish(ctx context.Context, m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal bus message: %w", err)
	}
	return b.rdb.Publish(ctx, b.signalsKey(), data).Err()
}

// Subscribe drains the signal channel into a Go channel. Undecodable
// payloads and own-origin echoes are dropped; a shared channel may carry
// traffic from newer instances with a different message shape.
func (b *RedisBus) Subscribe(ctx context.Context) (<-chan Message, error) {
	sub := b.rdb.Subscribe(ctx, b.signalsKey())
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	out := make(chan Message, 64)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-ch:
				if !ok {
					return
				}
				var m Message
				if err := json.Unmarshal([]byte(raw.Payload), &m); err != nil {
					slog.Warn("bus: undecodable signal", "err", err)
					continue
				}
				if m.Origin == b.node {
					continue
				}
				select {
				case out <- m:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *RedisBus) Close() error {
	return b.rdb.Close()
}
