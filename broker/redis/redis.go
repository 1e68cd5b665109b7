// Package redis is a broker.Broker backed by Redis Streams, so every gateway
// node sharing the Redis instance sees the same events.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/mcp-gateway-go/broker"
	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix = "mcp-gateway:broker:"
	defaultMaxLen    = 1000
	readBlock        = time.Second
)

// Broker publishes with XADD and follows with blocking XREAD.
type Broker struct {
	client    redis.UniversalClient
	keyPrefix string
	maxLen    int64
}

// Config configures the broker. Client is required.
type Config struct {
	Client redis.UniversalClient
	// KeyPrefix defaults to "mcp-gateway:broker:".
	KeyPrefix string
	// MaxLen approximately caps each stream. Default 1000.
	MaxLen int64
}

// New returns a broker over cfg.Client. The caller owns the client.
func New(cfg Config) (*Broker, error) {
	if cfg.Client == nil {
		return nil, errors.New("broker/redis: client is required")
	}
	b := &Broker{client: cfg.Client, keyPrefix: cfg.KeyPrefix, maxLen: cfg.MaxLen}
	if b.keyPrefix == "" {
		b.keyPrefix = defaultKeyPrefix
	}
	if b.maxLen <= 0 {
		b.maxLen = defaultMaxLen
	}
	return b, nil
}

// Publish implements broker.Broker.
func (b *Broker) Publish(ctx context.Context, topic string, data []byte) (string, error) {
	id, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.streamKey(topic),
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]any{"data": data},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("broker/redis: publish to %s: %w", topic, err)
	}
	return id, nil
}

// Subscribe implements broker.Broker. Stream IDs are totally ordered, so an
// unknown lastEventID resumes after whatever it would have sorted behind.
func (b *Broker) Subscribe(ctx context.Context, topic, lastEventID string, h broker.Handler) error {
	key := b.streamKey(topic)
	cursor := lastEventID
	if cursor == "" {
		cursor = "$"
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		streams, err := b.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{key, cursor},
			Count:   64,
			Block:   readBlock,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("broker/redis: read %s: %w", topic, err)
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				cursor = msg.ID
				data, ok := msg.Values["data"].(string)
				if !ok {
					continue
				}
				if err := h(ctx, broker.Envelope{ID: msg.ID, Data: []byte(data)}); err != nil {
					return err
				}
			}
		}
	}
}

// Cleanup implements broker.Broker. Subscribers on other nodes keep
// following the now-empty stream.
func (b *Broker) Cleanup(ctx context.Context, topic string) error {
	if err := b.client.Del(ctx, b.streamKey(topic)).Err(); err != nil {
		return fmt.Errorf("broker/redis: cleanup %s: %w", topic, err)
	}
	return nil
}

func (b *Broker) streamKey(topic string) string {
	return b.keyPrefix + "stream:" + topic
}

var _ broker.Broker = (*Broker)(nil)
