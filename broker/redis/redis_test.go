package redis

import (
	"context"
	"testing"

	"github.com/ggoodman/mcp-gateway-go/broker"
	"github.com/ggoodman/mcp-gateway-go/broker/brokertest"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisBroker(t *testing.T) {
	pingClient := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379", DB: 3})
	if err := pingClient.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	_ = pingClient.Close()

	brokertest.Run(t, func(t *testing.T) broker.Broker {
		client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379", DB: 3})
		t.Cleanup(func() { _ = client.Close() })
		b, err := New(Config{Client: client, KeyPrefix: "test:broker:"})
		require.NoError(t, err)
		return b
	})
}

func TestNewRequiresClient(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}
