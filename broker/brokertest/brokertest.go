// Package brokertest is a conformance suite for broker.Broker
// implementations.
package brokertest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ggoodman/mcp-gateway-go/broker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh broker for one subtest.
type Factory func(t *testing.T) broker.Broker

var errDone = errors.New("brokertest: done")

// settle gives a subscriber time to reach its blocking read.
const settle = 100 * time.Millisecond

// Run checks brokers built by factory against the broker.Broker contract.
func Run(t *testing.T, factory Factory) {
	t.Run("PublishThenFollow", func(t *testing.T) { testPublishThenFollow(t, factory(t)) })
	t.Run("ResumeAfterEventID", func(t *testing.T) { testResume(t, factory(t)) })
	t.Run("FanOut", func(t *testing.T) { testFanOut(t, factory(t)) })
	t.Run("TopicIsolation", func(t *testing.T) { testIsolation(t, factory(t)) })
	t.Run("ContextCancellation", func(t *testing.T) { testCancel(t, factory(t)) })
	t.Run("HandlerErrorStops", func(t *testing.T) { testHandlerError(t, factory(t)) })
	t.Run("CleanupThenPublish", func(t *testing.T) { testCleanup(t, factory(t)) })
}

type result struct {
	events []broker.Envelope
	err    error
}

// follow subscribes in the background and stops after n events.
func follow(ctx context.Context, b broker.Broker, topic, from string, n int) <-chan result {
	out := make(chan result, 1)
	go func() {
		var got []broker.Envelope
		err := b.Subscribe(ctx, topic, from, func(_ context.Context, ev broker.Envelope) error {
			got = append(got, ev)
			if len(got) >= n {
				return errDone
			}
			return nil
		})
		out <- result{events: got, err: err}
	}()
	return out
}

func wait(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not finish")
		return result{}
	}
}

func topicFor(t *testing.T, b broker.Broker, suffix string) string {
	name := t.Name() + suffix
	t.Cleanup(func() { _ = b.Cleanup(context.Background(), name) })
	return name
}

func testPublishThenFollow(t *testing.T, b broker.Broker) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	topic := topicFor(t, b, "")

	_, err := b.Publish(ctx, topic, []byte("before"))
	require.NoError(t, err)

	ch := follow(ctx, b, topic, "", 2)
	time.Sleep(settle)

	id1, err := b.Publish(ctx, topic, []byte("a"))
	require.NoError(t, err)
	id2, err := b.Publish(ctx, topic, []byte("b"))
	require.NoError(t, err)
	assert.NotEmpty(t, id1)
	assert.NotEqual(t, id1, id2)

	r := wait(t, ch)
	require.ErrorIs(t, r.err, errDone)
	require.Len(t, r.events, 2)
	assert.Equal(t, id1, r.events[0].ID)
	assert.Equal(t, "a", string(r.events[0].Data))
	assert.Equal(t, id2, r.events[1].ID)
	assert.Equal(t, "b", string(r.events[1].Data))
}

func testResume(t *testing.T, b broker.Broker) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	topic := topicFor(t, b, "")

	first, err := b.Publish(ctx, topic, []byte("a"))
	require.NoError(t, err)
	_, err = b.Publish(ctx, topic, []byte("b"))
	require.NoError(t, err)
	_, err = b.Publish(ctx, topic, []byte("c"))
	require.NoError(t, err)

	r := wait(t, follow(ctx, b, topic, first, 2))
	require.ErrorIs(t, r.err, errDone)
	require.Len(t, r.events, 2)
	assert.Equal(t, "b", string(r.events[0].Data))
	assert.Equal(t, "c", string(r.events[1].Data))
}

func testFanOut(t *testing.T, b broker.Broker) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	topic := topicFor(t, b, "")

	one := follow(ctx, b, topic, "", 1)
	two := follow(ctx, b, topic, "", 1)
	time.Sleep(settle)

	id, err := b.Publish(ctx, topic, []byte("x"))
	require.NoError(t, err)

	for _, ch := range []<-chan result{one, two} {
		r := wait(t, ch)
		require.ErrorIs(t, r.err, errDone)
		require.Len(t, r.events, 1)
		assert.Equal(t, id, r.events[0].ID)
	}
}

func testIsolation(t *testing.T, b broker.Broker) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	mine := topicFor(t, b, "-mine")
	other := topicFor(t, b, "-other")

	ch := follow(ctx, b, mine, "", 1)
	time.Sleep(settle)

	_, err := b.Publish(ctx, other, []byte("not for you"))
	require.NoError(t, err)
	_, err = b.Publish(ctx, mine, []byte("for you"))
	require.NoError(t, err)

	r := wait(t, ch)
	require.Len(t, r.events, 1)
	assert.Equal(t, "for you", string(r.events[0].Data))
}

func testCancel(t *testing.T, b broker.Broker) {
	ctx, cancel := context.WithCancel(context.Background())
	topic := topicFor(t, b, "")

	ch := follow(ctx, b, topic, "", 1)
	time.Sleep(settle)
	cancel()

	r := wait(t, ch)
	require.ErrorIs(t, r.err, context.Canceled)
	assert.Empty(t, r.events)
}

func testHandlerError(t *testing.T, b broker.Broker) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	topic := topicFor(t, b, "")

	boom := errors.New("boom")
	done := make(chan error, 1)
	calls := 0
	go func() {
		done <- b.Subscribe(ctx, topic, "", func(context.Context, broker.Envelope) error {
			calls++
			return boom
		})
	}()
	time.Sleep(settle)

	_, err := b.Publish(ctx, topic, []byte("a"))
	require.NoError(t, err)
	_, err = b.Publish(ctx, topic, []byte("b"))
	require.NoError(t, err)

	select {
	case err := <-done:
		require.ErrorIs(t, err, boom)
		assert.Equal(t, 1, calls)
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not stop")
	}
}

func testCleanup(t *testing.T, b broker.Broker) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	topic := topicFor(t, b, "")

	old, err := b.Publish(ctx, topic, []byte("old"))
	require.NoError(t, err)
	require.NoError(t, b.Cleanup(ctx, topic))
	require.NoError(t, b.Cleanup(ctx, topic))

	ch := follow(ctx, b, topic, old, 1)
	time.Sleep(settle)
	_, err = b.Publish(ctx, topic, []byte("new"))
	require.NoError(t, err)

	r := wait(t, ch)
	require.Len(t, r.events, 1)
	assert.Equal(t, "new", string(r.events[0].Data))
}
