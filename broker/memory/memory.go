// Package memory is a single-process broker.Broker for tests and
// single-node deployments.
package memory

import (
	"context"
	"strconv"
	"sync"

	"github.com/ggoodman/mcp-gateway-go/broker"
)

// DefaultMaxEvents bounds the events kept per topic.
const DefaultMaxEvents = 1024

// Broker keeps each topic's recent events in memory.
type Broker struct {
	mu     sync.Mutex
	topics map[string]*topic
	seq    int64
	max    int
}

type topic struct {
	events []broker.Envelope
	// wake is closed and replaced on every publish.
	wake   chan struct{}
	closed bool
}

// New returns an empty broker keeping at most maxEvents per topic. Zero uses
// DefaultMaxEvents.
func New(maxEvents int) *Broker {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	return &Broker{topics: make(map[string]*topic), max: maxEvents}
}

func (b *Broker) topicLocked(name string) *topic {
	t, ok := b.topics[name]
	if !ok {
		t = &topic{wake: make(chan struct{})}
		b.topics[name] = t
	}
	return t
}

// Publish implements broker.Broker.
func (b *Broker) Publish(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	ev := broker.Envelope{ID: strconv.FormatInt(b.seq, 10), Data: append([]byte(nil), data...)}

	t := b.topicLocked(name)
	t.events = append(t.events, ev)
	if over := len(t.events) - b.max; over > 0 {
		t.events = append([]broker.Envelope(nil), t.events[over:]...)
	}
	close(t.wake)
	t.wake = make(chan struct{})
	return ev.ID, nil
}

// Subscribe implements broker.Broker.
func (b *Broker) Subscribe(ctx context.Context, name, lastEventID string, h broker.Handler) error {
	b.mu.Lock()
	t := b.topicLocked(name)
	cursor := tailID(t)
	if n, err := strconv.ParseInt(lastEventID, 10, 64); err == nil && n > 0 && n <= b.seq {
		cursor = lastEventID
	}
	b.mu.Unlock()

	for {
		b.mu.Lock()
		if t.closed {
			b.mu.Unlock()
			return broker.ErrTopicClosed
		}
		pending := t.after(cursor)
		wake := t.wake
		b.mu.Unlock()

		for _, ev := range pending {
			if err := h(ctx, ev); err != nil {
				return err
			}
			cursor = ev.ID
		}
		if len(pending) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		}
	}
}

// Cleanup implements broker.Broker. Active subscribers return
// broker.ErrTopicClosed.
func (b *Broker) Cleanup(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[name]
	if !ok {
		return nil
	}
	delete(b.topics, name)
	t.closed = true
	t.events = nil
	close(t.wake)
	return nil
}

func tailID(t *topic) string {
	if len(t.events) == 0 {
		return ""
	}
	return t.events[len(t.events)-1].ID
}

func (t *topic) index(id string) int {
	for i, ev := range t.events {
		if ev.ID == id {
			return i
		}
	}
	return -1
}

// after returns the events following id. An empty id, or one trimmed away,
// means every stored event is newer.
func (t *topic) after(id string) []broker.Envelope {
	if id == "" {
		return append([]broker.Envelope(nil), t.events...)
	}
	i := t.index(id)
	if i < 0 {
		return t.newerThan(id)
	}
	return append([]broker.Envelope(nil), t.events[i+1:]...)
}

func (t *topic) newerThan(id string) []broker.Envelope {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil
	}
	var out []broker.Envelope
	for _, ev := range t.events {
		if m, _ := strconv.ParseInt(ev.ID, 10, 64); m > n {
			out = append(out, ev)
		}
	}
	return out
}

var _ broker.Broker = (*Broker)(nil)
