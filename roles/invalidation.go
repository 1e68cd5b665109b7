package roles

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/ggoodman/mcp-gateway-go/broker"
)

// InvalidationTopic carries role cache invalidations between gateway nodes.
const InvalidationTopic = "roles.invalidate"

// Invalidation names the cached role sets to drop. All overrides Principal.
type Invalidation struct {
	Principal string `json:"principal,omitempty"`
	All       bool   `json:"all,omitempty"`
}

// PublishInvalidation announces inv to every node following the topic.
func PublishInvalidation(ctx context.Context, b broker.Broker, inv Invalidation) error {
	if !inv.All && inv.Principal == "" {
		return errors.New("roles: invalidation names no principal")
	}
	data, err := json.Marshal(inv)
	if err != nil {
		return err
	}
	_, err = b.Publish(ctx, InvalidationTopic, data)
	return err
}

// FollowInvalidations applies published invalidations to r until ctx ends.
// Malformed events are logged and skipped.
func (r *Resolver) FollowInvalidations(ctx context.Context, b broker.Broker) error {
	err := b.Subscribe(ctx, InvalidationTopic, "", func(ctx context.Context, ev broker.Envelope) error {
		var inv Invalidation
		if err := json.Unmarshal(ev.Data, &inv); err != nil {
			r.log.WarnContext(ctx, "roles.invalidation.malformed", slog.String("event_id", ev.ID), slog.String("err", err.Error()))
			return nil
		}
		switch {
		case inv.All:
			r.ClearAll()
		case inv.Principal != "":
			r.Clear(inv.Principal)
		default:
			return nil
		}
		r.log.InfoContext(ctx, "roles.invalidation.applied", slog.String("event_id", ev.ID), slog.String("principal", inv.Principal), slog.Bool("all", inv.All))
		return nil
	})
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}
