// Package distributed composes the durable Mongo-backed event store with
// the Pulse cross-process distribution tier: Append/AppendAsync/GetRecent/
// GetEventsForActor go straight to Mongo, while Subscribe is served from
// Pulse so every process tailing the log (in particular the HTTP/WS API
// tier) reads a shared Redis stream rather than opening its own Mongo
// change stream per subscriber.
package distributed

import (
	"context"
	"errors"

	"github.com/sandboxrun/core/features/eventstore/pulse"
	"github.com/sandboxrun/core/runtime/agent/eventstore"
)

// Store implements eventstore.Store by delegating durable operations to an
// underlying Store (normally features/eventstore/mongo.Store) and fan-out
// Subscribe to a pulse.Distribution, publishing every successful Append to
// the same distribution so subscribers observe it.
type Store struct {
	durable      eventstore.Store
	distribution *pulse.Distribution
}

// New builds a Store. durable is required; distribution is required since a
// caller with no Redis configured should simply use the durable Store
// directly instead of wrapping it here.
func New(durable eventstore.Store, distribution *pulse.Distribution) (*Store, error) {
	if durable == nil {
		return nil, errors.New("durable store is required")
	}
	if distribution == nil {
		return nil, errors.New("distribution is required")
	}
	return &Store{durable: durable, distribution: distribution}, nil
}

// Append implements eventstore.Store: commits to the durable store, then
// publishes the committed event to Pulse. A publish failure is discarded:
// it is not logged or returned and never unwinds the already-committed
// Append — the durable log is the source of truth, and the Pulse tier is a
// best-effort fan-out copy.
func (s *Store) Append(ctx context.Context, in eventstore.EventInput) (eventstore.Event, error) {
	ev, err := s.durable.Append(ctx, in)
	if err != nil {
		return ev, err
	}
	_ = s.distribution.Sink().Publish(ctx, ev)
	return ev, nil
}

// AppendAsync implements eventstore.Store.
func (s *Store) AppendAsync(ctx context.Context, in eventstore.EventInput) {
	go func() {
		ev, err := s.durable.Append(ctx, in)
		if err != nil {
			return
		}
		_ = s.distribution.Sink().Publish(ctx, ev)
	}()
}

// GetRecent implements eventstore.Store.
func (s *Store) GetRecent(ctx context.Context, filter eventstore.Filter) ([]eventstore.Event, error) {
	return s.durable.GetRecent(ctx, filter)
}

// GetEventsForActor implements eventstore.Store.
func (s *Store) GetEventsForActor(ctx context.Context, actorID string, sinceSeq int64) ([]eventstore.Event, error) {
	return s.durable.GetEventsForActor(ctx, actorID, sinceSeq)
}

// Subscribe implements eventstore.Store by reading from the Pulse
// distribution tier instead of the durable store.
func (s *Store) Subscribe(ctx context.Context, filter eventstore.Filter) (<-chan eventstore.Event, func(), error) {
	return s.distribution.Subscribe(ctx, filter)
}
