// Package inmem provides an in-memory implementation of eventstore.Store for
// tests and local development. Events live in a single process-wide slice
// with no persistence across restarts; production deployments should use a
// durable backend such as features/eventstore/mongo.
package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sandboxrun/core/runtime/agent/eventstore"
)

// subscriberQueueDepth bounds how far a subscriber may lag before it is
// disconnected rather than allowed to block the writer.
const subscriberQueueDepth = 256

// Store implements eventstore.Store in memory. All operations are
// thread-safe via sync.Mutex. Seq is a single global counter shared across
// every actor and run recorded in the store, matching the durable backends'
// ordering guarantee.
type Store struct {
	mu   sync.Mutex
	seq  int64
	log  []eventstore.Event
	subs map[*subscriber]struct{}
}

type subscriber struct {
	ch     chan eventstore.Event
	filter eventstore.Filter
}

// New constructs an empty Store with no recorded events.
func New() *Store {
	return &Store{subs: make(map[*subscriber]struct{})}
}

// Append assigns Seq/EventID/Timestamp, appends the event to the in-memory
// log, and fans it out to live subscribers.
func (s *Store) Append(_ context.Context, in eventstore.EventInput) (eventstore.Event, error) {
	if in.EventType == "" {
		return eventstore.Event{}, eventstore.ErrEventTypeRequired
	}
	if in.ActorID == "" {
		return eventstore.Event{}, eventstore.ErrActorIDRequired
	}

	s.mu.Lock()
	s.seq++
	e := eventstore.Event{
		Seq:       s.seq,
		EventID:   ulid.Make().String(),
		Timestamp: time.Now().UTC(),
		EventType: in.EventType,
		ActorID:   in.ActorID,
		UserID:    in.UserID,
		Payload:   in.Payload,
		Metadata:  in.Metadata,
	}
	s.log = append(s.log, e)
	subs := s.snapshotSubscribersLocked()
	s.mu.Unlock()

	s.publish(e, subs)
	return e, nil
}

// AppendAsync is fire-and-forget: it runs Append on a background goroutine
// and drops the result. This in-memory implementation cannot fail on
// backing-store grounds, so this is equivalent to Append except for the
// caller not waiting on the reply.
func (s *Store) AppendAsync(ctx context.Context, in eventstore.EventInput) {
	go func() {
		_, _ = s.Append(ctx, in)
	}()
}

// GetRecent returns events with Seq > filter.SinceSeq, ascending by Seq,
// with filter.Limit clamped to [1, 1000].
func (s *Store) GetRecent(_ context.Context, filter eventstore.Filter) ([]eventstore.Event, error) {
	limit := eventstore.ClampLimit(filter.Limit)

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]eventstore.Event, 0, limit)
	for _, e := range s.log {
		if e.Seq <= filter.SinceSeq {
			continue
		}
		if !filter.Matches(e) {
			continue
		}
		out = append(out, e)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// GetEventsForActor is GetRecent scoped to a single actor.
func (s *Store) GetEventsForActor(ctx context.Context, actorID string, sinceSeq int64) ([]eventstore.Event, error) {
	return s.GetRecent(ctx, eventstore.Filter{SinceSeq: sinceSeq, ActorID: actorID, Limit: 1000})
}

// Subscribe returns a live feed of committed events matching filter. The
// returned channel is closed and the subscriber removed if it cannot keep
// up with the commit rate; callers should treat channel closure as a signal
// to resubscribe from the last Seq they observed.
func (s *Store) Subscribe(ctx context.Context, filter eventstore.Filter) (<-chan eventstore.Event, func(), error) {
	sub := &subscriber{
		ch:     make(chan eventstore.Event, subscriberQueueDepth),
		filter: filter,
	}

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	cancel := func() { s.disconnect(sub) }

	go func() {
		<-ctx.Done()
		cancel()
	}()

	return sub.ch, cancel, nil
}

// Reset clears all stored events and subscribers. Useful in tests to ensure
// isolation between test cases. Not part of the eventstore.Store interface.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq = 0
	s.log = nil
	for sub := range s.subs {
		close(sub.ch)
	}
	s.subs = make(map[*subscriber]struct{})
}

func (s *Store) snapshotSubscribersLocked() []*subscriber {
	subs := make([]*subscriber, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	return subs
}

// publish delivers e to every subscriber whose filter matches. A subscriber
// whose queue is full is disconnected rather than allowed to block the
// writer; callers observe this as channel closure.
func (s *Store) publish(e eventstore.Event, subs []*subscriber) {
	for _, sub := range subs {
		if e.Seq <= sub.filter.SinceSeq || !sub.filter.Matches(e) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			s.disconnect(sub)
		}
	}
}

func (s *Store) disconnect(sub *subscriber) {
	s.mu.Lock()
	_, ok := s.subs[sub]
	if ok {
		delete(s.subs, sub)
		close(sub.ch)
	}
	s.mu.Unlock()

	if ok {
		s.AppendAsync(context.Background(), eventstore.EventInput{
			EventType: "eventstore.subscriber_lagged",
			ActorID:   "eventstore",
			Metadata:  eventstore.Metadata{WakePolicy: eventstore.DisplayOnly},
		})
	}
}
