// Package mongo wires the eventstore.Store interface to the MongoDB client.
package mongo

import (
	"context"
	"errors"

	clientsmongo "github.com/sandboxrun/core/features/eventstore/mongo/clients/mongo"
	"github.com/sandboxrun/core/runtime/agent/eventstore"
)

// Store implements eventstore.Store by delegating to the Mongo client.
type Store struct {
	client clientsmongo.Client
}

// NewStore builds a Mongo-backed event store using the provided client.
func NewStore(client clientsmongo.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: client}, nil
}

// Append implements eventstore.Store.
func (s *Store) Append(ctx context.Context, in eventstore.EventInput) (eventstore.Event, error) {
	return s.client.Append(ctx, in)
}

// AppendAsync implements eventstore.Store.
func (s *Store) AppendAsync(ctx context.Context, in eventstore.EventInput) {
	s.client.AppendAsync(ctx, in)
}

// GetRecent implements eventstore.Store.
func (s *Store) GetRecent(ctx context.Context, filter eventstore.Filter) ([]eventstore.Event, error) {
	return s.client.GetRecent(ctx, filter)
}

// GetEventsForActor implements eventstore.Store.
func (s *Store) GetEventsForActor(ctx context.Context, actorID string, sinceSeq int64) ([]eventstore.Event, error) {
	return s.client.GetRecent(ctx, eventstore.Filter{SinceSeq: sinceSeq, ActorID: actorID, Limit: 1000})
}

// Subscribe implements eventstore.Store.
func (s *Store) Subscribe(ctx context.Context, filter eventstore.Filter) (<-chan eventstore.Event, func(), error) {
	return s.client.Watch(ctx, filter)
}
