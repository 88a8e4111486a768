// Package pulse distributes committed eventstore events across processes
// over Redis-backed Pulse streams. A single process appends to the durable
// event log and also publishes each commit to Pulse; every process (in
// particular the HTTP/WS API tier) subscribes to Pulse rather than polling
// the durable store directly.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	streamopts "goa.design/pulse/streaming/options"

	clientspulse "github.com/sandboxrun/core/features/eventstore/pulse/clients/pulse"
	"github.com/sandboxrun/core/runtime/agent/eventstore"
)

type (
	// SinkOptions configures the Pulse-backed publishing sink.
	SinkOptions struct {
		// Client is the Pulse client used to publish events. Required.
		Client clientspulse.Client
		// StreamID derives the target Pulse stream from an event. Defaults to
		// the fixed stream name "sandbox/events": every event in the log is
		// published to one stream and subscribers filter client-side, matching
		// the durable store's single append-only log.
		StreamID func(eventstore.Event) (string, error)
		// MarshalEnvelope allows overriding envelope serialization (tests).
		MarshalEnvelope func(Envelope) ([]byte, error)
	}

	// Sink publishes committed eventstore.Event values into a Pulse stream.
	// It implements no eventstore interface itself; callers invoke Publish
	// from the same goroutine that calls the durable store's Append so the
	// two writes stay close together in time.
	Sink struct {
		client   clientspulse.Client
		streamID func(eventstore.Event) (string, error)
		marshal  func(Envelope) ([]byte, error)
	}

	// Envelope wraps a committed event for transmission over a Pulse stream.
	Envelope struct {
		Seq       int64              `json:"seq"`
		EventID   string             `json:"event_id"`
		Timestamp time.Time          `json:"timestamp"`
		EventType string             `json:"event_type"`
		ActorID   string             `json:"actor_id"`
		UserID    string             `json:"user_id,omitempty"`
		Payload   any                `json:"payload,omitempty"`
		Metadata  eventstore.Metadata `json:"metadata"`
	}
)

const defaultStreamName = "sandbox/events"

// NewSink constructs a Pulse-backed publishing sink. Client is required;
// StreamID and MarshalEnvelope default to the built-in implementations.
func NewSink(opts SinkOptions) (*Sink, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	streamID := opts.StreamID
	if streamID == nil {
		streamID = defaultStreamID
	}
	marshal := opts.MarshalEnvelope
	if marshal == nil {
		marshal = defaultMarshal
	}
	return &Sink{client: opts.Client, streamID: streamID, marshal: marshal}, nil
}

// Publish writes e to the derived Pulse stream. Failures here do not
// invalidate e's durable commit; callers should log and continue rather
// than treat this as a StorageError.
func (s *Sink) Publish(ctx context.Context, e eventstore.Event) error {
	name, err := s.streamID(e)
	if err != nil {
		return err
	}
	handle, err := s.client.Stream(name)
	if err != nil {
		return err
	}
	payload, err := s.marshal(toEnvelope(e))
	if err != nil {
		return err
	}
	_, err = handle.Add(ctx, e.EventType, payload)
	return err
}

// Close releases resources owned by the sink's Pulse client.
func (s *Sink) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

func defaultStreamID(eventstore.Event) (string, error) {
	return defaultStreamName, nil
}

func defaultMarshal(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func toEnvelope(e eventstore.Event) Envelope {
	return Envelope{
		Seq:       e.Seq,
		EventID:   e.EventID,
		Timestamp: e.Timestamp,
		EventType: e.EventType,
		ActorID:   e.ActorID,
		UserID:    e.UserID,
		Payload:   e.Payload,
		Metadata:  e.Metadata,
	}
}

func fromEnvelope(env Envelope) eventstore.Event {
	return eventstore.Event{
		Seq:       env.Seq,
		EventID:   env.EventID,
		Timestamp: env.Timestamp,
		EventType: env.EventType,
		ActorID:   env.ActorID,
		UserID:    env.UserID,
		Payload:   env.Payload,
		Metadata:  env.Metadata,
	}
}
