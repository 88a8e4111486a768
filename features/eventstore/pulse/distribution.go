package pulse

import (
	"context"
	"errors"

	clientspulse "github.com/sandboxrun/core/features/eventstore/pulse/clients/pulse"
	"github.com/sandboxrun/core/runtime/agent/eventstore"
)

// Distribution wires a caller-provided Pulse client into the event store's
// live fan-out path. It owns a publishing Sink and can spawn subscribers
// that reuse the same client so services do not need to manage multiple
// Redis connections.
type Distribution struct {
	sink   *Sink
	client clientspulse.Client
}

// DistributionOptions configures the helper returned by NewDistribution.
type DistributionOptions struct {
	// Client is the Pulse client used for both publishing and subscribing.
	Client clientspulse.Client
	// Sink holds optional overrides for the publishing sink.
	Sink SinkOptions
}

// NewDistribution constructs helpers for publishing committed events to
// Pulse and subscribing to the resulting stream. Callers invoke Sink().Publish
// alongside every durable Append and keep the helper around to create
// subscribers for the WS API layer.
func NewDistribution(opts DistributionOptions) (*Distribution, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	sinkOpts := opts.Sink
	sinkOpts.Client = opts.Client
	sink, err := NewSink(sinkOpts)
	if err != nil {
		return nil, err
	}
	return &Distribution{sink: sink, client: opts.Client}, nil
}

// Sink exposes the publishing sink so callers can fan commits out to Redis.
func (d *Distribution) Sink() *Sink {
	return d.sink
}

// Subscribe opens a subscription on the shared event stream scoped by filter.
func (d *Distribution) Subscribe(ctx context.Context, filter eventstore.Filter) (<-chan eventstore.Event, func(), error) {
	sub, err := NewSubscriber(SubscriberOptions{Client: d.client})
	if err != nil {
		return nil, nil, err
	}
	return sub.Subscribe(ctx, filter, d.sink)
}

// Close shuts down the publishing sink (and therefore the underlying Pulse
// client). Call this during service shutdown after all subscribers cancel.
func (d *Distribution) Close(ctx context.Context) error {
	return d.sink.Close(ctx)
}
