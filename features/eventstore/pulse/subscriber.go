package pulse

import (
	"context"
	"encoding/json"
	"errors"

	clientspulse "github.com/sandboxrun/core/features/eventstore/pulse/clients/pulse"
	"github.com/sandboxrun/core/runtime/agent/eventstore"
)

// subscriberQueueDepth bounds how far a Pulse-backed subscriber may lag
// before it is disconnected rather than allowed to block delivery.
const subscriberQueueDepth = 256

type (
	// SubscriberOptions configures a Pulse-backed subscriber.
	SubscriberOptions struct {
		// Client is the Pulse client used to consume events. Required.
		Client clientspulse.Client
		// SinkName identifies the Pulse consumer group. Defaults to
		// "sandbox_eventstore".
		SinkName string
	}

	// Subscriber consumes the Pulse stream Sink publishes to and
	// re-emits eventstore.Event values, applying an eventstore.Filter
	// client-side since every commit shares one underlying stream.
	Subscriber struct {
		client clientspulse.Client
		name   string
	}
)

// NewSubscriber constructs a Pulse-backed subscriber. Client is required;
// SinkName defaults if empty.
func NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	name := opts.SinkName
	if name == "" {
		name = "sandbox_eventstore"
	}
	return &Subscriber{client: opts.Client, name: name}, nil
}

// Subscribe opens a Pulse sink on the shared event stream and returns a
// channel of events matching filter, plus a cancel function. A subscriber
// that cannot keep up is disconnected: its channel is closed and a
// subscriber_lagged event is published through sink rather than delivered
// to this subscriber.
func (s *Subscriber) Subscribe(ctx context.Context, filter eventstore.Filter, sink *Sink) (<-chan eventstore.Event, func(), error) {
	str, err := s.client.Stream(defaultStreamName)
	if err != nil {
		return nil, nil, err
	}
	pulseSink, err := str.NewSink(ctx, s.name)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan eventstore.Event, subscriberQueueDepth)
	runCtx, cancel := context.WithCancel(ctx)
	go s.consume(runCtx, pulseSink, filter, sink, out)

	cancelFunc := func() {
		cancel()
		pulseSink.Close(context.Background())
	}
	return out, cancelFunc, nil
}

func (s *Subscriber) consume(ctx context.Context, sink clientspulse.Sink, filter eventstore.Filter, lagSink *Sink, out chan<- eventstore.Event) {
	defer close(out)
	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-ch:
			if !ok {
				return
			}
			var env Envelope
			if err := json.Unmarshal(raw.Payload, &env); err != nil {
				continue
			}
			e := fromEnvelope(env)
			if e.Seq <= filter.SinceSeq || !filter.Matches(e) {
				_ = sink.Ack(ctx, raw)
				continue
			}
			select {
			case out <- e:
				_ = sink.Ack(ctx, raw)
			case <-ctx.Done():
				return
			default:
				if lagSink != nil {
					_ = lagSink.Publish(context.Background(), eventstore.Event{
						EventType: "eventstore.subscriber_lagged",
						ActorID:   "eventstore",
						Metadata:  eventstore.Metadata{WakePolicy: eventstore.DisplayOnly},
					})
				}
				return
			}
		}
	}
}
