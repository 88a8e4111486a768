package conductor

import (
	"context"
	"time"

	"github.com/sandboxrun/core/runtime/agent/actor"
	"github.com/sandboxrun/core/runtime/agent/eventstore"
)

// Client is a typed, blocking facade over an actor.Ref spawned with a
// *Conductor handler, for callers (the HTTP API, the event-store
// subscription pump) that only hold a Ref.
type Client struct {
	ref     actor.Ref
	timeout time.Duration
}

// NewClient wraps ref. A zero timeout uses actor.DefaultCallTimeout.
func NewClient(ref actor.Ref, timeout time.Duration) *Client {
	return &Client{ref: ref, timeout: timeout}
}

// ExecuteRun seeds and starts the run, returning its state once the first
// DispatchReady round has settled (a dispatch in flight, or a terminal
// Blocked/Completed transition for a trivially-empty agenda).
func (c *Client) ExecuteRun(ctx context.Context, req ExecuteRunRequest) (ConductorRunState, error) {
	out, err := c.ref.Call(ctx, func(r actor.ReplyPort) any { return executeRunMsg{req, r} }, c.timeout)
	state, _ := out.(ConductorRunState)
	return state, err
}

// GetState returns the current ConductorRunState snapshot.
func (c *Client) GetState(ctx context.Context) (ConductorRunState, error) {
	out, err := c.ref.Call(ctx, func(r actor.ReplyPort) any { return getStateMsg{r} }, c.timeout)
	state, _ := out.(ConductorRunState)
	return state, err
}

// ProcessEvent forwards a Wake-classified event from the event-store
// subscription pump into the conductor's mailbox. Fire-and-forget: the
// conductor applies it asynchronously to its own serialized state.
func (c *Client) ProcessEvent(ctx context.Context, ev eventstore.Event) error {
	return c.ref.Send(ctx, processEventMsg{event: ev})
}
