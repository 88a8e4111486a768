// Package mocks provides a hand-rolled test double for
// github.com/sandboxrun/core/features/session/mongo/clients/mongo.Client.
// Each expected call is enqueued with an AddXxx method and consumed in FIFO
// order by the real method; a test fails immediately if a call arrives out
// of order or the queue runs dry.
package mocks

import (
	"context"
	"testing"
	"time"

	"github.com/sandboxrun/core/runtime/agent/session"
)

type (
	createSessionFunc     func(ctx context.Context, sessionID string, createdAt time.Time) (session.Session, error)
	loadSessionFunc       func(ctx context.Context, sessionID string) (session.Session, error)
	endSessionFunc        func(ctx context.Context, sessionID string, endedAt time.Time) (session.Session, error)
	upsertRunFunc         func(ctx context.Context, run session.RunMeta) error
	loadRunFunc           func(ctx context.Context, runID string) (session.RunMeta, error)
	listRunsBySessionFunc func(ctx context.Context, sessionID string, statuses []session.RunStatus) ([]session.RunMeta, error)

	// Client is a FIFO-queue-based test double for the session Mongo client.
	Client struct {
		t *testing.T

		createSession     []createSessionFunc
		loadSession       []loadSessionFunc
		endSession        []endSessionFunc
		upsertRun         []upsertRunFunc
		loadRun           []loadRunFunc
		listRunsBySession []listRunsBySessionFunc
	}
)

// NewClient returns an empty mock Client scoped to t.
func NewClient(t *testing.T) *Client {
	return &Client{t: t}
}

// HasMore reports whether any queued expectation has not yet been consumed.
func (c *Client) HasMore() bool {
	return len(c.createSession) > 0 || len(c.loadSession) > 0 || len(c.endSession) > 0 ||
		len(c.upsertRun) > 0 || len(c.loadRun) > 0 || len(c.listRunsBySession) > 0
}

// AddCreateSession enqueues an expected CreateSession call.
func (c *Client) AddCreateSession(fn createSessionFunc) {
	c.createSession = append(c.createSession, fn)
}

// AddLoadSession enqueues an expected LoadSession call.
func (c *Client) AddLoadSession(fn loadSessionFunc) {
	c.loadSession = append(c.loadSession, fn)
}

// AddEndSession enqueues an expected EndSession call.
func (c *Client) AddEndSession(fn endSessionFunc) {
	c.endSession = append(c.endSession, fn)
}

// AddUpsertRun enqueues an expected UpsertRun call.
func (c *Client) AddUpsertRun(fn upsertRunFunc) {
	c.upsertRun = append(c.upsertRun, fn)
}

// AddLoadRun enqueues an expected LoadRun call.
func (c *Client) AddLoadRun(fn loadRunFunc) {
	c.loadRun = append(c.loadRun, fn)
}

// AddListRunsBySession enqueues an expected ListRunsBySession call.
func (c *Client) AddListRunsBySession(fn listRunsBySessionFunc) {
	c.listRunsBySession = append(c.listRunsBySession, fn)
}

// Name implements health.Pinger.
func (c *Client) Name() string { return "session-mongo-mock" }

// Ping implements health.Pinger.
func (c *Client) Ping(context.Context) error { return nil }

func (c *Client) CreateSession(ctx context.Context, sessionID string, createdAt time.Time) (session.Session, error) {
	if len(c.createSession) == 0 {
		c.t.Fatalf("unexpected CreateSession(%q) call: no expectation queued", sessionID)
	}
	fn := c.createSession[0]
	c.createSession = c.createSession[1:]
	return fn(ctx, sessionID, createdAt)
}

func (c *Client) LoadSession(ctx context.Context, sessionID string) (session.Session, error) {
	if len(c.loadSession) == 0 {
		c.t.Fatalf("unexpected LoadSession(%q) call: no expectation queued", sessionID)
	}
	fn := c.loadSession[0]
	c.loadSession = c.loadSession[1:]
	return fn(ctx, sessionID)
}

func (c *Client) EndSession(ctx context.Context, sessionID string, endedAt time.Time) (session.Session, error) {
	if len(c.endSession) == 0 {
		c.t.Fatalf("unexpected EndSession(%q) call: no expectation queued", sessionID)
	}
	fn := c.endSession[0]
	c.endSession = c.endSession[1:]
	return fn(ctx, sessionID, endedAt)
}

func (c *Client) UpsertRun(ctx context.Context, run session.RunMeta) error {
	if len(c.upsertRun) == 0 {
		c.t.Fatalf("unexpected UpsertRun(%q) call: no expectation queued", run.RunID)
	}
	fn := c.upsertRun[0]
	c.upsertRun = c.upsertRun[1:]
	return fn(ctx, run)
}

func (c *Client) LoadRun(ctx context.Context, runID string) (session.RunMeta, error) {
	if len(c.loadRun) == 0 {
		c.t.Fatalf("unexpected LoadRun(%q) call: no expectation queued", runID)
	}
	fn := c.loadRun[0]
	c.loadRun = c.loadRun[1:]
	return fn(ctx, runID)
}

func (c *Client) ListRunsBySession(ctx context.Context, sessionID string, statuses []session.RunStatus) ([]session.RunMeta, error) {
	if len(c.listRunsBySession) == 0 {
		c.t.Fatalf("unexpected ListRunsBySession(%q) call: no expectation queued", sessionID)
	}
	fn := c.listRunsBySession[0]
	c.listRunsBySession = c.listRunsBySession[1:]
	return fn(ctx, sessionID, statuses)
}
