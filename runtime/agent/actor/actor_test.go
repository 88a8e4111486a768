package actor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// echoHandler replies with whatever it receives via the embedded ReplyPort
// and records every non-call message it observes.
type echoHandler struct {
	mu       sync.Mutex
	received []any
	preErr   error
}

type echoCall struct {
	value any
	reply ReplyPort
}

func (h *echoHandler) PreStart(context.Context) error { return h.preErr }

func (h *echoHandler) Handle(_ context.Context, msg any) error {
	if call, ok := msg.(echoCall); ok {
		call.reply.Reply(call.value, nil)
		return nil
	}
	h.mu.Lock()
	h.received = append(h.received, msg)
	h.mu.Unlock()
	return nil
}

func (h *echoHandler) HandleSupervision(_ context.Context, ev SupervisionEvent) error {
	h.mu.Lock()
	h.received = append(h.received, ev)
	h.mu.Unlock()
	return nil
}

func TestSendDeliversInOrder(t *testing.T) {
	h := &echoHandler{}
	r, err := Spawn(context.Background(), Ident{Kind: "test", ID: "a"}, h, SpawnOptions{})
	require.NoError(t, err)
	defer r.Stop()

	for i := 0; i < 5; i++ {
		require.NoError(t, r.Send(context.Background(), i))
	}
	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.received) == 5
	}, time.Second, time.Millisecond)

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, v := range h.received {
		require.Equal(t, i, v)
	}
}

func TestCallReturnsReply(t *testing.T) {
	h := &echoHandler{}
	r, err := Spawn(context.Background(), Ident{Kind: "test", ID: "b"}, h, SpawnOptions{})
	require.NoError(t, err)
	defer r.Stop()

	out, err := r.Call(context.Background(), func(reply ReplyPort) any {
		return echoCall{value: "hi", reply: reply}
	}, time.Second)
	require.NoError(t, err)
	require.Equal(t, "hi", out)
}

// blockingHandler never replies, forcing callers to observe Call's timeout.
type blockingHandler struct{}

func (blockingHandler) PreStart(context.Context) error { return nil }
func (blockingHandler) Handle(context.Context, any) error {
	select {}
}
func (blockingHandler) HandleSupervision(context.Context, SupervisionEvent) error { return nil }

func TestCallTimesOutWithoutBlockingActor(t *testing.T) {
	h := blockingHandler{}
	r, err := Spawn(context.Background(), Ident{Kind: "test", ID: "c"}, h, SpawnOptions{})
	require.NoError(t, err)
	defer r.Stop()

	_, err = r.Call(context.Background(), func(reply ReplyPort) any {
		return echoCall{value: "never", reply: reply}
	}, 20*time.Millisecond)
	require.Error(t, err)
	var callErr *CallError
	require.True(t, errors.As(err, &callErr))
	require.ErrorIs(t, callErr, ErrCallTimeout)
}

func TestPreStartFailurePreventsSpawn(t *testing.T) {
	h := &echoHandler{preErr: errors.New("boom")}
	_, err := Spawn(context.Background(), Ident{Kind: "test", ID: "d"}, h, SpawnOptions{})
	require.Error(t, err)
	var preErr *PreStartError
	require.True(t, errors.As(err, &preErr))
}

func TestSendAfterStopFails(t *testing.T) {
	h := &echoHandler{}
	r, err := Spawn(context.Background(), Ident{Kind: "test", ID: "e"}, h, SpawnOptions{})
	require.NoError(t, err)
	r.Stop()
	require.Eventually(t, r.IsStopped, time.Second, time.Millisecond)

	err = r.Send(context.Background(), "late")
	require.Error(t, err)
	var sendErr *SendError
	require.True(t, errors.As(err, &sendErr))
	require.ErrorIs(t, sendErr, ErrActorStopped)
}

// panicHandler panics on the first message to exercise Failed supervision.
type panicHandler struct{}

func (panicHandler) PreStart(context.Context) error { return nil }
func (panicHandler) Handle(context.Context, any) error {
	panic("kaboom")
}
func (panicHandler) HandleSupervision(context.Context, SupervisionEvent) error { return nil }

func TestPanicNotifiesSupervisorAsFailed(t *testing.T) {
	sup := &echoHandler{}
	supRef, err := Spawn(context.Background(), Ident{Kind: "test", ID: "sup"}, sup, SpawnOptions{})
	require.NoError(t, err)
	defer supRef.Stop()

	child, err := Spawn(context.Background(), Ident{Kind: "test", ID: "child"}, panicHandler{}, SpawnOptions{Supervisor: supRef})
	require.NoError(t, err)

	require.NoError(t, child.Send(context.Background(), "trigger"))

	require.Eventually(t, func() bool {
		sup.mu.Lock()
		defer sup.mu.Unlock()
		for _, msg := range sup.received {
			if sv, ok := msg.(SupervisionEvent); ok {
				return sv.Reason == Failed && sv.Child == child.Ident()
			}
		}
		return false
	}, time.Second, time.Millisecond)
}

func TestRegistryRegisterWhereIsUnregister(t *testing.T) {
	reg := NewRegistry()
	h := &echoHandler{}
	r, err := Spawn(context.Background(), Ident{Kind: "conductor", ID: "run-1"}, h, SpawnOptions{})
	require.NoError(t, err)
	defer r.Stop()

	require.NoError(t, reg.Register(r))

	found, ok := reg.WhereIs(Ident{Kind: "conductor", ID: "run-1"})
	require.True(t, ok)
	require.Equal(t, r.Ident(), found.Ident())

	err = reg.Register(r)
	require.Error(t, err)

	reg.Unregister(r.Ident())
	_, ok = reg.WhereIs(Ident{Kind: "conductor", ID: "run-1"})
	require.False(t, ok)
}

func TestRegistryWhereIsReportsStoppedAsAbsent(t *testing.T) {
	reg := NewRegistry()
	h := &echoHandler{}
	r, err := Spawn(context.Background(), Ident{Kind: "conductor", ID: "run-2"}, h, SpawnOptions{})
	require.NoError(t, err)
	require.NoError(t, reg.Register(r))

	r.Stop()
	require.Eventually(t, r.IsStopped, time.Second, time.Millisecond)

	_, ok := reg.WhereIs(Ident{Kind: "conductor", ID: "run-2"})
	require.False(t, ok)
}

func TestIdentString(t *testing.T) {
	id := Ident{Kind: "conductor", ID: "run-123"}
	require.Equal(t, "conductor:run-123", id.String())
}
