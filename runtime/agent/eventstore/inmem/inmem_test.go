package inmem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sandboxrun/core/runtime/agent/eventstore"
)

func TestStoreAppendAssignsSeq(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		e, err := s.Append(ctx, eventstore.EventInput{
			EventType: "chat.user_msg",
			ActorID:   "chat-1",
		})
		require.NoError(t, err)
		require.Equal(t, int64(i+1), e.Seq)
		require.NotEmpty(t, e.EventID)
	}
}

func TestStoreAppendValidation(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	_, err := s.Append(ctx, eventstore.EventInput{ActorID: "chat-1"})
	require.ErrorIs(t, err, eventstore.ErrEventTypeRequired)

	_, err = s.Append(ctx, eventstore.EventInput{EventType: "chat.user_msg"})
	require.ErrorIs(t, err, eventstore.ErrActorIDRequired)
}

func TestStoreGetRecentOrderingAndFilter(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	types := []struct {
		eventType string
		actorID   string
	}{
		{"worker.task.started", "supervisor-1"},
		{"chat.user_msg", "chat-1"},
		{"worker.task.progress", "supervisor-1"},
	}
	for _, tc := range types {
		_, err := s.Append(ctx, eventstore.EventInput{EventType: tc.eventType, ActorID: tc.actorID})
		require.NoError(t, err)
	}

	events, err := s.GetRecent(ctx, eventstore.Filter{
		EventTypePrefix: "worker.task",
		ActorID:         "supervisor-1",
		Limit:           10,
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "worker.task.started", events[0].EventType)
	require.Equal(t, "worker.task.progress", events[1].EventType)
	require.Less(t, events[0].Seq, events[1].Seq)
}

func TestStoreGetRecentSinceSeq(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	var last eventstore.Event
	for i := 0; i < 3; i++ {
		e, err := s.Append(ctx, eventstore.EventInput{EventType: "chat.user_msg", ActorID: "chat-1"})
		require.NoError(t, err)
		last = e
	}

	events, err := s.GetRecent(ctx, eventstore.Filter{SinceSeq: last.Seq - 1, Limit: 10})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, last.Seq, events[0].Seq)
}

func TestStoreGetRecentClampsLimit(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Append(ctx, eventstore.EventInput{EventType: "chat.user_msg", ActorID: "chat-1"})
		require.NoError(t, err)
	}

	events, err := s.GetRecent(ctx, eventstore.Filter{Limit: -5})
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestStoreSubscribeDeliversNewEvents(t *testing.T) {
	t.Parallel()

	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, unsubscribe, err := s.Subscribe(ctx, eventstore.Filter{})
	require.NoError(t, err)
	defer unsubscribe()

	e, err := s.Append(context.Background(), eventstore.EventInput{EventType: "chat.user_msg", ActorID: "chat-1"})
	require.NoError(t, err)

	got := <-ch
	require.Equal(t, e.Seq, got.Seq)
}

func TestStoreSubscribeDropsLaggingSubscriber(t *testing.T) {
	t.Parallel()

	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, _, err := s.Subscribe(ctx, eventstore.Filter{})
	require.NoError(t, err)

	for i := 0; i < subscriberQueueDepth+10; i++ {
		_, err := s.Append(context.Background(), eventstore.EventInput{EventType: "chat.user_msg", ActorID: "chat-1"})
		require.NoError(t, err)
	}

	_, ok := <-ch
	for ok {
		_, ok = <-ch
	}
}
