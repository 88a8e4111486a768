package httpapi

import (
	"context"

	"github.com/sandboxrun/core/runtime/agent/eventstore"
)

// pumpWakeEvents subscribes to the full commit stream and forwards every
// Wake-classified event to its run's Conductor client via ProcessEvent, so
// asynchronous terminal events appended directly to the store (rather than
// returned synchronously from Dispatcher.Execute) still drive Conductor
// decisioning. Runs until ctx is cancelled or the subscription itself ends.
func (s *Server) pumpWakeEvents(ctx context.Context) {
	events, cancel, err := s.store.Subscribe(ctx, eventstore.Filter{})
	if err != nil {
		s.logger.Error(ctx, "httpapi: wake-event subscribe failed", "error", err)
		return
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Metadata.WakePolicy != eventstore.Wake || ev.Metadata.RunID == "" {
				continue
			}
			client, ok := s.runs.get(ev.Metadata.RunID)
			if !ok {
				continue
			}
			if err := client.ProcessEvent(ctx, ev); err != nil {
				s.logger.Error(ctx, "httpapi: ProcessEvent failed", "run_id", ev.Metadata.RunID, "error", err)
			}
		}
	}
}
