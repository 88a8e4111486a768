package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sandboxrun/core/runtime/agent/conductor"
	"github.com/sandboxrun/core/runtime/agent/eventstore"
	"github.com/sandboxrun/core/runtime/agent/eventstore/inmem"
	"github.com/sandboxrun/core/runtime/agent/policy"
)

func eventstoreInput(eventType, actorID string) eventstore.EventInput {
	return eventstore.EventInput{EventType: eventType, ActorID: actorID, Payload: map[string]any{"ok": true}}
}

type stubPolicy struct{}

func (p *stubPolicy) BootstrapAgenda(context.Context, string, string) ([]policy.AgendaItem, error) {
	return nil, nil
}

func (p *stubPolicy) DecideNextAction(context.Context, policy.RunView) (policy.Decision, error) {
	return policy.Decision{Kind: policy.DecisionComplete, Output: "done"}, nil
}

func (p *stubPolicy) RefineObjectiveForCapability(_ context.Context, objective, _ string) (string, error) {
	return objective, nil
}

type stubDispatcher struct{}

func (d *stubDispatcher) Execute(context.Context, conductor.WorkerCall) (conductor.WorkerOutcome, error) {
	return conductor.WorkerOutcome{Kind: conductor.WorkerOutcomeSuccess, Summary: "done"}, nil
}

func newTestServer() *Server {
	return NewServer(Config{
		Store:      inmem.New(),
		Policy:     &stubPolicy{},
		Dispatcher: &stubDispatcher{},
		Host:       "127.0.0.1",
		Port:       0,
	})
}

func TestHandleExecuteReturnsTaskState(t *testing.T) {
	s := newTestServer()
	srv := httptest.NewServer(s)
	defer srv.Close()

	body, _ := json.Marshal(executeRequest{
		Objective: "find the budget report",
		DesktopID: "desktop-1",
		WorkerPlan: []workerStepWire{
			{WorkerType: "Researcher", Objective: "find the budget report"},
		},
	})
	resp, err := http.Post(srv.URL+"/conductor/execute", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var state taskStateWire
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	require.NotEmpty(t, state.RunID)
	require.Len(t, state.Agenda, 1)
}

func TestHandleExecuteRejectsEmptyObjective(t *testing.T) {
	s := newTestServer()
	srv := httptest.NewServer(s)
	defer srv.Close()

	body, _ := json.Marshal(executeRequest{DesktopID: "desktop-1"})
	resp, err := http.Post(srv.URL+"/conductor/execute", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleRunStatusAndStateRoundTrip(t *testing.T) {
	s := newTestServer()
	srv := httptest.NewServer(s)
	defer srv.Close()

	body, _ := json.Marshal(executeRequest{
		Objective:  "find the budget report",
		DesktopID:  "desktop-1",
		WorkerPlan: []workerStepWire{{WorkerType: "Researcher", Objective: "find it"}},
	})
	resp, err := http.Post(srv.URL+"/conductor/execute", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	var state taskStateWire
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	resp.Body.Close()

	statusResp, err := http.Get(srv.URL + "/conductor/runs/" + state.RunID)
	require.NoError(t, err)
	defer statusResp.Body.Close()
	require.Equal(t, http.StatusOK, statusResp.StatusCode)
	var status runStatusWire
	require.NoError(t, json.NewDecoder(statusResp.Body).Decode(&status))
	require.Equal(t, state.RunID, status.RunID)

	stateResp, err := http.Get(srv.URL + "/conductor/runs/" + state.RunID + "/state")
	require.NoError(t, err)
	defer stateResp.Body.Close()
	require.Equal(t, http.StatusOK, stateResp.StatusCode)
}

func TestHandleRunStatusUnknownRunIs404(t *testing.T) {
	s := newTestServer()
	srv := httptest.NewServer(s)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/conductor/runs/does-not-exist")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleLogsEventsFiltersAndClamps(t *testing.T) {
	store := inmem.New()
	s := NewServer(Config{Store: store, Policy: &stubPolicy{}, Dispatcher: &stubDispatcher{}})
	srv := httptest.NewServer(s)
	defer srv.Close()

	for i := 0; i < 5; i++ {
		store.AppendAsync(context.Background(), eventstoreInput("worker.task.progress", "actor-1"))
	}

	resp, err := http.Get(srv.URL + "/logs/events?limit=2")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Events []eventWire `json:"events"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Events, 2)
}

func TestHandleLogsEventsJSONLContentType(t *testing.T) {
	store := inmem.New()
	s := NewServer(Config{Store: store, Policy: &stubPolicy{}, Dispatcher: &stubDispatcher{}})
	srv := httptest.NewServer(s)
	defer srv.Close()

	store.AppendAsync(context.Background(), eventstoreInput("worker.task.progress", "actor-1"))

	resp, err := http.Get(srv.URL + "/logs/events.jsonl")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))
}

func TestServerStartAndShutdown(t *testing.T) {
	s := NewServer(Config{Store: inmem.New(), Policy: &stubPolicy{}, Dispatcher: &stubDispatcher{}, Host: "127.0.0.1", Port: 0})
	_ = s
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}
