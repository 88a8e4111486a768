package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/sandboxrun/core/runtime/agent/eventstore"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

// handleExecute implements POST /conductor/execute: it mints a run_id,
// spawns the run's Writer and Conductor actors, and synchronously returns
// the state once the first dispatch round has settled.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}

	runID := ulid.Make().String()
	client, _, err := s.registerRun(r.Context(), runID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	state, err := client.ExecuteRun(r.Context(), req.toDomain())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, taskStateFromDomain(state))
}

// handleRunStatus implements GET /conductor/runs/{run_id}: the lightweight
// status snapshot.
func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	client, ok := s.runs.get(runID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found: " + runID})
		return
	}
	state, err := client.GetState(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runStatusFromDomain(state))
}

// handleRunState implements GET /conductor/runs/{run_id}/state: the full
// ConductorTaskState snapshot.
func (s *Server) handleRunState(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	client, ok := s.runs.get(runID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found: " + runID})
		return
	}
	state, err := client.GetState(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, taskStateFromDomain(state))
}

// parseFilter builds an eventstore.Filter from the query parameters shared
// by /logs/events, /logs/events.jsonl, and /ws/logs/events.
func parseFilter(r *http.Request) eventstore.Filter {
	q := r.URL.Query()
	var since int64
	if v := q.Get("since_seq"); v != "" {
		since, _ = strconv.ParseInt(v, 10, 64)
	}
	limit := 100
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	return eventstore.Filter{
		SinceSeq:        since,
		Limit:           eventstore.ClampLimit(limit),
		EventTypePrefix: q.Get("event_type_prefix"),
		ActorID:         q.Get("actor_id"),
		UserID:          q.Get("user_id"),
	}
}

// handleLogsEvents implements GET /logs/events: a filtered JSON snapshot.
func (s *Server) handleLogsEvents(w http.ResponseWriter, r *http.Request) {
	filter := parseFilter(r)
	events, err := s.store.GetRecent(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	wire := make([]eventWire, 0, len(events))
	for _, e := range events {
		wire = append(wire, eventFromDomain(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": wire})
}

// handleLogsEventsJSONL implements GET /logs/events.jsonl: the same filter
// set as handleLogsEvents, rendered as newline-delimited JSON.
func (s *Server) handleLogsEventsJSONL(w http.ResponseWriter, r *http.Request) {
	filter := parseFilter(r)
	events, err := s.store.GetRecent(r.Context(), filter)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	for _, e := range events {
		_ = enc.Encode(eventFromDomain(e))
	}
}
