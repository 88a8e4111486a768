package httpapi

import (
	"time"

	"github.com/sandboxrun/core/runtime/agent/conductor"
	"github.com/sandboxrun/core/runtime/agent/eventstore"
)

// executeRequest is the wire shape of POST /conductor/execute.
type executeRequest struct {
	Objective     string           `json:"objective"`
	DesktopID     string           `json:"desktop_id"`
	UserID        string           `json:"user_id,omitempty"`
	OutputMode    string           `json:"output_mode,omitempty"`
	WorkerPlan    []workerStepWire `json:"worker_plan,omitempty"`
	Hints         map[string]any   `json:"hints,omitempty"`
	CorrelationID string           `json:"correlation_id,omitempty"`
}

type workerStepWire struct {
	WorkerType      string `json:"worker_type"`
	Objective       string `json:"objective,omitempty"`
	TerminalCommand string `json:"terminal_command,omitempty"`
	TimeoutMS       int    `json:"timeout_ms,omitempty"`
	MaxResults      int    `json:"max_results,omitempty"`
	MaxSteps        int    `json:"max_steps,omitempty"`
}

// outputModeFromWire maps the spec's PascalCase output_mode enum onto the
// Conductor's internal snake_case OutputMode values. Unrecognized or empty
// values default to Auto, matching the Conductor's own "Auto" resolution
// default.
func outputModeFromWire(s string) conductor.OutputMode {
	switch s {
	case "MarkdownReportToWriter":
		return conductor.OutputMarkdownReportToWriter
	case "ToastWithReportLink":
		return conductor.OutputToastWithReportLink
	case "Auto", "":
		return conductor.OutputAuto
	default:
		return conductor.OutputAuto
	}
}

func (req executeRequest) toDomain() conductor.ExecuteRunRequest {
	plan := make([]conductor.WorkerPlanStep, 0, len(req.WorkerPlan))
	for _, s := range req.WorkerPlan {
		plan = append(plan, conductor.WorkerPlanStep{
			WorkerType:      s.WorkerType,
			Objective:       s.Objective,
			TerminalCommand: s.TerminalCommand,
			TimeoutMS:       s.TimeoutMS,
			MaxResults:      s.MaxResults,
			MaxSteps:        s.MaxSteps,
		})
	}
	return conductor.ExecuteRunRequest{
		Objective:     req.Objective,
		DesktopID:     req.DesktopID,
		UserID:        req.UserID,
		OutputMode:    outputModeFromWire(req.OutputMode),
		WorkerPlan:    plan,
		Hints:         req.Hints,
		CorrelationID: req.CorrelationID,
	}
}

// taskStateWire is the ConductorTaskState response: the full run snapshot,
// returned both from POST /conductor/execute and GET .../state.
type taskStateWire struct {
	RunID             string            `json:"run_id"`
	UserID            string            `json:"user_id,omitempty"`
	DesktopID         string            `json:"desktop_id"`
	Objective         string            `json:"objective"`
	RefinedObjectives map[string]string `json:"refined_objectives,omitempty"`
	CorrelationID     string            `json:"correlation_id,omitempty"`

	Agenda []agendaItemWire `json:"agenda"`
	Status string           `json:"status"`

	Artifacts  []artifactWire `json:"artifacts,omitempty"`
	OutputMode string         `json:"output_mode"`
	ReportPath string         `json:"report_path,omitempty"`
	Toast      *toastWire     `json:"toast,omitempty"`

	FailureCode    string `json:"failure_code,omitempty"`
	FailureMessage string `json:"failure_message,omitempty"`
	FailureKind    string `json:"failure_kind,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type agendaItemWire struct {
	ItemID     string   `json:"item_id"`
	Capability string   `json:"capability"`
	Objective  string   `json:"objective"`
	Status     string   `json:"status"`
	Retries    int      `json:"retries"`
	LastError  string   `json:"last_error,omitempty"`
	DependsOn  []string `json:"depends_on,omitempty"`
}

type artifactWire struct {
	ArtifactID       string   `json:"artifact_id"`
	Kind             string   `json:"kind"`
	ProducedByCallID string   `json:"produced_by_call_id,omitempty"`
	Summary          string   `json:"summary,omitempty"`
	Citations        []string `json:"citations,omitempty"`
	ContentRef       string   `json:"content_ref,omitempty"`
}

type toastWire struct {
	Message    string `json:"message"`
	ReportPath string `json:"report_path,omitempty"`
}

func taskStateFromDomain(s conductor.ConductorRunState) taskStateWire {
	agenda := make([]agendaItemWire, 0, len(s.Agenda))
	for _, it := range s.Agenda {
		agenda = append(agenda, agendaItemWire{
			ItemID:     it.ItemID,
			Capability: it.Capability,
			Objective:  it.Objective,
			Status:     string(it.Status),
			Retries:    it.Retries,
			LastError:  it.LastError,
			DependsOn:  it.DependsOn,
		})
	}
	artifacts := make([]artifactWire, 0, len(s.Artifacts))
	for _, a := range s.Artifacts {
		artifacts = append(artifacts, artifactWire{
			ArtifactID:       a.ArtifactID,
			Kind:             a.Kind,
			ProducedByCallID: a.ProducedByCallID,
			Summary:          a.Summary,
			Citations:        a.Citations,
			ContentRef:       a.ContentRef,
		})
	}
	var toast *toastWire
	if s.Toast != nil {
		toast = &toastWire{Message: s.Toast.Message, ReportPath: s.Toast.ReportPath}
	}
	return taskStateWire{
		RunID:             s.RunID,
		UserID:            s.UserID,
		DesktopID:         s.DesktopID,
		Objective:         s.Objective,
		RefinedObjectives: s.RefinedObjectives,
		CorrelationID:     s.CorrelationID,
		Agenda:            agenda,
		Status:            string(s.Status),
		Artifacts:         artifacts,
		OutputMode:        string(s.OutputMode),
		ReportPath:        s.ReportPath,
		Toast:             toast,
		FailureCode:       s.FailureCode,
		FailureMessage:    s.FailureMessage,
		FailureKind:       s.FailureKind,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
		CompletedAt:       s.CompletedAt,
	}
}

// runStatusWire is the lighter GET /conductor/runs/{run_id} snapshot: just
// enough to poll for completion without pulling the full agenda/artifact
// payload every time.
type runStatusWire struct {
	RunID       string    `json:"run_id"`
	Status      string    `json:"status"`
	UpdatedAt   time.Time `json:"updated_at"`
	ItemsDone   int       `json:"items_done"`
	ItemsTotal  int       `json:"items_total"`
	FailureKind string    `json:"failure_kind,omitempty"`
}

func runStatusFromDomain(s conductor.ConductorRunState) runStatusWire {
	done := 0
	for _, it := range s.Agenda {
		switch it.Status {
		case conductor.ItemCompleted, conductor.ItemFailed, conductor.ItemBlocked, conductor.ItemCancelled:
			done++
		}
	}
	return runStatusWire{
		RunID:       s.RunID,
		Status:      string(s.Status),
		UpdatedAt:   s.UpdatedAt,
		ItemsDone:   done,
		ItemsTotal:  len(s.Agenda),
		FailureKind: s.FailureKind,
	}
}

// eventWire is the wire shape of one eventstore.Event, shared by
// /logs/events, /logs/events.jsonl, and the WS live-tail.
type eventWire struct {
	Seq       int64  `json:"seq"`
	EventID   string `json:"event_id"`
	Timestamp string `json:"timestamp"`
	EventType string `json:"event_type"`
	ActorID   string `json:"actor_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

func eventFromDomain(e eventstore.Event) eventWire {
	return eventWire{
		Seq:       e.Seq,
		EventID:   e.EventID,
		Timestamp: e.Timestamp.Format(time.RFC3339Nano),
		EventType: e.EventType,
		ActorID:   e.ActorID,
		UserID:    e.UserID,
		Payload:   e.Payload,
	}
}
