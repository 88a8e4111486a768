// Package conductor implements the per-run orchestration actor: it turns an
// objective into an agenda, dispatches capability workers item by item,
// aggregates their results, and finalizes the run as a toast or a Writer
// report.
package conductor

import (
	"context"
	"time"
)

type (
	// RunStatus is the Conductor's top-level state machine position.
	RunStatus string

	// AgendaItemStatus is the lifecycle state of one AgendaItem. Transitions
	// are monotonic: an item never regresses from Completed/Failed/Blocked/
	// Cancelled back to an earlier state.
	AgendaItemStatus string

	// OutputMode selects how a completed run's output is delivered.
	OutputMode string

	// AgendaItem is one unit of dispatchable work within a run.
	AgendaItem struct {
		ItemID     string
		Capability string
		Objective  string
		Status     AgendaItemStatus
		Retries    int
		LastError  string
		DependsOn  []string
	}

	// WorkerArtifact is one piece of output a capability worker produced for
	// an agenda item.
	WorkerArtifact struct {
		ArtifactID       string
		Kind             string
		ProducedByCallID string
		Summary          string
		Citations        []string
		ContentRef       string
	}

	// Toast is the short-form completion notice shown to the user when
	// OutputMode resolves to ToastWithReportLink.
	Toast struct {
		Message    string
		ReportPath string
	}

	// ConductorRunState is the full snapshot of one run.
	ConductorRunState struct {
		RunID             string
		UserID            string
		DesktopID         string
		Objective         string
		RefinedObjectives map[string]string
		CorrelationID     string

		Agenda []AgendaItem
		Status RunStatus

		Artifacts  []WorkerArtifact
		OutputMode OutputMode
		ReportPath string
		Toast      *Toast

		FailureCode    string
		FailureMessage string
		FailureKind    string

		CreatedAt   time.Time
		UpdatedAt   time.Time
		CompletedAt *time.Time
	}

	// WorkerPlanStep seeds one AgendaItem verbatim, bypassing
	// Policy.BootstrapAgenda.
	WorkerPlanStep struct {
		WorkerType      string
		Objective       string
		TerminalCommand string
		TimeoutMS       int
		MaxResults      int
		MaxSteps        int
	}

	// ExecuteRunRequest is the ExecuteRun call's input.
	ExecuteRunRequest struct {
		Objective     string
		DesktopID     string
		UserID        string
		OutputMode    OutputMode
		WorkerPlan    []WorkerPlanStep
		Hints         map[string]any
		CorrelationID string
	}

	// WorkerCall is the request the Conductor hands to a Dispatcher for one
	// dispatched agenda item.
	WorkerCall struct {
		RunID      string
		CallID     string
		ItemID     string
		Capability string
		Objective  string
	}

	// WorkerOutcomeKind discriminates WorkerOutcome.
	WorkerOutcomeKind string

	// WorkerOutcome is a capability worker's terminal result for one
	// WorkerCall.
	WorkerOutcome struct {
		Kind      WorkerOutcomeKind
		Artifacts []WorkerArtifact
		Summary   string
		Reason    string
	}

	// Dispatcher executes a WorkerCall against the capability worker
	// supervisor fabric and blocks until the worker reaches a terminal
	// result. The Conductor always calls Execute from a spawned goroutine so
	// its own mailbox stays responsive while the worker runs.
	Dispatcher interface {
		Execute(ctx context.Context, call WorkerCall) (WorkerOutcome, error)
	}
)

const (
	StatusQueued        RunStatus = "queued"
	StatusRunning       RunStatus = "running"
	StatusWaitingWorker RunStatus = "waiting_worker"
	StatusCompleted     RunStatus = "completed"
	StatusFailed        RunStatus = "failed"
	StatusBlocked       RunStatus = "blocked"

	ItemPending    AgendaItemStatus = "pending"
	ItemDispatched AgendaItemStatus = "dispatched"
	ItemCompleted  AgendaItemStatus = "completed"
	ItemFailed     AgendaItemStatus = "failed"
	ItemBlocked    AgendaItemStatus = "blocked"
	ItemCancelled  AgendaItemStatus = "cancelled"

	OutputMarkdownReportToWriter OutputMode = "markdown_report_to_writer"
	OutputToastWithReportLink    OutputMode = "toast_with_report_link"
	OutputAuto                   OutputMode = "auto"

	WorkerOutcomeSuccess WorkerOutcomeKind = "success"
	WorkerOutcomeBlocked WorkerOutcomeKind = "blocked"
	WorkerOutcomeFailed  WorkerOutcomeKind = "failed"
)

// maxItemRetries bounds how many times a Failed or Blocked agenda item is
// redispatched with a refined objective before the Conductor escalates to
// Policy.DecideNextAction. The spec leaves the exact bound unspecified
// ("bounded by retries"); 2 matches the teacher stack's general retry
// posture for recoverable-but-not-guaranteed external calls.
const maxItemRetries = 2

// autoToastMaxChars and autoToastMaxCitations gate the Auto output-mode
// resolution: short, lightly-cited output becomes a toast with a report
// link; anything larger goes to the Writer as a full Markdown report.
const (
	autoToastMaxChars     = 900
	autoToastMaxCitations = 2
)
