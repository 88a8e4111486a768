// Package capability implements the uniform capability-worker turn loop
// shared by every capability (researcher, terminal, ...): receive an
// objective, ask the worker policy to plan the next tool step, execute that
// step, observe the result, and repeat until the policy says to synthesize
// or the loop's step/time budget is exhausted.
//
// A capability supplies only a ToolExecutor; the loop, progress streaming,
// and Blocked/Failed classification are shared.
package capability

import (
	"fmt"
	"time"

	"github.com/sandboxrun/core/runtime/agent/conductor"
	"github.com/sandboxrun/core/runtime/agent/runwriter"
)

type (
	// TurnStatus is the terminal disposition of a worker turn.
	TurnStatus string

	// Input starts a capability worker turn.
	Input struct {
		// Objective is the capability-scoped task description.
		Objective string
		// TimeoutMS bounds the turn's wall-clock budget. Zero uses
		// DefaultTimeout.
		TimeoutMS int
		// MaxSteps bounds the number of PLAN_STEP/EXECUTE_TOOL rounds.
		// Zero uses DefaultMaxSteps.
		MaxSteps int
		// ProgressSink, if non-nil, receives a Progress message on every
		// state transition. Sends are non-blocking: a full channel drops
		// the message rather than stalling the loop.
		ProgressSink chan<- Progress
		// Writer, RunID, and CallID, if all set, additionally mirror every
		// transition into the run document via
		// Writer.ReportSectionProgress(ctx, CallID, phase, message) so the
		// live document reflects current state without rewriting prior
		// content.
		Writer *runwriter.Client
		RunID  string
		CallID string
	}

	// Progress is a single state-transition notification.
	Progress struct {
		Phase   string
		Message string
	}

	// TurnReport is the uniform result of a capability worker's turn,
	// regardless of which capability produced it.
	TurnReport struct {
		Status                   TurnStatus
		Summary                  string
		Findings                 []string
		Citations                []string
		Artifacts                []string
		NextCapabilitySuggestion string
	}
)

const (
	TurnCompleted  TurnStatus = "completed"
	TurnIncomplete TurnStatus = "incomplete"
	TurnBlocked    TurnStatus = "blocked"

	// DefaultMaxSteps bounds a turn when Input.MaxSteps is zero.
	DefaultMaxSteps = 8
	// DefaultTimeout bounds a turn when Input.TimeoutMS is zero.
	DefaultTimeout = 2 * time.Minute
)

// toOutcome adapts a TurnReport into the conductor.WorkerOutcome shape the
// Conductor's Dispatcher contract expects.
func (r TurnReport) toOutcome(artifactID string) conductor.WorkerOutcome {
	switch r.Status {
	case TurnBlocked:
		return conductor.WorkerOutcome{Kind: conductor.WorkerOutcomeBlocked, Reason: r.Summary}
	case TurnCompleted, TurnIncomplete:
		artifacts := make([]conductor.WorkerArtifact, 0, len(r.Artifacts)+1)
		artifacts = append(artifacts, conductor.WorkerArtifact{
			ArtifactID: artifactID,
			Kind:       "turn_report",
			Summary:    r.Summary,
			Citations:  r.Citations,
		})
		for i, a := range r.Artifacts {
			artifacts = append(artifacts, conductor.WorkerArtifact{
				ArtifactID: fmt.Sprintf("%s-%d", artifactID, i),
				Kind:       "artifact_ref",
				Summary:    a,
			})
		}
		return conductor.WorkerOutcome{Kind: conductor.WorkerOutcomeSuccess, Summary: r.Summary, Artifacts: artifacts}
	default:
		return conductor.WorkerOutcome{Kind: conductor.WorkerOutcomeFailed, Reason: "unknown turn status"}
	}
}
