package capability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sandboxrun/core/runtime/agent/eventstore"
	"github.com/sandboxrun/core/runtime/agent/events"
	"github.com/sandboxrun/core/runtime/agent/policy"
)

// Loop runs the uniform capability-worker turn:
//
//	RECEIVE_OBJECTIVE -> PLAN_STEP -> EXECUTE_TOOL -> OBSERVE ->
//	(PLAN_STEP | SYNTHESIZE) -> EMIT_REPORT
//
// It is grounded on the researcher actor's research_loop (plan_step /
// summarize, progress emitted on every transition) generalized so any
// capability can supply its own ToolExecutor in place of the researcher's
// provider calls.
type Loop struct {
	Capability string
	Policy     policy.WorkerPolicy
	Tools      ToolExecutor
	Store      eventstore.Store
	WorkerID   string
	UserID     string
}

// Run executes one full turn for in.
func (l *Loop) Run(ctx context.Context, in Input) (TurnReport, error) {
	if in.Objective == "" {
		return TurnReport{}, errors.New("capability: objective is required")
	}
	maxSteps := in.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	timeout := DefaultTimeout
	if in.TimeoutMS > 0 {
		timeout = time.Duration(in.TimeoutMS) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	loopID := in.CallID
	if loopID == "" {
		loopID = ulid.Make().String()
	}

	l.emitStarted(ctx, loopID, in.Objective)
	l.progress(ctx, in, "research_loop", "starting turn: "+in.Objective)

	var (
		evidence  []string
		citations []string
		lastErr   string
	)

	for step := 0; step < maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return l.synthesize(ctx, in, loopID, evidence, citations, "time budget exhausted")
		}

		plan, err := l.Policy.PlanStep(ctx, in.Objective, evidence)
		if err != nil {
			l.emitFailed(ctx, loopID, err.Error())
			return TurnReport{}, fmt.Errorf("capability: plan_step: %w", err)
		}

		if plan.Done {
			return l.synthesize(ctx, in, loopID, evidence, citations, "")
		}

		l.progress(ctx, in, "execute_tool", fmt.Sprintf("step %d: %s", step+1, plan.Tool))

		obs, err := l.Tools.Execute(ctx, plan.Tool, plan.Input)
		var blocked *BlockedError
		if errors.As(err, &blocked) {
			l.emitFailed(ctx, loopID, "blocked: "+blocked.Error())
			return TurnReport{Status: TurnBlocked, Summary: blocked.Error()}, nil
		}
		if err != nil {
			lastErr = err.Error()
			evidence = append(evidence, fmt.Sprintf("tool %q failed: %s", plan.Tool, lastErr))
			l.progress(ctx, in, "observe", "tool call failed: "+lastErr)
			continue
		}

		evidence = append(evidence, obs.Text)
		if obs.Citation != "" {
			citations = append(citations, obs.Citation)
		}
		l.emitFinding(ctx, loopID, step, obs.Text)
		l.progress(ctx, in, "observe", fmt.Sprintf("step %d observation recorded", step+1))
	}

	return l.synthesize(ctx, in, loopID, evidence, citations, "step budget exhausted")
}

// synthesize asks the policy to turn accumulated evidence into a final
// summary and builds the terminal TurnReport. incompleteReason, if
// non-empty, forces TurnIncomplete regardless of what the policy reports,
// matching the spec's "loop exhaustion forces Synthesize with status
// Incomplete" rule.
func (l *Loop) synthesize(ctx context.Context, in Input, loopID string, evidence, citations []string, incompleteReason string) (TurnReport, error) {
	l.progress(ctx, in, "synthesize", "summarizing evidence")

	summary, err := l.Policy.SummarizeEvidence(ctx, in.Objective, evidence)
	if err != nil {
		l.emitFailed(ctx, loopID, err.Error())
		return TurnReport{}, fmt.Errorf("capability: summarize_evidence: %w", err)
	}

	status := TurnCompleted
	if incompleteReason != "" {
		status = TurnIncomplete
	}

	report := TurnReport{
		Status:    status,
		Summary:   summary,
		Findings:  evidence,
		Citations: citations,
	}

	l.emitCompleted(ctx, loopID, summary)
	l.progress(ctx, in, "research_loop", "turn complete")
	return report, nil
}

// progress fans a transition out to in.ProgressSink (non-blocking) and, if
// a writer/run/call triple is present, mirrors it into the run document.
func (l *Loop) progress(ctx context.Context, in Input, phase, message string) {
	if in.ProgressSink != nil {
		select {
		case in.ProgressSink <- Progress{Phase: phase, Message: message}:
		default:
		}
	}
	if in.Writer != nil && in.RunID != "" && in.CallID != "" {
		_, _ = in.Writer.ReportSectionProgress(ctx, in.CallID, phase, message)
	}
}

func (l *Loop) emitStarted(ctx context.Context, loopID, objective string) {
	l.publish(ctx, events.WorkerTaskStarted, loopID, map[string]any{
		"status":    "started",
		"phase":     "research_loop",
		"objective": objective,
	})
}

func (l *Loop) emitCompleted(ctx context.Context, loopID, summary string) {
	l.publish(ctx, events.WorkerTaskCompleted, loopID, map[string]any{
		"status":  "completed",
		"phase":   "research_loop",
		"summary": summary,
	})
}

func (l *Loop) emitFailed(ctx context.Context, loopID, reason string) {
	l.publish(ctx, events.WorkerTaskFailed, loopID, map[string]any{
		"status": "failed",
		"phase":  "research_loop",
		"error":  reason,
	})
}

func (l *Loop) emitFinding(ctx context.Context, loopID string, step int, claim string) {
	l.publish(ctx, events.WorkerTaskFinding, loopID, map[string]any{
		"phase":      "finding",
		"finding_id": fmt.Sprintf("%s-%d", loopID, step),
		"claim":      claim,
	})
}

func (l *Loop) publish(ctx context.Context, t events.Type, loopID string, payload map[string]any) {
	if l.Store == nil {
		return
	}
	payload["task_id"] = loopID
	payload["worker_id"] = l.WorkerID
	l.Store.AppendAsync(ctx, eventstore.EventInput{
		EventType: string(t),
		ActorID:   l.WorkerID,
		UserID:    l.UserID,
		Payload:   payload,
		Metadata: eventstore.Metadata{
			WakePolicy: events.WakePolicyFor(t),
			RunID:      loopID,
			TaskID:     loopID,
			Capability: l.Capability,
		},
	})
}
