package conductor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sandboxrun/core/runtime/agent/actor"
	"github.com/sandboxrun/core/runtime/agent/policy"
)

type stubPolicy struct {
	bootstrap func(ctx context.Context, runID, objective string) ([]policy.AgendaItem, error)
	decide    func(ctx context.Context, view policy.RunView) (policy.Decision, error)
}

func (p *stubPolicy) BootstrapAgenda(ctx context.Context, runID, objective string) ([]policy.AgendaItem, error) {
	if p.bootstrap != nil {
		return p.bootstrap(ctx, runID, objective)
	}
	return nil, nil
}

func (p *stubPolicy) DecideNextAction(ctx context.Context, view policy.RunView) (policy.Decision, error) {
	if p.decide != nil {
		return p.decide(ctx, view)
	}
	return policy.Decision{Kind: policy.DecisionComplete, Output: "done"}, nil
}

func (p *stubPolicy) RefineObjectiveForCapability(ctx context.Context, objective, capability string) (string, error) {
	return objective, nil
}

type stubDispatcher struct {
	execute func(ctx context.Context, call WorkerCall) (WorkerOutcome, error)
}

func (d *stubDispatcher) Execute(ctx context.Context, call WorkerCall) (WorkerOutcome, error) {
	if d.execute != nil {
		return d.execute(ctx, call)
	}
	return WorkerOutcome{Kind: WorkerOutcomeSuccess, Summary: "ok"}, nil
}

func spawnConductor(t *testing.T, c *Conductor) *Client {
	t.Helper()
	ref, err := c.Start(context.Background(), actor.SpawnOptions{})
	require.NoError(t, err)
	t.Cleanup(ref.Stop)
	return NewClient(ref, time.Second)
}

func TestExecuteRunWithWorkerPlanCompletes(t *testing.T) {
	c := New("run-1", &stubPolicy{}, &stubDispatcher{
		execute: func(context.Context, WorkerCall) (WorkerOutcome, error) {
			return WorkerOutcome{Kind: WorkerOutcomeSuccess, Summary: "researched it", Artifacts: []WorkerArtifact{
				{ArtifactID: "a1", Summary: "researched it"},
			}}, nil
		},
	}, nil, nil)
	client := spawnConductor(t, c)

	state, err := client.ExecuteRun(context.Background(), ExecuteRunRequest{
		Objective: "find the answer",
		DesktopID: "desktop-1",
		WorkerPlan: []WorkerPlanStep{
			{WorkerType: "researcher", Objective: "find the answer"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, StatusWaitingWorker, state.Status)

	require.Eventually(t, func() bool {
		s, err := client.GetState(context.Background())
		return err == nil && s.Status == StatusCompleted
	}, time.Second, time.Millisecond)

	final, err := client.GetState(context.Background())
	require.NoError(t, err)
	require.Equal(t, ItemCompleted, final.Agenda[0].Status)
	require.NotEmpty(t, final.ReportPath)
	require.Equal(t, "reports/run-1.md", final.ReportPath)
}

func TestExecuteRunValidatesObjective(t *testing.T) {
	c := New("run-2", &stubPolicy{}, &stubDispatcher{}, nil, nil)
	client := spawnConductor(t, c)

	_, err := client.ExecuteRun(context.Background(), ExecuteRunRequest{DesktopID: "d1"})
	require.Error(t, err)
	var invalid *InvalidRequestError
	require.ErrorAs(t, err, &invalid)
}

func TestBootstrapAgendaPolicyErrorBlocksRun(t *testing.T) {
	boom := errors.New("model unavailable")
	c := New("run-3", &stubPolicy{
		bootstrap: func(context.Context, string, string) ([]policy.AgendaItem, error) { return nil, boom },
	}, &stubDispatcher{}, nil, nil)
	client := spawnConductor(t, c)

	state, err := client.ExecuteRun(context.Background(), ExecuteRunRequest{Objective: "x", DesktopID: "d1"})
	require.NoError(t, err)
	require.Equal(t, StatusBlocked, state.Status)
	require.Equal(t, "RUN_BLOCKED", state.FailureCode)
}

func TestWorkerBlockedExhaustsRetriesThenEscalates(t *testing.T) {
	var calls int
	decided := make(chan struct{}, 1)
	c := New("run-4", &stubPolicy{
		decide: func(context.Context, policy.RunView) (policy.Decision, error) {
			select {
			case decided <- struct{}{}:
			default:
			}
			return policy.Decision{Kind: policy.DecisionBlock, BlockReason: "worker kept getting blocked"}, nil
		},
	}, &stubDispatcher{
		execute: func(context.Context, WorkerCall) (WorkerOutcome, error) {
			calls++
			return WorkerOutcome{Kind: WorkerOutcomeBlocked, Reason: "policy refused"}, nil
		},
	}, nil, nil)
	client := spawnConductor(t, c)

	_, err := client.ExecuteRun(context.Background(), ExecuteRunRequest{
		Objective: "do something risky",
		DesktopID: "d1",
		WorkerPlan: []WorkerPlanStep{
			{WorkerType: "terminal", Objective: "rm stuff"},
		},
	})
	require.NoError(t, err)

	select {
	case <-decided:
	case <-time.After(time.Second):
		t.Fatal("policy.DecideNextAction was never invoked after retries were exhausted")
	}

	state, err := client.GetState(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusBlocked, state.Status)
	require.GreaterOrEqual(t, calls, maxItemRetries+1)
}

func TestReadyItemsRespectsDependsOn(t *testing.T) {
	c := &Conductor{
		state: ConductorRunState{
			Agenda: []AgendaItem{
				{ItemID: "a", Status: ItemPending},
				{ItemID: "b", Status: ItemPending, DependsOn: []string{"a"}},
			},
		},
	}
	ready, anyDispatched := c.readyItems()
	require.False(t, anyDispatched)
	require.Equal(t, []int{0}, ready)

	c.state.Agenda[0].Status = ItemCompleted
	ready, _ = c.readyItems()
	require.Equal(t, []int{1}, ready)
}

func TestReportPathRejectsTraversal(t *testing.T) {
	_, err := reportPath("../etc/passwd")
	require.Error(t, err)
	_, err = reportPath("a/b")
	require.Error(t, err)
	p, err := reportPath("run-123")
	require.NoError(t, err)
	require.Equal(t, "reports/run-123.md", p)
}
