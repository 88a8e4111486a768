package conductor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sandboxrun/core/runtime/agent/actor"
	"github.com/sandboxrun/core/runtime/agent/events"
	"github.com/sandboxrun/core/runtime/agent/eventstore"
	"github.com/sandboxrun/core/runtime/agent/policy"
	"github.com/sandboxrun/core/runtime/agent/runwriter"
	"github.com/sandboxrun/core/runtime/agent/session"
)

// Kind is the canonical actor.Kind for conductor actors, one per run_id.
const Kind actor.Kind = "conductor"

// Conductor is the per-run orchestration actor. It implements actor.Handler
// directly: every public operation is a message that serializes through its
// own mailbox, so the state machine below needs no mutex.
type Conductor struct {
	runID      string
	policy     policy.ConductorPolicy
	dispatcher Dispatcher
	writer     *runwriter.Client
	store      eventstore.Store
	sessions   session.Store

	self  actor.Ref
	state ConductorRunState

	now    func() time.Time
	nextID func() string
}

// New builds a Conductor for runID, ready to Start. The Conductor actor is
// spawned per run_id (Ident{Kind, runID}); runID is assigned by the caller
// (typically the writer supervisor's adoption path or the HTTP layer)
// before spawn, not generated internally, since it doubles as the actor's
// registry key.
func New(runID string, p policy.ConductorPolicy, dispatcher Dispatcher, writer *runwriter.Client, store eventstore.Store) *Conductor {
	return &Conductor{
		runID:      runID,
		policy:     p,
		dispatcher: dispatcher,
		writer:     writer,
		store:      store,
		now:        func() time.Time { return time.Now().UTC() },
		nextID:     func() string { return ulid.Make().String() },
	}
}

// SetSessionStore attaches an optional run-metadata store so this run's
// ConductorRunState survives an actor restart within the process. Call
// before Start; the default (never called) leaves c.sessions nil and
// disables persistence entirely.
func (c *Conductor) SetSessionStore(store session.Store) {
	c.sessions = store
}

// Start spawns c under Ident{Kind, runID}.
func (c *Conductor) Start(ctx context.Context, opts actor.SpawnOptions) (actor.Ref, error) {
	ref, err := actor.Spawn(ctx, actor.Ident{Kind: Kind, ID: c.runID}, c, opts)
	if err != nil {
		return nil, err
	}
	c.self = ref
	return ref, nil
}

func (c *Conductor) PreStart(context.Context) error { return nil }

func (c *Conductor) HandleSupervision(context.Context, actor.SupervisionEvent) error { return nil }

type (
	executeRunMsg struct {
		req   ExecuteRunRequest
		reply actor.ReplyPort
	}
	dispatchReadyMsg struct{}
	workerResultMsg  struct {
		itemID string
		callID string
		out    WorkerOutcome
		err    error
	}
	processEventMsg struct {
		event eventstore.Event
	}
	getStateMsg struct{ reply actor.ReplyPort }
)

func (c *Conductor) Handle(ctx context.Context, msg any) error {
	switch m := msg.(type) {
	case executeRunMsg:
		state, err := c.executeRun(ctx, m.req)
		m.reply.Reply(state, err)
	case dispatchReadyMsg:
		c.dispatchReady(ctx)
	case workerResultMsg:
		c.handleWorkerResult(ctx, m)
	case processEventMsg:
		c.processEvent(ctx, m.event)
	case getStateMsg:
		m.reply.Reply(c.state, nil)
	default:
		return fmt.Errorf("conductor: unexpected message %T", msg)
	}
	return nil
}

// executeRun validates req, seeds the agenda, and transitions Queued ->
// Running, leaving DispatchReady to run synchronously before reply so the
// first dispatch (or block decision) is reflected in the returned state.
func (c *Conductor) executeRun(ctx context.Context, req ExecuteRunRequest) (ConductorRunState, error) {
	if strings.TrimSpace(req.Objective) == "" {
		return ConductorRunState{}, &InvalidRequestError{Reason: "objective is required"}
	}
	if strings.TrimSpace(req.DesktopID) == "" {
		return ConductorRunState{}, &InvalidRequestError{Reason: "desktop_id is required"}
	}
	for _, step := range req.WorkerPlan {
		if strings.TrimSpace(step.WorkerType) == "" {
			return ConductorRunState{}, &InvalidRequestError{Reason: "worker_plan step requires worker_type"}
		}
	}

	now := c.now()
	c.state = ConductorRunState{
		RunID:             c.runID,
		UserID:            req.UserID,
		DesktopID:         req.DesktopID,
		Objective:         req.Objective,
		RefinedObjectives: make(map[string]string),
		CorrelationID:     req.CorrelationID,
		OutputMode:        req.OutputMode,
		Status:            StatusQueued,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if c.state.OutputMode == "" {
		c.state.OutputMode = OutputAuto
	}
	c.publish(events.ConductorTaskStarted, map[string]any{"objective": req.Objective})

	var agenda []AgendaItem
	if len(req.WorkerPlan) > 0 {
		for i, step := range req.WorkerPlan {
			agenda = append(agenda, AgendaItem{
				ItemID:     fmt.Sprintf("item-%d-%s", i, c.nextID()),
				Capability: strings.ToLower(step.WorkerType),
				Objective:  step.Objective,
				Status:     ItemPending,
			})
		}
	} else {
		var err error
		agenda, err = c.policy.BootstrapAgenda(ctx, c.runID, req.Objective)
		if err != nil {
			return c.block(policy.NewError("bootstrap_agenda", err))
		}
	}
	c.state.Agenda = agenda
	c.state.Status = StatusRunning
	c.state.UpdatedAt = c.now()

	c.dispatchReady(ctx)
	return c.state, nil
}

// dispatchReady picks the next eligible agenda item, or escalates to the
// policy when nothing is ready and nothing is in flight.
func (c *Conductor) dispatchReady(ctx context.Context) {
	if c.isTerminal() {
		return
	}
	ready, anyDispatched := c.readyItems()
	if len(ready) == 0 {
		if anyDispatched {
			return
		}
		c.decideNextAction(ctx)
		return
	}

	idx := ready[0]
	item := &c.state.Agenda[idx]
	item.Status = ItemDispatched
	c.state.Status = StatusWaitingWorker
	c.state.UpdatedAt = c.now()

	callID := c.nextID()
	call := WorkerCall{
		RunID:      c.state.RunID,
		CallID:     callID,
		ItemID:     item.ItemID,
		Capability: item.Capability,
		Objective:  c.refinedObjectiveOrRaw(ctx, item),
	}
	c.publish(events.ConductorWorkerCall, map[string]any{"item_id": item.ItemID, "capability": item.Capability})

	self := c.self
	dispatcher := c.dispatcher
	go func() {
		out, err := dispatcher.Execute(context.Background(), call)
		_ = self.Send(context.Background(), workerResultMsg{itemID: item.ItemID, callID: callID, out: out, err: err})
	}()
}

func (c *Conductor) refinedObjectiveOrRaw(ctx context.Context, item *AgendaItem) string {
	if item.Objective != "" {
		return item.Objective
	}
	refined, err := c.policy.RefineObjectiveForCapability(ctx, c.state.Objective, item.Capability)
	if err != nil {
		return c.state.Objective
	}
	c.state.RefinedObjectives[item.Capability] = refined
	return refined
}

// readyItems returns indices of Pending items whose dependencies are all
// Completed, plus whether any item is currently Dispatched.
func (c *Conductor) readyItems() ([]int, bool) {
	completed := make(map[string]bool)
	for _, it := range c.state.Agenda {
		if it.Status == ItemCompleted {
			completed[it.ItemID] = true
		}
	}
	var ready []int
	anyDispatched := false
	for i, it := range c.state.Agenda {
		if it.Status == ItemDispatched {
			anyDispatched = true
		}
		if it.Status != ItemPending {
			continue
		}
		allDepsMet := true
		for _, dep := range it.DependsOn {
			if !completed[dep] {
				allDepsMet = false
				break
			}
		}
		if allDepsMet {
			ready = append(ready, i)
		}
	}
	return ready, anyDispatched
}

func (c *Conductor) handleWorkerResult(ctx context.Context, m workerResultMsg) {
	idx := c.findItem(m.itemID)
	if idx < 0 {
		return
	}
	item := &c.state.Agenda[idx]
	if item.Status != ItemDispatched {
		return // already resolved, e.g. via ProcessEvent racing this self-send
	}

	if m.err != nil {
		item.Status = ItemFailed
		item.LastError = m.err.Error()
		item.Retries++
		c.publish(events.ConductorWorkerResult, map[string]any{"item_id": item.ItemID, "outcome": "error"})
		c.retryOrEscalate(ctx, item)
		return
	}

	switch m.out.Kind {
	case WorkerOutcomeSuccess:
		item.Status = ItemCompleted
		c.state.Artifacts = append(c.state.Artifacts, m.out.Artifacts...)
		c.publish(events.ConductorWorkerResult, map[string]any{"item_id": item.ItemID, "outcome": "success"})
		c.state.Status = StatusRunning
		c.state.UpdatedAt = c.now()
		c.dispatchReady(ctx)
	case WorkerOutcomeBlocked:
		item.Status = ItemBlocked
		item.LastError = m.out.Reason
		item.Retries++
		c.publish(events.ConductorWorkerResult, map[string]any{"item_id": item.ItemID, "outcome": "blocked", "reason": m.out.Reason})
		c.retryOrEscalate(ctx, item)
	default:
		item.Status = ItemFailed
		item.LastError = m.out.Reason
		item.Retries++
		c.publish(events.ConductorWorkerResult, map[string]any{"item_id": item.ItemID, "outcome": "failed", "reason": m.out.Reason})
		c.retryOrEscalate(ctx, item)
	}
}

// retryOrEscalate redispatches a Failed/Blocked item with a refined
// objective while its Retries count has not exceeded maxItemRetries,
// otherwise escalates to Policy.DecideNextAction so a cognitive layer
// decides whether to give up, route around it, or block the run.
func (c *Conductor) retryOrEscalate(ctx context.Context, item *AgendaItem) {
	if item.Retries <= maxItemRetries {
		refined, err := c.policy.RefineObjectiveForCapability(ctx, c.state.Objective, item.Capability)
		if err == nil {
			item.Objective = refined
		}
		item.Status = ItemPending
		c.state.UpdatedAt = c.now()
		c.dispatchReady(ctx)
		return
	}
	c.decideNextAction(ctx)
}

func (c *Conductor) decideNextAction(ctx context.Context) {
	view := c.runView()
	decision, err := c.policy.DecideNextAction(ctx, view)
	if err != nil {
		c.setBlocked(policy.NewError("decide_next_action", err))
		return
	}
	switch decision.Kind {
	case policy.DecisionDispatch:
		c.markDispatchable(decision.Dispatch)
		c.state.UpdatedAt = c.now()
		c.dispatchReady(ctx)
	case policy.DecisionInsertAgendaItems:
		for _, it := range decision.InsertItems {
			c.state.Agenda = append(c.state.Agenda, AgendaItem{
				ItemID: it.ID, Capability: it.Capability, Objective: it.Objective, Status: ItemPending,
			})
		}
		c.state.UpdatedAt = c.now()
		c.dispatchReady(ctx)
	case policy.DecisionComplete:
		c.complete(ctx, decision.Output)
	case policy.DecisionBlock:
		c.setBlockedReason(decision.BlockReason)
	default:
		c.setBlockedReason("policy returned an unrecognized decision")
	}
}

// markDispatchable flips any agenda items named in items (matched by
// ItemID) back to Pending so the next dispatchReady call can pick them up.
func (c *Conductor) markDispatchable(items []policy.AgendaItem) {
	wanted := make(map[string]bool, len(items))
	for _, it := range items {
		wanted[it.ID] = true
	}
	for i := range c.state.Agenda {
		if wanted[c.state.Agenda[i].ItemID] {
			c.state.Agenda[i].Status = ItemPending
		}
	}
}

func (c *Conductor) runView() policy.RunView {
	view := policy.RunView{
		RunID:             c.state.RunID,
		Objective:         c.state.Objective,
		CompletedFindings: make(map[string]string),
		FailedItems:       make(map[string]string),
	}
	for _, it := range c.state.Agenda {
		view.Agenda = append(view.Agenda, policy.AgendaItem{
			ID: it.ItemID, Capability: it.Capability, Objective: it.Objective, Status: policy.AgendaItemStatus(it.Status),
		})
		switch it.Status {
		case ItemCompleted:
			view.CompletedFindings[it.ItemID] = it.LastError
		case ItemFailed, ItemBlocked:
			view.FailedItems[it.ItemID] = it.LastError
		}
	}
	return view
}

func (c *Conductor) findItem(itemID string) int {
	for i, it := range c.state.Agenda {
		if it.ItemID == itemID {
			return i
		}
	}
	return -1
}

func (c *Conductor) isTerminal() bool {
	switch c.state.Status {
	case StatusCompleted, StatusFailed, StatusBlocked:
		return true
	default:
		return false
	}
}

// complete finalizes a successful run: resolves Auto into a concrete
// output mode, writes the report through the Run-Writer when needed, and
// emits exactly one terminal event.
func (c *Conductor) complete(ctx context.Context, reportContent string) {
	if reportContent == "" {
		reportContent = c.buildReport()
	}
	citations := c.collectCitations()
	mode := c.state.OutputMode
	if mode == OutputAuto {
		if len([]rune(reportContent)) <= autoToastMaxChars && len(citations) <= autoToastMaxCitations {
			mode = OutputToastWithReportLink
		} else {
			mode = OutputMarkdownReportToWriter
		}
	}

	path, err := reportPath(c.state.RunID)
	if err != nil {
		c.setBlocked(&ReportWriteFailedError{Reason: err.Error(), Cause: err})
		return
	}
	if c.writer != nil {
		if _, err := c.writer.SetSectionContent(ctx, c.state.RunID, "system", "conductor", reportContent); err != nil {
			c.setBlocked(&ReportWriteFailedError{Reason: "writer rejected report content", Cause: err})
			return
		}
		if err := c.writer.MarkSectionState(ctx, "conductor", runwriter.SectionComplete); err != nil {
			c.setBlocked(&ReportWriteFailedError{Reason: "writer rejected section state", Cause: err})
			return
		}
	}

	now := c.now()
	c.state.Status = StatusCompleted
	c.state.OutputMode = mode
	c.state.ReportPath = path
	c.state.UpdatedAt = now
	c.state.CompletedAt = &now
	if mode == OutputToastWithReportLink {
		c.state.Toast = &Toast{Message: summarize(reportContent), ReportPath: path}
	}
	c.publish(events.ConductorTaskCompleted, map[string]any{
		"report_path": path,
		"output_mode": string(mode),
	})
}

// buildReport renders a Markdown report from the run's agenda and
// artifacts when the policy's completion decision did not supply its own
// report content.
func (c *Conductor) buildReport() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Conductor Report\n\n## Objective\n\n%s\n\n## Run\n\n- Run ID: `%s`\n- Status: `%s`\n\n## Agenda\n\n",
		c.state.Objective, c.state.RunID, c.state.Status)
	for _, item := range c.state.Agenda {
		fmt.Fprintf(&b, "- `%s` `%s` `%s`\n", item.ItemID, item.Capability, item.Status)
	}
	b.WriteString("\n## Artifacts\n\n")
	if len(c.state.Artifacts) == 0 {
		b.WriteString("- No artifacts produced.\n")
	} else {
		for _, a := range c.state.Artifacts {
			fmt.Fprintf(&b, "- `%s` `%s`: %s\n", a.ArtifactID, a.Kind, a.Summary)
		}
	}
	if citations := c.collectCitations(); len(citations) > 0 {
		b.WriteString("\n## Citations\n\n")
		for _, cit := range citations {
			fmt.Fprintf(&b, "- %s\n", cit)
		}
	}
	return b.String()
}

func (c *Conductor) collectCitations() []string {
	var out []string
	for _, a := range c.state.Artifacts {
		out = append(out, a.Citations...)
	}
	return out
}

// summarize picks the first non-empty, non-heading, non-code-fence line of
// content for use as a toast message, truncated to 240 runes.
func summarize(content string) string {
	line := "Conductor completed."
	for _, candidate := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(candidate)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "```") {
			continue
		}
		line = trimmed
		break
	}
	r := []rune(line)
	if len(r) <= 240 {
		return line
	}
	return string(r[:240])
}

// setBlocked transitions the run to Blocked because of a PolicyError or a
// write failure upstream of any agenda decision.
func (c *Conductor) setBlocked(err error) {
	c.setBlockedReason(err.Error())
}

func (c *Conductor) setBlockedReason(reason string) {
	now := c.now()
	c.state.Status = StatusBlocked
	c.state.FailureCode = "RUN_BLOCKED"
	c.state.FailureKind = "unknown"
	c.state.FailureMessage = reason
	c.state.UpdatedAt = now
	c.state.CompletedAt = &now
	c.publish(events.ConductorTaskFailed, map[string]any{
		"code":         c.state.FailureCode,
		"message":      reason,
		"failure_kind": c.state.FailureKind,
	})
	if c.writer != nil {
		_ = c.writer.MarkSectionState(context.Background(), "conductor", runwriter.SectionFailed)
	}
}

func (c *Conductor) block(err error) (ConductorRunState, error) {
	c.setBlocked(err)
	return c.state, nil
}

// processEvent reacts to a Wake-classified event delivered out of band
// (for example a worker publishing its own terminal event directly to the
// event store instead of only replying to the synchronous dispatcher
// call). Idempotent: if the named item is no longer Dispatched the event
// is ignored.
func (c *Conductor) processEvent(ctx context.Context, ev eventstore.Event) {
	itemID := ev.Metadata.TaskID
	if itemID == "" {
		return
	}
	switch events.Type(ev.EventType) {
	case events.WorkerTaskCompleted:
		c.handleWorkerResult(ctx, workerResultMsg{itemID: itemID, out: WorkerOutcome{Kind: WorkerOutcomeSuccess}})
	case events.WorkerTaskFailed:
		c.handleWorkerResult(ctx, workerResultMsg{itemID: itemID, out: WorkerOutcome{Kind: WorkerOutcomeFailed, Reason: "out-of-band failure"}})
	}
}

func (c *Conductor) publish(t events.Type, payload map[string]any) {
	c.persistRunMeta()
	if c.store == nil {
		return
	}
	c.store.AppendAsync(context.Background(), eventstore.EventInput{
		EventType: string(t),
		ActorID:   c.state.RunID,
		Payload:   payload,
		Metadata: eventstore.Metadata{
			WakePolicy: events.WakePolicyFor(t),
			RunID:      c.state.RunID,
		},
	})
}

// persistRunMeta fire-and-forgets the current state as session.RunMeta,
// matching eventstore.AppendAsync's posture: metadata persistence never
// blocks the actor's own mailbox loop, and a write failure here is not
// escalated to the run (durable recovery is best-effort, not a run
// invariant). No-op when no session.Store is configured.
func (c *Conductor) persistRunMeta() {
	if c.sessions == nil {
		return
	}
	meta := session.RunMeta{
		AgentID:   string(Kind),
		RunID:     c.state.RunID,
		SessionID: c.state.DesktopID,
		Status:    session.RunStatus(c.state.Status),
		StartedAt: c.state.CreatedAt,
		UpdatedAt: c.state.UpdatedAt,
		Metadata: map[string]any{
			"failure_code": c.state.FailureCode,
			"failure_kind": c.state.FailureKind,
		},
	}
	go func() {
		_ = c.sessions.UpsertRun(context.Background(), meta)
	}()
}

// reportPath confines the report write target to reports/{run_id}.md and
// rejects a run_id that could escape that directory.
func reportPath(runID string) (string, error) {
	if strings.ContainsAny(runID, `/\`) || strings.Contains(runID, "..") {
		return "", fmt.Errorf("conductor: unsafe run_id %q for report path", runID)
	}
	return "reports/" + runID + ".md", nil
}
