package runwriter

import (
	"context"
	"time"

	"github.com/sandboxrun/core/runtime/agent/actor"
	"github.com/sandboxrun/core/runtime/agent/eventstore"
)

// Actor wraps a Document as an actor.Handler so it can be spawned as the
// single writer for one run_id and addressed through the actor registry as
// Ident{Kind: "writer", ID: run_id}.
type Actor struct {
	doc *Document
}

// NewActor returns an actor.Handler backed by a fresh Document for runID.
func NewActor(runID string, store eventstore.Store) *Actor {
	return &Actor{doc: NewDocument(runID, store)}
}

// Kind is the canonical actor.Kind used to register writer actors.
const Kind actor.Kind = "writer"

func (a *Actor) PreStart(context.Context) error { return nil }

func (a *Actor) HandleSupervision(context.Context, actor.SupervisionEvent) error { return nil }

type (
	createVersionMsg struct {
		parent  *uint64
		content string
		source  VersionSource
		reply   actor.ReplyPort
	}
	createOverlayMsg struct {
		base   uint64
		author OverlayAuthor
		kind   OverlayKind
		ops    []PatchOp
		reply  actor.ReplyPort
	}
	resolveOverlayMsg struct {
		overlayID string
		status    OverlayStatus
		reply     actor.ReplyPort
	}
	applyPatchMsg struct {
		runID, source, sectionID string
		ops                      []PatchOp
		proposal                 bool
		reply                    actor.ReplyPort
	}
	appendLogLineMsg struct {
		runID, source, sectionID, text string
		proposal                       bool
		reply                          actor.ReplyPort
	}
	setSectionContentMsg struct {
		runID, source, sectionID, content string
		reply                             actor.ReplyPort
	}
	commitProposalMsg struct {
		sectionID string
		reply     actor.ReplyPort
	}
	discardProposalMsg struct {
		sectionID string
		reply     actor.ReplyPort
	}
	reportSectionProgressMsg struct {
		sectionID, phase, message string
		reply                     actor.ReplyPort
	}
	markSectionStateMsg struct {
		sectionID string
		state     SectionState
		reply     actor.ReplyPort
	}
	getDocumentMsg    struct{ reply actor.ReplyPort }
	getRevisionMsg    struct{ reply actor.ReplyPort }
	getHeadVersionMsg struct{ reply actor.ReplyPort }
	getVersionMsg     struct {
		versionID uint64
		reply     actor.ReplyPort
	}
	listVersionsMsg struct{ reply actor.ReplyPort }
	listOverlaysMsg struct {
		baseVersionID *uint64
		status        *OverlayStatus
		reply         actor.ReplyPort
	}
)

func (a *Actor) Handle(_ context.Context, msg any) error {
	switch m := msg.(type) {
	case createVersionMsg:
		v, err := a.doc.CreateVersion(m.parent, m.content, m.source)
		m.reply.Reply(v, err)
	case createOverlayMsg:
		o, err := a.doc.CreateOverlay(m.base, m.author, m.kind, m.ops)
		m.reply.Reply(o, err)
	case resolveOverlayMsg:
		o, err := a.doc.ResolveOverlay(m.overlayID, m.status)
		m.reply.Reply(o, err)
	case applyPatchMsg:
		res, err := a.doc.ApplyPatch(m.runID, m.source, m.sectionID, m.ops, m.proposal)
		m.reply.Reply(res, err)
	case appendLogLineMsg:
		rev, err := a.doc.AppendLogLine(m.runID, m.source, m.sectionID, m.text, m.proposal)
		m.reply.Reply(rev, err)
	case setSectionContentMsg:
		rev, err := a.doc.SetSectionContent(m.runID, m.source, m.sectionID, m.content)
		m.reply.Reply(rev, err)
	case commitProposalMsg:
		rev, err := a.doc.CommitProposal(m.sectionID)
		m.reply.Reply(rev, err)
	case discardProposalMsg:
		err := a.doc.DiscardProposal(m.sectionID)
		m.reply.Reply(nil, err)
	case reportSectionProgressMsg:
		rev, err := a.doc.ReportSectionProgress(m.sectionID, m.phase, m.message)
		m.reply.Reply(rev, err)
	case markSectionStateMsg:
		err := a.doc.MarkSectionState(m.sectionID, m.state)
		m.reply.Reply(nil, err)
	case getDocumentMsg:
		content, err := a.doc.GetDocument()
		m.reply.Reply(content, err)
	case getRevisionMsg:
		m.reply.Reply(a.doc.GetRevision(), nil)
	case getHeadVersionMsg:
		v, err := a.doc.GetHeadVersion()
		m.reply.Reply(v, err)
	case getVersionMsg:
		v, err := a.doc.GetVersion(m.versionID)
		m.reply.Reply(v, err)
	case listVersionsMsg:
		vs, err := a.doc.ListVersions()
		m.reply.Reply(vs, err)
	case listOverlaysMsg:
		os, err := a.doc.ListOverlays(m.baseVersionID, m.status)
		m.reply.Reply(os, err)
	}
	return nil
}

// Client is a typed, blocking facade over an actor.Ref spawned with an
// *Actor handler, mirroring the Document method set for callers that only
// hold a Ref (e.g. the Conductor and capability workers).
type Client struct {
	ref     actor.Ref
	timeout time.Duration
}

// NewClient wraps ref. A zero timeout uses actor.DefaultCallTimeout.
func NewClient(ref actor.Ref, timeout time.Duration) *Client {
	return &Client{ref: ref, timeout: timeout}
}

func (c *Client) call(ctx context.Context, build func(actor.ReplyPort) any) (any, error) {
	return c.ref.Call(ctx, build, c.timeout)
}

func (c *Client) CreateVersion(ctx context.Context, parent *uint64, content string, source VersionSource) (DocumentVersion, error) {
	out, err := c.call(ctx, func(r actor.ReplyPort) any { return createVersionMsg{parent, content, source, r} })
	v, _ := out.(DocumentVersion)
	return v, err
}

func (c *Client) CreateOverlay(ctx context.Context, base uint64, author OverlayAuthor, kind OverlayKind, ops []PatchOp) (Overlay, error) {
	out, err := c.call(ctx, func(r actor.ReplyPort) any { return createOverlayMsg{base, author, kind, ops, r} })
	o, _ := out.(Overlay)
	return o, err
}

func (c *Client) ResolveOverlay(ctx context.Context, overlayID string, status OverlayStatus) (Overlay, error) {
	out, err := c.call(ctx, func(r actor.ReplyPort) any { return resolveOverlayMsg{overlayID, status, r} })
	o, _ := out.(Overlay)
	return o, err
}

func (c *Client) ApplyPatch(ctx context.Context, runID, source, sectionID string, ops []PatchOp, proposal bool) (ApplyPatchResult, error) {
	out, err := c.call(ctx, func(r actor.ReplyPort) any {
		return applyPatchMsg{runID, source, sectionID, ops, proposal, r}
	})
	res, _ := out.(ApplyPatchResult)
	return res, err
}

func (c *Client) AppendLogLine(ctx context.Context, runID, source, sectionID, text string, proposal bool) (uint64, error) {
	out, err := c.call(ctx, func(r actor.ReplyPort) any {
		return appendLogLineMsg{runID, source, sectionID, text, proposal, r}
	})
	rev, _ := out.(uint64)
	return rev, err
}

func (c *Client) SetSectionContent(ctx context.Context, runID, source, sectionID, content string) (uint64, error) {
	out, err := c.call(ctx, func(r actor.ReplyPort) any {
		return setSectionContentMsg{runID, source, sectionID, content, r}
	})
	rev, _ := out.(uint64)
	return rev, err
}

func (c *Client) CommitProposal(ctx context.Context, sectionID string) (uint64, error) {
	out, err := c.call(ctx, func(r actor.ReplyPort) any { return commitProposalMsg{sectionID, r} })
	rev, _ := out.(uint64)
	return rev, err
}

func (c *Client) DiscardProposal(ctx context.Context, sectionID string) error {
	_, err := c.call(ctx, func(r actor.ReplyPort) any { return discardProposalMsg{sectionID, r} })
	return err
}

func (c *Client) ReportSectionProgress(ctx context.Context, sectionID, phase, message string) (uint64, error) {
	out, err := c.call(ctx, func(r actor.ReplyPort) any {
		return reportSectionProgressMsg{sectionID, phase, message, r}
	})
	rev, _ := out.(uint64)
	return rev, err
}

func (c *Client) MarkSectionState(ctx context.Context, sectionID string, state SectionState) error {
	_, err := c.call(ctx, func(r actor.ReplyPort) any { return markSectionStateMsg{sectionID, state, r} })
	return err
}

func (c *Client) GetDocument(ctx context.Context) (string, error) {
	out, err := c.call(ctx, func(r actor.ReplyPort) any { return getDocumentMsg{r} })
	s, _ := out.(string)
	return s, err
}

func (c *Client) GetRevision(ctx context.Context) (uint64, error) {
	out, err := c.call(ctx, func(r actor.ReplyPort) any { return getRevisionMsg{r} })
	rev, _ := out.(uint64)
	return rev, err
}

func (c *Client) GetHeadVersion(ctx context.Context) (DocumentVersion, error) {
	out, err := c.call(ctx, func(r actor.ReplyPort) any { return getHeadVersionMsg{r} })
	v, _ := out.(DocumentVersion)
	return v, err
}

func (c *Client) GetVersion(ctx context.Context, versionID uint64) (DocumentVersion, error) {
	out, err := c.call(ctx, func(r actor.ReplyPort) any { return getVersionMsg{versionID, r} })
	v, _ := out.(DocumentVersion)
	return v, err
}

func (c *Client) ListVersions(ctx context.Context) ([]DocumentVersion, error) {
	out, err := c.call(ctx, func(r actor.ReplyPort) any { return listVersionsMsg{r} })
	vs, _ := out.([]DocumentVersion)
	return vs, err
}

func (c *Client) ListOverlays(ctx context.Context, baseVersionID *uint64, status *OverlayStatus) ([]Overlay, error) {
	out, err := c.call(ctx, func(r actor.ReplyPort) any { return listOverlaysMsg{baseVersionID, status, r} })
	os, _ := out.([]Overlay)
	return os, err
}
