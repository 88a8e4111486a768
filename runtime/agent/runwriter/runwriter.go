// Package runwriter implements the single-writer-per-run_id document actor
// from spec §4.F: a versioned document with an overlay/rebase model, plus a
// legacy pre-versioning surface (ApplyPatch/AppendLogLine/SetSectionContent/
// CommitProposal/DiscardProposal) mapped onto that model as anonymous
// overlays.
//
// The version/overlay/section/revision model and the legacy-op-to-overlay
// mapping follow original_source/sandbox/src/actors/run_writer/messages.rs:
// the same message shapes (CreateVersion/CreateOverlay/ResolveOverlay/
// ApplyPatch/...) and the same error taxonomy (SectionNotFound,
// VersionNotFound, OverlayNotFound, InvalidBaseVersion, InvalidPatch,
// WriteFailed, RunIdMismatch).
package runwriter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sandboxrun/core/runtime/agent/events"
	"github.com/sandboxrun/core/runtime/agent/eventstore"
)

type (
	// VersionSource identifies who produced a DocumentVersion.
	VersionSource string

	// DocumentVersion is one immutable content snapshot in the version
	// history. VersionID is sequential starting at 1.
	DocumentVersion struct {
		VersionID       uint64
		ParentVersionID *uint64
		Content         string
		Source          VersionSource
		CreatedAt       time.Time
	}

	// OverlayStatus is the lifecycle state of an Overlay.
	OverlayStatus string

	// OverlayKind distinguishes overlays created through the explicit
	// CreateOverlay call from anonymous overlays synthesized by the legacy
	// ApplyPatch/AppendLogLine/SetSectionContent surface.
	OverlayKind string

	// AuthorKind classifies who authored an Overlay.
	AuthorKind string

	// OverlayAuthor identifies the actor that proposed an overlay.
	OverlayAuthor struct {
		Kind AuthorKind
		ID   string
	}

	// PatchOpKind is the kind of mutation a PatchOp performs.
	PatchOpKind string

	// PatchOp is one Unicode-scalar-offset document edit. Pos and Len are
	// interpreted per PatchOpKind: Insert uses Pos/Text; Append only uses
	// Text; Delete only uses Pos/Len; Replace uses all three.
	PatchOp struct {
		Kind PatchOpKind
		Pos  int
		Len  int
		Text string
	}

	// Overlay is a proposed (or already-resolved) set of PatchOps against a
	// base version.
	Overlay struct {
		OverlayID       string
		RunID           string
		BaseVersionID   uint64
		TargetVersionID *uint64
		Author          OverlayAuthor
		Kind            OverlayKind
		DiffOps         []PatchOp
		Status          OverlayStatus
		CreatedAt       time.Time
	}

	// SectionState is the display lifecycle of a named document section.
	SectionState string

	// ApplyPatchResult is the legacy ApplyPatch/AppendLogLine/
	// SetSectionContent reply shape.
	ApplyPatchResult struct {
		Revision        uint64
		LinesModified   int
		BaseVersionID   uint64
		TargetVersionID *uint64
		OverlayID       *string
	}
)

const (
	VersionSourceUser   VersionSource = "user"
	VersionSourceWorker VersionSource = "worker"
	VersionSourceSystem VersionSource = "system"

	OverlayPending    OverlayStatus = "pending"
	OverlayApplied    OverlayStatus = "applied"
	OverlayRejected   OverlayStatus = "rejected"
	OverlaySuperseded OverlayStatus = "superseded"

	OverlayKindExplicit OverlayKind = "explicit"
	OverlayKindLegacy   OverlayKind = "legacy"

	AuthorUser   AuthorKind = "user"
	AuthorWorker AuthorKind = "worker"
	AuthorSystem AuthorKind = "system"

	OpInsert  PatchOpKind = "insert"
	OpDelete  PatchOpKind = "delete"
	OpReplace PatchOpKind = "replace"
	OpAppend  PatchOpKind = "append"

	SectionPending  SectionState = "pending"
	SectionRunning  SectionState = "running"
	SectionComplete SectionState = "complete"
	SectionFailed   SectionState = "failed"
)

// versionDelta records how the transition that produced a version shifted
// content, for positional rebase. known is false for versions created by a
// direct CreateVersion call (arbitrary content replacement) whose effect on
// any given position cannot be reasoned about; a rebase spanning such a
// transition always falls back to Superseded.
type versionDelta struct {
	pos   int
	delta int
	known bool
}

// Document is the core, mutex-guarded run-writer state machine. It has no
// dependency on the actor runtime; Actor (in this package) wraps it for use
// as an actor.Handler spawned per run_id.
type Document struct {
	mu sync.Mutex

	runID string
	store eventstore.Store // optional; nil is valid for tests

	content       []rune
	versions      map[uint64]DocumentVersion
	versionDeltas map[uint64]versionDelta
	headVersionID uint64
	revision      uint64

	overlays         map[string]*Overlay
	pendingBySection map[string]string // section_id -> overlay_id, legacy proposal mode only

	sections map[string]SectionState

	now    func() time.Time
	nextID func() string
}

// NewDocument returns an empty Document (version 0, empty content) for the
// given run_id. store may be nil, in which case document.update events are
// not published (useful for unit tests of the state machine in isolation).
func NewDocument(runID string, store eventstore.Store) *Document {
	return &Document{
		runID:            runID,
		store:            store,
		versions:         make(map[uint64]DocumentVersion),
		versionDeltas:    make(map[uint64]versionDelta),
		overlays:         make(map[string]*Overlay),
		pendingBySection: make(map[string]string),
		sections:         make(map[string]SectionState),
		now:              func() time.Time { return time.Now().UTC() },
		nextID:           func() string { return ulid.Make().String() },
	}
}

// CreateVersion creates a new DocumentVersion from content. If parent is
// provided and differs from the current head, the new version is a branch;
// regardless, the head pointer always advances to the newest version_id
// since this package exposes no explicit head-move operation.
func (d *Document) CreateVersion(parent *uint64, content string, source VersionSource) (DocumentVersion, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.createVersionLocked(parent, content, source, true)
}

func (d *Document) createVersionLocked(parent *uint64, content string, source VersionSource, trackDelta bool) (DocumentVersion, error) {
	newID := d.headVersionID + 1
	v := DocumentVersion{VersionID: newID, ParentVersionID: parent, Content: content, Source: source, CreatedAt: d.now()}
	d.versions[newID] = v
	if trackDelta {
		// CreateVersion replaces content arbitrarily; the transition's
		// positional effect is not known, which forces Superseded for any
		// rebase spanning it.
		d.versionDeltas[newID] = versionDelta{known: false}
	}
	d.headVersionID = newID
	d.content = []rune(content)
	d.bumpRevisionLocked()
	d.publish(events.DocumentUpdate, map[string]any{"kind": "version_created", "version_id": newID})
	return v, nil
}

// CreateOverlay creates a Pending Overlay against baseVersionID. Rejects
// with InvalidBaseVersionError if baseVersionID is ahead of head.
func (d *Document) CreateOverlay(baseVersionID uint64, author OverlayAuthor, kind OverlayKind, diffOps []PatchOp) (Overlay, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if baseVersionID > d.headVersionID {
		return Overlay{}, &InvalidBaseVersionError{Requested: baseVersionID, Head: d.headVersionID}
	}
	o := &Overlay{
		OverlayID:     d.nextID(),
		RunID:         d.runID,
		BaseVersionID: baseVersionID,
		Author:        author,
		Kind:          kind,
		DiffOps:       diffOps,
		Status:        OverlayPending,
		CreatedAt:     d.now(),
	}
	d.overlays[o.OverlayID] = o
	d.bumpRevisionLocked()
	d.publish(events.DocumentUpdate, map[string]any{"kind": "overlay_created", "overlay_id": o.OverlayID})
	return *o, nil
}

// ResolveOverlay transitions overlayID to Applied or Rejected. On Applied
// with base_version_id == head, diff_ops apply directly to head. On Applied
// with base_version_id < head, the ops are positionally rebased; if
// rebasing cannot be proven safe the overlay is marked Superseded instead
// of Applied (never an error).
func (d *Document) ResolveOverlay(overlayID string, status OverlayStatus) (Overlay, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, ok := d.overlays[overlayID]
	if !ok {
		return Overlay{}, &OverlayNotFoundError{OverlayID: overlayID}
	}
	if o.Status != OverlayPending {
		return *o, nil
	}
	switch status {
	case OverlayRejected:
		o.Status = OverlayRejected
		d.bumpRevisionLocked()
		d.publish(events.DocumentUpdate, map[string]any{"kind": "overlay_rejected", "overlay_id": o.OverlayID})
		return *o, nil
	case OverlayApplied:
		return d.applyOverlayLocked(o)
	default:
		return Overlay{}, &InvalidPatchError{Reason: fmt.Sprintf("unsupported resolution status %q", status)}
	}
}

func (d *Document) applyOverlayLocked(o *Overlay) (Overlay, error) {
	ops := o.DiffOps
	if o.BaseVersionID < d.headVersionID {
		rebased, ok := d.rebaseOps(o.BaseVersionID, ops)
		if !ok {
			o.Status = OverlaySuperseded
			d.bumpRevisionLocked()
			d.publish(events.DocumentUpdate, map[string]any{"kind": "overlay_superseded", "overlay_id": o.OverlayID})
			return *o, nil
		}
		ops = rebased
	}

	newContent := append([]rune(nil), d.content...)
	var netDelta, pivot int
	havePivot := false
	for _, op := range ops {
		before := len(newContent)
		newContent = applyOp(newContent, op)
		netDelta += len(newContent) - before
		if !havePivot {
			pivot = op.Pos
			havePivot = true
		}
	}

	source := VersionSourceSystem
	switch o.Author.Kind {
	case AuthorUser:
		source = VersionSourceUser
	case AuthorWorker:
		source = VersionSourceWorker
	}
	parent := d.headVersionID
	v, _ := d.createVersionLocked(&parent, string(newContent), source, false)
	d.versionDeltas[v.VersionID] = versionDelta{pos: pivot, delta: netDelta, known: true}
	o.Status = OverlayApplied
	o.TargetVersionID = &v.VersionID
	d.publish(events.DocumentUpdate, map[string]any{"kind": "overlay_applied", "overlay_id": o.OverlayID, "version_id": v.VersionID})
	return *o, nil
}

// rebaseOps shifts each op's Pos by the signed net length delta of
// transitions in (base, head] that occurred at or before the op's current
// position. A transition with unknown positional effect, or a rebased op
// that would fall outside the current document, makes the rebase unsafe.
func (d *Document) rebaseOps(base uint64, ops []PatchOp) ([]PatchOp, bool) {
	out := make([]PatchOp, len(ops))
	length := len(d.content)
	for i, op := range ops {
		shift := 0
		for v := base + 1; v <= d.headVersionID; v++ {
			vd, known := d.versionDeltas[v]
			if !known {
				return nil, false
			}
			if vd.pos <= op.Pos+shift {
				shift += vd.delta
			}
		}
		rebased := op
		rebased.Pos += shift
		if rebased.Pos < 0 || rebased.Pos > length {
			return nil, false
		}
		if (op.Kind == OpDelete || op.Kind == OpReplace) && rebased.Pos+op.Len > length {
			return nil, false
		}
		out[i] = rebased
	}
	return out, true
}

// ApplyPatch is the legacy direct-mutation path: ops are wrapped in an
// anonymous overlay against head and, unless proposal is true, applied
// immediately.
func (d *Document) ApplyPatch(runID, source, sectionID string, ops []PatchOp, proposal bool) (ApplyPatchResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if runID != d.runID {
		return ApplyPatchResult{}, &RunIDMismatchError{Expected: d.runID, Actual: runID}
	}
	return d.legacyOverlay(sectionID, authorFor(source), ops, proposal, len(ops))
}

// AppendLogLine appends text (plus a trailing newline) to the document via
// the same legacy-overlay mapping as ApplyPatch.
func (d *Document) AppendLogLine(runID, source, sectionID, text string, proposal bool) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if runID != d.runID {
		return 0, &RunIDMismatchError{Expected: d.runID, Actual: runID}
	}
	op := PatchOp{Kind: OpAppend, Text: text + "\n"}
	res, err := d.legacyOverlay(sectionID, authorFor(source), []PatchOp{op}, proposal, 1)
	if err != nil {
		return 0, err
	}
	return res.Revision, nil
}

// SetSectionContent rewrites the entire document to content via the
// legacy-overlay mapping (a single whole-document Replace).
func (d *Document) SetSectionContent(runID, source, sectionID, content string) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if runID != d.runID {
		return 0, &RunIDMismatchError{Expected: d.runID, Actual: runID}
	}
	op := PatchOp{Kind: OpReplace, Pos: 0, Len: len(d.content), Text: content}
	res, err := d.legacyOverlay(sectionID, authorFor(source), []PatchOp{op}, false, 1)
	if err != nil {
		return 0, err
	}
	return res.Revision, nil
}

func (d *Document) legacyOverlay(sectionID string, author OverlayAuthor, ops []PatchOp, proposal bool, linesModified int) (ApplyPatchResult, error) {
	o := &Overlay{
		OverlayID:     d.nextID(),
		RunID:         d.runID,
		BaseVersionID: d.headVersionID,
		Author:        author,
		Kind:          OverlayKindLegacy,
		DiffOps:       ops,
		Status:        OverlayPending,
		CreatedAt:     d.now(),
	}
	d.overlays[o.OverlayID] = o
	if proposal {
		d.pendingBySection[sectionID] = o.OverlayID
		d.bumpRevisionLocked()
		d.publish(events.DocumentUpdate, map[string]any{"kind": "proposal_created", "overlay_id": o.OverlayID, "section_id": sectionID})
		return ApplyPatchResult{Revision: d.revision, BaseVersionID: o.BaseVersionID, OverlayID: &o.OverlayID}, nil
	}
	applied, err := d.applyOverlayLocked(o)
	if err != nil {
		return ApplyPatchResult{}, err
	}
	return ApplyPatchResult{
		Revision:        d.revision,
		LinesModified:   linesModified,
		BaseVersionID:   applied.BaseVersionID,
		TargetVersionID: applied.TargetVersionID,
		OverlayID:       &applied.OverlayID,
	}, nil
}

// CommitProposal resolves the pending proposal overlay for sectionID as
// Applied.
func (d *Document) CommitProposal(sectionID string) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	overlayID, ok := d.pendingBySection[sectionID]
	if !ok {
		return 0, &SectionNotFoundError{SectionID: sectionID}
	}
	delete(d.pendingBySection, sectionID)
	o := d.overlays[overlayID]
	if _, err := d.applyOverlayLocked(o); err != nil {
		return 0, err
	}
	return d.revision, nil
}

// DiscardProposal resolves the pending proposal overlay for sectionID as
// Rejected.
func (d *Document) DiscardProposal(sectionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	overlayID, ok := d.pendingBySection[sectionID]
	if !ok {
		return &SectionNotFoundError{SectionID: sectionID}
	}
	delete(d.pendingBySection, sectionID)
	o := d.overlays[overlayID]
	o.Status = OverlayRejected
	d.bumpRevisionLocked()
	d.publish(events.DocumentUpdate, map[string]any{"kind": "proposal_discarded", "overlay_id": overlayID, "section_id": sectionID})
	return nil
}

// ReportSectionProgress emits a display-only progress tick without
// mutating the document or bumping the revision.
func (d *Document) ReportSectionProgress(sectionID, phase, message string) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.publish(events.DocumentUpdate, map[string]any{
		"kind":       "section_progress",
		"section_id": sectionID,
		"phase":      phase,
		"message":    message,
	})
	return d.revision, nil
}

// MarkSectionState updates a section's display state, bumps the revision,
// and publishes a section event.
func (d *Document) MarkSectionState(sectionID string, state SectionState) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sections[sectionID] = state
	d.bumpRevisionLocked()
	d.publish(events.DocumentUpdate, map[string]any{"kind": "section_state", "section_id": sectionID, "state": string(state)})
	return nil
}

// GetDocument returns the current document content.
func (d *Document) GetDocument() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return string(d.content), nil
}

// GetRevision returns the current revision counter.
func (d *Document) GetRevision() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.revision
}

// GetHeadVersion returns the current head DocumentVersion.
func (d *Document) GetHeadVersion() (DocumentVersion, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.versions[d.headVersionID]
	if !ok {
		return DocumentVersion{}, &VersionNotFoundError{VersionID: d.headVersionID}
	}
	return v, nil
}

// GetVersion returns the DocumentVersion with the given id.
func (d *Document) GetVersion(versionID uint64) (DocumentVersion, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.versions[versionID]
	if !ok {
		return DocumentVersion{}, &VersionNotFoundError{VersionID: versionID}
	}
	return v, nil
}

// ListVersions returns every DocumentVersion in ascending version_id order.
func (d *Document) ListVersions() ([]DocumentVersion, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DocumentVersion, 0, len(d.versions))
	for id := uint64(1); id <= d.headVersionID; id++ {
		if v, ok := d.versions[id]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

// ListOverlays returns overlays, optionally filtered by base version id
// and/or status.
func (d *Document) ListOverlays(baseVersionID *uint64, status *OverlayStatus) ([]Overlay, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Overlay, 0, len(d.overlays))
	for _, o := range d.overlays {
		if baseVersionID != nil && o.BaseVersionID != *baseVersionID {
			continue
		}
		if status != nil && o.Status != *status {
			continue
		}
		out = append(out, *o)
	}
	return out, nil
}

func (d *Document) bumpRevisionLocked() {
	d.revision++
}

func (d *Document) publish(t events.Type, payload map[string]any) {
	if d.store == nil {
		return
	}
	d.store.AppendAsync(context.Background(), eventstore.EventInput{
		EventType: string(t),
		ActorID:   d.runID,
		Payload:   payload,
		Metadata: eventstore.Metadata{
			WakePolicy: events.WakePolicyFor(t),
			RunID:      d.runID,
		},
	})
}

func authorFor(source string) OverlayAuthor {
	switch source {
	case string(AuthorUser):
		return OverlayAuthor{Kind: AuthorUser, ID: source}
	case string(AuthorWorker):
		return OverlayAuthor{Kind: AuthorWorker, ID: source}
	default:
		return OverlayAuthor{Kind: AuthorSystem, ID: source}
	}
}

// applyOp applies a single PatchOp to content using Unicode-scalar offsets.
// Pos and end are clamped into range; there is no out-of-range failure so
// retried ops stay convergent.
func applyOp(content []rune, op PatchOp) []rune {
	length := len(content)
	pos := op.Pos
	if pos < 0 {
		pos = 0
	}
	if pos > length {
		pos = length
	}
	switch op.Kind {
	case OpInsert:
		return spliceInsert(content, pos, op.Text)
	case OpAppend:
		return spliceInsert(content, length, op.Text)
	case OpDelete:
		end := clampEnd(pos, op.Len, length)
		return spliceReplace(content, pos, end, "")
	case OpReplace:
		end := clampEnd(pos, op.Len, length)
		return spliceReplace(content, pos, end, op.Text)
	default:
		return content
	}
}

func clampEnd(pos, l, length int) int {
	end := pos + l
	if end > length {
		end = length
	}
	if end < pos {
		end = pos
	}
	return end
}

func spliceInsert(content []rune, pos int, text string) []rune {
	ins := []rune(text)
	out := make([]rune, 0, len(content)+len(ins))
	out = append(out, content[:pos]...)
	out = append(out, ins...)
	out = append(out, content[pos:]...)
	return out
}

func spliceReplace(content []rune, pos, end int, text string) []rune {
	ins := []rune(text)
	out := make([]rune, 0, len(content)-(end-pos)+len(ins))
	out = append(out, content[:pos]...)
	out = append(out, ins...)
	out = append(out, content[end:]...)
	return out
}
