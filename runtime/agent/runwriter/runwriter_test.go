package runwriter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateVersionAdvancesHead(t *testing.T) {
	d := NewDocument("run-1", nil)
	v, err := d.CreateVersion(nil, "hello", VersionSourceUser)
	require.NoError(t, err)
	require.Equal(t, uint64(1), v.VersionID)
	head, err := d.GetHeadVersion()
	require.NoError(t, err)
	require.Equal(t, v, head)
	require.Equal(t, uint64(1), d.GetRevision())
}

func TestCreateOverlayRejectsBaseAheadOfHead(t *testing.T) {
	d := NewDocument("run-1", nil)
	_, err := d.CreateOverlay(5, OverlayAuthor{Kind: AuthorUser}, OverlayKindExplicit, nil)
	require.Error(t, err)
	var invalid *InvalidBaseVersionError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, uint64(5), invalid.Requested)
	require.Equal(t, uint64(0), invalid.Head)
}

func TestResolveOverlayAppliedAtHeadCreatesVersion(t *testing.T) {
	d := NewDocument("run-1", nil)
	_, err := d.CreateVersion(nil, "hello world", VersionSourceUser)
	require.NoError(t, err)

	ops := []PatchOp{{Kind: OpInsert, Pos: 5, Text: ","}}
	o, err := d.CreateOverlay(1, OverlayAuthor{Kind: AuthorWorker, ID: "researcher-1"}, OverlayKindExplicit, ops)
	require.NoError(t, err)

	resolved, err := d.ResolveOverlay(o.OverlayID, OverlayApplied)
	require.NoError(t, err)
	require.Equal(t, OverlayApplied, resolved.Status)
	require.NotNil(t, resolved.TargetVersionID)
	require.Equal(t, uint64(2), *resolved.TargetVersionID)

	content, err := d.GetDocument()
	require.NoError(t, err)
	require.Equal(t, "hello, world", content)
}

func TestResolveOverlayRejected(t *testing.T) {
	d := NewDocument("run-1", nil)
	_, _ = d.CreateVersion(nil, "abc", VersionSourceUser)
	o, err := d.CreateOverlay(1, OverlayAuthor{Kind: AuthorWorker}, OverlayKindExplicit, []PatchOp{{Kind: OpAppend, Text: "!"}})
	require.NoError(t, err)

	resolved, err := d.ResolveOverlay(o.OverlayID, OverlayRejected)
	require.NoError(t, err)
	require.Equal(t, OverlayRejected, resolved.Status)
	require.Nil(t, resolved.TargetVersionID)

	content, err := d.GetDocument()
	require.NoError(t, err)
	require.Equal(t, "abc", content)
}

func TestResolveOverlayUnknownOverlayID(t *testing.T) {
	d := NewDocument("run-1", nil)
	_, err := d.ResolveOverlay("missing", OverlayApplied)
	require.Error(t, err)
	var notFound *OverlayNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestRebaseShiftsTrailingOp(t *testing.T) {
	d := NewDocument("run-1", nil)
	_, _ = d.CreateVersion(nil, "0123456789", VersionSourceUser)

	// Overlay A targets the tail (pos 8), created against version 1.
	tail, err := d.CreateOverlay(1, OverlayAuthor{Kind: AuthorWorker}, OverlayKindExplicit,
		[]PatchOp{{Kind: OpInsert, Pos: 8, Text: "X"}})
	require.NoError(t, err)

	// Overlay B inserts 3 chars at pos 2, also against version 1, and is
	// resolved first so it advances head before tail is resolved.
	head, err := d.CreateOverlay(1, OverlayAuthor{Kind: AuthorWorker}, OverlayKindExplicit,
		[]PatchOp{{Kind: OpInsert, Pos: 2, Text: "abc"}})
	require.NoError(t, err)
	_, err = d.ResolveOverlay(head.OverlayID, OverlayApplied)
	require.NoError(t, err)

	resolved, err := d.ResolveOverlay(tail.OverlayID, OverlayApplied)
	require.NoError(t, err)
	require.Equal(t, OverlayApplied, resolved.Status)

	content, err := d.GetDocument()
	require.NoError(t, err)
	// "0123456789" -> insert "abc" at 2 -> "01abc23456789" -> insert "X" at
	// rebased pos 8+3=11 -> "01abc234567X89"
	require.Equal(t, "01abc234567X89", content)
}

func TestRebaseSupersedesAcrossUnknownTransition(t *testing.T) {
	d := NewDocument("run-1", nil)
	_, _ = d.CreateVersion(nil, "0123456789", VersionSourceUser)

	overlay, err := d.CreateOverlay(1, OverlayAuthor{Kind: AuthorWorker}, OverlayKindExplicit,
		[]PatchOp{{Kind: OpInsert, Pos: 5, Text: "X"}})
	require.NoError(t, err)

	// A plain CreateVersion call replaces content arbitrarily; its effect on
	// any given position is unknown.
	_, err = d.CreateVersion(nil, "completely different content", VersionSourceSystem)
	require.NoError(t, err)

	resolved, err := d.ResolveOverlay(overlay.OverlayID, OverlayApplied)
	require.NoError(t, err)
	require.Equal(t, OverlaySuperseded, resolved.Status)
}

func TestApplyPatchLegacyImmediate(t *testing.T) {
	d := NewDocument("run-1", nil)
	res, err := d.ApplyPatch("run-1", "user", "main", []PatchOp{{Kind: OpAppend, Text: "hi"}}, false)
	require.NoError(t, err)
	require.NotNil(t, res.TargetVersionID)
	content, err := d.GetDocument()
	require.NoError(t, err)
	require.Equal(t, "hi", content)
}

func TestApplyPatchWrongRunIDFails(t *testing.T) {
	d := NewDocument("run-1", nil)
	_, err := d.ApplyPatch("run-2", "user", "main", nil, false)
	require.Error(t, err)
	var mismatch *RunIDMismatchError
	require.ErrorAs(t, err, &mismatch)
}

func TestAppendLogLineAppendsNewline(t *testing.T) {
	d := NewDocument("run-1", nil)
	_, err := d.AppendLogLine("run-1", "worker", "main", "line one", false)
	require.NoError(t, err)
	content, err := d.GetDocument()
	require.NoError(t, err)
	require.Equal(t, "line one\n", content)
}

func TestSetSectionContentReplacesWholeDocument(t *testing.T) {
	d := NewDocument("run-1", nil)
	_, _ = d.AppendLogLine("run-1", "worker", "main", "old", false)
	_, err := d.SetSectionContent("run-1", "system", "main", "new content")
	require.NoError(t, err)
	content, err := d.GetDocument()
	require.NoError(t, err)
	require.Equal(t, "new content", content)
}

func TestProposalCommitApplies(t *testing.T) {
	d := NewDocument("run-1", nil)
	res, err := d.ApplyPatch("run-1", "worker", "draft", []PatchOp{{Kind: OpAppend, Text: "proposed"}}, true)
	require.NoError(t, err)
	require.Nil(t, res.TargetVersionID, "proposal must not apply immediately")

	content, err := d.GetDocument()
	require.NoError(t, err)
	require.Empty(t, content)

	_, err = d.CommitProposal("draft")
	require.NoError(t, err)

	content, err = d.GetDocument()
	require.NoError(t, err)
	require.Equal(t, "proposed", content)
}

func TestProposalDiscardLeavesDocumentUntouched(t *testing.T) {
	d := NewDocument("run-1", nil)
	_, err := d.ApplyPatch("run-1", "worker", "draft", []PatchOp{{Kind: OpAppend, Text: "proposed"}}, true)
	require.NoError(t, err)

	err = d.DiscardProposal("draft")
	require.NoError(t, err)

	content, err := d.GetDocument()
	require.NoError(t, err)
	require.Empty(t, content)

	_, err = d.CommitProposal("draft")
	require.Error(t, err)
	var notFound *SectionNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestReportSectionProgressDoesNotBumpRevision(t *testing.T) {
	d := NewDocument("run-1", nil)
	before := d.GetRevision()
	_, err := d.ReportSectionProgress("main", "running", "halfway done")
	require.NoError(t, err)
	require.Equal(t, before, d.GetRevision())
}

func TestMarkSectionStateBumpsRevision(t *testing.T) {
	d := NewDocument("run-1", nil)
	before := d.GetRevision()
	err := d.MarkSectionState("main", SectionComplete)
	require.NoError(t, err)
	require.Greater(t, d.GetRevision(), before)
}

func TestApplyOpClampsOutOfRangeSilently(t *testing.T) {
	content := []rune("abc")
	out := applyOp(content, PatchOp{Kind: OpDelete, Pos: 10, Len: 5})
	require.Equal(t, "abc", string(out))

	out = applyOp(content, PatchOp{Kind: OpInsert, Pos: 100, Text: "Z"})
	require.Equal(t, "abcZ", string(out))
}

func TestListVersionsAndOverlays(t *testing.T) {
	d := NewDocument("run-1", nil)
	_, _ = d.CreateVersion(nil, "v1", VersionSourceUser)
	_, _ = d.CreateVersion(nil, "v2", VersionSourceUser)

	versions, err := d.ListVersions()
	require.NoError(t, err)
	require.Len(t, versions, 2)

	o, err := d.CreateOverlay(2, OverlayAuthor{Kind: AuthorUser}, OverlayKindExplicit, nil)
	require.NoError(t, err)

	overlays, err := d.ListOverlays(nil, nil)
	require.NoError(t, err)
	require.Len(t, overlays, 1)
	require.Equal(t, o.OverlayID, overlays[0].OverlayID)

	pending := OverlayPending
	filtered, err := d.ListOverlays(nil, &pending)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
}
