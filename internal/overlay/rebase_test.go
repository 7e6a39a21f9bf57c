package overlay

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liqiongyu/agentpack/internal/apperr"
	"github.com/liqiongyu/agentpack/internal/ids"
)

// rebaseFixture wires a dir overlay with one file plus base/upstream
// readers for the rebase decision table.
type rebaseFixture struct {
	overlayDir  string
	baselineMap map[string]string
	base        map[string]string
	upstream    map[string]string
}

func newRebaseFixture(t *testing.T, ours, base, upstream string) *rebaseFixture {
	t.Helper()
	f := &rebaseFixture{
		overlayDir:  t.TempDir(),
		baselineMap: map[string]string{},
		base:        map[string]string{},
		upstream:    map[string]string{},
	}
	writeFile(t, filepath.Join(f.overlayDir, "doc.md"), ours)
	if base != "" {
		f.base["doc.md"] = base
		f.baselineMap["doc.md"] = ids.SHA256Hex([]byte(base))
	}
	if upstream != "" {
		f.upstream["doc.md"] = upstream
	}
	return f
}

func (f *rebaseFixture) readBase(rel string) ([]byte, bool, error) {
	s, ok := f.base[rel]
	return []byte(s), ok, nil
}

func (f *rebaseFixture) readUpstream(rel string) ([]byte, bool, error) {
	s, ok := f.upstream[rel]
	return []byte(s), ok, nil
}

func (f *rebaseFixture) run(t *testing.T, opts RebaseOptions) (*RebaseReport, error) {
	t.Helper()
	return Rebase(f.overlayDir, f.baselineMap, f.readBase, f.readUpstream, opts)
}

func (f *rebaseFixture) overlayContent(t *testing.T) (string, bool) {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.overlayDir, "doc.md"))
	if os.IsNotExist(err) {
		return "", false
	}
	require.NoError(t, err)
	return string(data), true
}

func TestRebaseTableOursChangedUpstreamDeleted(t *testing.T) {
	f := newRebaseFixture(t, "ours\n", "base\n", "")
	report, err := f.run(t, RebaseOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Summary.SkippedFiles)
	content, exists := f.overlayContent(t)
	require.True(t, exists)
	assert.Equal(t, "ours\n", content)
}

func TestRebaseTableOursUnchangedUpstreamDeleted(t *testing.T) {
	f := newRebaseFixture(t, "base\n", "base\n", "")
	report, err := f.run(t, RebaseOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Summary.DeletedFiles)
	_, exists := f.overlayContent(t)
	assert.False(t, exists, "resolved upstream deletion should drop the overlay file")
}

func TestRebaseTableAllEqualNoChange(t *testing.T) {
	f := newRebaseFixture(t, "base\n", "base\n", "base\n")
	report, err := f.run(t, RebaseOptions{})
	require.NoError(t, err)
	assert.Zero(t, report.Summary.UpdatedFiles)
	assert.Zero(t, report.Summary.DeletedFiles)
}

func TestRebaseTableAdoptUpstream(t *testing.T) {
	f := newRebaseFixture(t, "base\n", "base\n", "upstream-v2\n")
	report, err := f.run(t, RebaseOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Summary.UpdatedFiles)
	content, _ := f.overlayContent(t)
	assert.Equal(t, "upstream-v2\n", content)
}

func TestRebaseTableAdoptUpstreamSparsify(t *testing.T) {
	f := newRebaseFixture(t, "base\n", "base\n", "upstream-v2\n")
	report, err := f.run(t, RebaseOptions{Sparsify: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Summary.DeletedFiles)
	_, exists := f.overlayContent(t)
	assert.False(t, exists, "sparsify should drop an overlay that would track upstream")
}

func TestRebaseTableKeepOursUpstreamUnchanged(t *testing.T) {
	f := newRebaseFixture(t, "ours\n", "base\n", "base\n")
	report, err := f.run(t, RebaseOptions{})
	require.NoError(t, err)
	assert.Zero(t, report.Summary.UpdatedFiles)
	content, _ := f.overlayContent(t)
	assert.Equal(t, "ours\n", content)
}

func TestRebaseTableOursEqualsUpstreamSparsify(t *testing.T) {
	f := newRebaseFixture(t, "converged\n", "base\n", "converged\n")
	report, err := f.run(t, RebaseOptions{Sparsify: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Summary.DeletedFiles)
}

func TestRebaseTableOursEqualsUpstreamKeep(t *testing.T) {
	f := newRebaseFixture(t, "converged\n", "base\n", "converged\n")
	report, err := f.run(t, RebaseOptions{})
	require.NoError(t, err)
	assert.Zero(t, report.Summary.DeletedFiles)
	content, _ := f.overlayContent(t)
	assert.Equal(t, "converged\n", content)
}

func TestRebaseTableThreeWayCleanMerge(t *testing.T) {
	f := newRebaseFixture(t,
		"first-ours\nmiddle\nlast\n",
		"first\nmiddle\nlast\n",
		"first\nmiddle\nlast-upstream\n")
	report, err := f.run(t, RebaseOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Summary.UpdatedFiles)
	content, _ := f.overlayContent(t)
	assert.Equal(t, "first-ours\nmiddle\nlast-upstream\n", content)
}

func TestRebaseTableThreeWayConflict(t *testing.T) {
	f := newRebaseFixture(t,
		"line1\nline2-ours\nline3\n",
		"line1\nline2\nline3\n",
		"line1\nline2-theirs\nline3\n")
	report, err := f.run(t, RebaseOptions{})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeOverlayRebaseConflict), "err = %v", err)
	require.NotNil(t, report)
	assert.Equal(t, []string{"doc.md"}, report.Conflicts)

	content, _ := f.overlayContent(t)
	assert.Contains(t, content, "<<<<<<< ours")
	assert.Contains(t, content, "line2-ours")
	assert.Contains(t, content, "line2-theirs")
	assert.Contains(t, content, ">>>>>>> upstream")
}

func TestRebaseDryRunNeverWrites(t *testing.T) {
	f := newRebaseFixture(t, "base\n", "base\n", "upstream-v2\n")
	report, err := f.run(t, RebaseOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Summary.UpdatedFiles)
	content, exists := f.overlayContent(t)
	require.True(t, exists)
	assert.Equal(t, "base\n", content, "dry_run must not modify overlay files")
}

func TestRebaseBaselineMismatch(t *testing.T) {
	f := newRebaseFixture(t, "ours\n", "base\n", "up\n")
	f.baselineMap["doc.md"] = ids.SHA256Hex([]byte("something else entirely\n"))
	_, err := f.run(t, RebaseOptions{})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeOverlayBaselineUnsupported), "err = %v", err)
	ae := apperr.FromError(err)
	assert.Equal(t, "doc.md", ae.Details["path"])
	assert.NotEmpty(t, ae.Details["expected_sha256"])
	assert.NotEmpty(t, ae.Details["got_sha256"])
}

func TestRebaseFileOutsideBaselineSkipped(t *testing.T) {
	f := newRebaseFixture(t, "new file\n", "", "")
	report, err := f.run(t, RebaseOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Summary.SkippedFiles)
}

func TestRebaseMissingOverlayDir(t *testing.T) {
	_, err := Rebase(filepath.Join(t.TempDir(), "absent"), nil, nil, nil, RebaseOptions{})
	assert.True(t, apperr.Is(err, apperr.CodeOverlayNotFound), "err = %v", err)
}

func TestRebasePatchOverlayConflictArtifact(t *testing.T) {
	overlayDir := t.TempDir()
	base := "line1\nline2\nline3\n"
	ours := "line1\nline2-ours\nline3\n"
	upstream := "line1\nline2-theirs\nline3\n"

	writeFile(t, MetaPath(overlayDir), `{"overlay_kind": "patch"}`+"\n")
	patch, err := GeneratePatch("doc.md", []byte(base), []byte(ours))
	require.NoError(t, err)
	writeFile(t, filepath.Join(PatchesDir(overlayDir), "doc.md.patch"), string(patch))

	baselineMap := map[string]string{"doc.md": ids.SHA256Hex([]byte(base))}
	readBase := func(rel string) ([]byte, bool, error) { return []byte(base), true, nil }
	readUpstream := func(rel string) ([]byte, bool, error) { return []byte(upstream), true, nil }

	report, err := Rebase(overlayDir, baselineMap, readBase, readUpstream, RebaseOptions{})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeOverlayRebaseConflict), "err = %v", err)
	require.NotNil(t, report)
	assert.Equal(t, []string{"doc.md"}, report.Conflicts)

	conflictFile := filepath.Join(ConflictsDir(overlayDir), "doc.md")
	data, readErr := os.ReadFile(conflictFile)
	require.NoError(t, readErr, "conflict artifact should exist under .agentpack/conflicts")
	assert.Contains(t, string(data), "<<<<<<< ours")
}

func TestRebasePatchOverlayRegeneratesPatch(t *testing.T) {
	overlayDir := t.TempDir()
	base := "alpha\nbeta\ngamma\n"
	ours := "alpha\nbeta-ours\ngamma\n"
	upstream := "alpha\nbeta\ngamma\ndelta\n"

	writeFile(t, MetaPath(overlayDir), `{"overlay_kind": "patch"}`+"\n")
	patch, err := GeneratePatch("doc.md", []byte(base), []byte(ours))
	require.NoError(t, err)
	patchPath := filepath.Join(PatchesDir(overlayDir), "doc.md.patch")
	writeFile(t, patchPath, string(patch))

	baselineMap := map[string]string{"doc.md": ids.SHA256Hex([]byte(base))}
	readBase := func(rel string) ([]byte, bool, error) { return []byte(base), true, nil }
	readUpstream := func(rel string) ([]byte, bool, error) { return []byte(upstream), true, nil }

	report, err := Rebase(overlayDir, baselineMap, readBase, readUpstream, RebaseOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Summary.UpdatedFiles)

	// The regenerated patch must apply cleanly to the new upstream and
	// reproduce the merged content.
	newPatch, err := os.ReadFile(patchPath)
	require.NoError(t, err)
	merged, err := ApplyPatch([]byte(upstream), newPatch)
	require.NoError(t, err)
	assert.Equal(t, "alpha\nbeta-ours\ngamma\ndelta\n", string(merged))
}
