package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liqiongyu/agentpack/internal/apperr"
	"github.com/liqiongyu/agentpack/internal/deploy"
	"github.com/liqiongyu/agentpack/internal/ids"
	"github.com/liqiongyu/agentpack/internal/state"
	"github.com/liqiongyu/agentpack/internal/target"
)

// fixture builds a minimal config repo with a codex target and loads an
// engine against throwaway home and target roots.
type fixture struct {
	repo      string
	home      string
	codexRoot string
	eng       *Engine
}

func writeFixtureFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newFixture(t *testing.T, manifestBody string) *fixture {
	t.Helper()
	f := &fixture{
		repo:      t.TempDir(),
		home:      t.TempDir(),
		codexRoot: filepath.Join(t.TempDir(), "codex"),
	}
	writeFixtureFile(t, filepath.Join(f.repo, "agentpack.yaml"),
		fmt.Sprintf(manifestBody, f.codexRoot))
	f.reload(t)
	return f
}

func (f *fixture) reload(t *testing.T) {
	t.Helper()
	if f.eng != nil {
		f.eng.Close()
	}
	eng, err := Load(Options{
		RepoDir:     f.repo,
		Home:        f.home,
		Machine:     "testbox",
		ProjectRoot: f.repo,
		UserHome:    f.home,
	})
	require.NoError(t, err)
	f.eng = eng
	t.Cleanup(eng.Close)
}

const baseManifest = `schema_version: 1
targets:
  codex:
    options:
      root: %s
modules:
  - id: instructions:base
    kind: instructions
    source:
      path: modules/instructions/base
`

func TestFromScratchDeploy(t *testing.T) {
	f := newFixture(t, baseManifest)
	writeFixtureFile(t, filepath.Join(f.repo, "modules", "instructions", "base", "AGENTS.md"), "# Base rules\n")
	f.reload(t)

	ctx, err := f.eng.ReadOnlyContext("default", "all")
	require.NoError(t, err)
	require.Equal(t, 1, ctx.Plan.Summary.Create)

	res, err := f.eng.DeployApply(ctx, false, true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.NotEmpty(t, res.SnapshotID)

	data, err := os.ReadFile(filepath.Join(f.codexRoot, "AGENTS.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Base rules")
	assert.Contains(t, string(data), "<!-- agentpack:module=instructions:base -->")

	m, err := target.LoadManifest(target.ManifestPath(f.codexRoot))
	require.NoError(t, err)
	require.Len(t, m.ManagedFiles, 1)
	assert.Equal(t, "AGENTS.md", m.ManagedFiles[0].Path)
	assert.Equal(t, ids.SHA256Hex(data), m.ManagedFiles[0].SHA256)
}

func TestDeployIdempotent(t *testing.T) {
	f := newFixture(t, baseManifest)
	writeFixtureFile(t, filepath.Join(f.repo, "modules", "instructions", "base", "AGENTS.md"), "# Base\n")
	f.reload(t)

	ctx, err := f.eng.ReadOnlyContext("default", "all")
	require.NoError(t, err)
	_, err = f.eng.DeployApply(ctx, false, true)
	require.NoError(t, err)

	ctx2, err := f.eng.ReadOnlyContext("default", "all")
	require.NoError(t, err)
	assert.Empty(t, ctx2.Plan.Changes)

	res, err := f.eng.DeployApply(ctx2, false, true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoChanges, res.Outcome)
}

const promptManifest = `schema_version: 1
targets:
  codex:
    options:
      root: %s
modules:
  - id: prompt:p
    kind: prompt
    source:
      path: modules/prompts/p
`

func TestAdoptRefusalThenSuccess(t *testing.T) {
	f := newFixture(t, promptManifest)
	writeFixtureFile(t, filepath.Join(f.repo, "modules", "prompts", "p", "p.md"), "# new\n")
	preseeded := filepath.Join(f.codexRoot, "prompts", "p.md")
	writeFixtureFile(t, preseeded, "# old\n")
	f.reload(t)

	ctx, err := f.eng.ReadOnlyContext("default", "all")
	require.NoError(t, err)

	_, err = f.eng.DeployApply(ctx, false, true)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeAdoptConfirmRequired), "err = %v", err)
	ae := apperr.FromError(err)
	assert.Contains(t, ae.Details["sample_paths"], preseeded)

	// Refusal must not touch the file.
	data, _ := os.ReadFile(preseeded)
	assert.Equal(t, "# old\n", string(data))

	res, err := f.eng.DeployApply(ctx, true, true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	data, _ = os.ReadFile(preseeded)
	assert.Equal(t, "# new\n", string(data))
}

const conflictManifest = `schema_version: 1
targets:
  codex:
    options:
      root: %s
modules:
  - id: prompt:one
    kind: prompt
    source:
      path: modules/prompts/one
  - id: prompt:two
    kind: prompt
    source:
      path: modules/prompts/two
`

func TestDesiredStateConflict(t *testing.T) {
	f := newFixture(t, conflictManifest)
	writeFixtureFile(t, filepath.Join(f.repo, "modules", "prompts", "one", "prompt.md"), "from one\n")
	writeFixtureFile(t, filepath.Join(f.repo, "modules", "prompts", "two", "prompt.md"), "from two\n")
	f.reload(t)

	_, err := f.eng.ReadOnlyContext("default", "all")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeDesiredStateConflict), "err = %v", err)

	ae := apperr.FromError(err)
	existing := ae.Details["existing"].(map[string]any)
	newer := ae.Details["new"].(map[string]any)
	assert.NotEqual(t, existing["sha256"], newer["sha256"])
	assert.Equal(t, []string{"prompt:one"}, existing["module_ids"])
	assert.Equal(t, []string{"prompt:two"}, newer["module_ids"])
}

func TestRollback(t *testing.T) {
	f := newFixture(t, baseManifest)
	srcFile := filepath.Join(f.repo, "modules", "instructions", "base", "AGENTS.md")
	writeFixtureFile(t, srcFile, "# v1\n")
	f.reload(t)

	ctx, err := f.eng.ReadOnlyContext("default", "all")
	require.NoError(t, err)
	res1, err := f.eng.DeployApply(ctx, false, true)
	require.NoError(t, err)
	v1Bytes, err := os.ReadFile(filepath.Join(f.codexRoot, "AGENTS.md"))
	require.NoError(t, err)

	// Upstream moves on; deploy v2.
	writeFixtureFile(t, srcFile, "# v2\n")
	f.reload(t)
	ctx, err = f.eng.ReadOnlyContext("default", "all")
	require.NoError(t, err)
	_, err = f.eng.DeployApply(ctx, false, true)
	require.NoError(t, err)

	// Rollback requires confirmation.
	_, err = f.eng.Rollback(res1.SnapshotID, false)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeConfirmRequired), "err = %v", err)

	rb, err := f.eng.Rollback(res1.SnapshotID, true)
	require.NoError(t, err)
	assert.Equal(t, state.KindRollback, rb.Snapshot.Kind)
	assert.Equal(t, res1.SnapshotID, rb.Snapshot.RolledBackTo)

	reverted, err := os.ReadFile(filepath.Join(f.codexRoot, "AGENTS.md"))
	require.NoError(t, err)
	assert.Equal(t, string(v1Bytes), string(reverted))

	// Rollback snapshot id is the current maximum + 1.
	snapIDs, err := state.ListIDs(f.home)
	require.NoError(t, err)
	assert.Equal(t, rb.Snapshot.ID, snapIDs[len(snapIDs)-1])
}

func TestManifestForwardCompatFallsBackToSnapshot(t *testing.T) {
	f := newFixture(t, baseManifest)
	writeFixtureFile(t, filepath.Join(f.repo, "modules", "instructions", "base", "AGENTS.md"), "# v1\n")
	f.reload(t)

	ctx, err := f.eng.ReadOnlyContext("default", "all")
	require.NoError(t, err)
	_, err = f.eng.DeployApply(ctx, false, true)
	require.NoError(t, err)

	// A future tool rewrites the manifest with an unknown schema.
	writeFixtureFile(t, target.ManifestPath(f.codexRoot),
		`{"schema_version": 999, "generated_at": "x", "tool": "future", "managed_files": []}`+"\n")

	ctx2, err := f.eng.ReadOnlyContext("default", "all")
	require.NoError(t, err, "unknown manifest versions must be non-fatal")

	found := false
	for _, w := range ctx2.Warnings {
		if strings.Contains(w, "unsupported schema_version") {
			found = true
		}
	}
	assert.True(t, found, "warnings = %v", ctx2.Warnings)

	// Managed set fell back to the snapshot, so the managed file is still
	// tracked rather than reported for adoption.
	assert.True(t, ctx2.Managed[deploy.TargetPath{
		Target: "codex",
		Path:   filepath.Join(f.codexRoot, "AGENTS.md"),
	}], "managed fallback missing: %v", ctx2.Managed)
}

func TestGlobalOverlayWins(t *testing.T) {
	f := newFixture(t, baseManifest)
	writeFixtureFile(t, filepath.Join(f.repo, "modules", "instructions", "base", "AGENTS.md"), "# upstream\n")
	overlayDir := filepath.Join(f.repo, "overlays", ids.ModuleFSKey("instructions:base"))
	writeFixtureFile(t, filepath.Join(overlayDir, "AGENTS.md"), "# overlaid\n")
	f.reload(t)

	render, err := f.eng.DesiredState("default", "all")
	require.NoError(t, err)
	df := render.Desired[deploy.TargetPath{Target: "codex", Path: filepath.Join(f.codexRoot, "AGENTS.md")}]
	require.NotNil(t, df)
	assert.Contains(t, string(df.Bytes), "# overlaid")
	assert.NotContains(t, string(df.Bytes), "# upstream")
}

func TestLegacyOverlayFallback(t *testing.T) {
	f := newFixture(t, baseManifest)
	writeFixtureFile(t, filepath.Join(f.repo, "modules", "instructions", "base", "AGENTS.md"), "# upstream\n")
	legacyDir := filepath.Join(f.repo, "overlays", ids.SanitizeFSComponent("instructions:base"))
	writeFixtureFile(t, filepath.Join(legacyDir, "AGENTS.md"), "# legacy overlay\n")
	f.reload(t)

	render, err := f.eng.DesiredState("default", "all")
	require.NoError(t, err)
	df := render.Desired[deploy.TargetPath{Target: "codex", Path: filepath.Join(f.codexRoot, "AGENTS.md")}]
	require.NotNil(t, df)
	assert.Contains(t, string(df.Bytes), "# legacy overlay")
}

func TestSelectedTargets(t *testing.T) {
	f := newFixture(t, baseManifest)

	all, err := f.eng.SelectedTargets("all")
	require.NoError(t, err)
	assert.Equal(t, []string{"codex"}, all)

	_, err = f.eng.SelectedTargets("emacs")
	assert.True(t, apperr.Is(err, apperr.CodeTargetUnsupported), "err = %v", err)

	_, err = f.eng.SelectedTargets("cursor")
	assert.True(t, apperr.Is(err, apperr.CodeConfigInvalid), "err = %v", err)
}

func TestGitModuleRequiresLockfile(t *testing.T) {
	f := newFixture(t, `schema_version: 1
targets:
  codex:
    options:
      root: %s
modules:
  - id: skill:remote
    kind: skill
    targets: [claude_code]
    source:
      git:
        url: https://github.com/example/skills
        ref: main
`)
	_, err := f.eng.ComposeModules("default")
	assert.True(t, apperr.Is(err, apperr.CodeLockfileMissing), "err = %v", err)
}

func TestEvolveRestore(t *testing.T) {
	f := newFixture(t, baseManifest)
	writeFixtureFile(t, filepath.Join(f.repo, "modules", "instructions", "base", "AGENTS.md"), "# v1\n")
	f.reload(t)

	ctx, err := f.eng.ReadOnlyContext("default", "all")
	require.NoError(t, err)
	_, err = f.eng.DeployApply(ctx, false, true)
	require.NoError(t, err)

	deployed := filepath.Join(f.codexRoot, "AGENTS.md")
	require.NoError(t, os.Remove(deployed))

	// Restore refuses without confirmation.
	_, err = f.eng.EvolveRestore("default", "all", false, false)
	assert.True(t, apperr.Is(err, apperr.CodeConfirmRequired), "err = %v", err)

	res, err := f.eng.EvolveRestore("default", "all", false, true)
	require.NoError(t, err)
	assert.Equal(t, "restored", res.Reason)
	assert.Equal(t, 1, res.Missing)

	if _, err := os.Stat(deployed); err != nil {
		t.Errorf("restored file missing: %v", err)
	}
}

func TestDoctorReportsLegacyAndKeyedOverlayCoexistence(t *testing.T) {
	f := newFixture(t, baseManifest)
	writeFixtureFile(t, filepath.Join(f.repo, "modules", "instructions", "base", "AGENTS.md"), "# x\n")
	legacy := filepath.Join(f.repo, "overlays", ids.SanitizeFSComponent("instructions:base"))
	keyed := filepath.Join(f.repo, "overlays", ids.ModuleFSKey("instructions:base"))
	writeFixtureFile(t, filepath.Join(legacy, "AGENTS.md"), "legacy\n")
	writeFixtureFile(t, filepath.Join(keyed, "AGENTS.md"), "keyed\n")
	f.reload(t)

	report := f.eng.Doctor()
	found := false
	for _, w := range report.Warnings {
		if strings.Contains(w, "legacy overlay dir") {
			found = true
		}
	}
	assert.True(t, found, "warnings = %v", report.Warnings)
}

func TestOrderedNextActions(t *testing.T) {
	actions := map[string]bool{
		"agentpack rollback --to 000001-deploy": true,
		"agentpack doctor":                      true,
		"agentpack deploy --apply":              true,
		"agentpack lock":                        true,
	}
	got := OrderedNextActions(actions)
	want := []string{
		"agentpack doctor",
		"agentpack lock",
		"agentpack deploy --apply",
		"agentpack rollback --to 000001-deploy",
	}
	assert.Equal(t, want, got)
}
