// Package engine wires the pipeline together: it loads the config repo,
// composes modules through their overlay stack, renders targets into
// desired state, and resolves the managed-paths set that planning and
// drift analysis share. One Engine serves one command invocation.
package engine

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/liqiongyu/agentpack/internal/apperr"
	"github.com/liqiongyu/agentpack/internal/deploy"
	"github.com/liqiongyu/agentpack/internal/fsutil"
	"github.com/liqiongyu/agentpack/internal/ids"
	"github.com/liqiongyu/agentpack/internal/manifest"
	"github.com/liqiongyu/agentpack/internal/overlay"
	"github.com/liqiongyu/agentpack/internal/state"
	"github.com/liqiongyu/agentpack/internal/store"
	"github.com/liqiongyu/agentpack/internal/target"
)

// HomeEnv overrides the agentpack home directory.
const HomeEnv = "AGENTPACK_HOME"

// Options configures Engine loading. Zero values resolve to environment
// defaults.
type Options struct {
	RepoDir     string
	Home        string
	Machine     string
	ProjectRoot string
	UserHome    string
	Logger      *zap.Logger
}

// Engine holds one invocation's resolved context.
type Engine struct {
	RepoDir     string
	Home        string
	MachineID   string
	ProjectRoot string
	UserHome    string

	Manifest *manifest.Manifest
	// Lockfile is nil when the repo has no lockfile yet.
	Lockfile *manifest.Lockfile
	Store    *store.Store
	Log      *zap.Logger

	tempDirs []string
}

// Load resolves the config repo and parses its manifest and lockfile.
func Load(opts Options) (*Engine, error) {
	repoDir := opts.RepoDir
	if repoDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		repoDir = cwd
	}
	repoDir, err := filepath.Abs(repoDir)
	if err != nil {
		return nil, fmt.Errorf("resolve repo dir: %w", err)
	}

	userHome := opts.UserHome
	if userHome == "" {
		userHome, err = os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
	}

	home := opts.Home
	if home == "" {
		home = os.Getenv(HomeEnv)
	}
	if home == "" {
		home = filepath.Join(userHome, ".agentpack")
	}

	projectRoot := opts.ProjectRoot
	if projectRoot == "" {
		projectRoot = repoDir
	}

	machineID := opts.Machine
	if machineID == "" {
		machineID = ids.DetectMachineID()
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	m, err := manifest.Load(filepath.Join(repoDir, manifest.ManifestFilename))
	if err != nil {
		return nil, err
	}
	for _, name := range m.TargetNames() {
		if _, err := target.ForName(name); err != nil {
			return nil, err
		}
	}

	var lf *manifest.Lockfile
	lf, err = manifest.LoadLockfile(filepath.Join(repoDir, manifest.LockfileFilename))
	if err != nil {
		if !apperr.Is(err, apperr.CodeLockfileMissing) {
			return nil, err
		}
		lf = nil
	}

	log.Debug("engine loaded",
		zap.String("repo", repoDir),
		zap.String("home", home),
		zap.String("machine", machineID),
		zap.Int("modules", len(m.Modules)),
		zap.Bool("lockfile", lf != nil))

	return &Engine{
		RepoDir:     repoDir,
		Home:        home,
		MachineID:   machineID,
		ProjectRoot: projectRoot,
		UserHome:    userHome,
		Manifest:    m,
		Lockfile:    lf,
		Store:       store.New(home),
		Log:         log,
	}, nil
}

// Close removes composed temp trees.
func (e *Engine) Close() {
	for _, dir := range e.tempDirs {
		os.RemoveAll(dir)
	}
	e.tempDirs = nil
}

// LockfilePath returns the repo's lockfile path.
func (e *Engine) LockfilePath() string {
	return filepath.Join(e.RepoDir, manifest.LockfileFilename)
}

// ProjectID derives the stable project identifier for project-scoped
// overlays.
func (e *Engine) ProjectID() string {
	return ids.ProjectID(fsutil.ToPosix(filepath.Clean(e.ProjectRoot)))
}

// OverlayLayers returns a module's overlay layers in composition order:
// global, machine, project. A legacy (pre-hash-suffix) global directory is
// used as fallback when the keyed directory is absent.
func (e *Engine) OverlayLayers(moduleID string) []overlay.Layer {
	key := ids.ModuleFSKey(moduleID)

	global := filepath.Join(e.RepoDir, "overlays", key)
	if _, err := os.Stat(global); os.IsNotExist(err) {
		if legacy, ok := e.legacyGlobalOverlayDir(moduleID); ok {
			global = legacy
		}
	}

	return []overlay.Layer{
		{Scope: "global", Dir: global},
		{Scope: "machine", Dir: filepath.Join(e.RepoDir, "overlays", "machines", e.MachineID, key)},
		{Scope: "project", Dir: filepath.Join(e.RepoDir, "projects", e.ProjectID(), "overlays", key)},
	}
}

// legacyGlobalOverlayDir resolves the pre-hash-suffix overlay location.
func (e *Engine) legacyGlobalOverlayDir(moduleID string) (string, bool) {
	sanitized := ids.SanitizeFSComponent(moduleID)
	if !ids.IsSafeLegacyPathComponent(sanitized) {
		return "", false
	}
	legacy := filepath.Join(e.RepoDir, "overlays", sanitized)
	if fi, err := os.Stat(legacy); err == nil && fi.IsDir() {
		return legacy, true
	}
	return "", false
}

// UpstreamRoot resolves a module's upstream tree: the repo-relative path
// for local sources, or the pinned store checkout for git sources.
func (e *Engine) UpstreamRoot(mod *manifest.Module) (string, error) {
	if mod.Source.Path != "" {
		root := fsutil.JoinPosix(e.RepoDir, mod.Source.Path)
		if fi, err := os.Stat(root); err != nil || (!fi.IsDir() && !fi.Mode().IsRegular()) {
			return "", apperr.Newf(apperr.CodeConfigInvalid,
				"module %s: source path not found: %s", mod.ID, mod.Source.Path).
				WithDetail("id", mod.ID).
				WithDetail("path", mod.Source.Path)
		}
		return root, nil
	}

	if e.Lockfile == nil {
		return "", apperr.Newf(apperr.CodeLockfileMissing,
			"module %s has a git source but no lockfile is present; run agentpack lock", mod.ID).
			WithDetail("id", mod.ID)
	}
	locked := e.Lockfile.FindLocked(mod.ID, mod.Kind)
	if locked == nil || locked.Git == nil || locked.Git.Commit == "" {
		return "", apperr.Newf(apperr.CodeLockfileInvalid,
			"module %s is not pinned in the lockfile; run agentpack lock", mod.ID).
			WithDetail("id", mod.ID)
	}
	root, err := e.Store.EnsureGitCheckout(mod.ID, *mod.Source.Git, locked.Git.Commit)
	if err != nil {
		return "", err
	}
	e.Log.Debug("ensured git checkout",
		zap.String("module", mod.ID),
		zap.String("commit", locked.Git.Commit),
		zap.String("path", root))
	return root, nil
}

// ComposeModules materializes every module selected by profile.
func (e *Engine) ComposeModules(profile string) ([]*target.Module, error) {
	mods, err := e.Manifest.SelectModules(profile)
	if err != nil {
		return nil, err
	}

	var out []*target.Module
	for _, mod := range mods {
		upstream, err := e.UpstreamRoot(mod)
		if err != nil {
			return nil, err
		}
		outDir, err := os.MkdirTemp("", "agentpack-compose-*")
		if err != nil {
			return nil, fmt.Errorf("create compose dir: %w", err)
		}
		e.tempDirs = append(e.tempDirs, outDir)

		if err := overlay.ComposeModuleTree(mod.ID, upstream, e.OverlayLayers(mod.ID), outDir); err != nil {
			return nil, err
		}
		files, err := fsutil.ListFiles(outDir)
		if err != nil {
			return nil, fmt.Errorf("list composed tree: %w", err)
		}
		e.Log.Debug("composed module",
			zap.String("module", mod.ID),
			zap.Int("files", len(files)))
		out = append(out, &target.Module{Def: mod, Root: outDir, Files: files})
	}
	return out, nil
}

// SelectedTargets resolves the --target filter against the manifest's
// configured targets.
func (e *Engine) SelectedTargets(filter string) ([]string, error) {
	configured := e.Manifest.TargetNames()
	if filter == "" || filter == "all" {
		return configured, nil
	}
	if !target.IsCompiledTarget(filter) {
		return nil, apperr.Newf(apperr.CodeTargetUnsupported, "unsupported target: %s", filter).
			WithDetail("target", filter).
			WithDetail("supported", target.AllowedTargetFilters())
	}
	for _, name := range configured {
		if name == filter {
			return []string{filter}, nil
		}
	}
	return nil, apperr.Newf(apperr.CodeConfigInvalid,
		"target %s is not configured in the manifest", filter).
		WithDetail("target", filter).
		WithDetail("configured", configured)
}

// RenderResult is one run's computed desired state.
type RenderResult struct {
	Targets  []string
	Desired  deploy.DesiredState
	Roots    []target.TargetRoot
	Warnings []string
}

// DesiredState composes the selected modules and renders every selected
// target.
func (e *Engine) DesiredState(profile, targetFilter string) (*RenderResult, error) {
	targets, err := e.SelectedTargets(targetFilter)
	if err != nil {
		return nil, err
	}
	modules, err := e.ComposeModules(profile)
	if err != nil {
		return nil, err
	}

	res := &RenderResult{Targets: targets, Desired: deploy.DesiredState{}}
	env := target.Env{UserHome: e.UserHome, ProjectRoot: e.ProjectRoot}

	for _, name := range targets {
		adapter, err := target.ForName(name)
		if err != nil {
			return nil, err
		}
		var accepted []*target.Module
		for _, m := range modules {
			if m.Def.AllowsTarget(name) {
				accepted = append(accepted, m)
			}
		}
		cfg := e.Manifest.Targets[name]
		if err := adapter.Render(env, cfg, accepted, res.Desired, &res.Warnings, &res.Roots); err != nil {
			return nil, err
		}
	}
	res.Roots = target.DedupRoots(res.Roots)
	return res, nil
}

// ManagedPaths resolves the managed set for planning: per-root manifests
// first, falling back to the latest snapshot when no manifest was usable.
func (e *Engine) ManagedPaths(roots []target.TargetRoot, targetFilter string) (deploy.ManagedPaths, []string, error) {
	managed, warnings, err := target.LoadManagedPaths(roots)
	if err != nil {
		return nil, nil, err
	}
	if len(managed) == 0 {
		latest, err := state.Latest(e.Home, state.KindDeploy, state.KindRollback)
		if err != nil {
			return nil, nil, err
		}
		if latest != nil {
			managed = state.ManagedPathsFromSnapshot(latest)
			e.Log.Debug("managed paths fell back to latest snapshot",
				zap.String("snapshot_id", latest.ID),
				zap.Int("paths", len(managed)))
		}
	}

	if targetFilter != "" && targetFilter != "all" {
		filtered := deploy.ManagedPaths{}
		for tp := range managed {
			if tp.Target == targetFilter {
				filtered[tp] = true
			}
		}
		managed = filtered
	}
	return managed, warnings, nil
}

// Context bundles the shared read-only pipeline output: desired state plus
// the plan against disk.
type Context struct {
	Targets  []string
	Desired  deploy.DesiredState
	Roots    []target.TargetRoot
	Plan     *deploy.PlanResult
	Managed  deploy.ManagedPaths
	Warnings []string
}

// ReadOnlyContext renders desired state and plans against observed state
// without writing anything.
func (e *Engine) ReadOnlyContext(profile, targetFilter string) (*Context, error) {
	render, err := e.DesiredState(profile, targetFilter)
	if err != nil {
		return nil, err
	}
	managed, warnings, err := e.ManagedPaths(render.Roots, targetFilter)
	if err != nil {
		return nil, err
	}
	warnings = append(render.Warnings, warnings...)

	plan, err := deploy.Plan(render.Desired, managed)
	if err != nil {
		return nil, err
	}
	return &Context{
		Targets:  render.Targets,
		Desired:  render.Desired,
		Roots:    render.Roots,
		Plan:     plan,
		Managed:  managed,
		Warnings: warnings,
	}, nil
}
