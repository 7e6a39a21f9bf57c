package engine

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/liqiongyu/agentpack/internal/apperr"
	"github.com/liqiongyu/agentpack/internal/deploy"
	"github.com/liqiongyu/agentpack/internal/fsutil"
	"github.com/liqiongyu/agentpack/internal/ids"
	"github.com/liqiongyu/agentpack/internal/markers"
	"github.com/liqiongyu/agentpack/internal/overlay"
	"github.com/liqiongyu/agentpack/internal/store"
	"github.com/liqiongyu/agentpack/internal/target"
)

// EvolveProposeOptions tunes a propose run.
type EvolveProposeOptions struct {
	DryRun bool
}

// EvolveCandidate is one drifted file mapped back to an overlay edit.
type EvolveCandidate struct {
	ModuleID   string `json:"module_id"`
	Target     string `json:"target"`
	Path       string `json:"path"`
	OverlayRel string `json:"overlay_rel"`
}

// EvolveSkipped is one drifted file that could not be mapped.
type EvolveSkipped struct {
	Target string `json:"target"`
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// EvolveProposeResult reports a propose run.
type EvolveProposeResult struct {
	Created    bool              `json:"created"`
	Branch     string            `json:"branch,omitempty"`
	Files      []string          `json:"files,omitempty"`
	Candidates []EvolveCandidate `json:"candidates,omitempty"`
	Skipped    []EvolveSkipped   `json:"skipped,omitempty"`
	Reason     string            `json:"reason,omitempty"`
}

// evolveBranch is the branch propose creates in the config repo.
const evolveBranch = "agentpack/evolve-proposal"

// EvolvePropose captures on-disk edits of managed files back into global
// directory overlays, on a new branch of the config repo. The repo must be
// a clean git worktree on a branch.
func (e *Engine) EvolvePropose(profile, targetFilter string, opts EvolveProposeOptions) (*EvolveProposeResult, error) {
	if !store.IsGitRepo(e.RepoDir) {
		return nil, apperr.Newf(apperr.CodeGitRepoRequired,
			"evolve propose requires the config repo to be a git repository").
			WithDetail("path", fsutil.ToPosix(e.RepoDir))
	}
	if err := store.RequireCleanWorktree(e.RepoDir); err != nil {
		return nil, err
	}

	render, err := e.DesiredState(profile, targetFilter)
	if err != nil {
		return nil, err
	}
	modules, err := e.ComposeModules(profile)
	if err != nil {
		return nil, err
	}
	moduleByID := make(map[string]*target.Module, len(modules))
	for _, m := range modules {
		moduleByID[m.Def.ID] = m
	}

	result := &EvolveProposeResult{}
	type pendingWrite struct {
		moduleID string
		rel      string
		data     []byte
	}
	var writes []pendingWrite

	for _, tp := range render.Desired.SortedPaths() {
		df := render.Desired[tp]
		onDisk, exists, err := fsutil.ReadFileIfExists(tp.Path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", tp.Path, err)
		}
		if !exists || bytes.Equal(onDisk, df.Bytes) {
			continue
		}

		if len(df.ModuleIDs) == 1 {
			moduleID := df.ModuleIDs[0]
			mod, ok := moduleByID[moduleID]
			if !ok {
				result.Skipped = append(result.Skipped, EvolveSkipped{
					Target: tp.Target, Path: fsutil.ToPosix(tp.Path), Reason: "module_not_composed",
				})
				continue
			}
			if mod.Def.Source.Path == "" {
				result.Skipped = append(result.Skipped, EvolveSkipped{
					Target: tp.Target, Path: fsutil.ToPosix(tp.Path), Reason: "git_source",
				})
				continue
			}
			rel, ok := matchModuleFileByContent(mod, df.Bytes)
			if !ok {
				result.Skipped = append(result.Skipped, EvolveSkipped{
					Target: tp.Target, Path: fsutil.ToPosix(tp.Path), Reason: "unmapped",
				})
				continue
			}
			writes = append(writes, pendingWrite{moduleID: moduleID, rel: rel, data: onDisk})
			result.Candidates = append(result.Candidates, EvolveCandidate{
				ModuleID: moduleID, Target: tp.Target, Path: fsutil.ToPosix(tp.Path), OverlayRel: rel,
			})
			continue
		}

		// Aggregated output: split the edited file back into module
		// sections and propose each drifted section against its module.
		sections, err := markers.ParseSectionsBytes(onDisk)
		if err != nil {
			result.Skipped = append(result.Skipped, EvolveSkipped{
				Target: tp.Target, Path: fsutil.ToPosix(tp.Path), Reason: "sections_unparseable",
			})
			continue
		}
		desiredSections, err := markers.ParseSectionsBytes(df.Bytes)
		if err != nil {
			return nil, err
		}
		for _, moduleID := range df.ModuleIDs {
			edited, ok := sections[moduleID]
			if !ok || edited == desiredSections[moduleID] {
				continue
			}
			mod := moduleByID[moduleID]
			if mod == nil || mod.Def.Source.Path == "" {
				result.Skipped = append(result.Skipped, EvolveSkipped{
					Target: tp.Target, Path: fsutil.ToPosix(tp.Path), Reason: "git_source",
				})
				continue
			}
			rel, ok := soleMarkdownFile(mod)
			if !ok {
				result.Skipped = append(result.Skipped, EvolveSkipped{
					Target: tp.Target, Path: fsutil.ToPosix(tp.Path), Reason: "multi_file_module",
				})
				continue
			}
			writes = append(writes, pendingWrite{moduleID: moduleID, rel: rel, data: []byte(edited)})
			result.Candidates = append(result.Candidates, EvolveCandidate{
				ModuleID: moduleID, Target: tp.Target, Path: fsutil.ToPosix(tp.Path), OverlayRel: rel,
			})
		}
	}

	if len(writes) == 0 {
		result.Reason = "no_drift"
		return result, nil
	}
	if opts.DryRun {
		result.Reason = "dry_run"
		return result, nil
	}

	if err := store.CreateBranch(e.RepoDir, evolveBranch); err != nil {
		return nil, err
	}

	written := map[string]bool{}
	for _, w := range writes {
		mod := moduleByID[w.moduleID]
		overlayDir := filepath.Join(e.RepoDir, "overlays", ids.ModuleFSKey(w.moduleID))
		upstream, err := e.UpstreamRoot(mod.Def)
		if err != nil {
			return nil, err
		}
		if _, err := overlay.EnsureSkeleton(overlayDir, upstream, overlay.KindDir); err != nil {
			return nil, err
		}
		dest := fsutil.JoinPosix(overlayDir, w.rel)
		if err := fsutil.WriteAtomic(dest, w.data); err != nil {
			return nil, err
		}
		written[fsutil.RelPosix(e.RepoDir, dest)] = true
	}

	for rel := range written {
		result.Files = append(result.Files, rel)
	}
	sort.Strings(result.Files)
	result.Created = true
	result.Branch = evolveBranch
	return result, nil
}

// EvolveRestoreResult reports a restore run.
type EvolveRestoreResult struct {
	Restored []string `json:"restored"`
	Missing  int      `json:"missing"`
	Reason   string   `json:"reason"`
}

// EvolveRestore rewrites desired files that have gone missing on disk.
// Existing files, drifted or not, are left alone.
func (e *Engine) EvolveRestore(profile, targetFilter string, dryRun, confirmed bool) (*EvolveRestoreResult, error) {
	render, err := e.DesiredState(profile, targetFilter)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, tp := range render.Desired.SortedPaths() {
		if _, err := os.Stat(tp.Path); os.IsNotExist(err) {
			missing = append(missing, tp.Path)
		}
	}

	result := &EvolveRestoreResult{Missing: len(missing), Restored: []string{}}
	if len(missing) == 0 {
		result.Reason = "no_missing"
		return result, nil
	}
	if dryRun {
		for _, path := range missing {
			result.Restored = append(result.Restored, fsutil.ToPosix(path))
		}
		result.Reason = "dry_run"
		return result, nil
	}
	if !confirmed {
		return nil, apperr.New(apperr.CodeConfirmRequired,
			"refusing to restore files without explicit confirmation").
			WithDetail("missing", len(missing))
	}

	for _, path := range missing {
		tp := findTargetPath(render, path)
		df := render.Desired[tp]
		if err := fsutil.WriteAtomic(path, df.Bytes); err != nil {
			return nil, fsutil.ClassifyIOError(err, path)
		}
		result.Restored = append(result.Restored, fsutil.ToPosix(path))
	}
	result.Reason = "restored"
	return result, nil
}

func findTargetPath(render *RenderResult, path string) deploy.TargetPath {
	for tp := range render.Desired {
		if tp.Path == path {
			return tp
		}
	}
	return deploy.TargetPath{}
}

// matchModuleFileByContent finds the unique composed file whose bytes equal
// data.
func matchModuleFileByContent(mod *target.Module, data []byte) (string, bool) {
	var match string
	count := 0
	for _, rel := range mod.Files {
		content, err := mod.ReadFile(rel)
		if err != nil {
			continue
		}
		if bytes.Equal(content, data) {
			match = rel
			count++
		}
	}
	return match, count == 1
}

// soleMarkdownFile returns the module's only markdown file, if unique.
func soleMarkdownFile(mod *target.Module) (string, bool) {
	var match string
	count := 0
	for _, rel := range mod.Files {
		if strings.HasSuffix(rel, ".md") {
			match = rel
			count++
		}
	}
	return match, count == 1
}
