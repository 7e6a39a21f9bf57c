package engine

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/liqiongyu/agentpack/internal/apperr"
	"github.com/liqiongyu/agentpack/internal/fsutil"
	"github.com/liqiongyu/agentpack/internal/ids"
	"github.com/liqiongyu/agentpack/internal/overlay"
	"github.com/liqiongyu/agentpack/internal/state"
)

// overlayLayerDir resolves the overlay directory for a module and scope.
func (e *Engine) overlayLayerDir(moduleID, scope string) (string, error) {
	for _, layer := range e.OverlayLayers(moduleID) {
		if layer.Scope == scope {
			return layer.Dir, nil
		}
	}
	return "", apperr.Newf(apperr.CodeConfigInvalid, "unknown overlay scope: %s", scope).
		WithDetail("scope", scope).
		WithDetail("known_scopes", []string{"global", "machine", "project"})
}

// EnsureOverlay creates (or re-anchors) an overlay skeleton for a module at
// the given scope. The baseline's bytes are stashed into the object store so
// later rebases have a merge base even after upstream moves on.
func (e *Engine) EnsureOverlay(moduleID, scope string, kind overlay.Kind) (string, bool, error) {
	mod := e.Manifest.FindModule(moduleID)
	if mod == nil {
		return "", false, apperr.Newf(apperr.CodeConfigInvalid, "unknown module: %s", moduleID).
			WithDetail("id", moduleID)
	}
	dir, err := e.overlayLayerDir(moduleID, scope)
	if err != nil {
		return "", false, err
	}
	upstream, err := e.UpstreamRoot(mod)
	if err != nil {
		return "", false, err
	}

	created, err := overlay.EnsureSkeleton(dir, upstream, kind)
	if err != nil {
		return "", false, err
	}
	if err := e.stashUpstreamBytes(upstream); err != nil {
		return "", false, err
	}
	return dir, created, nil
}

// stashUpstreamBytes records every upstream file's bytes in the object
// store, keyed by content hash.
func (e *Engine) stashUpstreamBytes(upstreamRoot string) error {
	objects := state.NewContentStore(e.Home)
	files, err := fsutil.ListFiles(upstreamRoot, ".git", overlay.MetaDirName)
	if err != nil {
		return fmt.Errorf("walk upstream: %w", err)
	}
	for _, rel := range files {
		data, err := os.ReadFile(fsutil.JoinPosix(upstreamRoot, rel))
		if err != nil {
			return fmt.Errorf("read %s: %w", rel, err)
		}
		if _, err := objects.Put(data); err != nil {
			return err
		}
	}
	return nil
}

// RebaseOverlay carries a module's overlay at the given scope onto the
// current upstream. On a clean, non-dry run the baseline is re-anchored to
// the new upstream.
func (e *Engine) RebaseOverlay(moduleID, scope string, opts overlay.RebaseOptions) (*overlay.RebaseReport, error) {
	mod := e.Manifest.FindModule(moduleID)
	if mod == nil {
		return nil, apperr.Newf(apperr.CodeConfigInvalid, "unknown module: %s", moduleID).
			WithDetail("id", moduleID)
	}
	dir, err := e.overlayLayerDir(moduleID, scope)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, apperr.Newf(apperr.CodeOverlayNotFound,
			"module %s has no %s overlay", moduleID, scope).
			WithDetail("module_id", moduleID).
			WithDetail("scope", scope).
			WithDetail("overlay_key", ids.ModuleFSKey(moduleID))
	}

	baseline, err := overlay.LoadBaseline(dir)
	if err != nil {
		return nil, err
	}
	baselineMap := baseline.Map()

	upstream, err := e.UpstreamRoot(mod)
	if err != nil {
		return nil, err
	}

	objects := state.NewContentStore(e.Home)
	readBase := func(rel string) ([]byte, bool, error) {
		sha, ok := baselineMap[rel]
		if !ok {
			return nil, false, nil
		}
		if data, err := objects.Get(sha); err == nil {
			return data, true, nil
		}
		// Object store miss: acceptable only if upstream still matches the
		// baseline, in which case upstream bytes are the base.
		data, exists, err := readUpstreamFile(upstream, rel)
		if err != nil {
			return nil, false, err
		}
		if exists && ids.SHA256Hex(data) == sha {
			return data, true, nil
		}
		return nil, false, apperr.Newf(apperr.CodeOverlayBaselineUnsupported,
			"merge base for %s is not recoverable", rel).
			WithDetail("path", rel).
			WithDetail("expected_sha256", sha).
			WithDetail("hint", "recreate the overlay with agentpack overlay edit")
	}
	readUpstream := func(rel string) ([]byte, bool, error) {
		return readUpstreamFile(upstream, rel)
	}

	report, err := overlay.Rebase(dir, baselineMap, readBase, readUpstream, opts)
	if report != nil && report.Summary.ConflictFiles > 0 {
		e.Log.Warn("overlay rebase hit conflicts",
			zap.String("module", moduleID),
			zap.String("scope", scope),
			zap.Strings("conflicts", report.Conflicts))
	}
	if err != nil {
		return report, err
	}
	e.Log.Debug("rebased overlay",
		zap.String("module", moduleID),
		zap.String("scope", scope),
		zap.Int("updated", report.Summary.UpdatedFiles),
		zap.Int("deleted", report.Summary.DeletedFiles),
		zap.Int("skipped", report.Summary.SkippedFiles),
		zap.Bool("dry_run", opts.DryRun))

	if !opts.DryRun {
		fresh, err := overlay.BaselineFromUpstream(upstream)
		if err != nil {
			return report, err
		}
		if err := overlay.SaveBaseline(dir, fresh); err != nil {
			return report, err
		}
		if err := e.stashUpstreamBytes(upstream); err != nil {
			return report, err
		}
	}
	return report, nil
}

func readUpstreamFile(upstreamRoot, rel string) ([]byte, bool, error) {
	return fsutil.ReadFileIfExists(fsutil.JoinPosix(upstreamRoot, rel))
}
