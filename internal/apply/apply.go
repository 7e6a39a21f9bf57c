// Package apply executes a plan: atomic per-file writes, per-root managed
// manifests, and an appended snapshot carrying enough content-addressed
// state to reverse the batch. Individual writes are crash-safe; the batch
// is reversible rather than transactional.
package apply

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/liqiongyu/agentpack/internal/apperr"
	"github.com/liqiongyu/agentpack/internal/deploy"
	"github.com/liqiongyu/agentpack/internal/fsutil"
	"github.com/liqiongyu/agentpack/internal/ids"
	"github.com/liqiongyu/agentpack/internal/state"
	"github.com/liqiongyu/agentpack/internal/target"
)

// toolName stamps target manifests with their writer.
const toolName = "agentpack"

// adoptSampleLimit caps the sample paths carried by adopt-refusal errors.
const adoptSampleLimit = 20

// EnsureAdoptAllowed refuses plans that would overwrite unmanaged files
// unless the caller passed an explicit adopt signal.
func EnsureAdoptAllowed(plan *deploy.PlanResult, adopt bool) error {
	if adopt || !plan.HasAdoptUpdates() {
		return nil
	}
	samples := plan.AdoptSamplePaths(adoptSampleLimit)
	return apperr.New(apperr.CodeAdoptConfirmRequired,
		"refusing to overwrite unmanaged existing files without --adopt").
		WithDetails(map[string]any{
			"flag":          "--adopt",
			"adopt_updates": len(samples),
			"sample_paths":  samples,
		})
}

// Apply executes the plan against the filesystem and appends a snapshot of
// the given kind. rolledBackTo is set only for rollback snapshots. The
// returned snapshot carries the post-apply managed union.
func Apply(home, kind, rolledBackTo string, plan *deploy.PlanResult, desired deploy.DesiredState, roots []target.TargetRoot) (*state.Snapshot, error) {
	objects := state.NewContentStore(home)

	snapshotID, err := state.NextID(home, kind)
	if err != nil {
		return nil, err
	}

	// Creates and updates first, in plan (lexical) order. Before-bytes and
	// after-bytes both go into the object store so rollback can reconstruct
	// either side.
	for _, c := range plan.Changes {
		if c.Op != deploy.OpCreate && c.Op != deploy.OpUpdate {
			continue
		}
		tp := deploy.TargetPath{Target: c.Target, Path: filepath.FromSlash(c.Path)}
		df, ok := desired[tp]
		if !ok {
			return nil, apperr.Newf(apperr.CodeUnexpected,
				"planned change has no desired bytes: %s", c.Path)
		}
		if err := stashExisting(objects, tp.Path); err != nil {
			return nil, err
		}
		if _, err := objects.Put(df.Bytes); err != nil {
			return nil, err
		}
		if err := fsutil.WriteAtomic(tp.Path, df.Bytes); err != nil {
			return nil, fsutil.ClassifyIOError(err, tp.Path)
		}
	}

	// Deletes second, pruning empty parents up to the owning root.
	for _, c := range plan.Changes {
		if c.Op != deploy.OpDelete {
			continue
		}
		path := filepath.FromSlash(c.Path)
		if err := stashExisting(objects, path); err != nil {
			return nil, err
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fsutil.ClassifyIOError(err, path)
		}
		if root := target.BestRootFor(roots, c.Target, path); root != nil {
			if err := fsutil.PruneEmptyParents(filepath.Dir(path), root.Root); err != nil {
				return nil, err
			}
		}
	}

	// Per-root manifests reflect the full desired union for that root.
	generatedAt := time.Now().UTC().Format(time.RFC3339)
	managedUnion := managedFilesForSnapshot(desired)

	for i := range roots {
		root := &roots[i]
		m := &target.Manifest{
			SchemaVersion: 1,
			GeneratedAt:   generatedAt,
			Tool:          toolName,
			SnapshotID:    snapshotID,
		}
		for _, tp := range desired.SortedPaths() {
			if tp.Target != root.Target {
				continue
			}
			best := target.BestRootFor(roots, tp.Target, tp.Path)
			if best == nil || best.Root != root.Root {
				continue
			}
			df := desired[tp]
			m.ManagedFiles = append(m.ManagedFiles, target.ManagedFile{
				Path:      fsutil.RelPosix(root.Root, tp.Path),
				SHA256:    ids.SHA256Hex(df.Bytes),
				ModuleIDs: df.ModuleIDs,
			})
		}
		if len(m.ManagedFiles) == 0 {
			continue
		}
		if err := m.Save(target.ManifestPath(root.Root)); err != nil {
			return nil, err
		}
	}

	snap := &state.Snapshot{
		ID:           snapshotID,
		CreatedAt:    generatedAt,
		Kind:         kind,
		RolledBackTo: rolledBackTo,
		Changes:      plan.Changes,
		ManagedFiles: managedUnion,
	}
	if err := state.Append(home, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// stashExisting stores the current bytes of path, if any, so the apply can
// be reversed.
func stashExisting(objects *state.ContentStore, path string) error {
	data, ok, err := fsutil.ReadFileIfExists(path)
	if err != nil {
		return fsutil.ClassifyIOError(err, path)
	}
	if !ok {
		return nil
	}
	_, err = objects.Put(data)
	return err
}

// managedFilesForSnapshot flattens the desired union into snapshot records.
func managedFilesForSnapshot(desired deploy.DesiredState) []state.ManagedFile {
	var out []state.ManagedFile
	for _, tp := range desired.SortedPaths() {
		df := desired[tp]
		out = append(out, state.ManagedFile{
			Target:    tp.Target,
			Path:      fsutil.ToPosix(tp.Path),
			SHA256:    ids.SHA256Hex(df.Bytes),
			ModuleIDs: df.ModuleIDs,
		})
	}
	return out
}
