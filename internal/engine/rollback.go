package engine

import (
	"path/filepath"

	"go.uber.org/zap"

	"github.com/liqiongyu/agentpack/internal/apperr"
	"github.com/liqiongyu/agentpack/internal/apply"
	"github.com/liqiongyu/agentpack/internal/deploy"
	"github.com/liqiongyu/agentpack/internal/state"
)

// RollbackResult reports one executed rollback.
type RollbackResult struct {
	Snapshot *state.Snapshot
	Plan     *deploy.PlanResult
}

// BuildRollbackPlan reconstructs the desired bytes recorded by snapshot id
// and plans the revert against current disk.
func (e *Engine) BuildRollbackPlan(snapshotID string) (deploy.DesiredState, *deploy.PlanResult, error) {
	snap, err := state.Load(e.Home, snapshotID)
	if err != nil {
		return nil, nil, err
	}

	objects := state.NewContentStore(e.Home)
	desired := deploy.DesiredState{}
	for _, f := range snap.ManagedFiles {
		data, err := objects.Get(f.SHA256)
		if err != nil {
			return nil, nil, apperr.Newf(apperr.CodeIOFailed,
				"snapshot %s is missing content for %s", snapshotID, f.Path).
				WithDetail("snapshot_id", snapshotID).
				WithDetail("path", f.Path).
				WithDetail("sha256", f.SHA256)
		}
		if err := desired.Insert(f.Target, filepath.FromSlash(f.Path), data, f.ModuleIDs); err != nil {
			return nil, nil, err
		}
	}

	// Files managed now but absent from the target snapshot become deletes.
	latest, err := state.Latest(e.Home, state.KindDeploy, state.KindRollback)
	if err != nil {
		return nil, nil, err
	}
	managed := deploy.ManagedPaths{}
	if latest != nil {
		managed = state.ManagedPathsFromSnapshot(latest)
	}

	plan, err := deploy.Plan(desired, managed)
	if err != nil {
		return nil, nil, err
	}
	return desired, plan, nil
}

// Rollback reverts managed files to the state recorded by snapshot id,
// appending a rollback snapshot. Explicit confirmation is required.
func (e *Engine) Rollback(snapshotID string, confirmed bool) (*RollbackResult, error) {
	desired, plan, err := e.BuildRollbackPlan(snapshotID)
	if err != nil {
		return nil, err
	}
	if !confirmed {
		return nil, apperr.New(apperr.CodeConfirmRequired,
			"refusing to rollback without explicit confirmation").
			WithDetail("snapshot_id", snapshotID)
	}

	render, err := e.DesiredState("default", "all")
	if err != nil {
		return nil, err
	}

	snap, err := apply.Apply(e.Home, state.KindRollback, snapshotID, plan, desired, render.Roots)
	if err != nil {
		return nil, err
	}
	e.Log.Info("rolled back",
		zap.String("snapshot_id", snap.ID),
		zap.String("rolled_back_to", snapshotID),
		zap.Int("changes", len(plan.Changes)))
	return &RollbackResult{Snapshot: snap, Plan: plan}, nil
}
