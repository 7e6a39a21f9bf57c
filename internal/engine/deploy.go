package engine

import (
	"go.uber.org/zap"

	"github.com/liqiongyu/agentpack/internal/apply"
	"github.com/liqiongyu/agentpack/internal/state"
	"github.com/liqiongyu/agentpack/internal/target"
)

// DeployOutcome describes how a deploy-apply call ended.
type DeployOutcome string

const (
	// OutcomeNoChanges means disk already matched desired state.
	OutcomeNoChanges DeployOutcome = "no_changes"

	// OutcomeNeedsConfirmation means changes exist but no confirmation was
	// given; nothing was written.
	OutcomeNeedsConfirmation DeployOutcome = "needs_confirmation"

	// OutcomeApplied means the plan was executed and a snapshot recorded.
	OutcomeApplied DeployOutcome = "applied"
)

// DeployResult reports a deploy-apply call.
type DeployResult struct {
	Outcome    DeployOutcome
	SnapshotID string
}

// DeployApply executes ctx's plan. Preconditions, in order: adopt-updates
// require adopt=true; any write requires confirmed=true. A run with no
// changes still rewrites missing target manifests.
func (e *Engine) DeployApply(ctx *Context, adopt, confirmed bool) (*DeployResult, error) {
	if err := apply.EnsureAdoptAllowed(ctx.Plan, adopt); err != nil {
		return nil, err
	}

	needsManifests := target.ManifestsMissing(ctx.Roots, ctx.Desired)
	if len(ctx.Plan.Changes) == 0 && !needsManifests {
		return &DeployResult{Outcome: OutcomeNoChanges}, nil
	}
	if !confirmed {
		return &DeployResult{Outcome: OutcomeNeedsConfirmation}, nil
	}

	snap, err := apply.Apply(e.Home, state.KindDeploy, "", ctx.Plan, ctx.Desired, ctx.Roots)
	if err != nil {
		return nil, err
	}
	e.Log.Info("applied plan",
		zap.String("snapshot_id", snap.ID),
		zap.Int("create", ctx.Plan.Summary.Create),
		zap.Int("update", ctx.Plan.Summary.Update),
		zap.Int("delete", ctx.Plan.Summary.Delete))
	return &DeployResult{Outcome: OutcomeApplied, SnapshotID: snap.ID}, nil
}
