package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/liqiongyu/agentpack/internal/apperr"
	"github.com/liqiongyu/agentpack/internal/engine"
)

var (
	deployApplyFlag  bool
	deployAdoptFlag  bool
	deployDryRunFlag bool
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Apply the plan to target roots",
	Long: `Write the computed desired state to disk. Without --apply this is a dry
run showing the plan. Applying requires --yes; overwriting files not
already managed additionally requires --adopt.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEnvelope("deploy", printDeployHuman, func(eng *engine.Engine) (map[string]any, []string, error) {
			ctx, err := eng.ReadOnlyContext(profileFlag, targetFlag)
			if err != nil {
				return nil, nil, err
			}

			if !deployApplyFlag || deployDryRunFlag {
				data, err := deployData(ctx, false, "dry_run", "")
				return data, ctx.Warnings, err
			}
			if !yesFlag {
				return nil, ctx.Warnings, apperr.New(apperr.CodeConfirmRequired,
					"deploy --apply requires --yes").
					WithDetail("flag", "--yes")
			}

			res, err := eng.DeployApply(ctx, deployAdoptFlag, true)
			if err != nil {
				return nil, ctx.Warnings, err
			}
			switch res.Outcome {
			case engine.OutcomeNoChanges:
				data, err := deployData(ctx, false, "no_changes", "")
				return data, ctx.Warnings, err
			default:
				data, err := deployData(ctx, true, "", res.SnapshotID)
				return data, ctx.Warnings, err
			}
		})
	},
}

func deployData(ctx *engine.Context, applied bool, reason, snapshotID string) (map[string]any, error) {
	return toJSONMap(struct {
		Applied    bool     `json:"applied"`
		Reason     string   `json:"reason,omitempty"`
		SnapshotID string   `json:"snapshot_id,omitempty"`
		Profile    string   `json:"profile"`
		Targets    []string `json:"targets"`
		Changes    any      `json:"changes"`
		Summary    any      `json:"summary"`
	}{
		Applied:    applied,
		Reason:     reason,
		SnapshotID: snapshotID,
		Profile:    profileFlag,
		Targets:    ctx.Targets,
		Changes:    ctx.Plan.Changes,
		Summary:    ctx.Plan.Summary,
	})
}

func printDeployHuman(data map[string]any) {
	if applied, _ := data["applied"].(bool); applied {
		fmt.Printf("Applied. snapshot_id=%v\n", data["snapshot_id"])
		return
	}
	printPlanHuman(data)
	if data["reason"] == "dry_run" {
		fmt.Println("Dry run; re-run with --apply --yes to write.")
	}
}

func init() {
	deployCmd.Flags().BoolVar(&deployApplyFlag, "apply", false, "Execute the plan instead of showing it")
	deployCmd.Flags().BoolVar(&deployAdoptFlag, "adopt", false, "Allow overwriting existing unmanaged files")
	deployCmd.Flags().BoolVar(&deployDryRunFlag, "dry-run", false, "Show the plan without writing")
	rootCmd.AddCommand(deployCmd)
}
