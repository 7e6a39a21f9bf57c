package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/liqiongyu/agentpack/internal/apperr"
	"github.com/liqiongyu/agentpack/internal/engine"
)

var rollbackToFlag string

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Revert managed files to a prior snapshot",
	Long: `Reconstruct the bytes recorded by a snapshot and apply the revert as a
new rollback-kind snapshot. Requires --to and --yes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEnvelope("rollback", printRollbackHuman, func(eng *engine.Engine) (map[string]any, []string, error) {
			if rollbackToFlag == "" {
				return nil, nil, apperr.New(apperr.CodeConfigInvalid, "rollback requires --to <snapshot-id>").
					WithDetail("flag", "--to")
			}
			res, err := eng.Rollback(rollbackToFlag, yesFlag)
			if err != nil {
				return nil, nil, err
			}
			data, err := toJSONMap(struct {
				SnapshotID   string `json:"snapshot_id"`
				RolledBackTo string `json:"rolled_back_to"`
				Changes      any    `json:"changes"`
				Summary      any    `json:"summary"`
			}{
				SnapshotID:   res.Snapshot.ID,
				RolledBackTo: rollbackToFlag,
				Changes:      res.Plan.Changes,
				Summary:      res.Plan.Summary,
			})
			return data, nil, err
		})
	},
}

func printRollbackHuman(data map[string]any) {
	fmt.Printf("Rolled back to %v; new snapshot %v\n", data["rolled_back_to"], data["snapshot_id"])
}

func init() {
	rollbackCmd.Flags().StringVar(&rollbackToFlag, "to", "", "Snapshot id to revert to")
	rootCmd.AddCommand(rollbackCmd)
}
