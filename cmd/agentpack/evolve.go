package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/liqiongyu/agentpack/internal/engine"
)

var evolveDryRunFlag bool

var evolveCmd = &cobra.Command{
	Use:   "evolve",
	Short: "Move on-disk edits back into the config repo",
}

var evolveProposeCmd = &cobra.Command{
	Use:   "propose",
	Short: "Capture drifted managed files into overlays on a new branch",
	Long: `Find managed files whose on-disk bytes drifted from desired state, map
each back to its module, and write the edits as global directory
overlays on a new branch of the config repo. Requires a clean git
worktree on a branch.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEnvelope("evolve propose", printEvolveProposeHuman, func(eng *engine.Engine) (map[string]any, []string, error) {
			res, err := eng.EvolvePropose(profileFlag, targetFlag, engine.EvolveProposeOptions{
				DryRun: evolveDryRunFlag,
			})
			if err != nil {
				return nil, nil, err
			}
			data, derr := toJSONMap(res)
			return data, nil, derr
		})
	},
}

var evolveRestoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Recreate desired files that went missing on disk",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEnvelope("evolve restore", printEvolveRestoreHuman, func(eng *engine.Engine) (map[string]any, []string, error) {
			res, err := eng.EvolveRestore(profileFlag, targetFlag, evolveDryRunFlag, yesFlag)
			if err != nil {
				return nil, nil, err
			}
			data, derr := toJSONMap(res)
			return data, nil, derr
		})
	},
}

func printEvolveProposeHuman(data map[string]any) {
	if created, _ := data["created"].(bool); created {
		fmt.Printf("Proposal branch %v created.\n", data["branch"])
		return
	}
	fmt.Printf("No proposal created (%v).\n", data["reason"])
}

func printEvolveRestoreHuman(data map[string]any) {
	fmt.Printf("missing %v (%v)\n", data["missing"], data["reason"])
}

func init() {
	evolveProposeCmd.Flags().BoolVar(&evolveDryRunFlag, "dry-run", false, "List candidates without writing")
	evolveRestoreCmd.Flags().BoolVar(&evolveDryRunFlag, "dry-run", false, "List missing files without writing")
	evolveCmd.AddCommand(evolveProposeCmd)
	evolveCmd.AddCommand(evolveRestoreCmd)
	rootCmd.AddCommand(evolveCmd)
}
