package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/liqiongyu/agentpack/internal/engine"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what a deploy would change",
	Long: `Compute desired state from the manifest, sources, and overlays, then
diff it against the filesystem and the managed-paths set. Read-only.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEnvelope("plan", printPlanHuman, func(eng *engine.Engine) (map[string]any, []string, error) {
			ctx, err := eng.ReadOnlyContext(profileFlag, targetFlag)
			if err != nil {
				return nil, nil, err
			}
			data, err := planData(ctx)
			return data, ctx.Warnings, err
		})
	},
}

func planData(ctx *engine.Context) (map[string]any, error) {
	return toJSONMap(struct {
		Profile string `json:"profile"`
		Targets []string `json:"targets"`
		Changes any    `json:"changes"`
		Summary any    `json:"summary"`
	}{
		Profile: profileFlag,
		Targets: ctx.Targets,
		Changes: ctx.Plan.Changes,
		Summary: ctx.Plan.Summary,
	})
}

func printPlanHuman(data map[string]any) {
	changes, _ := data["changes"].([]any)
	if len(changes) == 0 {
		fmt.Println("No changes.")
		return
	}
	for _, c := range changes {
		m, _ := c.(map[string]any)
		fmt.Printf("%-6s %s:%s (%s)\n", m["op"], m["target"], m["path"], m["reason"])
	}
	if s, ok := data["summary"].(map[string]any); ok {
		fmt.Printf("create %v, update %v, delete %v\n", s["create"], s["update"], s["delete"])
	}
}

func init() {
	rootCmd.AddCommand(planCmd)
}
