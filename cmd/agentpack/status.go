package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/liqiongyu/agentpack/internal/drift"
	"github.com/liqiongyu/agentpack/internal/engine"
)

var (
	statusOnlyFlag       []string
	statusHashExtrasFlag bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report drift between desired and observed state",
	Long: `Classify every desired file as clean, modified, or missing, and hunt
for extra files beneath scanning roots. Read-only.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEnvelope("status", printStatusHuman, func(eng *engine.Engine) (map[string]any, []string, error) {
			ctx, err := eng.ReadOnlyContext(profileFlag, targetFlag)
			if err != nil {
				return nil, nil, err
			}

			report, err := drift.Analyze(ctx.Desired, ctx.Roots, ctx.Managed, drift.Options{
				HashExtras: statusHashExtrasFlag,
				Only:       statusOnlyFlag,
			})
			if err != nil {
				return nil, ctx.Warnings, err
			}

			actions := map[string]bool{}
			if report.Summary.Modified > 0 {
				actions["agentpack evolve propose"] = true
				actions["agentpack deploy --apply"] = true
			}
			if report.Summary.Missing > 0 {
				actions["agentpack deploy --apply"] = true
			}
			if report.Summary.Extra > 0 {
				actions["agentpack doctor"] = true
			}

			data, err := toJSONMap(struct {
				Profile     string   `json:"profile"`
				Targets     []string `json:"targets"`
				Drift       any      `json:"drift"`
				Summary     any      `json:"summary"`
				ByRoot      any      `json:"summary_by_root"`
				Total       any      `json:"summary_total,omitempty"`
				NextActions []string `json:"next_actions,omitempty"`
			}{
				Profile:     profileFlag,
				Targets:     ctx.Targets,
				Drift:       report.Items,
				Summary:     report.Summary,
				ByRoot:      report.ByRoot,
				Total:       report.SummaryTotal,
				NextActions: engine.OrderedNextActions(actions),
			})
			return data, ctx.Warnings, err
		})
	},
}

func printStatusHuman(data map[string]any) {
	items, _ := data["drift"].([]any)
	if len(items) == 0 {
		fmt.Println("Clean.")
		return
	}
	for _, it := range items {
		m, _ := it.(map[string]any)
		fmt.Printf("%-9s %s:%s\n", m["kind"], m["target"], m["path"])
	}
	if s, ok := data["summary"].(map[string]any); ok {
		fmt.Printf("modified %v, missing %v, extra %v\n", s["modified"], s["missing"], s["extra"])
	}
}

func init() {
	statusCmd.Flags().StringSliceVar(&statusOnlyFlag, "only", nil, "Restrict drift kinds (modified, missing, extra)")
	statusCmd.Flags().BoolVar(&statusHashExtrasFlag, "hash-extras", false, "Hash extra files (slower)")
	rootCmd.AddCommand(statusCmd)
}
