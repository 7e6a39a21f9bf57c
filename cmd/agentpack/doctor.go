package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/liqiongyu/agentpack/internal/engine"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the environment and config repo layout",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEnvelope("doctor", printDoctorHuman, func(eng *engine.Engine) (map[string]any, []string, error) {
			report := eng.Doctor()
			data, err := toJSONMap(report)
			return data, report.Warnings, err
		})
	},
}

func printDoctorHuman(data map[string]any) {
	checks, _ := data["checks"].([]any)
	for _, c := range checks {
		m, _ := c.(map[string]any)
		line := fmt.Sprintf("%-6v %v", m["status"], m["name"])
		if d, ok := m["detail"].(string); ok && d != "" {
			line += " — " + d
		}
		fmt.Println(line)
	}
	if actions, ok := data["next_actions"].([]any); ok && len(actions) > 0 {
		fmt.Println("next:")
		for _, a := range actions {
			fmt.Printf("  %v\n", a)
		}
	}
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
