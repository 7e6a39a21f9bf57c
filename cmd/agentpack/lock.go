package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/liqiongyu/agentpack/internal/engine"
)

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Pin module sources into agentpack.lock.json",
	Long: `Resolve each git source to a commit and each local source to a content
hash, then write the lockfile canonically. Repeated runs on unchanged
inputs are bit-identical.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEnvelope("lock", printLockHuman, func(eng *engine.Engine) (map[string]any, []string, error) {
			lf, err := eng.Lock()
			if err != nil {
				return nil, nil, err
			}
			data, err := toJSONMap(struct {
				Path    string `json:"path"`
				Modules any    `json:"modules"`
			}{Path: eng.LockfilePath(), Modules: lf.Modules})
			return data, nil, err
		})
	},
}

func printLockHuman(data map[string]any) {
	fmt.Printf("Wrote %v\n", data["path"])
}

func init() {
	rootCmd.AddCommand(lockCmd)
}
