package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/cobra"

	"github.com/liqiongyu/agentpack/internal/deploy"
	"github.com/liqiongyu/agentpack/internal/engine"
)

var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Show unified diffs for every planned change",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEnvelope("diff", printDiffHuman, func(eng *engine.Engine) (map[string]any, []string, error) {
			ctx, err := eng.ReadOnlyContext(profileFlag, targetFlag)
			if err != nil {
				return nil, nil, err
			}

			type fileDiff struct {
				Target string `json:"target"`
				Op     string `json:"op"`
				Path   string `json:"path"`
				Diff   string `json:"diff,omitempty"`
			}
			var diffs []fileDiff
			for _, c := range ctx.Plan.Changes {
				fd := fileDiff{Target: c.Target, Op: string(c.Op), Path: c.Path}
				onDisk, _ := os.ReadFile(filepath.FromSlash(c.Path))
				var desiredBytes []byte
				if c.Op != deploy.OpDelete {
					if df, ok := ctx.Desired[deploy.TargetPath{Target: c.Target, Path: filepath.FromSlash(c.Path)}]; ok {
						desiredBytes = df.Bytes
					}
				}
				fd.Diff, _ = difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
					A:        difflib.SplitLines(string(onDisk)),
					B:        difflib.SplitLines(string(desiredBytes)),
					FromFile: "a/" + c.Path,
					ToFile:   "b/" + c.Path,
					Context:  3,
				})
				diffs = append(diffs, fd)
			}

			data, err := toJSONMap(struct {
				Profile string     `json:"profile"`
				Targets []string   `json:"targets"`
				Diffs   []fileDiff `json:"diffs"`
				Summary any        `json:"summary"`
			}{Profile: profileFlag, Targets: ctx.Targets, Diffs: diffs, Summary: ctx.Plan.Summary})
			return data, ctx.Warnings, err
		})
	},
}

func printDiffHuman(data map[string]any) {
	diffs, _ := data["diffs"].([]any)
	if len(diffs) == 0 {
		fmt.Println("No changes.")
		return
	}
	for _, d := range diffs {
		m, _ := d.(map[string]any)
		fmt.Printf("%s %s:%s\n", m["op"], m["target"], m["path"])
		if text, ok := m["diff"].(string); ok && text != "" {
			fmt.Print(text)
		}
	}
}

func init() {
	rootCmd.AddCommand(diffCmd)
}
