package main

import (
	"fmt"
	"os"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/cobra"

	"github.com/liqiongyu/agentpack/internal/engine"
	"github.com/liqiongyu/agentpack/internal/fsutil"
	"github.com/liqiongyu/agentpack/internal/ids"
)

var previewDiffFlag bool

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Render desired state without touching disk",
	Long: `List every file the current manifest would materialize, with content
hashes and contributing modules. With --diff, include unified diffs
against the current on-disk bytes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEnvelope("preview", printPreviewHuman, func(eng *engine.Engine) (map[string]any, []string, error) {
			render, err := eng.DesiredState(profileFlag, targetFlag)
			if err != nil {
				return nil, nil, err
			}

			type previewFile struct {
				Target    string   `json:"target"`
				Path      string   `json:"path"`
				SHA256    string   `json:"sha256"`
				ModuleIDs []string `json:"module_ids,omitempty"`
				Diff      string   `json:"diff,omitempty"`
			}
			var files []previewFile
			for _, tp := range render.Desired.SortedPaths() {
				df := render.Desired[tp]
				pf := previewFile{
					Target:    tp.Target,
					Path:      fsutil.ToPosix(tp.Path),
					SHA256:    ids.SHA256Hex(df.Bytes),
					ModuleIDs: df.ModuleIDs,
				}
				if previewDiffFlag {
					onDisk, _ := os.ReadFile(tp.Path)
					if string(onDisk) != string(df.Bytes) {
						pf.Diff, _ = difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
							A:        difflib.SplitLines(string(onDisk)),
							B:        difflib.SplitLines(string(df.Bytes)),
							FromFile: "a/" + pf.Path,
							ToFile:   "b/" + pf.Path,
							Context:  3,
						})
					}
				}
				files = append(files, pf)
			}

			data, err := toJSONMap(struct {
				Profile string        `json:"profile"`
				Targets []string      `json:"targets"`
				Files   []previewFile `json:"files"`
			}{Profile: profileFlag, Targets: render.Targets, Files: files})
			return data, render.Warnings, err
		})
	},
}

func printPreviewHuman(data map[string]any) {
	files, _ := data["files"].([]any)
	for _, f := range files {
		m, _ := f.(map[string]any)
		fmt.Printf("%s:%s %.12v\n", m["target"], m["path"], m["sha256"])
		if d, ok := m["diff"].(string); ok && d != "" {
			fmt.Print(d)
		}
	}
	if len(files) == 0 {
		fmt.Println("Nothing to render.")
	}
}

func init() {
	previewCmd.Flags().BoolVar(&previewDiffFlag, "diff", false, "Include unified diffs against on-disk bytes")
	rootCmd.AddCommand(previewCmd)
}
