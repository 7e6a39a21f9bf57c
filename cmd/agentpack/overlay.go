package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/liqiongyu/agentpack/internal/engine"
	"github.com/liqiongyu/agentpack/internal/overlay"
)

var (
	overlayModuleFlag   string
	overlayScopeFlag    string
	overlayKindFlag     string
	overlayDryRunFlag   bool
	overlaySparsifyFlag bool
)

var overlayCmd = &cobra.Command{
	Use:   "overlay",
	Short: "Manage per-module overlays",
}

var overlayEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Create an overlay skeleton anchored to current upstream",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEnvelope("overlay edit", printOverlayEditHuman, func(eng *engine.Engine) (map[string]any, []string, error) {
			kind := overlay.Kind(overlayKindFlag)
			if kind != overlay.KindDir && kind != overlay.KindPatch {
				kind = overlay.KindDir
			}
			dir, created, err := eng.EnsureOverlay(overlayModuleFlag, overlayScopeFlag, kind)
			if err != nil {
				return nil, nil, err
			}
			return map[string]any{
				"overlay_dir": dir,
				"created":     created,
				"scope":       overlayScopeFlag,
				"kind":        string(kind),
			}, nil, nil
		})
	},
}

var overlayRebaseCmd = &cobra.Command{
	Use:   "rebase",
	Short: "Three-way merge an overlay onto the current upstream",
	Long: `Carry overlay edits across an upstream change. Clean merges update the
overlay in place; conflicts write git-style markers (dir overlays) or
conflict artifacts under .agentpack/conflicts (patch overlays) and fail
with E_OVERLAY_REBASE_CONFLICT.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEnvelope("overlay rebase", printOverlayRebaseHuman, func(eng *engine.Engine) (map[string]any, []string, error) {
			report, err := eng.RebaseOverlay(overlayModuleFlag, overlayScopeFlag, overlay.RebaseOptions{
				DryRun:   overlayDryRunFlag,
				Sparsify: overlaySparsifyFlag,
			})
			if err != nil {
				return nil, nil, err
			}
			data, derr := toJSONMap(report)
			return data, nil, derr
		})
	},
}

func printOverlayEditHuman(data map[string]any) {
	if created, _ := data["created"].(bool); created {
		fmt.Printf("Created %v overlay at %v\n", data["kind"], data["overlay_dir"])
	} else {
		fmt.Printf("Overlay already present at %v\n", data["overlay_dir"])
	}
}

func printOverlayRebaseHuman(data map[string]any) {
	if s, ok := data["summary"].(map[string]any); ok {
		fmt.Printf("processed %v, updated %v, deleted %v, skipped %v, conflicts %v\n",
			s["processed_files"], s["updated_files"], s["deleted_files"], s["skipped_files"], s["conflict_files"])
	}
}

func init() {
	for _, c := range []*cobra.Command{overlayEditCmd, overlayRebaseCmd} {
		c.Flags().StringVar(&overlayModuleFlag, "module", "", "Module id")
		c.Flags().StringVar(&overlayScopeFlag, "scope", "global", "Overlay scope (global, machine, project)")
		_ = c.MarkFlagRequired("module")
	}
	overlayEditCmd.Flags().StringVar(&overlayKindFlag, "kind", "dir", "Overlay kind (dir, patch)")
	overlayRebaseCmd.Flags().BoolVar(&overlayDryRunFlag, "dry-run", false, "Report without modifying overlay files")
	overlayRebaseCmd.Flags().BoolVar(&overlaySparsifyFlag, "sparsify", false, "Drop overlay files that match upstream")
	overlayCmd.AddCommand(overlayEditCmd)
	overlayCmd.AddCommand(overlayRebaseCmd)
	rootCmd.AddCommand(overlayCmd)
}
