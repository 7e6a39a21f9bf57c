package overlay

import (
	"fmt"
	"os"

	"github.com/liqiongyu/agentpack/internal/apperr"
	"github.com/liqiongyu/agentpack/internal/fsutil"
)

// Layer is one overlay applied during composition. Scope names the layer
// origin (global, machine, project) for diagnostics; layers are applied in
// the order given.
type Layer struct {
	Scope string
	Dir   string
}

// ComposeModuleTree materializes a module: copy the upstream tree into
// outDir (skipping VCS and overlay metadata subtrees), then apply each
// overlay layer in ascending scope order. Directory overlays win per path;
// patch overlays rewrite the current output bytes.
func ComposeModuleTree(moduleID, upstreamRoot string, layers []Layer, outDir string) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create module out dir: %w", err)
	}
	if err := fsutil.CopyTree(upstreamRoot, outDir, ".git", MetaDirName); err != nil {
		return fmt.Errorf("copy upstream: %w", err)
	}

	for _, layer := range layers {
		if _, err := os.Stat(layer.Dir); os.IsNotExist(err) {
			continue
		}

		meta, err := ReadMeta(layer.Dir)
		if err != nil {
			return err
		}
		overrides, err := OverrideFiles(layer.Dir)
		if err != nil {
			return fmt.Errorf("list overlay files %s: %w", layer.Dir, err)
		}
		patches, err := ListPatchFiles(layer.Dir)
		if err != nil {
			return err
		}

		if len(overrides) > 0 && len(patches) > 0 {
			return mixedKindError(moduleID, layer, overrides, patches)
		}

		switch meta.OverlayKind {
		case KindDir:
			if len(patches) > 0 {
				return apperr.Newf(apperr.CodeConfigInvalid,
					"overlay_kind=dir but patch artifacts exist for module %s (%s)", moduleID, layer.Scope).
					WithDetails(map[string]any{
						"module_id":   moduleID,
						"scope":       layer.Scope,
						"overlay_dir": fsutil.ToPosix(layer.Dir),
						"hint":        "set overlay_kind=patch (in .agentpack/overlay.json) or remove .agentpack/patches",
					})
			}
			if err := fsutil.CopyTree(layer.Dir, outDir, MetaDirName); err != nil {
				return fmt.Errorf("apply overlay %s: %w", layer.Dir, err)
			}
		case KindPatch:
			if len(overrides) > 0 {
				return apperr.Newf(apperr.CodeConfigInvalid,
					"overlay_kind=patch but directory override files exist for module %s (%s)", moduleID, layer.Scope).
					WithDetails(map[string]any{
						"module_id":   moduleID,
						"scope":       layer.Scope,
						"overlay_dir": fsutil.ToPosix(layer.Dir),
						"hint":        "move edits into .agentpack/patches/*.patch or set overlay_kind=dir",
					})
			}
			if err := applyPatchOverlay(moduleID, layer.Scope, layer.Dir, outDir, patches); err != nil {
				return err
			}
		}
	}
	return nil
}

func mixedKindError(moduleID string, layer Layer, overrides []string, patches []PatchFile) error {
	patchRels := make([]string, len(patches))
	for i, p := range patches {
		patchRels[i] = p.Rel + PatchExt
	}
	return apperr.Newf(apperr.CodeConfigInvalid,
		"overlay kind conflict for module %s (%s): cannot mix directory override files and patch artifacts",
		moduleID, layer.Scope).
		WithDetails(map[string]any{
			"module_id":      moduleID,
			"scope":          layer.Scope,
			"overlay_dir":    fsutil.ToPosix(layer.Dir),
			"override_files": overrides,
			"patch_files":    patchRels,
			"hint":           "use a single overlay kind per overlay directory (dir OR patch)",
		})
}
