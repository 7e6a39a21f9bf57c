package overlay

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/liqiongyu/agentpack/internal/apperr"
	"github.com/liqiongyu/agentpack/internal/fsutil"
)

// PatchExt is the suffix of patch artifact files.
const PatchExt = ".patch"

// PatchFile pairs a patch artifact with the composed-tree path it rewrites.
type PatchFile struct {
	// Rel is the target path inside the composed module tree (POSIX).
	Rel string

	// PatchPath is the absolute path of the .patch artifact.
	PatchPath string
}

// ListPatchFiles returns the patch artifacts of an overlay directory,
// sorted by target path.
func ListPatchFiles(overlayDir string) ([]PatchFile, error) {
	dir := PatchesDir(overlayDir)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	rels, err := fsutil.ListFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}

	var out []PatchFile
	for _, rel := range rels {
		if !strings.HasSuffix(rel, PatchExt) {
			continue
		}
		out = append(out, PatchFile{
			Rel:       strings.TrimSuffix(rel, PatchExt),
			PatchPath: fsutil.JoinPosix(dir, rel),
		})
	}
	return out, nil
}

// ApplyPatch applies a unified diff to current and returns the patched
// bytes.
func ApplyPatch(current, patch []byte) ([]byte, error) {
	files, _, err := gitdiff.Parse(bytes.NewReader(patch))
	if err != nil {
		return nil, fmt.Errorf("parse patch: %w", err)
	}
	if len(files) != 1 {
		return nil, fmt.Errorf("patch must describe exactly one file, got %d", len(files))
	}

	var out bytes.Buffer
	if err := gitdiff.Apply(&out, bytes.NewReader(current), files[0]); err != nil {
		return nil, fmt.Errorf("apply patch: %w", err)
	}
	return out.Bytes(), nil
}

// GeneratePatch renders a unified diff from oldData to newData with
// a/<rel> and b/<rel> headers. Returns nil when the contents are equal.
func GeneratePatch(rel string, oldData, newData []byte) ([]byte, error) {
	if bytes.Equal(oldData, newData) {
		return nil, nil
	}
	// splitLinesKeepEnds, not difflib.SplitLines: the latter appends a
	// phantom empty line that breaks strict patch application.
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        splitLinesKeepEnds(string(oldData)),
		B:        splitLinesKeepEnds(string(newData)),
		FromFile: "a/" + rel,
		ToFile:   "b/" + rel,
		Context:  3,
	})
	if err != nil {
		return nil, fmt.Errorf("diff %s: %w", rel, err)
	}
	return []byte(text), nil
}

// applyPatchOverlay rewrites outDir in place with every patch artifact of
// the overlay. Any reject fails the composition.
func applyPatchOverlay(moduleID, scope, overlayDir, outDir string, patches []PatchFile) error {
	for _, pf := range patches {
		patchBytes, err := os.ReadFile(pf.PatchPath)
		if err != nil {
			return fmt.Errorf("read %s: %w", pf.PatchPath, err)
		}

		targetPath := fsutil.JoinPosix(outDir, pf.Rel)
		current, _, err := fsutil.ReadFileIfExists(targetPath)
		if err != nil {
			return fmt.Errorf("read %s: %w", targetPath, err)
		}

		patched, err := ApplyPatch(current, patchBytes)
		if err != nil {
			return apperr.Newf(apperr.CodeOverlayPatchApplyFailed,
				"patch failed for module %s (%s): %s", moduleID, scope, pf.Rel).
				WithDetails(map[string]any{
					"module_id": moduleID,
					"scope":     scope,
					"patch":     fsutil.RelPosix(overlayDir, pf.PatchPath),
					"path":      pf.Rel,
					"cause":     err.Error(),
				})
		}
		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return fmt.Errorf("create %s: %w", filepath.Dir(targetPath), err)
		}
		if err := os.WriteFile(targetPath, patched, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", targetPath, err)
		}
	}
	return nil
}
