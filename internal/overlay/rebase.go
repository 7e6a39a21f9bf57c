package overlay

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/liqiongyu/agentpack/internal/apperr"
	"github.com/liqiongyu/agentpack/internal/fsutil"
	"github.com/liqiongyu/agentpack/internal/ids"
)

// RebaseOptions controls a rebase run.
type RebaseOptions struct {
	// DryRun reports what would change without touching overlay files.
	DryRun bool

	// Sparsify additionally drops overlay files that end up byte-equal to
	// upstream.
	Sparsify bool
}

// ReadFileFn reads one upstream or merge-base file by relative POSIX path.
// The second return is false when the file does not exist on that side.
type ReadFileFn func(rel string) ([]byte, bool, error)

// RebaseSummary counts rebase outcomes.
type RebaseSummary struct {
	ProcessedFiles int `json:"processed_files"`
	UpdatedFiles   int `json:"updated_files"`
	DeletedFiles   int `json:"deleted_files"`
	SkippedFiles   int `json:"skipped_files"`
	ConflictFiles  int `json:"conflict_files"`
}

// RebaseReport details a rebase run.
type RebaseReport struct {
	Summary   RebaseSummary `json:"summary"`
	Updated   []string      `json:"updated,omitempty"`
	Deleted   []string      `json:"deleted,omitempty"`
	Skipped   []string      `json:"skipped,omitempty"`
	Conflicts []string      `json:"conflicts,omitempty"`
}

// Rebase carries an overlay across an upstream change via three-way merge.
// The baseline anchors the merge base; readBase and readUpstream supply
// merge-base and current upstream bytes. On conflicts the report is
// returned together with E_OVERLAY_REBASE_CONFLICT.
func Rebase(overlayDir string, baselineMap map[string]string, readBase, readUpstream ReadFileFn, opts RebaseOptions) (*RebaseReport, error) {
	if _, err := os.Stat(overlayDir); os.IsNotExist(err) {
		return nil, apperr.Newf(apperr.CodeOverlayNotFound, "overlay directory not found: %s", overlayDir).
			WithDetail("path", fsutil.ToPosix(overlayDir))
	}

	meta, err := ReadMeta(overlayDir)
	if err != nil {
		return nil, err
	}

	var report *RebaseReport
	switch meta.OverlayKind {
	case KindPatch:
		report, err = rebasePatchFiles(overlayDir, baselineMap, readBase, readUpstream, opts)
	default:
		report, err = rebaseDirFiles(overlayDir, baselineMap, readBase, readUpstream, opts)
	}
	if err != nil {
		return nil, err
	}

	if len(report.Conflicts) > 0 {
		return report, apperr.New(apperr.CodeOverlayRebaseConflict,
			"overlay rebase produced conflicts").
			WithDetails(map[string]any{
				"overlay_dir":  fsutil.ToPosix(overlayDir),
				"conflicts":    report.Conflicts,
				"next_actions": []string{"resolve conflict markers", "agentpack overlay rebase"},
				"reason_code":  "overlay_rebase_conflict",
			})
	}
	return report, nil
}

// verifyBase checks the merge-base bytes against the recorded baseline hash.
func verifyBase(rel, expectedSHA string, base []byte) error {
	gotSHA := ids.SHA256Hex(base)
	if gotSHA == expectedSHA {
		return nil
	}
	return apperr.Newf(apperr.CodeOverlayBaselineUnsupported,
		"overlay baseline does not match merge base for %s", rel).
		WithDetails(map[string]any{
			"path":            rel,
			"expected_sha256": expectedSHA,
			"got_sha256":      gotSHA,
			"hint":            "recreate the overlay baseline after committing upstream changes",
		})
}

func rebaseDirFiles(overlayDir string, baselineMap map[string]string, readBase, readUpstream ReadFileFn, opts RebaseOptions) (*RebaseReport, error) {
	files, err := OverrideFiles(overlayDir)
	if err != nil {
		return nil, err
	}

	report := &RebaseReport{}
	for _, rel := range files {
		report.Summary.ProcessedFiles++

		expectedSHA, inBaseline := baselineMap[rel]
		if !inBaseline {
			report.skip(rel)
			continue
		}

		filePath := fsutil.JoinPosix(overlayDir, rel)
		ours, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", filePath, err)
		}
		base, ok, err := readBase(rel)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("missing merge base for %s", rel)
		}
		if err := verifyBase(rel, expectedSHA, base); err != nil {
			return nil, err
		}

		upstream, upstreamExists, err := readUpstream(rel)
		if err != nil {
			return nil, err
		}

		oursIsBase := bytes.Equal(ours, base)

		if !upstreamExists {
			if oursIsBase {
				// Upstream deleted the file and we never changed it.
				if err := report.deleteOverlayFile(overlayDir, filePath, rel, opts.DryRun); err != nil {
					return nil, err
				}
			} else {
				report.skip(rel)
			}
			continue
		}

		if oursIsBase {
			if opts.Sparsify {
				if err := report.deleteOverlayFile(overlayDir, filePath, rel, opts.DryRun); err != nil {
					return nil, err
				}
			} else if !bytes.Equal(ours, upstream) {
				if err := report.updateOverlayFile(filePath, rel, upstream, opts.DryRun); err != nil {
					return nil, err
				}
			}
			continue
		}

		if bytes.Equal(upstream, base) {
			continue
		}

		if bytes.Equal(ours, upstream) {
			if opts.Sparsify {
				if err := report.deleteOverlayFile(overlayDir, filePath, rel, opts.DryRun); err != nil {
					return nil, err
				}
			}
			continue
		}

		merged := MergeThreeWay(base, ours, upstream)
		if merged.Conflicted {
			report.Summary.ConflictFiles++
			report.Conflicts = append(report.Conflicts, rel)
		}

		if opts.Sparsify && !merged.Conflicted && bytes.Equal(merged.Merged, upstream) {
			if err := report.deleteOverlayFile(overlayDir, filePath, rel, opts.DryRun); err != nil {
				return nil, err
			}
			continue
		}
		if err := report.updateOverlayFile(filePath, rel, merged.Merged, opts.DryRun); err != nil {
			return nil, err
		}
	}
	return report, nil
}

func rebasePatchFiles(overlayDir string, baselineMap map[string]string, readBase, readUpstream ReadFileFn, opts RebaseOptions) (*RebaseReport, error) {
	patches, err := ListPatchFiles(overlayDir)
	if err != nil {
		return nil, err
	}

	report := &RebaseReport{}
	for _, pf := range patches {
		report.Summary.ProcessedFiles++
		rel := pf.Rel

		expectedSHA, inBaseline := baselineMap[rel]
		if !inBaseline {
			report.skip(rel)
			continue
		}

		patchBytes, err := os.ReadFile(pf.PatchPath)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", pf.PatchPath, err)
		}
		base, ok, err := readBase(rel)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("missing merge base for %s", rel)
		}
		if err := verifyBase(rel, expectedSHA, base); err != nil {
			return nil, err
		}

		ours, err := ApplyPatch(base, patchBytes)
		if err != nil {
			return nil, apperr.Newf(apperr.CodeOverlayPatchApplyFailed,
				"patch no longer applies to merge base: %s", rel).
				WithDetails(map[string]any{
					"path":  rel,
					"patch": fsutil.RelPosix(overlayDir, pf.PatchPath),
					"cause": err.Error(),
				})
		}

		upstream, upstreamExists, err := readUpstream(rel)
		if err != nil {
			return nil, err
		}

		if !upstreamExists {
			if bytes.Equal(ours, base) {
				if err := report.deleteOverlayFile(overlayDir, pf.PatchPath, rel, opts.DryRun); err != nil {
					return nil, err
				}
			} else {
				report.skip(rel)
			}
			continue
		}

		if bytes.Equal(upstream, base) {
			continue
		}

		if bytes.Equal(ours, upstream) || bytes.Equal(ours, base) {
			// The patch is redundant against the new upstream.
			if err := report.deleteOverlayFile(overlayDir, pf.PatchPath, rel, opts.DryRun); err != nil {
				return nil, err
			}
			continue
		}

		merged := MergeThreeWay(base, ours, upstream)
		if merged.Conflicted {
			report.Summary.ConflictFiles++
			report.Conflicts = append(report.Conflicts, rel)
			if !opts.DryRun {
				conflictPath := fsutil.JoinPosix(ConflictsDir(overlayDir), rel)
				if err := fsutil.WriteAtomic(conflictPath, merged.Merged); err != nil {
					return nil, err
				}
			}
			continue
		}

		newPatch, err := GeneratePatch(rel, upstream, merged.Merged)
		if err != nil {
			return nil, err
		}
		if newPatch == nil {
			if err := report.deleteOverlayFile(overlayDir, pf.PatchPath, rel, opts.DryRun); err != nil {
				return nil, err
			}
			continue
		}
		if err := report.updateOverlayFile(pf.PatchPath, rel, newPatch, opts.DryRun); err != nil {
			return nil, err
		}
	}
	return report, nil
}

func (r *RebaseReport) skip(rel string) {
	r.Summary.SkippedFiles++
	r.Skipped = append(r.Skipped, rel)
}

func (r *RebaseReport) deleteOverlayFile(overlayDir, filePath, rel string, dryRun bool) error {
	if !dryRun {
		if err := os.Remove(filePath); err != nil {
			return fmt.Errorf("remove %s: %w", filePath, err)
		}
		if err := fsutil.PruneEmptyParents(filepath.Dir(filePath), overlayDir); err != nil {
			return err
		}
	}
	r.Summary.DeletedFiles++
	r.Deleted = append(r.Deleted, rel)
	return nil
}

func (r *RebaseReport) updateOverlayFile(filePath, rel string, data []byte, dryRun bool) error {
	if !dryRun {
		if err := fsutil.WriteAtomic(filePath, data); err != nil {
			return err
		}
	}
	r.Summary.UpdatedFiles++
	r.Updated = append(r.Updated, rel)
	return nil
}
