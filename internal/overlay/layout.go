// Package overlay implements the per-module mutation layers: directory
// overlays that replace upstream bytes file-by-file, patch overlays that
// apply unified diffs, and the three-way rebase that carries both kinds
// across upstream changes. Each overlay directory is exclusively one kind
// and is anchored to upstream history by a baseline of file hashes.
package overlay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/liqiongyu/agentpack/internal/apperr"
	"github.com/liqiongyu/agentpack/internal/fsutil"
	"github.com/liqiongyu/agentpack/internal/ids"
)

const (
	// MetaDirName holds overlay metadata inside an overlay directory.
	MetaDirName = ".agentpack"

	metaFilename     = "overlay.json"
	baselineFilename = "baseline.json"

	// PatchesDirName holds unified-diff files for patch overlays.
	PatchesDirName = "patches"

	// ConflictsDirName receives conflict artifacts from patch rebases.
	ConflictsDirName = "conflicts"

	baselineSchemaVersion = 1
)

// Kind discriminates the two overlay mechanisms.
type Kind string

const (
	KindDir   Kind = "dir"
	KindPatch Kind = "patch"
)

// Meta is the parsed .agentpack/overlay.json.
type Meta struct {
	OverlayKind Kind `json:"overlay_kind"`
}

// MetaPath returns the overlay.json path for an overlay directory.
func MetaPath(overlayDir string) string {
	return filepath.Join(overlayDir, MetaDirName, metaFilename)
}

// BaselinePath returns the baseline.json path for an overlay directory.
func BaselinePath(overlayDir string) string {
	return filepath.Join(overlayDir, MetaDirName, baselineFilename)
}

// PatchesDir returns the patches directory for an overlay directory.
func PatchesDir(overlayDir string) string {
	return filepath.Join(overlayDir, MetaDirName, PatchesDirName)
}

// ConflictsDir returns the conflicts directory for an overlay directory.
func ConflictsDir(overlayDir string) string {
	return filepath.Join(overlayDir, MetaDirName, ConflictsDirName)
}

// ReadMeta loads overlay metadata. A missing overlay.json defaults to a
// directory overlay; legacy overlays predate the kind marker.
func ReadMeta(overlayDir string) (Meta, error) {
	raw, ok, err := fsutil.ReadFileIfExists(MetaPath(overlayDir))
	if err != nil {
		return Meta{}, fmt.Errorf("read overlay meta: %w", err)
	}
	if !ok {
		return Meta{OverlayKind: KindDir}, nil
	}
	var meta Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Meta{}, apperr.Newf(apperr.CodeConfigInvalid,
			"parse %s: %v", MetaPath(overlayDir), err)
	}
	if meta.OverlayKind != KindDir && meta.OverlayKind != KindPatch {
		return Meta{}, apperr.Newf(apperr.CodeConfigInvalid,
			"unknown overlay_kind %q in %s", meta.OverlayKind, MetaPath(overlayDir))
	}
	return meta, nil
}

// WriteMeta persists overlay metadata.
func WriteMeta(overlayDir string, meta Meta) error {
	out, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize overlay meta: %w", err)
	}
	out = append(out, '\n')
	return fsutil.WriteAtomic(MetaPath(overlayDir), out)
}

// BaselineEntry records one upstream file's hash at baseline time.
type BaselineEntry struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// Baseline anchors an overlay to a point in upstream history.
type Baseline struct {
	Version        int             `json:"version"`
	UpstreamSHA256 string          `json:"upstream_sha256,omitempty"`
	FileManifest   []BaselineEntry `json:"file_manifest"`
}

// Map returns the baseline as rel-POSIX-path → sha256.
func (b *Baseline) Map() map[string]string {
	out := make(map[string]string, len(b.FileManifest))
	for _, e := range b.FileManifest {
		out[e.Path] = e.SHA256
	}
	return out
}

// LoadBaseline reads an overlay's baseline. Missing baselines are
// E_OVERLAY_BASELINE_MISSING; unknown versions are
// E_OVERLAY_BASELINE_UNSUPPORTED.
func LoadBaseline(overlayDir string) (*Baseline, error) {
	path := BaselinePath(overlayDir)
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperr.Newf(apperr.CodeOverlayBaselineMissing,
			"overlay baseline not found: %s", path).
			WithDetail("path", fsutil.ToPosix(path))
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var b Baseline
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, apperr.Newf(apperr.CodeConfigInvalid, "parse %s: %v", path, err)
	}
	if b.Version != baselineSchemaVersion {
		return nil, apperr.Newf(apperr.CodeOverlayBaselineUnsupported,
			"unsupported overlay baseline version: %d", b.Version).
			WithDetail("path", fsutil.ToPosix(path)).
			WithDetail("version", b.Version)
	}
	return &b, nil
}

// SaveBaseline writes the baseline canonically (entries sorted by path,
// trailing newline).
func SaveBaseline(overlayDir string, b *Baseline) error {
	sort.Slice(b.FileManifest, func(i, j int) bool {
		return b.FileManifest[i].Path < b.FileManifest[j].Path
	})
	out, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize baseline: %w", err)
	}
	out = append(out, '\n')
	return fsutil.WriteAtomic(BaselinePath(overlayDir), out)
}

// BaselineFromUpstream walks the upstream tree and records (path, sha256)
// for every file, skipping VCS and overlay metadata subtrees.
func BaselineFromUpstream(upstreamRoot string) (*Baseline, error) {
	files, err := fsutil.ListFiles(upstreamRoot, ".git", MetaDirName)
	if err != nil {
		return nil, fmt.Errorf("walk upstream %s: %w", upstreamRoot, err)
	}

	b := &Baseline{Version: baselineSchemaVersion}
	var all []byte
	for _, rel := range files {
		data, err := os.ReadFile(fsutil.JoinPosix(upstreamRoot, rel))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", rel, err)
		}
		sum := ids.SHA256Hex(data)
		b.FileManifest = append(b.FileManifest, BaselineEntry{Path: rel, SHA256: sum})
		all = append(all, []byte(rel+"\x00"+sum+"\n")...)
	}
	b.UpstreamSHA256 = ids.SHA256Hex(all)
	return b, nil
}

// EnsureSkeleton creates an overlay directory with metadata and a baseline
// recorded from upstreamRoot. Existing overlays are left untouched.
func EnsureSkeleton(overlayDir, upstreamRoot string, kind Kind) (created bool, err error) {
	if _, err := os.Stat(MetaPath(overlayDir)); err == nil {
		return false, nil
	}
	b, err := BaselineFromUpstream(upstreamRoot)
	if err != nil {
		return false, err
	}
	if err := WriteMeta(overlayDir, Meta{OverlayKind: kind}); err != nil {
		return false, err
	}
	if err := SaveBaseline(overlayDir, b); err != nil {
		return false, err
	}
	if kind == KindPatch {
		if err := os.MkdirAll(PatchesDir(overlayDir), 0o755); err != nil {
			return false, fmt.Errorf("create patches dir: %w", err)
		}
	}
	return true, nil
}

// OverrideFiles lists the directory-override files of an overlay (relative
// POSIX, sorted), excluding metadata.
func OverrideFiles(overlayDir string) ([]string, error) {
	if _, err := os.Stat(overlayDir); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return fsutil.ListFiles(overlayDir, MetaDirName)
}
