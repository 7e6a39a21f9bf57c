package overlay

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/liqiongyu/agentpack/internal/apperr"
	"github.com/liqiongyu/agentpack/internal/ids"
)

func TestReadMetaDefaultsToDir(t *testing.T) {
	meta, err := ReadMeta(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if meta.OverlayKind != KindDir {
		t.Errorf("kind = %s, want dir", meta.OverlayKind)
	}
}

func TestMetaRoundTrip(t *testing.T) {
	dir := t.TempDir()
	if err := WriteMeta(dir, Meta{OverlayKind: KindPatch}); err != nil {
		t.Fatal(err)
	}
	meta, err := ReadMeta(dir)
	if err != nil {
		t.Fatal(err)
	}
	if meta.OverlayKind != KindPatch {
		t.Errorf("kind = %s, want patch", meta.OverlayKind)
	}
}

func TestReadMetaUnknownKind(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, MetaPath(dir), `{"overlay_kind": "weird"}`)
	_, err := ReadMeta(dir)
	if !apperr.Is(err, apperr.CodeConfigInvalid) {
		t.Errorf("err = %v, want E_CONFIG_INVALID", err)
	}
}

func TestLoadBaselineMissing(t *testing.T) {
	_, err := LoadBaseline(t.TempDir())
	if !apperr.Is(err, apperr.CodeOverlayBaselineMissing) {
		t.Errorf("err = %v, want E_OVERLAY_BASELINE_MISSING", err)
	}
}

func TestLoadBaselineUnsupportedVersion(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, BaselinePath(dir), `{"version": 99, "file_manifest": []}`)
	_, err := LoadBaseline(dir)
	if !apperr.Is(err, apperr.CodeOverlayBaselineUnsupported) {
		t.Errorf("err = %v, want E_OVERLAY_BASELINE_UNSUPPORTED", err)
	}
}

func TestBaselineFromUpstream(t *testing.T) {
	upstream := t.TempDir()
	writeFile(t, filepath.Join(upstream, "b.md"), "bee\n")
	writeFile(t, filepath.Join(upstream, "a.md"), "ay\n")
	writeFile(t, filepath.Join(upstream, ".git", "config"), "x")

	b, err := BaselineFromUpstream(upstream)
	if err != nil {
		t.Fatal(err)
	}
	if len(b.FileManifest) != 2 {
		t.Fatalf("manifest entries = %d, want 2", len(b.FileManifest))
	}
	m := b.Map()
	if m["a.md"] != ids.SHA256Hex([]byte("ay\n")) {
		t.Errorf("a.md hash = %s", m["a.md"])
	}
	if b.UpstreamSHA256 == "" {
		t.Error("upstream_sha256 empty")
	}
}

func TestEnsureSkeleton(t *testing.T) {
	upstream := t.TempDir()
	writeFile(t, filepath.Join(upstream, "f.md"), "x\n")
	overlayDir := filepath.Join(t.TempDir(), "ovl")

	created, err := EnsureSkeleton(overlayDir, upstream, KindDir)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Error("created = false on first call")
	}
	if _, err := LoadBaseline(overlayDir); err != nil {
		t.Errorf("baseline not written: %v", err)
	}

	created, err = EnsureSkeleton(overlayDir, upstream, KindDir)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("created = true on second call, want idempotent")
	}
}

func TestEnsureSkeletonPatchKind(t *testing.T) {
	upstream := t.TempDir()
	writeFile(t, filepath.Join(upstream, "f.md"), "x\n")
	overlayDir := filepath.Join(t.TempDir(), "ovl")

	if _, err := EnsureSkeleton(overlayDir, upstream, KindPatch); err != nil {
		t.Fatal(err)
	}
	if fi, err := os.Stat(PatchesDir(overlayDir)); err != nil || !fi.IsDir() {
		t.Errorf("patches dir missing: %v", err)
	}
	meta, err := ReadMeta(overlayDir)
	if err != nil || meta.OverlayKind != KindPatch {
		t.Errorf("meta = %+v err=%v", meta, err)
	}
}

func TestBaselineSaveCanonical(t *testing.T) {
	dir1 := t.TempDir()
	dir2 := t.TempDir()
	b := &Baseline{Version: 1, FileManifest: []BaselineEntry{
		{Path: "z.md", SHA256: "2"},
		{Path: "a.md", SHA256: "1"},
	}}
	if err := SaveBaseline(dir1, b); err != nil {
		t.Fatal(err)
	}
	if err := SaveBaseline(dir2, b); err != nil {
		t.Fatal(err)
	}
	d1, _ := os.ReadFile(BaselinePath(dir1))
	d2, _ := os.ReadFile(BaselinePath(dir2))
	if string(d1) != string(d2) {
		t.Error("baseline serialization not deterministic")
	}
	loaded, err := LoadBaseline(dir1)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.FileManifest[0].Path != "a.md" {
		t.Errorf("entries not sorted: %+v", loaded.FileManifest)
	}
}
