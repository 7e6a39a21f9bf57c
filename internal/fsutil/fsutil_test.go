package fsutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.md")

	if err := WriteAtomic(path, []byte("hello\n")); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello\n" {
		t.Errorf("content = %q, want %q", data, "hello\n")
	}

	// Overwrite leaves no temp files behind.
	if err := WriteAtomic(path, []byte("v2\n")); err != nil {
		t.Fatalf("WriteAtomic overwrite: %v", err)
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), TempSuffix) {
			t.Errorf("stale temp file left behind: %s", e.Name())
		}
	}
}

func TestListFilesSkipsComponents(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "AGENTS.md"), "a")
	writeFile(t, filepath.Join(dir, "prompts", "p.md"), "p")
	writeFile(t, filepath.Join(dir, ".git", "config"), "x")
	writeFile(t, filepath.Join(dir, ".agentpack", "overlay.json"), "{}")
	writeFile(t, filepath.Join(dir, "sub", ".git", "HEAD"), "x")

	got, err := ListFiles(dir, ".git", ".agentpack")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"AGENTS.md", "prompts/p.md"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ListFiles mismatch (-want +got):\n%s", diff)
	}
}

func TestListFilesSorted(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "z.md"), "z")
	writeFile(t, filepath.Join(dir, "a", "b.md"), "b")
	writeFile(t, filepath.Join(dir, "m.md"), "m")

	got, err := ListFiles(dir)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a/b.md", "m.md", "z.md"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ListFiles mismatch (-want +got):\n%s", diff)
	}
}

func TestCopyTreeFiltered(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeFile(t, filepath.Join(src, "doc.md"), "d")
	writeFile(t, filepath.Join(src, ".git", "config"), "x")
	writeFile(t, filepath.Join(src, "deep", "file.txt"), "f")

	if err := CopyTree(src, dst, ".git"); err != nil {
		t.Fatalf("CopyTree: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dst, "doc.md")); err != nil {
		t.Errorf("doc.md not copied: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dst, "deep", "file.txt")); err != nil {
		t.Errorf("deep/file.txt not copied: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dst, ".git")); !os.IsNotExist(err) {
		t.Error(".git was copied, want skipped")
	}
}

func TestCopyTreeSingleFile(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeFile(t, filepath.Join(src, "only.md"), "solo")

	if err := CopyTree(filepath.Join(src, "only.md"), dst); err != nil {
		t.Fatalf("CopyTree: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dst, "only.md"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "solo" {
		t.Errorf("content = %q, want solo", data)
	}
}

func TestPruneEmptyParents(t *testing.T) {
	root := t.TempDir()
	leaf := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(leaf, 0o755); err != nil {
		t.Fatal(err)
	}
	keep := filepath.Join(root, "a", "keep.txt")
	writeFile(t, keep, "k")

	if err := PruneEmptyParents(leaf, root); err != nil {
		t.Fatalf("PruneEmptyParents: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "a", "b")); !os.IsNotExist(err) {
		t.Error("a/b still exists, want pruned")
	}
	if _, err := os.Stat(filepath.Join(root, "a")); err != nil {
		t.Error("a was pruned despite holding keep.txt")
	}
}

func TestPruneEmptyParentsStopsAtRoot(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "only")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := PruneEmptyParents(sub, root); err != nil {
		t.Fatalf("PruneEmptyParents: %v", err)
	}
	if _, err := os.Stat(root); err != nil {
		t.Error("root was removed, want kept")
	}
}

func TestValidPosixRelPath(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"a/b.md", true},
		{"file", true},
		{"", false},
		{"/abs", false},
		{"a//b", false},
		{"a/./b", false},
		{"a/../b", false},
	}
	for _, tt := range tests {
		if got := ValidPosixRelPath(tt.in); got != tt.want {
			t.Errorf("ValidPosixRelPath(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRelPosix(t *testing.T) {
	root := filepath.Join("/tmp", "root")
	path := filepath.Join(root, "sub", "f.md")
	if got := RelPosix(root, path); got != "sub/f.md" {
		t.Errorf("RelPosix = %q, want sub/f.md", got)
	}
}

func TestReadFileIfExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	if _, ok, err := ReadFileIfExists(path); err != nil || ok {
		t.Errorf("missing file: ok=%v err=%v, want false,nil", ok, err)
	}
	writeFile(t, path, "data")
	data, ok, err := ReadFileIfExists(path)
	if err != nil || !ok || string(data) != "data" {
		t.Errorf("existing file: data=%q ok=%v err=%v", data, ok, err)
	}
}
