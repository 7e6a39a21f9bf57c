package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/liqiongyu/agentpack/internal/apperr"
	"github.com/liqiongyu/agentpack/internal/deploy"
)

func TestNextIDMonotonic(t *testing.T) {
	home := t.TempDir()

	id1, err := NextID(home, KindDeploy)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != "000001-deploy" {
		t.Errorf("first id = %s, want 000001-deploy", id1)
	}
	if err := Append(home, &Snapshot{ID: id1, CreatedAt: "2026-08-01T00:00:00Z", Kind: KindDeploy}); err != nil {
		t.Fatal(err)
	}

	id2, err := NextID(home, KindRollback)
	if err != nil {
		t.Fatal(err)
	}
	if id2 != "000002-rollback" {
		t.Errorf("second id = %s, want 000002-rollback", id2)
	}
}

func TestAppendLoadRoundTrip(t *testing.T) {
	home := t.TempDir()
	snap := &Snapshot{
		ID:        "000001-deploy",
		CreatedAt: "2026-08-01T00:00:00Z",
		Kind:      KindDeploy,
		Changes: []deploy.Change{
			{Target: "codex", Op: deploy.OpCreate, Path: "/t/codex/AGENTS.md", AfterSHA256: "aa", Reason: "file missing"},
		},
		ManagedFiles: []ManagedFile{
			{Target: "codex", Path: "/t/codex/AGENTS.md", SHA256: "aa", ModuleIDs: []string{"instructions:base"}},
		},
	}
	if err := Append(home, snap); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(home, "000001-deploy")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Kind != KindDeploy || len(loaded.Changes) != 1 || len(loaded.ManagedFiles) != 1 {
		t.Errorf("loaded = %+v", loaded)
	}
	if loaded.SchemaVersion != snapshotSchemaVersion {
		t.Errorf("schema_version = %d", loaded.SchemaVersion)
	}
}

func TestLoadUnsupportedVersion(t *testing.T) {
	home := t.TempDir()
	dir := SnapshotsDir(home)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := `{"schema_version": 42, "id": "000001-deploy", "kind": "deploy"}`
	if err := os.WriteFile(filepath.Join(dir, "000001-deploy.json"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(home, "000001-deploy")
	if !apperr.Is(err, apperr.CodeUnsupportedSnapshotVersion) {
		t.Errorf("err = %v, want E_UNSUPPORTED_SNAPSHOT_VERSION", err)
	}
}

func TestLatestFiltersByKind(t *testing.T) {
	home := t.TempDir()
	for _, s := range []*Snapshot{
		{ID: "000001-deploy", Kind: KindDeploy, CreatedAt: "t1"},
		{ID: "000002-rollback", Kind: KindRollback, CreatedAt: "t2", RolledBackTo: "000001-deploy"},
	} {
		if err := Append(home, s); err != nil {
			t.Fatal(err)
		}
	}

	latest, err := Latest(home, KindDeploy, KindRollback)
	if err != nil {
		t.Fatal(err)
	}
	if latest == nil || latest.ID != "000002-rollback" {
		t.Errorf("latest = %+v", latest)
	}

	deployOnly, err := Latest(home, KindDeploy)
	if err != nil {
		t.Fatal(err)
	}
	if deployOnly == nil || deployOnly.ID != "000001-deploy" {
		t.Errorf("latest deploy = %+v", deployOnly)
	}
}

func TestLatestEmpty(t *testing.T) {
	latest, err := Latest(t.TempDir())
	if err != nil || latest != nil {
		t.Errorf("latest = %+v err = %v, want nil, nil", latest, err)
	}
}

func TestManagedPathsFromSnapshotFallback(t *testing.T) {
	snap := &Snapshot{
		Changes: []deploy.Change{
			{Target: "codex", Op: deploy.OpCreate, Path: "/t/a.md"},
			{Target: "codex", Op: deploy.OpDelete, Path: "/t/b.md"},
		},
	}
	managed := ManagedPathsFromSnapshot(snap)
	if !managed[deploy.TargetPath{Target: "codex", Path: "/t/a.md"}] {
		t.Error("created path missing from managed set")
	}
	if managed[deploy.TargetPath{Target: "codex", Path: "/t/b.md"}] {
		t.Error("deleted path should not be managed")
	}
}

func TestContentStore(t *testing.T) {
	cs := NewContentStore(t.TempDir())
	data := []byte("precious bytes\n")

	sha, err := cs.Put(data)
	if err != nil {
		t.Fatal(err)
	}
	if !cs.Has(sha) {
		t.Error("Has = false after Put")
	}

	// Idempotent.
	sha2, err := cs.Put(data)
	if err != nil || sha2 != sha {
		t.Errorf("second Put = %s, %v", sha2, err)
	}

	got, err := cs.Get(sha)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(data) {
		t.Errorf("Get = %q", got)
	}

	if _, err := cs.Get("deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"); err == nil {
		t.Error("Get of missing object succeeded")
	}
}
