// Package state persists the append-only snapshot log and the
// content-addressed object store that makes applies reversible. Snapshots
// are never rewritten; rollback appends a new snapshot rather than mutating
// history.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/liqiongyu/agentpack/internal/apperr"
	"github.com/liqiongyu/agentpack/internal/deploy"
	"github.com/liqiongyu/agentpack/internal/fsutil"
)

// snapshotSchemaVersion is the snapshot schema this build writes. Loading
// tolerates only this version; snapshots carry their version explicitly so
// future builds can stay forward-compatible.
const snapshotSchemaVersion = 1

// Snapshot kinds.
const (
	KindDeploy   = "deploy"
	KindRollback = "rollback"
)

// ManagedFile records one managed path at snapshot time. Path is absolute,
// serialized POSIX-style.
type ManagedFile struct {
	Target    string   `json:"target"`
	Path      string   `json:"path"`
	SHA256    string   `json:"sha256"`
	ModuleIDs []string `json:"module_ids,omitempty"`
}

// Snapshot records one applied deploy or rollback.
type Snapshot struct {
	SchemaVersion int             `json:"schema_version"`
	ID            string          `json:"id"`
	CreatedAt     string          `json:"created_at"`
	Kind          string          `json:"kind"`
	RolledBackTo  string          `json:"rolled_back_to,omitempty"`
	Changes       []deploy.Change `json:"changes"`
	ManagedFiles  []ManagedFile   `json:"managed_files"`
}

// SnapshotsDir returns the snapshot log directory beneath home.
func SnapshotsDir(home string) string {
	return filepath.Join(home, "state", "snapshots")
}

// snapshotPath returns the file path of one snapshot.
func snapshotPath(home, id string) string {
	return filepath.Join(SnapshotsDir(home), id+".json")
}

// snapshotSeq extracts the numeric prefix of a snapshot id.
func snapshotSeq(id string) (int, bool) {
	num, _, found := strings.Cut(id, "-")
	if !found {
		return 0, false
	}
	n, err := strconv.Atoi(num)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ListIDs returns all snapshot ids in insertion (numeric) order.
func ListIDs(home string) ([]string, error) {
	entries, err := os.ReadDir(SnapshotsDir(home))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshots dir: %w", err)
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		if _, ok := snapshotSeq(id); ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		a, _ := snapshotSeq(ids[i])
		b, _ := snapshotSeq(ids[j])
		return a < b
	})
	return ids, nil
}

// NextID reserves the next monotonic snapshot id for the given kind.
func NextID(home, kind string) (string, error) {
	ids, err := ListIDs(home)
	if err != nil {
		return "", err
	}
	max := 0
	for _, id := range ids {
		if n, ok := snapshotSeq(id); ok && n > max {
			max = n
		}
	}
	return fmt.Sprintf("%06d-%s", max+1, kind), nil
}

// Append writes snap to the log. The snapshot's ID must already be
// reserved via NextID.
func Append(home string, snap *Snapshot) error {
	if snap.ID == "" {
		return fmt.Errorf("snapshot id not set")
	}
	snap.SchemaVersion = snapshotSchemaVersion
	out, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize snapshot: %w", err)
	}
	out = append(out, '\n')
	return fsutil.WriteAtomic(snapshotPath(home, snap.ID), out)
}

// Load reads one snapshot by id.
func Load(home, id string) (*Snapshot, error) {
	raw, err := os.ReadFile(snapshotPath(home, id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperr.Newf(apperr.CodeUnexpected, "snapshot not found: %s", id).
			WithDetail("snapshot_id", id)
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", id, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", id, err)
	}
	if snap.SchemaVersion != snapshotSchemaVersion {
		return nil, apperr.Newf(apperr.CodeUnsupportedSnapshotVersion,
			"unsupported snapshot schema_version: %d", snap.SchemaVersion).
			WithDetail("snapshot_id", id).
			WithDetail("schema_version", snap.SchemaVersion)
	}
	return &snap, nil
}

// Latest returns the newest snapshot of one of the given kinds, or nil when
// the log is empty.
func Latest(home string, kinds ...string) (*Snapshot, error) {
	ids, err := ListIDs(home)
	if err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}

	for i := len(ids) - 1; i >= 0; i-- {
		snap, err := Load(home, ids[i])
		if err != nil {
			return nil, err
		}
		if len(want) == 0 || want[snap.Kind] {
			return snap, nil
		}
	}
	return nil, nil
}

// ManagedPathsFromSnapshot derives the managed set recorded by a snapshot,
// falling back to created/updated changes for snapshots predating the
// managed_files field.
func ManagedPathsFromSnapshot(snap *Snapshot) deploy.ManagedPaths {
	out := deploy.ManagedPaths{}
	if len(snap.ManagedFiles) > 0 {
		for _, f := range snap.ManagedFiles {
			out[deploy.TargetPath{Target: f.Target, Path: filepath.FromSlash(f.Path)}] = true
		}
		return out
	}
	for _, c := range snap.Changes {
		if c.Op == deploy.OpCreate || c.Op == deploy.OpUpdate {
			out[deploy.TargetPath{Target: c.Target, Path: filepath.FromSlash(c.Path)}] = true
		}
	}
	return out
}
