package target

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/liqiongyu/agentpack/internal/deploy"
	"github.com/liqiongyu/agentpack/internal/fsutil"
)

// ManifestFilename is the per-root managed-files manifest leaf name.
const ManifestFilename = ".agentpack.manifest.json"

// manifestSchemaVersion is the target manifest schema this build writes.
const manifestSchemaVersion = 1

// ManagedFile records one managed path beneath a target root. Path is
// root-relative POSIX.
type ManagedFile struct {
	Path      string   `json:"path"`
	SHA256    string   `json:"sha256"`
	ModuleIDs []string `json:"module_ids,omitempty"`
}

// Manifest is the on-disk record of files a prior apply owns beneath one
// target root.
type Manifest struct {
	SchemaVersion int           `json:"schema_version"`
	GeneratedAt   string        `json:"generated_at"`
	Tool          string        `json:"tool"`
	SnapshotID    string        `json:"snapshot_id,omitempty"`
	ManagedFiles  []ManagedFile `json:"managed_files"`
}

// errUnsupportedManifestVersion marks a forward-incompatible manifest; it
// is downgraded to a warning by LoadManagedPaths.
var errUnsupportedManifestVersion = errors.New("unsupported schema_version")

// ManifestPath returns the manifest location for a target root.
func ManifestPath(root string) string {
	return filepath.Join(root, ManifestFilename)
}

// LoadManifest reads a target manifest. Unknown schema versions return
// errUnsupportedManifestVersion wrapped with the observed version.
func LoadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if m.SchemaVersion != manifestSchemaVersion {
		return nil, fmt.Errorf("%s: %w: %d", path, errUnsupportedManifestVersion, m.SchemaVersion)
	}
	return &m, nil
}

// Save writes the manifest canonically: entries sorted by path, two-space
// indent, trailing newline.
func (m *Manifest) Save(path string) error {
	sort.Slice(m.ManagedFiles, func(i, j int) bool {
		return m.ManagedFiles[i].Path < m.ManagedFiles[j].Path
	})
	out, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize target manifest: %w", err)
	}
	out = append(out, '\n')
	return fsutil.WriteAtomic(path, out)
}

// LoadManagedPaths reads the manifests beneath roots and returns the union
// managed set. Forward-incompatible manifests are skipped with a warning;
// entries with unsafe paths are skipped with a warning rather than allowed
// to escape the root.
func LoadManagedPaths(roots []TargetRoot) (deploy.ManagedPaths, []string, error) {
	managed := deploy.ManagedPaths{}
	var warnings []string

	for _, root := range roots {
		path := ManifestPath(root.Root)
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			continue
		}

		m, err := LoadManifest(path)
		if errors.Is(err, errUnsupportedManifestVersion) {
			warnings = append(warnings,
				fmt.Sprintf("ignoring target manifest %s: %v", fsutil.ToPosix(path), err))
			continue
		}
		if err != nil {
			return nil, nil, err
		}

		for _, f := range m.ManagedFiles {
			if !fsutil.ValidPosixRelPath(f.Path) {
				warnings = append(warnings,
					fmt.Sprintf("ignoring invalid manifest entry path %q in %s", f.Path, fsutil.ToPosix(path)))
				continue
			}
			managed[deploy.TargetPath{
				Target: root.Target,
				Path:   fsutil.JoinPosix(root.Root, f.Path),
			}] = true
		}
	}
	return managed, warnings, nil
}

// ManifestsMissing reports whether any root with desired files lacks an
// on-disk manifest; the applier rewrites manifests even for no-change runs
// in that case.
func ManifestsMissing(roots []TargetRoot, desired deploy.DesiredState) bool {
	for _, root := range roots {
		hasDesired := false
		for tp := range desired {
			if tp.Target == root.Target && pathUnder(root.Root, tp.Path) {
				hasDesired = true
				break
			}
		}
		if !hasDesired {
			continue
		}
		if _, err := os.Stat(ManifestPath(root.Root)); errors.Is(err, fs.ErrNotExist) {
			return true
		}
	}
	return false
}
