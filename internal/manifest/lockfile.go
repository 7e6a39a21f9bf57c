package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/liqiongyu/agentpack/internal/apperr"
)

// LockfileFilename is the lockfile leaf name inside a config repo.
const LockfileFilename = "agentpack.lock.json"

// LockfileSchemaVersion is the current lockfile schema.
const LockfileSchemaVersion = 1

// LockedGit pins a git source to a resolved commit.
type LockedGit struct {
	URL    string `json:"url"`
	Ref    string `json:"ref"`
	Commit string `json:"commit"`
	Subdir string `json:"subdir,omitempty"`
}

// LockedModule is the pinned resolution of one module. Paths are always
// POSIX and repo-relative.
type LockedModule struct {
	ID            string     `json:"id"`
	Kind          string     `json:"kind"`
	Path          string     `json:"path,omitempty"`
	Git           *LockedGit `json:"git,omitempty"`
	ContentSHA256 string     `json:"content_sha256,omitempty"`
}

// Lockfile is the deterministic pinned resolution of every module.
type Lockfile struct {
	SchemaVersion int            `json:"schema_version"`
	Modules       []LockedModule `json:"modules"`
}

// NewLockfile builds an empty lockfile at the current schema version.
func NewLockfile() *Lockfile {
	return &Lockfile{SchemaVersion: LockfileSchemaVersion}
}

// LoadLockfile reads the lockfile at path.
func LoadLockfile(path string) (*Lockfile, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperr.Newf(apperr.CodeLockfileMissing, "lockfile not found: %s", path).
			WithDetail("path", path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var lf Lockfile
	if err := json.Unmarshal(raw, &lf); err != nil {
		return nil, apperr.Newf(apperr.CodeLockfileInvalid, "parse %s: %v", path, err).
			WithDetail("path", path)
	}
	if lf.SchemaVersion != LockfileSchemaVersion {
		return nil, apperr.Newf(apperr.CodeLockfileInvalid,
			"unsupported lockfile schema_version: %d", lf.SchemaVersion).
			WithDetail("schema_version", lf.SchemaVersion)
	}
	return &lf, nil
}

// Save writes the lockfile canonically: modules sorted by (id, kind),
// two-space indentation, trailing newline. Repeated runs on unchanged
// inputs are bit-identical.
func (lf *Lockfile) Save(path string) error {
	sort.Slice(lf.Modules, func(i, j int) bool {
		if lf.Modules[i].ID != lf.Modules[j].ID {
			return lf.Modules[i].ID < lf.Modules[j].ID
		}
		return lf.Modules[i].Kind < lf.Modules[j].Kind
	})

	out, err := json.MarshalIndent(lf, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize lockfile: %w", err)
	}
	out = append(out, '\n')
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// FindLocked returns the locked entry for (id, kind), or nil.
func (lf *Lockfile) FindLocked(id, kind string) *LockedModule {
	for i := range lf.Modules {
		if lf.Modules[i].ID == id && lf.Modules[i].Kind == kind {
			return &lf.Modules[i]
		}
	}
	return nil
}
