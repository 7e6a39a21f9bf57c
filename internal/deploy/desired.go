// Package deploy models desired state and plans the diff against observed
// state. Desired state is computed per run and never persisted; the planner
// is a pure function of desired bytes, filesystem bytes, and the
// managed-paths set.
package deploy

import (
	"sort"

	"github.com/liqiongyu/agentpack/internal/apperr"
	"github.com/liqiongyu/agentpack/internal/fsutil"
	"github.com/liqiongyu/agentpack/internal/ids"
)

// TargetPath keys a desired file: a target name plus the absolute native
// destination path. Ordering is lexical by (target, path).
type TargetPath struct {
	Target string
	Path   string
}

// Less reports lexical (target, path) ordering.
func (tp TargetPath) Less(other TargetPath) bool {
	if tp.Target != other.Target {
		return tp.Target < other.Target
	}
	return tp.Path < other.Path
}

// DesiredFile is the content projected for one TargetPath plus the modules
// that contributed it.
type DesiredFile struct {
	Bytes     []byte
	ModuleIDs []string
}

// DesiredState maps TargetPath to its projected content.
type DesiredState map[TargetPath]*DesiredFile

// ManagedPaths is the set of paths recorded as owned by a prior apply.
type ManagedPaths map[TargetPath]bool

// Insert adds a desired file under the merge law: byte-equal re-inserts
// merge contributor sets; byte-unequal re-inserts fail with
// E_DESIRED_STATE_CONFLICT carrying both hashes and contributor sets.
func (ds DesiredState) Insert(target, path string, data []byte, moduleIDs []string) error {
	key := TargetPath{Target: target, Path: path}

	existing, ok := ds[key]
	if !ok {
		ds[key] = &DesiredFile{Bytes: data, ModuleIDs: sortedUnique(moduleIDs)}
		return nil
	}

	if string(existing.Bytes) == string(data) {
		existing.ModuleIDs = sortedUnique(append(existing.ModuleIDs, moduleIDs...))
		return nil
	}

	return apperr.Newf(apperr.CodeDesiredStateConflict,
		"conflicting desired outputs for %s:%s", target, path).
		WithDetails(map[string]any{
			"target": target,
			"path":   fsutil.ToPosix(path),
			"existing": map[string]any{
				"sha256":     ids.SHA256Hex(existing.Bytes),
				"module_ids": existing.ModuleIDs,
			},
			"new": map[string]any{
				"sha256":     ids.SHA256Hex(data),
				"module_ids": sortedUnique(moduleIDs),
			},
		})
}

// SortedPaths returns the keys in (target, path) order.
func (ds DesiredState) SortedPaths() []TargetPath {
	out := make([]TargetPath, 0, len(ds))
	for tp := range ds {
		out = append(out, tp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func sortedUnique(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
