package deploy

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/liqiongyu/agentpack/internal/fsutil"
	"github.com/liqiongyu/agentpack/internal/ids"
)

// Op is a planned change kind.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// UpdateKind distinguishes updates to files already under management from
// updates that would overwrite unmanaged files.
type UpdateKind string

const (
	// ManagedUpdate rewrites a file a prior apply recorded as owned.
	ManagedUpdate UpdateKind = "managed_update"

	// AdoptUpdate overwrites a file no loaded manifest lists as managed.
	// The applier refuses these without an explicit adopt signal.
	AdoptUpdate UpdateKind = "adopt_update"
)

// Change is one planned file operation. Path is serialized POSIX-style.
type Change struct {
	Target       string     `json:"target"`
	Op           Op         `json:"op"`
	Path         string     `json:"path"`
	BeforeSHA256 string     `json:"before_sha256,omitempty"`
	AfterSHA256  string     `json:"after_sha256,omitempty"`
	Reason       string     `json:"reason"`
	UpdateKind   UpdateKind `json:"update_kind,omitempty"`
}

// Summary counts planned operations by kind.
type Summary struct {
	Create int `json:"create"`
	Update int `json:"update"`
	Delete int `json:"delete"`
}

// PlanResult is the ordered diff between desired and observed state.
type PlanResult struct {
	Changes []Change `json:"changes"`
	Summary Summary  `json:"summary"`
}

// HasAdoptUpdates reports whether any change would overwrite an unmanaged
// file.
func (p *PlanResult) HasAdoptUpdates() bool {
	for _, c := range p.Changes {
		if c.UpdateKind == AdoptUpdate {
			return true
		}
	}
	return false
}

// AdoptSamplePaths returns up to limit sorted paths of adopt-updates, for
// error details.
func (p *PlanResult) AdoptSamplePaths(limit int) []string {
	var out []string
	for _, c := range p.Changes {
		if c.UpdateKind == AdoptUpdate {
			out = append(out, c.Path)
		}
	}
	sort.Strings(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Plan compares desired bytes against filesystem bytes and the managed set.
// Changes come out sorted by (target, path); the delete set is derived from
// managed paths no longer desired that still exist on disk. A nil managed
// set means no management information was loadable: existing destinations
// are then adopt-updates.
func Plan(desired DesiredState, managed ManagedPaths) (*PlanResult, error) {
	var changes []Change

	for _, tp := range desired.SortedPaths() {
		df := desired[tp]
		afterSHA := ids.SHA256Hex(df.Bytes)

		existing, err := os.ReadFile(tp.Path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			changes = append(changes, Change{
				Target:      tp.Target,
				Op:          OpCreate,
				Path:        fsutil.ToPosix(tp.Path),
				AfterSHA256: afterSHA,
				Reason:      "file missing",
			})
		case err != nil:
			return nil, fmt.Errorf("read %s: %w", tp.Path, err)
		default:
			beforeSHA := ids.SHA256Hex(existing)
			if beforeSHA == afterSHA {
				continue
			}
			kind := ManagedUpdate
			if !managed[tp] {
				kind = AdoptUpdate
			}
			changes = append(changes, Change{
				Target:       tp.Target,
				Op:           OpUpdate,
				Path:         fsutil.ToPosix(tp.Path),
				BeforeSHA256: beforeSHA,
				AfterSHA256:  afterSHA,
				Reason:       "content differs",
				UpdateKind:   kind,
			})
		}
	}

	managedKeys := make([]TargetPath, 0, len(managed))
	for tp := range managed {
		managedKeys = append(managedKeys, tp)
	}
	sort.Slice(managedKeys, func(i, j int) bool { return managedKeys[i].Less(managedKeys[j]) })

	for _, tp := range managedKeys {
		if _, stillDesired := desired[tp]; stillDesired {
			continue
		}
		existing, err := os.ReadFile(tp.Path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", tp.Path, err)
		}
		changes = append(changes, Change{
			Target:       tp.Target,
			Op:           OpDelete,
			Path:         fsutil.ToPosix(tp.Path),
			BeforeSHA256: ids.SHA256Hex(existing),
			Reason:       "no longer managed",
		})
	}

	sort.Slice(changes, func(i, j int) bool {
		if changes[i].Target != changes[j].Target {
			return changes[i].Target < changes[j].Target
		}
		return changes[i].Path < changes[j].Path
	})

	result := &PlanResult{Changes: changes}
	for _, c := range changes {
		switch c.Op {
		case OpCreate:
			result.Summary.Create++
		case OpUpdate:
			result.Summary.Update++
		case OpDelete:
			result.Summary.Delete++
		}
	}
	return result, nil
}
