package target

import (
	"sort"
	"strings"
)

// TargetRoot records where a target materializes on disk and whether drift
// analysis hunts for extra files beneath it.
type TargetRoot struct {
	Target     string `json:"target"`
	Root       string `json:"root"`
	ScanExtras bool   `json:"scan_extras"`
}

// DedupRoots sorts roots by (target, root) and removes duplicates. A
// scanning root wins over a non-scanning duplicate.
func DedupRoots(roots []TargetRoot) []TargetRoot {
	sort.Slice(roots, func(i, j int) bool {
		if roots[i].Target != roots[j].Target {
			return roots[i].Target < roots[j].Target
		}
		if roots[i].Root != roots[j].Root {
			return roots[i].Root < roots[j].Root
		}
		return roots[i].ScanExtras && !roots[j].ScanExtras
	})

	out := roots[:0]
	for _, r := range roots {
		if len(out) > 0 && out[len(out)-1].Target == r.Target && out[len(out)-1].Root == r.Root {
			continue
		}
		out = append(out, r)
	}
	return out
}

// BestRootFor returns the deepest root of the given target containing path,
// or nil.
func BestRootFor(roots []TargetRoot, targetName, path string) *TargetRoot {
	var best *TargetRoot
	bestDepth := -1
	for i := range roots {
		r := &roots[i]
		if r.Target != targetName || !pathUnder(r.Root, path) {
			continue
		}
		depth := strings.Count(r.Root, "/") + strings.Count(r.Root, `\`)
		if depth > bestDepth {
			best = r
			bestDepth = depth
		}
	}
	return best
}

func pathUnder(root, path string) bool {
	if path == root {
		return true
	}
	if !strings.HasPrefix(path, root) {
		return false
	}
	rest := path[len(root):]
	return strings.HasPrefix(rest, "/") || strings.HasPrefix(rest, "\\")
}
