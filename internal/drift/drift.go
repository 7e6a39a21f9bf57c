// Package drift classifies differences between the computed desired state
// and what is actually on disk: modified, missing, and (for scanning roots)
// extra files. The analyzer is read-only; deletions of managed files are
// the planner's business.
package drift

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/liqiongyu/agentpack/internal/deploy"
	"github.com/liqiongyu/agentpack/internal/fsutil"
	"github.com/liqiongyu/agentpack/internal/ids"
	"github.com/liqiongyu/agentpack/internal/target"
	"github.com/liqiongyu/agentpack/internal/worker"
)

// Drift kinds.
const (
	KindModified = "modified"
	KindMissing  = "missing"
	KindExtra    = "extra"
)

// Item is one drifted file.
type Item struct {
	Kind           string   `json:"kind"`
	Target         string   `json:"target"`
	Path           string   `json:"path"`
	Root           string   `json:"root,omitempty"`
	ExpectedSHA256 string   `json:"expected_sha256,omitempty"`
	ActualSHA256   string   `json:"actual_sha256,omitempty"`
	ModuleIDs      []string `json:"module_ids,omitempty"`
}

// Summary counts drift by kind.
type Summary struct {
	Modified int `json:"modified"`
	Missing  int `json:"missing"`
	Extra    int `json:"extra"`
}

// RootSummary is the per-root breakdown.
type RootSummary struct {
	Target  string  `json:"target"`
	Root    string  `json:"root"`
	Summary Summary `json:"summary"`
}

// Report is the full drift analysis result. SummaryTotal is set only when a
// kind filter narrowed Items; it then carries the unfiltered counts.
type Report struct {
	Items        []Item        `json:"drift"`
	Summary      Summary       `json:"summary"`
	ByRoot       []RootSummary `json:"summary_by_root"`
	SummaryTotal *Summary      `json:"summary_total,omitempty"`
}

// Options tunes an analysis run.
type Options struct {
	// HashExtras computes content hashes for extra files. Read-only UIs
	// skip the hashing pass.
	HashExtras bool

	// Only restricts the report to the given kinds; empty means all.
	Only []string
}

// Analyze compares desired state against disk and scans roots for extras.
func Analyze(desired deploy.DesiredState, roots []target.TargetRoot, managed deploy.ManagedPaths, opts Options) (*Report, error) {
	var items []Item

	for _, tp := range desired.SortedPaths() {
		df := desired[tp]
		expected := ids.SHA256Hex(df.Bytes)
		root := rootPosix(roots, tp.Target, tp.Path)

		actual, exists, err := fsutil.ReadFileIfExists(tp.Path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", tp.Path, err)
		}
		if !exists {
			items = append(items, Item{
				Kind:           KindMissing,
				Target:         tp.Target,
				Path:           fsutil.ToPosix(tp.Path),
				Root:           root,
				ExpectedSHA256: expected,
				ModuleIDs:      df.ModuleIDs,
			})
			continue
		}
		actualSHA := ids.SHA256Hex(actual)
		if actualSHA != expected {
			items = append(items, Item{
				Kind:           KindModified,
				Target:         tp.Target,
				Path:           fsutil.ToPosix(tp.Path),
				Root:           root,
				ExpectedSHA256: expected,
				ActualSHA256:   actualSHA,
				ModuleIDs:      df.ModuleIDs,
			})
		}
	}

	extras, err := scanExtras(desired, roots, managed, opts.HashExtras)
	if err != nil {
		return nil, err
	}
	items = append(items, extras...)

	sort.Slice(items, func(i, j int) bool {
		if items[i].Target != items[j].Target {
			return items[i].Target < items[j].Target
		}
		return items[i].Path < items[j].Path
	})

	report := &Report{Items: items}
	report.Summary = summarize(items)
	report.ByRoot = summarizeByRoot(items)

	if len(opts.Only) > 0 {
		total := report.Summary
		keep := make(map[string]bool, len(opts.Only))
		for _, k := range opts.Only {
			keep[k] = true
		}
		var filtered []Item
		for _, it := range items {
			if keep[it.Kind] {
				filtered = append(filtered, it)
			}
		}
		report.Items = filtered
		report.Summary = summarize(filtered)
		report.ByRoot = summarizeByRoot(filtered)
		report.SummaryTotal = &total
	}
	return report, nil
}

// scanExtras walks scanning roots for files neither desired nor managed.
// Agentpack metadata and in-flight temp files are ignored. Symlinks are not
// followed; an unmanaged symlink reports as extra by its link name.
func scanExtras(desired deploy.DesiredState, roots []target.TargetRoot, managed deploy.ManagedPaths, hash bool) ([]Item, error) {
	var items []Item
	for _, root := range roots {
		if !root.ScanExtras {
			continue
		}

		var candidates []string
		err := filepath.WalkDir(root.Root, func(path string, d fs.DirEntry, err error) error {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			name := d.Name()
			if name == target.ManifestFilename || strings.Contains(name, fsutil.TempSuffix) {
				return nil
			}
			tp := deploy.TargetPath{Target: root.Target, Path: path}
			if _, ok := desired[tp]; ok {
				return nil
			}
			if managed[tp] {
				// Managed but no longer desired: the planner reports these
				// as deletes, not drift.
				return nil
			}
			candidates = append(candidates, path)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", root.Root, err)
		}

		hashes := make([]string, len(candidates))
		if hash {
			pool := worker.NewPool[string](0)
			for _, r := range pool.Process(candidates, func(path string) (string, error) {
				data, err := os.ReadFile(path)
				if err != nil {
					return "", err
				}
				return ids.SHA256Hex(data), nil
			}) {
				if r.Err != nil {
					return nil, fmt.Errorf("hash extra file: %w", r.Err)
				}
				hashes[r.Index] = r.Value
			}
		}

		for i, path := range candidates {
			items = append(items, Item{
				Kind:         KindExtra,
				Target:       root.Target,
				Path:         fsutil.ToPosix(path),
				Root:         fsutil.ToPosix(root.Root),
				ActualSHA256: hashes[i],
			})
		}
	}
	return items, nil
}

func rootPosix(roots []target.TargetRoot, targetName, path string) string {
	if r := target.BestRootFor(roots, targetName, path); r != nil {
		return fsutil.ToPosix(r.Root)
	}
	return ""
}

func summarize(items []Item) Summary {
	var s Summary
	for _, it := range items {
		switch it.Kind {
		case KindModified:
			s.Modified++
		case KindMissing:
			s.Missing++
		case KindExtra:
			s.Extra++
		}
	}
	return s
}

func summarizeByRoot(items []Item) []RootSummary {
	byKey := map[string]*RootSummary{}
	var order []string
	for _, it := range items {
		root := it.Root
		if root == "" {
			root = "<unknown>"
		}
		key := it.Target + "\x00" + root
		entry, ok := byKey[key]
		if !ok {
			entry = &RootSummary{Target: it.Target, Root: root}
			byKey[key] = entry
			order = append(order, key)
		}
		switch it.Kind {
		case KindModified:
			entry.Summary.Modified++
		case KindMissing:
			entry.Summary.Missing++
		case KindExtra:
			entry.Summary.Extra++
		}
	}
	sort.Strings(order)
	out := make([]RootSummary, 0, len(order))
	for _, key := range order {
		out = append(out, *byKey[key])
	}
	return out
}
