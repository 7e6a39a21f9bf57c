// Package target turns composed modules into desired files for each named
// target. Adapters form a closed set compiled into the binary, so the
// manifest's target references are validated at load time rather than at
// render time.
package target

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/liqiongyu/agentpack/internal/apperr"
	"github.com/liqiongyu/agentpack/internal/deploy"
	"github.com/liqiongyu/agentpack/internal/fsutil"
	"github.com/liqiongyu/agentpack/internal/manifest"
)

// Module is one composed module handed to adapters: the manifest definition
// plus the materialized tree on disk.
type Module struct {
	// Def is the manifest declaration.
	Def *manifest.Module

	// Root is the composed tree directory.
	Root string

	// Files lists the tree's files, relative POSIX, sorted.
	Files []string
}

// ReadFile returns the bytes of one composed file.
func (m *Module) ReadFile(rel string) ([]byte, error) {
	data, err := os.ReadFile(fsutil.JoinPosix(m.Root, rel))
	if err != nil {
		return nil, fmt.Errorf("read composed %s/%s: %w", m.Def.ID, rel, err)
	}
	return data, nil
}

// Env supplies the filesystem anchors adapters resolve default roots
// against.
type Env struct {
	// UserHome is the user's home directory (user-scoped targets).
	UserHome string

	// ProjectRoot is the current project directory (project-scoped targets).
	ProjectRoot string
}

// Adapter renders a set of composed modules into desired files and target
// roots.
type Adapter interface {
	// ID is the stable target name used in manifests.
	ID() string

	// Render inserts desired files via the insertion law and appends the
	// roots drift scanning should cover.
	Render(env Env, cfg manifest.TargetConfig, modules []*Module, desired deploy.DesiredState, warnings *[]string, roots *[]TargetRoot) error
}

// compiled is the closed adapter set.
var compiled = []Adapter{
	codexAdapter{},
	claudeCodeAdapter{},
	cursorAdapter{},
	vscodeAdapter{},
}

// CompiledTargets returns the target names built into this binary, sorted.
func CompiledTargets() []string {
	out := make([]string, len(compiled))
	for i, a := range compiled {
		out[i] = a.ID()
	}
	sort.Strings(out)
	return out
}

// ForName returns the adapter for a target name, or E_TARGET_UNSUPPORTED.
func ForName(name string) (Adapter, error) {
	for _, a := range compiled {
		if a.ID() == name {
			return a, nil
		}
	}
	return nil, apperr.Newf(apperr.CodeTargetUnsupported, "unsupported target: %s", name).
		WithDetail("target", name).
		WithDetail("supported", CompiledTargets())
}

// AllowedTargetFilters returns the valid --target values.
func AllowedTargetFilters() []string {
	return append([]string{"all"}, CompiledTargets()...)
}

// IsCompiledTarget reports whether name is a known target.
func IsCompiledTarget(name string) bool {
	_, err := ForName(name)
	return err == nil
}

// optionString reads a string option, enforcing the adapter's allowed key
// set has already been checked.
func optionString(cfg manifest.TargetConfig, key string) (string, bool) {
	if cfg.Options == nil {
		return "", false
	}
	v, ok := cfg.Options[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// checkOptions rejects unknown option keys for a target block.
func checkOptions(targetID string, cfg manifest.TargetConfig, allowed ...string) error {
	ok := make(map[string]bool, len(allowed))
	for _, k := range allowed {
		ok[k] = true
	}
	var unknown []string
	for k := range cfg.Options {
		if !ok[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return apperr.Newf(apperr.CodeConfigInvalid,
		"unknown options for target %s: %s", targetID, strings.Join(unknown, ", ")).
		WithDetail("target", targetID).
		WithDetail("unknown_options", unknown).
		WithDetail("allowed_options", allowed)
}

// modulesOfKind filters modules by kind, preserving order.
func modulesOfKind(modules []*Module, kinds ...string) []*Module {
	want := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	var out []*Module
	for _, m := range modules {
		if want[m.Def.Kind] {
			out = append(out, m)
		}
	}
	return out
}
