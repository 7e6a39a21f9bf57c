// Package manifest loads and validates the declarative config repo manifest
// (agentpack.yaml) and the pinned lockfile (agentpack.lock.json). The
// manifest is read-only input during a run; the lockfile writer is
// canonical so byte-equality implies semantic equality.
package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/liqiongyu/agentpack/internal/apperr"
)

// SchemaVersion is the only manifest schema this build understands.
const SchemaVersion = 1

// ManifestFilename is the manifest leaf name inside a config repo.
const ManifestFilename = "agentpack.yaml"

// GitSource pins a module to a git repository.
type GitSource struct {
	URL     string `yaml:"url" json:"url"`
	Ref     string `yaml:"ref" json:"ref"`
	Subdir  string `yaml:"subdir,omitempty" json:"subdir,omitempty"`
	Shallow bool   `yaml:"shallow,omitempty" json:"shallow,omitempty"`
}

// Source locates a module's upstream bytes. Exactly one of Path or Git is
// set.
type Source struct {
	// Path is a config-repo-relative POSIX path.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	// Git references an external repository.
	Git *GitSource `yaml:"git,omitempty" json:"git,omitempty"`
}

// Module is one logical unit of deployable content.
type Module struct {
	ID       string            `yaml:"id" json:"id"`
	Kind     string            `yaml:"kind" json:"kind"`
	Enabled  *bool             `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Tags     []string          `yaml:"tags,omitempty" json:"tags,omitempty"`
	Targets  []string          `yaml:"targets,omitempty" json:"targets,omitempty"`
	Source   Source            `yaml:"source" json:"source"`
	Metadata map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// IsEnabled reports the effective enabled state (default true).
func (m *Module) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// AllowsTarget reports whether the module's target allow-list admits target.
// An empty list admits every target.
func (m *Module) AllowsTarget(target string) bool {
	if len(m.Targets) == 0 {
		return true
	}
	for _, t := range m.Targets {
		if t == target {
			return true
		}
	}
	return false
}

// Profile selects a subset of modules.
type Profile struct {
	IncludeTags []string `yaml:"include_tags,omitempty" json:"include_tags,omitempty"`
	Include     []string `yaml:"include,omitempty" json:"include,omitempty"`
	Exclude     []string `yaml:"exclude,omitempty" json:"exclude,omitempty"`
}

// TargetConfig configures a named target adapter.
type TargetConfig struct {
	Mode    string         `yaml:"mode,omitempty" json:"mode,omitempty"`
	Scope   string         `yaml:"scope,omitempty" json:"scope,omitempty"`
	Options map[string]any `yaml:"options,omitempty" json:"options,omitempty"`
}

// Manifest is the parsed agentpack.yaml.
type Manifest struct {
	SchemaVersion int                     `yaml:"schema_version" json:"schema_version"`
	Profiles      map[string]Profile      `yaml:"profiles,omitempty" json:"profiles,omitempty"`
	Targets       map[string]TargetConfig `yaml:"targets,omitempty" json:"targets,omitempty"`
	Modules       []Module                `yaml:"modules" json:"modules"`

	// GitAllowlist restricts the remotes git sources may reference. Empty
	// means unrestricted.
	GitAllowlist []string `yaml:"git_allowlist,omitempty" json:"git_allowlist,omitempty"`
}

// Load reads and validates the manifest at path.
func Load(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperr.Newf(apperr.CodeConfigMissing, "manifest not found: %s", path).
			WithDetail("path", path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, apperr.Newf(apperr.CodeConfigInvalid, "parse %s: %v", path, err).
			WithDetail("path", path)
	}
	if m.SchemaVersion != SchemaVersion {
		return nil, apperr.Newf(apperr.CodeConfigUnsupportedVersion,
			"unsupported manifest schema_version: %d", m.SchemaVersion).
			WithDetail("schema_version", m.SchemaVersion).
			WithDetail("supported", SchemaVersion)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	m.ensureDefaultProfile()
	return &m, nil
}

// Save writes the manifest in canonical YAML form.
func (m *Manifest) Save(path string) error {
	out, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("serialize manifest: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func (m *Manifest) validate() error {
	seen := make(map[[2]string]bool, len(m.Modules))
	for i := range m.Modules {
		mod := &m.Modules[i]
		if mod.ID == "" {
			return apperr.Newf(apperr.CodeConfigInvalid, "module %d: missing id", i)
		}
		if mod.Kind == "" {
			return apperr.Newf(apperr.CodeConfigInvalid, "module %s: missing kind", mod.ID)
		}
		key := [2]string{mod.ID, mod.Kind}
		if seen[key] {
			return apperr.Newf(apperr.CodeConfigInvalid,
				"duplicate module declaration: id=%s kind=%s", mod.ID, mod.Kind).
				WithDetail("id", mod.ID).
				WithDetail("kind", mod.Kind)
		}
		seen[key] = true

		hasPath := mod.Source.Path != ""
		hasGit := mod.Source.Git != nil
		if hasPath == hasGit {
			return apperr.Newf(apperr.CodeConfigInvalid,
				"module %s: source must set exactly one of path or git", mod.ID).
				WithDetail("id", mod.ID)
		}
		if hasGit && (mod.Source.Git.URL == "" || mod.Source.Git.Ref == "") {
			return apperr.Newf(apperr.CodeConfigInvalid,
				"module %s: git source requires url and ref", mod.ID).
				WithDetail("id", mod.ID)
		}
	}
	return nil
}

// ensureDefaultProfile guarantees profile "default" exists. An empty
// profile selects every enabled module.
func (m *Manifest) ensureDefaultProfile() {
	if m.Profiles == nil {
		m.Profiles = make(map[string]Profile)
	}
	if _, ok := m.Profiles["default"]; !ok {
		m.Profiles["default"] = Profile{}
	}
}

// SelectModules returns the modules selected by profile, in manifest order.
func (m *Manifest) SelectModules(profile string) ([]*Module, error) {
	p, ok := m.Profiles[profile]
	if !ok {
		names := m.ProfileNames()
		return nil, apperr.Newf(apperr.CodeConfigInvalid, "unknown profile: %s", profile).
			WithDetail("profile", profile).
			WithDetail("known_profiles", names)
	}

	include := make(map[string]bool, len(p.Include))
	for _, id := range p.Include {
		include[id] = true
	}
	exclude := make(map[string]bool, len(p.Exclude))
	for _, id := range p.Exclude {
		exclude[id] = true
	}
	tags := make(map[string]bool, len(p.IncludeTags))
	for _, t := range p.IncludeTags {
		tags[t] = true
	}

	var out []*Module
	for i := range m.Modules {
		mod := &m.Modules[i]
		if !mod.IsEnabled() || exclude[mod.ID] {
			continue
		}
		selected := len(include) == 0 && len(tags) == 0
		if include[mod.ID] {
			selected = true
		}
		for _, t := range mod.Tags {
			if tags[t] {
				selected = true
				break
			}
		}
		if selected {
			out = append(out, mod)
		}
	}
	return out, nil
}

// ProfileNames returns the declared profile names, sorted.
func (m *Manifest) ProfileNames() []string {
	names := make([]string, 0, len(m.Profiles))
	for name := range m.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TargetNames returns the configured target names, sorted.
func (m *Manifest) TargetNames() []string {
	names := make([]string, 0, len(m.Targets))
	for name := range m.Targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FindModule returns the module with the given id, or nil.
func (m *Manifest) FindModule(id string) *Module {
	for i := range m.Modules {
		if m.Modules[i].ID == id {
			return &m.Modules[i]
		}
	}
	return nil
}
