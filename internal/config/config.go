// Package config provides user-level configuration for agentpack.
// Configuration is loaded from (highest to lowest priority):
// 1. Command-line flags
// 2. Environment variables (AGENTPACK_*)
// 3. Project config (.agentpack/config.yaml in the config repo)
// 4. Home config (~/.agentpack/config.yaml)
// 5. Defaults
//
// This governs tool behavior only; the declarative manifest
// (agentpack.yaml) is a separate, versioned input.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all agentpack tool configuration.
type Config struct {
	// Output controls the default output format (text, json).
	Output string `yaml:"output" json:"output"`

	// Home is the agentpack state directory (cache + snapshots).
	Home string `yaml:"home" json:"home"`

	// Machine overrides machine-id detection for machine-scoped overlays.
	Machine string `yaml:"machine" json:"machine"`

	// Verbose enables verbose logging.
	Verbose bool `yaml:"verbose" json:"verbose"`
}

const defaultOutput = "text"

// Default returns the default configuration. Home defaults to
// ~/.agentpack.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Output: defaultOutput,
		Home:   filepath.Join(homeDir, ".agentpack"),
	}
}

// Load loads configuration with proper precedence. repoDir anchors the
// project-level config file; empty means current directory.
func Load(repoDir string) (*Config, error) {
	cfg := Default()

	if homeCfg, err := loadFromPath(homeConfigPath()); err == nil && homeCfg != nil {
		merge(cfg, homeCfg)
	}
	if projCfg, err := loadFromPath(projectConfigPath(repoDir)); err == nil && projCfg != nil {
		merge(cfg, projCfg)
	}
	applyEnv(cfg)
	return cfg, nil
}

func homeConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".agentpack", "config.yaml")
}

func projectConfigPath(repoDir string) string {
	if repoDir == "" {
		repoDir = "."
	}
	return filepath.Join(repoDir, ".agentpack", "config.yaml")
}

func loadFromPath(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// merge overlays non-zero fields of src onto dst.
func merge(dst, src *Config) {
	if src.Output != "" {
		dst.Output = src.Output
	}
	if src.Home != "" {
		dst.Home = src.Home
	}
	if src.Machine != "" {
		dst.Machine = src.Machine
	}
	if src.Verbose {
		dst.Verbose = true
	}
}

// applyEnv overlays AGENTPACK_* environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("AGENTPACK_OUTPUT"); v != "" {
		cfg.Output = v
	}
	if v := os.Getenv("AGENTPACK_HOME"); v != "" {
		cfg.Home = v
	}
	if v := os.Getenv("AGENTPACK_MACHINE_ID"); v != "" {
		cfg.Machine = v
	}
	if v := os.Getenv("AGENTPACK_VERBOSE"); v == "1" || v == "true" {
		cfg.Verbose = true
	}
}
