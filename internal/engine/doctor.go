package engine

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/liqiongyu/agentpack/internal/fsutil"
	"github.com/liqiongyu/agentpack/internal/ids"
	"github.com/liqiongyu/agentpack/internal/overlay"
	"github.com/liqiongyu/agentpack/internal/store"
)

// DoctorCheck is one doctor finding.
type DoctorCheck struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// DoctorReport is the environment and layout health summary.
type DoctorReport struct {
	Checks      []DoctorCheck `json:"checks"`
	Warnings    []string      `json:"warnings"`
	NextActions []string      `json:"next_actions"`
}

// Doctor inspects the environment and config repo layout for conditions
// that will bite later: missing git, unlocked git sources, legacy overlay
// directories shadowed by keyed ones, and mixed-kind overlays.
func (e *Engine) Doctor() *DoctorReport {
	report := &DoctorReport{Warnings: []string{}, NextActions: []string{}}
	actions := map[string]bool{}

	if _, err := exec.LookPath("git"); err != nil {
		report.Checks = append(report.Checks, DoctorCheck{
			Name: "git_binary", Status: "warn", Detail: "git not found on PATH; git-sourced modules will fail",
		})
	} else {
		report.Checks = append(report.Checks, DoctorCheck{Name: "git_binary", Status: "ok"})
	}

	hasGitModules := false
	for i := range e.Manifest.Modules {
		if e.Manifest.Modules[i].Source.Git != nil {
			hasGitModules = true
			break
		}
	}
	switch {
	case hasGitModules && e.Lockfile == nil:
		report.Checks = append(report.Checks, DoctorCheck{
			Name: "lockfile", Status: "warn", Detail: "git-sourced modules present but no lockfile",
		})
		actions["agentpack lock"] = true
	case e.Lockfile == nil:
		report.Checks = append(report.Checks, DoctorCheck{Name: "lockfile", Status: "ok", Detail: "not needed"})
	default:
		report.Checks = append(report.Checks, DoctorCheck{Name: "lockfile", Status: "ok"})
	}

	e.doctorOverlays(report, actions)

	if store.IsGitRepo(e.RepoDir) {
		if err := store.RequireCleanWorktree(e.RepoDir); err != nil {
			report.Checks = append(report.Checks, DoctorCheck{
				Name: "config_repo_worktree", Status: "warn", Detail: err.Error(),
			})
		} else {
			report.Checks = append(report.Checks, DoctorCheck{Name: "config_repo_worktree", Status: "ok"})
		}
	}

	report.NextActions = OrderedNextActions(actions)
	return report
}

// doctorOverlays flags legacy overlay directories that coexist with keyed
// ones and overlay directories mixing override files with patch artifacts.
func (e *Engine) doctorOverlays(report *DoctorReport, actions map[string]bool) {
	for i := range e.Manifest.Modules {
		mod := &e.Manifest.Modules[i]
		key := ids.ModuleFSKey(mod.ID)
		keyed := filepath.Join(e.RepoDir, "overlays", key)
		sanitized := ids.SanitizeFSComponent(mod.ID)

		if sanitized != key && ids.IsSafeLegacyPathComponent(sanitized) {
			legacy := filepath.Join(e.RepoDir, "overlays", sanitized)
			if dirExists(legacy) && dirExists(keyed) {
				report.Warnings = append(report.Warnings, fmt.Sprintf(
					"module %s has both a legacy overlay dir (%s) and a keyed one (%s); the legacy dir is ignored",
					mod.ID, fsutil.RelPosix(e.RepoDir, legacy), fsutil.RelPosix(e.RepoDir, keyed)))
			}
		}

		for _, layer := range e.OverlayLayers(mod.ID) {
			if !dirExists(layer.Dir) {
				continue
			}
			overrides, err := overlay.OverrideFiles(layer.Dir)
			if err != nil {
				continue
			}
			patches, err := overlay.ListPatchFiles(layer.Dir)
			if err != nil {
				continue
			}
			if len(overrides) > 0 && len(patches) > 0 {
				report.Warnings = append(report.Warnings, fmt.Sprintf(
					"module %s (%s overlay) mixes directory overrides and patch artifacts",
					mod.ID, layer.Scope))
				actions["agentpack doctor"] = true
			}
		}
	}
}

func dirExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
