package target

import (
	"path/filepath"

	"github.com/liqiongyu/agentpack/internal/deploy"
	"github.com/liqiongyu/agentpack/internal/manifest"
)

// codexAdapter materializes instructions into an aggregated AGENTS.md and
// prompt/command modules into a prompts directory beneath the codex home.
type codexAdapter struct{}

func (codexAdapter) ID() string { return "codex" }

func (a codexAdapter) Render(env Env, cfg manifest.TargetConfig, modules []*Module, desired deploy.DesiredState, warnings *[]string, roots *[]TargetRoot) error {
	if err := checkOptions(a.ID(), cfg, "root"); err != nil {
		return err
	}
	root := filepath.Join(env.UserHome, ".codex")
	if v, ok := optionString(cfg, "root"); ok {
		root = v
	}

	instructions := modulesOfKind(modules, "instructions")
	agg, contributors, err := aggregateModules(instructions)
	if err != nil {
		return err
	}
	if agg != nil {
		if err := desired.Insert(a.ID(), filepath.Join(root, "AGENTS.md"), agg, contributors); err != nil {
			return err
		}
	}

	promptsRendered := false
	for _, m := range modulesOfKind(modules, "prompt", "command") {
		for _, rel := range m.Files {
			data, err := m.ReadFile(rel)
			if err != nil {
				return err
			}
			dest := filepath.Join(root, "prompts", filepath.FromSlash(rel))
			if err := desired.Insert(a.ID(), dest, data, []string{m.Def.ID}); err != nil {
				return err
			}
			promptsRendered = true
		}
	}

	*roots = append(*roots, TargetRoot{Target: a.ID(), Root: root, ScanExtras: false})
	if promptsRendered {
		*roots = append(*roots, TargetRoot{Target: a.ID(), Root: filepath.Join(root, "prompts"), ScanExtras: true})
	}
	return nil
}
