package target

import (
	"path/filepath"

	"github.com/liqiongyu/agentpack/internal/deploy"
	"github.com/liqiongyu/agentpack/internal/manifest"
)

// claudeCodeAdapter materializes instructions into CLAUDE.md, command
// modules into commands/, and skill modules into skills/<name>/ beneath the
// claude home. Skills must carry valid front-matter.
type claudeCodeAdapter struct{}

func (claudeCodeAdapter) ID() string { return "claude_code" }

func (a claudeCodeAdapter) Render(env Env, cfg manifest.TargetConfig, modules []*Module, desired deploy.DesiredState, warnings *[]string, roots *[]TargetRoot) error {
	if err := checkOptions(a.ID(), cfg, "root"); err != nil {
		return err
	}
	root := filepath.Join(env.UserHome, ".claude")
	if v, ok := optionString(cfg, "root"); ok {
		root = v
	}

	instructions := modulesOfKind(modules, "instructions")
	agg, contributors, err := aggregateModules(instructions)
	if err != nil {
		return err
	}
	if agg != nil {
		if err := desired.Insert(a.ID(), filepath.Join(root, "CLAUDE.md"), agg, contributors); err != nil {
			return err
		}
	}

	commandsRendered := false
	for _, m := range modulesOfKind(modules, "command", "prompt") {
		for _, rel := range m.Files {
			data, err := m.ReadFile(rel)
			if err != nil {
				return err
			}
			dest := filepath.Join(root, "commands", filepath.FromSlash(rel))
			if err := desired.Insert(a.ID(), dest, data, []string{m.Def.ID}); err != nil {
				return err
			}
			commandsRendered = true
		}
	}

	skillsRendered := false
	for _, m := range modulesOfKind(modules, "skill") {
		fm, err := skillFrontMatter(m)
		if err != nil {
			return err
		}
		for _, rel := range m.Files {
			data, err := m.ReadFile(rel)
			if err != nil {
				return err
			}
			dest := filepath.Join(root, "skills", fm.Name, filepath.FromSlash(rel))
			if err := desired.Insert(a.ID(), dest, data, []string{m.Def.ID}); err != nil {
				return err
			}
			skillsRendered = true
		}
	}

	*roots = append(*roots, TargetRoot{Target: a.ID(), Root: root, ScanExtras: false})
	if commandsRendered {
		*roots = append(*roots, TargetRoot{Target: a.ID(), Root: filepath.Join(root, "commands"), ScanExtras: true})
	}
	if skillsRendered {
		*roots = append(*roots, TargetRoot{Target: a.ID(), Root: filepath.Join(root, "skills"), ScanExtras: true})
	}
	return nil
}
