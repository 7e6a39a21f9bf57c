package target

import (
	"path/filepath"

	"github.com/liqiongyu/agentpack/internal/deploy"
	"github.com/liqiongyu/agentpack/internal/manifest"
)

// vscodeAdapter materializes instructions into the project's
// .github/copilot-instructions.md aggregate.
type vscodeAdapter struct{}

func (vscodeAdapter) ID() string { return "vscode" }

func (a vscodeAdapter) Render(env Env, cfg manifest.TargetConfig, modules []*Module, desired deploy.DesiredState, warnings *[]string, roots *[]TargetRoot) error {
	if err := checkOptions(a.ID(), cfg, "root"); err != nil {
		return err
	}
	root := filepath.Join(env.ProjectRoot, ".github")
	if v, ok := optionString(cfg, "root"); ok {
		root = v
	}

	agg, contributors, err := aggregateModules(modulesOfKind(modules, "instructions"))
	if err != nil {
		return err
	}
	if agg == nil {
		return nil
	}
	if err := desired.Insert(a.ID(), filepath.Join(root, "copilot-instructions.md"), agg, contributors); err != nil {
		return err
	}
	*roots = append(*roots, TargetRoot{Target: a.ID(), Root: root, ScanExtras: false})
	return nil
}
