package target

import (
	"path/filepath"

	"github.com/liqiongyu/agentpack/internal/deploy"
	"github.com/liqiongyu/agentpack/internal/ids"
	"github.com/liqiongyu/agentpack/internal/manifest"
)

// cursorAdapter materializes instructions and prompt modules as one .mdc
// rule file per module under the project's .cursor/rules directory.
type cursorAdapter struct{}

func (cursorAdapter) ID() string { return "cursor" }

func (a cursorAdapter) Render(env Env, cfg manifest.TargetConfig, modules []*Module, desired deploy.DesiredState, warnings *[]string, roots *[]TargetRoot) error {
	if err := checkOptions(a.ID(), cfg, "root"); err != nil {
		return err
	}
	root := filepath.Join(env.ProjectRoot, ".cursor", "rules")
	if v, ok := optionString(cfg, "root"); ok {
		root = v
	}

	rendered := false
	for _, m := range modulesOfKind(modules, "instructions", "prompt") {
		doc, err := moduleDocument(m)
		if err != nil {
			return err
		}
		if len(doc) == 0 {
			continue
		}
		dest := filepath.Join(root, ids.SanitizeFSComponent(m.Def.ID)+".mdc")
		if err := desired.Insert(a.ID(), dest, doc, []string{m.Def.ID}); err != nil {
			return err
		}
		rendered = true
	}

	if rendered {
		*roots = append(*roots, TargetRoot{Target: a.ID(), Root: root, ScanExtras: true})
	}
	return nil
}
