package target

import (
	"strings"

	"github.com/liqiongyu/agentpack/internal/markers"
)

// moduleDocument concatenates a module's markdown files (sorted order) into
// its contribution to an aggregated output.
func moduleDocument(m *Module) ([]byte, error) {
	var parts []string
	for _, rel := range m.Files {
		if !strings.HasSuffix(rel, ".md") {
			continue
		}
		data, err := m.ReadFile(rel)
		if err != nil {
			return nil, err
		}
		parts = append(parts, string(data))
	}
	return []byte(strings.Join(parts, "\n")), nil
}

// aggregateModules renders modules into one delimited document, one marker
// section per module, in module order.
func aggregateModules(modules []*Module) ([]byte, []string, error) {
	var sections []string
	var contributors []string
	for _, m := range modules {
		doc, err := moduleDocument(m)
		if err != nil {
			return nil, nil, err
		}
		if len(doc) == 0 {
			continue
		}
		sections = append(sections, markers.FormatSection(m.Def.ID, string(doc)))
		contributors = append(contributors, m.Def.ID)
	}
	if len(sections) == 0 {
		return nil, nil, nil
	}
	return []byte(strings.Join(sections, "\n\n") + "\n"), contributors, nil
}
