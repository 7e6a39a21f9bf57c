package target

import (
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/liqiongyu/agentpack/internal/apperr"
)

// SkillFrontMatter is the required metadata block of a skill module's
// SKILL.md.
type SkillFrontMatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// skillEntryFile is the file carrying a skill module's front-matter.
const skillEntryFile = "SKILL.md"

// parseSkillFrontMatter extracts and validates the YAML front-matter of a
// skill entry file. sourceHint names the offending file in errors.
func parseSkillFrontMatter(data []byte, sourceHint string) (*SkillFrontMatter, error) {
	text := string(data)
	if !strings.HasPrefix(text, "---\n") {
		return nil, apperr.Newf(apperr.CodeConfigInvalid,
			"skill front-matter missing in %s", sourceHint).
			WithDetail("path", sourceHint).
			WithDetail("hint", "SKILL.md must start with a YAML front-matter block")
	}
	rest := text[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return nil, apperr.Newf(apperr.CodeConfigInvalid,
			"skill front-matter unterminated in %s", sourceHint).
			WithDetail("path", sourceHint)
	}

	var fm SkillFrontMatter
	if err := yaml.Unmarshal([]byte(rest[:end+1]), &fm); err != nil {
		return nil, apperr.Newf(apperr.CodeConfigInvalid,
			"skill front-matter invalid in %s: %v", sourceHint, err).
			WithDetail("path", sourceHint)
	}
	if fm.Name == "" || fm.Description == "" {
		return nil, apperr.Newf(apperr.CodeConfigInvalid,
			"skill front-matter requires name and description in %s", sourceHint).
			WithDetail("path", sourceHint).
			WithDetail("name", fm.Name).
			WithDetail("description", fm.Description)
	}
	return &fm, nil
}

// skillFrontMatter loads and validates the front-matter of a skill module.
func skillFrontMatter(m *Module) (*SkillFrontMatter, error) {
	hasEntry := false
	for _, f := range m.Files {
		if f == skillEntryFile {
			hasEntry = true
			break
		}
	}
	sourceHint := m.Def.ID + "/" + skillEntryFile
	if !hasEntry {
		return nil, apperr.Newf(apperr.CodeConfigInvalid,
			"skill module %s is missing %s", m.Def.ID, skillEntryFile).
			WithDetail("module_id", m.Def.ID).
			WithDetail("path", sourceHint)
	}
	data, err := m.ReadFile(skillEntryFile)
	if err != nil {
		return nil, err
	}
	return parseSkillFrontMatter(data, sourceHint)
}
