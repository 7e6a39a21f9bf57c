// Package markers implements the delimited module sections used by
// aggregated target outputs (a single file assembled from several modules).
// The grammar is deliberately rigid so round-tripping is unambiguous.
package markers

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// SectionStartPrefix opens a module section; the module id and a
	// closing "-->" follow on the same line.
	SectionStartPrefix = "<!-- agentpack:module="

	// SectionEndMarker closes the current module section.
	SectionEndMarker = "<!-- /agentpack -->"
)

// FormatSection wraps content in start/end markers for moduleID, ensuring
// the body ends with a newline.
func FormatSection(moduleID, content string) string {
	var b strings.Builder
	b.WriteString(SectionStartPrefix)
	b.WriteString(moduleID)
	b.WriteString(" -->\n")
	b.WriteString(content)
	if !strings.HasSuffix(content, "\n") {
		b.WriteByte('\n')
	}
	b.WriteString(SectionEndMarker)
	return b.String()
}

// parseStartMarker returns the module id when line is a well-formed start
// marker, or "" otherwise.
func parseStartMarker(line string) string {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, SectionStartPrefix) || !strings.HasSuffix(trimmed, "-->") {
		return ""
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(trimmed, SectionStartPrefix), "-->")
	return strings.TrimSpace(raw)
}

// ParseSections extracts module sections from text. Nested markers,
// unterminated sections, and duplicate module ids are errors. Text outside
// sections is ignored.
func ParseSections(text string) (map[string]string, error) {
	sections := make(map[string]string)
	var (
		currentID  string
		currentBuf strings.Builder
		inSection  bool
	)

	for _, line := range splitInclusive(text) {
		if inSection {
			if strings.TrimSpace(line) == SectionEndMarker {
				if _, dup := sections[currentID]; dup {
					return nil, fmt.Errorf("duplicate module section: %s", currentID)
				}
				sections[currentID] = currentBuf.String()
				currentBuf.Reset()
				inSection = false
				continue
			}
			if parseStartMarker(line) != "" {
				return nil, fmt.Errorf("nested module section marker")
			}
			currentBuf.WriteString(line)
			continue
		}

		if id := parseStartMarker(line); id != "" {
			currentID = id
			inSection = true
		}
	}

	if inSection {
		return nil, fmt.Errorf("unterminated module section for %s", currentID)
	}
	return sections, nil
}

// ParseSectionsBytes decodes bytes as UTF-8 and parses module sections.
func ParseSectionsBytes(data []byte) (map[string]string, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("decode as utf-8: invalid byte sequence")
	}
	return ParseSections(string(data))
}

// splitInclusive splits text into lines, each retaining its trailing
// newline, matching byte-exact reassembly.
func splitInclusive(text string) []string {
	var out []string
	for len(text) > 0 {
		idx := strings.IndexByte(text, '\n')
		if idx < 0 {
			out = append(out, text)
			break
		}
		out = append(out, text[:idx+1])
		text = text[idx+1:]
	}
	return out
}
