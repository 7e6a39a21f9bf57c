package engine

import (
	"sort"
	"strings"
)

// OrderedNextActions sorts opaque next-action command strings by workflow
// priority, then lexically. Earlier actions unblock later ones.
func OrderedNextActions(actions map[string]bool) []string {
	out := make([]string, 0, len(actions))
	for a := range actions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := nextActionPriority(out[i]), nextActionPriority(out[j])
		if pi != pj {
			return pi < pj
		}
		return out[i] < out[j]
	})
	return out
}

func nextActionPriority(action string) int {
	sub, ok := nextActionSubcommand(action)
	if !ok {
		return 100
	}
	switch sub {
	case "bootstrap":
		return 0
	case "doctor":
		return 10
	case "lock":
		return 20
	case "preview":
		return 30
	case "diff":
		return 40
	case "plan":
		return 50
	case "deploy":
		return 60
	case "status":
		return 70
	case "evolve":
		if strings.Contains(action, " propose") {
			return 80
		}
		return 81
	case "rollback":
		return 90
	default:
		return 100
	}
}

// nextActionSubcommand extracts the subcommand token, skipping the program
// name and global flags with their values.
func nextActionSubcommand(action string) (string, bool) {
	fields := strings.Fields(action)
	if len(fields) < 2 {
		return "", false
	}
	flagsWithValue := map[string]bool{
		"--repo": true, "--profile": true, "--target": true, "--machine": true,
	}
	i := 1
	for i < len(fields) {
		tok := fields[i]
		if !strings.HasPrefix(tok, "--") {
			return tok, true
		}
		if flagsWithValue[tok] {
			i++
		}
		i++
	}
	return "", false
}
