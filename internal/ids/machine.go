package ids

import (
	"os"
	"strings"
)

// MachineIDEnv overrides machine detection when set.
const MachineIDEnv = "AGENTPACK_MACHINE_ID"

// DetectMachineID resolves the machine identifier: explicit env override,
// then HOSTNAME/COMPUTERNAME, then os.Hostname. Falls back to "unknown"
// rather than failing; machine scoping degrades gracefully.
func DetectMachineID() string {
	for _, env := range []string{MachineIDEnv, "HOSTNAME", "COMPUTERNAME"} {
		if val := os.Getenv(env); val != "" {
			if id := NormalizeMachineID(val); id != "" {
				return id
			}
		}
	}
	if host, err := os.Hostname(); err == nil {
		if id := NormalizeMachineID(host); id != "" {
			return id
		}
	}
	return "unknown"
}

// NormalizeMachineID lowercases s and maps it onto [a-z0-9_-], collapsing
// runs of other characters into single dashes and trimming leading and
// trailing dashes.
func NormalizeMachineID(s string) string {
	raw := strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	b.Grow(len(raw))
	lastDash := false
	for _, r := range raw {
		ok := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_'
		switch {
		case ok:
			b.WriteRune(r)
			lastDash = r == '-'
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.Trim(b.String(), "-")
}
