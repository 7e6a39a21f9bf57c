package store

import (
	"strings"

	"github.com/liqiongyu/agentpack/internal/apperr"
)

// NormalizeRemote canonicalizes a git remote URL for allow-list comparison:
// scheme and userinfo are stripped, scp-style colons become slashes, the
// .git suffix drops, and the result is lowercased.
func NormalizeRemote(url string) string {
	u := strings.TrimSuffix(strings.TrimSpace(url), ".git")
	switch {
	case strings.HasPrefix(u, "git@"):
		u = strings.Replace(strings.TrimPrefix(u, "git@"), ":", "/", 1)
	case strings.HasPrefix(u, "https://"):
		u = strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = strings.TrimPrefix(u, "http://")
	case strings.HasPrefix(u, "ssh://"):
		u = strings.TrimPrefix(u, "ssh://")
		if _, rest, found := strings.Cut(u, "@"); found {
			u = rest
		}
		u = strings.Replace(u, ":", "/", 1)
	}
	if host, rest, found := strings.Cut(u, "/"); found && strings.Contains(host, "@") {
		_, host, _ = strings.Cut(host, "@")
		u = host + "/" + rest
	}
	return strings.ToLower(strings.TrimPrefix(u, "/"))
}

// remoteMatchesEntry reports whether a normalized remote matches one
// normalized allow-list entry: exact, or prefix at a path boundary.
func remoteMatchesEntry(normalizedRemote, normalizedAllow string) bool {
	if normalizedAllow == "" {
		return false
	}
	if normalizedRemote == normalizedAllow {
		return true
	}
	if !strings.HasPrefix(normalizedRemote, normalizedAllow) {
		return false
	}
	if strings.HasSuffix(normalizedAllow, "/") {
		return true
	}
	return normalizedRemote[len(normalizedAllow)] == '/'
}

// CheckRemoteAllowed validates url against the configured allow-list. An
// empty allow-list admits everything; the policy layer decides whether that
// is acceptable.
func CheckRemoteAllowed(url string, allowlist []string) error {
	if len(allowlist) == 0 {
		return nil
	}
	normalized := NormalizeRemote(url)
	for _, allow := range allowlist {
		if remoteMatchesEntry(normalized, NormalizeRemote(allow)) {
			return nil
		}
	}
	return apperr.Newf(apperr.CodePolicyViolations,
		"git remote not in allow-list: %s", url).
		WithDetail("url", url).
		WithDetail("allowlist", allowlist)
}
