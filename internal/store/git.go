package store

import (
	"os/exec"
	"strings"

	"github.com/liqiongyu/agentpack/internal/apperr"
)

// IsGitRepo reports whether dir is inside a git worktree.
func IsGitRepo(dir string) bool {
	cmd := exec.Command("git", "rev-parse", "--git-dir")
	cmd.Dir = dir
	return cmd.Run() == nil
}

// RequireCleanWorktree refuses mutating operations on a dirty worktree or
// detached HEAD. dir must already be a git repository.
func RequireCleanWorktree(dir string) error {
	status := exec.Command("git", "status", "--porcelain")
	status.Dir = dir
	out, err := status.Output()
	if err != nil {
		return apperr.Newf(apperr.CodeGitRepoRequired, "not a git repository: %s", dir).
			WithDetail("path", dir)
	}
	if len(strings.TrimSpace(string(out))) > 0 {
		return apperr.New(apperr.CodeGitWorktreeDirty,
			"config repo worktree has uncommitted changes").
			WithDetail("path", dir)
	}

	head := exec.Command("git", "symbolic-ref", "--quiet", "HEAD")
	head.Dir = dir
	if err := head.Run(); err != nil {
		return apperr.New(apperr.CodeGitDetachedHead,
			"config repo is on a detached HEAD").
			WithDetail("path", dir)
	}
	return nil
}

// HeadCommit returns the current HEAD commit of dir.
func HeadCommit(dir string) (string, error) {
	cmd := exec.Command("git", "rev-parse", "HEAD")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", apperr.Newf(apperr.CodeGitRepoRequired, "not a git repository: %s", dir).
			WithDetail("path", dir)
	}
	return strings.TrimSpace(string(out)), nil
}

// RemoteURL returns the URL of the given remote, or E_GIT_REMOTE_MISSING.
func RemoteURL(dir, remote string) (string, error) {
	cmd := exec.Command("git", "remote", "get-url", remote)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", apperr.Newf(apperr.CodeGitRemoteMissing, "remote %s not configured", remote).
			WithDetail("remote", remote).
			WithDetail("path", dir)
	}
	return strings.TrimSpace(string(out)), nil
}

// ResolveRemoteRef resolves ref on the remote url to a commit via ls-remote.
func ResolveRemoteRef(url, ref string) (string, error) {
	if _, err := exec.LookPath("git"); err != nil {
		return "", apperr.New(apperr.CodeGitNotFound, "git binary not found on PATH").
			WithDetail("url", url)
	}
	out, err := exec.Command("git", "ls-remote", url, ref).Output()
	if err != nil {
		return "", apperr.Newf(apperr.CodeGitCloneFailed, "git ls-remote failed for %s", url).
			WithDetail("url", url).
			WithDetail("ref", ref)
	}
	fields := strings.Fields(string(out))
	if len(fields) == 0 {
		return "", apperr.Newf(apperr.CodeGitCheckoutFailed, "ref %s not found on %s", ref, url).
			WithDetail("url", url).
			WithDetail("ref", ref)
	}
	return fields[0], nil
}

// CreateBranch creates and checks out a new branch in dir.
func CreateBranch(dir, name string) error {
	cmd := exec.Command("git", "checkout", "-b", name)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		return apperr.Newf(apperr.CodeGitCheckoutFailed,
			"create branch %s: %s", name, strings.TrimSpace(string(out))).
			WithDetail("branch", name)
	}
	return nil
}
