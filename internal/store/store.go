// Package store manages the content-addressed cache of git-sourced module
// checkouts under <home>/cache/git, and the git worktree probes used before
// mutating operations. All git access shells out to the git binary; nothing
// here touches the network outside explicit clone and ls-remote calls.
package store

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/liqiongyu/agentpack/internal/apperr"
	"github.com/liqiongyu/agentpack/internal/ids"
	"github.com/liqiongyu/agentpack/internal/manifest"
)

// Store locates cached git checkouts beneath the agentpack home directory.
type Store struct {
	// Home is the agentpack home (state + cache root).
	Home string
}

// New creates a store rooted at home.
func New(home string) *Store {
	return &Store{Home: home}
}

// GitCacheDir is the root of the git checkout cache.
func (s *Store) GitCacheDir() string {
	return filepath.Join(s.Home, "cache", "git")
}

// checkoutDir is the canonical cache location for one pinned module commit.
func (s *Store) checkoutDir(moduleID, commit string) string {
	return filepath.Join(s.GitCacheDir(), ids.ModuleFSKey(moduleID), commit)
}

// legacyCheckoutDir is the pre-hash-suffix cache location, consulted as a
// read-only fallback.
func (s *Store) legacyCheckoutDir(moduleID, commit string) string {
	sanitized := ids.SanitizeFSComponent(moduleID)
	if !ids.IsSafeLegacyPathComponent(sanitized) {
		return ""
	}
	return filepath.Join(s.GitCacheDir(), sanitized, commit)
}

// EnsureGitCheckout returns a directory containing the checked-out bytes of
// src pinned at commit, cloning on a cache miss. Shallow clones that cannot
// reach the pinned commit are retried as full clones; that is the only
// automatic retry in the core.
func (s *Store) EnsureGitCheckout(moduleID string, src manifest.GitSource, commit string) (string, error) {
	canonical := s.checkoutDir(moduleID, commit)
	if dirExists(canonical) {
		return checkoutSubdir(canonical, src.Subdir)
	}
	if legacy := s.legacyCheckoutDir(moduleID, commit); legacy != "" && dirExists(legacy) {
		return checkoutSubdir(legacy, src.Subdir)
	}

	if _, err := exec.LookPath("git"); err != nil {
		return "", apperr.New(apperr.CodeGitNotFound,
			"git binary not found on PATH").
			WithDetail("url", src.URL)
	}

	if err := s.cloneAt(canonical, src, commit); err != nil {
		return "", err
	}
	return checkoutSubdir(canonical, src.Subdir)
}

func (s *Store) cloneAt(dest string, src manifest.GitSource, commit string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	tryClone := func(shallow bool) error {
		tmp := dest + ".clone.tmp"
		os.RemoveAll(tmp)

		args := []string{"clone", "--quiet"}
		if shallow {
			args = append(args, "--depth", "1")
			if src.Ref != "" {
				args = append(args, "--branch", src.Ref)
			}
		}
		args = append(args, src.URL, tmp)

		if out, err := exec.Command("git", args...).CombinedOutput(); err != nil {
			os.RemoveAll(tmp)
			return apperr.Newf(apperr.CodeGitCloneFailed, "git clone failed for %s", src.URL).
				WithDetails(map[string]any{
					"url":    src.URL,
					"ref":    src.Ref,
					"commit": commit,
					"output": string(out),
				})
		}

		checkout := exec.Command("git", "checkout", "--quiet", commit)
		checkout.Dir = tmp
		if out, err := checkout.CombinedOutput(); err != nil {
			os.RemoveAll(tmp)
			return apperr.Newf(apperr.CodeGitCheckoutFailed, "git checkout %s failed", commit).
				WithDetails(map[string]any{
					"url":    src.URL,
					"ref":    src.Ref,
					"commit": commit,
					"output": string(out),
				})
		}

		if err := os.Rename(tmp, dest); err != nil {
			os.RemoveAll(tmp)
			return fmt.Errorf("move checkout into cache: %w", err)
		}
		return nil
	}

	if src.Shallow {
		if err := tryClone(true); err == nil {
			return nil
		} else if !apperr.Is(err, apperr.CodeGitCheckoutFailed) && !apperr.Is(err, apperr.CodeGitCloneFailed) {
			return err
		}
		// Shallow history may not reach the pinned commit; fall through to a
		// full clone.
	}
	return tryClone(false)
}

func checkoutSubdir(dir, subdir string) (string, error) {
	if subdir == "" {
		return dir, nil
	}
	sub := filepath.Join(dir, filepath.FromSlash(subdir))
	if !dirExists(sub) {
		return "", apperr.Newf(apperr.CodeGitCheckoutFailed,
			"subdir %s not present in checkout", subdir).
			WithDetail("subdir", subdir).
			WithDetail("checkout", dir)
	}
	return sub, nil
}

func dirExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
