package engine

import (
	"github.com/liqiongyu/agentpack/internal/manifest"
	"github.com/liqiongyu/agentpack/internal/overlay"
	"github.com/liqiongyu/agentpack/internal/store"
)

// Lock resolves every module to a pinned entry and writes the lockfile
// canonically. Git refs are resolved over the wire; local paths are pinned
// by a content hash of their current tree. Remote URLs are validated
// against the manifest allow-list before any network access.
func (e *Engine) Lock() (*manifest.Lockfile, error) {
	lf := manifest.NewLockfile()

	for i := range e.Manifest.Modules {
		mod := &e.Manifest.Modules[i]
		locked := manifest.LockedModule{ID: mod.ID, Kind: mod.Kind}

		if mod.Source.Path != "" {
			root, err := e.UpstreamRoot(mod)
			if err != nil {
				return nil, err
			}
			baseline, err := overlay.BaselineFromUpstream(root)
			if err != nil {
				return nil, err
			}
			locked.Path = mod.Source.Path
			locked.ContentSHA256 = baseline.UpstreamSHA256
		} else {
			git := mod.Source.Git
			if err := store.CheckRemoteAllowed(git.URL, e.Manifest.GitAllowlist); err != nil {
				return nil, err
			}
			commit, err := store.ResolveRemoteRef(git.URL, git.Ref)
			if err != nil {
				return nil, err
			}
			locked.Git = &manifest.LockedGit{
				URL:    git.URL,
				Ref:    git.Ref,
				Commit: commit,
				Subdir: git.Subdir,
			}
		}
		lf.Modules = append(lf.Modules, locked)
	}

	if err := lf.Save(e.LockfilePath()); err != nil {
		return nil, err
	}
	e.Lockfile = lf
	return lf, nil
}
