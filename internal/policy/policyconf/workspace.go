package policyconf

import (
	"path/filepath"

	git "github.com/go-git/go-git/v5"
)

// workspacePolicySubdir is where a workspace keeps its policy files,
// relative to the repository root.
const workspacePolicySubdir = ".dispatch/policies"

// FindWorkspacePolicyDir locates the workspace policy directory for the
// given path by walking up to the enclosing git repository root. Outside a
// repository the directory is anchored at the path itself.
func FindWorkspacePolicyDir(start string) string {
	root := start
	repo, err := git.PlainOpenWithOptions(start, &git.PlainOpenOptions{DetectDotGit: true})
	if err == nil {
		if wt, err := repo.Worktree(); err == nil {
			root = wt.Filesystem.Root()
		}
	}
	return filepath.Join(root, filepath.FromSlash(workspacePolicySubdir))
}
