// Package scm resolves the set of files changed relative to a base
// revision, used by the Task Graph Builder's buildAffected mode. Grounded
// on the teacher's scm.FromInRepo entry point (run.go), reimplemented
// against go-git instead of shelling out to the git binary.
package scm

import (
	"fmt"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/jbadeau/forge/internal/forgeerr"
)

// ChangedFiles returns every file path, relative to the repository root,
// that differs between base and the current working tree: committed
// changes between base and HEAD, plus uncommitted worktree changes.
func ChangedFiles(repoRoot, base string) ([]string, error) {
	repo, err := git.PlainOpenWithOptions(repoRoot, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, forgeerr.Wrap(forgeerr.ConfigParse, "opening git repository for affected detection", err)
	}

	seen := make(map[string]struct{})
	var out []string
	add := func(path string) {
		if path == "" {
			return
		}
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		out = append(out, path)
	}

	baseTree, err := resolveTree(repo, base)
	if err != nil {
		return nil, err
	}
	headTree, err := resolveTree(repo, "HEAD")
	if err != nil {
		return nil, err
	}

	changes, err := baseTree.Diff(headTree)
	if err != nil {
		return nil, forgeerr.Wrap(forgeerr.ConfigParse, fmt.Sprintf("diffing %s against HEAD", base), err)
	}
	for _, c := range changes {
		if c.To.Name != "" {
			add(c.To.Name)
		}
		if c.From.Name != "" {
			add(c.From.Name)
		}
	}

	wt, err := repo.Worktree()
	if err == nil {
		status, statusErr := wt.Status()
		if statusErr == nil {
			for path := range status {
				add(path)
			}
		}
	}

	return out, nil
}

func resolveTree(repo *git.Repository, revision string) (*object.Tree, error) {
	hash, err := repo.ResolveRevision(plumbing.Revision(revision))
	if err != nil {
		return nil, forgeerr.Wrap(forgeerr.ConfigParse, fmt.Sprintf("resolving revision %q", revision), err)
	}
	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, forgeerr.Wrap(forgeerr.ConfigParse, fmt.Sprintf("loading commit %q", revision), err)
	}
	return commit.Tree()
}
