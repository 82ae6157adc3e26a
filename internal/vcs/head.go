package vcs

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/go-git/go-git/v5"
)

// Head describes what a repository currently has checked out.
type Head struct {
	Hash string `json:"hash"`
	// Branch is empty when HEAD is detached.
	Branch string `json:"branch,omitempty"`
}

// Detached reports whether HEAD points directly at a commit.
func (h Head) Detached() bool {
	return h.Branch == ""
}

func (h Head) String() string {
	if h.Detached() {
		return h.Hash
	}
	return h.Branch + "@" + h.Hash
}

// openDetect opens path as a repository, bare ones included, and otherwise
// walks up to the enclosing worktree.
func openDetect(path string) (*git.Repository, error) {
	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	}
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("%w: %s", ErrNotRepository, path)
	}
	return repo, err
}

// ReadHead returns the commit and branch HEAD points at.
func ReadHead(path string) (Head, error) {
	repo, err := openDetect(path)
	if err != nil {
		return Head{}, err
	}
	ref, err := repo.Head()
	if err != nil {
		return Head{}, err
	}
	head := Head{Hash: ref.Hash().String()}
	if ref.Name().IsBranch() {
		head.Branch = ref.Name().Short()
	}
	return head, nil
}

// GitDir returns the directory holding HEAD and refs for the repository at
// path. For a bare repository that is the repository itself.
func GitDir(path string) (string, error) {
	repo, err := openDetect(path)
	if err != nil {
		return "", err
	}
	wt, err := repo.Worktree()
	if errors.Is(err, git.ErrIsBareRepository) {
		return filepath.Abs(path)
	}
	if err != nil {
		return "", err
	}
	return filepath.Join(wt.Filesystem.Root(), git.GitDirName), nil
}
