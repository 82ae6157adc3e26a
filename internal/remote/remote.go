// Package remote resolves and clones repositories given by URL.
package remote

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Source represents a remote repository to scan.
type Source struct {
	URL      string // normalized git URL
	Ref      string // branch, tag, or SHA (empty = default branch)
	CloneDir string // set by Clone
}

// Parse detects if a path is a remote reference.
// Returns nil if path exists on filesystem (local path takes precedence).
func Parse(path string) (*Source, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, nil
	}

	if strings.HasPrefix(path, ".") || filepath.IsAbs(path) {
		return nil, nil
	}
	if strings.HasSuffix(path, "@") {
		return nil, fmt.Errorf("empty ref in %q", path)
	}
	path, ref := splitRef(path)

	switch {
	case strings.HasPrefix(path, "https://"), strings.HasPrefix(path, "http://"),
		strings.HasPrefix(path, "ssh://"), strings.HasPrefix(path, "git://"),
		strings.HasPrefix(path, "file://"):
		return &Source{URL: path, Ref: ref}, nil
	case isSCPLike(path):
		return &Source{URL: path, Ref: ref}, nil
	case hasHost(path):
		return &Source{URL: "https://" + path, Ref: ref}, nil
	case isGitHubShorthand(path):
		return &Source{URL: "https://github.com/" + path, Ref: ref}, nil
	}
	return nil, nil
}

// splitRef separates a trailing @ref. An @ before the first path
// separator is user info (git@host:path, https://user@host/path).
func splitRef(path string) (string, string) {
	idx := strings.LastIndex(path, "@")
	if idx == -1 {
		return path, ""
	}
	start := 0
	if i := strings.Index(path, "://"); i >= 0 {
		start = i + len("://")
	}
	sep := strings.IndexAny(path[start:], "/:")
	if sep == -1 || start+sep > idx {
		return path, ""
	}
	return path[:idx], path[idx+1:]
}

func isSCPLike(path string) bool {
	at := strings.Index(path, "@")
	colon := strings.Index(path, ":")
	return at > 0 && colon > at && !strings.Contains(path[:colon], "/")
}

// hasHost reports whether the first path segment looks like a domain.
func hasHost(path string) bool {
	slash := strings.Index(path, "/")
	if slash <= 0 {
		return false
	}
	return strings.Contains(path[:slash], ".") && strings.Count(path, "/") >= 2
}

// isGitHubShorthand returns true if path matches owner/repo pattern.
func isGitHubShorthand(path string) bool {
	slashIdx := strings.Index(path, "/")
	if slashIdx == -1 {
		return false
	}
	if strings.Count(path, "/") != 1 {
		return false
	}
	if strings.Contains(path[:slashIdx], ".") {
		return false
	}
	return slashIdx > 0 && slashIdx < len(path)-1
}

// Name returns the repository name from the URL, without a .git suffix.
func (s *Source) Name() string {
	name := strings.TrimSuffix(strings.TrimRight(s.URL, "/"), ".git")
	if i := strings.LastIndexAny(name, "/:"); i >= 0 {
		name = name[i+1:]
	}
	if name == "" {
		return "repo"
	}
	return name
}

// Clone fetches the full history into a temporary directory named after the
// repository and checks out Ref when set. Progress messages go to progress.
func (s *Source) Clone(ctx context.Context, progress io.Writer) error {
	tmp, err := os.MkdirTemp("", "convergence-clone-")
	if err != nil {
		return err
	}
	dir := filepath.Join(tmp, s.Name())

	repo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:      s.URL,
		Progress: progress,
	})
	if err != nil {
		os.RemoveAll(tmp)
		return fmt.Errorf("cloning %s: %w", s.URL, err)
	}
	s.CloneDir = dir

	if s.Ref != "" {
		if err := checkout(repo, s.Ref); err != nil {
			s.Cleanup()
			return fmt.Errorf("checking out %s: %w", s.Ref, err)
		}
	}
	return nil
}

// checkout resolves ref as a remote branch, a tag, then a revision.
func checkout(repo *git.Repository, ref string) error {
	wt, err := repo.Worktree()
	if err != nil {
		return err
	}

	branch := plumbing.NewRemoteReferenceName("origin", ref)
	if r, err := repo.Reference(branch, true); err == nil {
		return wt.Checkout(&git.CheckoutOptions{
			Hash:   r.Hash(),
			Branch: plumbing.NewBranchReferenceName(ref),
			Create: true,
			Force:  true,
		})
	}

	hash, err := repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return err
	}
	return wt.Checkout(&git.CheckoutOptions{Hash: *hash, Force: true})
}

// Cleanup removes the clone.
func (s *Source) Cleanup() error {
	if s.CloneDir == "" {
		return nil
	}
	err := os.RemoveAll(filepath.Dir(s.CloneDir))
	s.CloneDir = ""
	return err
}

// Resolve clones every remote entry of paths and returns local paths in
// the same order with a cleanup func for the clones. Local paths pass
// through unchanged.
func Resolve(ctx context.Context, paths []string, progress io.Writer) ([]string, func(), error) {
	var sources []*Source
	cleanup := func() {
		for _, s := range sources {
			s.Cleanup()
		}
	}

	out := make([]string, len(paths))
	for i, p := range paths {
		src, err := Parse(p)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		if src == nil {
			out[i] = p
			continue
		}
		if err := src.Clone(ctx, progress); err != nil {
			cleanup()
			return nil, nil, err
		}
		sources = append(sources, src)
		out[i] = src.CloneDir
	}
	return out, cleanup, nil
}
