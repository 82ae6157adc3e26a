package remote

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

func TestParse_LocalPath(t *testing.T) {
	dir := t.TempDir()

	src, err := Parse(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if src != nil {
		t.Errorf("expected nil for local path, got %+v", src)
	}
}

func TestParse_MissingLocalPaths(t *testing.T) {
	for _, p := range []string{"./missing/dir/here", "../nope", "/definitely/not/here"} {
		src, err := Parse(p)
		if err != nil || src != nil {
			t.Errorf("Parse(%q) = %+v, %v; want nil, nil", p, src, err)
		}
	}
}

func TestParse_Remote(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantURL string
		wantRef string
	}{
		{"simple owner/repo", "facebook/react", "https://github.com/facebook/react", ""},
		{"with ref suffix", "facebook/react@v18.2.0", "https://github.com/facebook/react", "v18.2.0"},
		{"with branch ref", "owner/repo@feature-branch", "https://github.com/owner/repo", "feature-branch"},
		{"github.com without scheme", "github.com/golang/go", "https://github.com/golang/go", ""},
		{"https URL", "https://github.com/kubernetes/kubernetes", "https://github.com/kubernetes/kubernetes", ""},
		{"gitlab URL", "https://gitlab.com/group/project", "https://gitlab.com/group/project", ""},
		{"SSH URL", "git@github.com:owner/repo.git", "git@github.com:owner/repo.git", ""},
		{"SSH URL with ref", "git@github.com:owner/repo.git@v1", "git@github.com:owner/repo.git", "v1"},
		{"URL with ref", "github.com/golang/go@go1.21.0", "https://github.com/golang/go", "go1.21.0"},
		{"userinfo is not a ref", "https://bot@example.com/team/repo", "https://bot@example.com/team/repo", ""},
		{"file URL", "file:///srv/git/core.git", "file:///srv/git/core.git", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if src == nil {
				t.Fatal("expected Source, got nil")
			}
			if src.URL != tt.wantURL {
				t.Errorf("URL = %q, want %q", src.URL, tt.wantURL)
			}
			if src.Ref != tt.wantRef {
				t.Errorf("Ref = %q, want %q", src.Ref, tt.wantRef)
			}
		})
	}
}

func TestParse_EmptyRef(t *testing.T) {
	if _, err := Parse("owner/repo@"); err == nil {
		t.Error("expected error for empty ref")
	}
}

func TestSourceName(t *testing.T) {
	tests := map[string]string{
		"https://github.com/golang/go":  "go",
		"https://github.com/golang/go/": "go",
		"git@github.com:owner/repo.git": "repo",
		"git@github.com:repo.git":       "repo",
		"file:///srv/mirror.git":        "mirror",
		"":                              "repo",
	}
	for url, want := range tests {
		if got := (&Source{URL: url}).Name(); got != want {
			t.Errorf("Name(%q) = %q, want %q", url, got, want)
		}
	}
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git-upload-pack"); err != nil {
		if _, err := exec.LookPath("git"); err != nil {
			t.Skip("git not installed")
		}
	}
}

// upstream creates a repository with two commits on master and a tag on
// the first.
func upstream(t *testing.T) (string, plumbing.Hash) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "upstream")
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	w, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	var first plumbing.Hash
	for i, name := range []string{"a.txt", "b.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := w.Add(name); err != nil {
			t.Fatal(err)
		}
		h, err := w.Commit("add "+name, &git.CommitOptions{
			Author: &object.Signature{Name: "Test", Email: "test@example.com", When: time.Date(2024, 1, 1+i, 0, 0, 0, 0, time.UTC)},
		})
		if err != nil {
			t.Fatal(err)
		}
		if i == 0 {
			first = h
		}
	}
	if _, err := repo.CreateTag("v1", first, nil); err != nil {
		t.Fatal(err)
	}
	return dir, first
}

func TestSource_Clone(t *testing.T) {
	requireGit(t)
	dir, _ := upstream(t)

	src := &Source{URL: dir}
	if err := src.Clone(context.Background(), io.Discard); err != nil {
		t.Fatalf("Clone failed: %v", err)
	}
	defer src.Cleanup()

	if filepath.Base(src.CloneDir) != "upstream" {
		t.Errorf("clone dir %q should be named after the repository", src.CloneDir)
	}
	repo, err := git.PlainOpen(src.CloneDir)
	if err != nil {
		t.Fatalf("open cloned repo: %v", err)
	}
	iter, err := repo.Log(&git.LogOptions{})
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	_ = iter.ForEach(func(*object.Commit) error {
		count++
		return nil
	})
	if count != 2 {
		t.Errorf("cloned %d commits, want full history of 2", count)
	}

	clone := src.CloneDir
	if err := src.Cleanup(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(clone); !os.IsNotExist(err) {
		t.Errorf("clone not removed: %v", err)
	}
}

func TestSource_Clone_WithTag(t *testing.T) {
	requireGit(t)
	dir, first := upstream(t)

	src := &Source{URL: dir, Ref: "v1"}
	if err := src.Clone(context.Background(), io.Discard); err != nil {
		t.Fatalf("Clone failed: %v", err)
	}
	defer src.Cleanup()

	repo, err := git.PlainOpen(src.CloneDir)
	if err != nil {
		t.Fatal(err)
	}
	head, err := repo.Head()
	if err != nil {
		t.Fatal(err)
	}
	if head.Hash() != first {
		t.Errorf("HEAD = %s, want tagged commit %s", head.Hash(), first)
	}
}

func TestSource_Clone_BadRef(t *testing.T) {
	requireGit(t)
	dir, _ := upstream(t)

	src := &Source{URL: dir, Ref: "no-such-ref"}
	if err := src.Clone(context.Background(), io.Discard); err == nil {
		src.Cleanup()
		t.Fatal("expected error for unknown ref")
	}
	if src.CloneDir != "" {
		t.Error("failed clone should be cleaned up")
	}
}

func TestResolve(t *testing.T) {
	requireGit(t)
	dir, _ := upstream(t)
	local := t.TempDir()

	paths, cleanup, err := Resolve(context.Background(), []string{local, "file://" + dir}, io.Discard)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if paths[0] != local {
		t.Errorf("local path changed: %q", paths[0])
	}
	if _, err := os.Stat(filepath.Join(paths[1], ".git")); err != nil {
		t.Errorf("remote not cloned: %v", err)
	}
	cleanup()
	if _, err := os.Stat(paths[1]); !os.IsNotExist(err) {
		t.Errorf("clone not cleaned up: %v", err)
	}
}
