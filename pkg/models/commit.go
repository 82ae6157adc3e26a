package models

import (
	"sort"
	"time"
)

// Commit is a single commit read from repository history. Commits are
// extracted once per scan and never mutated afterwards.
type Commit struct {
	Hash      string    `json:"hash"`
	Repo      string    `json:"repo"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Diffstat  Diffstat  `json:"diffstat"`
}

// Subject returns the first line of the commit message.
func (c Commit) Subject() string {
	for i := 0; i < len(c.Message); i++ {
		if c.Message[i] == '\n' {
			return c.Message[:i]
		}
	}
	return c.Message
}

// FileStat holds per-file line counts for a commit.
type FileStat struct {
	Insertions int  `json:"insertions"`
	Deletions  int  `json:"deletions"`
	New        bool `json:"new,omitempty"` // file was created by this commit
}

// Lines returns insertions plus deletions.
func (f FileStat) Lines() int {
	return f.Insertions + f.Deletions
}

// Diffstat maps changed paths to their line counts.
type Diffstat struct {
	Files map[string]FileStat `json:"files"`
}

// NewDiffstat creates an empty diffstat.
func NewDiffstat() Diffstat {
	return Diffstat{Files: make(map[string]FileStat)}
}

// Add records a file change, merging with any existing entry for the path.
func (d *Diffstat) Add(path string, insertions, deletions int, isNew bool) {
	if d.Files == nil {
		d.Files = make(map[string]FileStat)
	}
	fs := d.Files[path]
	fs.Insertions += insertions
	fs.Deletions += deletions
	fs.New = fs.New || isNew
	d.Files[path] = fs
}

// Paths returns the changed paths in sorted order.
func (d Diffstat) Paths() []string {
	paths := make([]string, 0, len(d.Files))
	for p := range d.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// TotalLines returns the number of lines inserted and deleted across all files.
func (d Diffstat) TotalLines() int {
	total := 0
	for _, fs := range d.Files {
		total += fs.Lines()
	}
	return total
}

// IsEmpty reports whether the diffstat has no file changes.
func (d Diffstat) IsEmpty() bool {
	return len(d.Files) == 0
}

// SortCommits orders commits by timestamp, then hash for stability.
func SortCommits(commits []Commit) {
	sort.SliceStable(commits, func(i, j int) bool {
		if commits[i].Timestamp.Equal(commits[j].Timestamp) {
			return commits[i].Hash < commits[j].Hash
		}
		return commits[i].Timestamp.Before(commits[j].Timestamp)
	})
}
