package scorecache

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/panbanda/convergence/pkg/models"
)

func TestStore_GetPut(t *testing.T) {
	s := New("3/regex")
	_, ok := s.Get("abc")
	assert.False(t, ok)
	assert.False(t, s.Dirty())

	s.Put(models.ScoredCommit{Hash: "abc", Total: 2.5})
	got, ok := s.Get("abc")
	assert.True(t, ok)
	assert.Equal(t, 2.5, got.Total)
	assert.Equal(t, 1, s.Len())
	assert.True(t, s.Dirty())
}

func TestStore_InvalidateAll(t *testing.T) {
	s := New("3/regex")
	s.Put(models.ScoredCommit{Hash: "a"})
	s.Put(models.ScoredCommit{Hash: "b"})

	s.InvalidateAll()
	assert.Equal(t, 0, s.Len())
	_, ok := s.Get("a")
	assert.False(t, ok)
}

func TestStore_Restore(t *testing.T) {
	entries := []models.ScoredCommit{{Hash: "b", Total: 1}, {Hash: "a", Total: 2}}

	s := New("3/regex")
	assert.True(t, s.Restore("3/regex", entries))
	assert.Equal(t, 2, s.Len())
	assert.False(t, s.Dirty())
	assert.Equal(t, "a", s.Entries()[0].Hash)

	s = New("4/regex")
	assert.False(t, s.Restore("3/regex", entries))
	assert.Equal(t, 0, s.Len())
	assert.True(t, s.Dirty(), "a discarded cache must be rewritten")
}
