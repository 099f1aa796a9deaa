package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	added   []string
	removed []string
}

func (r *recorder) AddWorker(id string) bool {
	r.added = append(r.added, id)
	return true
}

func (r *recorder) RemoveWorker(id string) int {
	r.removed = append(r.removed, id)
	return 0
}

func TestWatcherFiltersByPattern(t *testing.T) {
	rec := &recorder{}
	w, err := NewWatcher("http://worker-*:7101/", rec)
	require.NoError(t, err)

	assert.True(t, w.Registered("http://worker-1:7101/"))
	assert.False(t, w.Registered("http://other:7101/"))
	assert.True(t, w.Deregistered("http://worker-1:7101/"))
	assert.False(t, w.Deregistered("http://other:7101/"))

	assert.Equal(t, []string{"http://worker-1:7101/"}, rec.added)
	assert.Equal(t, []string{"http://worker-1:7101/"}, rec.removed)
}

func TestWatcherDefaultMatchesEverything(t *testing.T) {
	rec := &recorder{}
	w, err := NewWatcher("", rec)
	require.NoError(t, err)
	assert.Equal(t, "*", w.Pattern)

	assert.Equal(t, 2, w.Seed([]string{"http://a:1/", "b", " "}))
	assert.Equal(t, []string{"http://a:1/", "b"}, rec.added)
}

func TestWatcherDuplicateAddsForwarded(t *testing.T) {
	rec := &recorder{}
	w, err := NewWatcher("*", rec)
	require.NoError(t, err)
	w.Registered("a")
	w.Registered("a")
	assert.Len(t, rec.added, 2, "the listener decides how to treat a repeat")
}

func TestWatcherRejectsBadPattern(t *testing.T) {
	_, err := NewWatcher("[", &recorder{})
	assert.Error(t, err)
}
