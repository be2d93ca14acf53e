package artifact

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type removeRecorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *removeRecorder) remove(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	return nil
}

func (r *removeRecorder) removed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func newTestTracker(retention time.Duration) (*Tracker, *removeRecorder, *time.Time) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	rec := &removeRecorder{}
	tr := NewTracker(retention, nil)
	tr.now = func() time.Time { return now }
	tr.removeAll = rec.remove
	return tr, rec, &now
}

func TestSweepRespectsRetentionBoundary(t *testing.T) {
	tr, rec, now := newTestTracker(time.Hour)

	tr.Register("s1", "/artifacts/s1.webm")
	tr.MarkEnded("s1")

	// 45 minutes after end: still retained
	*now = now.Add(45 * time.Minute)
	tr.Sweep()
	assert.Empty(t, rec.removed())
	_, ok := tr.Lookup("s1")
	assert.True(t, ok)

	// past the 1-hour boundary: removed and dropped
	*now = now.Add(30 * time.Minute)
	tr.Sweep()
	assert.Equal(t, []string{"/artifacts/s1.webm"}, rec.removed())
	_, ok = tr.Lookup("s1")
	assert.False(t, ok)
}

func TestSweepIgnoresPendingArtifacts(t *testing.T) {
	tr, rec, now := newTestTracker(time.Hour)

	tr.Register("pending", "/artifacts/pending.webm")

	*now = now.Add(24 * time.Hour)
	tr.Sweep()

	assert.Empty(t, rec.removed(), "an artifact whose session is still recording must never be reaped")
	_, ok := tr.Lookup("pending")
	assert.True(t, ok)
}

func TestMarkEndedUnknownSessionIsNoop(t *testing.T) {
	tr, rec, _ := newTestTracker(time.Hour)

	tr.MarkEnded("ghost")
	tr.Sweep()

	assert.Empty(t, rec.removed())
}

func TestSweepHandlesMultipleArtifacts(t *testing.T) {
	tr, rec, now := newTestTracker(time.Hour)

	tr.Register("old", "/artifacts/old.webm")
	tr.MarkEnded("old")

	*now = now.Add(2 * time.Hour)
	tr.Register("fresh", "/artifacts/fresh.webm")
	tr.MarkEnded("fresh")

	tr.Sweep()

	require.Equal(t, []string{"/artifacts/old.webm"}, rec.removed())
	_, ok := tr.Lookup("fresh")
	assert.True(t, ok)
}
