// Package artifact tracks recording artifacts by session id and reaps
// expired ones from storage on a fixed interval.
package artifact

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultRetention is how long an artifact stays retrievable after its
// session ends. The sweep is an eventual guarantee: an artifact may outlive
// the window until the next cycle, but never indefinitely.
const DefaultRetention = time.Hour

// DefaultSweepInterval is independent of any session's TTL.
const DefaultSweepInterval = 15 * time.Minute

type entry struct {
	path    string
	endedAt time.Time // zero while the session is still recording
}

// Tracker records pending artifacts and their end-of-life.
type Tracker struct {
	mu        sync.Mutex
	artifacts map[string]*entry
	retention time.Duration
	log       *zap.Logger

	// seams for tests
	now       func() time.Time
	removeAll func(string) error
}

// NewTracker creates a tracker with the given retention window.
func NewTracker(retention time.Duration, log *zap.Logger) *Tracker {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{
		artifacts: make(map[string]*entry),
		retention: retention,
		log:       log,
		now:       time.Now,
		removeAll: os.RemoveAll,
	}
}

// Register records a pending artifact keyed by session id, end-time unset.
func (t *Tracker) Register(sessionID, path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.artifacts[sessionID] = &entry{path: path}
}

// MarkEnded starts the retention countdown. Called by the registry only
// after context close and artifact finalization complete.
func (t *Tracker) MarkEnded(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.artifacts[sessionID]; ok {
		e.endedAt = t.now()
	}
}

// Lookup returns the artifact path for a session, if still tracked.
func (t *Tracker) Lookup(sessionID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.artifacts[sessionID]
	if !ok {
		return "", false
	}
	return e.path, true
}

// Sweep deletes storage for every artifact whose end-time lies more than
// the retention window in the past, and drops the tracking entry.
func (t *Tracker) Sweep() {
	cutoff := t.now().Add(-t.retention)

	t.mu.Lock()
	var expired []string
	for id, e := range t.artifacts {
		if !e.endedAt.IsZero() && e.endedAt.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	t.mu.Unlock()

	for _, id := range expired {
		t.mu.Lock()
		e, ok := t.artifacts[id]
		if ok {
			delete(t.artifacts, id)
		}
		t.mu.Unlock()
		if !ok {
			continue
		}

		if err := t.removeAll(e.path); err != nil {
			t.log.Warn("failed to remove expired artifact",
				zap.String("session_id", id),
				zap.String("path", e.path),
				zap.Error(err))
			continue
		}
		t.log.Info("expired artifact removed", zap.String("session_id", id), zap.String("path", e.path))
	}
}

// Run sweeps on the given interval until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep()
		}
	}
}
