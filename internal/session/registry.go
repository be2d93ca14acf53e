// Package session is the authoring source of truth for live automation
// sessions: creation, lookup, TTL-driven expiry, and ordered teardown.
package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/cloudpeek/browsergrid/internal/artifact"
	"github.com/cloudpeek/browsergrid/internal/browser"
	"github.com/cloudpeek/browsergrid/internal/events"
	"github.com/cloudpeek/browsergrid/internal/proxycfg"
	"github.com/cloudpeek/browsergrid/pkg/models"
)

const (
	defaultVideoWidth  = 1280
	defaultVideoHeight = 720
)

// record pairs session metadata with the resources it exclusively owns.
// done marks a session whose teardown has begun; such a record is
// invisible to Get/List and its context must never be referenced again.
type record struct {
	meta  *models.Session
	actx  browser.AutomationContext
	timer TimerHandle
	done  bool
}

// Options wires a Registry. Driver and MaxSessions are required; the rest
// default sensibly so tests can construct minimal registries.
type Options struct {
	Driver      browser.Driver
	Artifacts   *artifact.Tracker
	Events      *events.Hub
	Scheduler   Scheduler
	MaxSessions int64
	GlobalProxy *models.ProxyConfig
	DataDir     string
	ArtifactDir string
	Logger      *zap.Logger
	Now         func() time.Time
}

// Registry is the keyed collection of live sessions. All mutation funnels
// through its methods so the single-timer and idempotent-terminate
// invariants hold.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*record

	driver      browser.Driver
	artifacts   *artifact.Tracker
	events      *events.Hub
	sched       Scheduler
	slots       *semaphore.Weighted
	maxSessions int64
	globalProxy *models.ProxyConfig
	dataDir     string
	artifactDir string
	log         *zap.Logger
	now         func() time.Time
}

// NewRegistry creates a registry. Each call owns its own state so multiple
// instances can coexist in tests.
func NewRegistry(opts Options) *Registry {
	if opts.Scheduler == nil {
		opts.Scheduler = NewScheduler()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = 10
	}
	if opts.DataDir == "" {
		opts.DataDir = filepath.Join(os.TempDir(), "browsergrid-sessions")
	}
	if opts.ArtifactDir == "" {
		opts.ArtifactDir = filepath.Join(os.TempDir(), "browsergrid-artifacts")
	}

	return &Registry{
		sessions:    make(map[string]*record),
		driver:      opts.Driver,
		artifacts:   opts.Artifacts,
		events:      opts.Events,
		sched:       opts.Scheduler,
		slots:       semaphore.NewWeighted(opts.MaxSessions),
		maxSessions: opts.MaxSessions,
		globalProxy: opts.GlobalProxy,
		dataDir:     opts.DataDir,
		artifactDir: opts.ArtifactDir,
		log:         opts.Logger,
		now:         opts.Now,
	}
}

// Create resolves the effective proxy, allocates an isolated scratch
// directory, opens a fresh automation context, arms the expiry timer, and
// registers the session under a freshly generated id. The returned handle
// is immediately usable by the executor. Validation failures happen before
// any side effect.
func (r *Registry) Create(ctx context.Context, req models.CreateSessionRequest) (*models.Session, error) {
	var override *models.ProxyConfig
	if req.Proxy != "" {
		parsed, err := proxycfg.Parse(req.Proxy)
		if err != nil {
			return nil, err
		}
		override = parsed
	}
	effective := proxycfg.ResolveEffective(override, r.globalProxy)

	if !r.slots.TryAcquire(1) {
		return nil, models.NewError(models.KindCapacityExceeded,
			"maximum of %d concurrent sessions reached", r.maxSessions)
	}

	id := uuid.NewString()
	dataDir := filepath.Join(r.dataDir, id)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		r.slots.Release(1)
		return nil, models.WrapError(models.KindExecution, err, "create session data directory: %v", err)
	}

	width, height := req.VideoWidth, req.VideoHeight
	if width <= 0 {
		width = defaultVideoWidth
	}
	if height <= 0 {
		height = defaultVideoHeight
	}

	actx, err := r.driver.OpenContext(ctx, browser.ContextOptions{
		Proxy:       effective,
		RecordVideo: req.Record,
		VideoDir:    filepath.Join(dataDir, "video"),
		VideoWidth:  width,
		VideoHeight: height,
	})
	if err != nil {
		_ = os.RemoveAll(dataDir)
		r.slots.Release(1)
		return nil, models.WrapError(models.KindExecution, err, "open automation context: %v", err)
	}

	now := r.now()
	ttl := time.Duration(req.TTL) * time.Millisecond
	meta := &models.Session{
		ID:             id,
		Status:         models.StatusRunning,
		TTL:            req.TTL,
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(ttl),
		Proxy:          effective,
		DataDir:        dataDir,
	}

	if req.Record {
		meta.Recording = &models.Recording{
			URL:    fmt.Sprintf("/v1/sessions/%s/recording", id),
			Width:  width,
			Height: height,
		}
		if r.artifacts != nil {
			r.artifacts.Register(id, r.stableArtifactPath(id))
		}
	}

	rec := &record{meta: meta, actx: actx}
	r.mu.Lock()
	r.sessions[id] = rec
	rec.timer = r.sched.Schedule(ttl, func() { r.expire(id) })
	r.mu.Unlock()

	fields := []zap.Field{zap.String("session_id", id), zap.Int64("ttl_ms", req.TTL), zap.Bool("recording", req.Record)}
	if effective != nil {
		fields = append(fields, zap.Object("proxy", effective))
	}
	r.log.Info("session created", fields...)

	r.events.Publish(events.Event{
		Type:      events.SessionCreated,
		SessionID: id,
		Data:      map[string]any{"ttl": req.TTL, "recording": req.Record},
	})

	return snapshot(meta), nil
}

// Get returns the session or SessionNotFound. A session already torn down
// (or mid-teardown) is indistinguishable from one that never existed; no
// tombstones are kept.
func (r *Registry) Get(id string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.sessions[id]
	if !ok || rec.done {
		return nil, notFound(id)
	}
	return snapshot(rec.meta), nil
}

// Target resolves the session's single addressable page for dispatch.
func (r *Registry) Target(id string) (browser.Target, error) {
	r.mu.Lock()
	rec, ok := r.sessions[id]
	if !ok || rec.done {
		r.mu.Unlock()
		return nil, notFound(id)
	}
	actx := rec.actx
	r.mu.Unlock()

	target, err := actx.Target()
	if err != nil {
		return nil, models.AsError(err)
	}
	return target, nil
}

// List returns a read-only snapshot of all live sessions.
func (r *Registry) List() []*models.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*models.Session, 0, len(r.sessions))
	for _, rec := range r.sessions {
		if rec.done {
			continue
		}
		out = append(out, snapshot(rec.meta))
	}
	return out
}

// ResetActivity produces keep-alive semantics: the current timer is
// cancelled and a new full-TTL timer armed atomically, so at most one live
// timer exists per session at any instant.
func (r *Registry) ResetActivity(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.sessions[id]
	if !ok || rec.done {
		return notFound(id)
	}

	rec.timer.Cancel()
	now := r.now()
	ttl := time.Duration(rec.meta.TTL) * time.Millisecond
	rec.meta.LastActivityAt = now
	rec.meta.ExpiresAt = now.Add(ttl)
	rec.timer = r.sched.Schedule(ttl, func() { r.expire(id) })
	return nil
}

// Terminate explicitly stops a session. Idempotent: repeated calls and the
// expiry-vs-explicit-stop race are both no-ops after the first teardown.
func (r *Registry) Terminate(id string) {
	r.terminate(id, models.StatusCompleted)
}

// Abort tears a session down after an unrecoverable execution error.
func (r *Registry) Abort(id string) {
	r.terminate(id, models.StatusError)
}

// TerminateAll stops every live session; used on shutdown.
func (r *Registry) TerminateAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Terminate(id)
	}
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.sessions {
		if !rec.done {
			n++
		}
	}
	return n
}

func (r *Registry) expire(id string) {
	r.log.Info("session ttl fired", zap.String("session_id", id))
	r.terminate(id, models.StatusTimedOut)
}

// terminate runs the teardown sequence exactly once per session:
// cancel timer, close context, finalize the recording, remove the scratch
// directory, drop the entry. Close and delete failures are logged, never
// propagated. The artifact is finalized only after the context is fully
// closed because the capture flushes on close.
func (r *Registry) terminate(id string, status models.SessionStatus) {
	r.mu.Lock()
	rec, ok := r.sessions[id]
	if !ok || rec.done {
		r.mu.Unlock()
		return
	}
	rec.done = true
	rec.meta.Status = status
	if rec.timer != nil {
		rec.timer.Cancel()
	}
	r.mu.Unlock()

	if err := rec.actx.Close(); err != nil {
		r.log.Warn("automation context close failed", zap.String("session_id", id), zap.Error(err))
	}

	if rec.meta.Recording != nil {
		r.finalizeRecording(rec)
	}

	if err := os.RemoveAll(rec.meta.DataDir); err != nil {
		r.log.Warn("failed to remove session data directory",
			zap.String("session_id", id), zap.String("dir", rec.meta.DataDir), zap.Error(err))
	}

	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()

	r.slots.Release(1)

	r.log.Info("session terminated", zap.String("session_id", id), zap.String("status", string(status)))
	r.events.Publish(events.Event{
		Type:      events.SessionTerminated,
		SessionID: id,
		Data:      map[string]any{"status": string(status)},
	})
}

// finalizeRecording moves the flushed capture to its stable, predictable
// location and starts the artifact retention countdown.
func (r *Registry) finalizeRecording(rec *record) {
	id := rec.meta.ID

	videoPath, err := rec.actx.VideoPath()
	if err != nil {
		r.log.Warn("no recording artifact produced", zap.String("session_id", id), zap.Error(err))
	} else {
		stable := r.stableArtifactPath(id)
		if err := os.MkdirAll(filepath.Dir(stable), 0o755); err != nil {
			r.log.Warn("failed to create artifact directory", zap.String("session_id", id), zap.Error(err))
		} else if err := os.Rename(videoPath, stable); err != nil {
			r.log.Warn("failed to finalize recording", zap.String("session_id", id), zap.Error(err))
		} else {
			rec.meta.Recording.ArtifactPath = stable
		}
	}

	if r.artifacts != nil {
		r.artifacts.MarkEnded(id)
	}
}

func (r *Registry) stableArtifactPath(id string) string {
	return filepath.Join(r.artifactDir, id+".webm")
}

func notFound(id string) *models.Error {
	return models.NewError(models.KindSessionNotFound, "session %s not found", id)
}

// snapshot copies the metadata so callers never observe mid-mutation
// state. Recording and Proxy are write-once, so sharing them is safe.
func snapshot(meta *models.Session) *models.Session {
	copied := *meta
	return &copied
}
