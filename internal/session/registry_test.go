package session

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cloudpeek/browsergrid/internal/artifact"
	"github.com/cloudpeek/browsergrid/internal/browser/browsertest"
	"github.com/cloudpeek/browsergrid/pkg/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeScheduler records armed timers and lets tests fire them manually.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	mu        sync.Mutex
	fn        func()
	d         time.Duration
	cancelled bool
	fired     bool
}

func (t *fakeTimer) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelled = true
	return !t.fired
}

func (t *fakeTimer) fire() {
	t.mu.Lock()
	if t.cancelled || t.fired {
		t.mu.Unlock()
		return
	}
	t.fired = true
	fn := t.fn
	t.mu.Unlock()
	fn()
}

func (s *fakeScheduler) Schedule(d time.Duration, fn func()) TimerHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{fn: fn, d: d}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) timer(i int) *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers[i]
}

func (s *fakeScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

type fixture struct {
	registry *Registry
	driver   *browsertest.Driver
	sched    *fakeScheduler
	tracker  *artifact.Tracker
	now      time.Time
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	f := &fixture{
		driver:  browsertest.NewDriver(),
		sched:   &fakeScheduler{},
		tracker: artifact.NewTracker(time.Hour, nil),
		now:     time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
	}

	opts.Driver = f.driver
	opts.Scheduler = f.sched
	opts.Artifacts = f.tracker
	opts.DataDir = filepath.Join(t.TempDir(), "sessions")
	opts.ArtifactDir = filepath.Join(t.TempDir(), "artifacts")
	opts.Now = func() time.Time { return f.now }
	if opts.MaxSessions == 0 {
		opts.MaxSessions = 5
	}

	f.registry = NewRegistry(opts)
	return f
}

func TestCreateComputesExpiry(t *testing.T) {
	f := newFixture(t, Options{})

	sess, err := f.registry.Create(context.Background(), models.CreateSessionRequest{TTL: 60_000})
	require.NoError(t, err)

	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, models.StatusRunning, sess.Status)
	assert.Equal(t, f.now, sess.CreatedAt)
	assert.Equal(t, f.now.Add(time.Minute), sess.ExpiresAt)
	assert.Equal(t, 1, f.sched.count())
	assert.Equal(t, time.Minute, f.sched.timer(0).d)
}

func TestGetUnknownSession(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.registry.Get("nope")
	assert.Equal(t, models.KindSessionNotFound, models.KindOf(err))
}

func TestSessionIDsAreUnique(t *testing.T) {
	f := newFixture(t, Options{})

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		sess, err := f.registry.Create(context.Background(), models.CreateSessionRequest{TTL: 60_000})
		require.NoError(t, err)
		assert.False(t, seen[sess.ID])
		seen[sess.ID] = true
	}
}

func TestTerminateIsIdempotent(t *testing.T) {
	f := newFixture(t, Options{})

	sess, err := f.registry.Create(context.Background(), models.CreateSessionRequest{TTL: 60_000})
	require.NoError(t, err)

	f.registry.Terminate(sess.ID)
	f.registry.Terminate(sess.ID)

	assert.Equal(t, 1, f.driver.Last().CloseCount)
	_, err = f.registry.Get(sess.ID)
	assert.Equal(t, models.KindSessionNotFound, models.KindOf(err))
}

func TestTerminateRemovesDataDir(t *testing.T) {
	f := newFixture(t, Options{})

	sess, err := f.registry.Create(context.Background(), models.CreateSessionRequest{TTL: 60_000})
	require.NoError(t, err)

	dataDir := f.driver.Last().Opts.VideoDir // rooted inside the scratch dir
	parent := filepath.Dir(dataDir)
	_, statErr := os.Stat(parent)
	require.NoError(t, statErr)

	f.registry.Terminate(sess.ID)

	_, statErr = os.Stat(parent)
	assert.True(t, os.IsNotExist(statErr))
}

func TestCapacityExceeded(t *testing.T) {
	f := newFixture(t, Options{MaxSessions: 1})

	first, err := f.registry.Create(context.Background(), models.CreateSessionRequest{TTL: 60_000})
	require.NoError(t, err)

	_, err = f.registry.Create(context.Background(), models.CreateSessionRequest{TTL: 60_000})
	assert.Equal(t, models.KindCapacityExceeded, models.KindOf(err))

	// the existing session is never evicted
	_, err = f.registry.Get(first.ID)
	assert.NoError(t, err)

	// terminating frees the slot
	f.registry.Terminate(first.ID)
	_, err = f.registry.Create(context.Background(), models.CreateSessionRequest{TTL: 60_000})
	assert.NoError(t, err)
}

func TestResetActivityReplacesTimer(t *testing.T) {
	f := newFixture(t, Options{})

	sess, err := f.registry.Create(context.Background(), models.CreateSessionRequest{TTL: 60_000})
	require.NoError(t, err)

	f.now = f.now.Add(30 * time.Second)
	require.NoError(t, f.registry.ResetActivity(sess.ID))

	assert.True(t, f.sched.timer(0).cancelled, "original timer must be cancelled")
	assert.Equal(t, 2, f.sched.count(), "exactly one replacement timer armed")

	updated, err := f.registry.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, f.now, updated.LastActivityAt)
	assert.Equal(t, f.now.Add(time.Minute), updated.ExpiresAt)

	// the replaced timer firing late is a no-op
	f.sched.timer(0).fire()
	_, err = f.registry.Get(sess.ID)
	assert.NoError(t, err)
}

func TestExpiryTimerTerminatesSession(t *testing.T) {
	f := newFixture(t, Options{})

	sess, err := f.registry.Create(context.Background(), models.CreateSessionRequest{TTL: 60_000})
	require.NoError(t, err)

	f.sched.timer(0).fire()

	_, err = f.registry.Get(sess.ID)
	assert.Equal(t, models.KindSessionNotFound, models.KindOf(err))
	assert.Equal(t, 1, f.driver.Last().CloseCount)
}

func TestExpiryRaceWithExplicitStop(t *testing.T) {
	f := newFixture(t, Options{})

	sess, err := f.registry.Create(context.Background(), models.CreateSessionRequest{TTL: 60_000})
	require.NoError(t, err)

	f.registry.Terminate(sess.ID)
	f.sched.timer(0).fire() // late fire after explicit stop

	assert.Equal(t, 1, f.driver.Last().CloseCount)
}

func TestRecordingFinalizedAfterClose(t *testing.T) {
	f := newFixture(t, Options{})

	sess, err := f.registry.Create(context.Background(), models.CreateSessionRequest{TTL: 60_000, Record: true})
	require.NoError(t, err)
	require.NotNil(t, sess.Recording)
	assert.Equal(t, "/v1/sessions/"+sess.ID+"/recording", sess.Recording.URL)

	// artifact registered at creation under its stable, predictable path
	path, ok := f.tracker.Lookup(sess.ID)
	require.True(t, ok)
	assert.Equal(t, sess.ID+".webm", filepath.Base(path))

	f.registry.Terminate(sess.ID)

	// capture flushed on close and moved to the stable location
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "webm", string(data))
}

func TestNoRecordingNoArtifact(t *testing.T) {
	f := newFixture(t, Options{})

	sess, err := f.registry.Create(context.Background(), models.CreateSessionRequest{TTL: 60_000})
	require.NoError(t, err)
	assert.Nil(t, sess.Recording)

	_, ok := f.tracker.Lookup(sess.ID)
	assert.False(t, ok)
}

func TestProxyPrecedence(t *testing.T) {
	global := &models.ProxyConfig{Protocol: "http", Hostname: "global.proxy", Port: 80}

	t.Run("global default applies", func(t *testing.T) {
		f := newFixture(t, Options{GlobalProxy: global})

		sess, err := f.registry.Create(context.Background(), models.CreateSessionRequest{TTL: 60_000})
		require.NoError(t, err)
		assert.Equal(t, "global.proxy", sess.Proxy.Hostname)
	})

	t.Run("session override wins", func(t *testing.T) {
		f := newFixture(t, Options{GlobalProxy: global})

		sess, err := f.registry.Create(context.Background(), models.CreateSessionRequest{
			TTL:   60_000,
			Proxy: "http://session.proxy:3128",
		})
		require.NoError(t, err)
		assert.Equal(t, "session.proxy", sess.Proxy.Hostname)
		assert.Equal(t, 3128, sess.Proxy.Port)

		// the context was opened with the override, not the global
		assert.Equal(t, "session.proxy", f.driver.Last().Opts.Proxy.Hostname)
	})

	t.Run("invalid override creates nothing", func(t *testing.T) {
		f := newFixture(t, Options{GlobalProxy: global, MaxSessions: 1})

		_, err := f.registry.Create(context.Background(), models.CreateSessionRequest{
			TTL:   60_000,
			Proxy: "http://user@host:8080",
		})
		assert.Equal(t, models.KindProxyValidation, models.KindOf(err))
		assert.Equal(t, 0, f.registry.Len())

		// no capacity slot leaked
		_, err = f.registry.Create(context.Background(), models.CreateSessionRequest{TTL: 60_000})
		assert.NoError(t, err)
	})
}

func TestListSnapshots(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.registry.Create(context.Background(), models.CreateSessionRequest{TTL: 60_000})
	require.NoError(t, err)
	sess, err := f.registry.Create(context.Background(), models.CreateSessionRequest{TTL: 120_000})
	require.NoError(t, err)

	assert.Len(t, f.registry.List(), 2)

	f.registry.Terminate(sess.ID)
	assert.Len(t, f.registry.List(), 1)
}

func TestAbortMarksError(t *testing.T) {
	f := newFixture(t, Options{})

	sess, err := f.registry.Create(context.Background(), models.CreateSessionRequest{TTL: 60_000})
	require.NoError(t, err)

	f.registry.Abort(sess.ID)

	_, err = f.registry.Get(sess.ID)
	assert.Equal(t, models.KindSessionNotFound, models.KindOf(err))
	assert.Equal(t, 1, f.driver.Last().CloseCount)
}
