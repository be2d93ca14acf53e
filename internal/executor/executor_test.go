package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudpeek/browsergrid/internal/browser/browsertest"
	"github.com/cloudpeek/browsergrid/internal/command"
	"github.com/cloudpeek/browsergrid/internal/session"
	"github.com/cloudpeek/browsergrid/pkg/models"
)

type fixture struct {
	executor *Executor
	registry *session.Registry
	driver   *browsertest.Driver
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		driver: browsertest.NewDriver(),
		now:    time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
	}
	f.registry = session.NewRegistry(session.Options{
		Driver:      f.driver,
		MaxSessions: 5,
		DataDir:     t.TempDir(),
		ArtifactDir: t.TempDir(),
		Now:         func() time.Time { return f.now },
	})
	f.executor = New(f.registry, command.NewDispatcher(), nil, nil)
	return f
}

func (f *fixture) createSession(t *testing.T) string {
	t.Helper()
	sess, err := f.registry.Create(context.Background(), models.CreateSessionRequest{TTL: 60_000})
	require.NoError(t, err)
	return sess.ID
}

func navigateReq(url string) models.CommandRequest {
	return models.CommandRequest{Name: "navigate", Options: map[string]any{"url": url}}
}

func TestExecuteManyHaltsOnFirstFailure(t *testing.T) {
	f := newFixture(t)
	id := f.createSession(t)
	f.driver.Last().Tgt.Fail["click"] = errors.New("no element matches selector #missing")

	result, err := f.executor.ExecuteMany(id, []models.CommandRequest{
		navigateReq("http://example.com"),
		{Name: "click", Selector: "#missing"},
		{Name: "extract", Selector: "h1"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.CompletedCount)
	assert.Equal(t, 3, result.TotalCount)
	assert.True(t, result.Halted)
	require.Len(t, result.Results, 2)

	assert.Equal(t, models.CommandSuccess, result.Results[0].Status)
	assert.Equal(t, "http://example.com", result.Results[0].Value)
	assert.Equal(t, models.CommandError, result.Results[1].Status)
	assert.Equal(t, models.KindElementNotFound, result.Results[1].Kind)

	// extract was never attempted
	calls := f.driver.Last().Tgt.Calls()
	assert.Equal(t, []string{"navigate:http://example.com", "click:#missing"}, calls)
}

func TestExecuteManyAllSucceed(t *testing.T) {
	f := newFixture(t)
	id := f.createSession(t)

	result, err := f.executor.ExecuteMany(id, []models.CommandRequest{
		navigateReq("http://example.com"),
		{Name: "extract", Selector: "h1"},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.CompletedCount)
	assert.Equal(t, 2, result.TotalCount)
	assert.False(t, result.Halted)
	require.Len(t, result.Results, 2)
	assert.Equal(t, "text of h1", result.Results[1].Value)

	for _, r := range result.Results {
		assert.GreaterOrEqual(t, r.DurationMs, 0.0)
	}
}

func TestCommandNotFoundBeforeAnySideEffect(t *testing.T) {
	f := newFixture(t)
	id := f.createSession(t)

	_, err := f.executor.ExecuteMany(id, []models.CommandRequest{
		navigateReq("http://example.com"),
		{Name: "teleport"},
	})
	assert.Equal(t, models.KindCommandNotFound, models.KindOf(err))

	// nothing ran, including the valid first command
	assert.Empty(t, f.driver.Last().Tgt.Calls())
}

func TestSessionNotFoundRaisesDirectly(t *testing.T) {
	f := newFixture(t)

	_, err := f.executor.ExecuteMany("ghost", []models.CommandRequest{navigateReq("http://example.com")})
	assert.Equal(t, models.KindSessionNotFound, models.KindOf(err))

	_, err = f.executor.ExecuteOne("ghost", navigateReq("http://example.com"))
	assert.Equal(t, models.KindSessionNotFound, models.KindOf(err))
}

func TestTTLResetsPerSequence(t *testing.T) {
	f := newFixture(t)
	id := f.createSession(t)
	created, err := f.registry.Get(id)
	require.NoError(t, err)

	// a fully successful sequence renews the TTL once
	f.now = f.now.Add(20 * time.Second)
	_, err = f.executor.ExecuteMany(id, []models.CommandRequest{navigateReq("http://example.com")})
	require.NoError(t, err)

	renewed, err := f.registry.Get(id)
	require.NoError(t, err)
	assert.Equal(t, f.now.Add(time.Minute), renewed.ExpiresAt)
	assert.True(t, renewed.ExpiresAt.After(created.ExpiresAt))

	// a halted sequence does not renew
	f.driver.Last().Tgt.Fail["click"] = errors.New("no element matches selector #x")
	f.now = f.now.Add(20 * time.Second)
	result, err := f.executor.ExecuteMany(id, []models.CommandRequest{{Name: "click", Selector: "#x"}})
	require.NoError(t, err)
	require.True(t, result.Halted)

	after, err := f.registry.Get(id)
	require.NoError(t, err)
	assert.Equal(t, renewed.ExpiresAt, after.ExpiresAt)
}

func TestExecutionErrorTearsSessionDown(t *testing.T) {
	f := newFixture(t)
	id := f.createSession(t)
	f.driver.Last().Tgt.Fail["navigate"] = errors.New("browser crashed")

	result, err := f.executor.ExecuteMany(id, []models.CommandRequest{navigateReq("http://example.com")})
	require.NoError(t, err)
	require.True(t, result.Halted)
	assert.Equal(t, models.KindExecution, result.Results[0].Kind)

	// session treated as unrecoverable
	_, err = f.registry.Get(id)
	assert.Equal(t, models.KindSessionNotFound, models.KindOf(err))
}

func TestTimeoutDoesNotTearSessionDown(t *testing.T) {
	f := newFixture(t)
	id := f.createSession(t)
	f.driver.Last().Tgt.Fail["click"] = errors.New("Timeout 30000ms exceeded")

	result, err := f.executor.ExecuteMany(id, []models.CommandRequest{{Name: "click", Selector: "#slow"}})
	require.NoError(t, err)
	assert.Equal(t, models.KindTimeout, result.Results[0].Kind)

	_, err = f.registry.Get(id)
	assert.NoError(t, err)
}

func TestExecuteOne(t *testing.T) {
	f := newFixture(t)
	id := f.createSession(t)

	value, err := f.executor.ExecuteOne(id, navigateReq("http://example.com"))
	require.NoError(t, err)
	assert.Equal(t, "http://example.com", value)

	_, err = f.executor.ExecuteOne(id, models.CommandRequest{Name: "teleport"})
	assert.Equal(t, models.KindCommandNotFound, models.KindOf(err))
}
