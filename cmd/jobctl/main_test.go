package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	mw "github.com/kiranshivaraju/genqueue/internal/api/middleware"
	"github.com/kiranshivaraju/genqueue/internal/config"
	"github.com/kiranshivaraju/genqueue/internal/queue"
	"github.com/kiranshivaraju/genqueue/internal/store"
	"github.com/kiranshivaraju/genqueue/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	st  queue.Status
	err error
}

func (f fakeQueue) Status(context.Context) (queue.Status, error) { return f.st, f.err }

func testApp(t *testing.T) (*app, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	a := defaultApp()
	a.out = out
	a.openQueue = func(_ context.Context, _ string, cfg config.QueueConfig) (queueStatus, func(), error) {
		return fakeQueue{st: queue.Status{DefaultQueue: cfg.Name, Workers: []string{"w1"}}}, func() {}, nil
	}
	return a, out
}

func execute(t *testing.T, a *app, args ...string) error {
	t.Helper()
	cmd := newRootCmd(a)
	cmd.SetArgs(args)
	cmd.SetErr(&bytes.Buffer{})
	return cmd.Execute()
}

func sqliteURL(t *testing.T) string {
	return "sqlite://" + filepath.Join(t.TempDir(), "jobctl.db")
}

func TestMigrate_AppliesSQLiteSchema(t *testing.T) {
	a, out := testApp(t)
	url := sqliteURL(t)

	require.NoError(t, execute(t, a, "migrate", "--database-url", url))
	assert.Contains(t, out.String(), "migrations applied (sqlite)")

	// Migrating again is a no-op.
	require.NoError(t, execute(t, a, "migrate", "--database-url", url))
}

func TestMigrate_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	a, _ := testApp(t)

	err := execute(t, a, "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database URL is required")
}

func TestAPIKeyCreate_IssuesVerifiableKey(t *testing.T) {
	a, out := testApp(t)
	url := sqliteURL(t)
	require.NoError(t, execute(t, a, "migrate", "--database-url", url))
	out.Reset()

	require.NoError(t, execute(t, a, "apikey", "create", "--database-url", url,
		"--user", "u1", "--name", "ci", "--scopes", "jobs,admin"))

	var created struct {
		Key    string   `json:"key"`
		UserID string   `json:"user_id"`
		Scopes []string `json:"scopes"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &created))
	assert.Equal(t, "u1", created.UserID)
	assert.Equal(t, []string{"jobs", "admin"}, created.Scopes)
	assert.Equal(t, mw.KeyPrefix, created.Key[:len(mw.KeyPrefix)])

	s, err := store.OpenSQLite(store.SQLitePath(url))
	require.NoError(t, err)
	defer s.Close()

	key, err := mw.NewAuth(s).Verify(context.Background(), created.Key)
	require.NoError(t, err)
	assert.Equal(t, "u1", key.UserID)
	assert.True(t, key.HasScope("admin"))
}

func TestAPIKeyCreate_RejectsUnknownScope(t *testing.T) {
	a, _ := testApp(t)

	err := execute(t, a, "apikey", "create", "--database-url", sqliteURL(t), "--user", "u1", "--scopes", "root")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown scope")
}

func TestJobsList(t *testing.T) {
	a, out := testApp(t)
	url := sqliteURL(t)
	require.NoError(t, execute(t, a, "migrate", "--database-url", url))

	s, err := store.OpenSQLite(store.SQLitePath(url))
	require.NoError(t, err)
	ctx := context.Background()
	job := &models.Job{UserID: "u1", Type: models.JobTypeText, InputData: map[string]any{"prompt": "x"}}
	require.NoError(t, s.InsertJob(ctx, job))
	s.Close()

	out.Reset()
	require.NoError(t, execute(t, a, "jobs", "list", "--database-url", url, "--status", "PENDING"))
	var byStatus []models.Job
	require.NoError(t, json.Unmarshal(out.Bytes(), &byStatus))
	require.Len(t, byStatus, 1)
	assert.Equal(t, job.ID, byStatus[0].ID)

	out.Reset()
	require.NoError(t, execute(t, a, "jobs", "list", "--database-url", url, "--user", "u2"))
	assert.JSONEq(t, "[]", out.String())

	err = execute(t, a, "jobs", "list", "--database-url", url)
	assert.Error(t, err)
}

func TestQueueStatus(t *testing.T) {
	a, out := testApp(t)

	require.NoError(t, execute(t, a, "queue", "status", "--redis-url", "redis://localhost:6379", "--queue", "ai_jobs"))

	var st queue.Status
	require.NoError(t, json.Unmarshal(out.Bytes(), &st))
	assert.Equal(t, "ai_jobs", st.DefaultQueue)
	assert.Equal(t, []string{"w1"}, st.Workers)
}

func TestQueueStatus_BrokerErrorStillPrintsStatus(t *testing.T) {
	a, out := testApp(t)
	a.openQueue = func(context.Context, string, config.QueueConfig) (queueStatus, func(), error) {
		return fakeQueue{st: queue.Status{Error: "connection refused"}, err: errors.New("connection refused")}, func() {}, nil
	}

	err := execute(t, a, "queue", "status", "--redis-url", "redis://localhost:6379")
	require.Error(t, err)
	assert.Contains(t, out.String(), "connection refused")
}
