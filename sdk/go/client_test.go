package campusworkssdk

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusworks/internal/config"
	"campusworks/internal/db"
	"campusworks/internal/engine"
	"campusworks/internal/migrate"
	"campusworks/internal/server"
)

const secret = "sdk-secret"

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)
	e := engine.New(conn, config.Default())
	e.Log = log.New(io.Discard)
	handler, err := server.New(server.Config{
		Engine: e,
		Logger: log.New(io.Discard),
		Auth:   server.AuthConfig{JWTSecret: secret},
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func clientFor(t *testing.T, srv *httptest.Server, actor string) *Client {
	t.Helper()
	token, err := server.IssueToken(secret, actor, nil, time.Hour, time.Now())
	require.NoError(t, err)
	c := New(srv.URL, token)
	c.HTTPClient = srv.Client()
	return c
}

func TestClientDrivesLifecycle(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	biz := clientFor(t, srv, "biz")
	team := clientFor(t, srv, "team-a")

	state, err := biz.CreateProject(ctx, CreateProjectInput{
		ID:       "p1",
		Title:    "Booking site",
		Budget:   "90",
		Schedule: "thirds",
	})
	require.NoError(t, err)
	assert.Equal(t, "draft", state.Project.Status)
	assert.Len(t, state.Project.Plan, 3)

	_, err = biz.Submit(ctx, "p1")
	require.NoError(t, err)
	_, err = biz.Approve(ctx, "p1")
	require.NoError(t, err)

	_, err = team.PutTeam(ctx, Team{ID: "team-a", Name: "Team A", Rating: 4, PastProjects: 3, Reliability: 0.9})
	require.NoError(t, err)
	_, err = team.Apply(ctx, "p1", "team-a", "fast and tidy")
	require.NoError(t, err)

	apps, err := biz.Applications(ctx, "p1", "past_projects")
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, float64(3), apps[0].Key)
	require.NotNil(t, apps[0].Team)

	state, err = biz.SelectTeam(ctx, "p1", "team-a")
	require.NoError(t, err)
	require.NotNil(t, state.Gate)
	assert.Equal(t, "milestone:0", state.Gate.Subject)

	for _, it := range state.Gate.Items {
		_, err = biz.CheckItem(ctx, "p1", it.ID, true)
		require.NoError(t, err)
	}
	_, err = biz.Consent(ctx, "p1", true)
	require.NoError(t, err)
	state, err = biz.PassGate(ctx, "p1")
	require.NoError(t, err)
	assert.NotEmpty(t, state.Gate.PassToken)

	state, err = biz.ApproveMilestone(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, state.Ledger)
	assert.Equal(t, "29.7", state.Ledger.Released)

	page, err := biz.EventsPage(ctx, "p1", 1, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.NotEmpty(t, page.NextCursor)

	teams, err := biz.Teams(ctx)
	require.NoError(t, err)
	assert.Len(t, teams, 1)
}

func TestClientSurfacesErrorEnvelope(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	biz := clientFor(t, srv, "biz")

	_, err := biz.Project(ctx, "missing", "")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "project_not_found", apiErr.Code)

	anon := New(srv.URL, "")
	anon.HTTPClient = srv.Client()
	_, err = anon.ListProjects(ctx, "")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	_, err = biz.CreateProject(ctx, CreateProjectInput{ID: "p1", Title: "x", Budget: "10"})
	require.NoError(t, err)
	_, err = biz.Cancel(ctx, "p1", "changed plans")
	require.NoError(t, err)
	_, err = biz.Submit(ctx, "p1")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "invalid_state", apiErr.Code)
}
