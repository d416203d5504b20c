package planlinesdk_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	planlinesdk "planline/sdk/go"

	"planline/internal/config"
	"planline/internal/db"
	"planline/internal/engine"
	"planline/internal/migrate"
	"planline/internal/server"
)

const secret = "sdk-secret"

func newClient(t *testing.T) *planlinesdk.Client {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(conn))
	e := engine.New(conn, config.Default("roadmap"))
	ctx := context.Background()
	_, err = e.InitProject(ctx, "roadmap", "", "tester")
	require.NoError(t, err)
	_, err = e.CreateSection(ctx, engine.SectionCreateOptions{ID: "now", ProjectID: "roadmap", Name: "Now"})
	require.NoError(t, err)

	handler, err := server.New(server.Config{Engine: e, BasePath: "/v0", Auth: server.AuthConfig{JWTSecret: secret}})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		conn.Close()
	})
	token, err := server.SignToken(secret, "sdk-user", time.Hour, time.Now())
	require.NoError(t, err)
	return planlinesdk.New(srv.URL+"/v0", "roadmap", token)
}

func TestClientHierarchyRoundTrip(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	goal, err := c.CreateItem(ctx, "now", "goal", "Launch")
	require.NoError(t, err)
	ms, err := c.CreateItem(ctx, "now", "milestone", "Beta")
	require.NoError(t, err)
	task, err := c.CreateItem(ctx, "now", "task", "Write docs")
	require.NoError(t, err)

	res, err := c.Attach(ctx, ms.ID, goal.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Item.ItemDepth)
	_, err = c.Attach(ctx, task.ID, ms.ID)
	require.NoError(t, err)

	path, err := c.Path(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, path, 3)
	assert.Equal(t, []string{"Launch", "Beta", "Write docs"}, []string{path[0].Title, path[1].Title, path[2].Title})

	desc, err := c.Descendants(ctx, goal.ID)
	require.NoError(t, err)
	assert.Len(t, desc, 2)

	forest, err := c.Tree(ctx, "", false)
	require.NoError(t, err)
	require.Len(t, forest, 1)
	assert.Equal(t, 2, forest[0].DescendantCount)

	res, err = c.Move(ctx, ms.ID, "")
	require.NoError(t, err)
	assert.Nil(t, res.Item.ParentItemID)
	assert.Equal(t, 1, res.Repaired)

	res, err = c.Detach(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Item.ItemDepth)

	page, err := c.EventsPage(ctx, 2, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "item.detached", page.Items[0].Type)
	assert.Equal(t, "sdk-user", page.Items[0].ActorID)
	assert.NotEmpty(t, page.NextCursor)
}

func TestClientSurfacesErrorCodes(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()
	goal, err := c.CreateItem(ctx, "now", "goal", "Launch")
	require.NoError(t, err)
	ms, err := c.CreateItem(ctx, "now", "milestone", "Beta")
	require.NoError(t, err)
	_, err = c.Attach(ctx, ms.ID, goal.ID)
	require.NoError(t, err)

	_, err = c.Move(ctx, goal.ID, ms.ID)
	var apiErr *planlinesdk.APIError
	require.True(t, errors.As(err, &apiErr), err)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "cycle_detected", apiErr.Code)

	_, err = c.Path(ctx, "ghost")
	require.True(t, errors.As(err, &apiErr), err)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "not_found", apiErr.Code)
}

func TestClientRejectedWithoutToken(t *testing.T) {
	c := newClient(t)
	c.BearerToken = ""
	_, err := c.Tree(context.Background(), "", false)
	var apiErr *planlinesdk.APIError
	require.True(t, errors.As(err, &apiErr), err)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "unauthorized", apiErr.Code)
}

func TestAPIErrorKeepsRawBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()
	c := planlinesdk.New(srv.URL, "roadmap", "")
	_, err := c.Descendants(context.Background(), "x")
	var apiErr *planlinesdk.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Empty(t, apiErr.Code)
	assert.Contains(t, apiErr.Error(), "upstream down")
}
