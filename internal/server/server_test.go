package server

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	feedapi "reddot-watch/feedpager/internal/api"
	"reddot-watch/feedpager/internal/backoff"
	"reddot-watch/feedpager/internal/database"
	"reddot-watch/feedpager/internal/feed"
	"reddot-watch/feedpager/internal/models"
)

func newTestServer(t *testing.T, apiKey string, postCount int) (*httptest.Server, *database.DB) {
	t.Helper()

	db, err := database.NewDB(database.NewConfig(filepath.Join(t.TempDir(), "posts.db")))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	posts := make([]models.Post, postCount)
	for i := range posts {
		posts[i] = models.Post{
			ID:          fmt.Sprintf("post-%02d", i),
			URL:         fmt.Sprintf("https://news.example/%d", i),
			Title:       fmt.Sprintf("Post %d", i),
			PublishedAt: base.Add(-time.Duration(i) * time.Minute),
		}
	}
	_, _, err = db.InsertPosts(context.Background(), posts)
	require.NoError(t, err)

	srv := httptest.NewServer(NewHandler(db, zerolog.Nop(), apiKey))
	t.Cleanup(srv.Close)
	return srv, db
}

func TestHealthSkipsAPIKey(t *testing.T) {
	srv, _ := newTestServer(t, "secret", 0)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
}

func TestAPIKeyRequired(t *testing.T) {
	srv, _ := newTestServer(t, "secret", 3)

	resp, err := http.Get(srv.URL + "/v1/posts")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/posts", nil)
	req.Header.Set("X-API-Key", "wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req.Header.Set("X-API-Key", "secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Request-Id"))
}

func TestExportSources(t *testing.T) {
	srv, db := newTestServer(t, "", 0)

	src := models.NewSource()
	src.URL = "https://feeds.example/rss"
	src.Language = sql.NullString{String: "en", Valid: true}
	require.NoError(t, db.InsertSource(context.Background(), src))

	resp, err := http.Get(srv.URL + "/v1/sources")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	assert.Equal(t, "url,comments,language,status\nhttps://feeds.example/rss,,en,active\n", string(body))
}

func TestClientPagesThroughBackend(t *testing.T) {
	srv, db := newTestServer(t, "secret", 25)

	client, err := feedapi.NewClient(srv.URL+"/v1", feedapi.WithAPIKey("secret"))
	require.NoError(t, err)

	ctrl := feed.NewController[models.Post](client, client, feed.Options[models.Post]{
		PageFullThreshold: 20,
		Sleep:             func(context.Context, time.Duration) error { return nil },
		Retry:             backoff.Default,
	})
	defer ctrl.Close()

	ctrl.Start()
	ctrl.Wait()

	snap := ctrl.Snapshot()
	require.NoError(t, snap.Err)
	assert.Equal(t, 20, snap.Loaded)
	assert.True(t, snap.HasMore)
	assert.Equal(t, "post-00", snap.Items[0].Item.ID)

	// Viewing half of the loaded posts pulls the second, final page.
	for i := 0; i < len(snap.Items) && ctrl.Snapshot().Loaded == 20; i++ {
		ctrl.ReportIndex(i)
	}
	ctrl.Wait()

	snap = ctrl.Snapshot()
	require.NoError(t, snap.Err)
	assert.Equal(t, 25, snap.Loaded)
	assert.False(t, snap.HasMore)
	assert.Equal(t, feed.KindEndOfFeed, snap.Items[len(snap.Items)-1].Kind)

	var viewed int
	require.NoError(t, db.Get(&viewed, "SELECT COUNT(*) FROM posts WHERE view_count > 0"))
	assert.Equal(t, snap.Viewed, viewed)
	assert.GreaterOrEqual(t, viewed, 10)
}
