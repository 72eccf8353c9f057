package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launchq/internal/models"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /project/{id}/version", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, `["fabric"]`, r.URL.Query().Get("loaders"))
		assert.Equal(t, `["1.20.1"]`, r.URL.Query().Get("game_versions"))
		json.NewEncoder(w).Encode([]Version{{
			ID:        "v2",
			ProjectID: r.PathValue("id"),
			Files:     []File{{Filename: "b.jar", URL: "https://cdn/b.jar", Hashes: map[string]string{"sha1": "bb"}}},
			Dependencies: []models.Dependency{
				{ProjectID: "C", Type: models.DependencyOptional},
			},
		}})
	})
	mux.HandleFunc("GET /version/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "missing" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(Version{ID: r.PathValue("id"), ProjectID: "A"})
	})
	mux.HandleFunc("GET /project/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("upstream exploded"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_GetVersions(t *testing.T) {
	c := NewClient(newTestServer(t).URL)

	versions, err := c.GetVersions(context.Background(), "B", []string{"fabric"}, []string{"1.20.1"})
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, "B", versions[0].ProjectID)
	assert.Equal(t, models.DependencyOptional, versions[0].Dependencies[0].Type)

	f, ok := versions[0].PrimaryFile()
	require.True(t, ok)
	dl := versions[0].Download(f, "Lithium")
	assert.Equal(t, "bb", dl.Hash)
	assert.Equal(t, "v2", dl.Version)
	assert.Equal(t, "B", dl.ContentID)
}

func TestClient_Errors(t *testing.T) {
	c := NewClient(newTestServer(t).URL, WithRetry(2, time.Millisecond))

	_, err := c.GetVersion(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.GetProject(context.Background(), "A")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "upstream exploded")
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/project/bad":
			calls.Add(1)
			w.WriteHeader(http.StatusBadRequest)
		case calls.Add(1) < 3:
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			json.NewEncoder(w).Encode(Project{ID: "A", Title: "Sodium"})
		}
	}))
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, WithRetry(3, time.Millisecond))

	p, err := c.GetProject(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, "Sodium", p.Title)
	assert.Equal(t, int32(3), calls.Load())

	calls.Store(0)
	_, err = c.GetProject(context.Background(), "bad")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := retryPolicy{attempts: 5, initialDelay: time.Second}
	for attempt := 1; attempt <= 6; attempt++ {
		d := p.backoff(attempt)
		assert.LessOrEqual(t, d, maxRetryDelay+maxRetryDelay/2)
		assert.Positive(t, d)
	}
}

func TestVersion_PrimaryFile(t *testing.T) {
	v := Version{Files: []File{{Filename: "sources.jar"}, {Filename: "main.jar", Primary: true}}}
	f, ok := v.PrimaryFile()
	require.True(t, ok)
	assert.Equal(t, "main.jar", f.Filename)

	v.Files[1].Primary = false
	f, _ = v.PrimaryFile()
	assert.Equal(t, "sources.jar", f.Filename)

	_, ok = Version{}.PrimaryFile()
	assert.False(t, ok)
}

func TestPlainText(t *testing.T) {
	assert.Equal(t, "Adds sodium. Fast!", PlainText("<p>Adds <b>sodium</b>.</p>\n<script>x()</script><p>Fast!</p>"))
	assert.Equal(t, "plain words", PlainText("plain   words\n"))

	long := PlainText(strings.Repeat("word ", 100))
	assert.LessOrEqual(t, len([]rune(long)), maxSummary)
}

type countingCatalog struct {
	versionCalls int
}

func (c *countingCatalog) GetVersions(ctx context.Context, projectID string, loaders, gameVersions []string) ([]Version, error) {
	c.versionCalls++
	return []Version{{ID: "v1", ProjectID: projectID}}, nil
}

func (c *countingCatalog) GetVersion(ctx context.Context, versionID string) (Version, error) {
	c.versionCalls++
	return Version{ID: versionID}, nil
}

func (c *countingCatalog) GetProject(ctx context.Context, projectID string) (Project, error) {
	return Project{ID: projectID, Title: "Sodium"}, nil
}

func TestCache_ServesFreshEntries(t *testing.T) {
	next := &countingCatalog{}
	cache, err := NewCache(next, t.TempDir(), time.Minute)
	require.NoError(t, err)
	defer cache.Close()

	now := time.Now()
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		versions, err := cache.GetVersions(ctx, "A", []string{"fabric"}, []string{"1.20.1"})
		require.NoError(t, err)
		assert.Equal(t, "v1", versions[0].ID)
	}
	assert.Equal(t, 1, next.versionCalls)

	_, err = cache.GetVersions(ctx, "A", []string{"forge"}, []string{"1.20.1"})
	require.NoError(t, err)
	assert.Equal(t, 2, next.versionCalls)

	now = now.Add(2 * time.Minute)
	_, err = cache.GetVersions(ctx, "A", []string{"fabric"}, []string{"1.20.1"})
	require.NoError(t, err)
	assert.Equal(t, 3, next.versionCalls)

	p, err := cache.GetProject(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "Sodium", p.Title)
}
