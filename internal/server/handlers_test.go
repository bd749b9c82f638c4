package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/stritefax/heelixchat/internal/config"
	"github.com/stritefax/heelixchat/internal/embedding"
	"github.com/stritefax/heelixchat/internal/keyword"
	"github.com/stritefax/heelixchat/internal/models"
	"github.com/stritefax/heelixchat/internal/search"
	"github.com/stritefax/heelixchat/internal/similarity"
	"github.com/stritefax/heelixchat/internal/storage"
	"github.com/stritefax/heelixchat/internal/vector"
)

type mockWatchService struct {
	dirs []string
}

func (m *mockWatchService) Directories() []string {
	return append([]string(nil), m.dirs...)
}

func (m *mockWatchService) AddDirectory(path string, _ bool) error {
	for _, d := range m.dirs {
		if d == path {
			return nil
		}
	}
	m.dirs = append(m.dirs, path)
	return nil
}

func (m *mockWatchService) RemoveDirectory(path string) error {
	for i, d := range m.dirs {
		if d == path {
			m.dirs = append(m.dirs[:i], m.dirs[i+1:]...)
			return nil
		}
	}
	return nil
}

// recordingEmbedder remembers the last credential it was called with.
type recordingEmbedder struct {
	embedding.Embedder
	mu         sync.Mutex
	credential string
}

func (e *recordingEmbedder) Embed(ctx context.Context, text, credential string) ([]float32, error) {
	e.mu.Lock()
	e.credential = credential
	e.mu.Unlock()
	return e.Embedder.Embed(ctx, text, credential)
}

func (e *recordingEmbedder) last() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.credential
}

type failingEmbedder struct{ embedding.Embedder }

func (failingEmbedder) Embed(context.Context, string, string) ([]float32, error) {
	return nil, &embedding.ProviderError{Provider: "test", StatusCode: 500, Err: errors.New("boom")}
}

type testServer struct {
	srv    *Server
	router http.Handler
	cfg    *config.Config
	dir    string
}

func newTestServer(t *testing.T, emb embedding.Embedder, watch WatchService, opts ...similarity.Option) *testServer {
	t.Helper()
	dir := t.TempDir()
	logger := zaptest.NewLogger(t)

	cfg := &config.Config{Storage: config.StorageConfig{DataDir: dir}}
	config.ApplyDefaults(cfg)
	cfg.Embedding.APIKey = "sk-config"

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	require.NoError(t, err)
	kw, err := keyword.NewBleveIndex(cfg.Storage.KeywordIndexPath)
	require.NoError(t, err)

	opts = append([]similarity.Option{similarity.WithLogger(logger)}, opts...)
	handle := similarity.NewHandle(func() (*similarity.Search, error) {
		return similarity.Open(cfg.Storage.IndexDir, cfg.Index.Collection, emb, opts...)
	}, logger)
	t.Cleanup(func() {
		_ = handle.Drop(context.Background())
		_ = kw.Close()
		_ = store.Close()
	})

	engine := search.NewEngine(store, kw, handle, &cfg.Retrieval, logger)
	srv := NewServer(engine, store, handle, cfg, "", watch, logger)
	return &testServer{srv: srv, router: srv.Router(), cfg: cfg, dir: dir}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(headers); i += 2 {
		r.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, r)
	return w
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, embedding.NewMockEmbedder(8), nil)
	w := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestIndexThenSearchAndContext(t *testing.T) {
	ts := newTestServer(t, embedding.NewMockEmbedder(8), nil)

	w := ts.do(t, http.MethodPost, "/api/v1/documents", models.DocumentInput{ID: 5, Content: "weekly planning notes"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	w = ts.do(t, http.MethodPost, "/api/v1/search", models.SearchQuery{Query: "weekly planning notes", K: 1})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp models.SearchResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotEmpty(t, resp.Hits)
	assert.Equal(t, int64(5), resp.Hits[0].ID)

	w = ts.do(t, http.MethodPost, "/api/v1/context", models.ContextQuery{Query: "weekly planning notes", K: 1})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var ctxResp models.ContextResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&ctxResp))
	assert.Equal(t, "Document ID: 5\nContent:\nweekly planning notes\n\n", ctxResp.Context)

	w = ts.do(t, http.MethodGet, "/api/v1/documents/5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var doc models.Document
	require.NoError(t, json.NewDecoder(w.Body).Decode(&doc))
	assert.Equal(t, "weekly planning notes", doc.Content)
}

func TestBadRequests(t *testing.T) {
	ts := newTestServer(t, embedding.NewMockEmbedder(8), nil)

	cases := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"document body", http.MethodPost, "/api/v1/documents", "not an object", http.StatusBadRequest},
		{"empty content", http.MethodPost, "/api/v1/documents", models.DocumentInput{ID: 1}, http.StatusBadRequest},
		{"empty query", http.MethodPost, "/api/v1/search", models.SearchQuery{}, http.StatusBadRequest},
		{"k too large", http.MethodPost, "/api/v1/search", models.SearchQuery{Query: "q", K: 11}, http.StatusBadRequest},
		{"negative k", http.MethodPost, "/api/v1/search", models.SearchQuery{Query: "q", K: -1}, http.StatusBadRequest},
		{"context k", http.MethodPost, "/api/v1/context", models.ContextQuery{Query: "q", K: 11}, http.StatusBadRequest},
		{"document id", http.MethodGet, "/api/v1/documents/abc", nil, http.StatusBadRequest},
		{"unknown document", http.MethodGet, "/api/v1/documents/999", nil, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := ts.do(t, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.want, w.Code, w.Body.String())
		})
	}
}

func TestCredentialFromBearerOrConfig(t *testing.T) {
	emb := &recordingEmbedder{Embedder: embedding.NewMockEmbedder(8)}
	ts := newTestServer(t, emb, nil)

	w := ts.do(t, http.MethodPost, "/api/v1/search", models.SearchQuery{Query: "q", K: 1}, "Authorization", "Bearer sk-request")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sk-request", emb.last())

	w = ts.do(t, http.MethodPost, "/api/v1/search", models.SearchQuery{Query: "q", K: 1})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sk-config", emb.last())
}

func TestProviderErrorIsBadGateway(t *testing.T) {
	ts := newTestServer(t, failingEmbedder{embedding.NewMockEmbedder(8)}, nil)
	w := ts.do(t, http.MethodPost, "/api/v1/search", models.SearchQuery{Query: "q", K: 1})
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestStoppedWorkerIsServiceUnavailable(t *testing.T) {
	ts := newTestServer(t, embedding.NewMockEmbedder(8), nil,
		similarity.WithEngineOptions(vector.Options{MaxElements: 1}))

	for _, id := range []int64{1, 2} {
		w := ts.do(t, http.MethodPost, "/api/v1/documents", models.DocumentInput{ID: id, Content: "text"})
		require.Equal(t, http.StatusAccepted, w.Code)
	}
	w := ts.do(t, http.MethodPost, "/api/v1/search", models.SearchQuery{Query: "text", K: 1})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, w.Body.String())
}

func TestSync(t *testing.T) {
	ts := newTestServer(t, embedding.NewMockEmbedder(8), nil)
	_ = ts.do(t, http.MethodPost, "/api/v1/documents", models.DocumentInput{ID: 1, Content: "saved"})

	w := ts.do(t, http.MethodPost, "/api/v1/sync", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/sync", syncRequest{Wait: true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	staged := vector.DataPath(ts.cfg.Storage.IndexDir, ts.cfg.Index.Collection+"_staged")
	assert.FileExists(t, staged)
}

func TestStatus(t *testing.T) {
	ts := newTestServer(t, embedding.NewMockEmbedder(8), nil)
	_ = ts.do(t, http.MethodPost, "/api/v1/documents", models.DocumentInput{ID: 1, Content: "counted"})

	w := ts.do(t, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out struct {
		Documents int64          `json:"documents"`
		Index     map[string]any `json:"index"`
		Config    map[string]any `json:"config"`
		Store     struct {
			Database     int64 `json:"database_bytes"`
			KeywordIndex int64 `json:"keyword_index_bytes"`
		} `json:"store"`
		Snapshot  similarity.SnapshotUsage `json:"snapshot"`
		DiskUsage int64                    `json:"disk_usage_bytes"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	assert.Equal(t, int64(1), out.Documents)
	assert.Positive(t, out.Store.Database)
	assert.Equal(t, out.Store.Database+out.Store.KeywordIndex+out.Snapshot.Total(), out.DiskUsage)
	assert.EqualValues(t, 1, out.Index["nodes"])
	assert.Equal(t, "running", out.Index["state"])
	assert.Equal(t, "hnsw", out.Config["index_type"])
}

func TestWatchDirectories(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		ts := newTestServer(t, embedding.NewMockEmbedder(8), nil)
		w := ts.do(t, http.MethodGet, "/api/v1/watch/directories", nil)
		assert.Equal(t, http.StatusNotImplemented, w.Code)
	})

	mock := &mockWatchService{dirs: []string{"/tmp/inbox"}}
	ts := newTestServer(t, embedding.NewMockEmbedder(8), mock)

	w := ts.do(t, http.MethodGet, "/api/v1/watch/directories", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"directories":["/tmp/inbox"]}`, w.Body.String())

	w = ts.do(t, http.MethodPost, "/api/v1/watch/directories", watchAddRequest{Path: filepath.Join(ts.dir, "missing")})
	assert.Equal(t, http.StatusNotFound, w.Code)

	inbox := filepath.Join(ts.dir, "inbox")
	require.NoError(t, os.Mkdir(inbox, 0o755))
	w = ts.do(t, http.MethodPost, "/api/v1/watch/directories", watchAddRequest{Path: inbox})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, mock.Directories(), inbox)

	w = ts.do(t, http.MethodDelete, "/api/v1/watch/directories?path="+inbox, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, mock.Directories(), inbox)
}
