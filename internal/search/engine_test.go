package search

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/stritefax/heelixchat/internal/config"
	"github.com/stritefax/heelixchat/internal/embedding"
	"github.com/stritefax/heelixchat/internal/keyword"
	"github.com/stritefax/heelixchat/internal/models"
	"github.com/stritefax/heelixchat/internal/similarity"
	"github.com/stritefax/heelixchat/internal/storage"
	"github.com/stritefax/heelixchat/internal/vector"
)

type testEnv struct {
	engine *Engine
	store  *storage.SQLiteStorage
	handle *similarity.Handle
	dir    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	logger := zaptest.NewLogger(t)

	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "docs.db"))
	require.NoError(t, err)
	kw, err := keyword.NewMemoryBleveIndex()
	require.NoError(t, err)

	emb := embedding.NewMockEmbedder(16)
	indexDir := filepath.Join(dir, "vectors")
	handle := similarity.NewHandle(func() (*similarity.Search, error) {
		return similarity.Open(indexDir, similarity.DefaultCollection, emb, similarity.WithLogger(logger))
	}, logger)

	cfg := &config.RetrievalConfig{TopK: 10, KeywordCandidates: 3, MaxContextChars: 5000}
	t.Cleanup(func() {
		assert.NoError(t, handle.Drop(context.Background()))
		_ = kw.Close()
		_ = store.Close()
	})
	return &testEnv{
		engine: NewEngine(store, kw, handle, cfg, logger),
		store:  store,
		handle: handle,
		dir:    indexDir,
	}
}

func (env *testEnv) index(t *testing.T, id int64, title, content string) *models.Document {
	t.Helper()
	doc, err := env.engine.Index(context.Background(), &models.DocumentInput{ID: id, Title: title, Content: content}, "")
	require.NoError(t, err)
	return doc
}

func TestEngine_IndexThenSearch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	doc := env.index(t, 1, "standup", "discussed the release checklist")
	env.index(t, 2, "lunch", "ordered noodles")

	resp, err := env.engine.Search(ctx, &models.SearchQuery{Query: indexText(doc), K: 1}, "")
	require.NoError(t, err)
	require.NotEmpty(t, resp.Hits)

	first := resp.Hits[0]
	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, models.SourceSemantic, first.Source)
	assert.InDelta(t, 0, first.Distance, 1e-5)
	assert.Equal(t, "standup", first.Title)
	assert.Equal(t, "discussed the release checklist", first.Snippet)
}

func TestEngine_SearchAddsKeywordCandidates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.index(t, 1, "", "quarterly budget review")
	env.index(t, 2, "", "budget spreadsheet for marketing")

	resp, err := env.engine.Search(ctx, &models.SearchQuery{Query: "quarterly budget review", K: 1}, "")
	require.NoError(t, err)
	require.Len(t, resp.Hits, 2)
	assert.Equal(t, int64(1), resp.Hits[0].ID)
	assert.Equal(t, models.SourceSemantic, resp.Hits[0].Source)
	assert.Equal(t, int64(2), resp.Hits[1].ID)
	assert.Equal(t, models.SourceKeyword, resp.Hits[1].Source)
	assert.Greater(t, resp.Hits[1].Score, 0.0)
}

func TestEngine_SearchInvalidK(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.Search(context.Background(), &models.SearchQuery{Query: "x", K: similarity.MaxTopK + 1}, "")
	assert.ErrorIs(t, err, similarity.ErrInvalidK)
}

func TestEngine_ContextFormat(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.index(t, 7, "", "alpha notes")
	env.index(t, 8, "", "beta notes")

	resp, err := env.engine.Context(ctx, &models.ContextQuery{Query: "alpha notes", K: 1}, "")
	require.NoError(t, err)
	require.NotEmpty(t, resp.DocumentIDs)
	assert.Equal(t, int64(7), resp.DocumentIDs[0])
	assert.True(t, strings.HasPrefix(resp.Context, "Document ID: 7\nContent:\nalpha notes\n\n"), resp.Context)

	seen := map[int64]bool{}
	for _, id := range resp.DocumentIDs {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
}

func TestEngine_ContextEmpty(t *testing.T) {
	env := newTestEnv(t)
	resp, err := env.engine.Context(context.Background(), &models.ContextQuery{Query: "anything"}, "")
	require.NoError(t, err)
	assert.Equal(t, NoDocumentsContext, resp.Context)
	assert.Empty(t, resp.DocumentIDs)
}

func TestEngine_ContextTruncatesDocuments(t *testing.T) {
	env := newTestEnv(t)
	long := strings.Repeat("word ", 1200)
	env.index(t, 3, "", long)

	resp, err := env.engine.Context(context.Background(), &models.ContextQuery{Query: long, K: 1}, "")
	require.NoError(t, err)
	want := "Document ID: 3\nContent:\n" + strings.Repeat("word ", 1000) + "\n\n"
	assert.Equal(t, want, resp.Context)
}

func TestEngine_SkipsIDsMissingFromStore(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.handle.With(func(s *similarity.Search) error {
		return s.Add(ctx, 99, "orphan vector", "")
	}))
	resp, err := env.engine.Context(ctx, &models.ContextQuery{Query: "orphan vector"}, "")
	require.NoError(t, err)
	assert.Equal(t, NoDocumentsContext, resp.Context)
}

func TestEngine_Reindex(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i, text := range []string{"first entry", "second entry", "third entry"} {
		env.index(t, int64(i+1), "", text)
	}
	// a document stored without going through the index
	require.NoError(t, env.store.SaveDocument(ctx, &models.Document{ID: 4, Content: "stored only"}))

	n, err := env.engine.Reindex(ctx, "", 2)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	assert.FileExists(t, vector.DataPath(env.dir, similarity.DefaultCollection+"_staged"))

	resp, err := env.engine.Search(ctx, &models.SearchQuery{Query: "stored only", K: 1}, "")
	require.NoError(t, err)
	require.NotEmpty(t, resp.Hits)
	assert.Equal(t, int64(4), resp.Hits[0].ID)

	err = env.handle.With(func(s *similarity.Search) error {
		st, err := s.Stats(ctx)
		assert.Equal(t, 4, st.Nodes)
		return err
	})
	require.NoError(t, err)
}

// copyDir captures the files of src as they are on disk right now.
func copyDir(t *testing.T, src string) string {
	t.Helper()
	dst := t.TempDir()
	entries, err := os.ReadDir(src)
	require.NoError(t, err)
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(src, e.Name()))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dst, e.Name()), data, 0o644))
	}
	return dst
}

func TestEngine_IndexSavesWithoutClose(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.index(t, 1, "", "design review notes")
	env.index(t, 2, "", "travel booking confirmation")
	// Stats is answered after the queued saves have run.
	require.NoError(t, env.handle.With(func(s *similarity.Search) error {
		_, err := s.Stats(ctx)
		return err
	}))

	crashed := copyDir(t, env.dir)
	s, err := similarity.Open(crashed, similarity.DefaultCollection, embedding.NewMockEmbedder(16))
	require.NoError(t, err)
	defer s.Close(ctx)
	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Nodes)
}
