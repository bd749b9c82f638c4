package similarity

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stritefax/heelixchat/internal/embedding"
	"github.com/stritefax/heelixchat/internal/vector"
)

func writeSnapshot(t *testing.T, dir, name string, ids ...int64) {
	t.Helper()
	e, err := vector.NewFlatIndex(vector.Options{Dimension: 2})
	require.NoError(t, err)
	for _, id := range ids {
		require.NoError(t, e.Insert([]float32{1, float32(id)}, id))
	}
	tmp, err := vector.Persist(e, dir, name, vector.CodecNone)
	require.NoError(t, err)
	require.NoError(t, os.Rename(vector.DataPath(dir, tmp), vector.DataPath(dir, name)))
	require.NoError(t, os.Rename(vector.GraphPath(dir, tmp), vector.GraphPath(dir, name)))
}

func TestPromoteStaged_CompletePair(t *testing.T) {
	dir := t.TempDir()
	writeSnapshot(t, dir, DefaultCollection, 1)
	writeSnapshot(t, dir, stagedName(DefaultCollection), 1, 2, 3)

	require.NoError(t, promoteStaged(dir, DefaultCollection, zap.NewNop()))

	loaded, err := vector.Load(dir, DefaultCollection, vector.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Len())
	_, err = os.Stat(vector.DataPath(dir, stagedName(DefaultCollection)))
	assert.True(t, os.IsNotExist(err))
}

func TestPromoteStaged_IncompletePairDiscarded(t *testing.T) {
	dir := t.TempDir()
	writeSnapshot(t, dir, DefaultCollection, 1)
	writeSnapshot(t, dir, stagedName(DefaultCollection), 1, 2)
	require.NoError(t, os.Remove(vector.GraphPath(dir, stagedName(DefaultCollection))))

	require.NoError(t, promoteStaged(dir, DefaultCollection, zap.NewNop()))

	loaded, err := vector.Load(dir, DefaultCollection, vector.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Len())
	_, err = os.Stat(vector.DataPath(dir, stagedName(DefaultCollection)))
	assert.True(t, os.IsNotExist(err))
}

func loadedLen(t *testing.T, dir string) int {
	t.Helper()
	loaded, err := vector.Load(dir, DefaultCollection, vector.DefaultOptions())
	require.NoError(t, err)
	return loaded.Len()
}

func TestPromoteStaged_MismatchedPairKeepsCanonical(t *testing.T) {
	dir := t.TempDir()
	staged := stagedName(DefaultCollection)
	writeSnapshot(t, dir, DefaultCollection, 1)
	writeSnapshot(t, dir, staged, 1, 2)

	// A later save renamed its data file and stopped before the graph.
	other, err := vector.NewFlatIndex(vector.Options{Dimension: 2})
	require.NoError(t, err)
	require.NoError(t, other.Insert([]float32{3, 3}, 9))
	tmp, err := vector.Persist(other, dir, DefaultCollection, vector.CodecNone)
	require.NoError(t, err)
	require.NoError(t, os.Rename(vector.DataPath(dir, tmp), vector.DataPath(dir, staged)))

	require.NoError(t, promoteStaged(dir, DefaultCollection, zap.NewNop()))

	assert.Equal(t, 1, loadedLen(t, dir))
	for _, p := range []string{vector.DataPath(dir, staged), vector.GraphPath(dir, staged)} {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err), p)
	}
}

func TestPromoteStaged_FinishesInterruptedPromotion(t *testing.T) {
	dir := t.TempDir()
	staged := stagedName(DefaultCollection)
	writeSnapshot(t, dir, DefaultCollection, 1)
	writeSnapshot(t, dir, staged, 1, 2, 3)
	require.NoError(t, os.Rename(vector.DataPath(dir, staged), vector.DataPath(dir, DefaultCollection)))

	require.NoError(t, promoteStaged(dir, DefaultCollection, zap.NewNop()))

	assert.Equal(t, 3, loadedLen(t, dir))
	_, err := os.Stat(vector.GraphPath(dir, staged))
	assert.True(t, os.IsNotExist(err))
}

func TestPromoteStaged_OrphanGraphDiscarded(t *testing.T) {
	dir := t.TempDir()
	staged := stagedName(DefaultCollection)
	writeSnapshot(t, dir, DefaultCollection, 1)
	writeSnapshot(t, dir, staged, 1, 2)
	require.NoError(t, os.Remove(vector.DataPath(dir, staged)))

	require.NoError(t, promoteStaged(dir, DefaultCollection, zap.NewNop()))

	assert.Equal(t, 1, loadedLen(t, dir))
	_, err := os.Stat(vector.GraphPath(dir, staged))
	assert.True(t, os.IsNotExist(err))
}

func TestStage_ReplacesPreviousStagedPair(t *testing.T) {
	dir := t.TempDir()
	staged := stagedName(DefaultCollection)
	writeSnapshot(t, dir, staged, 1)

	e, err := vector.NewFlatIndex(vector.Options{Dimension: 2})
	require.NoError(t, err)
	require.NoError(t, e.Insert([]float32{1, 1}, 1))
	require.NoError(t, e.Insert([]float32{1, 2}, 2))
	tmp, err := vector.Persist(e, dir, DefaultCollection, vector.CodecNone)
	require.NoError(t, err)

	require.NoError(t, stage(dir, tmp, DefaultCollection, zap.NewNop()))
	require.NoError(t, vector.CheckPair(vector.DataPath(dir, staged), vector.GraphPath(dir, staged)))
	require.NoError(t, promoteStaged(dir, DefaultCollection, zap.NewNop()))
	assert.Equal(t, 2, loadedLen(t, dir))
}

func TestOpen_InterruptedSaveKeepsLastSnapshot(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s, err := Open(dir, DefaultCollection, embedding.NewMockEmbedder(4))
	require.NoError(t, err)
	require.NoError(t, s.Add(ctx, 1, "first document", ""))
	require.NoError(t, s.Close(ctx))

	// The next save stops between its data and graph renames.
	other, err := vector.NewFlatIndex(vector.Options{Dimension: 4})
	require.NoError(t, err)
	require.NoError(t, other.Insert([]float32{1, 0, 0, 0}, 2))
	tmp, err := vector.Persist(other, dir, DefaultCollection, vector.CodecNone)
	require.NoError(t, err)
	require.NoError(t, os.Remove(vector.GraphPath(dir, tmp)))
	require.Error(t, stage(dir, tmp, DefaultCollection, zap.NewNop()))

	s, err = Open(dir, DefaultCollection, embedding.NewMockEmbedder(4))
	require.NoError(t, err)
	defer s.Close(ctx)
	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Nodes)
}

func TestPromoteStaged_RemovesTemporaries(t *testing.T) {
	dir := t.TempDir()
	e, _ := vector.NewFlatIndex(vector.Options{})
	tmp, err := vector.Persist(e, dir, DefaultCollection, vector.CodecNone)
	require.NoError(t, err)

	require.NoError(t, promoteStaged(dir, DefaultCollection, zap.NewNop()))
	_, err = os.Stat(vector.DataPath(dir, tmp))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(vector.GraphPath(dir, tmp))
	assert.True(t, os.IsNotExist(err))
}

func TestOpen_LoadsStagedSnapshot(t *testing.T) {
	dir := t.TempDir()
	writeSnapshot(t, dir, stagedName(DefaultCollection), 5, 6)

	s, err := Open(dir, DefaultCollection, embedding.NewMockEmbedder(2))
	require.NoError(t, err)
	defer s.Close(context.Background())

	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, st.Nodes)
	assert.Equal(t, vector.IndexTypeFlat, st.Type)
}

func TestRemoveSnapshot(t *testing.T) {
	dir := t.TempDir()
	writeSnapshot(t, dir, DefaultCollection, 1)
	writeSnapshot(t, dir, stagedName(DefaultCollection), 1)

	require.NoError(t, RemoveSnapshot(dir, DefaultCollection))
	require.NoError(t, RemoveSnapshot(dir, DefaultCollection))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWorkerState_String(t *testing.T) {
	assert.Equal(t, "running", StateRunning.String())
	b, err := StateDraining.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "draining", string(b))
}

func TestMeasureSnapshot(t *testing.T) {
	dir := t.TempDir()
	u, err := MeasureSnapshot(dir, DefaultCollection)
	require.NoError(t, err)
	assert.Zero(t, u.Total())

	writeSnapshot(t, dir, DefaultCollection, 1, 2)
	writeSnapshot(t, dir, stagedName(DefaultCollection), 1, 2, 3)
	require.NoError(t, os.WriteFile(vector.DataPath(dir, DefaultCollection+".abc.tmp"), make([]byte, 7), 0o644))
	writeSnapshot(t, dir, "other_collection", 1)

	size := func(name string) int64 {
		var n int64
		for _, p := range []string{vector.DataPath(dir, name), vector.GraphPath(dir, name)} {
			info, err := os.Stat(p)
			require.NoError(t, err)
			n += info.Size()
		}
		return n
	}

	u, err = MeasureSnapshot(dir, DefaultCollection)
	require.NoError(t, err)
	assert.Equal(t, size(DefaultCollection), u.Canonical)
	assert.Equal(t, size(stagedName(DefaultCollection)), u.Staged)
	assert.Equal(t, int64(7), u.Temporary)
	assert.Equal(t, u.Canonical+u.Staged+7, u.Total())
}
