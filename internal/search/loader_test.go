package search

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/shelf/internal/chunk"
	"github.com/Aman-CERP/shelf/internal/embed"
	shelferrors "github.com/Aman-CERP/shelf/internal/errors"
	"github.com/Aman-CERP/shelf/internal/store"
)

func TestLoader_CachesAfterFirstLoad(t *testing.T) {
	// Given: a library with indexed topics
	dataDir := buildLibrary(t, embed.NewStaticEmbedder(testDims))
	loader := NewLoader(dataDir, 16, 64)
	ctx := context.Background()

	// When: getting the same topic twice
	first, err := loader.Get(ctx, "history")
	require.NoError(t, err)
	second, err := loader.Get(ctx, "history")
	require.NoError(t, err)

	// Then: the index was read once
	assert.Same(t, first, second)
	assert.Equal(t, 1, loader.Loads())
	assert.Equal(t, 6, first.Len())
	assert.Equal(t, []string{"history"}, loader.Loaded())
}

func TestLoader_ConcurrentFirstLoadsCollapse(t *testing.T) {
	dataDir := buildLibrary(t, embed.NewStaticEmbedder(testDims))
	loader := NewLoader(dataDir, 16, 64)

	var wg sync.WaitGroup
	got := make([]*store.TopicIndex, 16)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			idx, err := loader.Get(context.Background(), "philosophy_stoics")
			assert.NoError(t, err)
			got[i] = idx
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, loader.Loads())
	for _, idx := range got {
		assert.Same(t, got[0], idx)
	}
}

func TestLoader_InvalidateReloads(t *testing.T) {
	// Given: a cached topic
	e := embed.NewStaticEmbedder(testDims)
	dataDir := buildLibrary(t, e)
	loader := NewLoader(dataDir, 16, 64)
	ctx := context.Background()
	before, err := loader.Get(ctx, "philosophy_stoics")
	require.NoError(t, err)

	// When: the index grows on disk and the topic is invalidated
	dir := store.Dir(dataDir, "philosophy_stoics")
	idx, err := store.LoadTopicIndex(dir, 16, 64)
	require.NoError(t, err)
	vec, err := e.Embed(ctx, "the obstacle is the way")
	require.NoError(t, err)
	require.NoError(t, idx.Append([]chunk.Chunk{{Text: "the obstacle is the way", BookID: "meditations"}}, [][]float32{vec}))
	require.NoError(t, idx.Save(dir))
	loader.Invalidate("philosophy_stoics")
	assert.Empty(t, loader.Loaded())

	// Then: the next Get reads the new index
	after, err := loader.Get(ctx, "philosophy_stoics")
	require.NoError(t, err)
	assert.Equal(t, 2, before.Len())
	assert.Equal(t, 3, after.Len())
	assert.Equal(t, 2, loader.Loads())
}

func TestLoader_MissingIndex(t *testing.T) {
	loader := NewLoader(t.TempDir(), 16, 64)

	_, err := loader.Get(context.Background(), "history")

	require.Error(t, err)
	assert.True(t, shelferrors.HasCode(err, shelferrors.ErrCodeFileNotFound))
	assert.Empty(t, loader.Loaded())
	assert.Equal(t, 0, loader.Loads())
}

func TestLoader_CancelledContext(t *testing.T) {
	loader := NewLoader(buildLibrary(t, embed.NewStaticEmbedder(testDims)), 16, 64)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := loader.Get(ctx, "history")

	assert.ErrorIs(t, err, context.Canceled)
}
