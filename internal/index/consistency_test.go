package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/shelf/internal/manifest"
	"github.com/Aman-CERP/shelf/internal/store"
)

func TestInconsistencyType_String(t *testing.T) {
	tests := []struct {
		typ  InconsistencyType
		want string
	}{
		{InconsistencyMissingIndex, "missing_index"},
		{InconsistencyOrphanIndex, "orphan_index"},
		{InconsistencyOrphanChunks, "orphan_chunks"},
		{InconsistencyChunkCount, "chunk_count"},
		{InconsistencyCorruptIndex, "corrupt_index"},
		{InconsistencyModelMismatch, "model_mismatch"},
		{InconsistencyType(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.typ.String())
	}
}

func TestConsistencyChecker_CleanLibrary(t *testing.T) {
	// Given: a freshly indexed library
	f := newFixture(t, newLibrary(t), 32)
	f.run(t, Options{})
	checker := NewConsistencyChecker(f.cfg.DataPath(), 16, 64)

	// When: checking
	result, err := checker.Check(context.Background(), f.manifest(t))

	// Then: nothing is reported
	require.NoError(t, err)
	assert.True(t, result.OK(), "%v", result.Inconsistencies)
	assert.Equal(t, 2, result.Checked)
	assert.Empty(t, checker.QuickCheck(f.manifest(t)))
}

func TestConsistencyChecker_DetectsDrift(t *testing.T) {
	// Given: an indexed library whose manifest drifted from the indices
	f := newFixture(t, newLibrary(t), 32)
	f.run(t, Options{})
	ctx := context.Background()

	require.NoError(t, f.store.Update(ctx, func(m *manifest.Manifest) error {
		history := m.Topic("history")
		history.Book("rome.txt").Chunks++
		history.RemoveBook("greece.txt")
		m.RemoveTopic("philosophy_stoics")
		m.UpsertTopic(&manifest.Topic{ID: "poetry", Path: "poetry", Books: []*manifest.Book{
			{ID: "odes", Filename: "odes.txt", LastIndexedAt: m.Topic("history").LastIndexedAt, Chunks: 3},
		}})
		return nil
	}))
	checker := NewConsistencyChecker(f.cfg.DataPath(), 16, 64)

	// When: checking
	result, err := checker.Check(ctx, f.manifest(t))
	require.NoError(t, err)

	// Then: every kind of drift is reported
	types := map[InconsistencyType][]string{}
	for _, issue := range result.Inconsistencies {
		types[issue.Type] = append(types[issue.Type], issue.Topic+"/"+issue.Book)
	}
	assert.Equal(t, []string{"history/rome"}, types[InconsistencyChunkCount])
	assert.Equal(t, []string{"history/greece"}, types[InconsistencyOrphanChunks])
	assert.Equal(t, []string{"poetry/"}, types[InconsistencyMissingIndex])
	assert.Equal(t, []string{"philosophy_stoics/"}, types[InconsistencyOrphanIndex])
	assert.ElementsMatch(t, []string{"history", "poetry"}, checker.QuickCheck(f.manifest(t)))

	// When: repairing
	require.NoError(t, checker.Repair(ctx, result.Inconsistencies))

	// Then: the orphan index is gone, the rest needs a reindex
	assert.False(t, store.Exists(store.Dir(f.cfg.DataPath(), "philosophy_stoics")))
	result, err = checker.Check(ctx, f.manifest(t))
	require.NoError(t, err)
	assert.Len(t, result.Inconsistencies, 3)
}

func TestConsistencyChecker_ModelMismatch(t *testing.T) {
	f := newFixture(t, newLibrary(t), 32)
	f.run(t, Options{Topics: []string{"history"}})
	require.NoError(t, f.store.Update(context.Background(), func(m *manifest.Manifest) error {
		m.EmbeddingModel = "ollama:nomic-embed-text"
		return nil
	}))

	result, err := NewConsistencyChecker(f.cfg.DataPath(), 16, 64).Check(context.Background(), f.manifest(t))

	require.NoError(t, err)
	require.Len(t, result.Inconsistencies, 1)
	assert.Equal(t, InconsistencyModelMismatch, result.Inconsistencies[0].Type)
}
