package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchRanksBySharedTerms(t *testing.T) {
	store, err := NewLocalStore(0, 0)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, "Action: browser_task posted thread Result: completed", "run-1", TagAction))
	require.NoError(t, store.Add(ctx, "User suggestion: follower strategies that worked: reply to big accounts", "run-1", TagUserPrompt))
	require.NoError(t, store.Add(ctx, "strategies for follower_count: post daily", "run-2", TagAction))

	hits, err := store.Search(ctx, "strategies for follower_count", "run-1", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Contains(t, hits[0].Content, "User suggestion")
	assert.Greater(t, hits[0].Score, 0.0)

	hits, err = store.Search(ctx, "strategies for follower_count", "run-2", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 1.0, hits[0].Score)
}

func TestAddBoundsEntriesPerRun(t *testing.T) {
	store, err := NewLocalStore(2, 3)
	require.NoError(t, err)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, store.Add(ctx, fmt.Sprintf("note alpha %d", i), "run-1", TagAction))
	}
	hits, err := store.Search(ctx, "alpha", "run-1", 10)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "note alpha 9", hits[0].Content)
}

func TestUnknownRunAndEmptyQuery(t *testing.T) {
	store, err := NewLocalStore(0, 0)
	require.NoError(t, err)
	hits, err := store.Search(context.Background(), "anything", "missing", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = store.Search(context.Background(), "  ", "missing", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
