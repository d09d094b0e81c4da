package dbx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryCreatorRepository_UpsertPreservesTagsWithoutNewAnalysis(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryCreatorRepository()

	analyzedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Upsert(ctx, Creator{
		IGUserID:       "ig1",
		BodyTags:       []string{"fitness"},
		TagConfidence:  0.9,
		TagsAnalyzedAt: &analyzedAt,
		ModelVersion:   "v1",
	}))

	// A re-scrape (no tagging run) must not clobber the prior tagging result.
	require.NoError(t, repo.Upsert(ctx, Creator{IGUserID: "ig1", Followers: 1000}))

	got, err := repo.Load(ctx, "ig1")
	require.NoError(t, err)
	assert.Equal(t, []string{"fitness"}, got.BodyTags)
	assert.Equal(t, "v1", got.ModelVersion)
	require.NotNil(t, got.TagsAnalyzedAt)
	assert.Equal(t, int64(1000), got.Followers)
}

func TestInMemoryCreatorRepository_UpsertAppliesNewAnalysis(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryCreatorRepository()
	require.NoError(t, repo.Upsert(ctx, Creator{IGUserID: "ig2", BodyTags: []string{"old"}}))

	newAnalysis := time.Now().UTC()
	require.NoError(t, repo.Upsert(ctx, Creator{
		IGUserID:       "ig2",
		BodyTags:       []string{"new", "tags"},
		TagsAnalyzedAt: &newAnalysis,
	}))

	got, err := repo.Load(ctx, "ig2")
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "tags"}, got.BodyTags)
}

func TestInMemoryCreatorRepository_UpdateRollup(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryCreatorRepository()
	require.NoError(t, repo.Upsert(ctx, Creator{IGUserID: "ig3"}))
	require.NoError(t, repo.UpdateRollup(ctx, "ig3", 90000, 30000))

	got, err := repo.Load(ctx, "ig3")
	require.NoError(t, err)
	assert.Equal(t, int64(90000), got.TotalViews)
	assert.Equal(t, 30000.0, got.AvgViewsPerReelCached)
}

func TestInMemoryCreatorRepository_LoadApprovedFiltersByReviewStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryCreatorRepository()
	require.NoError(t, repo.Upsert(ctx, Creator{IGUserID: "approved", ReviewStatus: "ok"}))
	require.NoError(t, repo.Upsert(ctx, Creator{IGUserID: "pending", ReviewStatus: "pending"}))

	out, err := repo.LoadApproved(ctx)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "approved", out[0].IGUserID)
}
