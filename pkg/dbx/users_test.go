package dbx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryUserRepository_OurCreatorIsPromoteOnly(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryUserRepository()

	require.NoError(t, repo.Upsert(ctx, RedditUser{Username: "alice", OurCreator: true}))
	// A later scrape without our_creator set must not demote the flag back to false.
	require.NoError(t, repo.Upsert(ctx, RedditUser{Username: "alice", TotalKarma: 500}))

	got, err := repo.Load(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, got.OurCreator)
	assert.Equal(t, int64(500), got.TotalKarma)
}

func TestInMemoryUserRepository_OurCreatorPromotesOnExplicitTrue(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryUserRepository()

	require.NoError(t, repo.Upsert(ctx, RedditUser{Username: "bob"}))
	require.NoError(t, repo.Upsert(ctx, RedditUser{Username: "bob", OurCreator: true}))

	got, err := repo.Load(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, got.OurCreator)
}

func TestInMemoryUserRepository_LoadNotFound(t *testing.T) {
	repo := NewInMemoryUserRepository()
	_, err := repo.Load(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}
