package rules

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepository_CreateAndGet(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	rule := validRule()
	rule.ID = uuid.Nil
	require.NoError(t, repo.Create(ctx, rule))
	assert.NotEqual(t, uuid.Nil, rule.ID)
	assert.Equal(t, int64(1), rule.Version)

	got, err := repo.Get(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, rule.AccountID, got.AccountID)
	assert.Equal(t, rule.PriorityChain, got.PriorityChain)
}

func TestMemoryRepository_GetNotFound(t *testing.T) {
	repo := NewMemoryRepository()
	_, err := repo.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRepository_ListEnabled(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	enabled := validRule()
	require.NoError(t, repo.Create(ctx, enabled))

	paused := validRule()
	paused.Enabled = false
	require.NoError(t, repo.Create(ctx, paused))

	list, err := repo.ListEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, enabled.ID, list[0].ID)
}

func TestMemoryRepository_ListByAccount(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	mine := validRule()
	require.NoError(t, repo.Create(ctx, mine))

	other := validRule()
	other.AccountID = "acct-2"
	require.NoError(t, repo.Create(ctx, other))

	list, err := repo.ListByAccount(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, mine.ID, list[0].ID)
}

func TestMemoryRepository_UpdateCAS(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	rule := validRule()
	require.NoError(t, repo.Create(ctx, rule))

	t.Run("update with current version succeeds and bumps it", func(t *testing.T) {
		loaded, err := repo.Get(ctx, rule.ID)
		require.NoError(t, err)

		loaded.Name = "renamed"
		require.NoError(t, repo.Update(ctx, loaded))
		assert.Equal(t, int64(2), loaded.Version)

		got, err := repo.Get(ctx, rule.ID)
		require.NoError(t, err)
		assert.Equal(t, "renamed", got.Name)
	})

	t.Run("stale version conflicts and leaves state intact", func(t *testing.T) {
		stale, err := repo.Get(ctx, rule.ID)
		require.NoError(t, err)

		// Another writer commits first.
		winner := stale.Clone()
		winner.Name = "winner"
		require.NoError(t, repo.Update(ctx, winner))

		stale.Name = "loser"
		err = repo.Update(ctx, stale)
		assert.ErrorIs(t, err, ErrCommitConflict)

		got, err := repo.Get(ctx, rule.ID)
		require.NoError(t, err)
		assert.Equal(t, "winner", got.Name)
	})
}

func TestMemoryRepository_Delete(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	rule := validRule()
	require.NoError(t, repo.Create(ctx, rule))
	require.NoError(t, repo.Delete(ctx, rule.ID))

	_, err := repo.Get(ctx, rule.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, rule.ID), ErrNotFound)
}

func TestMemoryRepository_NoAliasing(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	rule := validRule()
	require.NoError(t, repo.Create(ctx, rule))

	got, err := repo.Get(ctx, rule.ID)
	require.NoError(t, err)
	got.PriorityChain[0] = "mutated"
	got.Stabilization["x"] = 1

	fresh, err := repo.Get(ctx, rule.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", fresh.PriorityChain[0])
	assert.Empty(t, fresh.Stabilization)
}
