package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/examkit/alloc-engine/pkg/allocengine"
)

func newQuestion(categoryID *uuid.UUID) *allocengine.Question {
	now := time.Now().UTC()
	return &allocengine.Question{
		ID:         uuid.New(),
		CategoryID: categoryID,
		Text:       "question",
		Status:     allocengine.QuestionStatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func newBundle() *allocengine.Bundle {
	now := time.Now().UTC()
	return &allocengine.Bundle{
		ID:          uuid.New(),
		Name:        "bundle",
		TargetCount: 2,
		Mode:        allocengine.ModeAutoAny,
		Status:      allocengine.BundleStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestQuestionLifecycle(t *testing.T) {
	repo := New()
	ctx := context.Background()

	q := newQuestion(nil)
	require.NoError(t, repo.CreateQuestion(ctx, q))

	got, err := repo.GetQuestion(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, q.ID, got.ID)

	// Mutating the returned copy must not affect the stored record.
	got.Text = "mutated"
	again, err := repo.GetQuestion(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, "question", again.Text)

	require.NoError(t, repo.DeleteQuestion(ctx, q.ID))
	_, err = repo.GetQuestion(ctx, q.ID)
	assert.ErrorIs(t, err, allocengine.ErrQuestionNotFound)
}

func TestCountAndStreamFiltering(t *testing.T) {
	repo := New()
	ctx := context.Background()
	categoryID := uuid.New()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.CreateQuestion(ctx, newQuestion(&categoryID)))
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, repo.CreateQuestion(ctx, newQuestion(nil)))
	}
	disabled := newQuestion(&categoryID)
	disabled.Status = allocengine.QuestionStatusDisabled
	require.NoError(t, repo.CreateQuestion(ctx, disabled))

	total, err := repo.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, total)

	inCategory, err := repo.Count(ctx, &categoryID)
	require.NoError(t, err)
	assert.Equal(t, 3, inCategory)

	it, err := repo.Stream(ctx, &categoryID)
	require.NoError(t, err)
	defer it.Close()

	streamed := 0
	for it.Next(ctx) {
		assert.Equal(t, categoryID, *it.Item().CategoryID)
		assert.Equal(t, allocengine.QuestionStatusActive, it.Item().Status)
		streamed++
	}
	require.NoError(t, it.Err())
	assert.Equal(t, 3, streamed)
}

func TestStreamEarlyAbandonment(t *testing.T) {
	repo := New()
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, repo.CreateQuestion(ctx, newQuestion(nil)))
	}

	it, err := repo.Stream(ctx, nil)
	require.NoError(t, err)

	require.True(t, it.Next(ctx))
	require.NoError(t, it.Close())
	assert.False(t, it.Next(ctx), "closed iterator must not advance")
	assert.NoError(t, it.Close(), "close is idempotent")
}

func TestStreamObservesCancellation(t *testing.T) {
	repo := New()
	ctx := context.Background()
	require.NoError(t, repo.CreateQuestion(ctx, newQuestion(nil)))

	it, err := repo.Stream(ctx, nil)
	require.NoError(t, err)
	defer it.Close()

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	assert.False(t, it.Next(canceled))
	assert.ErrorIs(t, it.Err(), context.Canceled)
}

func TestUsageIndexAndCounter(t *testing.T) {
	repo := New()
	ctx := context.Background()

	q1 := newQuestion(nil)
	q2 := newQuestion(nil)
	q3 := newQuestion(nil)
	for _, q := range []*allocengine.Question{q1, q2, q3} {
		require.NoError(t, repo.CreateQuestion(ctx, q))
	}

	b1 := newBundle()
	require.NoError(t, repo.CreateBundle(ctx, b1, []uuid.UUID{q1.ID, q2.ID}))
	b2 := newBundle()
	require.NoError(t, repo.CreateBundle(ctx, b2, []uuid.UUID{q1.ID}))

	used, err := repo.CurrentlyUsedIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, used, 2)
	assert.Contains(t, used, q1.ID)
	assert.Contains(t, used, q2.ID)

	counts, err := repo.CountUsage(ctx, []uuid.UUID{q1.ID, q2.ID, q3.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, counts[q1.ID])
	assert.Equal(t, 1, counts[q2.ID])
	assert.Equal(t, 0, counts[q3.ID], "unreferenced ids map to zero")

	// A deleted bundle's items stop counting.
	require.NoError(t, repo.DeleteBundle(ctx, b1.ID))
	used, err = repo.CurrentlyUsedIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, used, 1)
	assert.Contains(t, used, q1.ID)
}

func TestFindByIDsIncludesInactive(t *testing.T) {
	repo := New()
	ctx := context.Background()

	active := newQuestion(nil)
	deleted := newQuestion(nil)
	require.NoError(t, repo.CreateQuestion(ctx, active))
	require.NoError(t, repo.CreateQuestion(ctx, deleted))
	require.NoError(t, repo.DeleteQuestion(ctx, deleted.ID))

	found, err := repo.FindByIDs(ctx, []uuid.UUID{active.ID, deleted.ID, uuid.New()})
	require.NoError(t, err)
	require.Len(t, found, 2, "soft-deleted questions still resolve")
}

func TestBundleItemReplacement(t *testing.T) {
	repo := New()
	ctx := context.Background()

	var ids []uuid.UUID
	for i := 0; i < 4; i++ {
		q := newQuestion(nil)
		require.NoError(t, repo.CreateQuestion(ctx, q))
		ids = append(ids, q.ID)
	}

	b := newBundle()
	require.NoError(t, repo.CreateBundle(ctx, b, ids[:2]))

	items, err := repo.GetBundleItems(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, ids[:2], items)

	require.NoError(t, repo.ReplaceBundleItems(ctx, b.ID, ids[2:]))
	items, err = repo.GetBundleItems(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, ids[2:], items)

	assert.ErrorIs(t, repo.ReplaceBundleItems(ctx, uuid.New(), ids[:1]), allocengine.ErrBundleNotFound)
}
