package allocengine_test

import (
	"context"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/examkit/alloc-engine/pkg/allocengine"
	"github.com/examkit/alloc-engine/pkg/allocengine/repo/memory"
)

func TestServiceCreation(t *testing.T) {
	tests := []struct {
		name        string
		options     []allocengine.Option
		expectError bool
	}{
		{
			name:        "no options should fail",
			options:     []allocengine.Option{},
			expectError: true,
		},
		{
			name: "with repository should succeed",
			options: []allocengine.Option{
				allocengine.WithRepository(memory.New()),
			},
			expectError: false,
		},
		{
			name: "overlap percent out of range should fail",
			options: []allocengine.Option{
				allocengine.WithRepository(memory.New()),
				allocengine.WithMaxOverlapPercent(120),
			},
			expectError: true,
		},
		{
			name: "fresh percent out of range should fail",
			options: []allocengine.Option{
				allocengine.WithRepository(memory.New()),
				allocengine.WithMinFreshPercent(-1),
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := allocengine.New(tt.options...)

			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, svc)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, svc)
			}
		})
	}
}

func setupTestService(t *testing.T, options ...allocengine.Option) allocengine.Service {
	t.Helper()

	opts := append([]allocengine.Option{
		allocengine.WithRepository(memory.New()),
		allocengine.WithRand(rand.New(rand.NewPCG(1, 2))),
		allocengine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, options...)

	svc, err := allocengine.New(opts...)
	require.NoError(t, err)
	require.NotNil(t, svc)

	return svc
}

func seedQuestions(t *testing.T, svc allocengine.Service, n int, categoryID *uuid.UUID) []uuid.UUID {
	t.Helper()

	ctx := context.Background()
	ids := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		q, err := svc.CreateQuestion(ctx, allocengine.CreateQuestionRequest{
			CategoryID: categoryID,
			Text:       "question",
		})
		require.NoError(t, err)
		ids = append(ids, q.ID)
	}
	return ids
}

// markUsed creates a manual bundle referencing the given IDs, so they count
// toward the usage index.
func markUsed(t *testing.T, svc allocengine.Service, ids []uuid.UUID) *allocengine.Bundle {
	t.Helper()

	bundle, err := svc.CreateBundle(context.Background(), allocengine.CreateBundleRequest{
		Name:    "used",
		Mode:    allocengine.ModeManual,
		ItemIDs: ids,
	})
	require.NoError(t, err)
	return bundle
}

func assertDistinct(t *testing.T, ids []uuid.UUID) {
	t.Helper()

	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s in selection", id)
		seen[id] = struct{}{}
	}
}

func TestAllocateAllFresh(t *testing.T) {
	svc := setupTestService(t)
	seedQuestions(t, svc, 100, nil)

	sel, err := svc.Allocate(context.Background(), allocengine.AllocateRequest{
		Mode:  allocengine.ModeAutoAny,
		Count: 20,
	})
	require.NoError(t, err)
	assert.Len(t, sel.ItemIDs, 20)
	assert.Equal(t, 20, sel.FreshCount)
	assert.Equal(t, 0, sel.ReusedCount)
	assertDistinct(t, sel.ItemIDs)
}

func TestAllocateFreshnessFirst(t *testing.T) {
	// 30 items, 10 already used: plenty of fresh items remain, so the
	// selection must contain zero reused items.
	svc := setupTestService(t)
	ids := seedQuestions(t, svc, 30, nil)
	markUsed(t, svc, ids[:10])

	sel, err := svc.Allocate(context.Background(), allocengine.AllocateRequest{
		Mode:  allocengine.ModeAutoAny,
		Count: 20,
	})
	require.NoError(t, err)
	assert.Len(t, sel.ItemIDs, 20)
	assert.Equal(t, 20, sel.FreshCount)
	assert.Equal(t, 0, sel.ReusedCount)

	used := make(map[uuid.UUID]struct{})
	for _, id := range ids[:10] {
		used[id] = struct{}{}
	}
	for _, id := range sel.ItemIDs {
		_, reused := used[id]
		assert.False(t, reused, "selection contains used item %s despite fresh availability", id)
	}
}

func TestAllocateInsufficientUniqueItems(t *testing.T) {
	// 100 items with 95 used leaves 5 fresh; a request for 20 allows at most
	// ceil(20*0.10)=2 reused, and 5+2 < 20.
	svc := setupTestService(t)
	ids := seedQuestions(t, svc, 100, nil)
	markUsed(t, svc, ids[:95])

	_, err := svc.Allocate(context.Background(), allocengine.AllocateRequest{
		Mode:  allocengine.ModeAutoAny,
		Count: 20,
	})
	require.ErrorIs(t, err, allocengine.ErrInsufficientUniqueItems)

	var allocErr *allocengine.AllocationError
	require.ErrorAs(t, err, &allocErr)
	assert.Equal(t, 20, allocErr.Count)
	assert.Equal(t, allocengine.ModeAutoAny, allocErr.Mode)
}

func TestAllocateReuseWithinCap(t *testing.T) {
	// 11 items, 2 used (one of them twice): a request for 10 takes all 9
	// fresh items and covers the shortfall with the least-used reused item.
	svc := setupTestService(t)
	ids := seedQuestions(t, svc, 11, nil)
	heavy, light := ids[0], ids[1]
	markUsed(t, svc, []uuid.UUID{heavy, light})
	markUsed(t, svc, []uuid.UUID{heavy})

	sel, err := svc.Allocate(context.Background(), allocengine.AllocateRequest{
		Mode:  allocengine.ModeAutoAny,
		Count: 10,
	})
	require.NoError(t, err)
	assert.Len(t, sel.ItemIDs, 10)
	assert.Equal(t, 9, sel.FreshCount)
	assert.Equal(t, 1, sel.ReusedCount)
	assertDistinct(t, sel.ItemIDs)

	assert.Contains(t, sel.ItemIDs, light, "least-used item should cover the shortfall")
	assert.NotContains(t, sel.ItemIDs, heavy)
}

func TestAllocateOverlapCapRoundsUp(t *testing.T) {
	// count=7 at a 10% cap: ceil(0.7)=1 reused item allowed, not zero.
	svc := setupTestService(t)
	ids := seedQuestions(t, svc, 7, nil)
	markUsed(t, svc, ids[:1])

	sel, err := svc.Allocate(context.Background(), allocengine.AllocateRequest{
		Mode:  allocengine.ModeAutoAny,
		Count: 7,
	})
	require.NoError(t, err)
	assert.Len(t, sel.ItemIDs, 7)
	assert.Equal(t, 1, sel.ReusedCount)
}

func TestAllocateExactCatalog(t *testing.T) {
	svc := setupTestService(t)
	seedQuestions(t, svc, 5, nil)

	sel, err := svc.Allocate(context.Background(), allocengine.AllocateRequest{
		Mode:  allocengine.ModeAutoAny,
		Count: 5,
	})
	require.NoError(t, err)
	assert.Len(t, sel.ItemIDs, 5)
	assert.Equal(t, 5, sel.FreshCount)
}

func TestAllocateFailureKinds(t *testing.T) {
	svc := setupTestService(t)
	categoryID := uuid.New()

	t.Run("empty catalog", func(t *testing.T) {
		_, err := svc.Allocate(context.Background(), allocengine.AllocateRequest{
			Mode:  allocengine.ModeAutoAny,
			Count: 5,
		})
		assert.ErrorIs(t, err, allocengine.ErrNoEligibleItems)
	})

	seedQuestions(t, svc, 3, nil)

	t.Run("catalog smaller than count", func(t *testing.T) {
		_, err := svc.Allocate(context.Background(), allocengine.AllocateRequest{
			Mode:  allocengine.ModeAutoAny,
			Count: 5,
		})
		assert.ErrorIs(t, err, allocengine.ErrInsufficientCatalog)
	})

	t.Run("empty category", func(t *testing.T) {
		_, err := svc.Allocate(context.Background(), allocengine.AllocateRequest{
			Mode:       allocengine.ModeAutoCategory,
			Count:      1,
			CategoryID: &categoryID,
		})
		assert.ErrorIs(t, err, allocengine.ErrNoEligibleItems)
	})

	t.Run("category required", func(t *testing.T) {
		_, err := svc.Allocate(context.Background(), allocengine.AllocateRequest{
			Mode:  allocengine.ModeAutoCategory,
			Count: 1,
		})
		assert.ErrorIs(t, err, allocengine.ErrCategoryRequired)
	})

	t.Run("invalid count", func(t *testing.T) {
		_, err := svc.Allocate(context.Background(), allocengine.AllocateRequest{
			Mode:  allocengine.ModeAutoAny,
			Count: 0,
		})
		assert.ErrorIs(t, err, allocengine.ErrInvalidCount)
	})

	t.Run("invalid mode", func(t *testing.T) {
		_, err := svc.Allocate(context.Background(), allocengine.AllocateRequest{
			Mode:  allocengine.Mode("bogus"),
			Count: 1,
		})
		assert.ErrorIs(t, err, allocengine.ErrInvalidMode)
	})
}

func TestAllocateCategoryScoping(t *testing.T) {
	svc := setupTestService(t)
	mathCat := uuid.New()
	histCat := uuid.New()
	mathIDs := seedQuestions(t, svc, 10, &mathCat)
	seedQuestions(t, svc, 10, &histCat)

	sel, err := svc.Allocate(context.Background(), allocengine.AllocateRequest{
		Mode:       allocengine.ModeAutoCategory,
		Count:      10,
		CategoryID: &mathCat,
	})
	require.NoError(t, err)
	assert.Len(t, sel.ItemIDs, 10)
	assert.ElementsMatch(t, mathIDs, sel.ItemIDs)
}

func TestAllocateDeterministicWithSeed(t *testing.T) {
	run := func() []uuid.UUID {
		repo := memory.New()
		ctx := context.Background()
		for i := 0; i < 50; i++ {
			// Fixed IDs so both runs see an identical catalog.
			id := uuid.UUID{byte(i + 1)}
			now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			err := repo.CreateQuestion(ctx, &allocengine.Question{
				ID:        id,
				Status:    allocengine.QuestionStatusActive,
				CreatedAt: now,
				UpdatedAt: now,
			})
			require.NoError(t, err)
		}

		svc, err := allocengine.New(
			allocengine.WithRepository(repo),
			allocengine.WithRand(rand.New(rand.NewPCG(42, 7))),
			allocengine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		)
		require.NoError(t, err)

		sel, err := svc.Allocate(ctx, allocengine.AllocateRequest{
			Mode:  allocengine.ModeAutoAny,
			Count: 10,
		})
		require.NoError(t, err)
		return sel.ItemIDs
	}

	first := run()
	second := run()
	assert.ElementsMatch(t, first, second)
}

func TestManualSelection(t *testing.T) {
	svc := setupTestService(t)
	ids := seedQuestions(t, svc, 5, nil)
	ctx := context.Background()

	t.Run("valid list", func(t *testing.T) {
		sel, err := svc.Allocate(ctx, allocengine.AllocateRequest{
			Mode:    allocengine.ModeManual,
			ItemIDs: ids[:3],
		})
		require.NoError(t, err)
		assert.Equal(t, ids[:3], sel.ItemIDs, "manual selection preserves request order")
	})

	t.Run("duplicate identifiers", func(t *testing.T) {
		_, err := svc.Allocate(ctx, allocengine.AllocateRequest{
			Mode:    allocengine.ModeManual,
			ItemIDs: []uuid.UUID{ids[0], ids[1], ids[1], ids[2]},
		})
		require.ErrorIs(t, err, allocengine.ErrDuplicateIdentifiers)

		var validationErr *allocengine.ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, []uuid.UUID{ids[1]}, validationErr.IDs)
	})

	t.Run("unknown identifiers", func(t *testing.T) {
		missing := uuid.New()
		_, err := svc.Allocate(ctx, allocengine.AllocateRequest{
			Mode:    allocengine.ModeManual,
			ItemIDs: []uuid.UUID{ids[0], ids[1], missing},
		})
		require.ErrorIs(t, err, allocengine.ErrItemsNotFound)

		var validationErr *allocengine.ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, []uuid.UUID{missing}, validationErr.IDs)
	})

	t.Run("inactive identifiers", func(t *testing.T) {
		q, err := svc.GetQuestion(ctx, ids[4])
		require.NoError(t, err)
		q.Status = allocengine.QuestionStatusDisabled
		require.NoError(t, svc.UpdateQuestion(ctx, allocengine.UpdateQuestionRequest{Question: q}))

		_, err = svc.Allocate(ctx, allocengine.AllocateRequest{
			Mode:    allocengine.ModeManual,
			ItemIDs: []uuid.UUID{ids[0], ids[4]},
		})
		require.ErrorIs(t, err, allocengine.ErrInactiveItems)

		var validationErr *allocengine.ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, []uuid.UUID{ids[4]}, validationErr.IDs)
	})

	t.Run("soft-deleted identifiers", func(t *testing.T) {
		require.NoError(t, svc.DeleteQuestion(ctx, ids[3]))

		_, err := svc.Allocate(ctx, allocengine.AllocateRequest{
			Mode:    allocengine.ModeManual,
			ItemIDs: []uuid.UUID{ids[0], ids[3]},
		})
		require.ErrorIs(t, err, allocengine.ErrInactiveItems)
	})
}

func TestCreateBundlePersistsSelection(t *testing.T) {
	svc := setupTestService(t)
	seedQuestions(t, svc, 40, nil)
	ctx := context.Background()

	bundle, err := svc.CreateBundle(ctx, allocengine.CreateBundleRequest{
		Name:  "weekly exam",
		Mode:  allocengine.ModeAutoAny,
		Count: 20,
	})
	require.NoError(t, err)
	assert.Equal(t, 20, bundle.TargetCount)
	assert.Equal(t, allocengine.BundleStatusActive, bundle.Status)

	items, err := svc.GetBundleItems(ctx, bundle.ID)
	require.NoError(t, err)
	assert.Len(t, items, 20)
	assertDistinct(t, items)

	// The committed bundle counts toward the usage index: a second bundle of
	// 20 must claim the remaining fresh items.
	second, err := svc.CreateBundle(ctx, allocengine.CreateBundleRequest{
		Name:  "weekly exam 2",
		Mode:  allocengine.ModeAutoAny,
		Count: 20,
	})
	require.NoError(t, err)

	secondItems, err := svc.GetBundleItems(ctx, second.ID)
	require.NoError(t, err)

	overlap := 0
	firstSet := make(map[uuid.UUID]struct{}, len(items))
	for _, id := range items {
		firstSet[id] = struct{}{}
	}
	for _, id := range secondItems {
		if _, ok := firstSet[id]; ok {
			overlap++
		}
	}
	assert.Zero(t, overlap, "second bundle reused items while fresh ones remained")
}

func TestDeleteBundleFreesItems(t *testing.T) {
	svc := setupTestService(t)
	seedQuestions(t, svc, 10, nil)
	ctx := context.Background()

	bundle, err := svc.CreateBundle(ctx, allocengine.CreateBundleRequest{
		Name:  "short-lived",
		Mode:  allocengine.ModeAutoAny,
		Count: 10,
	})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteBundle(ctx, bundle.ID))

	sel, err := svc.Allocate(ctx, allocengine.AllocateRequest{
		Mode:  allocengine.ModeAutoAny,
		Count: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, 10, sel.FreshCount, "deleted bundle's items should be fresh again")
}

func TestRegenerateBundle(t *testing.T) {
	svc := setupTestService(t)
	ids := seedQuestions(t, svc, 10, nil)
	ctx := context.Background()

	bundle, err := svc.CreateBundle(ctx, allocengine.CreateBundleRequest{
		Name:  "midterm",
		Mode:  allocengine.ModeAutoAny,
		Count: 5,
	})
	require.NoError(t, err)

	original, err := svc.GetBundleItems(ctx, bundle.ID)
	require.NoError(t, err)

	t.Run("auto regeneration avoids previous items", func(t *testing.T) {
		regenerated, err := svc.RegenerateBundle(ctx, allocengine.RegenerateBundleRequest{BundleID: bundle.ID})
		require.NoError(t, err)
		assert.Equal(t, 5, regenerated.TargetCount)

		items, err := svc.GetBundleItems(ctx, bundle.ID)
		require.NoError(t, err)
		assert.Len(t, items, 5)
		for _, id := range items {
			assert.NotContains(t, original, id, "regeneration picked a previous item while fresh ones remained")
		}
	})

	t.Run("manual regeneration", func(t *testing.T) {
		regenerated, err := svc.RegenerateBundle(ctx, allocengine.RegenerateBundleRequest{
			BundleID: bundle.ID,
			ItemIDs:  ids[:3],
		})
		require.NoError(t, err)
		assert.Equal(t, 3, regenerated.TargetCount)
		assert.Equal(t, allocengine.ModeManual, regenerated.Mode)

		items, err := svc.GetBundleItems(ctx, bundle.ID)
		require.NoError(t, err)
		assert.Equal(t, ids[:3], items)
	})

	t.Run("unknown bundle", func(t *testing.T) {
		_, err := svc.RegenerateBundle(ctx, allocengine.RegenerateBundleRequest{BundleID: uuid.New()})
		assert.ErrorIs(t, err, allocengine.ErrBundleNotFound)
	})
}

func TestConcurrentCreateBundlesAreDisjoint(t *testing.T) {
	const (
		workers = 5
		count   = 10
	)

	svc := setupTestService(t)
	seedQuestions(t, svc, workers*count+10, nil)

	var wg sync.WaitGroup
	bundles := make([]*allocengine.Bundle, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bundles[i], errs[i] = svc.CreateBundle(context.Background(), allocengine.CreateBundleRequest{
				Name:  "concurrent",
				Mode:  allocengine.ModeAutoAny,
				Count: count,
			})
		}(i)
	}
	wg.Wait()

	seen := make(map[uuid.UUID]struct{})
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		items, err := svc.GetBundleItems(context.Background(), bundles[i].ID)
		require.NoError(t, err)
		require.Len(t, items, count)
		for _, id := range items {
			_, dup := seen[id]
			require.False(t, dup, "item %s allocated to two concurrent bundles", id)
			seen[id] = struct{}{}
		}
	}
}
