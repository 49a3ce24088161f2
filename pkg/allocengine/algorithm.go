package allocengine

import (
	"context"
	"math"
	"sort"

	"github.com/google/uuid"
)

// selectAuto picks exactly count distinct question IDs, preferring items not
// referenced by any active bundle. Reuse of already-referenced items is
// allowed only up to the overlap cap, and only once every available fresh
// item has been taken. The caller must hold the allocation guard.
func (s *service) selectAuto(ctx context.Context, count int, categoryID *uuid.UUID) (*Selection, error) {
	usedIDs, err := s.repository.CurrentlyUsedIDs(ctx)
	if err != nil {
		return nil, &StorageError{Op: "load usage index", Err: err}
	}

	total, err := s.repository.Count(ctx, categoryID)
	if err != nil {
		return nil, &StorageError{Op: "count catalog", Err: err}
	}
	if total == 0 {
		return nil, ErrNoEligibleItems
	}
	if total < count {
		return nil, ErrInsufficientCatalog
	}

	fresh, reused, err := s.partitionCatalog(ctx, categoryID, usedIDs)
	if err != nil {
		return nil, err
	}

	minFresh := ceilPercent(count, s.minFreshPercent)
	if len(fresh) < minFresh && len(fresh)+len(reused) < count {
		return nil, ErrInsufficientUniqueItems
	}

	s.rng.Shuffle(len(fresh), func(i, j int) {
		fresh[i], fresh[j] = fresh[j], fresh[i]
	})

	take := min(count, len(fresh))
	result := make([]uuid.UUID, 0, count)
	result = append(result, fresh[:take]...)

	reusedCount := 0
	if len(result) < count {
		// Taking every fresh item was not enough; the shortfall must be
		// covered by reuse without breaking the freshness quota or the
		// overlap cap.
		if len(fresh) < minFresh {
			return nil, ErrInsufficientUniqueItems
		}

		remaining := count - len(result)
		maxReuse := ceilPercent(count, s.maxOverlapPercent)
		actualReuse := min(remaining, maxReuse)
		if actualReuse < remaining {
			return nil, ErrInsufficientUniqueItems
		}
		if len(reused) < actualReuse {
			return nil, ErrInsufficientUniqueItems
		}

		picked, err := s.pickLeastUsed(ctx, reused, actualReuse)
		if err != nil {
			return nil, err
		}
		result = append(result, picked...)
		reusedCount = len(picked)
	}

	if len(result) != count {
		return nil, ErrSelectionInvariant
	}

	return &Selection{
		ItemIDs:     result,
		FreshCount:  count - reusedCount,
		ReusedCount: reusedCount,
	}, nil
}

// partitionCatalog streams the catalog once, splitting every eligible
// question into fresh (not currently referenced) and reused. The stream is
// consumed in full; only the IDs are retained.
func (s *service) partitionCatalog(ctx context.Context, categoryID *uuid.UUID, usedIDs map[uuid.UUID]struct{}) (fresh, reused []uuid.UUID, err error) {
	it, err := s.repository.Stream(ctx, categoryID)
	if err != nil {
		return nil, nil, &StorageError{Op: "stream catalog", Err: err}
	}
	defer it.Close()

	for it.Next(ctx) {
		id := it.Item().ID
		if _, ok := usedIDs[id]; ok {
			reused = append(reused, id)
		} else {
			fresh = append(fresh, id)
		}
	}
	if err := it.Err(); err != nil {
		return nil, nil, &StorageError{Op: "stream catalog", Err: err}
	}

	return fresh, reused, nil
}

// pickLeastUsed returns n reused IDs sorted ascending by bundle reference
// count. Candidates are shuffled before the stable sort, so ties within the
// same usage count resolve randomly instead of always favoring the same
// items.
func (s *service) pickLeastUsed(ctx context.Context, reused []uuid.UUID, n int) ([]uuid.UUID, error) {
	usage, err := s.repository.CountUsage(ctx, reused)
	if err != nil {
		return nil, &StorageError{Op: "count usage", Err: err}
	}

	s.rng.Shuffle(len(reused), func(i, j int) {
		reused[i], reused[j] = reused[j], reused[i]
	})
	sort.SliceStable(reused, func(i, j int) bool {
		return usage[reused[i]] < usage[reused[j]]
	})

	return reused[:n], nil
}

// ceilPercent computes ceil(count * pct / 100). Both the minimum-fresh
// threshold and the overlap cap round up, which makes the cap slightly
// permissive at fractional boundaries (count=7 at 10% allows 1 reused item).
func ceilPercent(count int, pct float64) int {
	return int(math.Ceil(float64(count) * pct / 100))
}
