package allocengine

import (
	"context"

	"github.com/google/uuid"
)

// selectManual validates an operator-supplied item list: every ID must
// resolve to an active catalog question and appear at most once. No count or
// overlap policy applies; the operator's explicit choice is authoritative.
// The caller must hold the allocation guard.
func (s *service) selectManual(ctx context.Context, ids []uuid.UUID) (*Selection, error) {
	if len(ids) == 0 {
		return nil, ErrNoEligibleItems
	}

	seen := make(map[uuid.UUID]struct{}, len(ids))
	var duplicates []uuid.UUID
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			duplicates = append(duplicates, id)
			continue
		}
		seen[id] = struct{}{}
	}
	if len(duplicates) > 0 {
		return nil, &ValidationError{IDs: duplicates, Err: ErrDuplicateIdentifiers}
	}

	questions, err := s.repository.FindByIDs(ctx, ids)
	if err != nil {
		return nil, &StorageError{Op: "find questions", Err: err}
	}

	found := make(map[uuid.UUID]*Question, len(questions))
	for _, q := range questions {
		found[q.ID] = q
	}

	var missing, inactive []uuid.UUID
	for _, id := range ids {
		q, ok := found[id]
		switch {
		case !ok:
			missing = append(missing, id)
		case !q.Active():
			inactive = append(inactive, id)
		}
	}
	if len(missing) > 0 {
		return nil, &ValidationError{IDs: missing, Err: ErrItemsNotFound}
	}
	if len(inactive) > 0 {
		return nil, &ValidationError{IDs: inactive, Err: ErrInactiveItems}
	}

	result := make([]uuid.UUID, len(ids))
	copy(result, ids)

	return &Selection{ItemIDs: result}, nil
}
