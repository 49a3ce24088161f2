package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/examkit/alloc-engine/pkg/allocengine"
)

// Repository implements allocengine.Repository using in-memory storage
type Repository struct {
	mu          sync.RWMutex
	questions   map[uuid.UUID]*allocengine.Question
	bundles     map[uuid.UUID]*allocengine.Bundle
	bundleItems map[uuid.UUID][]uuid.UUID // bundle_id -> []question_id
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		questions:   make(map[uuid.UUID]*allocengine.Question),
		bundles:     make(map[uuid.UUID]*allocengine.Bundle),
		bundleItems: make(map[uuid.UUID][]uuid.UUID),
	}
}

// eligible reports whether a question can be surfaced by the scanner.
func eligible(q *allocengine.Question, categoryID *uuid.UUID) bool {
	if !q.Active() {
		return false
	}
	if categoryID == nil {
		return true
	}
	return q.CategoryID != nil && *q.CategoryID == *categoryID
}

// activeBundle reports whether a bundle's items count toward the usage index.
func activeBundle(b *allocengine.Bundle) bool {
	return b.Status == allocengine.BundleStatusActive && b.DeletedAt == nil
}

// Usage index

func (r *Repository) CurrentlyUsedIDs(ctx context.Context) (map[uuid.UUID]struct{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	used := make(map[uuid.UUID]struct{})
	for id, b := range r.bundles {
		if !activeBundle(b) {
			continue
		}
		for _, itemID := range r.bundleItems[id] {
			used[itemID] = struct{}{}
		}
	}
	return used, nil
}

// Catalog scanner

func (r *Repository) Stream(ctx context.Context, categoryID *uuid.UUID) (allocengine.ItemIterator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Snapshot under the read lock; the iterator itself is lock-free and
	// unaffected by later writes. Sorted by ID to match the postgres
	// scanner's keyset order.
	items := make([]*allocengine.Question, 0, len(r.questions))
	for _, q := range r.questions {
		if eligible(q, categoryID) {
			questionCopy := *q
			items = append(items, &questionCopy)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].ID.String() < items[j].ID.String()
	})
	return &sliceIterator{items: items}, nil
}

func (r *Repository) Count(ctx context.Context, categoryID *uuid.UUID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, q := range r.questions {
		if eligible(q, categoryID) {
			count++
		}
	}
	return count, nil
}

// Usage counter

func (r *Repository) CountUsage(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[uuid.UUID]int, len(ids))
	for _, id := range ids {
		counts[id] = 0
	}
	for bundleID, b := range r.bundles {
		if !activeBundle(b) {
			continue
		}
		for _, itemID := range r.bundleItems[bundleID] {
			if _, ok := counts[itemID]; ok {
				counts[itemID]++
			}
		}
	}
	return counts, nil
}

// Catalog lookup

func (r *Repository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*allocengine.Question, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Soft-deleted questions are returned too: the manual selector needs to
	// tell "unknown ID" apart from "known but inactive".
	found := make([]*allocengine.Question, 0, len(ids))
	for _, id := range ids {
		if q, ok := r.questions[id]; ok {
			questionCopy := *q
			found = append(found, &questionCopy)
		}
	}
	return found, nil
}

// Question operations

func (r *Repository) CreateQuestion(ctx context.Context, q *allocengine.Question) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	questionCopy := *q
	r.questions[q.ID] = &questionCopy
	return nil
}

func (r *Repository) GetQuestion(ctx context.Context, id uuid.UUID) (*allocengine.Question, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q, exists := r.questions[id]
	if !exists || q.DeletedAt != nil {
		return nil, allocengine.ErrQuestionNotFound
	}
	questionCopy := *q
	return &questionCopy, nil
}

func (r *Repository) UpdateQuestion(ctx context.Context, q *allocengine.Question) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.questions[q.ID]; !exists {
		return allocengine.ErrQuestionNotFound
	}
	questionCopy := *q
	r.questions[q.ID] = &questionCopy
	return nil
}

func (r *Repository) DeleteQuestion(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	q, exists := r.questions[id]
	if !exists {
		return allocengine.ErrQuestionNotFound
	}
	now := time.Now().UTC()
	q.DeletedAt = &now
	return nil
}

func (r *Repository) ListQuestions(ctx context.Context, categoryID *uuid.UUID) ([]*allocengine.Question, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	questions := make([]*allocengine.Question, 0)
	for _, q := range r.questions {
		if q.DeletedAt != nil {
			continue
		}
		if categoryID != nil && (q.CategoryID == nil || *q.CategoryID != *categoryID) {
			continue
		}
		questionCopy := *q
		questions = append(questions, &questionCopy)
	}
	sort.Slice(questions, func(i, j int) bool {
		return questions[i].CreatedAt.After(questions[j].CreatedAt)
	})
	return questions, nil
}

// Bundle operations

func (r *Repository) CreateBundle(ctx context.Context, b *allocengine.Bundle, itemIDs []uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	bundleCopy := *b
	r.bundles[b.ID] = &bundleCopy
	items := make([]uuid.UUID, len(itemIDs))
	copy(items, itemIDs)
	r.bundleItems[b.ID] = items
	return nil
}

func (r *Repository) GetBundle(ctx context.Context, id uuid.UUID) (*allocengine.Bundle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, exists := r.bundles[id]
	if !exists || b.DeletedAt != nil {
		return nil, allocengine.ErrBundleNotFound
	}
	bundleCopy := *b
	return &bundleCopy, nil
}

func (r *Repository) UpdateBundle(ctx context.Context, b *allocengine.Bundle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.bundles[b.ID]; !exists {
		return allocengine.ErrBundleNotFound
	}
	bundleCopy := *b
	r.bundles[b.ID] = &bundleCopy
	return nil
}

func (r *Repository) GetBundleItems(ctx context.Context, bundleID uuid.UUID) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items, exists := r.bundleItems[bundleID]
	if !exists {
		return nil, allocengine.ErrBundleNotFound
	}
	result := make([]uuid.UUID, len(items))
	copy(result, items)
	return result, nil
}

func (r *Repository) ReplaceBundleItems(ctx context.Context, bundleID uuid.UUID, itemIDs []uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.bundles[bundleID]; !exists {
		return allocengine.ErrBundleNotFound
	}
	items := make([]uuid.UUID, len(itemIDs))
	copy(items, itemIDs)
	r.bundleItems[bundleID] = items
	return nil
}

func (r *Repository) ListBundles(ctx context.Context) ([]*allocengine.Bundle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bundles := make([]*allocengine.Bundle, 0, len(r.bundles))
	for _, b := range r.bundles {
		if b.DeletedAt != nil {
			continue
		}
		bundleCopy := *b
		bundles = append(bundles, &bundleCopy)
	}
	sort.Slice(bundles, func(i, j int) bool {
		return bundles[i].CreatedAt.After(bundles[j].CreatedAt)
	})
	return bundles, nil
}

func (r *Repository) DeleteBundle(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, exists := r.bundles[id]
	if !exists {
		return allocengine.ErrBundleNotFound
	}
	now := time.Now().UTC()
	b.DeletedAt = &now
	return nil
}
