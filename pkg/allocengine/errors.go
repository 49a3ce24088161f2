package allocengine

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error types
var (
	// ErrNoEligibleItems indicates zero catalog items match the request scope.
	ErrNoEligibleItems = errors.New("no eligible items")

	// ErrInsufficientCatalog indicates the eligible catalog is smaller than the requested count.
	ErrInsufficientCatalog = errors.New("insufficient catalog")

	// ErrInsufficientUniqueItems indicates the freshness quota and overlap cap
	// cannot be satisfied even using all available reuse headroom.
	ErrInsufficientUniqueItems = errors.New("insufficient unique items")

	// ErrSelectionInvariant indicates the algorithm produced a result of the
	// wrong size. It signals a bug in the engine, never a user error.
	ErrSelectionInvariant = errors.New("selection invariant violated")

	// ErrDuplicateIdentifiers indicates a manual request repeats an item ID.
	ErrDuplicateIdentifiers = errors.New("duplicate identifiers")

	// ErrItemsNotFound indicates a manual request references unknown item IDs.
	ErrItemsNotFound = errors.New("items not found")

	// ErrInactiveItems indicates a manual request references disabled or deleted items.
	ErrInactiveItems = errors.New("inactive items")

	// ErrLockTimeout indicates the allocation guard was not acquired within
	// the configured wait bound.
	ErrLockTimeout = errors.New("allocation lock timeout")

	// ErrInvalidCount indicates a non-positive requested count.
	ErrInvalidCount = errors.New("invalid count")

	// ErrCategoryRequired indicates a category-scoped request without a category.
	ErrCategoryRequired = errors.New("category is required")

	// ErrInvalidMode indicates an unknown allocation mode.
	ErrInvalidMode = errors.New("invalid allocation mode")

	// ErrQuestionNotFound indicates a question was not found.
	ErrQuestionNotFound = errors.New("question not found")

	// ErrBundleNotFound indicates a bundle was not found.
	ErrBundleNotFound = errors.New("bundle not found")
)

// AllocationError wraps a failed allocation attempt with the request
// parameters needed to reproduce it.
type AllocationError struct {
	Mode       Mode
	Count      int
	CategoryID *uuid.UUID
	Err        error
}

func (e *AllocationError) Error() string {
	if e.CategoryID != nil {
		return fmt.Sprintf("allocation %s of %d items in category %s failed: %v", e.Mode, e.Count, e.CategoryID, e.Err)
	}
	return fmt.Sprintf("allocation %s of %d items failed: %v", e.Mode, e.Count, e.Err)
}

func (e *AllocationError) Unwrap() error {
	return e.Err
}

// ValidationError carries the identifiers that made a manual selection
// invalid, so the operator can correct the request.
type ValidationError struct {
	IDs []uuid.UUID
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %v", e.Err, e.IDs)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// StorageError represents a failure from a repository collaborator. The engine
// never retries; the error propagates unchanged to the caller.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
