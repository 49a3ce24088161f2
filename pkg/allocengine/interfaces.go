package allocengine

import (
	"context"

	"github.com/google/uuid"
)

// ItemIterator streams questions one at a time from the catalog, modeled on
// pgx.Rows. The sequence is finite, consumed once, and safe to abandon early:
// Close must release any store-side cursor on every exit path and is safe to
// call more than once.
//
//	it, err := scanner.Stream(ctx, nil)
//	if err != nil { ... }
//	defer it.Close()
//	for it.Next(ctx) {
//	    q := it.Item()
//	    ...
//	}
//	if err := it.Err(); err != nil { ... }
type ItemIterator interface {
	// Next advances to the next question, returning false when the sequence
	// is exhausted or a read failed. After Next returns false, Err
	// distinguishes the two.
	Next(ctx context.Context) bool

	// Item returns the question positioned by the last successful Next.
	Item() *Question

	// Err returns the first error encountered while streaming, if any.
	Err() error

	// Close releases the underlying cursor or page buffer.
	Close() error
}

// UsageIndex reports which questions are currently referenced by at least one
// active, non-deleted bundle.
type UsageIndex interface {
	// CurrentlyUsedIDs must reflect every committed bundle-item relationship
	// at call time.
	CurrentlyUsedIDs(ctx context.Context) (map[uuid.UUID]struct{}, error)
}

// CatalogScanner enumerates eligible questions without materializing the full
// catalog. Both methods surface only active, non-deleted questions; passing a
// nil category scans the whole catalog.
type CatalogScanner interface {
	Stream(ctx context.Context, categoryID *uuid.UUID) (ItemIterator, error)
	Count(ctx context.Context, categoryID *uuid.UUID) (int, error)
}

// UsageCounter resolves per-question bundle reference counts in one batch
// round trip. Identifiers with no references map to 0.
type UsageCounter interface {
	CountUsage(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]int, error)
}

// CatalogLookup resolves a set of question IDs in one batch call, used by
// manual selection to validate existence and active status.
type CatalogLookup interface {
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*Question, error)
}

// Repository is the persistence contract for the engine and the surrounding
// bundle/question lifecycle. Implementations are provided under repo/memory
// and repo/postgres.
type Repository interface {
	UsageIndex
	CatalogScanner
	UsageCounter
	CatalogLookup

	// Question operations
	CreateQuestion(ctx context.Context, q *Question) error
	GetQuestion(ctx context.Context, id uuid.UUID) (*Question, error)
	UpdateQuestion(ctx context.Context, q *Question) error
	DeleteQuestion(ctx context.Context, id uuid.UUID) error
	ListQuestions(ctx context.Context, categoryID *uuid.UUID) ([]*Question, error)

	// Bundle operations. CreateBundle persists the bundle and its item set
	// atomically; ReplaceBundleItems swaps a bundle's item set wholesale.
	CreateBundle(ctx context.Context, b *Bundle, itemIDs []uuid.UUID) error
	GetBundle(ctx context.Context, id uuid.UUID) (*Bundle, error)
	UpdateBundle(ctx context.Context, b *Bundle) error
	GetBundleItems(ctx context.Context, bundleID uuid.UUID) ([]uuid.UUID, error)
	ReplaceBundleItems(ctx context.Context, bundleID uuid.UUID, itemIDs []uuid.UUID) error
	ListBundles(ctx context.Context) ([]*Bundle, error)
	DeleteBundle(ctx context.Context, id uuid.UUID) error
}
