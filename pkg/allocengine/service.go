package allocengine

import (
	"context"

	"github.com/google/uuid"
)

// Service is the public entry point for the allocation engine and the bundle
// lifecycle built on top of it.
type Service interface {
	// Allocate runs one selection attempt under the allocation guard and
	// returns exactly req.Count distinct item IDs (len(req.ItemIDs) for
	// manual mode), or fails without a partial result.
	//
	// The guard is held only for the duration of the selection. Callers that
	// persist the result themselves must instead use CreateBundle or
	// RegenerateBundle, which hold the guard across persistence; otherwise a
	// concurrent caller may observe the same fresh items before this result
	// is committed, and the freshness guarantee degrades to best effort.
	Allocate(ctx context.Context, req AllocateRequest) (*Selection, error)

	// Bundle operations
	CreateBundle(ctx context.Context, req CreateBundleRequest) (*Bundle, error)
	RegenerateBundle(ctx context.Context, req RegenerateBundleRequest) (*Bundle, error)
	GetBundle(ctx context.Context, id uuid.UUID) (*Bundle, error)
	GetBundleItems(ctx context.Context, bundleID uuid.UUID) ([]uuid.UUID, error)
	ListBundles(ctx context.Context) ([]*Bundle, error)
	DeleteBundle(ctx context.Context, id uuid.UUID) error

	// Question operations
	CreateQuestion(ctx context.Context, req CreateQuestionRequest) (*Question, error)
	GetQuestion(ctx context.Context, id uuid.UUID) (*Question, error)
	UpdateQuestion(ctx context.Context, req UpdateQuestionRequest) error
	DeleteQuestion(ctx context.Context, id uuid.UUID) error
	ListQuestions(ctx context.Context, categoryID *uuid.UUID) ([]*Question, error)
}
