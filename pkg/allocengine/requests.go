package allocengine

import "github.com/google/uuid"

// Request DTOs

// AllocateRequest contains parameters for one allocation attempt.
//
// For ModeAutoCategory, CategoryID is required. For ModeManual, ItemIDs is the
// operator's explicit item list and Count is ignored (the selection size is
// len(ItemIDs)).
type AllocateRequest struct {
	Mode       Mode
	Count      int
	CategoryID *uuid.UUID
	ItemIDs    []uuid.UUID
}

// CreateBundleRequest contains parameters for creating a bundle together with
// its allocated item set.
type CreateBundleRequest struct {
	Name       string
	Mode       Mode
	Count      int
	CategoryID *uuid.UUID
	ItemIDs    []uuid.UUID
}

// RegenerateBundleRequest contains parameters for replacing a bundle's item
// set wholesale. The bundle's stored mode, count and category are reused
// unless overridden here.
type RegenerateBundleRequest struct {
	BundleID uuid.UUID

	// ItemIDs switches the regeneration to manual mode when non-empty.
	ItemIDs []uuid.UUID
}

// CreateQuestionRequest contains parameters for creating a catalog question.
type CreateQuestionRequest struct {
	CategoryID *uuid.UUID
	Text       string
}

// UpdateQuestionRequest contains parameters for updating a question.
type UpdateQuestionRequest struct {
	Question *Question
}
