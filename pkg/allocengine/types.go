package allocengine

import (
	"time"

	"github.com/google/uuid"
)

// QuestionStatus is the domain type for question lifecycle states.
type QuestionStatus string

// Question status constants (typed).
const (
	QuestionStatusActive   QuestionStatus = "active"
	QuestionStatusDisabled QuestionStatus = "disabled"
)

// IsValid reports whether the status is one of the known question states.
func (s QuestionStatus) IsValid() bool {
	switch s {
	case QuestionStatusActive, QuestionStatusDisabled:
		return true
	}
	return false
}

// BundleStatus is the domain type for bundle lifecycle states.
type BundleStatus string

// Bundle status constants (typed).
const (
	BundleStatusActive   BundleStatus = "active"
	BundleStatusArchived BundleStatus = "archived"
)

// Mode selects how a bundle's item set is chosen.
type Mode string

// Allocation mode constants.
const (
	// ModeAutoAny selects items from the whole catalog.
	ModeAutoAny Mode = "auto_any"
	// ModeAutoCategory selects items from a single category.
	ModeAutoCategory Mode = "auto_category"
	// ModeManual uses an operator-supplied item list.
	ModeManual Mode = "manual"
)

// Question represents a reusable catalog item (an exam question).
//
// The allocation engine only reads questions; ownership of the records lives
// with the repository. A question with a non-nil DeletedAt or a status other
// than "active" is never eligible for selection.
type Question struct {
	ID         uuid.UUID      `json:"id"`
	CategoryID *uuid.UUID     `json:"category_id,omitempty"`
	Text       string         `json:"text"`
	Status     QuestionStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  *time.Time     `json:"deleted_at,omitempty"`
}

// Active reports whether the question is eligible for selection.
func (q *Question) Active() bool {
	return q.Status == QuestionStatusActive && q.DeletedAt == nil
}

// Bundle represents a named collection of exactly TargetCount questions
// (an exam package). The item set is produced by the allocation engine and
// persisted atomically with the bundle; it may later be replaced wholesale
// by regeneration.
type Bundle struct {
	ID          uuid.UUID    `json:"id"`
	Name        string       `json:"name"`
	TargetCount int          `json:"target_count"`
	CategoryID  *uuid.UUID   `json:"category_id,omitempty"`
	Mode        Mode         `json:"mode"`
	Status      BundleStatus `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	DeletedAt   *time.Time   `json:"deleted_at,omitempty"`
}

// Selection is the outcome of one allocation call: exactly the requested
// number of distinct question IDs, with the fresh/reused split recorded for
// observability. For manual selections the split is not computed and both
// counters are zero.
type Selection struct {
	ItemIDs     []uuid.UUID `json:"item_ids"`
	FreshCount  int         `json:"fresh_count"`
	ReusedCount int         `json:"reused_count"`
}
