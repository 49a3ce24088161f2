package allocengine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// Default policy constants, overridable at construction.
const (
	DefaultMaxOverlapPercent = 10.0
	DefaultMinFreshPercent   = 80.0
)

// service implements the Service interface
type service struct {
	repository Repository
	logger     *slog.Logger
	rng        *rand.Rand

	maxOverlapPercent float64
	minFreshPercent   float64

	// guard serializes every selection attempt. A buffered channel rather
	// than a sync.Mutex so acquisition can observe context cancellation and
	// the optional wait bound.
	guard       chan struct{}
	lockTimeout time.Duration
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithRepository sets the repository for the service
func WithRepository(repo Repository) Option {
	return func(s *service) {
		s.repository = repo
	}
}

// WithLogger sets the structured logger used for allocation observability.
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithRand injects the random source used for shuffling, so tests can make
// selection deterministic. The source is only used while the allocation guard
// is held and needs no synchronization of its own.
func WithRand(rng *rand.Rand) Option {
	return func(s *service) {
		s.rng = rng
	}
}

// WithMaxOverlapPercent overrides the maximum allowed fraction of reused
// items in an auto selection, in percent.
func WithMaxOverlapPercent(pct float64) Option {
	return func(s *service) {
		s.maxOverlapPercent = pct
	}
}

// WithMinFreshPercent overrides the minimum required fraction of fresh items
// in an auto selection, in percent.
func WithMinFreshPercent(pct float64) Option {
	return func(s *service) {
		s.minFreshPercent = pct
	}
}

// WithLockTimeout bounds the wait for the allocation guard. The zero value
// keeps the default behavior of blocking until the guard is free (or the
// context is canceled); a positive value makes contended callers fail with
// ErrLockTimeout instead.
func WithLockTimeout(d time.Duration) Option {
	return func(s *service) {
		s.lockTimeout = d
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		maxOverlapPercent: DefaultMaxOverlapPercent,
		minFreshPercent:   DefaultMinFreshPercent,
		guard:             make(chan struct{}, 1),
	}

	for _, option := range options {
		option(s)
	}

	if s.repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if s.maxOverlapPercent < 0 || s.maxOverlapPercent > 100 {
		return nil, fmt.Errorf("max overlap percent must be within [0, 100], got %v", s.maxOverlapPercent)
	}
	if s.minFreshPercent < 0 || s.minFreshPercent > 100 {
		return nil, fmt.Errorf("min fresh percent must be within [0, 100], got %v", s.minFreshPercent)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.rng == nil {
		now := uint64(time.Now().UnixNano())
		s.rng = rand.New(rand.NewPCG(now, now>>17))
	}

	return s, nil
}

// acquire takes the allocation guard, observing the configured wait bound and
// context cancellation. Every successful acquire must be paired with release.
func (s *service) acquire(ctx context.Context) error {
	if s.lockTimeout <= 0 {
		select {
		case s.guard <- struct{}{}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()
	select {
	case s.guard <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrLockTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *service) release() {
	<-s.guard
}

// Allocation

func (s *service) Allocate(ctx context.Context, req AllocateRequest) (*Selection, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	return s.selectLocked(ctx, req)
}

// selectLocked dispatches one selection attempt. The caller must hold the
// allocation guard.
func (s *service) selectLocked(ctx context.Context, req AllocateRequest) (*Selection, error) {
	switch req.Mode {
	case ModeManual:
		sel, err := s.selectManual(ctx, req.ItemIDs)
		if err != nil {
			return nil, &AllocationError{Mode: req.Mode, Count: len(req.ItemIDs), Err: err}
		}
		return sel, nil
	case ModeAutoAny, ModeAutoCategory:
		if req.Count <= 0 {
			return nil, &AllocationError{Mode: req.Mode, Count: req.Count, CategoryID: req.CategoryID, Err: ErrInvalidCount}
		}
		if req.Mode == ModeAutoCategory && req.CategoryID == nil {
			return nil, &AllocationError{Mode: req.Mode, Count: req.Count, Err: ErrCategoryRequired}
		}
		var category *uuid.UUID
		if req.Mode == ModeAutoCategory {
			category = req.CategoryID
		}
		sel, err := s.selectAuto(ctx, req.Count, category)
		if err != nil {
			return nil, &AllocationError{Mode: req.Mode, Count: req.Count, CategoryID: category, Err: err}
		}
		s.logger.Info("allocation complete",
			"mode", req.Mode,
			"count", req.Count,
			"fresh", sel.FreshCount,
			"reused", sel.ReusedCount)
		return sel, nil
	default:
		return nil, &AllocationError{Mode: req.Mode, Count: req.Count, Err: ErrInvalidMode}
	}
}

// Bundle operations

// CreateBundle allocates an item set and persists the bundle before releasing
// the allocation guard, so the next waiting caller observes this bundle's
// items as used. This is the critical-section discipline the freshness
// guarantee depends on.
func (s *service) CreateBundle(ctx context.Context, req CreateBundleRequest) (*Bundle, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	sel, err := s.selectLocked(ctx, AllocateRequest{
		Mode:       req.Mode,
		Count:      req.Count,
		CategoryID: req.CategoryID,
		ItemIDs:    req.ItemIDs,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	bundle := &Bundle{
		ID:          uuid.New(),
		Name:        req.Name,
		TargetCount: len(sel.ItemIDs),
		CategoryID:  req.CategoryID,
		Mode:        req.Mode,
		Status:      BundleStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repository.CreateBundle(ctx, bundle, sel.ItemIDs); err != nil {
		return nil, &StorageError{Op: "create bundle", Err: err}
	}

	return bundle, nil
}

// RegenerateBundle replaces a bundle's item set wholesale, under the same
// guard discipline as CreateBundle. Items from the old set count as used
// while the new set is selected, which biases regeneration away from the
// bundle's previous items.
func (s *service) RegenerateBundle(ctx context.Context, req RegenerateBundleRequest) (*Bundle, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	bundle, err := s.repository.GetBundle(ctx, req.BundleID)
	if err != nil {
		return nil, err
	}

	alloc := AllocateRequest{
		Mode:       bundle.Mode,
		Count:      bundle.TargetCount,
		CategoryID: bundle.CategoryID,
		ItemIDs:    req.ItemIDs,
	}
	if len(req.ItemIDs) > 0 {
		alloc.Mode = ModeManual
	} else if bundle.Mode == ModeManual {
		// A manual bundle regenerated without an explicit list falls back to
		// auto selection over its category scope.
		alloc.Mode = ModeAutoAny
		if bundle.CategoryID != nil {
			alloc.Mode = ModeAutoCategory
		}
	}

	sel, err := s.selectLocked(ctx, alloc)
	if err != nil {
		return nil, err
	}

	if err := s.repository.ReplaceBundleItems(ctx, bundle.ID, sel.ItemIDs); err != nil {
		return nil, &StorageError{Op: "replace bundle items", Err: err}
	}

	bundle.TargetCount = len(sel.ItemIDs)
	bundle.Mode = alloc.Mode
	bundle.UpdatedAt = time.Now().UTC()
	if err := s.repository.UpdateBundle(ctx, bundle); err != nil {
		return nil, &StorageError{Op: "update bundle", Err: err}
	}

	return bundle, nil
}

func (s *service) GetBundle(ctx context.Context, id uuid.UUID) (*Bundle, error) {
	return s.repository.GetBundle(ctx, id)
}

func (s *service) GetBundleItems(ctx context.Context, bundleID uuid.UUID) ([]uuid.UUID, error) {
	if _, err := s.repository.GetBundle(ctx, bundleID); err != nil {
		return nil, err
	}
	return s.repository.GetBundleItems(ctx, bundleID)
}

func (s *service) ListBundles(ctx context.Context) ([]*Bundle, error) {
	return s.repository.ListBundles(ctx)
}

func (s *service) DeleteBundle(ctx context.Context, id uuid.UUID) error {
	if _, err := s.repository.GetBundle(ctx, id); err != nil {
		return err
	}
	return s.repository.DeleteBundle(ctx, id)
}

// Question operations

func (s *service) CreateQuestion(ctx context.Context, req CreateQuestionRequest) (*Question, error) {
	now := time.Now().UTC()
	question := &Question{
		ID:         uuid.New(),
		CategoryID: req.CategoryID,
		Text:       req.Text,
		Status:     QuestionStatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.repository.CreateQuestion(ctx, question); err != nil {
		return nil, &StorageError{Op: "create question", Err: err}
	}

	return question, nil
}

func (s *service) GetQuestion(ctx context.Context, id uuid.UUID) (*Question, error) {
	return s.repository.GetQuestion(ctx, id)
}

func (s *service) UpdateQuestion(ctx context.Context, req UpdateQuestionRequest) error {
	if req.Question == nil {
		return fmt.Errorf("question is required")
	}
	if !req.Question.Status.IsValid() {
		return fmt.Errorf("unknown question status %q", req.Question.Status)
	}
	req.Question.UpdatedAt = time.Now().UTC()
	return s.repository.UpdateQuestion(ctx, req.Question)
}

func (s *service) DeleteQuestion(ctx context.Context, id uuid.UUID) error {
	if _, err := s.repository.GetQuestion(ctx, id); err != nil {
		return err
	}
	return s.repository.DeleteQuestion(ctx, id)
}

func (s *service) ListQuestions(ctx context.Context, categoryID *uuid.UUID) ([]*Question, error) {
	return s.repository.ListQuestions(ctx, categoryID)
}
