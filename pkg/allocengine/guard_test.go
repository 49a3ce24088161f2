package allocengine_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/examkit/alloc-engine/pkg/allocengine"
	"github.com/examkit/alloc-engine/pkg/allocengine/repo/memory"
)

// blockingRepo parks the first usage-index read until released, keeping the
// allocation guard held so contention can be provoked deterministically.
type blockingRepo struct {
	allocengine.Repository
	entered chan struct{}
	release chan struct{}
}

func (b *blockingRepo) CurrentlyUsedIDs(ctx context.Context) (map[uuid.UUID]struct{}, error) {
	select {
	case b.entered <- struct{}{}:
		<-b.release
	default:
	}
	return b.Repository.CurrentlyUsedIDs(ctx)
}

func newBlockingRepo(t *testing.T, questions int) *blockingRepo {
	t.Helper()

	repo := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()
	for i := 0; i < questions; i++ {
		err := repo.CreateQuestion(ctx, &allocengine.Question{
			ID:        uuid.New(),
			Status:    allocengine.QuestionStatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		})
		require.NoError(t, err)
	}

	return &blockingRepo{
		Repository: repo,
		entered:    make(chan struct{}, 1),
		release:    make(chan struct{}),
	}
}

func TestLockTimeout(t *testing.T) {
	repo := newBlockingRepo(t, 10)
	svc, err := allocengine.New(
		allocengine.WithRepository(repo),
		allocengine.WithLockTimeout(50*time.Millisecond),
	)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Allocate(context.Background(), allocengine.AllocateRequest{
			Mode:  allocengine.ModeAutoAny,
			Count: 5,
		})
		done <- err
	}()

	// Wait until the first caller is inside the critical section.
	<-repo.entered

	_, err = svc.Allocate(context.Background(), allocengine.AllocateRequest{
		Mode:  allocengine.ModeAutoAny,
		Count: 5,
	})
	assert.ErrorIs(t, err, allocengine.ErrLockTimeout)

	close(repo.release)
	require.NoError(t, <-done)
}

func TestAcquireHonorsContextCancellation(t *testing.T) {
	repo := newBlockingRepo(t, 10)
	svc, err := allocengine.New(allocengine.WithRepository(repo))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Allocate(context.Background(), allocengine.AllocateRequest{
			Mode:  allocengine.ModeAutoAny,
			Count: 5,
		})
		done <- err
	}()

	<-repo.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = svc.Allocate(ctx, allocengine.AllocateRequest{
		Mode:  allocengine.ModeAutoAny,
		Count: 5,
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(repo.release)
	require.NoError(t, <-done)
}
