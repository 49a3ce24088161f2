package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/examkit/alloc-engine/pkg/allocengine"
)

// pagedIterator streams eligible questions with keyset pagination: each page
// picks up after the highest ID seen so far, so no offset scans and no
// server-side cursor are held between pages. Abandoning the iterator early
// simply stops fetching.
type pagedIterator struct {
	repo       *Repository
	categoryID *uuid.UUID
	batchSize  int

	buf    []*allocengine.Question
	pos    int
	lastID uuid.UUID
	done   bool

	cur    *allocengine.Question
	err    error
	closed bool
}

func (it *pagedIterator) Next(ctx context.Context) bool {
	if it.closed || it.err != nil {
		return false
	}

	if it.pos >= len(it.buf) {
		if it.done {
			return false
		}
		if err := it.fetch(ctx); err != nil {
			it.err = err
			return false
		}
		if len(it.buf) == 0 {
			return false
		}
	}

	it.cur = it.buf[it.pos]
	it.pos++
	return true
}

func (it *pagedIterator) fetch(ctx context.Context) error {
	var (
		rows pgx.Rows
		err  error
	)
	if it.categoryID != nil {
		query := `
            SELECT id, category_id, text, status, created_at, updated_at, deleted_at
            FROM questions
            WHERE deleted_at IS NULL AND status = 'active' AND category_id = $1 AND id > $2
            ORDER BY id
            LIMIT $3`
		rows, err = it.repo.db.Query(ctx, query, *it.categoryID, it.lastID, it.batchSize)
	} else {
		query := `
            SELECT id, category_id, text, status, created_at, updated_at, deleted_at
            FROM questions
            WHERE deleted_at IS NULL AND status = 'active' AND id > $1
            ORDER BY id
            LIMIT $2`
		rows, err = it.repo.db.Query(ctx, query, it.lastID, it.batchSize)
	}
	if err != nil {
		return it.repo.handlePostgresError("stream questions", err)
	}
	defer rows.Close()

	questions, err := scanQuestions(rows)
	if err != nil {
		return err
	}

	it.buf = questions
	it.pos = 0
	if len(questions) > 0 {
		it.lastID = questions[len(questions)-1].ID
	}
	if len(questions) < it.batchSize {
		it.done = true
	}
	return nil
}

func (it *pagedIterator) Item() *allocengine.Question {
	return it.cur
}

func (it *pagedIterator) Err() error {
	return it.err
}

func (it *pagedIterator) Close() error {
	it.closed = true
	it.buf = nil
	return nil
}
