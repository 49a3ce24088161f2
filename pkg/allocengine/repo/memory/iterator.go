package memory

import (
	"context"

	"github.com/examkit/alloc-engine/pkg/allocengine"
)

// sliceIterator walks a snapshot of the catalog taken at Stream time.
type sliceIterator struct {
	items  []*allocengine.Question
	pos    int
	cur    *allocengine.Question
	err    error
	closed bool
}

func (it *sliceIterator) Next(ctx context.Context) bool {
	if it.closed || it.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		it.err = err
		return false
	}
	if it.pos >= len(it.items) {
		return false
	}
	it.cur = it.items[it.pos]
	it.pos++
	return true
}

func (it *sliceIterator) Item() *allocengine.Question {
	return it.cur
}

func (it *sliceIterator) Err() error {
	return it.err
}

func (it *sliceIterator) Close() error {
	it.closed = true
	it.items = nil
	return nil
}
