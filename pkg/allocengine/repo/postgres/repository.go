package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/examkit/alloc-engine/pkg/allocengine"
)

// defaultStreamBatchSize controls how many questions one Stream page fetches.
const defaultStreamBatchSize = 500

// DBTX is an interface that allows us to use either a connection pool or a
// transaction. Begin is needed for the bundle operations that must persist a
// bundle and its item set atomically.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository implements allocengine.Repository using PostgreSQL
type Repository struct {
	db        DBTX
	batchSize int
}

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db, batchSize: defaultStreamBatchSize}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return New(pool)
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			if strings.Contains(pgErr.ConstraintName, "bundle_items") {
				return fmt.Errorf("bundle item already exists")
			}
			return fmt.Errorf("duplicate entry")
		case "23503": // foreign_key_violation
			return fmt.Errorf("referenced record not found")
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}

// Usage index

func (r *Repository) CurrentlyUsedIDs(ctx context.Context) (map[uuid.UUID]struct{}, error) {
	query := `
        SELECT DISTINCT bi.question_id
        FROM bundle_items bi
        JOIN bundles b ON b.id = bi.bundle_id
        WHERE b.deleted_at IS NULL AND b.status = 'active'`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, r.handlePostgresError("load usage index", err)
	}
	defer rows.Close()

	used := make(map[uuid.UUID]struct{})
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		used[id] = struct{}{}
	}
	return used, rows.Err()
}

// Catalog scanner

// Stream returns a keyset-paged iterator over eligible questions. Pages of
// batchSize rows are fetched on demand, so abandoning the iterator early
// never pays for the rest of the catalog.
func (r *Repository) Stream(ctx context.Context, categoryID *uuid.UUID) (allocengine.ItemIterator, error) {
	return &pagedIterator{
		repo:       r,
		categoryID: categoryID,
		batchSize:  r.batchSize,
	}, nil
}

func (r *Repository) Count(ctx context.Context, categoryID *uuid.UUID) (int, error) {
	var (
		count int
		err   error
	)
	if categoryID != nil {
		query := `
            SELECT COUNT(*) FROM questions
            WHERE deleted_at IS NULL AND status = 'active' AND category_id = $1`
		err = r.db.QueryRow(ctx, query, *categoryID).Scan(&count)
	} else {
		query := `
            SELECT COUNT(*) FROM questions
            WHERE deleted_at IS NULL AND status = 'active'`
		err = r.db.QueryRow(ctx, query).Scan(&count)
	}
	if err != nil {
		return 0, r.handlePostgresError("count questions", err)
	}
	return count, nil
}

// Usage counter

func (r *Repository) CountUsage(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]int, error) {
	counts := make(map[uuid.UUID]int, len(ids))
	for _, id := range ids {
		counts[id] = 0
	}
	if len(ids) == 0 {
		return counts, nil
	}

	query := `
        SELECT bi.question_id, COUNT(*)
        FROM bundle_items bi
        JOIN bundles b ON b.id = bi.bundle_id
        WHERE b.deleted_at IS NULL AND b.status = 'active' AND bi.question_id = ANY($1)
        GROUP BY bi.question_id`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, r.handlePostgresError("count usage", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id uuid.UUID
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// Catalog lookup

func (r *Repository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*allocengine.Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	// Deleted questions are included on purpose: the manual selector reports
	// them as inactive rather than unknown.
	query := `
        SELECT id, category_id, text, status, created_at, updated_at, deleted_at
        FROM questions WHERE id = ANY($1)`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, r.handlePostgresError("find questions", err)
	}
	defer rows.Close()

	return scanQuestions(rows)
}

// Question operations

func (r *Repository) CreateQuestion(ctx context.Context, q *allocengine.Question) error {
	query := `
        INSERT INTO questions (id, category_id, text, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.Exec(ctx, query,
		q.ID, q.CategoryID, q.Text, q.Status, q.CreatedAt, q.UpdatedAt)
	if err != nil {
		return r.handlePostgresError("create question", err)
	}
	return nil
}

func (r *Repository) GetQuestion(ctx context.Context, id uuid.UUID) (*allocengine.Question, error) {
	query := `
        SELECT id, category_id, text, status, created_at, updated_at, deleted_at
        FROM questions WHERE id = $1 AND deleted_at IS NULL`

	var q allocengine.Question
	err := r.db.QueryRow(ctx, query, id).Scan(
		&q.ID, &q.CategoryID, &q.Text, &q.Status, &q.CreatedAt, &q.UpdatedAt, &q.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, allocengine.ErrQuestionNotFound
		}
		return nil, err
	}
	return &q, nil
}

func (r *Repository) UpdateQuestion(ctx context.Context, q *allocengine.Question) error {
	query := `
        UPDATE questions SET category_id = $2, text = $3, status = $4, updated_at = $5
        WHERE id = $1 AND deleted_at IS NULL`

	tag, err := r.db.Exec(ctx, query, q.ID, q.CategoryID, q.Text, q.Status, q.UpdatedAt)
	if err != nil {
		return r.handlePostgresError("update question", err)
	}
	if tag.RowsAffected() == 0 {
		return allocengine.ErrQuestionNotFound
	}
	return nil
}

func (r *Repository) DeleteQuestion(ctx context.Context, id uuid.UUID) error {
	// Soft delete: keep the row so historical bundles stay resolvable.
	query := `UPDATE questions SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return r.handlePostgresError("delete question", err)
	}
	if tag.RowsAffected() == 0 {
		return allocengine.ErrQuestionNotFound
	}
	return nil
}

func (r *Repository) ListQuestions(ctx context.Context, categoryID *uuid.UUID) ([]*allocengine.Question, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if categoryID != nil {
		query := `
            SELECT id, category_id, text, status, created_at, updated_at, deleted_at
            FROM questions WHERE deleted_at IS NULL AND category_id = $1
            ORDER BY created_at DESC`
		rows, err = r.db.Query(ctx, query, *categoryID)
	} else {
		query := `
            SELECT id, category_id, text, status, created_at, updated_at, deleted_at
            FROM questions WHERE deleted_at IS NULL
            ORDER BY created_at DESC`
		rows, err = r.db.Query(ctx, query)
	}
	if err != nil {
		return nil, r.handlePostgresError("list questions", err)
	}
	defer rows.Close()

	return scanQuestions(rows)
}

// Bundle operations

func (r *Repository) CreateBundle(ctx context.Context, b *allocengine.Bundle, itemIDs []uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return r.handlePostgresError("create bundle", err)
	}
	defer tx.Rollback(ctx)

	query := `
        INSERT INTO bundles (id, name, target_count, category_id, mode, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = tx.Exec(ctx, query,
		b.ID, b.Name, b.TargetCount, b.CategoryID, b.Mode, b.Status, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return r.handlePostgresError("create bundle", err)
	}

	if err := insertBundleItems(ctx, tx, b.ID, itemIDs); err != nil {
		return r.handlePostgresError("create bundle items", err)
	}

	return tx.Commit(ctx)
}

func (r *Repository) GetBundle(ctx context.Context, id uuid.UUID) (*allocengine.Bundle, error) {
	query := `
        SELECT id, name, target_count, category_id, mode, status, created_at, updated_at, deleted_at
        FROM bundles WHERE id = $1 AND deleted_at IS NULL`

	var b allocengine.Bundle
	err := r.db.QueryRow(ctx, query, id).Scan(
		&b.ID, &b.Name, &b.TargetCount, &b.CategoryID, &b.Mode, &b.Status,
		&b.CreatedAt, &b.UpdatedAt, &b.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, allocengine.ErrBundleNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (r *Repository) UpdateBundle(ctx context.Context, b *allocengine.Bundle) error {
	query := `
        UPDATE bundles SET name = $2, target_count = $3, category_id = $4, mode = $5,
               status = $6, updated_at = $7
        WHERE id = $1 AND deleted_at IS NULL`

	tag, err := r.db.Exec(ctx, query,
		b.ID, b.Name, b.TargetCount, b.CategoryID, b.Mode, b.Status, b.UpdatedAt)
	if err != nil {
		return r.handlePostgresError("update bundle", err)
	}
	if tag.RowsAffected() == 0 {
		return allocengine.ErrBundleNotFound
	}
	return nil
}

func (r *Repository) GetBundleItems(ctx context.Context, bundleID uuid.UUID) ([]uuid.UUID, error) {
	query := `
        SELECT question_id FROM bundle_items
        WHERE bundle_id = $1 ORDER BY position`

	rows, err := r.db.Query(ctx, query, bundleID)
	if err != nil {
		return nil, r.handlePostgresError("get bundle items", err)
	}
	defer rows.Close()

	var items []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		items = append(items, id)
	}
	return items, rows.Err()
}

func (r *Repository) ReplaceBundleItems(ctx context.Context, bundleID uuid.UUID, itemIDs []uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return r.handlePostgresError("replace bundle items", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM bundle_items WHERE bundle_id = $1`, bundleID); err != nil {
		return r.handlePostgresError("replace bundle items", err)
	}
	if err := insertBundleItems(ctx, tx, bundleID, itemIDs); err != nil {
		return r.handlePostgresError("replace bundle items", err)
	}

	return tx.Commit(ctx)
}

func (r *Repository) ListBundles(ctx context.Context) ([]*allocengine.Bundle, error) {
	query := `
        SELECT id, name, target_count, category_id, mode, status, created_at, updated_at, deleted_at
        FROM bundles WHERE deleted_at IS NULL
        ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, r.handlePostgresError("list bundles", err)
	}
	defer rows.Close()

	var bundles []*allocengine.Bundle
	for rows.Next() {
		var b allocengine.Bundle
		if err := rows.Scan(
			&b.ID, &b.Name, &b.TargetCount, &b.CategoryID, &b.Mode, &b.Status,
			&b.CreatedAt, &b.UpdatedAt, &b.DeletedAt); err != nil {
			return nil, err
		}
		bundles = append(bundles, &b)
	}
	return bundles, rows.Err()
}

func (r *Repository) DeleteBundle(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE bundles SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return r.handlePostgresError("delete bundle", err)
	}
	if tag.RowsAffected() == 0 {
		return allocengine.ErrBundleNotFound
	}
	return nil
}

// insertBundleItems writes the item set with stable positions using a single
// batched round trip.
func insertBundleItems(ctx context.Context, tx pgx.Tx, bundleID uuid.UUID, itemIDs []uuid.UUID) error {
	if len(itemIDs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `INSERT INTO bundle_items (bundle_id, question_id, position) VALUES ($1, $2, $3)`
	for i, itemID := range itemIDs {
		batch.Queue(query, bundleID, itemID, i)
	}

	results := tx.SendBatch(ctx, batch)
	defer results.Close()
	for range itemIDs {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return results.Close()
}

// scanQuestions drains a question row set.
func scanQuestions(rows pgx.Rows) ([]*allocengine.Question, error) {
	var questions []*allocengine.Question
	for rows.Next() {
		var q allocengine.Question
		if err := rows.Scan(
			&q.ID, &q.CategoryID, &q.Text, &q.Status,
			&q.CreatedAt, &q.UpdatedAt, &q.DeletedAt); err != nil {
			return nil, err
		}
		questions = append(questions, &q)
	}
	return questions, rows.Err()
}
