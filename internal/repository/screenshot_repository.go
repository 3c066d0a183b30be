// Package repository holds the relational store clients for screenshot
// records and query history.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/screenvault/screenvault/internal/models"
)

var (
	// ErrNotFound is returned when no record matches the lookup.
	ErrNotFound = errors.New("repository: record not found")
	// ErrInvalidTransition is returned when a guarded status update
	// finds the record in a different state than expected.
	ErrInvalidTransition = errors.New("repository: invalid status transition")
)

// ScreenshotStore is the metadata store contract for screenshot records.
type ScreenshotStore interface {
	Create(ctx context.Context, s *models.Screenshot) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Screenshot, error)
	GetForUser(ctx context.Context, userID, id uuid.UUID) (*models.Screenshot, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Screenshot, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to models.Status) error
	SaveAnalysis(ctx context.Context, id uuid.UUID, res *models.AnalysisResult) error
	MarkIndexed(ctx context.Context, id uuid.UUID, embeddingModel string) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	MarkDeleted(ctx context.Context, id uuid.UUID) error
	ResetForRetry(ctx context.Context, id uuid.UUID) error
	IncrementAttempts(ctx context.Context, id uuid.UUID) (int, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

const screenshotColumns = `id, user_id, blob_key, content_type, file_size, status, tag,
	description, raw_text, embedding_model, last_error, attempt_count, created_at, updated_at`

// ScreenshotRepository implements ScreenshotStore on Postgres.
type ScreenshotRepository struct {
	db *sqlx.DB
}

// NewScreenshotRepository creates a screenshot metadata repository.
func NewScreenshotRepository(db *sqlx.DB) *ScreenshotRepository {
	return &ScreenshotRepository{db: db}
}

// Create inserts a new record. The caller sets id, user id, blob key
// and status; timestamps default to now.
func (r *ScreenshotRepository) Create(ctx context.Context, s *models.Screenshot) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	query := `INSERT INTO screenshots
		(id, user_id, blob_key, content_type, file_size, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		s.ID, s.UserID, s.BlobKey, s.ContentType, s.FileSize, s.Status, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert screenshot: %w", err)
	}
	return nil
}

// GetByID fetches one record regardless of owner.
func (r *ScreenshotRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Screenshot, error) {
	var s models.Screenshot
	err := r.db.GetContext(ctx, &s,
		`SELECT `+screenshotColumns+` FROM screenshots WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get screenshot: %w", err)
	}
	return &s, nil
}

// GetForUser fetches one record owned by userID.
func (r *ScreenshotRepository) GetForUser(ctx context.Context, userID, id uuid.UUID) (*models.Screenshot, error) {
	var s models.Screenshot
	err := r.db.GetContext(ctx, &s,
		`SELECT `+screenshotColumns+` FROM screenshots WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get screenshot: %w", err)
	}
	return &s, nil
}

// ListByUser pages through a user's screenshots, newest first.
func (r *ScreenshotRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Screenshot, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []*models.Screenshot
	err := r.db.SelectContext(ctx, &out,
		`SELECT `+screenshotColumns+` FROM screenshots
		 WHERE user_id = $1 AND status <> 'deleted'
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list screenshots: %w", err)
	}
	return out, nil
}

// TransitionStatus moves a record from one lifecycle state to the
// next. The update is a compare-and-set on the current status so two
// workers can never both win the same transition.
func (r *ScreenshotRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to models.Status) error {
	if !models.ValidTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE screenshots SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		to, time.Now().UTC(), id, from)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	return r.requireOneRow(ctx, res, id)
}

// SaveAnalysis commits the analysis fields and advances the record
// from analyzing to embedding in one write.
func (r *ScreenshotRepository) SaveAnalysis(ctx context.Context, id uuid.UUID, res *models.AnalysisResult) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE screenshots
		 SET tag = $1, description = $2, raw_text = $3, status = $4, updated_at = $5
		 WHERE id = $6 AND status = $7`,
		res.Tag, res.Description, res.RawText, models.StatusEmbedding, time.Now().UTC(),
		id, models.StatusAnalyzing)
	if err != nil {
		return fmt.Errorf("failed to save analysis: %w", err)
	}
	return r.requireOneRow(ctx, result, id)
}

// MarkIndexed flips the record to indexed, recording the embedding
// model used. Second write of the two-write index commit.
func (r *ScreenshotRepository) MarkIndexed(ctx context.Context, id uuid.UUID, embeddingModel string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE screenshots
		 SET status = $1, embedding_model = $2, last_error = '', updated_at = $3
		 WHERE id = $4 AND status = $5`,
		models.StatusIndexed, embeddingModel, time.Now().UTC(), id, models.StatusEmbedding)
	if err != nil {
		return fmt.Errorf("failed to mark indexed: %w", err)
	}
	return r.requireOneRow(ctx, res, id)
}

// MarkFailed routes the record to failed from whatever non-terminal
// state it is in, keeping the last good metadata.
func (r *ScreenshotRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE screenshots SET status = $1, last_error = $2, updated_at = $3
		 WHERE id = $4 AND status NOT IN ('deleted', 'failed')`,
		models.StatusFailed, reason, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark failed: %w", err)
	}
	return r.requireOneRow(ctx, res, id)
}

// MarkDeleted soft-deletes the record so an in-flight enrichment job
// observes the deletion at its next commit. The row itself is removed
// by the coordinator once blob and vector cleanup succeed.
func (r *ScreenshotRepository) MarkDeleted(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE screenshots SET status = $1, updated_at = $2
		 WHERE id = $3 AND status <> 'deleted'`,
		models.StatusDeleted, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark deleted: %w", err)
	}
	return r.requireOneRow(ctx, res, id)
}

// ResetForRetry re-queues a failed record: status back to pending with
// a clean attempt counter. The only permitted status regression.
func (r *ScreenshotRepository) ResetForRetry(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE screenshots
		 SET status = $1, attempt_count = 0, last_error = '', updated_at = $2
		 WHERE id = $3 AND status = $4`,
		models.StatusPending, time.Now().UTC(), id, models.StatusFailed)
	if err != nil {
		return fmt.Errorf("failed to reset for retry: %w", err)
	}
	return r.requireOneRow(ctx, res, id)
}

// IncrementAttempts bumps and returns the processing attempt counter.
func (r *ScreenshotRepository) IncrementAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	var attempts int
	err := r.db.GetContext(ctx, &attempts,
		`UPDATE screenshots SET attempt_count = attempt_count + 1, updated_at = $1
		 WHERE id = $2 RETURNING attempt_count`,
		time.Now().UTC(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to increment attempts: %w", err)
	}
	return attempts, nil
}

// Delete removes the record. Blob and vector cleanup happen first in
// the coordinator; this is the last step of the cascade.
func (r *ScreenshotRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM screenshots WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete screenshot: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// requireOneRow converts a zero-row guarded update into the proper
// sentinel: missing record or stale status expectation.
func (r *ScreenshotRepository) requireOneRow(ctx context.Context, res sql.Result, id uuid.UUID) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var count int
	if err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(1) FROM screenshots WHERE id = $1`, id); err == nil && count == 0 {
		return ErrNotFound
	}
	return ErrInvalidTransition
}
