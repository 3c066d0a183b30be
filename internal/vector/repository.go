// Package vector implements the vector index client on top of
// Postgres with the pgvector extension. Entries are keyed by
// screenshot id and scoped to their owning user.
package vector

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/screenvault/screenvault/internal/models"
	"github.com/screenvault/screenvault/internal/observability"
)

// ErrIndexUnavailable wraps any failure talking to the vector index.
var ErrIndexUnavailable = errors.New("vector: index unavailable")

// Index is the nearest-neighbor store contract. Upsert is idempotent
// per screenshot id: re-indexing overwrites in place, never appends.
type Index interface {
	Upsert(ctx context.Context, entry *models.VectorEntry) error
	Query(ctx context.Context, userID uuid.UUID, embedding []float32, topK int) ([]models.VectorMatch, error)
	Delete(ctx context.Context, screenshotID uuid.UUID) error
	Exists(ctx context.Context, screenshotID uuid.UUID) (bool, error)
	StaleEntries(ctx context.Context, limit int) ([]StaleEntry, error)
	MissingEntries(ctx context.Context, limit int) ([]uuid.UUID, error)
}

// StaleEntry is a vector row whose metadata record no longer justifies
// it, found by the reconciliation pass.
type StaleEntry struct {
	ScreenshotID uuid.UUID     `db:"screenshot_id"`
	Status       models.Status `db:"status"`
}

// Repository implements Index with raw pgvector SQL through sqlx.
type Repository struct {
	db     *sqlx.DB
	logger observability.Logger
}

// NewRepository creates a pgvector-backed index client.
func NewRepository(db *sqlx.DB, logger observability.Logger) *Repository {
	if logger == nil {
		logger = observability.NewLogger("vector.repository")
	}
	return &Repository{db: db, logger: logger}
}

// Upsert writes the embedding for a screenshot, overwriting any
// previous entry for the same id.
func (r *Repository) Upsert(ctx context.Context, entry *models.VectorEntry) error {
	if entry == nil {
		return fmt.Errorf("%w: entry cannot be nil", ErrIndexUnavailable)
	}
	if len(entry.Embedding) == 0 {
		return fmt.Errorf("%w: embedding cannot be empty", ErrIndexUnavailable)
	}

	query := `INSERT INTO screenshot_vectors (screenshot_id, user_id, tag, embedding)
	          VALUES ($1, $2, $3, $4::vector)
	          ON CONFLICT (screenshot_id) DO UPDATE SET
	            user_id = EXCLUDED.user_id,
	            tag = EXCLUDED.tag,
	            embedding = EXCLUDED.embedding`

	_, err := r.db.ExecContext(ctx, query,
		entry.ScreenshotID, entry.UserID, entry.Tag, FormatVector(entry.Embedding))
	if err != nil {
		return fmt.Errorf("%w: upsert %s: %v", ErrIndexUnavailable, entry.ScreenshotID, err)
	}
	return nil
}

// Query returns the topK nearest entries owned by userID, best first.
// Cosine distance is converted to a similarity score in [0, 1].
func (r *Repository) Query(ctx context.Context, userID uuid.UUID, embedding []float32, topK int) ([]models.VectorMatch, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("%w: query embedding cannot be empty", ErrIndexUnavailable)
	}
	if topK <= 0 {
		topK = 10
	}

	query := `SELECT screenshot_id, 1 - (embedding <=> $2::vector) AS score
	          FROM screenshot_vectors
	          WHERE user_id = $1
	          ORDER BY embedding <=> $2::vector
	          LIMIT $3`

	rows, err := r.db.QueryxContext(ctx, query, userID, FormatVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("%w: query for user %s: %v", ErrIndexUnavailable, userID, err)
	}
	defer func() { _ = rows.Close() }()

	var matches []models.VectorMatch
	for rows.Next() {
		var m models.VectorMatch
		if err := rows.Scan(&m.ScreenshotID, &m.Score); err != nil {
			return nil, fmt.Errorf("%w: scan match: %v", ErrIndexUnavailable, err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate matches: %v", ErrIndexUnavailable, err)
	}
	return matches, nil
}

// Delete removes the entry for a screenshot. Missing entries are fine.
func (r *Repository) Delete(ctx context.Context, screenshotID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM screenshot_vectors WHERE screenshot_id = $1`, screenshotID)
	if err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrIndexUnavailable, screenshotID, err)
	}
	return nil
}

// Exists reports whether an entry is present for the screenshot.
func (r *Repository) Exists(ctx context.Context, screenshotID uuid.UUID) (bool, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(1) FROM screenshot_vectors WHERE screenshot_id = $1`, screenshotID)
	if err != nil {
		return false, fmt.Errorf("%w: exists %s: %v", ErrIndexUnavailable, screenshotID, err)
	}
	return count > 0, nil
}

// StaleEntries lists vector rows whose screenshot record is missing,
// deleted, or stuck before indexed. Used by the reconciliation pass.
func (r *Repository) StaleEntries(ctx context.Context, limit int) ([]StaleEntry, error) {
	query := `SELECT v.screenshot_id, COALESCE(s.status, 'deleted') AS status
	          FROM screenshot_vectors v
	          LEFT JOIN screenshots s ON s.id = v.screenshot_id
	          WHERE s.id IS NULL OR s.status <> 'indexed'
	          LIMIT $1`

	var entries []StaleEntry
	if err := r.db.SelectContext(ctx, &entries, query, limit); err != nil {
		return nil, fmt.Errorf("%w: list stale entries: %v", ErrIndexUnavailable, err)
	}
	return entries, nil
}

// MissingEntries lists indexed screenshots that have no vector row.
func (r *Repository) MissingEntries(ctx context.Context, limit int) ([]uuid.UUID, error) {
	query := `SELECT s.id
	          FROM screenshots s
	          LEFT JOIN screenshot_vectors v ON v.screenshot_id = s.id
	          WHERE s.status = 'indexed' AND v.screenshot_id IS NULL
	          LIMIT $1`

	var ids []uuid.UUID
	if err := r.db.SelectContext(ctx, &ids, query, limit); err != nil {
		return nil, fmt.Errorf("%w: list missing entries: %v", ErrIndexUnavailable, err)
	}
	return ids, nil
}

// FormatVector renders a float32 slice as a pgvector literal.
func FormatVector(v []float32) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}

// ParseVector parses a pgvector literal back into a float32 slice.
func ParseVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("malformed vector literal")
	}
	body := s[1 : len(s)-1]
	if body == "" {
		return nil, nil
	}
	parts := strings.Split(body, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("malformed vector component %d: %w", i, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}
