package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/screenvault/screenvault/internal/models"
	"github.com/screenvault/screenvault/internal/vector"
)

// QueryHistoryStore records executed searches. Append-only.
type QueryHistoryStore interface {
	Insert(ctx context.Context, entry *models.QueryHistoryEntry) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.QueryHistoryEntry, error)
}

// QueryHistoryRepository implements QueryHistoryStore on Postgres.
type QueryHistoryRepository struct {
	db *sqlx.DB
}

// NewQueryHistoryRepository creates a query history repository.
func NewQueryHistoryRepository(db *sqlx.DB) *QueryHistoryRepository {
	return &QueryHistoryRepository{db: db}
}

// Insert appends one history entry with its embedding and the ordered
// result ids and scores.
func (r *QueryHistoryRepository) Insert(ctx context.Context, entry *models.QueryHistoryEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	resultIDs := make([]string, len(entry.ResultIDs))
	for i, id := range entry.ResultIDs {
		resultIDs[i] = id.String()
	}

	query := `INSERT INTO query_history
		(id, user_id, query_text, embedding, result_ids, scores, created_at)
		VALUES ($1, $2, $3, $4::vector, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.UserID, entry.QueryText,
		vector.FormatVector(entry.Embedding),
		pq.Array(resultIDs), pq.Array(entry.Scores), entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert query history: %w", err)
	}
	return nil
}

// ListByUser pages through a user's past queries, newest first. The
// stored embeddings are not hydrated on list.
func (r *QueryHistoryRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.QueryHistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryxContext(ctx,
		`SELECT id, user_id, query_text, result_ids, scores, created_at
		 FROM query_history WHERE user_id = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.QueryHistoryEntry
	for rows.Next() {
		var entry models.QueryHistoryEntry
		var ids pq.StringArray
		var scores pq.Float64Array
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.QueryText, &ids, &scores, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan query history: %w", err)
		}
		for _, raw := range ids {
			id, err := uuid.Parse(raw)
			if err != nil {
				continue
			}
			entry.ResultIDs = append(entry.ResultIDs, id)
		}
		entry.Scores = scores
		out = append(out, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate query history: %w", err)
	}
	return out, nil
}
