package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/screenvault/screenvault/internal/models"
)

func newMockQueryRepo(t *testing.T) (*QueryHistoryRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewQueryHistoryRepository(sqlx.NewDb(db, "sqlmock")), mock
}

func TestQueryHistoryInsert(t *testing.T) {
	repo, mock := newMockQueryRepo(t)
	entry := &models.QueryHistoryEntry{
		UserID:    uuid.New(),
		QueryText: "terminal with errors",
		Embedding: []float32{1, 0},
		ResultIDs: []uuid.UUID{uuid.New(), uuid.New()},
		Scores:    []float64{0.9, 0.4},
	}

	mock.ExpectExec("INSERT INTO query_history").
		WithArgs(sqlmock.AnyArg(), entry.UserID, entry.QueryText, "[1,0]",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Insert(context.Background(), entry))
	assert.NotEqual(t, uuid.Nil, entry.ID)
	assert.False(t, entry.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryHistoryListByUser(t *testing.T) {
	repo, mock := newMockQueryRepo(t)
	userID := uuid.New()
	resultID := uuid.New()

	rows := sqlmock.NewRows([]string{"id", "user_id", "query_text", "result_ids", "scores", "created_at"}).
		AddRow(uuid.New(), userID, "login page",
			pq.StringArray{resultID.String()}, pq.Float64Array{0.87}, time.Now())

	mock.ExpectQuery("SELECT (.+) FROM query_history WHERE user_id").
		WithArgs(userID, 10, 0).
		WillReturnRows(rows)

	entries, err := repo.ListByUser(context.Background(), userID, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "login page", entries[0].QueryText)
	require.Len(t, entries[0].ResultIDs, 1)
	assert.Equal(t, resultID, entries[0].ResultIDs[0])
	assert.InDelta(t, 0.87, entries[0].Scores[0], 1e-9)
}
