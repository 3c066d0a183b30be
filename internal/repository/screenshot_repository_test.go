package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/screenvault/screenvault/internal/models"
)

func newMockRepo(t *testing.T) (*ScreenshotRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewScreenshotRepository(sqlx.NewDb(db, "sqlmock")), mock
}

func screenshotRows(rec *models.Screenshot) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "user_id", "blob_key", "content_type", "file_size", "status", "tag",
		"description", "raw_text", "embedding_model", "last_error", "attempt_count",
		"created_at", "updated_at",
	}).AddRow(
		rec.ID, rec.UserID, rec.BlobKey, rec.ContentType, rec.FileSize, rec.Status, rec.Tag,
		rec.Description, rec.RawText, rec.EmbeddingModel, rec.LastError, rec.AttemptCount,
		rec.CreatedAt, rec.UpdatedAt,
	)
}

func TestCreate(t *testing.T) {
	repo, mock := newMockRepo(t)
	rec := &models.Screenshot{
		UserID:      uuid.New(),
		BlobKey:     "screenshots/u/s",
		ContentType: "image/png",
		FileSize:    1024,
		Status:      models.StatusPending,
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO screenshots")).
		WithArgs(sqlmock.AnyArg(), rec.UserID, rec.BlobKey, rec.ContentType,
			rec.FileSize, rec.Status, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), rec))
	assert.NotEqual(t, uuid.Nil, rec.ID)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByIDNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM screenshots WHERE id").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByID(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetForUser(t *testing.T) {
	repo, mock := newMockRepo(t)
	rec := &models.Screenshot{
		ID: uuid.New(), UserID: uuid.New(), BlobKey: "k", ContentType: "image/png",
		Status: models.StatusIndexed, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}

	mock.ExpectQuery("SELECT (.+) FROM screenshots WHERE id = \\$1 AND user_id = \\$2").
		WithArgs(rec.ID, rec.UserID).
		WillReturnRows(screenshotRows(rec))

	got, err := repo.GetForUser(context.Background(), rec.UserID, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, models.StatusIndexed, got.Status)
}

func TestTransitionStatus(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE screenshots SET status").
		WithArgs(models.StatusAnalyzing, sqlmock.AnyArg(), id, models.StatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.TransitionStatus(context.Background(), id, models.StatusPending, models.StatusAnalyzing))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionStatusRejectsInvalidMove(t *testing.T) {
	repo, _ := newMockRepo(t)

	// Skipping a state never reaches the database.
	err := repo.TransitionStatus(context.Background(), uuid.New(), models.StatusPending, models.StatusIndexed)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTransitionStatusLostRace(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	// Guarded update matches nothing; the record exists with another status.
	mock.ExpectExec("UPDATE screenshots SET status").
		WithArgs(models.StatusAnalyzing, sqlmock.AnyArg(), id, models.StatusPending).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COUNT").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	err := repo.TransitionStatus(context.Background(), id, models.StatusPending, models.StatusAnalyzing)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTransitionStatusRecordGone(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE screenshots SET status").
		WithArgs(models.StatusAnalyzing, sqlmock.AnyArg(), id, models.StatusPending).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COUNT").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	err := repo.TransitionStatus(context.Background(), id, models.StatusPending, models.StatusAnalyzing)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveAnalysis(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()
	res := &models.AnalysisResult{Tag: "code", Description: "editor", RawText: "x := 1"}

	mock.ExpectExec("UPDATE screenshots").
		WithArgs(res.Tag, res.Description, res.RawText, models.StatusEmbedding,
			sqlmock.AnyArg(), id, models.StatusAnalyzing).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SaveAnalysis(context.Background(), id, res))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkIndexed(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE screenshots").
		WithArgs(models.StatusIndexed, "text-embedding-3-small", sqlmock.AnyArg(),
			id, models.StatusEmbedding).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkIndexed(context.Background(), id, "text-embedding-3-small"))
}

func TestMarkFailed(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE screenshots SET status").
		WithArgs(models.StatusFailed, "provider: authentication failed", sqlmock.AnyArg(), id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkFailed(context.Background(), id, "provider: authentication failed"))
}

func TestMarkDeleted(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE screenshots SET status").
		WithArgs(models.StatusDeleted, sqlmock.AnyArg(), id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkDeleted(context.Background(), id))
}

func TestResetForRetry(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE screenshots").
		WithArgs(models.StatusPending, sqlmock.AnyArg(), id, models.StatusFailed).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.ResetForRetry(context.Background(), id))
}

func TestResetForRetryOnlyFromFailed(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE screenshots").
		WithArgs(models.StatusPending, sqlmock.AnyArg(), id, models.StatusFailed).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COUNT").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	err := repo.ResetForRetry(context.Background(), id)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestIncrementAttempts(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery("UPDATE screenshots SET attempt_count").
		WithArgs(sqlmock.AnyArg(), id).
		WillReturnRows(sqlmock.NewRows([]string{"attempt_count"}).AddRow(3))

	attempts, err := repo.IncrementAttempts(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDelete(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectExec("DELETE FROM screenshots").
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Delete(context.Background(), id))
}

func TestDeleteNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectExec("DELETE FROM screenshots").
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, repo.Delete(context.Background(), id), ErrNotFound)
}
