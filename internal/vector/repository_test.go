package vector

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/screenvault/screenvault/internal/models"
	"github.com/screenvault/screenvault/internal/observability"
)

func newMockRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewRepository(sqlx.NewDb(db, "sqlmock"), observability.NewNoopLogger()), mock
}

func TestUpsert(t *testing.T) {
	repo, mock := newMockRepo(t)
	entry := &models.VectorEntry{
		ScreenshotID: uuid.New(),
		UserID:       uuid.New(),
		Tag:          "code",
		Embedding:    []float32{0.5, -0.25, 1},
	}

	mock.ExpectExec("INSERT INTO screenshot_vectors").
		WithArgs(entry.ScreenshotID, entry.UserID, entry.Tag, "[0.5,-0.25,1]").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Upsert(context.Background(), entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRejectsEmptyEmbedding(t *testing.T) {
	repo, _ := newMockRepo(t)
	err := repo.Upsert(context.Background(), &models.VectorEntry{ScreenshotID: uuid.New()})
	assert.ErrorIs(t, err, ErrIndexUnavailable)
}

func TestQuery(t *testing.T) {
	repo, mock := newMockRepo(t)
	userID := uuid.New()
	first := uuid.New()
	second := uuid.New()

	mock.ExpectQuery("SELECT screenshot_id, 1 -").
		WithArgs(userID, "[1,0]", 5).
		WillReturnRows(sqlmock.NewRows([]string{"screenshot_id", "score"}).
			AddRow(first, 0.97).
			AddRow(second, 0.42))

	matches, err := repo.Query(context.Background(), userID, []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, first, matches[0].ScreenshotID)
	assert.InDelta(t, 0.97, matches[0].Score, 1e-9)
	assert.Equal(t, second, matches[1].ScreenshotID)
}

func TestQueryRejectsEmptyEmbedding(t *testing.T) {
	repo, _ := newMockRepo(t)
	_, err := repo.Query(context.Background(), uuid.New(), nil, 5)
	assert.ErrorIs(t, err, ErrIndexUnavailable)
}

func TestDeleteMissingEntryIsFine(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectExec("DELETE FROM screenshot_vectors").
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, repo.Delete(context.Background(), id))
}

func TestStaleEntries(t *testing.T) {
	repo, mock := newMockRepo(t)
	orphan := uuid.New()
	stuck := uuid.New()

	mock.ExpectQuery("SELECT v.screenshot_id").
		WithArgs(100).
		WillReturnRows(sqlmock.NewRows([]string{"screenshot_id", "status"}).
			AddRow(orphan, "deleted").
			AddRow(stuck, "embedding"))

	entries, err := repo.StaleEntries(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.StatusDeleted, entries[0].Status)
	assert.Equal(t, models.StatusEmbedding, entries[1].Status)
}

func TestFormatVector(t *testing.T) {
	assert.Equal(t, "[1,0.5,-0.25]", FormatVector([]float32{1, 0.5, -0.25}))
	assert.Equal(t, "[]", FormatVector(nil))
}

func TestParseVector(t *testing.T) {
	v, err := ParseVector("[1, 0.5, -0.25]")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0.5, -0.25}, v)

	v, err = ParseVector("[]")
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = ParseVector("1,2,3")
	assert.Error(t, err)
	_, err = ParseVector("[1,x]")
	assert.Error(t, err)
}

func TestFormatParseRoundTrip(t *testing.T) {
	in := []float32{0.123456, -42, 1e-7}
	out, err := ParseVector(FormatVector(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
