package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/turnos-api/internal/models"
)

func TestShiftRepositoryListWindow(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewShiftRepository(db)

	from := time.Date(2024, 6, 9, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 6, 10, 17, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM shifts WHERE user_id IN ($1,$2) AND ends_at > $3 AND starts_at < $4 ORDER BY starts_at ASC, id ASC LIMIT 500")).
		WithArgs("u-1", "u-2", from, to).
		WillReturnRows(sqlmock.NewRows(shiftCols).
			AddRow("s-1", "u-1", "Ana", "mesero", from.Add(18*time.Hour), from.Add(23*time.Hour), "noche", "confirmado", "", from, from))

	shifts, err := repo.List(context.Background(), models.ShiftFilter{UserIDs: []string{"u-1", "u-2"}, From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, shifts, 1)
	assert.Equal(t, "noche", shifts[0].ShiftType)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestShiftRepositoryListPages(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewShiftRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM shifts WHERE user_id IN ($1) ORDER BY starts_at ASC, id ASC LIMIT 2 OFFSET 4")).
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows(shiftCols))

	shifts, err := repo.List(context.Background(), models.ShiftFilter{UserIDs: []string{"u-1"}, Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Empty(t, shifts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestShiftRepositoryCreateBatchIsAtomic(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewShiftRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO shifts")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO shifts")).WillReturnError(errors.New("check constraint"))
	mock.ExpectRollback()

	now := time.Now()
	err := repo.CreateBatch(context.Background(), []*models.Shift{
		{Role: models.RoleMesero, StartsAt: now, EndsAt: now.Add(time.Hour)},
		{Role: models.RoleMesero, StartsAt: now, EndsAt: now.Add(time.Hour)},
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
