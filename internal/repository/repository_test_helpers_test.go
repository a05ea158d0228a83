package repository

import (
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

var (
	shiftCols   = []string{"id", "user_id", "user_name", "role", "starts_at", "ends_at", "shift_type", "status", "notes", "created_at", "updated_at"}
	requestCols = []string{"id", "original_shift_id", "requester_id", "requester_name", "proposed_user_id", "proposed_user_name", "manager_id", "status", "reason", "manager_note", "version", "created_at", "updated_at", "resolved_at"}
	userCols    = []string{"id", "email", "password_hash", "full_name", "role", "active", "created_at", "updated_at"}
)
