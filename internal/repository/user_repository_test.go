package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func userRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "email", "password_hash", "full_name", "phone", "role", "active",
		"last_login", "created_at", "updated_at",
	}).AddRow(
		"cust-1", "jan@example.com", "$2a$10$hash", "Jan Kowalski", "555-0100",
		"CUSTOMER", true, nil, time.Now(), time.Now(),
	)
}

func TestFindByEmailReturnsUser(t *testing.T) {
	db, mock, cleanup := newQuotationRepoMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, email, password_hash")).
		WithArgs("jan@example.com").
		WillReturnRows(userRows())

	user, err := repo.FindByEmail(context.Background(), "jan@example.com")
	require.NoError(t, err)
	require.Equal(t, "cust-1", user.ID)
	require.Equal(t, "Jan Kowalski", user.FullName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByEmailMissingUserYieldsNoRows(t *testing.T) {
	db, mock, cleanup := newQuotationRepoMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, email, password_hash")).
		WithArgs("nobody@example.com").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByEmail(context.Background(), "nobody@example.com")
	require.True(t, errors.Is(err, sql.ErrNoRows))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateLastLoginStampsTimestamp(t *testing.T) {
	db, mock, cleanup := newQuotationRepoMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	ts := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET last_login")).
		WithArgs("cust-1", ts, ts).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateLastLogin(context.Background(), "cust-1", ts))
	require.NoError(t, mock.ExpectationsWereMet())
}
