package migrate

import (
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS settings").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("pg_notify\\('settings_changed'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DROP TRIGGER IF EXISTS settings_notify_change").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("AFTER INSERT OR UPDATE ON settings").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, EnsureSchema(db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema_StopsOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("permission denied"))
	assert.Error(t, EnsureSchema(db))
	assert.NoError(t, mock.ExpectationsWereMet())
}
