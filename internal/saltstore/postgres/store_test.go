package postgres

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func TestGetReturnsStoredSalt(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "app_secrets")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT value FROM app_secrets").
		WithArgs("telemetry_salt").
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow("stored-salt"))

	salt, err := store.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, "stored-salt", salt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMissingRowIsNotAnError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "app_secrets")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT value FROM app_secrets").
		WithArgs("telemetry_salt").
		WillReturnRows(pgxmock.NewRows([]string{"value"}))

	salt, err := store.Get(context.Background())
	require.NoError(t, err)
	require.Empty(t, salt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetUpsertsSalt(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "app_secrets")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO app_secrets").
		WithArgs("telemetry_salt", "fresh-salt").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Set(context.Background(), "fresh-salt"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPoolRejectsBadTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "app_secrets; DROP TABLE users")
	require.Error(t, err)
}
