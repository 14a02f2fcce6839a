package storage

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPostgres(t *testing.T) (*PostgresBackend, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	return &PostgresBackend{pool: mock}, mock
}

var (
	insertSQL    = regexp.QuoteMeta(`INSERT INTO messages`)
	selectSQL    = regexp.QuoteMeta(`SELECT nonce, ciphertext, views_remaining, created_at FROM messages WHERE id = $1`)
	decrementSQL = regexp.QuoteMeta(`UPDATE messages SET views_remaining = views_remaining - 1`)
	deleteCASSQL = regexp.QuoteMeta(`DELETE FROM messages WHERE id = $1 AND views_remaining = $2`)
)

func TestPostgresPutAndTakeLastView(t *testing.T) {
	b, mock := newMockPostgres(t)
	s := NewStore(b, WithIDGenerator(func() string { return "id-1" }))
	ctx := context.Background()
	rec := testRecord("hi")

	mock.ExpectExec(insertSQL).
		WithArgs("id-1", rec.Nonce, rec.Ciphertext, 1, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	id, err := s.Put(ctx, rec, 1)
	require.NoError(t, err)
	assert.Equal(t, "id-1", id)

	mock.ExpectQuery(selectSQL).WithArgs("id-1").
		WillReturnRows(mock.NewRows([]string{"nonce", "ciphertext", "views_remaining", "created_at"}).
			AddRow(rec.Nonce, rec.Ciphertext, 1, time.Now()))
	mock.ExpectExec(deleteCASSQL).WithArgs("id-1", 1).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	got, err := s.Take(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestPostgresTakeRetriesOnLostUpdate(t *testing.T) {
	b, mock := newMockPostgres(t)
	s := NewStore(b)
	rec := testRecord("multi")
	cols := []string{"nonce", "ciphertext", "views_remaining", "created_at"}

	mock.ExpectQuery(selectSQL).WithArgs("m").
		WillReturnRows(mock.NewRows(cols).AddRow(rec.Nonce, rec.Ciphertext, 3, time.Now()))
	mock.ExpectExec(decrementSQL).WithArgs("m", 3).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(selectSQL).WithArgs("m").
		WillReturnRows(mock.NewRows(cols).AddRow(rec.Nonce, rec.Ciphertext, 2, time.Now()))
	mock.ExpectExec(decrementSQL).WithArgs("m", 2).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	got, err := s.Take(context.Background(), "m")
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestPostgresTakeMissing(t *testing.T) {
	b, mock := newMockPostgres(t)
	mock.ExpectQuery(selectSQL).WithArgs("gone").WillReturnError(pgx.ErrNoRows)

	_, err := NewStore(b).Take(context.Background(), "gone")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresInsertConflictRetries(t *testing.T) {
	b, mock := newMockPostgres(t)
	ids := []string{"taken", "free"}
	var n int
	s := NewStore(b, WithIDGenerator(func() string { n++; return ids[n-1] }))

	mock.ExpectExec(insertSQL).WithArgs("taken", pgxmock.AnyArg(), pgxmock.AnyArg(), 2, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectExec(insertSQL).WithArgs("free", pgxmock.AnyArg(), pgxmock.AnyArg(), 2, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := s.Put(context.Background(), testRecord("x"), 2)
	require.NoError(t, err)
	assert.Equal(t, "free", id)
}

func TestPostgresErrorsAreStorageErrors(t *testing.T) {
	b, mock := newMockPostgres(t)
	down := errors.New("conn closed")
	mock.ExpectQuery(selectSQL).WithArgs("x").WillReturnError(down)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM messages WHERE id = $1`)).WithArgs("x").WillReturnError(down)

	s := NewStore(b)
	_, err := s.Take(context.Background(), "x")
	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, down)

	assert.ErrorIs(t, s.Delete(context.Background(), "x"), ErrStorage)
}

func TestPostgresCountAndPing(t *testing.T) {
	b, mock := newMockPostgres(t)
	mock.ExpectPing()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM messages`)).
		WillReturnRows(mock.NewRows([]string{"count"}).AddRow(int64(7)))

	s := NewStore(b)
	require.NoError(t, s.Ping(context.Background()))
	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)
}
