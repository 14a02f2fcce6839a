package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	// database/sql SQLite driver
	_ "github.com/mattn/go-sqlite3"

	"github.com/org/ephemera/pkg/models"
)

var _ Backend = (*SQLiteBackend)(nil)

// SQLiteBackend is a single-node Backend on an SQLite database file. The
// connection pool is limited to one connection, so SQLite's own locking never
// surfaces as SQLITE_BUSY to callers.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (or creates) the database at path and initializes
// the schema if absent.
func NewSQLiteBackend(ctx context.Context, path string) (*SQLiteBackend, error) {
	// The path is spliced into a file: URI, where these would start the query
	// or fragment.
	if path == "" || strings.ContainsAny(path, "?#") {
		return nil, fmt.Errorf("invalid sqlite path %q: must be non-empty and not contain '?' or '#'", path)
	}
	dsn := "file:" + path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=FULL"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	b := &SQLiteBackend{db: db}
	if err := b.init(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing sqlite schema: %w", err)
	}
	return b, nil
}

func (b *SQLiteBackend) init(ctx context.Context) error {
	const schema = `CREATE TABLE IF NOT EXISTS messages (
id TEXT PRIMARY KEY,
nonce TEXT NOT NULL,
ciphertext TEXT NOT NULL,
views_remaining INTEGER NOT NULL CHECK (views_remaining > 0),
created_at INTEGER NOT NULL
);`
	_, err := b.db.ExecContext(ctx, schema)
	return err
}

func (b *SQLiteBackend) Insert(ctx context.Context, msg *models.Message) error {
	const q = `INSERT INTO messages (id, nonce, ciphertext, views_remaining, created_at)
VALUES (?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`
	res, err := b.db.ExecContext(ctx, q,
		msg.ID, msg.Record.Nonce, msg.Record.Ciphertext, msg.ViewsRemaining, msg.CreatedAt.Unix())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (b *SQLiteBackend) Get(ctx context.Context, id string) (*models.Message, error) {
	const q = `SELECT nonce, ciphertext, views_remaining, created_at FROM messages WHERE id = ?`
	msg := models.Message{ID: id}
	var created int64
	err := b.db.QueryRowContext(ctx, q, id).
		Scan(&msg.Record.Nonce, &msg.Record.Ciphertext, &msg.ViewsRemaining, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	msg.CreatedAt = time.Unix(created, 0).UTC()
	return &msg, nil
}

func (b *SQLiteBackend) CompareAndDecrement(ctx context.Context, id string, expected int) (bool, error) {
	const q = `UPDATE messages SET views_remaining = views_remaining - 1 WHERE id = ? AND views_remaining = ?`
	return b.execOne(ctx, q, id, expected)
}

func (b *SQLiteBackend) CompareAndDelete(ctx context.Context, id string, expected int) (bool, error) {
	const q = `DELETE FROM messages WHERE id = ? AND views_remaining = ?`
	return b.execOne(ctx, q, id, expected)
}

func (b *SQLiteBackend) execOne(ctx context.Context, q string, args ...any) (bool, error) {
	res, err := b.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (b *SQLiteBackend) Delete(ctx context.Context, id string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	return err
}

func (b *SQLiteBackend) Count(ctx context.Context) (int64, error) {
	var n int64
	err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}

func (b *SQLiteBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *SQLiteBackend) Close() {
	_ = b.db.Close()
}
