package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/org/ephemera/pkg/models"
)

var _ Backend = (*PostgresBackend)(nil)

// pgxPool is the subset of *pgxpool.Pool the backend uses.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresBackend is a Backend backed by PostgreSQL. Conditional writes are
// single UPDATE/DELETE statements guarded by the expected view count, so
// they stay correct with any number of server processes sharing the database.
type PostgresBackend struct {
	pool pgxPool
}

// NewPostgresBackend opens a pgxpool connection and returns a ready backend.
func NewPostgresBackend(ctx context.Context, connStr string) (*PostgresBackend, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresBackend{pool: pool}, nil
}

func (p *PostgresBackend) Close() {
	p.pool.Close()
}

func (p *PostgresBackend) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresBackend) Insert(ctx context.Context, msg *models.Message) error {
	tag, err := p.pool.Exec(ctx,
		`INSERT INTO messages (id, nonce, ciphertext, views_remaining, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		msg.ID, msg.Record.Nonce, msg.Record.Ciphertext, msg.ViewsRemaining, msg.CreatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (p *PostgresBackend) Get(ctx context.Context, id string) (*models.Message, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT nonce, ciphertext, views_remaining, created_at FROM messages WHERE id = $1`,
		id,
	)
	msg := models.Message{ID: id}
	err := row.Scan(&msg.Record.Nonce, &msg.Record.Ciphertext, &msg.ViewsRemaining, &msg.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &msg, nil
}

func (p *PostgresBackend) CompareAndDecrement(ctx context.Context, id string, expected int) (bool, error) {
	tag, err := p.pool.Exec(ctx,
		`UPDATE messages SET views_remaining = views_remaining - 1
		 WHERE id = $1 AND views_remaining = $2`,
		id, expected,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (p *PostgresBackend) CompareAndDelete(ctx context.Context, id string, expected int) (bool, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM messages WHERE id = $1 AND views_remaining = $2`,
		id, expected,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (p *PostgresBackend) Delete(ctx context.Context, id string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	return err
}

func (p *PostgresBackend) Count(ctx context.Context) (int64, error) {
	var count int64
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}
