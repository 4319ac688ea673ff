package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/saadaziz/identity-backend/internal/domain"
)

// Compile-time interface assertions.
var (
	_ CodeRepository = (*PostgresCodeRepo)(nil)
	_ Migrator       = (*PostgresCodeRepo)(nil)
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS authorization_codes (
	code       TEXT PRIMARY KEY,
	subject    TEXT NOT NULL,
	client_id  TEXT NOT NULL,
	scope      TEXT NOT NULL DEFAULT '',
	issued_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS authorization_codes_issued_at_idx ON authorization_codes (issued_at);
`

// PostgresCodeRepo implements CodeRepository on a pgx pool.
type PostgresCodeRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresCodeRepo(pool *pgxpool.Pool) *PostgresCodeRepo {
	return &PostgresCodeRepo{pool: pool}
}

func (r *PostgresCodeRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("create authorization_codes: %w", err)
	}
	return nil
}

func (r *PostgresCodeRepo) CreateCode(ctx context.Context, code domain.AuthorizationCode) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO authorization_codes (code, subject, client_id, scope, issued_at) VALUES ($1, $2, $3, $4, $5)`,
		code.Code, code.Subject, code.ClientID, code.Scope, code.IssuedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert code: %w", err)
	}
	return nil
}

func (r *PostgresCodeRepo) TakeCode(ctx context.Context, code, clientID string, notBefore time.Time) (domain.AuthorizationCode, error) {
	row := r.pool.QueryRow(ctx, `
DELETE FROM authorization_codes
WHERE code = $1 AND ($2::text = '' OR client_id = $2::text) AND issued_at >= $3
RETURNING code, subject, client_id, scope, issued_at`, code, clientID, notBefore.UTC())

	var out domain.AuthorizationCode
	if err := row.Scan(&out.Code, &out.Subject, &out.ClientID, &out.Scope, &out.IssuedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AuthorizationCode{}, domain.ErrCodeNotFound
		}
		return domain.AuthorizationCode{}, fmt.Errorf("take code: %w", err)
	}
	out.IssuedAt = out.IssuedAt.UTC()
	return out, nil
}

func (r *PostgresCodeRepo) CodeExists(ctx context.Context, code string, notBefore time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM authorization_codes WHERE code = $1 AND issued_at >= $2)`,
		code, notBefore.UTC()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("code exists: %w", err)
	}
	return exists, nil
}

func (r *PostgresCodeRepo) DeleteCodesIssuedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM authorization_codes WHERE issued_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge codes: %w", err)
	}
	return tag.RowsAffected(), nil
}
