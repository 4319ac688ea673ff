package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/saadaziz/identity-backend/internal/domain"
)

var (
	_ CodeRepository = (*SQLiteCodeRepo)(nil)
	_ Migrator       = (*SQLiteCodeRepo)(nil)
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS authorization_codes (
	code       TEXT PRIMARY KEY,
	subject    TEXT NOT NULL,
	client_id  TEXT NOT NULL,
	scope      TEXT NOT NULL DEFAULT '',
	issued_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS authorization_codes_issued_at_idx ON authorization_codes (issued_at);
`

// SQLiteCodeRepo implements CodeRepository on a local SQLite file. Timestamps are stored
// as unix milliseconds.
type SQLiteCodeRepo struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(path string) (*SQLiteCodeRepo, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := "file:" + filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; the busy timeout covers other processes sharing the file.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return &SQLiteCodeRepo{db: db}, nil
}

func (r *SQLiteCodeRepo) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *SQLiteCodeRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("create authorization_codes: %w", err)
	}
	return nil
}

func (r *SQLiteCodeRepo) CreateCode(ctx context.Context, code domain.AuthorizationCode) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO authorization_codes (code, subject, client_id, scope, issued_at) VALUES (?1, ?2, ?3, ?4, ?5)`,
		code.Code, code.Subject, code.ClientID, code.Scope, code.IssuedAt.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("insert code: %w", err)
	}
	return nil
}

func (r *SQLiteCodeRepo) TakeCode(ctx context.Context, code, clientID string, notBefore time.Time) (domain.AuthorizationCode, error) {
	row := r.db.QueryRowContext(ctx, `
DELETE FROM authorization_codes
WHERE code = ?1 AND (?2 = '' OR client_id = ?2) AND issued_at >= ?3
RETURNING code, subject, client_id, scope, issued_at`, code, clientID, notBefore.UTC().UnixMilli())

	var (
		out      domain.AuthorizationCode
		issuedAt int64
	)
	if err := row.Scan(&out.Code, &out.Subject, &out.ClientID, &out.Scope, &issuedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.AuthorizationCode{}, domain.ErrCodeNotFound
		}
		return domain.AuthorizationCode{}, fmt.Errorf("take code: %w", err)
	}
	out.IssuedAt = time.UnixMilli(issuedAt).UTC()
	return out, nil
}

func (r *SQLiteCodeRepo) CodeExists(ctx context.Context, code string, notBefore time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM authorization_codes WHERE code = ?1 AND issued_at >= ?2)`,
		code, notBefore.UTC().UnixMilli()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("code exists: %w", err)
	}
	return exists, nil
}

func (r *SQLiteCodeRepo) DeleteCodesIssuedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM authorization_codes WHERE issued_at < ?1`, cutoff.UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge codes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge codes: %w", err)
	}
	return n, nil
}
