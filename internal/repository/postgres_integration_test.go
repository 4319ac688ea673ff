//go:build integration

package repository_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/saadaziz/identity-backend/internal/repository"
	"github.com/saadaziz/identity-backend/internal/repository/repositorytest"
)

func TestPostgresCodeRepo(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	repositorytest.Run(t, func(t *testing.T) repository.CodeRepository {
		repo := repository.NewPostgresCodeRepo(pool)
		require.NoError(t, repo.EnsureSchema(ctx))
		_, err := pool.Exec(ctx, `TRUNCATE authorization_codes`)
		require.NoError(t, err)
		return repo
	})
}
