package bootstrap

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saadaziz/identity-backend/internal/domain"
	"github.com/saadaziz/identity-backend/internal/repository"
	"github.com/saadaziz/identity-backend/internal/service"
)

type schemaless struct{ repository.CodeRepository }

func openSQLite(t *testing.T) *repository.SQLiteCodeRepo {
	t.Helper()
	repo, err := repository.OpenSQLite(filepath.Join(t.TempDir(), "codes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestEnsureSchemaCreatesTable(t *testing.T) {
	ctx := context.Background()
	repo := openSQLite(t)

	require.NoError(t, ensureSchema(ctx, repo, zap.NewNop()))
	require.NoError(t, ensureSchema(ctx, repo, zap.NewNop()))

	require.NoError(t, repo.CreateCode(ctx, domain.AuthorizationCode{Code: "c1", Subject: "alice", ClientID: "acme", IssuedAt: time.Now()}))
}

func TestEnsureSchemaSkipsBackendsWithoutSchema(t *testing.T) {
	require.NoError(t, ensureSchema(context.Background(), schemaless{}, zap.NewNop()))
}

func TestSweeperPurgesExpiredCodes(t *testing.T) {
	ctx := context.Background()
	repo := openSQLite(t)
	require.NoError(t, repo.EnsureSchema(ctx))

	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	var offset atomic.Int64
	clock := func() time.Time { return start.Add(time.Duration(offset.Load())) }
	codes := service.NewCodeStore(repo, 5*time.Minute, service.WithCodeClock(clock))

	code, err := codes.Issue(ctx, "alice", "acme", "openid")
	require.NoError(t, err)

	sweeper := NewSweeper(codes, 10*time.Millisecond, zap.NewNop())
	require.EqualValues(t, 0, sweeper.SweepOnce(ctx))

	sweeper.Start()
	sweeper.Start()
	offset.Store(int64(6 * time.Minute))

	require.Eventually(t, func() bool {
		ok, err := repo.CodeExists(ctx, code, time.Time{})
		return err == nil && !ok
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, sweeper.Stop(ctx))
	require.NoError(t, sweeper.Stop(ctx))
}

func TestSweeperDisabled(t *testing.T) {
	sweeper := NewSweeper(nil, 0, nil)
	sweeper.Start()
	require.NoError(t, sweeper.Stop(context.Background()))
}
