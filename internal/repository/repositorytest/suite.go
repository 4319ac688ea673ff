// Package repositorytest holds behaviour checks shared by every CodeRepository backend.
package repositorytest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/saadaziz/identity-backend/internal/domain"
	"github.com/saadaziz/identity-backend/internal/repository"
)

// Run exercises repo against the CodeRepository contract. newRepo must return an empty
// repository for each call.
func Run(t *testing.T, newRepo func(t *testing.T) repository.CodeRepository) {
	t.Helper()

	epoch := time.Now().Add(-time.Hour).UTC()

	t.Run("take returns the stored record once", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		issued := time.Now().UTC().Truncate(time.Millisecond)
		want := domain.AuthorizationCode{Code: "c1", Subject: "alice", ClientID: "acme", Scope: "openid", IssuedAt: issued}
		require.NoError(t, repo.CreateCode(ctx, want))

		got, err := repo.TakeCode(ctx, "c1", "", epoch)
		require.NoError(t, err)
		require.Equal(t, want.Code, got.Code)
		require.Equal(t, want.Subject, got.Subject)
		require.Equal(t, want.ClientID, got.ClientID)
		require.Equal(t, want.Scope, got.Scope)
		require.True(t, want.IssuedAt.Equal(got.IssuedAt), "issued_at %v != %v", want.IssuedAt, got.IssuedAt)

		_, err = repo.TakeCode(ctx, "c1", "", epoch)
		require.ErrorIs(t, err, domain.ErrCodeNotFound)
	})

	t.Run("unknown code", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.TakeCode(context.Background(), "missing", "", epoch)
		require.ErrorIs(t, err, domain.ErrCodeNotFound)

		ok, err := repo.CodeExists(context.Background(), "missing", epoch)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("client bound take leaves foreign codes intact", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		require.NoError(t, repo.CreateCode(ctx, domain.AuthorizationCode{Code: "c2", Subject: "alice", ClientID: "acme", IssuedAt: time.Now()}))

		_, err := repo.TakeCode(ctx, "c2", "globex", epoch)
		require.ErrorIs(t, err, domain.ErrCodeNotFound)

		ok, err := repo.CodeExists(ctx, "c2", epoch)
		require.NoError(t, err)
		require.True(t, ok)

		got, err := repo.TakeCode(ctx, "c2", "acme", epoch)
		require.NoError(t, err)
		require.Equal(t, "acme", got.ClientID)
	})

	t.Run("codes issued before notBefore are not taken", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		old := time.Now().Add(-10 * time.Minute)
		require.NoError(t, repo.CreateCode(ctx, domain.AuthorizationCode{Code: "old", Subject: "alice", ClientID: "acme", IssuedAt: old}))

		cutoff := time.Now().Add(-5 * time.Minute)
		_, err := repo.TakeCode(ctx, "old", "", cutoff)
		require.ErrorIs(t, err, domain.ErrCodeNotFound)

		ok, err := repo.CodeExists(ctx, "old", cutoff)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("purge removes only stale codes", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		now := time.Now()
		require.NoError(t, repo.CreateCode(ctx, domain.AuthorizationCode{Code: "stale", Subject: "a", ClientID: "acme", IssuedAt: now.Add(-time.Hour)}))
		require.NoError(t, repo.CreateCode(ctx, domain.AuthorizationCode{Code: "fresh", Subject: "a", ClientID: "acme", IssuedAt: now}))

		n, err := repo.DeleteCodesIssuedBefore(ctx, now.Add(-5*time.Minute))
		require.NoError(t, err)
		require.EqualValues(t, 1, n)

		ok, err := repo.CodeExists(ctx, "stale", epoch.Add(-24*time.Hour))
		require.NoError(t, err)
		require.False(t, ok)

		_, err = repo.TakeCode(ctx, "fresh", "", epoch)
		require.NoError(t, err)
	})

	t.Run("concurrent takes succeed exactly once", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		const workers = 20

		for round := 0; round < 5; round++ {
			code := fmt.Sprintf("race-%d", round)
			require.NoError(t, repo.CreateCode(ctx, domain.AuthorizationCode{Code: code, Subject: "alice", ClientID: "acme", IssuedAt: time.Now()}))

			var (
				wins     atomic.Int32
				misses   atomic.Int32
				failures atomic.Int32
				wg       sync.WaitGroup
				start    = make(chan struct{})
			)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					_, err := repo.TakeCode(ctx, code, "acme", epoch)
					switch {
					case err == nil:
						wins.Add(1)
					case errors.Is(err, domain.ErrCodeNotFound):
						misses.Add(1)
					default:
						failures.Add(1)
					}
				}()
			}
			close(start)
			wg.Wait()

			require.Zero(t, failures.Load())
			require.EqualValues(t, 1, wins.Load())
			require.EqualValues(t, workers-1, misses.Load())
		}
	})
}
