package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saadaziz/identity-backend/internal/config"
	"github.com/saadaziz/identity-backend/internal/domain"
	"github.com/saadaziz/identity-backend/internal/jwt"
	"github.com/saadaziz/identity-backend/internal/registry"
	"github.com/saadaziz/identity-backend/internal/service"
)

const (
	testSecret = "service-test-secret-0123456789abcdef"
	testIssuer = "https://id.example"

	acmeRedirect   = "https://acme.example/cb"
	globexRedirect = "https://globex.example/cb"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memoryCodeRepo struct {
	mu    sync.Mutex
	codes map[string]domain.AuthorizationCode
	err   error
}

func newMemoryCodeRepo() *memoryCodeRepo {
	return &memoryCodeRepo{codes: map[string]domain.AuthorizationCode{}}
}

func (m *memoryCodeRepo) CreateCode(ctx context.Context, code domain.AuthorizationCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.codes[code.Code] = code
	return nil
}

func (m *memoryCodeRepo) TakeCode(ctx context.Context, code, clientID string, notBefore time.Time) (domain.AuthorizationCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return domain.AuthorizationCode{}, m.err
	}
	rec, ok := m.codes[code]
	if !ok || rec.IssuedAt.Before(notBefore) || (clientID != "" && rec.ClientID != clientID) {
		return domain.AuthorizationCode{}, domain.ErrCodeNotFound
	}
	delete(m.codes, code)
	return rec, nil
}

func (m *memoryCodeRepo) CodeExists(ctx context.Context, code string, notBefore time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	rec, ok := m.codes[code]
	return ok && !rec.IssuedAt.Before(notBefore), nil
}

func (m *memoryCodeRepo) DeleteCodesIssuedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	var n int64
	for k, rec := range m.codes {
		if rec.IssuedAt.Before(cutoff) {
			delete(m.codes, k)
			n++
		}
	}
	return n, nil
}

func (m *memoryCodeRepo) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.codes)
}

type fixture struct {
	svc   *service.AuthService
	repo  *memoryCodeRepo
	codes *service.CodeStore
	clock *fakeClock
}

func newFixture(t *testing.T, spendOnMismatch bool, opts ...service.Option) *fixture {
	t.Helper()
	clock := newFakeClock()
	repo := newMemoryCodeRepo()

	key, err := jwt.NewSigningKey([]byte(testSecret))
	require.NoError(t, err)
	sealer, err := jwt.NewRequestSealer(key, testIssuer, 10*time.Minute)
	require.NoError(t, err)

	clients := registry.New([]domain.Client{
		{ClientID: "acme", ClientSecret: "s1", AllowedRedirectPrefixes: []string{acmeRedirect}},
		{ClientID: "globex", ClientSecret: "s2", AllowedRedirectPrefixes: []string{globexRedirect}},
	}, nil)
	codes := service.NewCodeStore(repo, 5*time.Minute, service.WithCodeClock(clock.Now))
	cfg := config.Config{SpendOnMismatch: spendOnMismatch}

	svc := service.NewAuthService(clients, codes,
		jwt.NewIssuer(key, testIssuer, 15*time.Minute),
		jwt.NewVerifier(key, testIssuer),
		sealer, cfg, zap.NewNop(), append([]service.Option{service.WithClock(clock.Now)}, opts...)...)

	return &fixture{svc: svc, repo: repo, codes: codes, clock: clock}
}

// issueCode runs the authorize and credential steps for client and returns the code.
func (f *fixture) issueCode(t *testing.T, clientID, redirectURI string) string {
	t.Helper()
	ctx := context.Background()
	req, err := f.svc.BeginAuthorization(ctx, clientID, redirectURI, "xyz", "openid")
	require.NoError(t, err)
	grant, err := f.svc.CompleteAuthorization(ctx, req.Token, "alice", true)
	require.NoError(t, err)
	return grant.Code
}

func requireClientError(t *testing.T, err error, kind domain.ClientErrorKind) {
	t.Helper()
	var target *domain.ClientError
	require.True(t, errors.As(err, &target), "expected ClientError, got %v", err)
	require.Equal(t, kind, target.Kind)
}

func requireCodeError(t *testing.T, err error, kind domain.CodeErrorKind) *domain.CodeError {
	t.Helper()
	var target *domain.CodeError
	require.True(t, errors.As(err, &target), "expected CodeError, got %v", err)
	require.Equal(t, kind, target.Kind)
	return target
}

func requireTokenError(t *testing.T, err error, kind domain.TokenErrorKind) {
	t.Helper()
	var target *domain.TokenError
	require.True(t, errors.As(err, &target), "expected TokenError, got %v", err)
	require.Equal(t, kind, target.Kind)
}
