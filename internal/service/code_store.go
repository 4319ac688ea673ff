package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/saadaziz/identity-backend/internal/domain"
	"github.com/saadaziz/identity-backend/internal/repository"
)

const codeBytes = 32

// CodeStore issues and redeems single-use authorization codes on top of a repository.
type CodeStore struct {
	repo repository.CodeRepository
	ttl  time.Duration
	now  func() time.Time
}

// CodeStoreOption customises a CodeStore.
type CodeStoreOption func(*CodeStore)

// WithCodeClock overrides the time source used for issue times and expiry.
func WithCodeClock(now func() time.Time) CodeStoreOption {
	return func(s *CodeStore) { s.now = now }
}

// NewCodeStore constructs a CodeStore whose codes live for ttl.
func NewCodeStore(repo repository.CodeRepository, ttl time.Duration, opts ...CodeStoreOption) *CodeStore {
	s := &CodeStore{repo: repo, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL reports the code lifetime.
func (s *CodeStore) TTL() time.Duration { return s.ttl }

// Issue mints a 256-bit random code bound to subject, clientID and scope and persists it.
func (s *CodeStore) Issue(ctx context.Context, subject, clientID, scope string) (string, error) {
	code, err := newCode()
	if err != nil {
		return "", domain.Internal("generate code", err)
	}
	record := domain.AuthorizationCode{
		Code:     code,
		Subject:  subject,
		ClientID: clientID,
		Scope:    scope,
		IssuedAt: s.now().UTC(),
	}
	if err := s.repo.CreateCode(ctx, record); err != nil {
		return "", domain.Internal("issue code", err)
	}
	return code, nil
}

// Consume atomically removes and returns the code. Missing, spent and expired codes all
// yield domain.ErrCodeNotFound.
func (s *CodeStore) Consume(ctx context.Context, code string) (domain.AuthorizationCode, error) {
	return s.take(ctx, code, "")
}

// ConsumeForClient is Consume restricted to codes bound to clientID. A code owned by
// another client is left in place.
func (s *CodeStore) ConsumeForClient(ctx context.Context, code, clientID string) (domain.AuthorizationCode, error) {
	if clientID == "" {
		return domain.AuthorizationCode{}, domain.ErrCodeNotFound
	}
	return s.take(ctx, code, clientID)
}

func (s *CodeStore) take(ctx context.Context, code, clientID string) (domain.AuthorizationCode, error) {
	if code == "" {
		return domain.AuthorizationCode{}, domain.ErrCodeNotFound
	}
	now := s.now()
	record, err := s.repo.TakeCode(ctx, code, clientID, now.Add(-s.ttl))
	if err != nil {
		if errors.Is(err, domain.ErrCodeNotFound) {
			return domain.AuthorizationCode{}, domain.ErrCodeNotFound
		}
		return domain.AuthorizationCode{}, domain.Internal("consume code", err)
	}
	if now.Sub(record.IssuedAt) > s.ttl {
		return domain.AuthorizationCode{}, domain.ErrCodeNotFound
	}
	return record, nil
}

// Exists reports whether an unexpired code is still stored.
func (s *CodeStore) Exists(ctx context.Context, code string) (bool, error) {
	if code == "" {
		return false, nil
	}
	ok, err := s.repo.CodeExists(ctx, code, s.now().Add(-s.ttl))
	if err != nil {
		return false, domain.Internal("lookup code", err)
	}
	return ok, nil
}

// PurgeExpired deletes codes older than the TTL and returns how many were removed.
func (s *CodeStore) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteCodesIssuedBefore(ctx, s.now().Add(-s.ttl))
	if err != nil {
		return 0, domain.Internal("purge codes", err)
	}
	return n, nil
}

func newCode() (string, error) {
	b := make([]byte, codeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
