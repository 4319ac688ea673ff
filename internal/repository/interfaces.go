package repository

import (
	"context"
	"time"

	"github.com/saadaziz/identity-backend/internal/domain"
)

// CodeRepository persists authorization codes. Every backend must implement TakeCode as a
// single atomic delete-and-return so concurrent redemptions are serialized by the store.
type CodeRepository interface {
	CreateCode(ctx context.Context, code domain.AuthorizationCode) error
	// TakeCode removes and returns the code issued at or after notBefore. When clientID
	// is non-empty the record is only taken if it is bound to that client. A miss
	// returns domain.ErrCodeNotFound.
	TakeCode(ctx context.Context, code, clientID string, notBefore time.Time) (domain.AuthorizationCode, error)
	// CodeExists reports whether an unexpired record is present without removing it.
	CodeExists(ctx context.Context, code string, notBefore time.Time) (bool, error)
	DeleteCodesIssuedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Migrator is implemented by backends that own a schema.
type Migrator interface {
	EnsureSchema(ctx context.Context) error
}
