package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/saadaziz/identity-backend/internal/repository"
)

// EnsureSchema creates the code table on start for backends that own one.
func EnsureSchema(lc fx.Lifecycle, repo repository.CodeRepository, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return ensureSchema(ctx, repo, logger)
		},
	})
}

func ensureSchema(ctx context.Context, repo repository.CodeRepository, logger *zap.Logger) error {
	migrator, ok := repo.(repository.Migrator)
	if !ok {
		logger.Debug("code store has no schema", zap.String("backend", fmt.Sprintf("%T", repo)))
		return nil
	}
	if err := migrator.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure code schema: %w", err)
	}
	logger.Info("code schema ready")
	return nil
}
