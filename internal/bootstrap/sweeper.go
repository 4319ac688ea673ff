package bootstrap

import (
	"context"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/saadaziz/identity-backend/internal/config"
	"github.com/saadaziz/identity-backend/internal/service"
)

// Sweeper periodically removes expired authorization codes. Consume already refuses
// expired codes; the sweeper only keeps the store from growing.
type Sweeper struct {
	codes    *service.CodeStore
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper builds a sweeper. A non-positive interval yields a sweeper that never runs.
func NewSweeper(codes *service.CodeStore, interval time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{codes: codes, interval: interval, logger: logger}
}

// Start launches the sweep loop. Calling Start twice is a no-op.
func (s *Sweeper) Start() {
	if s.interval <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single purge and logs the outcome.
func (s *Sweeper) SweepOnce(ctx context.Context) int64 {
	n, err := s.codes.PurgeExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("code sweep failed", zap.Error(err))
		}
		return 0
	}
	if n > 0 {
		s.logger.Debug("expired codes purged", zap.Int64("count", n))
	}
	return n
}

// Stop ends the loop and waits for an in-flight sweep, bounded by ctx.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartCodeSweeper ties a sweeper to the application lifecycle.
func StartCodeSweeper(lc fx.Lifecycle, cfg config.Config, codes *service.CodeStore, logger *zap.Logger) {
	sweeper := NewSweeper(codes, cfg.CodeSweepEvery, logger)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			sweeper.Start()
			return nil
		},
		OnStop: sweeper.Stop,
	})
}
