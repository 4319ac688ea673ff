// Package logship forwards selected zap entries to the remote log collector.
package logship

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/saadaziz/identity-backend/internal/adapter/logsink"
)

const (
	// DefaultBuffer bounds the number of entries waiting for delivery.
	DefaultBuffer = 256
	sendTimeout   = 10 * time.Second
	maxAttempts   = 3
)

// Shipper owns the delivery queue and the worker draining it. Entries that do not fit
// in the queue are dropped; delivery failures are only logged locally.
type Shipper struct {
	sink    logsink.Sink
	service string
	node    *snowflake.Node
	local   *zap.Logger

	queue   chan logsink.Entry
	dropped atomic.Int64
	retry   time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// New builds a shipper. local receives delivery failures and must not itself ship.
func New(sink logsink.Sink, service string, node *snowflake.Node, buffer int, local *zap.Logger) *Shipper {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if local == nil {
		local = zap.NewNop()
	}
	return &Shipper{
		sink:    sink,
		service: service,
		node:    node,
		local:   local.Named("logship"),
		queue:   make(chan logsink.Entry, buffer),
		retry:   200 * time.Millisecond,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// WithRetryInterval sets the first backoff delay between delivery attempts.
func (s *Shipper) WithRetryInterval(d time.Duration) *Shipper {
	if d > 0 {
		s.retry = d
	}
	return s
}

// Start launches the delivery worker.
func (s *Shipper) Start() {
	s.startOnce.Do(func() { go s.run() })
}

func (s *Shipper) run() {
	defer close(s.done)
	for {
		select {
		case entry := <-s.queue:
			s.deliver(entry)
		case <-s.stop:
			s.drain()
			return
		}
	}
}

func (s *Shipper) drain() {
	for {
		select {
		case entry := <-s.queue:
			s.deliver(entry)
		default:
			return
		}
	}
}

// deliver retries transient failures with exponential backoff. Collector rejections
// other than 429 and 5xx are not retried.
func (s *Shipper) deliver(entry logsink.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.retry
	policy.MaxInterval = 10 * s.retry

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := s.sink.Send(ctx, entry)
		var status *logsink.StatusError
		if errors.As(err, &status) && !status.Retryable() {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(maxAttempts),
	)
	if err != nil {
		s.local.Warn("log delivery failed", zap.String("event_id", entry.EventID), zap.Error(err))
	}
}

// Stop flushes queued entries and waits for the worker, bounded by ctx.
func (s *Shipper) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.Start()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped reports how many entries were discarded because the queue was full.
func (s *Shipper) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Shipper) enqueue(ent zapcore.Entry, fields map[string]any) {
	entry := logsink.Entry{
		EventID: s.node.Generate().String(),
		Service: s.service,
		Level:   ent.Level.String(),
		Message: ent.Message,
		Context: fields,
	}
	select {
	case s.queue <- entry:
	default:
		s.dropped.Add(1)
	}
}

// Core returns a zapcore.Core that ships entries enabled by level.
func (s *Shipper) Core(level zapcore.LevelEnabler) zapcore.Core {
	return &core{LevelEnabler: level, shipper: s}
}

// Tee wraps logger so that it also ships entries at or above level.
func (s *Shipper) Tee(logger *zap.Logger, level zapcore.LevelEnabler) *zap.Logger {
	return logger.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, s.Core(level))
	}))
}
