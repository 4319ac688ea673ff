package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// OutcomeSuccess is the outcome attribute value for successful operations.
	OutcomeSuccess = "success"
	// UnknownClient is the client_id label for ids that are not registered.
	UnknownClient = "unknown"
)

// Metrics holds the flow counters. A nil *Metrics records nothing.
type Metrics struct {
	AuthorizationSteps metric.Int64Counter
	CodeExchanges      metric.Int64Counter
	TokenVerifications metric.Int64Counter
	RateLimitExceeded  metric.Int64Counter
}

// NewMetrics registers the instruments on meter, or on the global meter provider when
// meter is nil.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	m := &Metrics{}

	var err error
	m.AuthorizationSteps, err = meter.Int64Counter(
		"identity.authorization.steps",
		metric.WithDescription("Authorization requests started and completed"),
		metric.WithUnit("{step}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create authorization.steps counter: %w", err)
	}

	m.CodeExchanges, err = meter.Int64Counter(
		"identity.code.exchanges",
		metric.WithDescription("Authorization code redemptions by outcome"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create code.exchanges counter: %w", err)
	}

	m.TokenVerifications, err = meter.Int64Counter(
		"identity.token.verifications",
		metric.WithDescription("Bearer token verifications by outcome"),
		metric.WithUnit("{verification}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create token.verifications counter: %w", err)
	}

	m.RateLimitExceeded, err = meter.Int64Counter(
		"identity.rate_limit.exceeded",
		metric.WithDescription("Requests rejected by the rate limiter"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create rate_limit.exceeded counter: %w", err)
	}

	return m, nil
}

// RecordAuthorizationStep records a begin or complete step of the authorize flow.
// clientID must be a registered id or UnknownClient.
func (m *Metrics) RecordAuthorizationStep(ctx context.Context, step, clientID, outcome string) {
	if m == nil {
		return
	}
	m.AuthorizationSteps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("step", step),
		attribute.String("client_id", clientID),
		attribute.String("outcome", outcome),
	))
}

// RecordCodeExchange records a code redemption attempt.
func (m *Metrics) RecordCodeExchange(ctx context.Context, clientID, outcome string) {
	if m == nil {
		return
	}
	m.CodeExchanges.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.String("outcome", outcome),
	))
}

// RecordTokenVerification records a verification attempt.
func (m *Metrics) RecordTokenVerification(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.TokenVerifications.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordRateLimitExceeded records a throttled request on route.
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, route string) {
	if m == nil {
		return
	}
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(attribute.String("route", route)))
}
