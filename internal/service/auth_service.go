package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/saadaziz/identity-backend/internal/config"
	"github.com/saadaziz/identity-backend/internal/domain"
	"github.com/saadaziz/identity-backend/internal/jwt"
	"github.com/saadaziz/identity-backend/internal/registry"
	"github.com/saadaziz/identity-backend/internal/telemetry"
)

const (
	tokenTypeBearer = "Bearer"

	devTokenSubject  = "testuser"
	devTokenAudience = "logging-service"
	devTokenScope    = "openid"
	devTokenTTL      = 30 * time.Minute
)

// AuthService runs the authorization code flow: authorize, credential step, code
// exchange and token verification.
type AuthService struct {
	clients  *registry.Registry
	codes    *CodeStore
	issuer   *jwt.Issuer
	verifier *jwt.Verifier
	requests *jwt.RequestSealer

	spendOnMismatch bool
	now             func() time.Time
	logger          *zap.Logger
	tracer          trace.Tracer
	metrics         *telemetry.Metrics
}

// Option customises an AuthService.
type Option func(*AuthService)

// WithClock overrides the time source used for request sealing, minting and verification.
func WithClock(now func() time.Time) Option {
	return func(s *AuthService) { s.now = now }
}

// WithMetrics records flow outcomes on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *AuthService) { s.metrics = m }
}

// NewAuthService wires dependencies.
func NewAuthService(clients *registry.Registry, codes *CodeStore, issuer *jwt.Issuer, verifier *jwt.Verifier, requests *jwt.RequestSealer, cfg config.Config, logger *zap.Logger, opts ...Option) *AuthService {
	s := &AuthService{
		clients:         clients,
		codes:           codes,
		issuer:          issuer,
		verifier:        verifier,
		requests:        requests,
		spendOnMismatch: cfg.SpendOnMismatch,
		now:             time.Now,
		logger:          logger,
		tracer:          otel.Tracer("github.com/saadaziz/identity-backend/internal/service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BeginAuthorization validates the client and redirect target and seals the pending
// request for the credential step.
func (s *AuthService) BeginAuthorization(ctx context.Context, clientID, redirectURI, state, scope string) (out *AuthorizationRequest, err error) {
	ctx, span := s.startSpan(ctx, "AuthService.BeginAuthorization")
	defer span.End()
	metricClient := telemetry.UnknownClient
	defer func() { s.metrics.RecordAuthorizationStep(ctx, "begin", metricClient, outcome(err)) }()
	span.SetAttributes(attribute.String("client_id", clientID))

	client, ok := s.clients.Lookup(clientID)
	if !ok {
		return nil, s.reject(ctx, span, &domain.ClientError{Kind: domain.InvalidClient, ClientID: clientID})
	}
	metricClient = client.ClientID
	if !s.clients.ValidateRedirect(client, redirectURI) {
		return nil, s.reject(ctx, span, &domain.ClientError{Kind: domain.InvalidRedirect, ClientID: client.ClientID, Detail: redirectURI})
	}

	pending := domain.PendingAuthorization{
		ClientID:    client.ClientID,
		RedirectURI: redirectURI,
		State:       state,
		Scope:       scope,
	}
	token, err := s.requests.Seal(pending, s.now())
	if err != nil {
		return nil, s.reject(ctx, span, domain.Internal("seal authorization request", err))
	}

	s.audit("authorize.begin", "client_id", client.ClientID, "redirect_uri", redirectURI)
	return &AuthorizationRequest{
		Pending:   pending,
		Token:     token,
		ExpiresIn: int64(s.requests.TTL().Seconds()),
	}, nil
}

// CompleteAuthorization issues a code once the external credential check has passed.
func (s *AuthService) CompleteAuthorization(ctx context.Context, requestToken, subject string, credentialsValid bool) (grant *AuthorizationGrant, err error) {
	ctx, span := s.startSpan(ctx, "AuthService.CompleteAuthorization")
	defer span.End()
	metricClient := telemetry.UnknownClient
	defer func() { s.metrics.RecordAuthorizationStep(ctx, "complete", metricClient, outcome(err)) }()

	pending, err := s.requests.Open(requestToken, s.now())
	if err != nil {
		return nil, s.reject(ctx, span, &domain.ClientError{Kind: domain.InvalidAuthorizationRequest, Detail: err.Error()})
	}
	span.SetAttributes(attribute.String("client_id", pending.ClientID))

	client, ok := s.clients.Lookup(pending.ClientID)
	if !ok {
		return nil, s.reject(ctx, span, &domain.ClientError{Kind: domain.InvalidClient, ClientID: pending.ClientID})
	}
	metricClient = client.ClientID
	if !credentialsValid || strings.TrimSpace(subject) == "" {
		return nil, s.reject(ctx, span, &domain.ClientError{Kind: domain.InvalidCredentials, ClientID: pending.ClientID})
	}

	// Failed credentials leave the request usable; a successful login spends it.
	_, requestID, err := s.requests.Claim(requestToken, s.now())
	if err != nil {
		return nil, s.reject(ctx, span, &domain.ClientError{Kind: domain.InvalidAuthorizationRequest, ClientID: pending.ClientID, Detail: err.Error()})
	}

	code, err := s.codes.Issue(ctx, subject, pending.ClientID, pending.Scope)
	if err != nil {
		s.requests.Release(requestID)
		return nil, s.reject(ctx, span, err)
	}

	s.audit("authorize.code_issued", "client_id", pending.ClientID, "subject", subject)
	return &AuthorizationGrant{Code: code, RedirectURI: pending.RedirectURI, State: pending.State}, nil
}

// ExchangeCode redeems an authorization code for a bearer token. Client identity, secret
// and redirect target are checked before the code is touched.
func (s *AuthService) ExchangeCode(ctx context.Context, code, clientID, clientSecret, redirectURI string) (resp *TokenResponse, err error) {
	ctx, span := s.startSpan(ctx, "AuthService.ExchangeCode")
	defer span.End()
	metricClient := telemetry.UnknownClient
	defer func() { s.metrics.RecordCodeExchange(ctx, metricClient, outcome(err)) }()
	span.SetAttributes(attribute.String("client_id", clientID))

	client, ok := s.clients.Lookup(clientID)
	if !ok {
		return nil, s.reject(ctx, span, &domain.ClientError{Kind: domain.InvalidClient, ClientID: clientID})
	}
	metricClient = client.ClientID
	if !s.clients.ValidateSecret(client.ClientID, clientSecret) {
		return nil, s.reject(ctx, span, &domain.ClientError{Kind: domain.InvalidClientSecret, ClientID: client.ClientID})
	}
	if !s.clients.ValidateRedirect(client, redirectURI) {
		return nil, s.reject(ctx, span, &domain.ClientError{Kind: domain.InvalidRedirect, ClientID: client.ClientID, Detail: redirectURI})
	}

	record, err := s.redeem(ctx, code, client.ClientID)
	if err != nil {
		return nil, s.reject(ctx, span, err)
	}

	token, claims, err := s.issuer.Mint(record.Subject, client.ClientID, record.Scope, s.now())
	if err != nil {
		return nil, s.reject(ctx, span, domain.Internal("mint token", err))
	}

	s.audit("token.issued", "client_id", client.ClientID, "subject", claims.Subject, "exp", claims.ExpiresAt.Unix())
	return &TokenResponse{
		AccessToken: token,
		IDToken:     token,
		TokenType:   tokenTypeBearer,
		ExpiresIn:   int64(s.issuer.TTL().Seconds()),
		Claims:      claims,
	}, nil
}

// redeem consumes the code for clientID according to the mismatch policy.
func (s *AuthService) redeem(ctx context.Context, code, clientID string) (domain.AuthorizationCode, error) {
	if s.spendOnMismatch {
		record, err := s.codes.Consume(ctx, code)
		if err != nil {
			return domain.AuthorizationCode{}, codeError(err, clientID)
		}
		if record.ClientID != clientID {
			return domain.AuthorizationCode{}, &domain.CodeError{Kind: domain.ClientMismatch, ClientID: clientID, Spent: true}
		}
		return record, nil
	}

	record, err := s.codes.ConsumeForClient(ctx, code, clientID)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, domain.ErrCodeNotFound) {
		return domain.AuthorizationCode{}, err
	}
	exists, err := s.codes.Exists(ctx, code)
	if err != nil {
		return domain.AuthorizationCode{}, err
	}
	if exists {
		return domain.AuthorizationCode{}, &domain.CodeError{Kind: domain.ClientMismatch, ClientID: clientID}
	}
	return domain.AuthorizationCode{}, &domain.CodeError{Kind: domain.InvalidOrExpiredCode, ClientID: clientID}
}

func codeError(err error, clientID string) error {
	if errors.Is(err, domain.ErrCodeNotFound) {
		return &domain.CodeError{Kind: domain.InvalidOrExpiredCode, ClientID: clientID}
	}
	return err
}

// VerifyToken validates a bearer token. An empty audience skips the audience check.
func (s *AuthService) VerifyToken(ctx context.Context, token, audience string) (claims domain.TokenClaims, err error) {
	ctx, span := s.startSpan(ctx, "AuthService.VerifyToken")
	defer span.End()
	defer func() { s.metrics.RecordTokenVerification(ctx, outcome(err)) }()

	claims, err = s.verifier.VerifyAt(token, audience, s.now())
	if err != nil {
		return domain.TokenClaims{}, s.reject(ctx, span, err)
	}
	s.log().Info("token verified", zap.String("sub", claims.Subject), zap.String("aud", claims.Audience))
	return claims, nil
}

// MintDevToken issues a fixed long-lived token for local testing against downstream
// services. Only reachable when dev mode is on.
func (s *AuthService) MintDevToken(ctx context.Context) (string, domain.TokenClaims, error) {
	ctx, span := s.startSpan(ctx, "AuthService.MintDevToken")
	defer span.End()

	token, claims, err := s.issuer.WithTTL(devTokenTTL).Mint(devTokenSubject, devTokenAudience, devTokenScope, s.now())
	if err != nil {
		return "", domain.TokenClaims{}, s.reject(ctx, span, domain.Internal("mint dev token", err))
	}
	s.audit("token.dev_issued", "subject", devTokenSubject)
	return token, claims, nil
}

// reject records err on the span and logs it at the level its kind calls for.
func (s *AuthService) reject(ctx context.Context, span trace.Span, err error) error {
	span.RecordError(err)
	var internal *domain.InternalError
	if errors.As(err, &internal) {
		span.SetStatus(codes.Error, internal.Op)
		s.log().Error("request failed", zap.String("op", internal.Op), zap.Error(internal.Err), traceField(ctx))
		return err
	}
	s.log().Warn("request rejected", zap.String("reason", reason(err)), zap.Error(err), traceField(ctx))
	return err
}

func reason(err error) string {
	var (
		clientErr *domain.ClientError
		codeErr   *domain.CodeError
		tokenErr  *domain.TokenError
	)
	switch {
	case errors.As(err, &clientErr):
		return clientErr.Kind.String()
	case errors.As(err, &codeErr):
		return codeErr.Kind.String()
	case errors.As(err, &tokenErr):
		return tokenErr.Kind.String()
	default:
		return fmt.Sprintf("%T", err)
	}
}

// outcome labels err for metrics. Internal failures collapse into one value.
func outcome(err error) string {
	if err == nil {
		return telemetry.OutcomeSuccess
	}
	var internal *domain.InternalError
	if errors.As(err, &internal) {
		return "internal_error"
	}
	return reason(err)
}

func traceField(ctx context.Context) zap.Field {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return zap.Skip()
	}
	return zap.String("trace_id", sc.TraceID().String())
}

func (s *AuthService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *AuthService) audit(event string, attrs ...any) {
	logger := s.log()
	if logger == nil {
		return
	}
	fields := make([]zap.Field, 0, len(attrs)/2+2)
	fields = append(fields, zap.String("event", event), zap.Time("timestamp", time.Now().UTC()))
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, attrs[i+1]))
	}
	logger.Info("audit", fields...)
}

func (s *AuthService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}
