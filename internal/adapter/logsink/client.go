package logsink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/saadaziz/identity-backend/internal/jwt"
)

// Entry is one shipped log record.
type Entry struct {
	EventID string         `json:"event_id"`
	Service string         `json:"service"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

// Sink delivers entries to a remote collector.
type Sink interface {
	Send(ctx context.Context, entry Entry) error
}

// StatusError reports a non-2xx collector response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("log collector rejected entry: status=%d body=%q", e.Code, e.Body)
}

// Retryable reports whether resending the same entry may succeed.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// TokenSource returns a bearer token valid at now.
type TokenSource func(now time.Time) (string, error)

// tokenRefreshMargin keeps a cached token from expiring while a request is in flight.
const tokenRefreshMargin = 30 * time.Second

// IssuerTokens mints service tokens for subject and audience with the issuer's lifetime,
// reusing each one until it is close to expiry.
func IssuerTokens(issuer *jwt.Issuer, subject, audience string) TokenSource {
	var (
		mu      sync.Mutex
		cached  string
		expires time.Time
	)
	return func(now time.Time) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if cached != "" && now.Add(tokenRefreshMargin).Before(expires) {
			return cached, nil
		}
		token, claims, err := issuer.Mint(subject, audience, "", now)
		if err != nil {
			return "", fmt.Errorf("mint log token: %w", err)
		}
		cached, expires = token, claims.ExpiresAt
		return cached, nil
	}
}

// HTTPClient posts entries as JSON to the collector endpoint.
type HTTPClient struct {
	httpClient *http.Client
	endpoint   string
	tokens     TokenSource
	now        func() time.Time
}

// NewHTTPClient constructs the default Sink.
func NewHTTPClient(client *http.Client, endpoint string, tokens TokenSource) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPClient{httpClient: client, endpoint: endpoint, tokens: tokens, now: time.Now}
}

// Send performs a single delivery attempt.
func (c *HTTPClient) Send(ctx context.Context, entry Entry) error {
	if strings.TrimSpace(c.endpoint) == "" {
		return fmt.Errorf("log endpoint missing")
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode log entry: %w", err)
	}
	token, err := c.tokens(c.now())
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build log request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("log request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return nil
}
