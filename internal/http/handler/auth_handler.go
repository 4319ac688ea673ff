package handler

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/saadaziz/identity-backend/internal/credentials"
	"github.com/saadaziz/identity-backend/internal/domain"
	httpmiddleware "github.com/saadaziz/identity-backend/internal/http/middleware"
	"github.com/saadaziz/identity-backend/internal/service"
)

// AuthHandler serves the authorization code endpoints.
type AuthHandler struct {
	Auth        *service.AuthService
	Credentials credentials.Checker
	Discovery   *service.DiscoveryService
}

// NewAuthHandler creates the handler set.
func NewAuthHandler(auth *service.AuthService, checker credentials.Checker, discovery *service.DiscoveryService) *AuthHandler {
	return &AuthHandler{Auth: auth, Credentials: checker, Discovery: discovery}
}

type authorizeRequest struct {
	ResponseType string `form:"response_type"`
	ClientID     string `form:"client_id"`
	RedirectURI  string `form:"redirect_uri"`
	State        string `form:"state"`
	Scope        string `form:"scope"`
}

// Authorize validates the client and redirect target and returns the sealed request the
// login step must echo back.
func (h *AuthHandler) Authorize(c *gin.Context) {
	var req authorizeRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid authorize request."})
		return
	}
	if rt := strings.TrimSpace(req.ResponseType); rt != "" && rt != "code" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_response_type", "error_description": "Only response_type=code is supported."})
		return
	}

	out, err := h.Auth.BeginAuthorization(c.Request.Context(), req.ClientID, req.RedirectURI, req.State, req.Scope)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"request":      out.Token,
		"expires_in":   out.ExpiresIn,
		"client_id":    out.Pending.ClientID,
		"redirect_uri": out.Pending.RedirectURI,
		"state":        out.Pending.State,
		"scope":        out.Pending.Scope,
	})
}

type loginRequest struct {
	Request  string `form:"request"`
	Username string `form:"username"`
	Password string `form:"password"`
}

// Login runs the credential check and, on success, redirects to the client with a code.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil || strings.TrimSpace(req.Request) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "request is required."})
		return
	}

	subject, ok := h.Credentials.Check(req.Username, req.Password)
	grant, err := h.Auth.CompleteAuthorization(c.Request.Context(), req.Request, subject, ok)
	if err != nil {
		var clientErr *domain.ClientError
		if errors.As(err, &clientErr) && clientErr.Kind == domain.InvalidCredentials {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":             clientErr.Kind.String(),
				"error_description": "Invalid username or password",
				"request":           req.Request,
			})
			return
		}
		h.respondError(c, err)
		return
	}

	parsed, err := url.Parse(grant.RedirectURI)
	if err != nil {
		h.respondError(c, &domain.ClientError{Kind: domain.InvalidRedirect, Detail: grant.RedirectURI})
		return
	}
	h.redirectAuthorizeSuccess(c, parsed, grant.State, grant.Code)
}

type tokenRequest struct {
	GrantType    string `form:"grant_type"`
	Code         string `form:"code"`
	RedirectURI  string `form:"redirect_uri"`
	ClientID     string `form:"client_id"`
	ClientSecret string `form:"client_secret"`
}

// Token exchanges an authorization code. Client credentials come from the form body or
// HTTP Basic auth.
func (h *AuthHandler) Token(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid token request."})
		return
	}
	if gt := strings.TrimSpace(req.GrantType); gt != "" && gt != "authorization_code" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_grant_type", "error_description": "Unsupported grant type."})
		return
	}
	if req.ClientID == "" {
		if id, secret, ok := c.Request.BasicAuth(); ok {
			req.ClientID, req.ClientSecret = id, secret
		}
	}
	if strings.TrimSpace(req.Code) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "code is required."})
		return
	}

	resp, err := h.Auth.ExchangeCode(c.Request.Context(), req.Code, req.ClientID, req.ClientSecret, req.RedirectURI)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	c.JSON(http.StatusOK, resp)
}

type verifyRequest struct {
	Token    string `json:"token"`
	Audience string `json:"aud"`
}

// Verify checks a bearer token and returns its claims.
func (h *AuthHandler) Verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"valid": false, "error": "Missing token", "error_code": "invalid_request"})
		return
	}

	claims, err := h.Auth.VerifyToken(c.Request.Context(), strings.TrimSpace(req.Token), req.Audience)
	if err != nil {
		var tokenErr *domain.TokenError
		if errors.As(err, &tokenErr) {
			c.JSON(http.StatusUnauthorized, gin.H{"valid": false, "error": tokenErrorMessage(tokenErr.Kind), "error_code": tokenErr.Kind.String()})
			return
		}
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "claims": claims.Map()})
}

// UserInfo returns the claims of the bearer token validated by the auth middleware.
func (h *AuthHandler) UserInfo(c *gin.Context) {
	claims, ok := httpmiddleware.GetClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, oauthError("invalid_token", "Invalid access token."))
		return
	}
	c.JSON(http.StatusOK, gin.H{"sub": claims.Subject, "scope": claims.Scope, "aud": claims.Audience})
}

// OpenIDConfig returns the discovery document.
func (h *AuthHandler) OpenIDConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.Discovery.OpenIDConfigurationResponse(schemeOnly(c.Request), hostOnly(c.Request)))
}

// Ping is a liveness probe.
func (h *AuthHandler) Ping(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// TestToken mints a token for local testing. Registered only in dev mode.
func (h *AuthHandler) TestToken(c *gin.Context) {
	token, _, err := h.Auth.MintDevToken(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id_token": token})
}

func (h *AuthHandler) redirectAuthorizeSuccess(c *gin.Context, parsedRedirect *url.URL, state, code string) {
	q := parsedRedirect.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	parsedRedirect.RawQuery = q.Encode()
	c.Redirect(http.StatusFound, parsedRedirect.String())
}

func (h *AuthHandler) respondError(c *gin.Context, err error) {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("request failed", zap.Error(err))
	}
	c.JSON(status, body)
}

// errorResponse maps the tagged service errors onto status codes and OAuth-style bodies.
// Internal detail never leaves this function.
func errorResponse(err error) (int, gin.H) {
	var (
		clientErr *domain.ClientError
		codeErr   *domain.CodeError
		tokenErr  *domain.TokenError
	)
	switch {
	case errors.As(err, &clientErr):
		switch clientErr.Kind {
		case domain.InvalidClient:
			return http.StatusBadRequest, oauthError(clientErr.Kind.String(), "Invalid client_id")
		case domain.InvalidRedirect:
			return http.StatusBadRequest, oauthError(clientErr.Kind.String(), "Invalid redirect_uri")
		case domain.InvalidClientSecret:
			return http.StatusUnauthorized, oauthError(clientErr.Kind.String(), "Invalid client_secret")
		case domain.InvalidCredentials:
			return http.StatusUnauthorized, oauthError(clientErr.Kind.String(), "Invalid username or password")
		case domain.InvalidAuthorizationRequest:
			return http.StatusBadRequest, oauthError(clientErr.Kind.String(), "Authorization request is missing or expired.")
		}
	case errors.As(err, &codeErr):
		switch codeErr.Kind {
		case domain.InvalidOrExpiredCode:
			return http.StatusBadRequest, oauthError(codeErr.Kind.String(), "Invalid or expired code")
		case domain.ClientMismatch:
			return http.StatusBadRequest, oauthError(codeErr.Kind.String(), "client_id mismatch")
		}
	case errors.As(err, &tokenErr):
		return http.StatusUnauthorized, oauthError(tokenErr.Kind.String(), tokenErrorMessage(tokenErr.Kind))
	}
	return http.StatusInternalServerError, oauthError("server_error", "Internal server error.")
}

func oauthError(code, desc string) gin.H {
	return gin.H{"error": code, "error_description": desc}
}

func tokenErrorMessage(kind domain.TokenErrorKind) string {
	switch kind {
	case domain.TokenExpired:
		return "Token expired"
	case domain.TokenInvalidAudience:
		return "Invalid audience"
	case domain.TokenInvalidIssuer:
		return "Invalid issuer"
	default:
		return "Invalid token"
	}
}

func schemeOnly(r *http.Request) string {
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		if r.TLS != nil {
			scheme = "https"
		} else {
			scheme = "http"
		}
	}
	return scheme
}

// hostOnly keeps the port so advertised endpoints stay reachable on non-default ports.
func hostOnly(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-Host")); forwarded != "" {
		return forwarded
	}
	return r.Host
}
