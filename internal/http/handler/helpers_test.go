package handler_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saadaziz/identity-backend/internal/config"
	"github.com/saadaziz/identity-backend/internal/credentials"
	"github.com/saadaziz/identity-backend/internal/domain"
	httpHandler "github.com/saadaziz/identity-backend/internal/http/handler"
	httpmiddleware "github.com/saadaziz/identity-backend/internal/http/middleware"
	"github.com/saadaziz/identity-backend/internal/jwt"
	"github.com/saadaziz/identity-backend/internal/registry"
	"github.com/saadaziz/identity-backend/internal/repository"
	"github.com/saadaziz/identity-backend/internal/service"
)

const (
	testSecret   = "handler-test-secret-0123456789abcdef"
	testIssuer   = "https://id.example"
	acmeRedirect = "https://acme.example/cb"
)

func newTestHandler(t *testing.T) *httpHandler.AuthHandler {
	t.Helper()

	repo, err := repository.OpenSQLite(filepath.Join(t.TempDir(), "codes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	require.NoError(t, repo.EnsureSchema(context.Background()))

	key, err := jwt.NewSigningKey([]byte(testSecret))
	require.NoError(t, err)
	sealer, err := jwt.NewRequestSealer(key, testIssuer, 10*time.Minute)
	require.NoError(t, err)

	clients := registry.New([]domain.Client{
		{ClientID: "acme", ClientSecret: "s1", AllowedRedirectPrefixes: []string{acmeRedirect}},
		{ClientID: "globex", ClientSecret: "s2", AllowedRedirectPrefixes: []string{"https://globex.example/cb"}},
	}, nil)

	svc := service.NewAuthService(clients,
		service.NewCodeStore(repo, 5*time.Minute),
		jwt.NewIssuer(key, testIssuer, 15*time.Minute),
		jwt.NewVerifier(key, testIssuer),
		sealer, config.Config{}, zap.NewNop())

	checker, err := credentials.NewStaticChecker("alice", "wonderland")
	require.NoError(t, err)

	return httpHandler.NewAuthHandler(svc, checker, service.NewDiscoveryService(testIssuer))
}

func newTestEngine(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := newTestHandler(t)
	bearer := httpmiddleware.NewAuth(h.Auth)

	r := gin.New()
	r.GET("/authorize", h.Authorize)
	r.POST("/login", h.Login)
	r.POST("/token", h.Token)
	r.POST("/verify", h.Verify)
	r.GET("/userinfo", bearer.ValidateJWT, h.UserInfo)
	r.GET("/ping", h.Ping)
	r.GET("/test-token", h.TestToken)
	r.GET("/.well-known/openid-configuration", h.OpenIDConfig)
	return r
}
