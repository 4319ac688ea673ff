package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	cacheadapter "github.com/saadaziz/identity-backend/internal/adapter/cache"
	"github.com/saadaziz/identity-backend/internal/adapter/logsink"
	"github.com/saadaziz/identity-backend/internal/bootstrap"
	"github.com/saadaziz/identity-backend/internal/config"
	"github.com/saadaziz/identity-backend/internal/credentials"
	httptransport "github.com/saadaziz/identity-backend/internal/http"
	"github.com/saadaziz/identity-backend/internal/http/handler"
	httpmiddleware "github.com/saadaziz/identity-backend/internal/http/middleware"
	"github.com/saadaziz/identity-backend/internal/jwt"
	"github.com/saadaziz/identity-backend/internal/logship"
	apimiddleware "github.com/saadaziz/identity-backend/internal/middleware"
	"github.com/saadaziz/identity-backend/internal/registry"
	"github.com/saadaziz/identity-backend/internal/repository"
	"github.com/saadaziz/identity-backend/internal/server"
	"github.com/saadaziz/identity-backend/internal/service"
	"github.com/saadaziz/identity-backend/internal/telemetry"
)

const logTokenTTL = 5 * time.Minute

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newSigningKey,
			newIssuer,
			newVerifier,
			newRequestSealer,
			newLogger,
			newTelemetry,
			newCodeRepository,
			newCodeStore,
			newRegistry,
			newCredentialChecker,
			newAuthService,
			newDiscoveryService,
			handler.NewAuthHandler,
			httpmiddleware.NewAuth,
			newRateLimiter,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, bootstrap.EnsureSchema, bootstrap.StartCodeSweeper, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newSigningKey(cfg config.Config) (jwt.SigningKey, error) {
	return jwt.NewSigningKey(cfg.JWTSecretKey)
}

func newIssuer(key jwt.SigningKey, cfg config.Config) *jwt.Issuer {
	return jwt.NewIssuer(key, cfg.JWTIssuer, cfg.TokenTTL)
}

func newVerifier(key jwt.SigningKey, cfg config.Config) *jwt.Verifier {
	return jwt.NewVerifier(key, cfg.JWTIssuer)
}

func newRequestSealer(key jwt.SigningKey, cfg config.Config) (*jwt.RequestSealer, error) {
	return jwt.NewRequestSealer(key, cfg.JWTIssuer, cfg.RequestTTL)
}

// newLogger builds the process logger and, when a collector is configured, tees it into
// the log shipper.
func newLogger(lc fx.Lifecycle, cfg config.Config, issuer *jwt.Issuer) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}

	if cfg.LoggingBackendURL != "" {
		level, err := zapcore.ParseLevel(cfg.LogShipLevel)
		if err != nil {
			return nil, fmt.Errorf("LOG_SHIP_LEVEL: %w", err)
		}
		node, err := snowflake.NewNode(1)
		if err != nil {
			return nil, fmt.Errorf("snowflake node: %w", err)
		}
		tokens := logsink.IssuerTokens(issuer.WithTTL(logTokenTTL), cfg.IdentitySubject, cfg.LoggingBackendAud)
		sink := logsink.NewHTTPClient(&http.Client{Timeout: 10 * time.Second}, cfg.LoggingBackendURL, tokens)
		shipper := logship.New(sink, cfg.IdentitySubject, node, logship.DefaultBuffer, logger)

		base := logger
		logger = shipper.Tee(base, level)
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				shipper.Start()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				err := shipper.Stop(ctx)
				if dropped := shipper.Dropped(); dropped > 0 {
					base.Warn("log entries dropped", zap.Int64("count", dropped))
				}
				return err
			},
		})
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			_ = logger.Sync()
			return nil
		},
	})
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

// newCodeRepository opens the backend selected by CODE_STORE.
func newCodeRepository(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (repository.CodeRepository, error) {
	switch cfg.CodeStore {
	case config.StorePostgres:
		pool, err := newPGXPool(cfg)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				pool.Close()
				return nil
			},
		})
		logger.Info("code store ready", zap.String("backend", cfg.CodeStore))
		return repository.NewPostgresCodeRepo(pool), nil

	case config.StoreRedis:
		client, err := newRedisClient(cfg)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return client.Close()
			},
		})
		logger.Info("code store ready", zap.String("backend", cfg.CodeStore), zap.String("addr", cfg.RedisAddr))
		return cacheadapter.NewRedisCodeStore(client, cfg.CodeTTL), nil

	default:
		repo, err := repository.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return repo.Close()
			},
		})
		logger.Info("code store ready", zap.String("backend", config.StoreSQLite), zap.String("path", cfg.SQLitePath))
		return repo, nil
	}
}

func newPGXPool(cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func newRedisClient(cfg config.Config) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func newCodeStore(repo repository.CodeRepository, cfg config.Config) *service.CodeStore {
	return service.NewCodeStore(repo, cfg.CodeTTL)
}

func newRegistry(cfg config.Config) *registry.Registry {
	return registry.New(cfg.Clients, cfg.GlobalRedirects)
}

func newCredentialChecker(cfg config.Config) (credentials.Checker, error) {
	checker, err := credentials.NewStaticChecker(cfg.DemoUsername, cfg.DemoPassword)
	if err != nil {
		return nil, fmt.Errorf("credential checker: %w", err)
	}
	return checker, nil
}

func newAuthService(clients *registry.Registry, codes *service.CodeStore, issuer *jwt.Issuer, verifier *jwt.Verifier, requests *jwt.RequestSealer, cfg config.Config, logger *zap.Logger, provider *telemetry.Provider) *service.AuthService {
	return service.NewAuthService(clients, codes, issuer, verifier, requests, cfg, logger, service.WithMetrics(provider.Metrics()))
}

func newDiscoveryService(cfg config.Config) *service.DiscoveryService {
	return service.NewDiscoveryService(cfg.JWTIssuer)
}

func newRateLimiter(cfg config.Config, provider *telemetry.Provider) *apimiddleware.RateLimiter {
	return apimiddleware.NewRateLimiter(cfg.RateLimitRPM).OnReject(provider.Metrics().RecordRateLimitExceeded)
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			logger.Info("identity backend listening", zap.String("addr", addr), zap.String("issuer", cfg.JWTIssuer), zap.Bool("dev_mode", cfg.DevMode))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
