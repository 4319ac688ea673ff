package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/saadaziz/identity-backend/internal/domain"
)

// Code store drivers.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// MinSecretLength is the shortest HMAC key accepted for HS256.
const MinSecretLength = 32

// Config contains runtime configuration values. It is loaded once and passed by value.
type Config struct {
	Environment string
	HTTPPort    string
	ServiceName string
	DevMode     bool

	JWTSecretKey    []byte
	JWTIssuer       string
	TokenTTL        time.Duration
	CodeTTL         time.Duration
	RequestTTL      time.Duration
	CodeSweepEvery  time.Duration
	SpendOnMismatch bool

	CodeStore     string
	SQLitePath    string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Clients         []domain.Client
	GlobalRedirects []string

	DemoUsername string
	DemoPassword string

	LoggingBackendURL string
	LoggingBackendAud string
	IdentitySubject   string
	LogShipLevel      string

	RateLimitRPM         int
	TelemetryEndpoint    string
	TelemetryInsecure    bool
	CORSAllowedOrigins   []string
	CORSAllowedMethods   []string
	CORSAllowedHeaders   []string
	CORSAllowCredentials bool
}

// Load reads configuration from the environment (and .env when present).
func Load() (Config, error) {
	_ = godotenv.Load()

	secret := os.Getenv("JWT_SECRET_KEY")
	if strings.TrimSpace(secret) == "" {
		return Config{}, fmt.Errorf("JWT_SECRET_KEY is required")
	}
	if len(secret) < MinSecretLength {
		return Config{}, fmt.Errorf("JWT_SECRET_KEY must be at least %d bytes for HS256", MinSecretLength)
	}
	demoUser := strings.TrimSpace(os.Getenv("DEMO_USERNAME"))
	demoPassword := os.Getenv("DEMO_PASSWORD")
	if demoUser == "" || demoPassword == "" {
		return Config{}, fmt.Errorf("DEMO_USERNAME and DEMO_PASSWORD are required")
	}

	cfg := Config{
		Environment:          getEnv("APP_ENV", "development"),
		HTTPPort:             getEnv("HTTP_PORT", "5002"),
		ServiceName:          getEnv("SERVICE_NAME", "identity-backend"),
		DevMode:              getBool("DEV_MODE", false),
		JWTSecretKey:         []byte(secret),
		JWTIssuer:            getEnv("JWT_ISSUER", "https://aurorahours.com/identity-backend"),
		TokenTTL:             time.Duration(getInt("JWT_EXPIRATION_MINUTES", 15)) * time.Minute,
		CodeTTL:              getDuration("AUTH_CODE_TTL", 5*time.Minute),
		RequestTTL:           getDuration("AUTHORIZATION_REQUEST_TTL", 10*time.Minute),
		CodeSweepEvery:       getDuration("AUTH_CODE_SWEEP_INTERVAL", time.Minute),
		SpendOnMismatch:      getBool("SPEND_CODE_ON_CLIENT_MISMATCH", false),
		CodeStore:            strings.ToLower(getEnv("CODE_STORE", StoreSQLite)),
		SQLitePath:           getEnv("AUTH_CODE_DB", "authcodes.db"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisAddr:            getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              getInt("REDIS_DB", 0),
		GlobalRedirects:      getList("ALLOWED_REDIRECT_URIS", []string{"http://localhost:5000/callback"}),
		DemoUsername:         demoUser,
		DemoPassword:         demoPassword,
		LoggingBackendURL:    os.Getenv("LOGGING_BACKEND_URL"),
		LoggingBackendAud:    getEnv("LOGGING_BACKEND_AUD", "logging-service"),
		IdentitySubject:      getEnv("IDENTITY_SUB", "identity-backend"),
		LogShipLevel:         getEnv("LOG_SHIP_LEVEL", "info"),
		RateLimitRPM:         getInt("RATE_LIMIT_RPM", 600),
		TelemetryEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure:    getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		CORSAllowedOrigins:   getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		CORSAllowedMethods:   getList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
		CORSAllowedHeaders:   getList("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type"}),
		CORSAllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", false),
	}

	if cfg.TokenTTL <= 0 {
		return Config{}, fmt.Errorf("JWT_EXPIRATION_MINUTES must be positive")
	}
	if cfg.CodeTTL <= 0 || cfg.RequestTTL <= 0 {
		return Config{}, fmt.Errorf("AUTH_CODE_TTL and AUTHORIZATION_REQUEST_TTL must be positive")
	}

	switch cfg.CodeStore {
	case StoreSQLite:
		if strings.TrimSpace(cfg.SQLitePath) == "" {
			return Config{}, fmt.Errorf("AUTH_CODE_DB is required for the sqlite code store")
		}
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL is required for the postgres code store")
		}
	case StoreRedis:
	default:
		return Config{}, fmt.Errorf("unknown CODE_STORE %q", cfg.CodeStore)
	}

	clients, err := loadClients()
	if err != nil {
		return Config{}, err
	}
	cfg.Clients = clients

	return cfg, nil
}

type clientsFile struct {
	Clients []domain.Client `yaml:"clients"`
}

// loadClients reads CLIENTS_FILE when set, otherwise builds the registry from
// ALLOWED_CLIENTS and <CLIENT>_CLIENT_SECRET variables.
func loadClients() ([]domain.Client, error) {
	if path := strings.TrimSpace(os.Getenv("CLIENTS_FILE")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read clients file: %w", err)
		}
		return ParseClients(raw)
	}

	ids := getList("ALLOWED_CLIENTS", []string{"browser-ui"})
	clients := make([]domain.Client, 0, len(ids))
	for _, id := range ids {
		key := secretEnvKey(id)
		secret := os.Getenv(key)
		if secret == "" {
			return nil, fmt.Errorf("%s is required for client %q", key, id)
		}
		clients = append(clients, domain.Client{ClientID: id, ClientSecret: secret})
	}
	return clients, nil
}

// ParseClients decodes a YAML client registry document.
func ParseClients(raw []byte) ([]domain.Client, error) {
	var doc clientsFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode clients file: %w", err)
	}
	seen := make(map[string]struct{}, len(doc.Clients))
	for i, c := range doc.Clients {
		id := strings.TrimSpace(c.ClientID)
		if id == "" || c.ClientSecret == "" {
			return nil, fmt.Errorf("client #%d: client_id and client_secret are required", i+1)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("client %q registered twice", id)
		}
		seen[id] = struct{}{}
		doc.Clients[i].ClientID = id
	}
	return doc.Clients, nil
}

// secretEnvKey maps "browser-ui" to BROWSER_UI_CLIENT_SECRET.
func secretEnvKey(clientID string) string {
	upper := strings.ToUpper(strings.TrimSpace(clientID))
	upper = strings.NewReplacer("-", "_", ".", "_").Replace(upper)
	return upper + "_CLIENT_SECRET"
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
