package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultJWTSecret = "dev-secret"

// Store drivers understood by StoreDriver.
const (
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
)

// Config holds every setting the API reads from the environment.
type Config struct {
	Env             string
	Port            string
	ShutdownTimeout time.Duration

	StoreDriver   string
	DatabaseDSN   string
	MongoURI      string
	MongoDatabase string
	RedisAddr     string

	JWTSecret           string
	JWTAudience         string
	JWTExpiresIn        time.Duration
	CookieExpiresInDays int

	GeminiAPIKey      string
	GeminiModel       string
	ClassifierTimeout time.Duration
	MaxImageBytes     int64

	AllowedOrigins []string
	GoogleClientID string
	GoogleJWKSURL  string

	// EnvFileLoaded reports whether a .env file was found and applied.
	EnvFileLoaded bool
}

// Development reports whether raw error details may be echoed to clients.
// It is opt-in: anything but APP_ENV=development runs as production.
func (c *Config) Development() bool {
	return c.Env == "development"
}

// Load reads .env (when present) and the process environment on top of defaults.
func Load() (*Config, error) {
	cfg := &Config{EnvFileLoaded: godotenv.Load() == nil}

	var errs []error
	cfg.Env = strings.ToLower(getEnv("APP_ENV", "production"))
	cfg.Port = getEnv("PORT", "5000")
	cfg.StoreDriver = strings.ToLower(getEnv("STORE_DRIVER", StorePostgres))
	cfg.DatabaseDSN = getEnv("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=fanverify port=5432 sslmode=disable")
	cfg.MongoURI = getEnv("MONGO_URI", "mongodb://mongo:27017/?replicaSet=rs0")
	cfg.MongoDatabase = getEnv("MONGO_DATABASE", "fanverify")
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")

	cfg.JWTSecret = getEnv("JWT_SECRET", defaultJWTSecret)
	cfg.JWTAudience = os.Getenv("JWT_AUDIENCE")
	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	cfg.GeminiModel = getEnv("GEMINI_MODEL", "gemini-1.5-flash")
	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.GoogleJWKSURL = getEnv("GOOGLE_JWKS_URL", "https://www.googleapis.com/oauth2/v3/certs")
	cfg.AllowedOrigins = splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"))

	cfg.ShutdownTimeout = durationEnv("SHUTDOWN_TIMEOUT", 15*time.Second, &errs)
	cfg.JWTExpiresIn = durationEnv("JWT_EXPIRES_IN", 7*24*time.Hour, &errs)
	cfg.ClassifierTimeout = durationEnv("CLASSIFIER_TIMEOUT", 15*time.Second, &errs)
	cfg.CookieExpiresInDays = int(intEnv("JWT_COOKIE_EXPIRES_IN_DAYS", 90, &errs))
	cfg.MaxImageBytes = intEnv("MAX_IMAGE_BYTES", 5<<20, &errs)

	if err := cfg.validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case StorePostgres, StoreMongo:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StorePostgres, StoreMongo, c.StoreDriver)
	}
	if c.MaxImageBytes <= 0 {
		return errors.New("MAX_IMAGE_BYTES must be positive")
	}
	if c.ClassifierTimeout <= 0 {
		return errors.New("CLASSIFIER_TIMEOUT must be positive")
	}
	if !c.Development() && c.JWTSecret == defaultJWTSecret {
		return errors.New("JWT_SECRET must be set outside development")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration, errs *[]error) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}

func intEnv(key string, fallback int64, errs *[]error) int64 {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return n
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
