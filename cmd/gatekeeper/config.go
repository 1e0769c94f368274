package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/gatekeeper/internal/handlers/middleware"
	"github.com/nkiryanov/gatekeeper/internal/logger"
	"github.com/nkiryanov/gatekeeper/internal/models"
	"github.com/nkiryanov/gatekeeper/internal/service/ratelimit"
	"github.com/nkiryanov/gatekeeper/internal/service/token/codec"
)

const (
	defaultListenAddr    = "localhost:8000"
	defaultLoggingLevel  = logger.LevelInfo
	defaultEnvironment   = logger.EnvProduction
	defaultStore         = StorePostgres
	defaultSweepInterval = time.Minute
)

// Where rate limit buckets live
const (
	StorePostgres = "postgres" // shared by every instance
	StoreMemory   = "memory"   // per process, single instance deployments only
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type RateLimitConfig struct {
	AuthCapacity     int     `env:"RATELIMIT_AUTH_CAPACITY" validate:"gt=0"`
	AuthRefillPerSec float64 `env:"RATELIMIT_AUTH_REFILL_PER_SEC" validate:"gte=0"`
	APICapacity      int     `env:"RATELIMIT_API_CAPACITY" validate:"gt=0"`
	APIRefillPerSec  float64 `env:"RATELIMIT_API_REFILL_PER_SEC" validate:"gte=0"`

	// Bucket not touched for this long starts full again
	IdleTTL time.Duration `env:"RATELIMIT_IDLE_TTL" validate:"gt=0"`

	// Store call budget, the failure policy decides once exceeded
	StoreTimeout time.Duration `env:"RATELIMIT_STORE_TIMEOUT" validate:"gt=0"`

	// How often idle buckets are deleted
	SweepInterval time.Duration `env:"RATELIMIT_SWEEP_INTERVAL" validate:"gt=0"`
}

// Token max age overrides, zero keeps the default of the type
type TokenMaxAgeConfig struct {
	AppAuth        time.Duration `env:"TOKEN_MAX_AGE_APP_AUTH" validate:"gte=0"`
	AppAuthRefresh time.Duration `env:"TOKEN_MAX_AGE_APP_AUTH_REFRESH" validate:"gte=0"`
	PasswordReset  time.Duration `env:"TOKEN_MAX_AGE_PW_RESET" validate:"gte=0"`
	PasswordAuth   time.Duration `env:"TOKEN_MAX_AGE_PW_AUTH" validate:"gte=0"`
	Verification   time.Duration `env:"TOKEN_MAX_AGE_VERIFICATION" validate:"gte=0"`
}

type Config struct {
	// Default logging level, checked by logger.New
	LogLevel string

	// Address on which the gatekeeper will be run
	ListenAddr string `validate:"required"`

	// Database to connect to
	DatabaseDSN string `validate:"required"`

	// Secret key the token signing key derives from
	// Generate one with cmd/gensecret
	SecretKey string

	// Environment, checked by logger.New
	Environment string

	// Rate limit bucket store, postgres or memory
	Store string `validate:"oneof=postgres memory"`

	// Admit requests when the bucket store can't answer
	FailOpen bool `env:"RATELIMIT_FAIL_OPEN"`

	// Paths reachable without a principal, matched by prefix
	PublicRoutes []string `env:"PUBLIC_ROUTES" envSeparator:"," validate:"dive,startswith=/"`

	// Proxies allowed to name the client in X-Forwarded-For, CIDRs or addresses
	// Empty trusts nobody, anonymous requests are keyed by connection address
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:"," validate:"dive,cidr|ip"`

	RateLimit   RateLimitConfig
	TokenMaxAge TokenMaxAgeConfig
}

func NewConfig() *Config {
	limits := ratelimit.DefaultLimits()
	auth, api := limits[ratelimit.Auth], limits[ratelimit.API]

	return &Config{
		LogLevel:     defaultLoggingLevel,
		ListenAddr:   defaultListenAddr,
		Environment:  defaultEnvironment,
		Store:        defaultStore,
		PublicRoutes: append([]string(nil), middleware.DefaultPublicRoutes...),
		RateLimit: RateLimitConfig{
			AuthCapacity:     auth.Capacity,
			AuthRefillPerSec: auth.RefillPerSecond,
			APICapacity:      api.Capacity,
			APIRefillPerSec:  api.RefillPerSecond,
			IdleTTL:          ratelimit.DefaultIdleTTL,
			StoreTimeout:     ratelimit.DefaultStoreTimeout,
			SweepInterval:    defaultSweepInterval,
		},
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(envMap)
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

// Load variables from environment, variables not set keep current values
func (c *Config) LoadEnv(environ map[string]string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) {
		return func(value string) {
			if value != "" {
				*o = value
			}
		}
	}

	envMap := map[string]func(string){
		"RUN_ADDRESS":     setString(&c.ListenAddr),
		"DATABASE_URI":    setString(&c.DatabaseDSN),
		"SECRET_KEY":      setString(&c.SecretKey),
		"LOG_LEVEL":       setString(&c.LogLevel),
		"ENVIRONMENT":     setString(&c.Environment),
		"RATELIMIT_STORE": setString(&c.Store),
	}

	for key, parseFn := range envMap {
		parseFn(environ[key])
	}

	// Typed groups: numbers, durations, lists
	if err := env.ParseWithOptions(c, env.Options{Environment: environ}); err != nil {
		return fmt.Errorf("error while parsing environment. Err: %w", err)
	}

	return nil
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("gatekeeper", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key, at least 32 bytes")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.StringVar(&c.Store, "store", c.Store, "Rate limit store (postgres, memory)")
	fs.BoolVar(&c.FailOpen, "fail-open", c.FailOpen, "Admit requests when rate limit store is unavailable")
	fs.StringSliceVar(&c.TrustedProxies, "trusted-proxy", c.TrustedProxies, "Proxy CIDR or address trusted to forward client address, may be repeated")
	fs.StringSliceVar(&c.PublicRoutes, "public-route", c.PublicRoutes, "Path reachable without authentication, may be repeated")

	return fs.Parse(args)
}

func (c *Config) Validate() error {
	if len(c.SecretKey) < codec.MinSecretLength {
		return fmt.Errorf("secret key must be at least %d bytes, generate one with gensecret", codec.MinSecretLength)
	}

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration. Err: %w", err)
	}

	return nil
}

func (c *Config) Limits() map[string]models.Limit {
	return map[string]models.Limit{
		ratelimit.Auth: {
			Capacity:        c.RateLimit.AuthCapacity,
			RefillPerSecond: c.RateLimit.AuthRefillPerSec,
			IdleTTL:         c.RateLimit.IdleTTL,
		},
		ratelimit.API: {
			Capacity:        c.RateLimit.APICapacity,
			RefillPerSecond: c.RateLimit.APIRefillPerSec,
			IdleTTL:         c.RateLimit.IdleTTL,
		},
	}
}

func (c *Config) FailurePolicy() ratelimit.FailurePolicy {
	if c.FailOpen {
		return ratelimit.FailOpen
	}
	return ratelimit.FailClosed
}

// Max age overrides for token service, only types set explicitly
func (c *Config) MaxAges() map[models.TokenType]time.Duration {
	all := map[models.TokenType]time.Duration{
		models.TokenAppAuth:        c.TokenMaxAge.AppAuth,
		models.TokenAppAuthRefresh: c.TokenMaxAge.AppAuthRefresh,
		models.TokenPasswordReset:  c.TokenMaxAge.PasswordReset,
		models.TokenPasswordAuth:   c.TokenMaxAge.PasswordAuth,
		models.TokenVerification:   c.TokenMaxAge.Verification,
	}

	out := make(map[models.TokenType]time.Duration)
	for t, age := range all {
		if age > 0 {
			out[t] = age
		}
	}
	return out
}
