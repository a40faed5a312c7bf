// Package config loads runtime settings from the environment.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full runtime configuration of the server and the sweep CLI.
type Config struct {
	Environment string
	Server      Server
	Log         Log
	Vault       Vault
	Consent     Consent
	Onboarding  Onboarding
	Retention   Retention
	RateLimit   RateLimit
	Redis       RedisConfig
	Postgres    Postgres
	Kafka       Kafka
	Export      Export
	Admin       Admin
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Log struct {
	Format string // "json" or "text"
	Level  string
}

// Vault holds the master key. Key and cost are read once at startup.
type Vault struct {
	KeyHex     string
	BcryptCost int
}

type Consent struct {
	PolicyVersion string
}

type Onboarding struct {
	LookupStrategy   string
	MaxMessageLength int
	CodeTTL          time.Duration
	MaxCodeAttempts  int
}

type Retention struct {
	DefaultDays   int
	SweepInterval time.Duration
	BatchSize     int
}

// RateLimit configures the per-address conversation limit and the per-IP
// limit applied to HTTP callers.
type RateLimit struct {
	MaxEvents     int
	Window        time.Duration
	HTTPPerMinute int
	Disabled      bool
}

// RedisConfig enables the shared rate limit store when URL is set.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type Postgres struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Kafka enables the audit relay when Brokers is non-empty.
type Kafka struct {
	Brokers       []string
	AuditTopic    string
	RelayInterval time.Duration
	// SettleDelay holds back entries younger than this so the relay cursor
	// never passes a transaction that is still open.
	SettleDelay   time.Duration
}

// Export selects the S3 sink when Bucket is set, the memory sink otherwise.
type Export struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	LinkTTL   time.Duration
}

// Admin configures operator bearer tokens.
type Admin struct {
	JWTSigningKey string
	JWTIssuer     string
}

// Load reads an optional .env file and then the environment. Variables
// already set in the environment win over the file.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	cfg, err := FromEnv()
	if err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() (Config, error) {
	var p parser
	cfg := Config{
		Environment: p.str("ENVIRONMENT", "development"),
		Server: Server{
			Addr:            p.str("VAULTLINE_ADDR", ":8080"),
			ReadTimeout:     p.duration("HTTP_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    p.duration("HTTP_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: p.duration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Log: Log{
			Format: p.str("LOG_FORMAT", "text"),
			Level:  p.str("LOG_LEVEL", "info"),
		},
		Vault: Vault{
			KeyHex:     os.Getenv("VAULT_KEY"),
			BcryptCost: p.int("BCRYPT_COST", 12),
		},
		Consent: Consent{
			PolicyVersion: p.str("CONSENT_POLICY_VERSION", "2026-01"),
		},
		Onboarding: Onboarding{
			LookupStrategy:   p.str("LOOKUP_STRATEGY", "index"),
			MaxMessageLength: p.int("MAX_MESSAGE_LENGTH", 1000),
			CodeTTL:          p.duration("VERIFICATION_CODE_TTL", 15*time.Minute),
			MaxCodeAttempts:  p.int("VERIFICATION_MAX_ATTEMPTS", 3),
		},
		Retention: Retention{
			DefaultDays:   p.int("DEFAULT_RETENTION_DAYS", 365),
			SweepInterval: p.duration("RETENTION_SWEEP_INTERVAL", time.Hour),
			BatchSize:     p.int("RETENTION_BATCH_SIZE", 100),
		},
		RateLimit: RateLimit{
			MaxEvents:     p.int("RATE_LIMIT_MAX", 10),
			Window:        p.duration("RATE_LIMIT_WINDOW", 60*time.Second),
			HTTPPerMinute: p.int("HTTP_RATE_LIMIT_PER_MINUTE", 600),
			Disabled:      p.bool("DISABLE_RATE_LIMITING", false),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     p.int("REDIS_POOL_SIZE", 10),
			MinIdleConns: p.int("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  p.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  p.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: p.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Postgres: Postgres{
			DSN:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    p.int("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    p.int("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: p.duration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Kafka: Kafka{
			Brokers:       p.list("KAFKA_BROKERS"),
			AuditTopic:    p.str("AUDIT_TOPIC", "vaultline.audit"),
			RelayInterval: p.duration("AUDIT_RELAY_INTERVAL", time.Second),
			SettleDelay:   p.duration("AUDIT_RELAY_SETTLE_DELAY", 10*time.Second),
		},
		Export: Export{
			Bucket:    os.Getenv("EXPORT_BUCKET"),
			Region:    p.str("EXPORT_REGION", "eu-west-3"),
			Endpoint:  os.Getenv("EXPORT_ENDPOINT"),
			AccessKey: os.Getenv("EXPORT_ACCESS_KEY"),
			SecretKey: os.Getenv("EXPORT_SECRET_KEY"),
			LinkTTL:   p.duration("EXPORT_LINK_TTL", 24*time.Hour),
		},
		Admin: Admin{
			JWTSigningKey: os.Getenv("ADMIN_JWT_SIGNING_KEY"),
			JWTIssuer:     p.str("ADMIN_JWT_ISSUER", "vaultline"),
		},
	}
	if err := errors.Join(p.errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	key, err := hex.DecodeString(c.Vault.KeyHex)
	if err != nil || len(key) != 32 {
		errs = append(errs, errors.New("VAULT_KEY must be 64 hex characters"))
	}
	if c.Vault.BcryptCost < 4 || c.Vault.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("BCRYPT_COST %d out of range 4..31", c.Vault.BcryptCost))
	}
	if c.Consent.PolicyVersion == "" {
		errs = append(errs, errors.New("CONSENT_POLICY_VERSION is required"))
	}
	if c.Retention.DefaultDays <= 0 {
		errs = append(errs, errors.New("DEFAULT_RETENTION_DAYS must be positive"))
	}
	if c.RateLimit.MaxEvents <= 0 || c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_MAX and RATE_LIMIT_WINDOW must be positive"))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q must be json or text", c.Log.Format))
	}
	switch c.Onboarding.LookupStrategy {
	case "index", "scan":
	default:
		errs = append(errs, fmt.Errorf("LOOKUP_STRATEGY %q must be index or scan", c.Onboarding.LookupStrategy))
	}
	if c.IsProduction() && c.Admin.JWTSigningKey == "" {
		errs = append(errs, errors.New("ADMIN_JWT_SIGNING_KEY is required in production"))
	}
	return errors.Join(errs...)
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

type parser struct {
	errs []error
}

func (p *parser) str(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (p *parser) int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (p *parser) bool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (p *parser) list(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
