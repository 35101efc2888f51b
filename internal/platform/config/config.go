// Package config reads walletd settings from WALLET_-prefixed environment
// variables, optionally seeded from a .env file.
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

const prefix = "WALLET_"

type Config struct {
	Version  string
	LogLevel string
	// StrictProduction refuses to start on development defaults.
	StrictProduction bool

	GRPCAddr        string
	HTTPAddr        string
	TrustedCIDRs    []string
	ShutdownTimeout time.Duration

	TLSEnabled           bool
	TLSCertFile          string
	TLSKeyFile           string
	TLSClientCAFile      string
	TLSRequireClientCert bool

	// Auth is disabled when no secret, key list or keyset file is set.
	JWTSecret     string
	JWTKeys       string
	JWTActiveKID  string
	JWTKeysetFile string

	// DatabaseURL empty runs on the in-memory store.
	DatabaseURL     string
	DBMaxOpenConns  int
	DBMaxIdleConns  int
	DBConnMaxLife   time.Duration
	DBApplySchema   bool
	AuditToDatabase bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CachePrefix   string
	CacheTTL      time.Duration

	// Bus is one of memory, kafka or redis.
	Bus              string
	KafkaBrokers     []string
	KafkaTopicPrefix string
	KafkaGroupID     string
	InboxTopics      []string
	RedisChannel     string

	OutboxBatchSize        int
	OutboxInterval         time.Duration
	OutboxLease            time.Duration
	OutboxAlertAfter       int
	OutboxRetention        time.Duration
	OutboxCleanupInterval  time.Duration
	InboxMaxAttempts       int
	InboxSweepInterval     time.Duration
	ReconcileBatchSize     int
	ReconcileInterval      time.Duration
	ReconcileLease         time.Duration
	ReconcilePollDelay     time.Duration
	DefaultConfirmations   int
	Confirmations          map[string]int
	ProviderDecimals       int32
	CommandMaxAttempts     int
	CommandRetryDelay      time.Duration
	ReadinessCheckTimeout  time.Duration
	EnableAdminPublishHook bool
}

// AuthEnabled reports whether any JWT key material is configured.
func (c Config) AuthEnabled() bool {
	return c.JWTSecret != "" || c.JWTKeys != "" || c.JWTKeysetFile != ""
}

// Load reads .env when present, then the environment. Every malformed value
// is reported, not only the first.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

func FromEnv() (Config, error) {
	var p parser
	c := Config{
		Version:  p.str("VERSION", "dev"),
		LogLevel: p.str("LOG_LEVEL", "info"),

		StrictProduction: p.boolean("STRICT_PRODUCTION", false),

		GRPCAddr:        p.str("GRPC_ADDR", ":8081"),
		HTTPAddr:        p.str("HTTP_ADDR", ":8080"),
		TrustedCIDRs:    p.list("TRUSTED_CIDRS", "127.0.0.1/32,::1/128"),
		ShutdownTimeout: p.duration("SHUTDOWN_TIMEOUT", 10*time.Second),

		TLSEnabled:           p.boolean("TLS_ENABLED", false),
		TLSCertFile:          p.str("TLS_CERT_FILE", ""),
		TLSKeyFile:           p.str("TLS_KEY_FILE", ""),
		TLSClientCAFile:      p.str("TLS_CLIENT_CA_FILE", ""),
		TLSRequireClientCert: p.boolean("TLS_REQUIRE_CLIENT_CERT", false),

		JWTSecret:     p.str("JWT_SECRET", ""),
		JWTKeys:       p.str("JWT_KEYS", ""),
		JWTActiveKID:  p.str("JWT_ACTIVE_KID", ""),
		JWTKeysetFile: p.str("JWT_KEYSET_FILE", ""),

		DatabaseURL:     p.str("DATABASE_URL", ""),
		DBMaxOpenConns:  p.integer("DB_MAX_OPEN_CONNS", 20),
		DBMaxIdleConns:  p.integer("DB_MAX_IDLE_CONNS", 10),
		DBConnMaxLife:   p.duration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		DBApplySchema:   p.boolean("DB_APPLY_SCHEMA", false),
		AuditToDatabase: p.boolean("AUDIT_TO_DATABASE", true),

		RedisAddr:     p.str("REDIS_ADDR", ""),
		RedisPassword: p.str("REDIS_PASSWORD", ""),
		RedisDB:       p.integer("REDIS_DB", 0),
		CachePrefix:   p.str("CACHE_PREFIX", "wallet"),
		CacheTTL:      p.duration("CACHE_TTL", 30*time.Second),

		Bus:              strings.ToLower(p.str("BUS", "memory")),
		KafkaBrokers:     p.list("KAFKA_BROKERS", ""),
		KafkaTopicPrefix: p.str("KAFKA_TOPIC_PREFIX", "wallet."),
		KafkaGroupID:     p.str("KAFKA_GROUP_ID", "walletd"),
		InboxTopics:      p.list("INBOX_TOPICS", ""),
		RedisChannel:     p.str("REDIS_CHANNEL_PREFIX", "wallet."),

		OutboxBatchSize:        p.integer("OUTBOX_BATCH_SIZE", 100),
		OutboxInterval:         p.duration("OUTBOX_INTERVAL", time.Second),
		OutboxLease:            p.duration("OUTBOX_LEASE", 30*time.Second),
		OutboxAlertAfter:       p.integer("OUTBOX_ALERT_AFTER", 10),
		OutboxRetention:        p.duration("OUTBOX_RETENTION", 7*24*time.Hour),
		OutboxCleanupInterval:  p.duration("OUTBOX_CLEANUP_INTERVAL", time.Hour),
		InboxMaxAttempts:       p.integer("INBOX_MAX_ATTEMPTS", 10),
		InboxSweepInterval:     p.duration("INBOX_SWEEP_INTERVAL", 30*time.Second),
		ReconcileBatchSize:     p.integer("RECONCILE_BATCH_SIZE", 50),
		ReconcileInterval:      p.duration("RECONCILE_INTERVAL", 10*time.Second),
		ReconcileLease:         p.duration("RECONCILE_LEASE", time.Minute),
		ReconcilePollDelay:     p.duration("RECONCILE_POLL_DELAY", 30*time.Second),
		DefaultConfirmations:   p.integer("DEFAULT_CONFIRMATIONS", 1),
		Confirmations:          p.intMap("CONFIRMATIONS", ""),
		ProviderDecimals:       int32(p.integer("PROVIDER_DECIMALS", 6)),
		CommandMaxAttempts:     p.integer("COMMAND_MAX_ATTEMPTS", 5),
		CommandRetryDelay:      p.duration("COMMAND_RETRY_DELAY", 10*time.Millisecond),
		ReadinessCheckTimeout:  p.duration("READINESS_TIMEOUT", 2*time.Second),
		EnableAdminPublishHook: p.boolean("ADMIN_PUBLISH_HOOK", true),
	}
	switch c.Bus {
	case "memory", "redis":
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			p.errs = append(p.errs, errors.New(prefix+"KAFKA_BROKERS is required with the kafka bus"))
		}
	default:
		p.errs = append(p.errs, fmt.Errorf("%sBUS: unknown bus %q", prefix, c.Bus))
	}
	if c.Bus == "redis" && c.RedisAddr == "" {
		p.errs = append(p.errs, errors.New(prefix+"REDIS_ADDR is required with the redis bus"))
	}
	if err := errors.Join(p.errs...); err != nil {
		return Config{}, err
	}
	return c, nil
}

type parser struct {
	errs []error
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(prefix + key))
	if v == "" {
		return def
	}
	return v
}

func (p *parser) str(key, def string) string { return envOr(key, def) }

func (p *parser) integer(key string, def int) int {
	raw := envOr(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s%s: %w", prefix, key, err))
		return def
	}
	return n
}

func (p *parser) boolean(key string, def bool) bool {
	raw := envOr(key, "")
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s%s: %w", prefix, key, err))
		return def
	}
	return b
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw := envOr(key, "")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s%s: %w", prefix, key, err))
		return def
	}
	return d
}

func (p *parser) list(key, def string) []string {
	var out []string
	for _, part := range strings.Split(envOr(key, def), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// intMap parses "NAME:n,NAME:n"; names are upper-cased.
func (p *parser) intMap(key, def string) map[string]int {
	out := map[string]int{}
	for _, part := range p.list(key, def) {
		name, raw, ok := strings.Cut(part, ":")
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if !ok || err != nil || strings.TrimSpace(name) == "" {
			p.errs = append(p.errs, fmt.Errorf("%s%s: malformed entry %q", prefix, key, part))
			continue
		}
		out[strings.ToUpper(strings.TrimSpace(name))] = n
	}
	return out
}
