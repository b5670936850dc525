// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// maxSSOTTL caps the SSO token lifetime; tokens cannot be revoked, so expiry is the only control.
const maxSSOTTL = time.Hour

// Config holds application configuration loaded from the environment.
type Config struct {
	// GRPCAddr is the address the gRPC server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// MetricsAddr is the side listener for /metrics and /healthz (e.g. :9090). Empty disables it.
	MetricsAddr string `mapstructure:"METRICS_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is a logrus level name (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogFormat is "json" or "text".
	LogFormat string `mapstructure:"LOG_FORMAT"`

	// LMSBaseURL is the external platform root (e.g. https://lms.example.com).
	LMSBaseURL string `mapstructure:"LMS_BASE_URL"`
	// LMSToken is the web-service token sent as wstoken. Never logged.
	LMSToken string `mapstructure:"LMS_WS_TOKEN"`
	// LMSTimeout is the per-request timeout for external calls (e.g. "15s").
	LMSTimeout string `mapstructure:"LMS_TIMEOUT"`
	// LMSSSOURL is the external login endpoint that accepts the SSO token. Defaults to {LMS_BASE_URL}/auth/jwt/login.php.
	LMSSSOURL string `mapstructure:"LMS_SSO_URL"`

	// SSOSharedSecret is the HMAC secret shared with the external verifier.
	SSOSharedSecret string `mapstructure:"SSO_SHARED_SECRET"`
	// SSOTTL is the SSO token lifetime (default 1h, capped at 1h).
	SSOTTL string `mapstructure:"SSO_TTL"`
	// SSOTokenParam is the query parameter carrying the token (default "token").
	SSOTokenParam string `mapstructure:"SSO_TOKEN_PARAM"`
	// SSORedirectParam is the query parameter carrying the post-login target (default "wantsurl").
	SSORedirectParam string `mapstructure:"SSO_REDIRECT_PARAM"`

	// ExternalPasswordPrefix and ExternalPasswordSuffix wrap the email local part to form the
	// reproducible external password. Predictable by construction: anyone who knows both and a
	// user's email can log in to the shadow account directly.
	ExternalPasswordPrefix string `mapstructure:"EXTERNAL_PASSWORD_PREFIX"`
	ExternalPasswordSuffix string `mapstructure:"EXTERNAL_PASSWORD_SUFFIX"`
	// ExternalAuthMethod is the auth plugin set on created external accounts (e.g. "manual").
	ExternalAuthMethod string `mapstructure:"EXTERNAL_AUTH_METHOD"`

	// SecretRecipient is the age public key (age1...) used to seal external passwords.
	SecretRecipient string `mapstructure:"SECRET_RECIPIENT"`
	// SecretIdentity is the age private key (AGE-SECRET-KEY-1...) or path; only diagnostic tooling sets it.
	SecretIdentity string `mapstructure:"SECRET_IDENTITY"`

	// SyncWorkers bounds concurrent course upserts in a sync run.
	SyncWorkers int `mapstructure:"SYNC_WORKERS"`
	// DefaultCurrency is applied to newly created courses.
	DefaultCurrency string `mapstructure:"DEFAULT_CURRENCY"`

	// JWTPublicKey is the PEM-encoded public key or path used to verify inbound access tokens.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTPrivateKey is only used by the seed tool to issue development access tokens.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTIssuer is the expected iss claim on inbound access tokens.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the expected aud claim on inbound access tokens.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses. Empty disables Kafka events.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// EventsKafkaTopic is the topic for bridge events.
	EventsKafkaTopic string `mapstructure:"EVENTS_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group for the event worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// LokiURL is where the worker pushes events (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint. Empty installs no-op providers.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext to the collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("METRICS_ADDR", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("LMS_BASE_URL", "")
	v.SetDefault("LMS_WS_TOKEN", "")
	v.SetDefault("LMS_TIMEOUT", "15s")
	v.SetDefault("LMS_SSO_URL", "")
	v.SetDefault("SSO_SHARED_SECRET", "")
	v.SetDefault("SSO_TTL", "1h")
	v.SetDefault("SSO_TOKEN_PARAM", "token")
	v.SetDefault("SSO_REDIRECT_PARAM", "wantsurl")
	v.SetDefault("EXTERNAL_PASSWORD_PREFIX", "Lms#")
	v.SetDefault("EXTERNAL_PASSWORD_SUFFIX", "!2024")
	v.SetDefault("EXTERNAL_AUTH_METHOD", "manual")
	v.SetDefault("SECRET_RECIPIENT", "")
	v.SetDefault("SECRET_IDENTITY", "")
	v.SetDefault("SYNC_WORKERS", 4)
	v.SetDefault("DEFAULT_CURRENCY", "USD")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_ISSUER", "lms-bridge-app")
	v.SetDefault("JWT_AUDIENCE", "lms-bridge")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("EVENTS_KAFKA_TOPIC", "lms-bridge-events")
	v.SetDefault("KAFKA_GROUP_ID", "lms-bridge-event-worker")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.GRPCAddr == "" {
		return nil, errors.New("config: GRPC_ADDR must be set")
	}
	if cfg.LMSBaseURL != "" {
		u, err := url.Parse(cfg.LMSBaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, errors.New("config: LMS_BASE_URL must be an absolute URL")
		}
		if cfg.Env == "production" && u.Scheme != "https" {
			return nil, errors.New("config: LMS_BASE_URL must use https when APP_ENV=production")
		}
	}
	if cfg.SyncWorkers <= 0 {
		cfg.SyncWorkers = 4
	}
	if cfg.SSOTTLDuration() > maxSSOTTL {
		return nil, errors.New("config: SSO_TTL must not exceed 1h")
	}
	if cfg.ExternalPasswordPrefix == "" && cfg.ExternalPasswordSuffix == "" {
		return nil, errors.New("config: EXTERNAL_PASSWORD_PREFIX or EXTERNAL_PASSWORD_SUFFIX must be set")
	}

	return &cfg, nil
}

// LMSTimeoutDuration parses LMSTimeout. Returns 15s if unset or invalid.
func (c *Config) LMSTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.LMSTimeout)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

// SSOTTLDuration parses SSOTTL. Returns 1h if unset or invalid.
func (c *Config) SSOTTLDuration() time.Duration {
	d, err := time.ParseDuration(c.SSOTTL)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// SSOURL returns the configured SSO login endpoint, defaulting to the JWT login page under LMSBaseURL.
func (c *Config) SSOURL() string {
	if c.LMSSSOURL != "" {
		return c.LMSSSOURL
	}
	if c.LMSBaseURL == "" {
		return ""
	}
	return strings.TrimSuffix(c.LMSBaseURL, "/") + "/auth/jwt/login.php"
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if Kafka events are enabled (non-empty list) and to create the producer.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
