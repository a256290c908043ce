// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// EnvProduction is the APP_ENV value that disables development fallbacks.
const EnvProduction = "production"

// Config holds application configuration loaded from the environment.
type Config struct {
	// GRPCAddr is the address the gRPC server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL is the Redis URL for one-time codes (e.g. redis://localhost:6379/0). Empty selects an
	// in-process store, which is refused in production.
	RedisURL string `mapstructure:"REDIS_URL"`
	// RedisPrefix namespaces every key written to Redis.
	RedisPrefix string `mapstructure:"REDIS_PREFIX"`

	// JWTAccessPrivateKey and JWTAccessPublicKey sign and verify access tokens (PEM or path; RSA or ECDSA).
	JWTAccessPrivateKey string `mapstructure:"JWT_ACCESS_PRIVATE_KEY"`
	JWTAccessPublicKey  string `mapstructure:"JWT_ACCESS_PUBLIC_KEY"`
	// JWTRefreshPrivateKey and JWTRefreshPublicKey sign and verify refresh tokens. They must differ from the access keys.
	JWTRefreshPrivateKey string `mapstructure:"JWT_REFRESH_PRIVATE_KEY"`
	JWTRefreshPublicKey  string `mapstructure:"JWT_REFRESH_PUBLIC_KEY"`
	// JWTIssuer is the iss claim.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "168h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// OTPTTLRaw is the one-time code lifetime (default 10m).
	OTPTTLRaw string `mapstructure:"OTP_TTL"`
	// OTPVerifiedTTLRaw is how long a verified signup/2FA marker stays redeemable (default 10m).
	OTPVerifiedTTLRaw string `mapstructure:"OTP_VERIFIED_TTL"`
	// OTPMaxAttempts is how many wrong guesses burn a live code (default 5).
	OTPMaxAttempts int `mapstructure:"OTP_MAX_ATTEMPTS"`
	// LoginMaxAttempts is the failed-login budget per identifier (default 5).
	LoginMaxAttempts int `mapstructure:"LOGIN_MAX_ATTEMPTS"`
	// LoginMaxIPAttempts is the failed-login budget per client IP (default 20).
	LoginMaxIPAttempts int `mapstructure:"LOGIN_MAX_IP_ATTEMPTS"`
	// LoginWindowRaw is the failed-login counting window (default 15m).
	LoginWindowRaw string `mapstructure:"LOGIN_WINDOW"`
	// ReuseResponse is revoke_all (default) or revoke_lineage.
	ReuseResponse string `mapstructure:"REUSE_RESPONSE"`

	// MailRelayURL is the HTTP mail relay endpoint. Empty logs messages to the console instead,
	// which is refused in production.
	MailRelayURL string `mapstructure:"MAIL_RELAY_URL"`
	// MailRelayAPIKey is sent as a Bearer token to the relay.
	MailRelayAPIKey string `mapstructure:"MAIL_RELAY_API_KEY"`
	// MailFrom is the sender address.
	MailFrom string `mapstructure:"MAIL_FROM"`

	// AccountPolicyFile optionally overrides the embedded account-usability Rego policy.
	AccountPolicyFile string `mapstructure:"ACCOUNT_POLICY_FILE"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogFormat is json or text.
	LogFormat string `mapstructure:"LOG_FORMAT"`

	// OTLPEndpoint is the OTLP gRPC endpoint (e.g. localhost:4317). Empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure disables TLS to the collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// OTelServiceName is the service.name resource attribute.
	OTelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_PREFIX", "authcore")
	v.SetDefault("JWT_ACCESS_PRIVATE_KEY", "")
	v.SetDefault("JWT_ACCESS_PUBLIC_KEY", "")
	v.SetDefault("JWT_REFRESH_PRIVATE_KEY", "")
	v.SetDefault("JWT_REFRESH_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "authcore")
	v.SetDefault("JWT_AUDIENCE", "authcore-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("OTP_TTL", "10m")
	v.SetDefault("OTP_VERIFIED_TTL", "10m")
	v.SetDefault("OTP_MAX_ATTEMPTS", 5)
	v.SetDefault("LOGIN_MAX_ATTEMPTS", 5)
	v.SetDefault("LOGIN_MAX_IP_ATTEMPTS", 20)
	v.SetDefault("LOGIN_WINDOW", "15m")
	v.SetDefault("REUSE_RESPONSE", "revoke_all")
	v.SetDefault("MAIL_RELAY_URL", "")
	v.SetDefault("MAIL_RELAY_API_KEY", "")
	v.SetDefault("MAIL_FROM", "no-reply@authcore.local")
	v.SetDefault("ACCOUNT_POLICY_FILE", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "authcore")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.GRPCAddr == "" {
		return errors.New("config: GRPC_ADDR must be set")
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	switch c.ReuseResponse {
	case "", "revoke_all", "revoke_lineage":
	default:
		return fmt.Errorf("config: REUSE_RESPONSE must be revoke_all or revoke_lineage, got %q", c.ReuseResponse)
	}
	switch c.LogFormat {
	case "", "json", "text":
	default:
		return fmt.Errorf("config: LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	if c.JWTAccessPrivateKey != "" && c.JWTAccessPrivateKey == c.JWTRefreshPrivateKey {
		return errors.New("config: JWT_ACCESS_PRIVATE_KEY and JWT_REFRESH_PRIVATE_KEY must differ")
	}
	if c.IsProduction() {
		if c.RedisURL == "" {
			return errors.New("config: REDIS_URL must be set when APP_ENV=production")
		}
		if c.MailRelayURL == "" {
			return errors.New("config: MAIL_RELAY_URL must be set when APP_ENV=production")
		}
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// AuthEnabled reports whether all four JWT key settings are present.
func (c *Config) AuthEnabled() bool {
	return c.JWTAccessPrivateKey != "" && c.JWTAccessPublicKey != "" &&
		c.JWTRefreshPrivateKey != "" && c.JWTRefreshPublicKey != ""
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDuration(c.JWTAccessTTL, 15*time.Minute)
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return parseDuration(c.JWTRefreshTTL, 168*time.Hour)
}

// OTPTTL parses OTPTTLRaw. Returns 10m if unset or invalid.
func (c *Config) OTPTTL() time.Duration {
	return parseDuration(c.OTPTTLRaw, 10*time.Minute)
}

// OTPVerifiedTTL parses OTPVerifiedTTLRaw. Returns 10m if unset or invalid.
func (c *Config) OTPVerifiedTTL() time.Duration {
	return parseDuration(c.OTPVerifiedTTLRaw, 10*time.Minute)
}

// LoginWindow parses LoginWindowRaw. Returns 15m if unset or invalid.
func (c *Config) LoginWindow() time.Duration {
	return parseDuration(c.LoginWindowRaw, 15*time.Minute)
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
