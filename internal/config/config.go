// Package config loads service configuration from the environment and the
// library policy file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config is the root service configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
	VNPay     VNPayConfig
	Assistant AssistantConfig
	Covers    CoversConfig
	Jobs      JobsConfig
	Audit     AuditConfig

	PolicyFile string `env:"LIBRARY_POLICY_FILE,default=config/library.yaml"`

	// Policy is loaded from PolicyFile after the environment is decoded.
	Policy *Policy
}

type ServerConfig struct {
	Addr            string        `env:"LIBRARY_HTTP_ADDR,default=:8081"`
	ReadTimeout     time.Duration `env:"LIBRARY_HTTP_READ_TIMEOUT,default=15s"`
	WriteTimeout    time.Duration `env:"LIBRARY_HTTP_WRITE_TIMEOUT,default=30s"`
	ShutdownTimeout time.Duration `env:"LIBRARY_SHUTDOWN_TIMEOUT,default=10s"`
	CORSOrigins     string        `env:"LIBRARY_CORS_ORIGINS,default=http://localhost:4200"`
	// TrustedProxies lists CIDRs or addresses allowed to set X-Forwarded-For.
	TrustedProxies string `env:"LIBRARY_TRUSTED_PROXIES"`
}

// AllowedOrigins splits the comma separated origin list.
func (c ServerConfig) AllowedOrigins() []string {
	return splitList(c.CORSOrigins)
}

// TrustedProxyList splits the comma separated proxy list.
func (c ServerConfig) TrustedProxyList() []string {
	return splitList(c.TrustedProxies)
}

type DatabaseConfig struct {
	Driver          string `env:"LIBRARY_DATABASE_DRIVER,default=postgres"`
	DSN             string `env:"LIBRARY_DATABASE_DSN"`
	MaxOpenConns    int    `env:"LIBRARY_DATABASE_MAX_OPEN,default=20"`
	MaxIdleConns    int    `env:"LIBRARY_DATABASE_MAX_IDLE,default=5"`
	ConnMaxLifetime int    `env:"LIBRARY_DATABASE_CONN_LIFETIME_SECONDS,default=300"`
	AutoMigrate     bool   `env:"LIBRARY_DATABASE_AUTO_MIGRATE,default=true"`
}

type RedisConfig struct {
	URL string        `env:"LIBRARY_REDIS_URL"`
	TTL time.Duration `env:"LIBRARY_CACHE_TTL,default=5m"`
}

type AuthConfig struct {
	JWTSecret     string        `env:"LIBRARY_JWT_SECRET,default=change-me-in-production"`
	TokenTTL      time.Duration `env:"LIBRARY_JWT_TTL,default=24h"`
	Issuer        string        `env:"LIBRARY_JWT_ISSUER,default=library-service"`
	AdminEmail    string        `env:"LIBRARY_ADMIN_EMAIL"`
	AdminPassword string        `env:"LIBRARY_ADMIN_PASSWORD"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `env:"LIBRARY_RATE_LIMIT_RPS,default=20"`
	Burst             int `env:"LIBRARY_RATE_LIMIT_BURST,default=40"`
}

type LoggingConfig struct {
	Level      string `env:"LOG_LEVEL,default=info"`
	Format     string `env:"LOG_FORMAT,default=text"`
	Output     string `env:"LOG_OUTPUT,default=stdout"`
	FilePrefix string `env:"LOG_FILE_PREFIX,default=logs/library"`
}

type VNPayConfig struct {
	TmnCode            string        `env:"VNPAY_TMN_CODE"`
	HashSecret         string        `env:"VNPAY_HASH_SECRET"`
	PayURL             string        `env:"VNPAY_PAY_URL,default=https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"`
	APIURL             string        `env:"VNPAY_API_URL,default=https://sandbox.vnpayment.vn/merchant_webapi/api/transaction"`
	ReturnURL          string        `env:"VNPAY_RETURN_URL,default=http://localhost:4200/payment/vnpay-return"`
	ExpireAfter        time.Duration `env:"VNPAY_EXPIRE_AFTER,default=15m"`
	SettlementInterval time.Duration `env:"VNPAY_SETTLEMENT_INTERVAL,default=1m"`
	QueryEnabled       bool          `env:"VNPAY_QUERY_ENABLED,default=false"`
}

// Enabled reports whether the merchant credentials are present.
func (c VNPayConfig) Enabled() bool {
	return strings.TrimSpace(c.TmnCode) != "" && strings.TrimSpace(c.HashSecret) != ""
}

type AssistantConfig struct {
	Endpoint     string        `env:"ASSISTANT_ENDPOINT,default=https://generativelanguage.googleapis.com/v1beta"`
	APIKey       string        `env:"ASSISTANT_API_KEY"`
	Model        string        `env:"ASSISTANT_MODEL,default=gemini-1.5-flash"`
	ResponsePath string        `env:"ASSISTANT_RESPONSE_PATH,default=$.candidates[0].content.parts[0].text"`
	Timeout      time.Duration `env:"ASSISTANT_TIMEOUT,default=30s"`
}

type CoversConfig struct {
	Dir            string `env:"COVERS_DIR,default=uploads"`
	PublicPrefix   string `env:"COVERS_PUBLIC_PREFIX,default=/uploads"`
	MaxBytes       int64  `env:"COVERS_MAX_BYTES,default=5242880"`
	MinioEndpoint  string `env:"MINIO_ENDPOINT"`
	MinioAccessKey string `env:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `env:"MINIO_SECRET_KEY"`
	MinioBucket    string `env:"MINIO_BUCKET,default=library-covers"`
	MinioUseSSL    bool   `env:"MINIO_USE_SSL,default=false"`
	MinioPublicURL string `env:"MINIO_PUBLIC_URL"`
}

type JobsConfig struct {
	OverdueSweep  string `env:"JOBS_OVERDUE_SWEEP,default=@every 1h"`
	PaymentExpiry string `env:"JOBS_PAYMENT_EXPIRY,default=@every 5m"`
}

type AuditConfig struct {
	Path string `env:"AUDIT_LOG_PATH"`
	Size int    `env:"AUDIT_LOG_SIZE,default=500"`
}

// Load reads an optional .env file, decodes the environment and loads the
// policy file. A missing policy file falls back to DefaultPolicy.
func Load() (*Config, error) {
	if path := os.Getenv("LIBRARY_ENV_FILE"); path != "" {
		if err := godotenv.Load(path); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", path, err)
		}
	} else {
		_ = godotenv.Load()
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	policy, err := LoadPolicyFromPath(cfg.PolicyFile)
	switch {
	case err == nil:
		cfg.Policy = policy
	case errors.Is(err, os.ErrNotExist):
		cfg.Policy = DefaultPolicy()
	default:
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("LIBRARY_JWT_SECRET is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("LIBRARY_JWT_TTL must be positive")
	}
	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate limit values must be positive")
	}
	if c.Policy == nil {
		c.Policy = DefaultPolicy()
	}
	return c.Policy.Validate()
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
