// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config groups every setting the API process needs.
type Config struct {
	HTTPAddr  string
	GRPCAddr  string
	PGDSN     string
	RedisAddr string
	// AutoMigrate applies embedded migrations on startup when a DSN is set.
	AutoMigrate bool

	Auth        AuthConfig
	MercadoPago MercadoPagoConfig
	Webhooks    WebhookConfig
	HTTP        HTTPConfig
	Recovery    RecoveryConfig
	Admin       AdminConfig
}

type AuthConfig struct {
	Secret   string
	Issuer   string
	TokenTTL time.Duration
}

type MercadoPagoConfig struct {
	AccessToken string
	PublicKey   string
	BaseURL     string
	Timeout     time.Duration
}

// WebhookConfig holds the automation endpoints notified out of band.
// An empty URL disables that notification.
type WebhookConfig struct {
	PaymentConfirmed string
	PaymentExpired   string
	RecoveryCode     string
	Timeout          time.Duration
	DedupTTL         time.Duration
}

type HTTPConfig struct {
	AllowedOrigins []string
	RateBurst      int
	RatePerSec     int
	MaxBodyBytes   int64
	// TrustedProxies are the peers whose X-Forwarded-For header is honoured.
	TrustedProxies []netip.Prefix
}

// AdminConfig seeds the first admin account. Both fields empty disables it.
type AdminConfig struct {
	Email    string
	Password string
}

type RecoveryConfig struct {
	CodeTTL     time.Duration
	MaxAttempts int
}

// Load reads the configuration from environment variables, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:    getEnv("SECSCAN_HTTP_ADDR", ":8080"),
		GRPCAddr:    getEnv("SECSCAN_GRPC_ADDR", ":9090"),
		PGDSN:       getEnv("SECSCAN_PG_DSN", ""),
		RedisAddr:   getEnv("SECSCAN_REDIS_ADDR", ""),
		AutoMigrate: getEnvAsBool("SECSCAN_AUTO_MIGRATE", false),
		Auth: AuthConfig{
			Secret:   getEnv("SECSCAN_AUTH_SECRET", ""),
			Issuer:   getEnv("SECSCAN_AUTH_ISSUER", "secscan"),
			TokenTTL: getEnvAsDuration("SECSCAN_TOKEN_TTL", 12*time.Hour),
		},
		MercadoPago: MercadoPagoConfig{
			AccessToken: getEnv("MERCADO_PAGO_ACCESS_TOKEN", ""),
			PublicKey:   getEnv("MERCADO_PAGO_PUBLIC_KEY", ""),
			BaseURL:     getEnv("MERCADO_PAGO_BASE_URL", "https://api.mercadopago.com"),
			Timeout:     getEnvAsDuration("MERCADO_PAGO_TIMEOUT", 10*time.Second),
		},
		Webhooks: WebhookConfig{
			PaymentConfirmed: getEnv("SECSCAN_WEBHOOK_PAYMENT_CONFIRMED", ""),
			PaymentExpired:   getEnv("SECSCAN_WEBHOOK_PAYMENT_EXPIRED", ""),
			RecoveryCode:     getEnv("SECSCAN_WEBHOOK_RECOVERY_CODE", ""),
			Timeout:          getEnvAsDuration("SECSCAN_WEBHOOK_TIMEOUT", 5*time.Second),
			DedupTTL:         getEnvAsDuration("SECSCAN_WEBHOOK_DEDUP_TTL", 72*time.Hour),
		},
		HTTP: HTTPConfig{
			AllowedOrigins: getEnvAsSlice("SECSCAN_ALLOWED_ORIGINS", nil),
			RateBurst:      getEnvAsInt("SECSCAN_RATE_BURST", 20),
			RatePerSec:     getEnvAsInt("SECSCAN_RATE_PER_SEC", 10),
			MaxBodyBytes:   int64(getEnvAsInt("SECSCAN_MAX_BODY_BYTES", 1<<20)),
		},
		Recovery: RecoveryConfig{
			CodeTTL:     getEnvAsDuration("SECSCAN_RECOVERY_CODE_TTL", 15*time.Minute),
			MaxAttempts: getEnvAsInt("SECSCAN_RECOVERY_MAX_ATTEMPTS", 5),
		},
		Admin: AdminConfig{
			Email:    getEnv("SECSCAN_ADMIN_EMAIL", ""),
			Password: getEnv("SECSCAN_ADMIN_PASSWORD", ""),
		},
	}
	proxies, err := parsePrefixes(getEnvAsSlice("SECSCAN_TRUSTED_PROXIES", nil))
	if err != nil {
		return nil, err
	}
	cfg.HTTP.TrustedProxies = proxies
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parsePrefixes accepts CIDR blocks and bare addresses.
func parsePrefixes(raw []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(raw))
	for _, v := range raw {
		if p, err := netip.ParsePrefix(v); err == nil {
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, fmt.Errorf("config: SECSCAN_TRUSTED_PROXIES: invalid entry %q", v)
		}
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

func (c *Config) validate() error {
	if c.HTTP.RateBurst <= 0 || c.HTTP.RatePerSec <= 0 {
		return errors.New("config: rate limit values must be positive")
	}
	if c.Recovery.MaxAttempts <= 0 {
		return errors.New("config: SECSCAN_RECOVERY_MAX_ATTEMPTS must be positive")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("config: SECSCAN_TOKEN_TTL must be positive")
	}
	if (c.Admin.Email == "") != (c.Admin.Password == "") {
		return errors.New("config: SECSCAN_ADMIN_EMAIL and SECSCAN_ADMIN_PASSWORD must be set together")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
