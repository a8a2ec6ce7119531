package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"
)

// Config holds application configuration loaded from the environment. It is
// immutable after Load and passed explicitly into every entry point.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	PublicBaseURL      string
	CORSAllowedOrigins []string

	GatewayTitle       string
	GatewayDescription string

	KorapayBaseURL       string
	KorapayLiveMode      bool
	KorapayLivePublicKey string
	KorapayLiveSecretKey string
	KorapayTestPublicKey string
	KorapayTestSecretKey string

	SettlementCurrency string
	AllowedCurrencies  []string
	ExchangeRate       decimal.Decimal
	CheckoutReturnURL  string

	ChargeTimeout     time.Duration
	ChargeMaxAttempts int
	ChargeBackoff     time.Duration

	RequireSignature bool
	WebhookReplayTTL time.Duration
	ReconcileLockTTL time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		PublicBaseURL:      strings.TrimRight(strings.TrimSpace(k.String("PUBLIC_BASE_URL")), "/"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		GatewayTitle:       valueOrDefault(k.String("GATEWAY_TITLE"), "Korapay"),
		GatewayDescription: valueOrDefault(k.String("GATEWAY_DESCRIPTION"), "Accept payments via Korapay."),

		KorapayBaseURL:       valueOrDefault(k.String("KORAPAY_BASE_URL"), "https://api.korapay.com"),
		KorapayLiveMode:      parseBool(k.String("KORAPAY_LIVE_MODE"), false),
		KorapayLivePublicKey: strings.TrimSpace(k.String("KORAPAY_LIVE_PUBLIC_KEY")),
		KorapayLiveSecretKey: strings.TrimSpace(k.String("KORAPAY_LIVE_SECRET_KEY")),
		KorapayTestPublicKey: strings.TrimSpace(k.String("KORAPAY_TEST_PUBLIC_KEY")),
		KorapayTestSecretKey: strings.TrimSpace(k.String("KORAPAY_TEST_SECRET_KEY")),

		SettlementCurrency: strings.ToUpper(valueOrDefault(k.String("SETTLEMENT_CURRENCY"), "NGN")),
		AllowedCurrencies:  upperAll(splitAndTrimDefault(k.String("ALLOWED_CURRENCIES"), "NGN,GHS,KES")),
		ExchangeRate:       parseDecimal(k.String("EXCHANGE_RATE"), decimal.NewFromInt(1)),
		CheckoutReturnURL:  strings.TrimSpace(k.String("CHECKOUT_RETURN_URL")),

		ChargeTimeout:     parseDuration(k.String("CHARGE_TIMEOUT"), "90s"),
		ChargeMaxAttempts: parseInt(k.String("CHARGE_MAX_ATTEMPTS"), 1),
		ChargeBackoff:     parseDuration(k.String("CHARGE_BACKOFF"), "200ms"),

		RequireSignature: parseBool(k.String("KORAPAY_REQUIRE_SIGNATURE"), true),
		WebhookReplayTTL: parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),
		ReconcileLockTTL: parseDuration(k.String("RECONCILE_LOCK_TTL"), "30s"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.PublicBaseURL == "" {
		return nil, errors.New("PUBLIC_BASE_URL is required")
	}
	if cfg.SecretKey() == "" {
		if cfg.KorapayLiveMode {
			return nil, errors.New("KORAPAY_LIVE_SECRET_KEY is required in live mode")
		}
		return nil, errors.New("KORAPAY_TEST_SECRET_KEY is required in test mode")
	}
	if !cfg.ExchangeRate.IsPositive() {
		return nil, errors.New("EXCHANGE_RATE must be positive")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// SecretKey returns the Korapay secret key for the active mode.
func (c *Config) SecretKey() string {
	if c.KorapayLiveMode {
		return c.KorapayLiveSecretKey
	}
	return c.KorapayTestSecretKey
}

// PublicKey returns the Korapay public key for the active mode.
func (c *Config) PublicKey() string {
	if c.KorapayLiveMode {
		return c.KorapayLivePublicKey
	}
	return c.KorapayTestPublicKey
}

// WebhookURL derives the notification endpoint Korapay should call back.
func (c *Config) WebhookURL() string {
	return c.PublicBaseURL + "/api/v1/webhooks/korapay"
}

// ReturnURL is where the shopper's browser lands after paying.
func (c *Config) ReturnURL() string {
	if c.CheckoutReturnURL != "" {
		return c.CheckoutReturnURL
	}
	return c.PublicBaseURL + "/checkout/return"
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func splitAndTrimDefault(value, fallback string) []string {
	if strings.TrimSpace(value) == "" {
		value = fallback
	}
	return splitAndTrim(value)
}

func upperAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToUpper(v)
	}
	return out
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	var parsed int
	if _, err := fmt.Sscanf(trimmed, "%d", &parsed); err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseDecimal(value string, fallback decimal.Decimal) decimal.Decimal {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return fallback
	}
	return d
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
