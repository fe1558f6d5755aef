package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName         = "SovraLedger"
	defaultAppEnv          = "development"
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultLogFormat       = "json"
	defaultShutdownDelay   = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultRateCacheTTL    = 5 * time.Minute
	defaultNATSPrefix      = "sovra.ledger"
	defaultFeePartyA       = int64(1_000_000)
	defaultFeePartyB       = int64(10_000_000)
	defaultInvoiceDueDays  = 15
	defaultRateLimit       = 30
	defaultFiatRates       = "USD=1000000,EUR=1080000,NGN=650"
	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	LogFormat      string
	DatabaseURL    string
	RedisURL       string
	NATSURL        string
	NATSPrefix     string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	// Pricing defaults; PricingFile, when set, overrides them.
	FeePartyA   int64
	FeePartyB   int64
	PricingFile string

	// SettlementCompensate reverses earlier payer debits when a later payer fails.
	SettlementCompensate bool
	InvoiceDueDays       int

	// FiatRates maps ISO currency codes to ledger units per one fiat unit.
	FiatRates          map[string]string
	RateCacheTTL       time.Duration
	RateLimitPerMinute int
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:              getEnv("APP_NAME", defaultAppName),
		AppEnv:               getEnv("APP_ENV", defaultAppEnv),
		Port:                 getEnv("PORT", defaultPort),
		LogLevel:             strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		LogFormat:            strings.ToLower(getEnv("LOG_FORMAT", defaultLogFormat)),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisURL:             os.Getenv("REDIS_URL"),
		NATSURL:              os.Getenv("NATS_URL"),
		NATSPrefix:           getEnv("NATS_SUBJECT_PREFIX", defaultNATSPrefix),
		ShutdownPeriod:       defaultShutdownDelay,
		IdempotencyTTL:       defaultIdempotencyTTL,
		PricingFile:          os.Getenv("PRICING_FILE"),
		SettlementCompensate: true,
	}

	var err error
	if cfg.ShutdownPeriod, err = getDuration(shutdownSecondsEnvVar, shutdownDurationEnvVar, defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = getDuration(idemTTLSecondsEnvVar, idemTTLDurEnvVar, defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.RateCacheTTL, err = getDuration("RATE_CACHE_TTL_SECONDS", "RATE_CACHE_TTL", defaultRateCacheTTL); err != nil {
		return Config{}, err
	}
	if cfg.FeePartyA, err = getInt64("FEE_PARTY_A", defaultFeePartyA); err != nil {
		return Config{}, err
	}
	if cfg.FeePartyB, err = getInt64("FEE_PARTY_B", defaultFeePartyB); err != nil {
		return Config{}, err
	}
	dueDays, err := getInt64("INVOICE_DUE_DAYS", defaultInvoiceDueDays)
	if err != nil {
		return Config{}, err
	}
	cfg.InvoiceDueDays = int(dueDays)
	limit, err := getInt64("RATE_LIMIT_PER_MINUTE", defaultRateLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.RateLimitPerMinute = int(limit)

	if v := os.Getenv("SETTLEMENT_COMPENSATE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SETTLEMENT_COMPENSATE: %w", err)
		}
		cfg.SettlementCompensate = b
	}

	if cfg.FiatRates, err = parsePairs(getEnv("FIAT_RATES", defaultFiatRates)); err != nil {
		return Config{}, fmt.Errorf("invalid FIAT_RATES: %w", err)
	}

	if cfg.FeePartyA <= 0 || cfg.FeePartyB <= 0 {
		return Config{}, fmt.Errorf("FEE_PARTY_A and FEE_PARTY_B must be positive")
	}

	if !cfg.IsDevelopment() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDevelopment reports whether in-memory backends are acceptable.
func (c Config) IsDevelopment() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(strings.ReplaceAll(v, "_", ""), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

// getDuration prefers the whole-seconds variable, then the Go duration one.
func getDuration(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(durationKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durationKey, err)
		}
		return d, nil
	}
	return fallback, nil
}

// parsePairs reads "USD=1000000,EUR=1080000" into a map keyed by upper-case code.
func parsePairs(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(key) == "" || strings.TrimSpace(value) == "" {
			return nil, fmt.Errorf("malformed pair %q", part)
		}
		out[strings.ToUpper(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}
	return out, nil
}
