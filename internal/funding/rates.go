package funding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// ErrUnsupportedCurrency is returned when no rate is known for a currency.
var ErrUnsupportedCurrency = errors.New("unsupported currency")

// Rate is the number of ledger units bought by one unit of fiat.
type Rate struct {
	Currency     string          `json:"currency"`
	UnitsPerFiat decimal.Decimal `json:"units_per_fiat"`
	AsOf         time.Time       `json:"as_of"`
}

// RateOracle quotes fiat conversion rates.
type RateOracle interface {
	Rate(ctx context.Context, currency string) (Rate, error)
}

// StaticRateOracle serves a fixed table of rates.
type StaticRateOracle struct {
	rates map[string]decimal.Decimal
	asOf  time.Time
}

// NewStaticRateOracle parses a currency → units-per-fiat table.
func NewStaticRateOracle(table map[string]string) (*StaticRateOracle, error) {
	rates := make(map[string]decimal.Decimal, len(table))
	for currency, raw := range table {
		rate, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("parse rate for %s: %w", currency, err)
		}
		if !rate.IsPositive() {
			return nil, fmt.Errorf("rate for %s must be positive, got %s", currency, rate)
		}
		rates[strings.ToUpper(currency)] = rate
	}
	return &StaticRateOracle{rates: rates, asOf: time.Now().UTC()}, nil
}

// Rate returns the configured rate.
func (o *StaticRateOracle) Rate(_ context.Context, currency string) (Rate, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	rate, ok := o.rates[currency]
	if !ok {
		return Rate{}, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, currency)
	}
	return Rate{Currency: currency, UnitsPerFiat: rate, AsOf: o.asOf}, nil
}

// CachedRateOracle memoises another oracle's quotes in Redis.
type CachedRateOracle struct {
	next   RateOracle
	cache  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedRateOracle wraps next with a Redis cache of the given TTL.
func NewCachedRateOracle(next RateOracle, cache *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedRateOracle {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedRateOracle{next: next, cache: cache, ttl: ttl, logger: logger}
}

func rateKey(currency string) string {
	return "fx:rate:" + currency
}

// Rate returns a cached quote when present, otherwise asks the wrapped oracle
// and stores its answer. Cache failures fall through to the wrapped oracle.
func (o *CachedRateOracle) Rate(ctx context.Context, currency string) (Rate, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	key := rateKey(currency)

	raw, err := o.cache.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached Rate
		if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
			return cached, nil
		}
		o.logger.Warn("discarding corrupt cached rate", "currency", currency)
	case !errors.Is(err, redis.Nil):
		o.logger.Warn("rate cache read failed", "currency", currency, "error", err)
	}

	rate, err := o.next.Rate(ctx, currency)
	if err != nil {
		return Rate{}, err
	}
	if payload, err := json.Marshal(rate); err == nil {
		if err := o.cache.Set(ctx, key, payload, o.ttl).Err(); err != nil {
			o.logger.Warn("rate cache write failed", "currency", currency, "error", err)
		}
	}
	return rate, nil
}
