// Package config loads the ledger core's runtime configuration from
// environment variables. Policy values the source material leaves open
// (overdraft, limits, fees, windows) are deliberately configuration, not
// constants.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds the application configuration.
type Config struct {
	Environment string
	// DatabaseURL selects the PostgreSQL account store; empty means the
	// in-memory store (development only).
	DatabaseURL string
	// JournalPath selects the SQLite journal file; empty means the
	// in-memory journal (development only).
	JournalPath string
	MetricsAddr string

	APIAddr      string
	MaxBodyBytes int64
	IPAllowlist  []string
	TLSCertFile  string
	TLSKeyFile   string
	TLSCAFile    string

	KafkaBrokers []string
	KafkaTopic   string

	FeeAccountID string

	RateFreshness      time.Duration
	OracleTimeout      time.Duration
	ReversalWindow     time.Duration
	IdempotencyTTL     time.Duration
	ProcessingDeadline time.Duration

	// RatePrices seeds the static pricing oracle: fiat minor units per
	// whole asset unit, from RATE_<ASSET>=<decimal> variables. Prices must
	// be strictly positive.
	RatePrices map[string]decimal.Decimal

	// Fees is the flat per-type fee schedule in fiat minor units, from
	// FEE_<TYPE>=<amount> variables (FEE_ACCOUNT names the collecting
	// account and is not a fee).
	Fees map[string]int64

	// TierLimits holds per-tier cap overrides from
	// LIMIT_<TIER>_<CAP>=<amount> variables, e.g.
	// LIMIT_BASIC_SINGLE_TRANSFER=5000000. Caps not overridden keep their
	// stock values.
	TierLimits map[string]map[string]int64
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:  os.Getenv("APP_ENV"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		JournalPath:  os.Getenv("JOURNAL_PATH"),
		MetricsAddr:  envOr("METRICS_ADDR", ":9464"),
		APIAddr:      envOr("API_ADDR", ":8080"),
		TLSCertFile:  os.Getenv("API_TLS_CERT"),
		TLSKeyFile:   os.Getenv("API_TLS_KEY"),
		TLSCAFile:    os.Getenv("API_TLS_CA"),
		KafkaTopic:   envOr("KAFKA_TOPIC", "ledger.transactions"),
		FeeAccountID: os.Getenv("FEE_ACCOUNT"),
		RatePrices:   make(map[string]decimal.Decimal),
		Fees:         make(map[string]int64),
		TierLimits:   make(map[string]map[string]int64),
	}

	if v := os.Getenv("API_MAX_BODY_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid API_MAX_BODY_BYTES: %q", v)
		}
		cfg.MaxBodyBytes = n
	} else {
		cfg.MaxBodyBytes = 1 << 20
	}

	if allow := os.Getenv("API_IP_ALLOWLIST"); allow != "" {
		cfg.IPAllowlist = strings.Split(allow, ",")
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	var err error
	if cfg.RateFreshness, err = envDuration("RATE_FRESHNESS", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.OracleTimeout, err = envDuration("ORACLE_TIMEOUT", 3*time.Second); err != nil {
		return nil, err
	}
	if cfg.ReversalWindow, err = envDuration("REVERSAL_WINDOW", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.IdempotencyTTL, err = envDuration("IDEMPOTENCY_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.ProcessingDeadline, err = envDuration("PROCESSING_DEADLINE", 30*time.Second); err != nil {
		return nil, err
	}

	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch {
		case strings.HasPrefix(name, "RATE_") && name != "RATE_FRESHNESS":
			price, err := decimal.NewFromString(value)
			if err != nil {
				return nil, fmt.Errorf("invalid price in %s: %w", name, err)
			}
			if price.Sign() <= 0 {
				return nil, fmt.Errorf("price in %s must be positive, got %s", name, value)
			}
			cfg.RatePrices[strings.TrimPrefix(name, "RATE_")] = price

		case strings.HasPrefix(name, "FEE_") && name != "FEE_ACCOUNT":
			fee, err := strconv.ParseInt(value, 10, 64)
			if err != nil || fee < 0 {
				return nil, fmt.Errorf("invalid fee in %s: %q", name, value)
			}
			cfg.Fees[strings.TrimPrefix(name, "FEE_")] = fee

		case strings.HasPrefix(name, "LIMIT_"):
			tier, cap, ok := strings.Cut(strings.TrimPrefix(name, "LIMIT_"), "_")
			if !ok || tier == "" || cap == "" {
				return nil, fmt.Errorf("malformed limit variable %s, want LIMIT_<TIER>_<CAP>", name)
			}
			v, err := strconv.ParseInt(value, 10, 64)
			if err != nil || v < 0 {
				return nil, fmt.Errorf("invalid limit in %s: %q", name, value)
			}
			if cfg.TierLimits[tier] == nil {
				cfg.TierLimits[tier] = make(map[string]int64)
			}
			cfg.TierLimits[tier][cap] = v
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is valid. In production and
// staging both persistence backends must be durable.
func (c *Config) Validate() error {
	var missing []string

	if c.Environment == "" {
		missing = append(missing, "APP_ENV")
	}
	if c.Environment == "production" || c.Environment == "staging" {
		if c.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
		if c.JournalPath == "" {
			missing = append(missing, "JOURNAL_PATH")
		}
	}
	if len(missing) > 0 {
		return errors.New("missing required environment variables: " + strings.Join(missing, ", "))
	}

	if (c.TLSCertFile != "") != (c.TLSKeyFile != "") {
		return errors.New("API_TLS_CERT and API_TLS_KEY must be set together")
	}
	for t, fee := range c.Fees {
		if fee > 0 && c.FeeAccountID == "" {
			return fmt.Errorf("FEE_%s is set but FEE_ACCOUNT is not", t)
		}
	}
	if c.RateFreshness <= 0 || c.OracleTimeout <= 0 || c.ReversalWindow <= 0 ||
		c.IdempotencyTTL <= 0 || c.ProcessingDeadline <= 0 {
		return errors.New("durations must be positive")
	}
	return nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envDuration(name string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration in %s: %w", name, err)
	}
	return d, nil
}
