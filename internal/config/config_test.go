package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "development")
}

func TestLoad_Defaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, ":9464", cfg.MetricsAddr)
	assert.Equal(t, ":8080", cfg.APIAddr)
	assert.Equal(t, int64(1<<20), cfg.MaxBodyBytes)
	assert.Equal(t, "ledger.transactions", cfg.KafkaTopic)
	assert.Equal(t, 30*time.Second, cfg.RateFreshness)
	assert.Equal(t, 24*time.Hour, cfg.ReversalWindow)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, 30*time.Second, cfg.ProcessingDeadline)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestLoad_MissingAppEnv(t *testing.T) {
	t.Setenv("APP_ENV", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "APP_ENV")
}

func TestLoad_ProductionRequiresDurableStores(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JOURNAL_PATH", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.Contains(t, err.Error(), "JOURNAL_PATH")

	t.Setenv("DATABASE_URL", "postgres://localhost/ledger")
	t.Setenv("JOURNAL_PATH", "/var/lib/ledger/journal.db")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Environment)
}

func TestLoad_Durations(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("REVERSAL_WINDOW", "48h")
	t.Setenv("ORACLE_TIMEOUT", "500ms")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 48*time.Hour, cfg.ReversalWindow)
	assert.Equal(t, 500*time.Millisecond, cfg.OracleTimeout)

	t.Setenv("REVERSAL_WINDOW", "two days")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REVERSAL_WINDOW")
}

func TestLoad_KafkaBrokers(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("KAFKA_BROKERS", "broker-1:9092, broker-2:9092 ,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.KafkaBrokers)
}

func TestLoad_RatePrices(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("RATE_BTC", "5000000000")
	t.Setenv("RATE_GIFTCARD_AMAZON", "70000.50")
	t.Setenv("RATE_FRESHNESS", "10s") // a duration, not a price

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.RatePrices["BTC"].Equal(decimal.NewFromInt(5_000_000_000)))
	assert.True(t, cfg.RatePrices["GIFTCARD_AMAZON"].Equal(decimal.RequireFromString("70000.50")))
	assert.NotContains(t, cfg.RatePrices, "FRESHNESS")
	assert.Equal(t, 10*time.Second, cfg.RateFreshness)

	t.Setenv("RATE_BTC", "lots")
	_, err = Load()
	require.Error(t, err)
}

func TestLoad_RatePriceMustBePositive(t *testing.T) {
	setBaseEnv(t)

	for _, bad := range []string{"0", "-1", "-0.5"} {
		t.Setenv("RATE_BTC", bad)
		_, err := Load()
		require.Error(t, err, "RATE_BTC=%s", bad)
		assert.Contains(t, err.Error(), "RATE_BTC")
		assert.Contains(t, err.Error(), "positive")
	}
}

func TestLoad_FeeSchedule(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("FEE_TRANSFER", "25")
	t.Setenv("FEE_WITHDRAWAL", "0")
	t.Setenv("FEE_ACCOUNT", "acct-fees")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, int64(25), cfg.Fees["TRANSFER"])
	assert.Equal(t, int64(0), cfg.Fees["WITHDRAWAL"])
	assert.NotContains(t, cfg.Fees, "ACCOUNT")
	assert.Equal(t, "acct-fees", cfg.FeeAccountID)

	t.Setenv("FEE_TRANSFER", "-25")
	_, err = Load()
	require.Error(t, err)

	t.Setenv("FEE_TRANSFER", "a lot")
	_, err = Load()
	require.Error(t, err)
}

func TestLoad_FeeRequiresFeeAccount(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("FEE_TRANSFER", "25")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FEE_ACCOUNT")
}

func TestLoad_TierLimitOverrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("LIMIT_BASIC_SINGLE_TRANSFER", "7500000")
	t.Setenv("LIMIT_PREMIUM_DAILY_CRYPTO", "900000000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, int64(7_500_000), cfg.TierLimits["BASIC"]["SINGLE_TRANSFER"])
	assert.Equal(t, int64(900_000_000), cfg.TierLimits["PREMIUM"]["DAILY_CRYPTO"])

	t.Setenv("LIMIT_BASIC_SINGLE_TRANSFER", "-1")
	_, err = Load()
	require.Error(t, err)

	t.Setenv("LIMIT_BASIC_SINGLE_TRANSFER", "7500000")
	t.Setenv("LIMIT_NOCAP", "10")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LIMIT_NOCAP")
}

func TestLoad_TLSPairRequired(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("API_TLS_CERT", "/etc/ledger/server.crt")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API_TLS_KEY")

	t.Setenv("API_TLS_KEY", "/etc/ledger/server.key")
	_, err = Load()
	require.NoError(t, err)
}

func TestLoad_InvalidMaxBody(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("API_MAX_BODY_BYTES", "-5")

	_, err := Load()
	require.Error(t, err)
}
