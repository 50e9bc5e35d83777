package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("OKX_ENV", "")
	t.Setenv("OKX_TESTNET", "")
	t.Setenv("HOLDING_PERIOD", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "live", cfg.OKXEnv)
	assert.False(t, cfg.Demo())
	assert.Equal(t, 20*time.Hour, cfg.HoldingPeriod)
	assert.Equal(t, time.Hour, cfg.IngestLookback)
	assert.Equal(t, 4, cfg.LiquidateWorkers)
	assert.Equal(t, int32(6), cfg.SigDigits)
	assert.Equal(t, "rest", cfg.PriceSource)
}

func TestLoadTestnetFlag(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("OKX_TESTNET", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Demo())
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Chdir(t.TempDir())

	cases := map[string]string{
		"OKX_ENV":           "paper",
		"PRICE_SOURCE":      "carrier-pigeon",
		"HOLDING_PERIOD":    "soon",
		"LIQUIDATE_WORKERS": "0",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestRequireCredentials(t *testing.T) {
	cfg := &Config{OKXAPIKey: "k"}
	err := cfg.RequireCredentials()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OKX_SECRET_KEY")
	assert.Contains(t, err.Error(), "OKX_PASSPHRASE")

	cfg.OKXSecretKey, cfg.OKXPassphrase = "s", "p"
	assert.NoError(t, cfg.RequireCredentials())
}

func TestParseInstruments(t *testing.T) {
	set, err := ParseInstruments([]byte(`
order_notional: "250"
instruments:
  DOGE-USDT: {coefficient: "88", scale: 6}
  BTC-USDT: {coefficient: "92.5"}
`))
	require.NoError(t, err)

	assert.Equal(t, "250", set.OrderNotional.String())
	require.Len(t, set.Offsets, 2)
	assert.Equal(t, "99.9", set.Offsets[0].String())
	assert.Equal(t, "100.1", set.Offsets[1].String())

	require.Len(t, set.Instruments, 2)
	assert.Equal(t, "BTC-USDT", set.Instruments[0].ID)
	assert.Nil(t, set.Instruments[0].Scale)
	assert.Equal(t, "DOGE-USDT", set.Instruments[1].ID)
	require.NotNil(t, set.Instruments[1].Scale)
	assert.Equal(t, int32(6), *set.Instruments[1].Scale)
}

func TestParseInstrumentsRejectsBadCoefficient(t *testing.T) {
	_, err := ParseInstruments([]byte(`
instruments:
  BTC-USDT: {coefficient: "-1"}
`))
	assert.Error(t, err)
}
