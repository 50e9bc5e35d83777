package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	OKXAPIKey     string
	OKXSecretKey  string
	OKXPassphrase string
	OKXEnv        string // "live" or "demo"
	OKXBaseURL    string
	OKXWSURL      string
	OKXTimeout    time.Duration

	DatabaseURL string // sqlite path or postgres:// URL

	HoldingPeriod    time.Duration
	IngestLookback   time.Duration
	LiquidateWorkers int
	StuckLockAfter   time.Duration

	InstrumentsFile string
	PriceSource     string // "rest" or "ws"
	SigDigits       int32

	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int

	JournalDir        string
	PushgatewayURL    string
	MetricsAddr       string
	DiscordWebhookURL string

	CronIngest    string
	CronLiquidate string
	CronTriggers  string
}

// Demo reports whether requests should carry the simulated-trading header.
func (c *Config) Demo() bool {
	return c.OKXEnv == "demo"
}

// Load reads .env (if present) and the process environment. Exchange
// credentials are only required by commands that talk to private endpoints,
// see RequireCredentials.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		OKXAPIKey:     os.Getenv("OKX_API_KEY"),
		OKXSecretKey:  os.Getenv("OKX_SECRET_KEY"),
		OKXPassphrase: os.Getenv("OKX_PASSPHRASE"),
		OKXEnv:        getEnvDefault("OKX_ENV", "live"),
		OKXBaseURL:    getEnvDefault("OKX_BASE_URL", "https://www.okx.com"),
		OKXWSURL:      getEnvDefault("OKX_WS_URL", "wss://ws.okx.com:8443/ws/v5/public"),

		DatabaseURL: getEnvDefault("DATABASE_URL", "data/autotrader.db"),

		InstrumentsFile: getEnvDefault("INSTRUMENTS_FILE", "instruments.yaml"),
		PriceSource:     getEnvDefault("PRICE_SOURCE", "rest"),

		LogLevel: getEnvDefault("LOG_LEVEL", "info"),
		LogFile:  os.Getenv("LOG_FILE"),

		JournalDir:        getEnvDefault("JOURNAL_DIR", "data/journal"),
		PushgatewayURL:    os.Getenv("PUSHGATEWAY_URL"),
		MetricsAddr:       getEnvDefault("METRICS_ADDR", ":9102"),
		DiscordWebhookURL: os.Getenv("DISCORD_WEBHOOK_URL"),

		CronIngest:    getEnvDefault("CRON_INGEST", "0 */5 * * * *"),
		CronLiquidate: getEnvDefault("CRON_LIQUIDATE", "30 */5 * * * *"),
		CronTriggers:  getEnvDefault("CRON_TRIGGERS", "0 1 0 * * *"),
	}

	// OKX_TESTNET is what older deployments set.
	if strings.EqualFold(os.Getenv("OKX_TESTNET"), "true") {
		cfg.OKXEnv = "demo"
	}

	var err error
	if cfg.OKXTimeout, err = getEnvDuration("OKX_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.HoldingPeriod, err = getEnvDuration("HOLDING_PERIOD", 20*time.Hour); err != nil {
		return nil, err
	}
	if cfg.IngestLookback, err = getEnvDuration("INGEST_LOOKBACK", time.Hour); err != nil {
		return nil, err
	}
	if cfg.StuckLockAfter, err = getEnvDuration("STUCK_LOCK_AFTER", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.LiquidateWorkers, err = getEnvInt("LIQUIDATE_WORKERS", 4); err != nil {
		return nil, err
	}
	sig, err := getEnvInt("SIG_DIGITS", 6)
	if err != nil {
		return nil, err
	}
	cfg.SigDigits = int32(sig)
	if cfg.LogMaxSizeMB, err = getEnvInt("LOG_MAX_SIZE_MB", 10); err != nil {
		return nil, err
	}
	if cfg.LogMaxBackups, err = getEnvInt("LOG_MAX_BACKUPS", 5); err != nil {
		return nil, err
	}
	if cfg.LogMaxAgeDays, err = getEnvInt("LOG_MAX_AGE_DAYS", 14); err != nil {
		return nil, err
	}

	if cfg.OKXEnv != "live" && cfg.OKXEnv != "demo" {
		return nil, fmt.Errorf("OKX_ENV must be 'live' or 'demo', got %q", cfg.OKXEnv)
	}
	if cfg.PriceSource != "rest" && cfg.PriceSource != "ws" {
		return nil, fmt.Errorf("PRICE_SOURCE must be 'rest' or 'ws', got %q", cfg.PriceSource)
	}
	if cfg.HoldingPeriod <= 0 {
		return nil, fmt.Errorf("HOLDING_PERIOD must be positive, got %s", cfg.HoldingPeriod)
	}
	if cfg.LiquidateWorkers < 1 {
		return nil, fmt.Errorf("LIQUIDATE_WORKERS must be at least 1, got %d", cfg.LiquidateWorkers)
	}
	if cfg.SigDigits < 1 {
		return nil, fmt.Errorf("SIG_DIGITS must be at least 1, got %d", cfg.SigDigits)
	}

	return cfg, nil
}

// RequireCredentials fails when any of the private API credentials is missing.
func (c *Config) RequireCredentials() error {
	var missing []string
	if c.OKXAPIKey == "" {
		missing = append(missing, "OKX_API_KEY")
	}
	if c.OKXSecretKey == "" {
		missing = append(missing, "OKX_SECRET_KEY")
	}
	if c.OKXPassphrase == "" {
		missing = append(missing, "OKX_PASSPHRASE")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
