// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir             string   // Base directory for databases (always absolute)
	Symbols             []string // Symbols the daily trade loop predicts and trades
	PredictorServiceURL string
	AlpacaAPIKey        string
	AlpacaAPISecret     string
	AlpacaBaseURL       string
	AlpacaDataBaseURL   string
	AlpacaStreamURL     string
	MarketDataBaseURL   string
	TelemetryWebhookURL string
	LogLevel            string
	Port                int
	DevMode             bool

	// Trading parameters
	HistoryDays       int           // How much price history feeds each prediction
	MinOrderValue     float64       // Buys below this notional are skipped
	SellSettleDelay   time.Duration // Pause between the sell batch and the buy batch
	PredictionWorkers int           // Concurrent prediction requests per cycle
	TradeSchedule     string        // Cron schedule for the daily trade cycle

	// Crypto arbitrage; empty currency list disables the scanner
	CryptoCurrencies      []string
	ArbitrageScanInterval time.Duration

	Backup         *BackupConfig
	BackupSchedule string
}

// BackupConfig holds S3-compatible backup storage configuration.
// Backups are disabled when the bucket is empty.
type BackupConfig struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Determine data directory, resolve to absolute and ensure it exists
	dataDir := getEnv("HELMSMAN_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:             absDataDir,
		Symbols:             getEnvAsList("SYMBOLS", []string{"KO", "CVX", "PM", "INTC", "WFC", "BAC"}),
		PredictorServiceURL: getEnv("PREDICTOR_SERVICE_URL", "http://localhost:9000"),
		AlpacaAPIKey:        getEnv("ALPACA_ID", ""),
		AlpacaAPISecret:     getEnv("ALPACA_SECRET", ""),
		AlpacaBaseURL:       getEnv("ALPACA_BASE_URL", "https://paper-api.alpaca.markets"),
		AlpacaDataBaseURL:   getEnv("ALPACA_DATA_URL", "https://data.alpaca.markets"),
		AlpacaStreamURL:     getEnv("ALPACA_STREAM_URL", "wss://paper-api.alpaca.markets/stream"),
		MarketDataBaseURL:   getEnv("MARKET_DATA_BASE_URL", "https://query1.finance.yahoo.com"),
		TelemetryWebhookURL: getEnv("TELEMETRY_WEBHOOK_URL", ""),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		Port:                getEnvAsInt("PORT", 8001),
		DevMode:             getEnvAsBool("DEV_MODE", false),
		HistoryDays:         getEnvAsInt("HISTORY_DAYS", 365*10),
		MinOrderValue:       getEnvAsFloat("MIN_ORDER_VALUE", 1.0),
		SellSettleDelay:     time.Duration(getEnvAsInt("SELL_SETTLE_MINUTES", 10)) * time.Minute,
		PredictionWorkers:   getEnvAsInt("PREDICTION_WORKERS", 4),
		TradeSchedule:       getEnv("TRADE_SCHEDULE", "0 45 15 * * MON-FRI"),

		CryptoCurrencies:      getEnvAsList("CRYPTO_CURRENCIES", nil),
		ArbitrageScanInterval: time.Duration(getEnvAsInt("ARBITRAGE_SCAN_SECONDS", 60)) * time.Second,

		Backup:         loadBackupConfig(),
		BackupSchedule: getEnv("BACKUP_SCHEDULE", "0 0 1 * * *"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}

	// Note: Alpaca credentials are optional for backtest-only use
	return nil
}

// loadBackupConfig loads S3 backup settings; bucket empty means disabled
func loadBackupConfig() *BackupConfig {
	return &BackupConfig{
		Endpoint:  getEnv("BACKUP_S3_ENDPOINT", ""),
		Region:    getEnv("BACKUP_S3_REGION", "auto"),
		Bucket:    getEnv("BACKUP_S3_BUCKET", ""),
		AccessKey: getEnv("BACKUP_S3_ACCESS_KEY", ""),
		SecretKey: getEnv("BACKUP_S3_SECRET_KEY", ""),
	}
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, strings.ToUpper(trimmed))
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
