package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	DBPath    string
	OutputDir string

	StatsAPIBaseURL       string
	MarketplaceAPIBaseURL string
	APIToken              string
	FeedRateLimitRPS      int
	FeedTimeoutMs         int
	FeedMaxAttempts       int
	OrderLookbackHours    int

	SpreadsheetID         string
	SheetName             string
	GoogleCredentialsFile string
	SinkRateLimitRPS      int
	SinkMaxAttempts       int
	SinkConcurrency       int

	WarehouseAliasFile string
	LowStockThreshold  float64
	AnomalyLimit       int

	WatchIntervalSec int
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		DBPath:    getEnv("DB_PATH", filepath.Join(cwd, "data", "app.db")),
		OutputDir: getEnv("OUTPUT_DIR", filepath.Join(cwd, "out")),

		StatsAPIBaseURL:       getEnv("STATS_API_BASE_URL", "https://statistics-api.wildberries.ru"),
		MarketplaceAPIBaseURL: getEnv("MARKETPLACE_API_BASE_URL", "https://marketplace-api.wildberries.ru"),
		APIToken:              getEnv("MARKETPLACE_API_TOKEN", ""),
		FeedRateLimitRPS:      getEnvInt("FEED_RATE_LIMIT_RPS", 1),
		FeedTimeoutMs:         getEnvInt("FEED_TIMEOUT_MS", 30000),
		FeedMaxAttempts:       getEnvInt("FEED_MAX_ATTEMPTS", 5),
		OrderLookbackHours:    getEnvInt("ORDER_LOOKBACK_HOURS", 72),

		SpreadsheetID:         getEnv("SHEETS_SPREADSHEET_ID", ""),
		SheetName:             getEnv("SHEETS_SHEET_NAME", "Stock"),
		GoogleCredentialsFile: getEnv("GOOGLE_CREDENTIALS_FILE", filepath.Join(cwd, "credentials.json")),
		SinkRateLimitRPS:      getEnvInt("SINK_RATE_LIMIT_RPS", 1),
		SinkMaxAttempts:       getEnvInt("SINK_MAX_ATTEMPTS", 4),
		SinkConcurrency:       getEnvInt("SINK_CONCURRENCY", 3),

		WarehouseAliasFile: getEnv("WAREHOUSE_ALIAS_FILE", ""),
		LowStockThreshold:  getEnvFloat("LOW_STOCK_THRESHOLD", 10),
		AnomalyLimit:       getEnvInt("ANOMALY_LIMIT", 100),

		WatchIntervalSec: getEnvInt("WATCH_INTERVAL_SEC", 3600),
	}

	return cfg, nil
}

func (c Config) Require(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("missing required env var: %s", name)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
