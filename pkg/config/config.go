// Package config loads environment-driven settings, with an optional
// YAML overlay for engine tuning.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all settings for the broadcaster service.
type Config struct {
	Port string

	// Telegram
	BotToken        string
	AdminIDs        []int64
	SignalChannelID int64

	// Security
	MasterEncryptionKey string
	APISecret           string
	JWTSecret           string

	// Database
	DBPath string

	// Registration defaults
	AllowRegistration  bool
	DefaultTradeAmount float64
	DefaultMaxLeverage int

	// Engine tuning
	MaxConcurrentTrades int
	MinOrderValue       float64

	// Brokerage
	ExchangeBaseURL string
}

// Overlay carries optional YAML-file overrides for engine tuning.
// Zero values leave the env-derived setting untouched.
type Overlay struct {
	MaxConcurrentTrades int     `yaml:"max_concurrent_trades"`
	MinOrderValue       float64 `yaml:"min_order_value"`
	DefaultTradeAmount  float64 `yaml:"default_trade_amount"`
	DefaultMaxLeverage  int     `yaml:"default_max_leverage"`
	ExchangeBaseURL     string  `yaml:"exchange_base_url"`
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	// Database path: prefer DB_PATH, then DATABASE_PATH for backward compatibility.
	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_PATH", "./data/broadcaster.db")
	}

	adminIDs, err := parseIDs(getEnv("ADMIN_TELEGRAM_ID", ""))
	if err != nil {
		return nil, fmt.Errorf("ADMIN_TELEGRAM_ID: %w", err)
	}

	channelID, err := parseOptionalID(os.Getenv("SIGNAL_CHANNEL_ID"))
	if err != nil {
		return nil, fmt.Errorf("SIGNAL_CHANNEL_ID: %w", err)
	}

	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		BotToken:            os.Getenv("BOT_TOKEN"),
		AdminIDs:            adminIDs,
		SignalChannelID:     channelID,
		MasterEncryptionKey: os.Getenv("MASTER_ENCRYPTION_KEY"),
		APISecret:           os.Getenv("API_SECRET"),
		JWTSecret:           getEnv("JWT_SECRET", "dev-secret"),
		DBPath:              dbPath,
		AllowRegistration:   getEnv("ALLOW_REGISTRATION", "true") == "true",
		DefaultTradeAmount:  getEnvFloat("DEFAULT_TRADE_AMOUNT", 50),
		DefaultMaxLeverage:  getEnvInt("DEFAULT_MAX_LEVERAGE", 10),
		MaxConcurrentTrades: getEnvInt("MAX_CONCURRENT_TRADES", 10),
		MinOrderValue:       getEnvFloat("MIN_ORDER_VALUE", 8),
		ExchangeBaseURL:     getEnv("EXCHANGE_BASE_URL", ""),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyOverlay(path); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Validate checks the settings a running service cannot do without.
func (c *Config) Validate() error {
	if c.BotToken == "" {
		return fmt.Errorf("BOT_TOKEN is required")
	}
	if len(c.AdminIDs) == 0 {
		return fmt.Errorf("ADMIN_TELEGRAM_ID is required")
	}
	if c.MasterEncryptionKey == "" {
		return fmt.Errorf("MASTER_ENCRYPTION_KEY is required")
	}
	if c.APISecret == "" {
		return fmt.Errorf("API_SECRET is required")
	}
	return nil
}

// IsAdmin reports whether the Telegram user is one of the configured admins.
func (c *Config) IsAdmin(telegramID int64) bool {
	for _, id := range c.AdminIDs {
		if id == telegramID {
			return true
		}
	}
	return false
}

func (c *Config) applyOverlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var ov Overlay
	if err := yaml.Unmarshal(data, &ov); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if ov.MaxConcurrentTrades > 0 {
		c.MaxConcurrentTrades = ov.MaxConcurrentTrades
	}
	if ov.MinOrderValue > 0 {
		c.MinOrderValue = ov.MinOrderValue
	}
	if ov.DefaultTradeAmount > 0 {
		c.DefaultTradeAmount = ov.DefaultTradeAmount
	}
	if ov.DefaultMaxLeverage > 0 {
		c.DefaultMaxLeverage = ov.DefaultMaxLeverage
	}
	if ov.ExchangeBaseURL != "" {
		c.ExchangeBaseURL = ov.ExchangeBaseURL
	}
	return nil
}

func parseIDs(val string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(val, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid telegram ID %q", part)
		}
		out = append(out, id)
	}
	return out, nil
}

func parseOptionalID(val string) (int64, error) {
	if val == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat ID %q", val)
	}
	return id, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
