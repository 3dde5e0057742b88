package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for the bot
type Config struct {
	// Wallet
	PrivateKey    string
	WalletAddress string
	FunderAddress string // Proxy wallet that holds funds (may differ from signer)
	SignatureType int    // 0=EOA, 1=Magic/Email, 2=Browser proxy

	// CLOB credentials (derived from wallet if empty)
	APIKey     string
	APISecret  string
	Passphrase string

	// Trading
	Symbols     []string
	BetSize     decimal.Decimal // USD per entry
	MaxPosition decimal.Decimal // USD cap per symbol

	// Signal
	EntryThreshold float64       // minimum |momentum %| for a directional call
	MinConfidence  float64       // minimum signal confidence to enter
	SignalWindow   time.Duration // rolling lookback for momentum
	SignalCooldown time.Duration

	// Trailing hedge
	TrailTrigger decimal.Decimal // adverse token-price drop that arms the hedge
	TrailSize    decimal.Decimal // hedge shares as a fraction of the entry
	HedgeConfirm time.Duration   // drop must persist this long before hedging

	// Orders
	OrderMaxRetries int

	// Mode
	SimulationMode bool
	Debug          bool

	// URLs
	GammaURL string
	CLOBURL  string
	WSURL    string

	// Database (sqlite path or postgres:// DSN)
	DatabasePath string

	// Dashboard
	DashboardEnabled bool
	DashboardPort    int

	// Notifications
	DiscordWebhook string
	TelegramToken  string
	TelegramChatID int64
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		// Wallet
		PrivateKey:    os.Getenv("PRIVATE_KEY"),
		WalletAddress: os.Getenv("WALLET_ADDRESS"),
		FunderAddress: os.Getenv("POLYMARKET_FUNDER_ADDRESS"),
		SignatureType: getEnvInt("SIGNATURE_TYPE", 1),

		// CLOB credentials
		APIKey:     os.Getenv("POLYMARKET_API_KEY"),
		APISecret:  os.Getenv("POLYMARKET_SECRET"),
		Passphrase: os.Getenv("POLYMARKET_PASSPHRASE"),

		// Trading
		BetSize:     getEnvDecimal("BET_SIZE", decimal.NewFromInt(25)),
		MaxPosition: getEnvDecimal("MAX_POSITION", decimal.NewFromInt(200)),

		// Signal
		EntryThreshold: getEnvFloat("ENTRY_THRESHOLD", 0.05),
		MinConfidence:  getEnvFloat("MIN_CONFIDENCE", 0.25),
		SignalWindow:   getEnvDuration("SIGNAL_WINDOW_SECONDS", 5*time.Minute),
		SignalCooldown: getEnvDuration("SIGNAL_COOLDOWN", 30*time.Second),

		// Trailing hedge
		TrailTrigger: getEnvDecimal("TRAIL_TRIGGER", decimal.NewFromFloat(0.10)),
		TrailSize:    getEnvDecimal("TRAIL_SIZE", decimal.NewFromFloat(0.5)),
		HedgeConfirm: getEnvDuration("HEDGE_CONFIRM_SECONDS", 5*time.Second),

		// Orders
		OrderMaxRetries: getEnvInt("ORDER_MAX_RETRIES", 5),

		// Mode
		SimulationMode: getEnvBool("SIMULATION_MODE", true),
		Debug:          getEnvBool("DEBUG", false),

		// URLs
		GammaURL: getEnv("GAMMA_URL", "https://gamma-api.polymarket.com"),
		CLOBURL:  getEnv("CLOB_URL", "https://clob.polymarket.com"),
		WSURL:    getEnv("WS_URL", "wss://ws-subscriptions-clob.polymarket.com/ws/market"),

		// Database
		DatabasePath: getEnv("DB_PATH", "polyneko.db"),

		// Dashboard
		DashboardEnabled: getEnvBool("DASHBOARD_ENABLED", true),
		DashboardPort:    getEnvInt("DASHBOARD_PORT", 8080),

		// Notifications
		DiscordWebhook: os.Getenv("DISCORD_WEBHOOK"),
		TelegramToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
	}

	// Parse symbols
	symbolsStr := getEnv("SYMBOLS", "BTC,ETH,SOL,XRP")
	for _, s := range strings.Split(symbolsStr, ",") {
		if s = strings.TrimSpace(s); s != "" {
			cfg.Symbols = append(cfg.Symbols, strings.ToUpper(s))
		}
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("SYMBOLS is empty")
	}

	// Parse chat ID
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	// Validate
	if !cfg.SimulationMode && cfg.PrivateKey == "" {
		return nil, fmt.Errorf("PRIVATE_KEY is required when SIMULATION_MODE=false")
	}
	if cfg.BetSize.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("BET_SIZE must be positive")
	}
	if cfg.MaxPosition.LessThan(cfg.BetSize) {
		return nil, fmt.Errorf("MAX_POSITION must be at least BET_SIZE")
	}
	if cfg.TrailTrigger.LessThanOrEqual(decimal.Zero) || cfg.TrailTrigger.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("TRAIL_TRIGGER must be in (0, 1)")
	}

	return cfg, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration accepts either a plain number of seconds or a Go duration string
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
