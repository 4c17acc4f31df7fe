package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the signal pipeline.
type Config struct {
	Port string

	// Telegram (user session used for channel monitoring)
	TelegramAPIID   int
	TelegramAPIHash string
	SessionDir      string
	ChannelIDs      []int64
	LogGroupID      int64

	// Pipeline
	CatchUpInterval   time.Duration
	RestartInterval   time.Duration
	HealthInterval    time.Duration
	ReconnectDelay    time.Duration
	RequestTimeout    time.Duration
	TakeProfitPct     float64
	StopLossPct       float64
	ScanWindowSize    int
	PriceDeviationPct float64
	SeedOnStart       bool
	StartupSymbols    []string
	OrderRatePerSec   float64

	// Ledger persistence
	LedgerBackend string // file, journal, sqlite, redis, postgres
	LedgerPath    string
	RedisURL      string
	DatabaseURL   string

	// Audit database
	DBPath string

	// Notifications
	BarkKey            string
	BarkGroup          string
	TelegramBotToken   string
	TelegramNotifyTo   int64
	FCMCredentialsFile string
	FCMTopic           string

	// Accounts
	AccountsFile string
	Accounts     []Account

	// Execution
	DryRun bool

	// API / health
	JWTSecret         string
	AdminPasswordHash string
	GRPCHealthAddr    string

	// Localization
	Language string // "en" or "zh"
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	channels, err := parseIDs(getEnv("TG_CHANNEL_IDS", ""))
	if err != nil {
		return nil, fmt.Errorf("TG_CHANNEL_IDS: %w", err)
	}

	catchUp := getEnvInt("CATCH_UP_INTERVAL_SECONDS", getEnvInt("PATCH_MISSING_SIGNALS_INTERVAL", 30))
	restart := getEnvInt("RESTART_INTERVAL_SECONDS", getEnvInt("AUTO_RESTART_INTERVAL", 1800))

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		TelegramAPIID:      getEnvInt("TG_API_ID", 0),
		TelegramAPIHash:    os.Getenv("TG_API_HASH"),
		SessionDir:         getEnv("SESSION_DIR", "./session"),
		ChannelIDs:         channels,
		LogGroupID:         NormalizeChannelID(getEnvInt64("TG_LOG_GROUP_ID", 0)),
		CatchUpInterval:    time.Duration(catchUp) * time.Second,
		RestartInterval:    time.Duration(restart) * time.Second,
		HealthInterval:     time.Duration(getEnvInt("HEALTH_INTERVAL_SECONDS", 60)) * time.Second,
		ReconnectDelay:     time.Duration(getEnvInt("RECONNECT_DELAY_SECONDS", 10)) * time.Second,
		RequestTimeout:     time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 10)) * time.Second,
		TakeProfitPct:      getEnvFloat("TAKE_PROFIT_PCT", 1.0),
		StopLossPct:        getEnvFloat("STOP_LOSS_PCT", 2.7),
		ScanWindowSize:     getEnvInt("SCAN_WINDOW_SIZE", 20),
		PriceDeviationPct:  getEnvFloat("PRICE_DEVIATION_PCT", 0.5),
		SeedOnStart:        getEnvBool("SEED_LEDGER_ON_START", true),
		StartupSymbols:     splitAndTrim(getEnv("STARTUP_SYMBOLS", "BTC,ETH")),
		OrderRatePerSec:    getEnvFloat("ORDER_RATE_PER_SEC", 5),
		LedgerBackend:      strings.ToLower(getEnv("LEDGER_BACKEND", "file")),
		LedgerPath:         getEnv("LEDGER_PATH", "processed_message_ids.json"),
		RedisURL:           os.Getenv("REDIS_URL"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		DBPath:             getEnv("DB_PATH", "./data/signals.db"),
		BarkKey:            os.Getenv("BARK_KEY"),
		BarkGroup:          getEnv("BARK_GROUP", "signal-trader"),
		TelegramBotToken:   os.Getenv("TG_BOT_TOKEN"),
		TelegramNotifyTo:   getEnvInt64("TG_BOT_CHAT_ID", 0),
		FCMCredentialsFile: os.Getenv("FCM_CREDENTIALS_FILE"),
		FCMTopic:           getEnv("FCM_TOPIC", "signals"),
		AccountsFile:       os.Getenv("ACCOUNTS_FILE"),
		DryRun:             getEnvBool("DRY_RUN", false),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		AdminPasswordHash:  os.Getenv("ADMIN_PASSWORD_HASH"),
		GRPCHealthAddr:     os.Getenv("GRPC_HEALTH_ADDR"),
		Language:           getEnv("LANGUAGE", "en"),
	}

	accounts, err := LoadAccounts(cfg.AccountsFile)
	if err != nil {
		return nil, err
	}
	cfg.Accounts = accounts

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if len(c.ChannelIDs) == 0 && !c.DryRun {
		errs = append(errs, errors.New("TG_CHANNEL_IDS is empty"))
	}
	if c.TakeProfitPct <= 0 {
		errs = append(errs, fmt.Errorf("TAKE_PROFIT_PCT must be > 0, got %v", c.TakeProfitPct))
	}
	if c.StopLossPct <= 0 {
		errs = append(errs, fmt.Errorf("STOP_LOSS_PCT must be > 0, got %v", c.StopLossPct))
	}
	if c.ScanWindowSize <= 0 {
		errs = append(errs, fmt.Errorf("SCAN_WINDOW_SIZE must be > 0, got %d", c.ScanWindowSize))
	}
	if c.CatchUpInterval <= 0 {
		errs = append(errs, errors.New("catch-up interval must be positive"))
	}
	if c.AdminPasswordHash != "" && len(c.JWTSecret) < MinJWTSecretLen {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d characters when ADMIN_PASSWORD_HASH is set", MinJWTSecretLen))
	}
	return errors.Join(errs...)
}

// MinJWTSecretLen is the shortest HS256 secret the admin API accepts.
const MinJWTSecretLen = 32

// NormalizeChannelID turns Bot-API style ids (-100xxxxxxxxxx, -xxxx) into bare MTProto ids.
func NormalizeChannelID(id int64) int64 {
	const channelOffset = 1000000000000
	switch {
	case id <= -channelOffset:
		return -id - channelOffset
	case id < 0:
		return -id
	default:
		return id
	}
}

func parseIDs(val string) ([]int64, error) {
	parts := splitAndTrim(val)
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse channel id %q: %w", p, err)
		}
		out = append(out, NormalizeChannelID(id))
	}
	return out, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
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

func getEnvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
