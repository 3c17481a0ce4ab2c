package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"

	"signal-enginev1/internal/model"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	HTTPAddr      string
	GatewayAddr   string // standalone gateway (cmd/api_gateway)

	// Series: comma-separated "exchange:pair", e.g. "binance:BTC/USDT,binance:ETH/USDT"
	Pairs     string
	Timeframe string

	// Strategy YAML; empty means the built-in defaults.
	StrategyFile string

	SnapshotIntervalS int
	SnapshotKey       string
	ConsumerGroup     string
	ConsumerName      string
	RowBufferSize     int

	// Redis write circuit breaker
	RedisBreakerFailures    int
	RedisBreakerCooldownSec int

	// Signal alerts; each backend is enabled when configured.
	AlertWebhookURL  string
	TelegramBotToken string
	TelegramChatID   string

	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/signals.db"),
		HTTPAddr:      getEnv("HTTP_ADDR", ":9096"),
		GatewayAddr:   getEnv("GATEWAY_ADDR", ":9090"),

		Pairs:     getEnv("PAIRS", "binance:BTC/USDT"),
		Timeframe: getEnv("TIMEFRAME", "5m"),

		StrategyFile: getEnv("STRATEGY_FILE", ""),

		SnapshotIntervalS: getEnvInt("SNAPSHOT_INTERVAL_SEC", 30),
		SnapshotKey:       getEnv("SNAPSHOT_KEY", "signal:snapshot:engine"),
		ConsumerGroup:     getEnv("CONSUMER_GROUP", "sigengine"),
		ConsumerName:      getEnv("CONSUMER_NAME", "worker-1"),
		RowBufferSize:     getEnvInt("ROW_BUFFER_SIZE", 5000),

		RedisBreakerFailures:    getEnvInt("REDIS_BREAKER_FAILURES", 5),
		RedisBreakerCooldownSec: getEnvInt("REDIS_BREAKER_COOLDOWN_SEC", 10),

		AlertWebhookURL:  getEnv("ALERT_WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// ParsePairs turns Pairs into series identities on the configured timeframe.
// Entries without an exchange prefix are skipped.
func (c *Config) ParsePairs() []model.Metadata {
	parts := strings.Split(c.Pairs, ",")
	metas := make([]model.Metadata, 0, len(parts))
	seen := make(map[string]bool, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		ex, pair, ok := strings.Cut(p, ":")
		ex, pair = strings.TrimSpace(ex), strings.TrimSpace(pair)
		if !ok || ex == "" || pair == "" {
			slog.Warn("[config] skipping invalid pair", "value", p)
			continue
		}
		m := model.Metadata{Exchange: ex, Pair: pair, Timeframe: c.Timeframe}
		if seen[m.Key()] {
			continue
		}
		seen[m.Key()] = true
		metas = append(metas, m)
	}
	return metas
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, ""))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
