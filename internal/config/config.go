// Package config loads daemon configuration from environment variables
// (with an optional .env overlay) plus the two file-based inputs named in
// spec §6: the credentials file and the coin-data CSV. Adapted from the
// teacher's LoadConfig env-parsing shape.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config is the environment-sourced daemon configuration, one instance
// shared by every cmd/* binary.
type Config struct {
	CredentialsPath string
	UseTestnet      bool
	KillSwitchPath  string
	CoinDataPath    string
	ExchangeName    string // telemetry path segment, e.g. "Binance"
	TelegramToken   string
	TelegramChatID  int64
	NotifyLogDir    string
	NotifyLogName   string
}

// Load reads a local .env overlay (if present) then the process
// environment, matching the teacher's "warn, don't fail, if .env is
// absent" behavior.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "config: .env file not found, relying on process environment")
	}

	return &Config{
		CredentialsPath: getString("CREDENTIALS_PATH", "api/binance_credentials.txt"),
		UseTestnet:      getBool("USE_TESTNET", false),
		KillSwitchPath:  getString("KILL_SWITCH_PATH", "kill_switch.txt"),
		CoinDataPath:    getString("COIN_DATA_PATH", "config/coin_data.csv"),
		ExchangeName:    getString("EXCHANGE_NAME", "Binance"),
		TelegramToken:   os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:  getInt64("TELEGRAM_CHAT_ID", 0),
		NotifyLogDir:    getString("NOTIFY_LOG_DIR", "log/bmt"),
		NotifyLogName:   getString("NOTIFY_LOG_NAME", "bmt"),
	}
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
