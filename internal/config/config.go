package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env            string
	HTTPAddr       string
	DatabaseURL    string
	RedisURL       string
	KafkaBrokers   []string
	KafkaTopic     string
	TelegramToken  string
	TelegramChatID int64
	Bakong         BakongConfig
	Logging        LoggingConfig
}

type BakongConfig struct {
	BaseURL      string
	AccountID    string
	MerchantName string
	MerchantCity string
	StoreLabel   string
	MerchantID   string
	Secret       string
	StaticToken  string
	QRTTL        time.Duration
	PollInterval time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
	File   string
}

func Load() (*Config, error) {
	cfg := &Config{
		Env:            getenv("APP_ENV", "dev"),
		HTTPAddr:       getenv("HTTP_ADDR", ":8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		KafkaBrokers:   parseList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:     getenv("KAFKA_TOPIC", "orders.paid"),
		TelegramToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID: getenvInt64("TELEGRAM_CHAT_ID", 0),
		Bakong: BakongConfig{
			BaseURL:      getenv("BAKONG_BASE_URL", "https://api-bakong.nbc.gov.kh/v1"),
			AccountID:    os.Getenv("BAKONG_ACCOUNT_ID"),
			MerchantName: getenv("BAKONG_MERCHANT_NAME", "Socheath Store"),
			MerchantCity: getenv("BAKONG_MERCHANT_CITY", "PHNOM PENH"),
			StoreLabel:   getenv("BAKONG_STORE_LABEL", "Socheath Store"),
			MerchantID:   os.Getenv("BAKONG_MERCHANT_ID"),
			Secret:       os.Getenv("BAKONG_SECRET"),
			StaticToken:  os.Getenv("BAKONG_ACCESS_TOKEN"),
			QRTTL:        time.Duration(getenvInt("BAKONG_QR_TTL_SECONDS", 300)) * time.Second,
			PollInterval: time.Duration(getenvInt("BAKONG_POLL_INTERVAL_SECONDS", 5)) * time.Second,
		},
		Logging: LoggingConfig{
			Level:  getenv("LOG_LEVEL", "info"),
			Format: getenv("LOG_FORMAT", "text"),
			File:   os.Getenv("LOG_FILE"),
		},
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.Bakong.AccountID == "" {
		return nil, fmt.Errorf("BAKONG_ACCOUNT_ID is required")
	}
	if cfg.Bakong.StaticToken == "" && (cfg.Bakong.MerchantID == "" || cfg.Bakong.Secret == "") {
		return nil, fmt.Errorf("either BAKONG_ACCESS_TOKEN or BAKONG_MERCHANT_ID and BAKONG_SECRET are required")
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func parseList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
