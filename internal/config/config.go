package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBDSN          string
	Environment    string
	LogLevel       string
	Timezone       string
	TelegramToken  string
	NotifyChatID   int64
	NotifyQueue    int
	MigrateOnStart bool
}

func Load() (*Config, error) {
	// Пытаемся загрузить .env файл (игнорируем ошибку, если файла нет)
	if err := godotenv.Load(".env"); err != nil {
		log.Println("⚠️  No .env file found, using environment variables")
	} else {
		log.Println("✅ Loaded configuration from .env file")
	}

	cfg := &Config{
		DBDSN:          os.Getenv("DB_DSN"),
		Environment:    getEnv("ENV", "development"),
		LogLevel:       os.Getenv("LOG_LEVEL"),
		Timezone:       getEnv("TIMEZONE", "UTC"),
		TelegramToken:  os.Getenv("TELEGRAM_TOKEN"),
		NotifyQueue:    100,
		MigrateOnStart: true,
	}

	// Проверяем обязательные поля
	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("DB_DSN is required but not set")
	}

	if v := os.Getenv("TELEGRAM_NOTIFY_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("TELEGRAM_NOTIFY_CHAT_ID: %w", err)
		}
		cfg.NotifyChatID = id
	}

	if v := os.Getenv("NOTIFY_QUEUE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("NOTIFY_QUEUE_SIZE must be a positive integer, got %q", v)
		}
		cfg.NotifyQueue = n
	}

	if v := os.Getenv("MIGRATE_ON_START"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("MIGRATE_ON_START: %w", err)
		}
		cfg.MigrateOnStart = b
	}

	if _, err := cfg.Location(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Location часовой пояс, в котором заданы времена слотов
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
