package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

type Config struct {
	Port              string
	Env               string
	MongoURI          string
	MongoDB           string
	StoreDriver       string
	MattermostURL     string
	PresenceBotToken  string
	SlashCommandToken string
	DefaultTimezone   *time.Location
	DefaultLocale     string
	LogLevel          slog.Level

	ReminderPollInterval  time.Duration
	ReminderIdleThreshold time.Duration
	ReminderCooldown      time.Duration
	ReminderConcurrency   int
}

const (
	DriverMongo  = "mongo"
	DriverMemory = "memory"
)

// Production reports whether logs should be emitted as JSON.
func (c *Config) Production() bool {
	return c.Env == "production"
}

// Load reads the environment, after loading a .env file from the working
// directory when one exists. Variables already set in the environment win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("config: failed to read .env", "error", err)
	}

	zoneName := getEnv("DEFAULT_TIMEZONE", "UTC")
	zone, err := time.LoadLocation(zoneName)
	if err != nil {
		return nil, fmt.Errorf("config: DEFAULT_TIMEZONE %q: %w", zoneName, err)
	}

	driver := strings.ToLower(getEnv("STORE_DRIVER", DriverMongo))
	if driver != DriverMongo && driver != DriverMemory {
		return nil, fmt.Errorf("config: STORE_DRIVER %q must be %q or %q", driver, DriverMongo, DriverMemory)
	}

	return &Config{
		Port:              getEnv("PORT", "3000"),
		Env:               getEnv("ENV", "development"),
		MongoURI:          getEnv("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDB:           getEnv("MONGODB_DATABASE", "presence"),
		StoreDriver:       driver,
		MattermostURL:     strings.TrimRight(getEnv("MATTERMOST_URL", "http://localhost:8065"), "/"),
		PresenceBotToken:  getEnv("PRESENCE_BOT_TOKEN", ""),
		SlashCommandToken: getEnv("SLASH_COMMAND_TOKEN", ""),
		DefaultTimezone:   zone,
		DefaultLocale:     getEnv("DEFAULT_LOCALE", "en"),
		LogLevel:          getLevel("LOG_LEVEL", slog.LevelInfo),

		ReminderPollInterval:  getDuration("REMINDER_POLL_INTERVAL", 5*time.Minute),
		ReminderIdleThreshold: getDuration("REMINDER_IDLE_THRESHOLD", 45*time.Minute),
		ReminderCooldown:      getDuration("REMINDER_COOLDOWN", 45*time.Minute),
		ReminderConcurrency:   getInt("REMINDER_CONCURRENCY", 4),
	}, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("config: invalid duration, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return d
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("config: invalid integer, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}

func getLevel(key string, fallback slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		slog.Warn("config: invalid log level, using default", "key", key, "value", v)
		return fallback
	}
	return lvl
}
