package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
)

type Config struct {
	DatabaseURL string
	HTTPAddr    string
	LogLevel    string
	Env         string // dev|prod
	SentryDSN   string
	Location    *time.Location

	// JWTSecret пустой только в dev: тогда API работает без токенов.
	JWTSecret string

	// BotToken пустой: уведомления в Telegram выключены.
	BotToken      string
	NotifyChatIDs []int64

	OverdueSchedule  string
	ReminderSchedule string
	DueSoonDays      int
}

func Load() (*Config, error) {
	tz := getenv("TZ", "Europe/London")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.Local
	}

	chatIDs, err := parseIDs(os.Getenv("NOTIFY_CHAT_IDS"))
	if err != nil {
		return nil, fmt.Errorf("NOTIFY_CHAT_IDS: %w", err)
	}

	dueSoon, err := strconv.Atoi(getenv("DUE_SOON_DAYS", "30"))
	if err != nil || dueSoon < 0 {
		return nil, fmt.Errorf("DUE_SOON_DAYS: want a non-negative number, got %q", os.Getenv("DUE_SOON_DAYS"))
	}

	cfg := &Config{
		DatabaseURL:      mustEnv("DATABASE_URL"),
		HTTPAddr:         getenv("HTTP_ADDR", ":8080"),
		LogLevel:         getenv("LOG_LEVEL", "info"),
		Env:              getenv("ENV", "dev"),
		SentryDSN:        os.Getenv("SENTRY_DSN"),
		Location:         loc,
		JWTSecret:        os.Getenv("JWT_SECRET"),
		BotToken:         os.Getenv("BOT_TOKEN"),
		NotifyChatIDs:    chatIDs,
		OverdueSchedule:  getenv("OVERDUE_SCHEDULE", "@hourly"),
		ReminderSchedule: getenv("REMINDER_SCHEDULE", "0 9 * * *"),
		DueSoonDays:      dueSoon,
	}

	for name, spec := range map[string]string{"OVERDUE_SCHEDULE": cfg.OverdueSchedule, "REMINDER_SCHEDULE": cfg.ReminderSchedule} {
		if _, err := cron.ParseStandard(spec); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	if cfg.JWTSecret == "" && cfg.Env != "dev" {
		return nil, fmt.Errorf("JWT_SECRET is required outside dev")
	}
	return cfg, nil
}

// SkipAuth: dev-режим без токенов.
func (c *Config) SkipAuth() bool { return c.Env == "dev" && c.JWTSecret == "" }

func mustEnv(k string) string {
	v := os.Getenv(k)
	if v == "" {
		panic("required env " + k + " is empty")
	}
	return v
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func parseIDs(s string) ([]int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad id %q: %w", p, err)
		}
		out = append(out, n)
	}
	return out, nil
}
