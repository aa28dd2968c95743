// Package config loads process configuration from the environment.
// Every value is optional and defaults per the resource-bound table;
// the resulting Config is treated as immutable after Load.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every environment-tunable knob the core reads at
// startup.
type Config struct {
	Environment string
	LogLevel    string
	Port        string
	DatabaseURL string
	JWTSecret   string

	MaxMessageBytes     int
	HotMessagesLimit    int
	HotAtomsLimit       int
	SeenLimit           int
	DedupLimit          int
	HistoryPageLimit    int
	HistoryDefaultLimit int
	KeepaliveInterval   time.Duration

	PlatformDomains []string // email domains that resolve to t:ubl_core instead of t:<domain>
	AllowedOrigins  []string // empty means allow-all (dev mode)
}

// Load reads Config from the environment, applying the defaults from
// the resource bound table.
func Load() Config {
	return Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		JWTSecret:   getEnv("JWT_SECRET", ""),

		MaxMessageBytes:     getEnvInt("MAX_MESSAGE_BYTES", 8000),
		HotMessagesLimit:    getEnvInt("HOT_MESSAGES_LIMIT", 500),
		HotAtomsLimit:       getEnvInt("HOT_ATOMS_LIMIT", 2000),
		SeenLimit:           getEnvInt("SEEN_LIMIT", 2000),
		DedupLimit:          getEnvInt("DEDUP_LIMIT", 5000),
		HistoryPageLimit:    getEnvInt("HISTORY_PAGE_LIMIT", 200),
		HistoryDefaultLimit: getEnvInt("HISTORY_DEFAULT_LIMIT", 50),
		KeepaliveInterval:   time.Duration(getEnvInt("KEEPALIVE_INTERVAL_MS", 15000)) * time.Millisecond,

		PlatformDomains: getEnvList("PLATFORM_DOMAINS", []string{"ubl_core", "ubl.dev"}),
		AllowedOrigins:  getEnvList("ALLOWED_ORIGINS", nil),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
