package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the directory server configuration, read from the environment.
type Config struct {
	Port        string
	DatabaseURL string
	RoomTTL     time.Duration
	VoteRate    float64 // votes per second per participant
	VoteBurst   int
	CORSOrigins []string
	LogLevel    string
}

func Load() Config {
	cfg := Config{
		Port:        getEnv("PORT", "8000"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RoomTTL:     time.Duration(getEnvInt("ROOM_TTL_MINUTES", 60)) * time.Minute,
		VoteRate:    getEnvFloat("VOTE_RATE_PER_SEC", 5),
		VoteBurst:   getEnvInt("VOTE_BURST", 10),
		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "*")),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
