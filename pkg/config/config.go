package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the backtest core.
type Config struct {
	Port      string
	EnableAPI bool

	// Database
	DBPath string

	// Bar input
	ScenarioPath string

	// Remote signal inference
	InferenceURL       string
	InferenceTimeoutMs int
	InferenceRetries   int
	InferenceDebug     bool
	ThrottlePerSec     float64 // remote inference calls allowed per second

	// Book simulation
	TickSize       float64
	CommissionRate float64
	FlatCommission float64
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:               getEnv("PORT", "8080"),
		EnableAPI:          getEnv("ENABLE_API", "false") == "true",
		DBPath:             getEnv("DB_PATH", "./data/backtest.db"),
		ScenarioPath:       getEnv("SCENARIO_PATH", "./scenario.yaml"),
		InferenceURL:       os.Getenv("INFERENCE_URL"),
		InferenceTimeoutMs: getEnvInt("INFERENCE_TIMEOUT_MS", 10000),
		InferenceRetries:   getEnvInt("INFERENCE_RETRIES", 0),
		InferenceDebug:     getEnv("INFERENCE_DEBUG", "false") == "true",
		ThrottlePerSec:     getEnvFloat("INFERENCE_THROTTLE_PER_SEC", 1),
		TickSize:           getEnvFloat("TICK_SIZE", 0.25),
		CommissionRate:     getEnvFloat("COMMISSION_RATE", 0),
		FlatCommission:     getEnvFloat("FLAT_COMMISSION", 0),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
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
