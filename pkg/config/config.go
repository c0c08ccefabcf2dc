package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort      string
	FirebaseProject string
	Environment     string

	// Refresh coalescing for the conversation list: bursts of realtime
	// events within DebounceWindow collapse into one fetch, and fetches
	// never run more often than once per MinRefreshInterval.
	DebounceWindow     time.Duration
	MinRefreshInterval time.Duration

	// Realtime subscription recovery.
	SubscribeRetries int
	SubscribeBackoff time.Duration
	PollInterval     time.Duration
}

func Load() (*Config, error) {
	godotenv.Load()

	config := &Config{
		ServerPort:         getEnv("SERVER_PORT", "8080"),
		FirebaseProject:    getEnv("FIREBASE_PROJECT_ID", ""),
		Environment:        getEnv("ENVIRONMENT", "development"),
		DebounceWindow:     getEnvAsMillis("REFRESH_DEBOUNCE_MS", 100),
		MinRefreshInterval: getEnvAsMillis("REFRESH_MIN_INTERVAL_MS", 200),
		SubscribeRetries:   int(getEnvAsInt64("SUBSCRIBE_RETRIES", 3)),
		SubscribeBackoff:   getEnvAsMillis("SUBSCRIBE_BACKOFF_MS", 1000),
		PollInterval:       getEnvAsMillis("POLL_INTERVAL_MS", 15000),
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsMillis(key string, defaultValue int64) time.Duration {
	return time.Duration(getEnvAsInt64(key, defaultValue)) * time.Millisecond
}
