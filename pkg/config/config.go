package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort      string
	Environment     string
	StorageBackend  string // "firestore" or "badger"
	BadgerPath      string
	FirebaseProject string

	// Gateway settings (cmd/gateway only).
	GatewayPort    string
	AuthServiceURL string
	APIServiceURL  string

	DeltaRetries int
}

func Load() (*Config, error) {
	godotenv.Load()

	config := &Config{
		ServerPort:      getEnv("SERVER_PORT", "8080"),
		Environment:     getEnv("ENVIRONMENT", "development"),
		StorageBackend:  getEnv("STORAGE_BACKEND", "badger"),
		BadgerPath:      getEnv("BADGER_PATH", "./data/messaging"),
		FirebaseProject: getEnv("FIREBASE_PROJECT_ID", ""),
		GatewayPort:     getEnv("GATEWAY_PORT", "8000"),
		AuthServiceURL:  getEnv("AUTH_SERVICE_URL", "http://127.0.0.1:5001"),
		APIServiceURL:   getEnv("API_SERVICE_URL", "http://127.0.0.1:8080"),
		DeltaRetries:    getEnvAsInt("DELTA_RETRIES", 5),
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		intValue, err := strconv.Atoi(value)
		if err == nil {
			return intValue
		}
	}
	return defaultValue
}
