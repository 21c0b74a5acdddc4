package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

var (
	PORT       string
	DB_URL     string
	JWT_SECRET string

	STRIPE_SECRET_KEY     string
	STRIPE_WEBHOOK_SECRET string

	CORS_ORIGIN string

	// PAST_DUE_GRACE_DAYS is how long after the current period end a
	// past_due subscription keeps limited access before locking.
	PAST_DUE_GRACE_DAYS int

	// ALLOW_NEGATIVE_CREDITS lets refund reversals drive a balance below
	// zero when the credits were already spent.
	ALLOW_NEGATIVE_CREDITS bool
)

func LoadEnv() {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found. Using system environment variables.")
	}

	PORT = getEnv("PORT", "8080")
	DB_URL = mustEnv("DB_URL")
	JWT_SECRET = mustEnv("JWT_SECRET")

	STRIPE_SECRET_KEY = mustEnv("STRIPE_SECRET_KEY")
	STRIPE_WEBHOOK_SECRET = mustEnv("STRIPE_WEBHOOK_SECRET")

	CORS_ORIGIN = getEnv("CORS_ORIGIN", "")

	PAST_DUE_GRACE_DAYS = getEnvInt("PAST_DUE_GRACE_DAYS", 7)
	ALLOW_NEGATIVE_CREDITS = getEnvBool("ALLOW_NEGATIVE_CREDITS", false)
}

func mustEnv(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("Missing required environment variable: %s", key)
	}
	return v
}

func getEnv(key string, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		log.Fatalf("Environment variable %s must be an integer, got %q", key, raw)
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		log.Fatalf("Environment variable %s must be a boolean, got %q", key, raw)
	}
	return b
}
