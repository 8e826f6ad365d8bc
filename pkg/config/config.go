package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port             string
	JWTSecret        string
	JWTAccessExpiry  time.Duration
	JWTRefreshExpiry time.Duration

	DatabaseURL string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleProjectID    string
	GooglePubSubTopic  string
	GoogleCredentials  string

	ChromaAPIKey   string
	ChromaTenant   string
	ChromaDatabase string
	GeminiApiKey   string

	FirebaseCredentials string

	// Mailbox sync engine settings
	SyncPollEnabled      bool
	SyncPollInterval     time.Duration
	SyncQueryFilter      string // optional Gmail query applied to listings
	SyncLegacyMaxPages   int    // page bound for the legacy list-pagination path
	SyncPageDelay        time.Duration
	SyncFetchConcurrency int
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	accessExpiry := 15 * time.Minute
	if exp := os.Getenv("JWT_ACCESS_EXPIRY"); exp != "" {
		if parsed, err := time.ParseDuration(exp); err == nil {
			accessExpiry = parsed
		}
	}

	refreshExpiry := 7 * 24 * time.Hour
	if exp := os.Getenv("JWT_REFRESH_EXPIRY"); exp != "" {
		if parsed, err := time.ParseDuration(exp); err == nil {
			refreshExpiry = parsed
		}
	}

	pollInterval := time.Duration(getEnvInt("SYNC_POLL_INTERVAL_SECONDS", 60)) * time.Second
	pageDelay := time.Duration(getEnvInt("SYNC_PAGE_DELAY_MS", 500)) * time.Millisecond

	return &Config{
		Port:             getEnv("PORT", "8080"),
		JWTSecret:        getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		JWTAccessExpiry:  accessExpiry,
		JWTRefreshExpiry: refreshExpiry,

		DatabaseURL: getEnv("DATABASE_URL", "host=localhost user=postgres password=postgres dbname=mailsync port=5432 sslmode=disable"),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleProjectID:    getEnv("GOOGLE_PROJECT_ID", ""),
		GooglePubSubTopic:  getEnv("GOOGLE_PUBSUB_TOPIC", "gmail-updates"),
		GoogleCredentials:  getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),

		ChromaAPIKey:   getEnv("CHROMA_API_KEY", ""),
		ChromaTenant:   getEnv("CHROMA_TENANT", ""),
		ChromaDatabase: getEnv("CHROMA_DATABASE", ""),
		GeminiApiKey:   getEnv("GEMINI_API_KEY", ""),

		FirebaseCredentials: getEnv("FIREBASE_CREDENTIALS", ""),

		SyncPollEnabled:      getEnvBool("SYNC_POLL_ENABLED", true),
		SyncPollInterval:     pollInterval,
		SyncQueryFilter:      getEnv("SYNC_QUERY_FILTER", ""),
		SyncLegacyMaxPages:   getEnvInt("SYNC_LEGACY_MAX_PAGES", 10),
		SyncPageDelay:        pageDelay,
		SyncFetchConcurrency: getEnvInt("SYNC_FETCH_CONCURRENCY", 10),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
