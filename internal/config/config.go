package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	PublicBaseURL string

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Twilio WhatsApp channel
	TwilioAccountSID     string
	TwilioAuthToken      string
	TwilioWhatsAppNumber string
	MaxMessageLength     int
	ChunkSendDelay       time.Duration

	// Gemini intent classifier
	GeminiAPIKey      string
	GeminiModelID     string
	ClassifierTimeout time.Duration

	// Docser knowledge base (free-text medical queries)
	KnowledgeAPIURL     string
	KnowledgeAPIToken   string
	KnowledgeOrgID      string
	KnowledgeCollection string
	KnowledgeTimeout    time.Duration

	// Google Calendar invites
	GoogleServiceAccountJSON   string
	GoogleCalendarID           string
	GoogleOrganizerEmail       string
	GoogleDomainWideDelegation bool
	CalendarTimeout            time.Duration

	// Clinic scheduling policy
	ClinicName      string
	ClinicTimezone  string
	ClinicOpenHour  int
	ClinicCloseHour int
	SlotDuration    time.Duration

	// Record-store retry policy
	StoreRetryAttempts  int
	StoreRetryBaseDelay time.Duration
	StoreRetryMaxDelay  time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),

		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		TwilioAccountSID:     getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:      getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioWhatsAppNumber: getEnv("TWILIO_WHATSAPP_NUMBER", ""),
		MaxMessageLength:     getEnvAsInt("MAX_MESSAGE_LENGTH", 1500),
		ChunkSendDelay:       getEnvAsDuration("CHUNK_SEND_DELAY", 1500*time.Millisecond),

		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:     getEnv("GEMINI_MODEL_ID", "gemini-1.5-flash"),
		ClassifierTimeout: getEnvAsDuration("CLASSIFIER_TIMEOUT", 8*time.Second),

		KnowledgeAPIURL:     getEnv("DOCSER_API_URL", ""),
		KnowledgeAPIToken:   getEnv("DOCSER_API_TOKEN", ""),
		KnowledgeOrgID:      getEnv("DOCSER_ORG_ID", ""),
		KnowledgeCollection: getEnv("DOCSER_COLLECTION_NAME", ""),
		KnowledgeTimeout:    getEnvAsDuration("DOCSER_TIMEOUT", 100*time.Second),

		GoogleServiceAccountJSON:   getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleCalendarID:           getEnv("GOOGLE_CALENDAR_ID", "primary"),
		GoogleOrganizerEmail:       getEnv("GOOGLE_CALENDAR_ORGANIZER_EMAIL", ""),
		GoogleDomainWideDelegation: getEnvAsBool("GOOGLE_DOMAIN_WIDE_DELEGATION", false),
		CalendarTimeout:            getEnvAsDuration("CALENDAR_TIMEOUT", 10*time.Second),

		ClinicName:      getEnv("CLINIC_NAME", "Dr. Sunil Mishra's Hair & Trichology Clinic"),
		ClinicTimezone:  getEnv("CLINIC_TIMEZONE", "Asia/Kolkata"),
		ClinicOpenHour:  getEnvAsInt("CLINIC_OPEN_HOUR", 10),
		ClinicCloseHour: getEnvAsInt("CLINIC_CLOSE_HOUR", 22),
		SlotDuration:    getEnvAsDuration("SLOT_DURATION", 30*time.Minute),

		StoreRetryAttempts:  getEnvAsInt("STORE_RETRY_ATTEMPTS", 3),
		StoreRetryBaseDelay: getEnvAsDuration("STORE_RETRY_BASE_DELAY", time.Second),
		StoreRetryMaxDelay:  getEnvAsDuration("STORE_RETRY_MAX_DELAY", 8*time.Second),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
