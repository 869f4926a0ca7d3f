package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Azure OpenAI
	AzureEndpoint   string
	AzureAPIKey     string
	AzureDeployment string
	AzureAPIVersion string
	// UseResponsesAPI selects the stateful responses endpoint with
	// previous_response_id chaining. When false the legacy chat-completions
	// endpoint is used and every request replays a trailing history window.
	UseResponsesAPI bool

	DatabaseURL string
	HTTPPort    string
	LogLevel    string
	JWTSecret   string

	// Generation limits
	MaxOutputTokens   int
	MaxHistoryWindow  int
	MaxInputChars     int
	MaxAttachmentSize int64

	// Per-user rate limiting
	RequestsPerMinute int
	CooldownSeconds   int
}

var AppConfig Config

func LoadConfig() {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	AppConfig = Config{
		AzureEndpoint:   getEnv("AZURE_OPENAI_ENDPOINT", ""),
		AzureAPIKey:     getEnv("AZURE_OPENAI_API_KEY", ""),
		AzureDeployment: getEnv("AZURE_OPENAI_DEPLOYMENT_NAME", "gpt-4o"),
		AzureAPIVersion: getEnv("AZURE_OPENAI_API_VERSION", "2024-08-01-preview"),
		UseResponsesAPI: getEnvAsBool("AZURE_USE_RESPONSES_API", true),

		DatabaseURL: getEnv("DATABASE_URL", "azurechat.db"),
		HTTPPort:    getEnv("HTTP_PORT", "4000"),
		LogLevel:    getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:   getEnv("JWT_SECRET", ""),

		MaxOutputTokens:   getEnvAsInt("MAX_OUTPUT_TOKENS", 4000),
		MaxHistoryWindow:  getEnvAsInt("MAX_HISTORY_WINDOW", 15),
		MaxInputChars:     getEnvAsInt("MAX_INPUT_CHARS", 4000),
		MaxAttachmentSize: int64(getEnvAsInt("MAX_ATTACHMENT_BYTES", 10*1024*1024)),

		RequestsPerMinute: getEnvAsInt("REQUESTS_PER_MINUTE", 15),
		CooldownSeconds:   getEnvAsInt("REQUEST_COOLDOWN_SECONDS", 2),
	}

	if AppConfig.AzureEndpoint == "" {
		log.Fatal("AZURE_OPENAI_ENDPOINT environment variable is required")
	}

	if AppConfig.AzureAPIKey == "" {
		log.Fatal("AZURE_OPENAI_API_KEY environment variable is required")
	}

	if AppConfig.JWTSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}
