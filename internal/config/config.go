// Package config loads parley configuration from the environment, an
// optional .env file, and a YAML session file.
package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the process configuration.
type Config struct {
	Env         string
	LogLevel    string
	Port        string
	HistoryPath string
	SessionPath string

	// SpeechDir receives synthesized audio; empty disables speech.
	SpeechDir string

	OpenAI OpenAIConfig
	Google GoogleConfig
}

// OpenAIConfig configures the model transport.
type OpenAIConfig struct {
	// APIKeys is a comma-separated key list; the client rotates through it.
	APIKeys         string
	BaseURL         string
	Model           string
	ClassifierModel string

	// Fallback is a second OpenAI-compatible endpoint used when BaseURL
	// fails. It is disabled while its BaseURL is empty.
	Fallback FallbackConfig
}

// FallbackConfig describes the fallback endpoint. Empty fields inherit
// the primary's values.
type FallbackConfig struct {
	BaseURL string
	APIKeys string
	Model   string
}

// Enabled reports whether a fallback endpoint is configured.
func (f FallbackConfig) Enabled() bool {
	return f.BaseURL != ""
}

// GoogleConfig configures transcript export.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	TokenPath    string
}

// Load reads configuration from environment variables. Outside production
// a .env file in the working directory is loaded first; variables already
// set in the environment win.
func Load() Config {
	if getEnv("GO_ENV", "development") != "production" {
		_ = godotenv.Load()
	}

	return Config{
		Env:         getEnv("GO_ENV", "development"),
		LogLevel:    getEnv("PARLEY_LOG_LEVEL", "info"),
		Port:        getEnv("PARLEY_PORT", "8080"),
		HistoryPath: getEnv("PARLEY_HISTORY", ""),
		SessionPath: getEnv("PARLEY_SESSION", ""),
		SpeechDir:   getEnv("PARLEY_TTS", ""),
		OpenAI: OpenAIConfig{
			APIKeys:         firstEnv("OPENAI_API_KEYS", "OPENAI_API_KEY"),
			BaseURL:         getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Model:           getEnv("PARLEY_MODEL", "gpt-4o-mini"),
			ClassifierModel: getEnv("PARLEY_CLASSIFIER_MODEL", ""),
			Fallback: FallbackConfig{
				BaseURL: getEnv("OPENAI_FALLBACK_BASE_URL", ""),
				APIKeys: getEnv("OPENAI_FALLBACK_API_KEYS", ""),
				Model:   getEnv("PARLEY_FALLBACK_MODEL", ""),
			},
		},
		Google: GoogleConfig{
			ClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
			ClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
			TokenPath:    getEnv("GOOGLE_TOKEN_PATH", ".parley/google_token.json"),
		},
	}
}

// IsProduction reports whether GO_ENV is production.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// Addr returns the dashboard listen address.
func (c Config) Addr() string {
	if strings.Contains(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
