package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config stores runtime configuration loaded from an optional YAML file and
// environment variables. Environment variables win over the file.
type Config struct {
	AppName          string `yaml:"app_name"`
	Port             string `yaml:"port"`
	Database         string `yaml:"database_path"`
	StoragePath      string `yaml:"storage_path"`
	DefaultConverter string `yaml:"default_converter"`
	MaxUploadSize    int64  `yaml:"max_upload_size"`
	ChromePath       string `yaml:"chrome_path"`
	LogLevel         string `yaml:"log_level"`
	LogFormat        string `yaml:"log_format"`

	// Secrets are only read from the environment.
	SecretKey      string `yaml:"-"`
	OpenAIKey      string `yaml:"-"`
	AnthropicKey   string `yaml:"-"`
	OpenAIModel    string `yaml:"openai_model"`
	AnthropicModel string `yaml:"anthropic_model"`
}

const defaultMaxUploadSize = 50 * 1024 * 1024

// DefaultSecretKey is used when SECRET_KEY is unset. Stored API keys sealed
// under it are readable by anyone with the source.
const DefaultSecretKey = "repage-development-secret"

func defaults() Config {
	return Config{
		AppName:          "RePage PDF",
		Port:             "8018",
		Database:         "./data/repage.db",
		StoragePath:      "./storage",
		DefaultConverter: "pymupdf",
		MaxUploadSize:    defaultMaxUploadSize,
		LogLevel:         "info",
		LogFormat:        "console",
		OpenAIModel:      "gpt-4o-mini",
		AnthropicModel:   "claude-3-haiku-20240307",
	}
}

// Load reads configuration from CONFIG_FILE (if set) and the environment,
// providing sensible defaults, and ensures data directories exist.
func Load() (Config, error) {
	// Load .env file if it exists (useful for development)
	_ = godotenv.Load()

	cfg := defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg.AppName = getEnv("APP_NAME", cfg.AppName)
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.Database = getEnv("DATABASE_PATH", cfg.Database)
	cfg.StoragePath = getEnv("STORAGE_PATH", cfg.StoragePath)
	cfg.DefaultConverter = getEnv("DEFAULT_CONVERTER", cfg.DefaultConverter)
	cfg.MaxUploadSize = getEnvInt64("MAX_UPLOAD_SIZE", cfg.MaxUploadSize)
	cfg.ChromePath = getEnv("CHROME_PATH", cfg.ChromePath)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)
	cfg.SecretKey = getEnv("SECRET_KEY", DefaultSecretKey)
	cfg.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	cfg.AnthropicKey = os.Getenv("ANTHROPIC_API_KEY")
	cfg.OpenAIModel = getEnv("OPENAI_MODEL", cfg.OpenAIModel)
	cfg.AnthropicModel = getEnv("ANTHROPIC_MODEL", cfg.AnthropicModel)

	if err := os.MkdirAll(cfg.StoragePath, 0o755); err != nil {
		return Config{}, fmt.Errorf("ensure storage dir %s: %w", cfg.StoragePath, err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Database), 0o755); err != nil {
		return Config{}, fmt.Errorf("ensure database dir %s: %w", cfg.Database, err)
	}

	return cfg, nil
}

// UsesDefaultSecret reports whether SECRET_KEY fell back to DefaultSecretKey.
func (c Config) UsesDefaultSecret() bool {
	return c.SecretKey == DefaultSecretKey
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
