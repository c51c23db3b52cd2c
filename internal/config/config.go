package config

import (
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Duration struct {
	time.Duration
}

var durationType = reflect.TypeOf(Duration{})

// PlaceholderAPIKey is used when POE_API_KEY is not set. It will not
// authenticate against the real service.
const PlaceholderAPIKey = "YOUR_POE_API_KEY"

type Config struct {
	Server     ServerConfig
	Security   SecurityConfig
	Logging    LoggingConfig
	Poe        PoeConfig
	Validation ValidationConfig
}

type ServerConfig struct {
	Port         int      `env:"PORT" default:"8080"`
	Host         string   `env:"HOST" default:"0.0.0.0"`
	ReadTimeout  Duration `env:"READ_TIMEOUT" default:"30s"`
	WriteTimeout Duration `env:"WRITE_TIMEOUT" default:"120s"`
	AllowedHosts []string `env:"ALLOWED_HOSTS" default:"*"`
}

type SecurityConfig struct {
	EnableHSTS          bool     `env:"ENABLE_HSTS" default:"true"`
	AllowedAPIEndpoints []string `env:"ALLOWED_API_ENDPOINTS" default:"https://api.poe.com"`
	APIKeyMinLength     int      `env:"API_KEY_MIN_LENGTH" default:"10"`
}

type LoggingConfig struct {
	Level            string `env:"LOG_LEVEL" default:"info"`
	Format           string `env:"LOG_FORMAT" default:"text"`
	IncludeTimestamp bool   `env:"LOG_INCLUDE_TIMESTAMP" default:"true"`
	IncludeSource    bool   `env:"LOG_INCLUDE_SOURCE" default:"false"`
}

// PoeConfig describes the chat-completion endpoint. Timeout of zero leaves
// the HTTP client without a deadline; cancellation is then up to the caller's
// context. ShareServerKey lets web callers without a key of their own spend
// APIKey.
type PoeConfig struct {
	APIKey         string   `env:"POE_API_KEY" default:"YOUR_POE_API_KEY"`
	BaseURL        string   `env:"POE_BASE_URL" default:"https://api.poe.com/v1"`
	Model          string   `env:"POE_MODEL" default:"Sora2-South-Park"`
	Prompt         string   `env:"POE_PROMPT" default:"Hello world"`
	Timeout        Duration `env:"POE_TIMEOUT" default:"0s"`
	KeyPrefix      string   `env:"POE_KEY_PREFIX"`
	UserAgent      string   `env:"POE_USER_AGENT" default:"poe-video/1.0"`
	ShareServerKey bool     `env:"POE_SHARE_SERVER_KEY" default:"false"`
}

type ValidationConfig struct {
	MaxMessageLength int `env:"MAX_MESSAGE_LENGTH" default:"4000"`
	MaxMessages      int `env:"MAX_MESSAGES" default:"32"`
}

// Load builds the configuration once at startup: defaults from struct tags,
// then .env files, then the process environment.
func Load() (*Config, error) {
	cfg := &Config{}

	loadEnvFiles()

	if err := setDefaults(cfg); err != nil {
		return nil, fmt.Errorf("failed to set defaults: %w", err)
	}

	if err := loadFromEnv(cfg, os.Getenv); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration with only struct-tag defaults applied.
func Default() *Config {
	cfg := &Config{}
	if err := setDefaults(cfg); err != nil {
		panic(fmt.Sprintf("config: invalid default tag: %v", err))
	}
	return cfg
}

func loadEnvFiles() {
	for _, file := range envFiles(GetEnvironment()) {
		if _, err := os.Stat(file); err == nil {
			// godotenv.Load never overrides variables that are already set,
			// so earlier files win over later ones.
			_ = godotenv.Load(file)
		}
	}
}

func envFiles(env string) []string {
	return []string{
		fmt.Sprintf(".env.%s.local", env),
		fmt.Sprintf(".env.%s", env),
		".env.local",
		".env",
	}
}

func GetEnvironment() string {
	env := os.Getenv("GO_ENV")
	if env == "" {
		env = os.Getenv("ENVIRONMENT")
	}
	if env == "" {
		env = "production"
	}
	return strings.ToLower(env)
}

func setDefaults(cfg *Config) error {
	return walkFields(reflect.ValueOf(cfg).Elem(), func(field reflect.Value, sf reflect.StructField) error {
		defaultTag := sf.Tag.Get("default")
		if defaultTag == "" {
			return nil
		}
		if err := setFieldFromString(field, defaultTag); err != nil {
			return fmt.Errorf("failed to set default for field %s: %w", sf.Name, err)
		}
		return nil
	})
}

// loadFromEnv overrides fields whose env variable is set and non-empty.
// An empty variable counts as unset, so POE_API_KEY="" keeps the placeholder.
func loadFromEnv(cfg *Config, getenv func(string) string) error {
	return walkFields(reflect.ValueOf(cfg).Elem(), func(field reflect.Value, sf reflect.StructField) error {
		envTag := sf.Tag.Get("env")
		if envTag == "" {
			return nil
		}
		envValue := getenv(envTag)
		if envValue == "" {
			return nil
		}
		if err := setFieldFromString(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s from env var %s: %w", sf.Name, envTag, err)
		}
		return nil
	})
}

// walkFields calls fn for every settable leaf field, descending into nested
// config sections. Duration is treated as a leaf.
func walkFields(v reflect.Value, fn func(reflect.Value, reflect.StructField) error) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct && fieldType.Type != durationType {
			if err := walkFields(field, fn); err != nil {
				return err
			}
			continue
		}

		if err := fn(field, fieldType); err != nil {
			return err
		}
	}
	return nil
}

func setFieldFromString(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intValue)

	case reflect.Float32, reflect.Float64:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatValue)

	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolValue)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			var slice []string
			if value != "" {
				slice = strings.Split(value, ",")
				for i, v := range slice {
					slice[i] = strings.TrimSpace(v)
				}
			}
			field.Set(reflect.ValueOf(slice))
		}

	case reflect.Struct:
		if field.Type() == durationType {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.Set(reflect.ValueOf(Duration{duration}))
		}

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", cfg.Server.Port)
	}

	if cfg.Server.ReadTimeout.Duration <= 0 || cfg.Server.WriteTimeout.Duration <= 0 {
		return fmt.Errorf("server read and write timeouts must be positive")
	}

	if cfg.Security.APIKeyMinLength < 1 {
		return fmt.Errorf("invalid API key minimum length: %d (must be at least 1)", cfg.Security.APIKeyMinLength)
	}

	if cfg.Validation.MaxMessageLength < 1 {
		return fmt.Errorf("invalid max message length: %d (must be at least 1)", cfg.Validation.MaxMessageLength)
	}

	if cfg.Validation.MaxMessages < 1 {
		return fmt.Errorf("invalid max messages: %d (must be at least 1)", cfg.Validation.MaxMessages)
	}

	if cfg.Poe.Timeout.Duration < 0 {
		return fmt.Errorf("invalid poe timeout: %s (must not be negative)", cfg.Poe.Timeout.Duration)
	}

	baseURL, err := url.Parse(cfg.Poe.BaseURL)
	if err != nil || baseURL.Scheme == "" || baseURL.Host == "" {
		return fmt.Errorf("invalid poe base URL: %q", cfg.Poe.BaseURL)
	}

	if strings.TrimSpace(cfg.Poe.Model) == "" {
		return fmt.Errorf("poe model must not be empty")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, cfg.Logging.Level) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", cfg.Logging.Level, strings.Join(validLogLevels, ", "))
	}

	validLogFormats := []string{"json", "text"}
	if !contains(validLogFormats, cfg.Logging.Format) {
		return fmt.Errorf("invalid log format: %s (must be one of: %s)", cfg.Logging.Format, strings.Join(validLogFormats, ", "))
	}

	return nil
}

// UsesPlaceholderKey reports whether no real credential was configured.
func (c *PoeConfig) UsesPlaceholderKey() bool {
	return c.APIKey == "" || c.APIKey == PlaceholderAPIKey
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
