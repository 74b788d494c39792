package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"photo-critic/api/internal/critique/types"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	LLM      LLMConfig      `mapstructure:"llm"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Gemini   GeminiConfig   `mapstructure:"gemini"`
	Critique CritiqueConfig `mapstructure:"critique"`
	Prompt   PromptConfig   `mapstructure:"prompt"`
	Image    ImageConfig    `mapstructure:"image"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`
}

type ServerConfig struct {
	Port           string        `mapstructure:"port"`
	Mode           string        `mapstructure:"mode"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxUpload      int64         `mapstructure:"max_upload"`
}

type LLMConfig struct {
	DefaultEngine string `mapstructure:"default_engine"`
}

type OpenAIConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	BaseURL    string `mapstructure:"base_url"`
	MaxRetries int    `mapstructure:"max_retries"`
}

type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type CritiqueConfig struct {
	CoordinateScale string  `mapstructure:"coordinate_scale"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
}

type PromptConfig struct {
	Dir string `mapstructure:"dir"`
}

type ImageConfig struct {
	MaxSide   int `mapstructure:"max_side"`
	MaxPixels int `mapstructure:"max_pixels"`
}

type TelegramConfig struct {
	Token      string `mapstructure:"token"`
	WebhookURL string `mapstructure:"webhook_url"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// LoadDotEnv reads .env files into the process environment. A missing file is not an error.
func LoadDotEnv(files ...string) error {
	err := godotenv.Load(files...)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Load reads an optional YAML file (empty path: ./config.yaml if present)
// and overlays environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindAliases(v); err != nil {
		return nil, err
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.request_timeout", 180*time.Second)
	v.SetDefault("server.max_upload", 20<<20)

	v.SetDefault("llm.default_engine", "gpt")

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model", "gpt-4o")
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.max_retries", 1)

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model", "gemini-2.5-flash")

	v.SetDefault("critique.coordinate_scale", string(types.ScaleFraction))
	v.SetDefault("critique.max_tokens", 1200)
	v.SetDefault("critique.temperature", 0.7)

	v.SetDefault("prompt.dir", "")

	v.SetDefault("image.max_side", 768)
	v.SetDefault("image.max_pixels", 50_000_000)

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.webhook_url", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("database.url", "")
}

// flat names from the original deployment
func bindAliases(v *viper.Viper) error {
	aliases := map[string][]string{
		"server.port":          {"SERVER_PORT", "PORT"},
		"server.mode":          {"SERVER_MODE", "GIN_MODE"},
		"telegram.token":       {"TELEGRAM_TOKEN", "TELEGRAM_BOT_TOKEN"},
		"telegram.webhook_url": {"TELEGRAM_WEBHOOK_URL", "WEBHOOK_URL"},
		"llm.default_engine":   {"LLM_DEFAULT_ENGINE", "LLM_NAME"},
	}
	for key, envs := range aliases {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) Validate() error {
	if _, err := types.ParseCoordinateScale(c.Critique.CoordinateScale); err != nil {
		return err
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("server.mode: unknown mode %q", c.Server.Mode)
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be positive")
	}
	if c.Critique.MaxTokens <= 0 {
		return fmt.Errorf("critique.max_tokens must be positive")
	}
	return nil
}

// Scale returns the validated coordinate scale.
func (c *Config) Scale() types.CoordinateScale {
	s, _ := types.ParseCoordinateScale(c.Critique.CoordinateScale)
	return s
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	p := strings.TrimSpace(c.Server.Port)
	if strings.Contains(p, ":") {
		return p
	}
	return ":" + p
}
