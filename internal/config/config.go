package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Server     ServerConfig     `mapstructure:"server"`
	Balance    BalanceConfig    `mapstructure:"balance"`
	Categorize CategorizeConfig `mapstructure:"categorize"`
	LLM        LLMConfig        `mapstructure:"llm"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	UI         UIConfig         `mapstructure:"ui"`
	Log        LogConfig        `mapstructure:"log"`
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig holds HTTP settings. An empty PasswordHash disables auth.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	PasswordHash string        `mapstructure:"password_hash"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// BalanceConfig holds reconciliation thresholds. Values are decimal strings.
type BalanceConfig struct {
	AlertThreshold string `mapstructure:"alert_threshold"`
	HighThreshold  string `mapstructure:"high_threshold"`
	Default        string `mapstructure:"default"`
}

// CategorizeConfig holds rule matcher settings.
type CategorizeConfig struct {
	FallbackCategory string `mapstructure:"fallback_category"`
}

// LLMConfig holds provider settings. Candidates are tried in order, each as
// "provider:model".
type LLMConfig struct {
	Candidates      []string      `mapstructure:"candidates"`
	GeminiAPIKeyEnv string        `mapstructure:"gemini_api_key_env"`
	OpenAIAPIKeyEnv string        `mapstructure:"openai_api_key_env"`
	GeminiAPIKey    string        `mapstructure:"gemini_api_key"`
	OpenAIAPIKey    string        `mapstructure:"openai_api_key"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// RateLimitConfig bounds insight requests per session.
type RateLimitConfig struct {
	InsightsPerMinute int `mapstructure:"insights_per_minute"`
	Burst             int `mapstructure:"burst"`
}

// UIConfig holds presentation settings.
type UIConfig struct {
	DateFormat     string `mapstructure:"date_format"`
	CurrencySymbol string `mapstructure:"currency_symbol"`
	Timezone       string `mapstructure:"timezone"`
}

// LogConfig selects level and output format ("console" or "json").
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Path returns the config file location.
func Path() string {
	if p := os.Getenv("SALDO_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(os.Getenv("HOME"), ".config", "saldo", "config.toml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", filepath.Join(os.Getenv("HOME"), ".local", "share", "saldo", "saldo.db"))
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.password_hash", "")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("balance.alert_threshold", "50")
	v.SetDefault("balance.high_threshold", "200")
	v.SetDefault("balance.default", "0")
	v.SetDefault("categorize.fallback_category", "Uncategorised")
	v.SetDefault("llm.candidates", []string{"gemini:gemini-2.5-flash", "openai:gpt-4o-mini", "local:heuristic"})
	v.SetDefault("llm.gemini_api_key_env", "GEMINI_API_KEY")
	v.SetDefault("llm.openai_api_key_env", "OPENAI_API_KEY")
	v.SetDefault("llm.gemini_api_key", "")
	v.SetDefault("llm.openai_api_key", "")
	v.SetDefault("llm.timeout", 30*time.Second)
	v.SetDefault("ratelimit.insights_per_minute", 6)
	v.SetDefault("ratelimit.burst", 2)
	v.SetDefault("ui.date_format", "02/01")
	v.SetDefault("ui.currency_symbol", "$")
	v.SetDefault("ui.timezone", "Australia/Melbourne")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Load reads configuration from file and env. Env var overrides use prefix SALDO_.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("toml")

	if cfgPath := os.Getenv("SALDO_CONFIG"); cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "saldo"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("SALDO")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate rejects settings the application cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return fmt.Errorf("config: database.path is empty")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	if strings.TrimSpace(c.Categorize.FallbackCategory) == "" {
		return fmt.Errorf("config: categorize.fallback_category is empty")
	}
	for _, cand := range c.LLM.Candidates {
		if !strings.Contains(cand, ":") {
			return fmt.Errorf("config: llm candidate %q must be provider:model", cand)
		}
	}
	return nil
}

// Save writes the provided config to disk, creating the config directory if needed.
// API keys are stored in plain text; prefer env vars or `saldo key set`.
func Save(cfg Config) error {
	path := Path()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("database.path", cfg.Database.Path)
	v.Set("server.host", cfg.Server.Host)
	v.Set("server.port", cfg.Server.Port)
	v.Set("server.password_hash", cfg.Server.PasswordHash)
	v.Set("server.read_timeout", cfg.Server.ReadTimeout.String())
	v.Set("server.write_timeout", cfg.Server.WriteTimeout.String())
	v.Set("balance.alert_threshold", cfg.Balance.AlertThreshold)
	v.Set("balance.high_threshold", cfg.Balance.HighThreshold)
	v.Set("balance.default", cfg.Balance.Default)
	v.Set("categorize.fallback_category", cfg.Categorize.FallbackCategory)
	v.Set("llm.candidates", cfg.LLM.Candidates)
	v.Set("llm.gemini_api_key_env", cfg.LLM.GeminiAPIKeyEnv)
	v.Set("llm.openai_api_key_env", cfg.LLM.OpenAIAPIKeyEnv)
	v.Set("llm.gemini_api_key", cfg.LLM.GeminiAPIKey)
	v.Set("llm.openai_api_key", cfg.LLM.OpenAIAPIKey)
	v.Set("llm.timeout", cfg.LLM.Timeout.String())
	v.Set("ratelimit.insights_per_minute", cfg.RateLimit.InsightsPerMinute)
	v.Set("ratelimit.burst", cfg.RateLimit.Burst)
	v.Set("ui.date_format", cfg.UI.DateFormat)
	v.Set("ui.currency_symbol", cfg.UI.CurrencySymbol)
	v.Set("ui.timezone", cfg.UI.Timezone)
	v.Set("log.level", cfg.Log.Level)
	v.Set("log.format", cfg.Log.Format)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
