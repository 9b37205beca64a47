package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment override, e.g.
// REPORTGEN_DATABASE_URL for database.url.
const EnvPrefix = "REPORTGEN"

// ConfigPathEnv names an explicit config file.
const ConfigPathEnv = "REPORTGEN_CONFIG"

var defaults = map[string]any{
	"server.port":      8080,
	"server.log_level": "info",

	"database.driver":            "postgres",
	"database.url":               "",
	"database.max_open_conns":    25,
	"database.max_idle_conns":    25,
	"database.conn_max_lifetime": "5m",

	"worker.id":                   "",
	"worker.count":                2,
	"worker.poll_interval":        "2s",
	"worker.stuck_job_age":        "30m",
	"worker.stuck_check_interval": "1m",
	"worker.heartbeat_interval":   "5m",

	"batch.size":            5,
	"batch.concurrency":     3,
	"batch.timeout":         "3m",
	"batch.summary_timeout": "6m",

	"llm.gemini_api_key":      "",
	"llm.openai_api_key":      "",
	"llm.openai_base_url":     "https://api.openai.com/v1",
	"llm.default_model":       "gemini-2.5-flash",
	"llm.max_retries":         3,
	"llm.retry_delay_seconds": 2,
	"llm.prompts_path":        "",

	"knowledge.enabled":    false,
	"knowledge.search_url": "",
	"knowledge.cache_ttl":  "5m",
	"knowledge.cache_size": 100,
	"knowledge.max_chars":  2000,
	"knowledge.top_k":      5,
	"knowledge.min_score":  0.35,
	"knowledge.timeout":    "10s",
	"knowledge.redis_url":  "",

	"notify.amqp_url": "",
	"notify.queue":    "report_jobs",
}

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path := os.Getenv(ConfigPathEnv); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the struct tags of cfg.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
