package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"    validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database"  validate:"required"`
	Worker    WorkerConfig    `mapstructure:"worker"    validate:"required"`
	Batch     BatchConfig     `mapstructure:"batch"     validate:"required"`
	LLM       LLMConfig       `mapstructure:"llm"       validate:"required"`
	Knowledge KnowledgeConfig `mapstructure:"knowledge"`
	Notify    NotifyConfig    `mapstructure:"notify"`
}

// ServerConfig contains the admin API and logging settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig selects the job/report store backend.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"            validate:"required,oneof=postgres sqlite"`
	URL             string        `mapstructure:"url"               validate:"required"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"    validate:"gte=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"    validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
}

// WorkerConfig controls the job runner.
type WorkerConfig struct {
	// ID identifies this process in claimed_by; the hostname is used when empty.
	ID                 string        `mapstructure:"id"`
	Count              int           `mapstructure:"count"                validate:"gte=1,lte=64"`
	PollInterval       time.Duration `mapstructure:"poll_interval"        validate:"gt=0"`
	StuckJobAge        time.Duration `mapstructure:"stuck_job_age"        validate:"gt=0"`
	StuckCheckInterval time.Duration `mapstructure:"stuck_check_interval" validate:"gt=0"`
	// HeartbeatInterval refreshes the claim of a running job; zero derives
	// it from StuckJobAge.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" validate:"gte=0"`
}

// BatchConfig holds the per-job batch defaults; job input may override size
// and concurrency.
type BatchConfig struct {
	Size           int           `mapstructure:"size"            validate:"gte=1,lte=50"`
	Concurrency    int           `mapstructure:"concurrency"     validate:"gte=1,lte=16"`
	Timeout        time.Duration `mapstructure:"timeout"         validate:"gt=0"`
	SummaryTimeout time.Duration `mapstructure:"summary_timeout" validate:"gt=0"`
}

// LLMConfig contains the generative backend settings.
type LLMConfig struct {
	GeminiAPIKey      string `mapstructure:"gemini_api_key"`
	OpenAIAPIKey      string `mapstructure:"openai_api_key"`
	OpenAIBaseURL     string `mapstructure:"openai_base_url"     validate:"omitempty,url"`
	DefaultModel      string `mapstructure:"default_model"       validate:"required"`
	MaxRetries        int    `mapstructure:"max_retries"         validate:"gte=0,lte=10"`
	RetryDelaySeconds int    `mapstructure:"retry_delay_seconds" validate:"gte=0,lte=60"`
	// PromptsPath optionally overrides the embedded prompt library.
	PromptsPath string `mapstructure:"prompts_path"`
}

// KnowledgeConfig configures the knowledge retrieval gate.
type KnowledgeConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	SearchURL string        `mapstructure:"search_url" validate:"required_if=Enabled true,omitempty,url"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"  validate:"gt=0"`
	CacheSize int           `mapstructure:"cache_size" validate:"gte=1"`
	MaxChars  int           `mapstructure:"max_chars"  validate:"gte=1"`
	TopK      int           `mapstructure:"top_k"      validate:"gte=1,lte=50"`
	MinScore  float64       `mapstructure:"min_score"  validate:"gte=0,lte=1"`
	Timeout   time.Duration `mapstructure:"timeout"    validate:"gt=0"`
	// RedisURL switches the gate cache to a shared Redis instance.
	RedisURL string `mapstructure:"redis_url"`
}

// NotifyConfig configures RabbitMQ wake-up notifications; disabled when
// AMQPURL is empty.
type NotifyConfig struct {
	AMQPURL string `mapstructure:"amqp_url"`
	Queue   string `mapstructure:"queue"    validate:"required"`
}
