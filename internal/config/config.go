package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the genqueue server, worker and CLI.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Queue    QueueConfig
	Worker   WorkerConfig
	Reaper   ReaperConfig
	Notify   NotifyConfig
	AI       AIConfig
}

type ServerConfig struct {
	Port            int
	Env             string
	LogLevel        string
	RateLimitPerMin int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Driver returns "sqlite" for sqlite:// URLs and "postgres" otherwise.
func (c DatabaseConfig) Driver() string {
	if strings.HasPrefix(c.URL, "sqlite://") {
		return "sqlite"
	}
	return "postgres"
}

type RedisConfig struct {
	URL string
}

// QueueConfig describes the single named dispatch queue and its time limits.
type QueueConfig struct {
	Name          string
	SoftTimeLimit time.Duration
	HardTimeLimit time.Duration
	MaxDeliveries int
}

type WorkerConfig struct {
	Concurrency       int
	HeartbeatInterval time.Duration
	ReserveWait       time.Duration
	ShutdownTimeout   time.Duration
}

type ReaperConfig struct {
	Interval        time.Duration
	PendingTimeout  time.Duration
	ProcessingGrace time.Duration
}

type NotifyConfig struct {
	Channel string
}

type AIConfig struct {
	Provider         string
	InferenceTimeout time.Duration
	Fake             FakeConfig
	Ollama           OllamaConfig
	VLLM             VLLMConfig
	OpenAI           OpenAIConfig
	Anthropic        AnthropicConfig
}

type FakeConfig struct {
	Latency time.Duration
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type VLLMConfig struct {
	BaseURL string
	Model   string
}

type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type AnthropicConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

var validProviders = map[string]bool{
	"fake":      true,
	"ollama":    true,
	"vllm":      true,
	"openai":    true,
	"anthropic": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            envInt("GENQUEUE_PORT", 8080),
			Env:             envString("GENQUEUE_ENV", "development"),
			LogLevel:        envString("LOG_LEVEL", "info"),
			RateLimitPerMin: envInt("RATE_LIMIT_PER_MINUTE", 60),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Queue: QueueConfig{
			Name:          envString("QUEUE_NAME", "ai_jobs"),
			SoftTimeLimit: envDurationSecs("QUEUE_SOFT_TIME_LIMIT_SECS", 90*time.Second),
			HardTimeLimit: envDurationSecs("QUEUE_HARD_TIME_LIMIT_SECS", 120*time.Second),
			MaxDeliveries: envInt("QUEUE_MAX_DELIVERIES", 3),
		},
		Worker: WorkerConfig{
			Concurrency:       envInt("WORKER_CONCURRENCY", 2),
			HeartbeatInterval: envDuration("WORKER_HEARTBEAT_INTERVAL", 10*time.Second),
			ReserveWait:       envDuration("WORKER_RESERVE_WAIT", 5*time.Second),
			ShutdownTimeout:   envDuration("WORKER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Reaper: ReaperConfig{
			Interval:        envDuration("REAPER_INTERVAL", 30*time.Second),
			PendingTimeout:  envDurationSecs("PENDING_TIMEOUT_SECS", 300*time.Second),
			ProcessingGrace: envDuration("PROCESSING_GRACE", 30*time.Second),
		},
		Notify: NotifyConfig{
			Channel: envString("NOTIFY_CHANNEL", "job_notifications"),
		},
		AI: AIConfig{
			Provider:         envString("AI_PROVIDER", "fake"),
			InferenceTimeout: envDurationSecs("AI_INFERENCE_TIMEOUT_SECS", 60*time.Second),
			Fake: FakeConfig{
				Latency: envDuration("FAKE_AI_LATENCY", 2*time.Second),
			},
			Ollama: OllamaConfig{
				BaseURL: envString("OLLAMA_BASE_URL", "http://localhost:11434"),
				Model:   envString("OLLAMA_MODEL", "llama3"),
			},
			VLLM: VLLMConfig{
				BaseURL: envString("VLLM_BASE_URL", "http://localhost:8000"),
				Model:   envString("VLLM_MODEL", ""),
			},
			OpenAI: OpenAIConfig{
				BaseURL: envString("OPENAI_BASE_URL", "https://api.openai.com"),
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				Model:   envString("OPENAI_MODEL", "gpt-4o-mini"),
			},
			Anthropic: AnthropicConfig{
				BaseURL: envString("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
				APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
				Model:   envString("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
			},
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Queue.Name == "" {
		return fmt.Errorf("QUEUE_NAME must not be empty")
	}
	if c.Queue.SoftTimeLimit <= 0 {
		return fmt.Errorf("QUEUE_SOFT_TIME_LIMIT_SECS must be positive")
	}
	if c.Queue.SoftTimeLimit >= c.Queue.HardTimeLimit {
		return fmt.Errorf("QUEUE_SOFT_TIME_LIMIT_SECS (%s) must be less than QUEUE_HARD_TIME_LIMIT_SECS (%s)",
			c.Queue.SoftTimeLimit, c.Queue.HardTimeLimit)
	}
	if c.Queue.MaxDeliveries < 1 {
		return fmt.Errorf("QUEUE_MAX_DELIVERIES must be at least 1, got %d", c.Queue.MaxDeliveries)
	}

	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.Worker.Concurrency)
	}

	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("AI_PROVIDER must be one of fake, ollama, vllm, openai, anthropic; got %q", c.AI.Provider)
	}
	if c.AI.Provider == "openai" && c.AI.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER is openai")
	}
	if c.AI.Provider == "anthropic" && c.AI.Anthropic.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required when AI_PROVIDER is anthropic")
	}
	if c.AI.Provider == "vllm" && c.AI.VLLM.Model == "" {
		return fmt.Errorf("VLLM_MODEL is required when AI_PROVIDER is vllm")
	}

	return nil
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c ServerConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
