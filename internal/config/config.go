package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Backend    BackendConfig    `yaml:"backend" mapstructure:"backend"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Gemini     GeminiConfig     `yaml:"gemini" mapstructure:"gemini"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Artifacts  ArtifactsConfig  `yaml:"artifacts" mapstructure:"artifacts"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the run history database.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// BackendConfig configures the shared text-generation backend pool.
type BackendConfig struct {
	Provider        string `yaml:"provider" mapstructure:"provider"`
	MaxTokens       int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	AssignMaxTokens int64  `yaml:"assign_max_tokens" mapstructure:"assign_max_tokens"`
	// Temperature below 0 leaves the backend default; 0 is deterministic.
	Temperature      float64 `yaml:"temperature" mapstructure:"temperature"`
	TopP             float64 `yaml:"top_p" mapstructure:"top_p"`
	CallTimeoutSecs  int     `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
	MaxConcurrency   int     `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	RPS              float64 `yaml:"rps" mapstructure:"rps"`
	Burst            int     `yaml:"burst" mapstructure:"burst"`
	BreakerThreshold int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// GeminiConfig holds Gemini API settings.
type GeminiConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// PricingConfig holds per-model token pricing overrides.
type PricingConfig struct {
	Models map[string]ModelPricing `yaml:"models" mapstructure:"models"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// PipelineConfig configures the discovery stages.
type PipelineConfig struct {
	AcceptThreshold   int    `yaml:"accept_threshold" mapstructure:"accept_threshold"`
	FallbackThreshold int    `yaml:"fallback_threshold" mapstructure:"fallback_threshold"`
	ChunkSize         int    `yaml:"chunk_size" mapstructure:"chunk_size"`
	ChunkParallelism  int    `yaml:"chunk_parallelism" mapstructure:"chunk_parallelism"`
	Workers           int    `yaml:"workers" mapstructure:"workers"`
	MaxConversations  int    `yaml:"max_conversations" mapstructure:"max_conversations"`
	SampleSeed        uint64 `yaml:"sample_seed" mapstructure:"sample_seed"`
	MinWords          int    `yaml:"min_words" mapstructure:"min_words"`
	MaxWords          int    `yaml:"max_words" mapstructure:"max_words"`
	PromptsFile       string `yaml:"prompts_file" mapstructure:"prompts_file"`
}

// ArtifactsConfig configures run artifact storage.
type ArtifactsConfig struct {
	BaseDir string   `yaml:"base_dir" mapstructure:"base_dir"`
	S3      S3Config `yaml:"s3" mapstructure:"s3"`
}

// S3Config configures the optional object-store mirror of run artifacts.
type S3Config struct {
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
	Region    string `yaml:"region" mapstructure:"region"`
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
	Bucket    string `yaml:"bucket" mapstructure:"bucket"`
	UseSSL    bool   `yaml:"use_ssl" mapstructure:"use_ssl"`
}

// Enabled reports whether the mirror has enough settings to connect.
func (c S3Config) Enabled() bool {
	return c.Endpoint != "" && c.Bucket != ""
}

// FetchConfig configures remote transcript downloads.
type FetchConfig struct {
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RPS         float64 `yaml:"rps" mapstructure:"rps"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures run-history alerting.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CostThresholdUSD     float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
	MinAcceptRate        float64 `yaml:"min_accept_rate" mapstructure:"min_accept_rate"`
}

// Enabled reports whether alerts have somewhere to go.
func (c MonitoringConfig) Enabled() bool {
	return c.WebhookURL != ""
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, file, and environment.
func Load() (*Config, error) {
	// .env is optional; values already in the environment win.
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("INTENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "intent.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("backend.provider", "anthropic")
	v.SetDefault("backend.max_tokens", 256)
	v.SetDefault("backend.assign_max_tokens", 4096)
	v.SetDefault("backend.temperature", -1.0)
	v.SetDefault("backend.top_p", 0.0)
	v.SetDefault("backend.call_timeout_secs", 60)
	v.SetDefault("backend.max_concurrency", 20)
	v.SetDefault("backend.rps", 10.0)
	v.SetDefault("backend.burst", 10)
	v.SetDefault("backend.breaker_threshold", 10)
	v.SetDefault("backend.breaker_reset_secs", 30)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("gemini.key", "")
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("pipeline.accept_threshold", 4)
	v.SetDefault("pipeline.fallback_threshold", 3)
	v.SetDefault("pipeline.chunk_size", 100)
	v.SetDefault("pipeline.chunk_parallelism", 1)
	v.SetDefault("pipeline.workers", 10)
	v.SetDefault("pipeline.max_conversations", 10000)
	v.SetDefault("pipeline.sample_seed", 42)
	v.SetDefault("pipeline.min_words", 5)
	v.SetDefault("pipeline.max_words", 10)
	v.SetDefault("artifacts.base_dir", "runs")
	v.SetDefault("pipeline.prompts_file", "")
	v.SetDefault("artifacts.s3.endpoint", "")
	v.SetDefault("artifacts.s3.region", "us-east-1")
	v.SetDefault("artifacts.s3.access_key", "")
	v.SetDefault("artifacts.s3.secret_key", "")
	v.SetDefault("artifacts.s3.bucket", "")
	v.SetDefault("artifacts.s3.use_ssl", false)
	v.SetDefault("fetch.timeout_secs", 60)
	v.SetDefault("fetch.rps", 5.0)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.cost_threshold_usd", 0.0)
	v.SetDefault("monitoring.min_accept_rate", 0.0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings required by the given command mode.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "discover", "serve":
		switch c.Backend.Provider {
		case "anthropic":
			if c.Anthropic.Key == "" {
				errs = append(errs, "anthropic.key is required")
			}
		case "gemini":
			if c.Gemini.Key == "" {
				errs = append(errs, "gemini.key is required")
			}
		default:
			errs = append(errs, fmt.Sprintf("backend.provider %q is not supported", c.Backend.Provider))
		}
		errs = append(errs, c.validatePipeline()...)
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "filter", "runs":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validatePipeline() []string {
	var errs []string
	p := c.Pipeline
	if p.AcceptThreshold < 1 || p.AcceptThreshold > 5 {
		errs = append(errs, "pipeline.accept_threshold must be between 1 and 5")
	}
	if p.FallbackThreshold < 1 || p.FallbackThreshold > p.AcceptThreshold {
		errs = append(errs, "pipeline.fallback_threshold must be between 1 and accept_threshold")
	}
	if p.ChunkSize <= 0 {
		errs = append(errs, "pipeline.chunk_size must be > 0")
	}
	if p.Workers < 1 || p.Workers > 100 {
		errs = append(errs, "pipeline.workers must be between 1 and 100")
	}
	if p.MaxConversations <= 0 {
		errs = append(errs, "pipeline.max_conversations must be > 0")
	}
	if p.MinWords <= 0 || p.MaxWords < p.MinWords {
		errs = append(errs, "pipeline.min_words/max_words must satisfy 0 < min <= max")
	}
	if c.Backend.CallTimeoutSecs <= 0 {
		errs = append(errs, "backend.call_timeout_secs must be > 0")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
