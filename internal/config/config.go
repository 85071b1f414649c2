package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration. Values come from fathom.yaml
// (CONFIG_PATH override) merged with FATHOM_* environment variables.
type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Temporal  TemporalConfig  `mapstructure:"temporal"`
	Research  ResearchConfig  `mapstructure:"research"`
	Streaming StreamingConfig `mapstructure:"streaming"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServiceConfig struct {
	Port            int           `mapstructure:"port"`
	MetricsPort     int           `mapstructure:"metrics_port"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
}

type AuthConfig struct {
	SkipAuth        bool          `mapstructure:"skip_auth"`
	ResumeSecret    string        `mapstructure:"resume_secret"`
	ResumeTokenTTL  time.Duration `mapstructure:"resume_token_ttl"`
	RateLimitPerSec float64       `mapstructure:"rate_limit_per_sec"`
	RateLimitBurst  int           `mapstructure:"rate_limit_burst"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int           `mapstructure:"max_connections"`
	IdleConnections int           `mapstructure:"idle_connections"`
	MaxLifetime     time.Duration `mapstructure:"max_lifetime"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

// ResearchConfig carries the workflow behavior knobs.
type ResearchConfig struct {
	MaxPlanIterations     int           `mapstructure:"max_plan_iterations"`
	MaxStepNum            int           `mapstructure:"max_step_num"`
	MaxSearchResults      int           `mapstructure:"max_search_results"`
	AgentRecursionLimit   int           `mapstructure:"agent_recursion_limit"`
	PlanReviewTimeout     time.Duration `mapstructure:"plan_review_timeout"`
	CompressTargetTokens  int           `mapstructure:"compress_target_tokens"`
	JobRetention          time.Duration `mapstructure:"job_retention"`
	LLMServiceURL         string        `mapstructure:"llm_service_url"`
	SearchServiceURL      string        `mapstructure:"search_service_url"`
	AgentServiceURL       string        `mapstructure:"agent_service_url"`
	DefaultReportStyle    string        `mapstructure:"default_report_style"`
	BackgroundInvestigate bool          `mapstructure:"background_investigate"`
}

type StreamingConfig struct {
	RingCapacity     int `mapstructure:"ring_capacity"`
	SubscriberBuffer int `mapstructure:"subscriber_buffer"`
}

type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

const defaultAgentRecursionLimit = 25

// Load reads fathom.yaml from CONFIG_PATH (default ./config/fathom.yaml),
// applies env overrides, and validates. A missing file is not an error; the
// defaults plus env are enough to run.
func Load() (*Config, error) {
	v := viper.New()
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "./config/fathom.yaml"
	}
	v.SetConfigFile(cfgPath)
	v.SetEnvPrefix("FATHOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.port", 8080)
	v.SetDefault("service.metrics_port", 2112)
	v.SetDefault("service.graceful_timeout", "30s")
	v.SetDefault("service.read_timeout", "30s")
	v.SetDefault("service.write_timeout", "10m")

	v.SetDefault("auth.skip_auth", false)
	v.SetDefault("auth.resume_token_ttl", "24h")
	v.SetDefault("auth.rate_limit_per_sec", 10.0)
	v.SetDefault("auth.rate_limit_burst", 20)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "fathom")
	v.SetDefault("database.database", "fathom")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.idle_connections", 5)
	v.SetDefault("database.max_lifetime", "5m")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.enabled", false)

	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "fathom-research")

	v.SetDefault("research.max_plan_iterations", 3)
	v.SetDefault("research.max_step_num", 3)
	v.SetDefault("research.max_search_results", 3)
	v.SetDefault("research.agent_recursion_limit", defaultAgentRecursionLimit)
	v.SetDefault("research.plan_review_timeout", "30m")
	v.SetDefault("research.compress_target_tokens", 60000)
	v.SetDefault("research.job_retention", "24h")
	v.SetDefault("research.llm_service_url", "http://llm-service:8000")
	v.SetDefault("research.search_service_url", "http://search-service:8010")
	v.SetDefault("research.agent_service_url", "http://agent-service:8020")
	v.SetDefault("research.default_report_style", "academic")
	v.SetDefault("research.background_investigate", true)

	v.SetDefault("streaming.ring_capacity", 1024)
	v.SetDefault("streaming.subscriber_buffer", 256)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "fathom-orchestrator")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// normalize patches out-of-range values back to their defaults instead of
// failing startup.
func (c *Config) normalize() {
	if c.Research.MaxPlanIterations <= 0 {
		c.Research.MaxPlanIterations = 3
	}
	if c.Research.MaxStepNum <= 0 {
		c.Research.MaxStepNum = 3
	}
	if c.Research.AgentRecursionLimit <= 0 {
		c.Research.AgentRecursionLimit = defaultAgentRecursionLimit
	}
	if c.Research.JobRetention <= 0 {
		c.Research.JobRetention = 24 * time.Hour
	}
	if c.Streaming.RingCapacity <= 0 {
		c.Streaming.RingCapacity = 1024
	}
	if c.Streaming.SubscriberBuffer <= 0 {
		c.Streaming.SubscriberBuffer = 256
	}
}

// AgentRecursionLimit resolves the per-agent turn bound: env override first,
// then config, falling back to the default on anything malformed.
func (c *Config) AgentRecursionLimitResolved() int {
	if raw := os.Getenv("AGENT_RECURSION_LIMIT"); raw != "" {
		var n int
		if _, err := fmt.Sscanf(raw, "%d", &n); err == nil && n > 0 {
			return n
		}
		return defaultAgentRecursionLimit
	}
	if c.Research.AgentRecursionLimit > 0 {
		return c.Research.AgentRecursionLimit
	}
	return defaultAgentRecursionLimit
}
