package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. ARENA_LLM_OPENAI_API_KEY.
const EnvPrefix = "ARENA"

// Config is the full process configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Prompts  PromptsConfig  `mapstructure:"prompts"`
	Events   EventsConfig   `mapstructure:"events"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Judge    JudgeConfig    `mapstructure:"judge"`
	Tools    ToolsConfig    `mapstructure:"tools"`
	Web3     Web3Config     `mapstructure:"web3"`
	Verifier VerifierConfig `mapstructure:"verifier"`
	Runtime  RuntimeConfig  `mapstructure:"runtime"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Address string `mapstructure:"address"`
	// APIKeys guard /api/v1 when non-empty.
	APIKeys []string `mapstructure:"api_keys"`
}

// LogConfig mirrors logger.Config.
type LogConfig struct {
	Level   string      `mapstructure:"level"`
	Format  string      `mapstructure:"format"`
	Outputs []string    `mapstructure:"outputs"`
	Audit   AuditConfig `mapstructure:"audit"`
}

// AuditConfig controls the rotating audit trail.
type AuditConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// StorageConfig selects the run and event store.
type StorageConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// QueueConfig selects how submitted runs reach the processor. MaxAttempts
// bounds deliveries of one submission whose claim or launch fails.
type QueueConfig struct {
	Driver      string         `mapstructure:"driver"`
	Buffer      int            `mapstructure:"buffer"`
	Workers     int            `mapstructure:"workers"`
	MaxAttempts int            `mapstructure:"max_attempts"`
	Redis       RedisConfig    `mapstructure:"redis"`
	RabbitMQ    RabbitMQConfig `mapstructure:"rabbitmq"`
}

// RedisConfig describes a Redis endpoint.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// RabbitMQConfig describes a RabbitMQ queue.
type RabbitMQConfig struct {
	URL      string `mapstructure:"url"`
	Queue    string `mapstructure:"queue"`
	Prefetch int    `mapstructure:"prefetch"`
}

// PromptsConfig selects where pending user prompts live.
type PromptsConfig struct {
	Driver string      `mapstructure:"driver"`
	Redis  RedisConfig `mapstructure:"redis"`
}

// EventsConfig configures live event fan-out.
type EventsConfig struct {
	AMQP AMQPConfig `mapstructure:"amqp"`
}

// AMQPConfig is the live-event exchange. An empty URL disables it.
type AMQPConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

// LLMConfig holds per-vendor credentials.
type LLMConfig struct {
	Anthropic ProviderConfig `mapstructure:"anthropic"`
	OpenAI    ProviderConfig `mapstructure:"openai"`
	Gemini    ProviderConfig `mapstructure:"gemini"`
}

// ProviderConfig describes one vendor endpoint.
type ProviderConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	Cost    float64       `mapstructure:"cost"`
}

// AgentConfig tunes the control loop.
type AgentConfig struct {
	MaxTurns        int           `mapstructure:"max_turns"`
	ToolResultLimit int           `mapstructure:"tool_result_limit"`
	TickDelay       time.Duration `mapstructure:"tick_delay"`
	ThinkTimeout    time.Duration `mapstructure:"think_timeout"`
	GatherTimeout   time.Duration `mapstructure:"gather_timeout"`
	ToolTimeout     time.Duration `mapstructure:"tool_timeout"`
	VerifyTimeout   time.Duration `mapstructure:"verify_timeout"`
	MemoryK         int           `mapstructure:"memory_k"`
	LiveURLAttempts int           `mapstructure:"live_url_attempts"`
	LiveURLInterval time.Duration `mapstructure:"live_url_interval"`
}

// JudgeConfig tunes the judge scheduler.
type JudgeConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Tick       time.Duration `mapstructure:"tick"`
	Model      string        `mapstructure:"model"`
	MaxEvents  int           `mapstructure:"max_events"`
	FetchLimit int           `mapstructure:"fetch_limit"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// ToolsConfig configures the agent's side-effecting collaborators.
type ToolsConfig struct {
	Browser  BrowserConfig  `mapstructure:"browser"`
	Email    EmailConfig    `mapstructure:"email"`
	Payments PaymentsConfig `mapstructure:"payments"`
}

// BrowserConfig configures the remote browser service.
type BrowserConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// EmailConfig configures the inbox service.
type EmailConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	InboxID string        `mapstructure:"inbox_id"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// PaymentsConfig selects the wallet: "locus" (REST) or "evm" (on-chain).
type PaymentsConfig struct {
	Driver  string        `mapstructure:"driver"`
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	Chain   string        `mapstructure:"chain"`
}

// Web3Config describes the chain registry used by the evm payments driver.
type Web3Config struct {
	ChainConfig  string `mapstructure:"chain_config"`
	DefaultChain string `mapstructure:"default_chain"`
	RPCURL       string `mapstructure:"rpc_url"`
	PrivateKey   string `mapstructure:"private_key"`
	USDCContract string `mapstructure:"usdc_contract"`
}

// VerifierConfig holds the external signal sources.
type VerifierConfig struct {
	SocialAPIURL  string        `mapstructure:"social_api_url"`
	SocialAPIKey  string        `mapstructure:"social_api_key"`
	ScrapeBaseURL string        `mapstructure:"scrape_base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// RuntimeConfig holds process-wide paths.
type RuntimeConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// Load reads path (optional) and environment overrides into a Config.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	baseDir := "."
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		baseDir = filepath.Dir(path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.resolvePaths(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.outputs", []string{"stdout"})
	v.SetDefault("log.audit.enabled", false)
	v.SetDefault("log.audit.path", "")
	v.SetDefault("log.audit.max_size_mb", 100)
	v.SetDefault("log.audit.max_backups", 7)
	v.SetDefault("log.audit.max_age_days", 30)

	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.max_open_conns", 10)
	v.SetDefault("storage.max_idle_conns", 5)
	v.SetDefault("storage.conn_max_lifetime", time.Hour)
	v.SetDefault("storage.auto_migrate", true)

	v.SetDefault("queue.driver", "memory")
	v.SetDefault("queue.buffer", 64)
	v.SetDefault("queue.workers", 4)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.redis.address", "127.0.0.1:6379")
	v.SetDefault("queue.redis.password", "")
	v.SetDefault("queue.redis.db", 0)
	v.SetDefault("queue.redis.key", "arena:runs")
	v.SetDefault("queue.rabbitmq.url", "")
	v.SetDefault("queue.rabbitmq.queue", "arena.runs")
	v.SetDefault("queue.rabbitmq.prefetch", 1)

	v.SetDefault("prompts.driver", "store")
	v.SetDefault("prompts.redis.address", "127.0.0.1:6379")
	v.SetDefault("prompts.redis.password", "")
	v.SetDefault("prompts.redis.db", 0)
	v.SetDefault("prompts.redis.key", "arena:prompts")

	v.SetDefault("events.amqp.url", "")
	v.SetDefault("events.amqp.exchange", "arena.events")

	for name, cost := range map[string]float64{"anthropic": 0.01, "openai": 0.01, "gemini": 0.005} {
		v.SetDefault("llm."+name+".api_key", "")
		v.SetDefault("llm."+name+".base_url", "")
		v.SetDefault("llm."+name+".timeout", 60*time.Second)
		v.SetDefault("llm."+name+".cost", cost)
	}

	v.SetDefault("agent.max_turns", 40)
	v.SetDefault("agent.tool_result_limit", 2000)
	v.SetDefault("agent.tick_delay", 2*time.Second)
	v.SetDefault("agent.think_timeout", 90*time.Second)
	v.SetDefault("agent.gather_timeout", 10*time.Second)
	v.SetDefault("agent.tool_timeout", 5*time.Minute)
	v.SetDefault("agent.verify_timeout", 20*time.Second)
	v.SetDefault("agent.memory_k", 5)
	v.SetDefault("agent.live_url_attempts", 30)
	v.SetDefault("agent.live_url_interval", 2*time.Second)

	v.SetDefault("judge.enabled", true)
	v.SetDefault("judge.tick", 30*time.Second)
	v.SetDefault("judge.model", "claude-sonnet")
	v.SetDefault("judge.max_events", 30)
	v.SetDefault("judge.fetch_limit", 50)
	v.SetDefault("judge.timeout", 60*time.Second)

	v.SetDefault("tools.browser.api_key", "")
	v.SetDefault("tools.browser.base_url", "")
	v.SetDefault("tools.browser.timeout", 30*time.Second)
	v.SetDefault("tools.browser.poll_interval", 2*time.Second)
	v.SetDefault("tools.email.api_key", "")
	v.SetDefault("tools.email.base_url", "")
	v.SetDefault("tools.email.inbox_id", "")
	v.SetDefault("tools.email.timeout", 30*time.Second)
	v.SetDefault("tools.payments.driver", "locus")
	v.SetDefault("tools.payments.api_key", "")
	v.SetDefault("tools.payments.base_url", "")
	v.SetDefault("tools.payments.timeout", 30*time.Second)
	v.SetDefault("tools.payments.chain", "")

	v.SetDefault("web3.chain_config", "")
	v.SetDefault("web3.default_chain", "")
	v.SetDefault("web3.rpc_url", "")
	v.SetDefault("web3.private_key", "")
	v.SetDefault("web3.usdc_contract", "")

	v.SetDefault("verifier.social_api_url", "")
	v.SetDefault("verifier.social_api_key", "")
	v.SetDefault("verifier.scrape_base_url", "")
	v.SetDefault("verifier.timeout", 15*time.Second)

	v.SetDefault("runtime.data_dir", "data")
}

// resolvePaths makes file paths relative to the config file's directory.
func (c *Config) resolvePaths(baseDir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(baseDir, p)
	}
	c.Runtime.DataDir = abs(c.Runtime.DataDir)
	c.Web3.ChainConfig = abs(c.Web3.ChainConfig)
	c.Log.Audit.Path = abs(c.Log.Audit.Path)
	if c.Storage.Driver == "sqlite" && c.Storage.DSN == "" {
		c.Storage.DSN = filepath.Join(c.Runtime.DataDir, "arena.db")
	}
}

// Validate rejects unknown drivers.
func (c *Config) Validate() error {
	oneOf := func(field, value string, allowed ...string) error {
		for _, a := range allowed {
			if value == a {
				return nil
			}
		}
		return fmt.Errorf("invalid %s %q (must be one of %s)", field, value, strings.Join(allowed, ", "))
	}
	return errors.Join(
		oneOf("storage.driver", c.Storage.Driver, "memory", "mysql", "sqlite"),
		oneOf("queue.driver", c.Queue.Driver, "memory", "redis", "rabbitmq"),
		oneOf("prompts.driver", c.Prompts.Driver, "store", "redis"),
		oneOf("tools.payments.driver", c.Tools.Payments.Driver, "locus", "evm"),
	)
}
