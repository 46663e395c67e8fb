// Package config provides configuration types and loading for drover.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix for all environment variables.
const EnvPrefix = "drover"

// Config is the root configuration struct, loaded from DROVER_*
// environment variables (an optional env file is read first).
type Config struct {
	Core      CoreConfig      `json:"core"`
	Reasoner  ReasonerConfig  `json:"reasoner"`
	Dashboard DashboardConfig `json:"dashboard"`
	Slack     SlackConfig     `json:"slack"`
	Kafka     KafkaConfig     `json:"kafka"`
	Console   ConsoleConfig   `json:"console"`
}

// ---------------------------------------------------------------------------
// Core – orchestrator behaviour
// ---------------------------------------------------------------------------

// CoreConfig groups orchestrator and dispatcher settings.
type CoreConfig struct {
	DBPath              string `json:"dbPath" envconfig:"DB_PATH" default:"drover.db"`
	MaxAgents           int    `json:"maxAgents" envconfig:"MAX_AGENTS" default:"10"`
	HistoryWindow       int    `json:"historyWindow" envconfig:"HISTORY_WINDOW" default:"20"`
	PromptBudget        int    `json:"promptBudget" envconfig:"PROMPT_BUDGET" default:"24576"`
	Workers             int    `json:"workers" envconfig:"WORKERS" default:"8"`
	DrainTimeoutSeconds int    `json:"drainTimeoutSeconds" envconfig:"DRAIN_TIMEOUT_SECONDS" default:"10"`
	IdleTimeoutSeconds  int    `json:"idleTimeoutSeconds" envconfig:"IDLE_TIMEOUT_SECONDS" default:"0"`
}

// ---------------------------------------------------------------------------
// Reasoner – the external reasoning process
// ---------------------------------------------------------------------------

// ReasonerConfig configures the external reasoning subprocess.
type ReasonerConfig struct {
	Command           string `json:"command" envconfig:"REASONER_CMD" default:"claude -p --output-format stream-json --verbose"`
	RunTimeoutSeconds int    `json:"runTimeoutSeconds" envconfig:"RUN_TIMEOUT_SECONDS" default:"120"`
}

// Argv splits the configured command line.
func (r ReasonerConfig) Argv() []string {
	return strings.Fields(r.Command)
}

// RunTimeout returns the run timeout as a duration.
func (r ReasonerConfig) RunTimeout() time.Duration {
	return time.Duration(r.RunTimeoutSeconds) * time.Second
}

// ---------------------------------------------------------------------------
// Dashboard – REST surface + embedded page
// ---------------------------------------------------------------------------

// DashboardConfig configures the HTTP dashboard.
type DashboardConfig struct {
	Enabled bool   `json:"enabled" envconfig:"DASHBOARD_ENABLED" default:"true"`
	Host    string `json:"host" envconfig:"DASHBOARD_HOST" default:"127.0.0.1"`
	Port    int    `json:"port" envconfig:"DASHBOARD_PORT" default:"8788"`
}

// Addr returns the listen address.
func (d DashboardConfig) Addr() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

// ---------------------------------------------------------------------------
// Channels – chat transports
// ---------------------------------------------------------------------------

// SlackConfig configures the Slack Socket Mode channel.
type SlackConfig struct {
	Enabled  bool   `json:"enabled" envconfig:"SLACK_ENABLED" default:"false"`
	BotToken string `json:"botToken" envconfig:"SLACK_BOT_TOKEN"`
	AppToken string `json:"appToken" envconfig:"SLACK_APP_TOKEN"`
}

// KafkaConfig configures the Kafka channel.
type KafkaConfig struct {
	Enabled       bool   `json:"enabled" envconfig:"KAFKA_ENABLED" default:"false"`
	Brokers       string `json:"brokers" envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	InboundTopic  string `json:"inboundTopic" envconfig:"KAFKA_INBOUND_TOPIC" default:"drover.inbound"`
	OutboundTopic string `json:"outboundTopic" envconfig:"KAFKA_OUTBOUND_TOPIC" default:"drover.outbound"`
	Group         string `json:"group" envconfig:"KAFKA_GROUP" default:"drover"`
}

// ConsoleConfig configures the stdin/stdout channel.
type ConsoleConfig struct {
	Enabled bool `json:"enabled" envconfig:"CONSOLE_ENABLED" default:"true"`
}

// Load reads env files and the process environment into a Config.
func Load() (*Config, error) {
	LoadEnvFileCandidates()
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Core.MaxAgents < 1 {
		return fmt.Errorf("max agents must be at least 1")
	}
	if c.Core.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if strings.TrimSpace(c.Reasoner.Command) == "" {
		return fmt.Errorf("reasoner command must not be empty")
	}
	if c.Slack.Enabled && (c.Slack.BotToken == "" || c.Slack.AppToken == "") {
		return fmt.Errorf("slack enabled but bot or app token missing")
	}
	if c.Kafka.Enabled && strings.TrimSpace(c.Kafka.Brokers) == "" {
		return fmt.Errorf("kafka enabled but no brokers configured")
	}
	return nil
}
