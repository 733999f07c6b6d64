package config

import (
	"time"

	"github.com/mattjoyce/switchyard/internal/auth"
)

// Config is the complete switchyard configuration. One file serves every
// role; each process reads the sections it needs.
type Config struct {
	Include      []string           `yaml:"include,omitempty"`
	Service      ServiceConfig      `yaml:"service"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Agent        AgentConfig        `yaml:"agent"`
	Bridge       BridgeConfig       `yaml:"bridge"`
	API          APIConfig          `yaml:"api,omitempty"`
	Journal      JournalConfig      `yaml:"journal,omitempty"`
	Events       EventsConfig       `yaml:"events,omitempty"`

	// SourceFiles lists every file that contributed, root first.
	SourceFiles []string `yaml:"-"`
}

// ServiceConfig holds process-wide settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level" envconfig:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" envconfig:"LOG_FORMAT"`
	LockDir   string `yaml:"lock_dir" envconfig:"LOCK_DIR"`
}

// OrchestratorConfig describes the worker pool and the front door the
// bridge connects to. Worker i listens on Host:BasePort+i.
type OrchestratorConfig struct {
	Host        string `yaml:"host" envconfig:"HOST"`
	BasePort    int    `yaml:"base_port" envconfig:"BASE_PORT"`
	WorkerCount int    `yaml:"worker_count" envconfig:"WORKER_COUNT"`
	FrontDoor   string `yaml:"front_door" envconfig:"FRONT_DOOR"`

	// SpawnAgents launches AgentCommand once per worker slot with
	// --process-index i. SpawnBridge launches BridgeCommand with the pipe
	// handshake.
	SpawnAgents   bool     `yaml:"spawn_agents"`
	AgentCommand  []string `yaml:"agent_command,omitempty"`
	SpawnBridge   bool     `yaml:"spawn_bridge"`
	BridgeCommand []string `yaml:"bridge_command,omitempty"`
}

// AgentConfig is read by worker processes.
type AgentConfig struct {
	ServicesDir    []string      `yaml:"services_dir"`
	DefaultService string        `yaml:"default_service,omitempty"`
	MinVersion     string        `yaml:"min_version,omitempty"`
	Timeout        time.Duration `yaml:"timeout,omitempty" envconfig:"AGENT_TIMEOUT"`
	GracePeriod    time.Duration `yaml:"grace_period,omitempty"`
	DialRetry      time.Duration `yaml:"dial_retry,omitempty"`
	Env            []string      `yaml:"env,omitempty"`

	// WorkspaceDir holds one scratch directory per service run. Empty runs
	// services in the agent's own working directory.
	WorkspaceDir       string        `yaml:"workspace_dir,omitempty" envconfig:"WORKSPACE_DIR"`
	KeepWorkspaces     bool          `yaml:"keep_workspaces,omitempty"`
	WorkspaceRetention time.Duration `yaml:"workspace_retention,omitempty"`
}

// BridgeConfig is read by the front-end process.
type BridgeConfig struct {
	// Listen is the HTTP chat adapter address.
	Listen          string        `yaml:"listen" envconfig:"BRIDGE_LISTEN"`
	OptionSeparator string        `yaml:"option_separator,omitempty"`
	PendingTTL      time.Duration `yaml:"pending_ttl,omitempty"`
	WaitTimeout     time.Duration `yaml:"wait_timeout,omitempty"`
	// Webhooks is an optional signed ingress feeding the same bridge.
	Webhooks *WebhooksConfig `yaml:"webhooks,omitempty" ignored:"true"`
	// Schedules issue commands on a timer through the same bridge.
	Schedules []ScheduleConfig `yaml:"schedules,omitempty" ignored:"true"`
}

// ScheduleConfig fires Command every Every plus a random delay up to Jitter.
type ScheduleConfig struct {
	Name    string        `yaml:"name"`
	Command string        `yaml:"command"`
	Message string        `yaml:"message,omitempty"`
	Options []string      `yaml:"options,omitempty"`
	Every   time.Duration `yaml:"every"`
	Jitter  time.Duration `yaml:"jitter,omitempty"`
}

// WebhooksConfig is the bridge's HMAC-verified webhook listener.
type WebhooksConfig struct {
	Listen    string            `yaml:"listen"`
	Endpoints []WebhookEndpoint `yaml:"endpoints"`
}

// WebhookEndpoint maps one signed path to an envelope name.
type WebhookEndpoint struct {
	Path            string `yaml:"path"`
	Command         string `yaml:"command"`
	Secret          string `yaml:"secret"`
	SignatureHeader string `yaml:"signature_header"`
	// MaxBodySize accepts plain bytes or a KB/MB/GB suffix.
	MaxBodySize string `yaml:"max_body_size,omitempty"`
	// CallbackURL receives the reply as a JSON POST. Empty means the
	// reply is only logged.
	CallbackURL string `yaml:"callback_url,omitempty"`
}

// APIConfig defines the orchestrator status API.
type APIConfig struct {
	Enabled bool   `yaml:"enabled" envconfig:"API_ENABLED"`
	Listen  string `yaml:"listen" envconfig:"API_LISTEN"`
	Token   string `yaml:"token" envconfig:"API_TOKEN"`
	// Tokens are extra bearer tokens limited to the listed scopes.
	Tokens []auth.TokenConfig `yaml:"tokens,omitempty" ignored:"true"`
}

// JournalConfig defines the SQLite dispatch audit log.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled" envconfig:"JOURNAL_ENABLED"`
	Path    string `yaml:"path" envconfig:"JOURNAL_PATH"`
}

// EventsConfig defines the in-process event hub and its optional NATS
// forwarder.
type EventsConfig struct {
	BufferSize  int    `yaml:"buffer_size,omitempty"`
	NATSURL     string `yaml:"nats_url,omitempty" envconfig:"NATS_URL"`
	NATSSubject string `yaml:"nats_subject,omitempty" envconfig:"NATS_SUBJECT"`
}

// Defaults returns a Config with working single-host defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "switchyard",
			LogLevel:  "info",
			LogFormat: "json",
			LockDir:   "./data",
		},
		Orchestrator: OrchestratorConfig{
			Host:        "127.0.0.1",
			BasePort:    7100,
			WorkerCount: 2,
			FrontDoor:   "127.0.0.1:7000",
		},
		Agent: AgentConfig{
			ServicesDir: []string{"./plugins"},
			GracePeriod: 5 * time.Second,
			DialRetry:   time.Second,
		},
		Bridge: BridgeConfig{
			Listen:          "127.0.0.1:8090",
			OptionSeparator: "<|OS|>",
		},
		API: APIConfig{
			Listen: "127.0.0.1:8080",
		},
		Journal: JournalConfig{
			Path: "./data/journal.db",
		},
		Events: EventsConfig{
			BufferSize:  256,
			NATSSubject: "switchyard.envelopes",
		},
	}
}
