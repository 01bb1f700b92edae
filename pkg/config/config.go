package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jordanhubbard/ensemble/pkg/models"
	"gopkg.in/yaml.v3"
)

// Execution modes. In development mode routing caches are bypassed so edits
// to character files are visible immediately.
const (
	ModeProduction  = "production"
	ModeDevelopment = "development"
)

// Config represents the main configuration for ensemble.
type Config struct {
	Mode       string           `yaml:"mode"`
	Server     ServerConfig     `yaml:"server"`
	Security   SecurityConfig   `yaml:"security"`
	Agent      AgentConfig      `yaml:"agent"`
	Characters CharactersConfig `yaml:"characters"`
	Routing    RoutingConfig    `yaml:"routing"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Results    ResultsConfig    `yaml:"results"`
	Workspace  WorkspaceConfig  `yaml:"workspace"`
	Providers  ProvidersConfig  `yaml:"providers"`
	NATS       NATSConfig       `yaml:"nats"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	HotReload  HotReloadConfig  `yaml:"hot_reload"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	HTTPPort     int           `yaml:"http_port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"` // 0 keeps streaming responses open
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// SecurityConfig configures API authentication
type SecurityConfig struct {
	EnableAuth     bool     `yaml:"enable_auth"`
	APIKeys        []string `yaml:"api_keys,omitempty"`
	JWTSecret      string   `yaml:"jwt_secret"`
	AllowedOrigins []string `yaml:"allowed_origins"` // CORS
}

// AgentConfig configures how the external agent process is spawned.
type AgentConfig struct {
	Binary       string        `yaml:"binary"`
	MCPConfig    string        `yaml:"mcp_config"`
	WorkDir      string        `yaml:"work_dir"`
	StripEnv     []string      `yaml:"strip_env"`
	Timeout      time.Duration `yaml:"timeout"`
	DefaultModel string        `yaml:"default_model"`
}

// CharactersConfig locates persona definitions and shared prompt material.
type CharactersConfig struct {
	Root            string `yaml:"root"`
	ArchitectID     string `yaml:"architect_id"`
	WorkspaceMarker string `yaml:"workspace_marker"`
	UsageLog        string `yaml:"usage_log"`
}

// RoutingConfig configures task-to-persona routing.
type RoutingConfig struct {
	DefaultPersona string `yaml:"default_persona"`
	OverridesFile  string `yaml:"overrides_file"` // relative to characters.root
}

// SchedulerConfig holds the static job registry.
type SchedulerConfig struct {
	Enabled  bool                   `yaml:"enabled"`
	Timezone string                 `yaml:"timezone"`
	Jobs     []models.JobDefinition `yaml:"jobs"`
}

// ResultsConfig selects the job result backend.
type ResultsConfig struct {
	Backend    string `yaml:"backend"` // "file", "redis" or "postgres"
	Path       string `yaml:"path"`
	RedisURL   string `yaml:"redis_url"`
	RedisKey   string `yaml:"redis_key"`
	DSN        string `yaml:"dsn"`
	MaxResults int    `yaml:"max_results"`
}

// WorkspaceConfig configures the notes-workspace RPC endpoint.
type WorkspaceConfig struct {
	Transport string        `yaml:"transport"` // "http" or "nats"
	Endpoint  string        `yaml:"endpoint"`
	Subject   string        `yaml:"subject"`
	Token     string        `yaml:"token"`
	Timeout   time.Duration `yaml:"timeout"`
	TaskTag   string        `yaml:"task_tag"`
}

// ProvidersConfig locates the mailbox and calendar RPC endpoints. Empty
// endpoints disable the corresponding provider.
type ProvidersConfig struct {
	MailEndpoint     string `yaml:"mail_endpoint"`
	MailAccount      string `yaml:"mail_account"`
	CalendarEndpoint string `yaml:"calendar_endpoint"`
	CalendarID       string `yaml:"calendar_id"`
	Token            string `yaml:"token"`
}

// NATSConfig configures the optional NATS connection.
type NATSConfig struct {
	URL            string        `yaml:"url"`
	Timeout        time.Duration `yaml:"timeout"`
	PublishResults bool          `yaml:"publish_results"`
	SubjectPrefix  string        `yaml:"subject_prefix"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

// HotReloadConfig configures cache invalidation on file edits
type HotReloadConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// LoadConfigFromFile loads configuration from a YAML file at the specified path.
// Values missing from the file keep their defaults.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g. ${WORKSPACE_TOKEN}) before parsing YAML
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Mode: ModeProduction,
		Server: ServerConfig{
			HTTPPort:    8080,
			ReadTimeout: 30 * time.Second,
			IdleTimeout: 120 * time.Second,
		},
		Security: SecurityConfig{
			EnableAuth:     false,
			AllowedOrigins: []string{"*"},
		},
		Agent: AgentConfig{
			Binary:       "claude",
			StripEnv:     []string{"CLAUDECODE"},
			Timeout:      10 * time.Minute,
			DefaultModel: "sonnet",
		},
		Characters: CharactersConfig{
			Root:            "./config",
			ArchitectID:     "architect",
			WorkspaceMarker: "notes workspace",
			UsageLog:        "./data/skill-usage.jsonl",
		},
		Routing: RoutingConfig{
			DefaultPersona: "assistant",
			OverridesFile:  filepath.Join("knowledge", "routing-overrides.md"),
		},
		Scheduler: SchedulerConfig{
			Enabled: true,
		},
		Results: ResultsConfig{
			Backend:    "file",
			Path:       "./data/job-results.json",
			RedisKey:   "ensemble:job-results",
			MaxResults: models.MaxResults,
		},
		Workspace: WorkspaceConfig{
			Transport: "http",
			Endpoint:  "http://localhost:8262/rpc",
			Subject:   "ensemble.rpc.workspace",
			Timeout:   30 * time.Second,
			TaskTag:   "task",
		},
		Providers: ProvidersConfig{
			CalendarID: "primary",
		},
		NATS: NATSConfig{
			Timeout:       10 * time.Second,
			SubjectPrefix: "ensemble",
		},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4317",
			ServiceName: "ensemble",
		},
		HotReload: HotReloadConfig{
			Enabled:  true,
			Debounce: 250 * time.Millisecond,
		},
	}
}

// Validate checks values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeProduction, ModeDevelopment:
	case "":
		c.Mode = ModeProduction
	default:
		return fmt.Errorf("config: unknown mode %q", c.Mode)
	}
	switch c.Results.Backend {
	case "file", "redis", "postgres":
	default:
		return fmt.Errorf("config: unknown results backend %q", c.Results.Backend)
	}
	switch c.Workspace.Transport {
	case "http", "nats":
	default:
		return fmt.Errorf("config: unknown workspace transport %q", c.Workspace.Transport)
	}
	if c.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
			return fmt.Errorf("config: invalid scheduler timezone %q: %w", c.Scheduler.Timezone, err)
		}
	}
	if c.Results.MaxResults <= 0 {
		c.Results.MaxResults = models.MaxResults
	}
	seen := make(map[string]bool, len(c.Scheduler.Jobs))
	for _, job := range c.Scheduler.Jobs {
		if job.ID == "" {
			return fmt.Errorf("config: scheduler job without id")
		}
		if seen[job.ID] {
			return fmt.Errorf("config: duplicate scheduler job %q", job.ID)
		}
		seen[job.ID] = true
	}
	return nil
}

// IsDevelopment reports whether caches should be bypassed.
func (c *Config) IsDevelopment() bool {
	return c.Mode == ModeDevelopment
}

// Location returns the time zone cron expressions are evaluated in.
func (c *Config) Location() *time.Location {
	if c.Scheduler.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// OverridesPath returns the absolute location of the learned routing overrides document.
func (c *Config) OverridesPath() string {
	if filepath.IsAbs(c.Routing.OverridesFile) {
		return c.Routing.OverridesFile
	}
	return filepath.Join(c.Characters.Root, c.Routing.OverridesFile)
}
