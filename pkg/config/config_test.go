package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jordanhubbard/ensemble/pkg/models"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("expected HTTP port 8080, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Mode != ModeProduction {
		t.Errorf("expected production mode, got %q", cfg.Mode)
	}
	if cfg.Agent.Timeout != 10*time.Minute {
		t.Errorf("expected 10m agent timeout, got %v", cfg.Agent.Timeout)
	}
	if len(cfg.Agent.StripEnv) != 1 || cfg.Agent.StripEnv[0] != "CLAUDECODE" {
		t.Errorf("unexpected strip env %v", cfg.Agent.StripEnv)
	}
	if cfg.Results.MaxResults != models.MaxResults {
		t.Errorf("expected max results %d, got %d", models.MaxResults, cfg.Results.MaxResults)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	t.Setenv("TEST_WORKSPACE_TOKEN", "secret-token")

	content := `mode: development
agent:
  binary: /usr/local/bin/agent
  timeout: 2m
workspace:
  token: ${TEST_WORKSPACE_TOKEN}
scheduler:
  jobs:
    - id: morning-brief
      persona_id: assistant
      seed_prompt: Summarise the day
      cron: "0 7 * * 1-5"
      schedule: Weekdays at 7am
      mode: light
      type: single
      enabled: true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFromFile failed: %v", err)
	}
	if !cfg.IsDevelopment() {
		t.Error("expected development mode")
	}
	if cfg.Agent.Binary != "/usr/local/bin/agent" {
		t.Errorf("unexpected binary %q", cfg.Agent.Binary)
	}
	if cfg.Agent.Timeout != 2*time.Minute {
		t.Errorf("expected 2m timeout, got %v", cfg.Agent.Timeout)
	}
	if cfg.Workspace.Token != "secret-token" {
		t.Errorf("env expansion failed, got %q", cfg.Workspace.Token)
	}
	// Untouched sections keep defaults.
	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("expected default port, got %d", cfg.Server.HTTPPort)
	}
	if len(cfg.Scheduler.Jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(cfg.Scheduler.Jobs))
	}
	job := cfg.Scheduler.Jobs[0]
	if job.Mode != models.ModeLight || job.Type != models.JobTypeSingle || !job.Enabled {
		t.Errorf("job decoded incorrectly: %+v", job)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"mode", func(c *Config) { c.Mode = "staging" }},
		{"backend", func(c *Config) { c.Results.Backend = "s3" }},
		{"transport", func(c *Config) { c.Workspace.Transport = "grpc" }},
		{"timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }},
		{"job id", func(c *Config) { c.Scheduler.Jobs = []models.JobDefinition{{}} }},
		{"duplicate job", func(c *Config) {
			c.Scheduler.Jobs = []models.JobDefinition{{ID: "a"}, {ID: "a"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestOverridesPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Characters.Root = "/etc/ensemble"
	want := filepath.Join("/etc/ensemble", "knowledge", "routing-overrides.md")
	if got := cfg.OverridesPath(); got != want {
		t.Errorf("OverridesPath = %q, want %q", got, want)
	}
	cfg.Routing.OverridesFile = "/var/lib/overrides.md"
	if got := cfg.OverridesPath(); got != "/var/lib/overrides.md" {
		t.Errorf("absolute override path not honoured: %q", got)
	}
}

func TestLocation(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Location() != time.Local {
		t.Error("empty timezone should use local time")
	}
	cfg.Scheduler.Timezone = "UTC"
	if got := cfg.Location().String(); got != "UTC" {
		t.Errorf("Location = %q, want UTC", got)
	}
}
