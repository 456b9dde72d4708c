package config

import (
	"os"
	"path/filepath"
	"testing"
)

// TestDefaults tests the configuration with no file and no environment
func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.Address != ":8000" {
		t.Errorf("Unexpected default address: %q", cfg.Address)
	}
	if cfg.SocketAddress != ":8001" {
		t.Errorf("Unexpected default socket address: %q", cfg.SocketAddress)
	}
	if cfg.Agent.Command != "studio-agent" {
		t.Errorf("Unexpected default agent command: %q", cfg.Agent.Command)
	}
	if cfg.Agent.Mode != "direct" {
		t.Errorf("Unexpected default mode: %q", cfg.Agent.Mode)
	}
	if cfg.LogsDir == "" || cfg.DataDir == "" {
		t.Error("Expected data and logs dirs to be set")
	}
}

// TestInitializeFromFile tests loading a TOML config file
func TestInitializeFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "studio.toml")
	content := `
address = ":9000"
hook_token = "sekrit"

[model]
provider = "openai"
name = "gpt-test"

[agent]
command = "/usr/local/bin/my-agent"
mode = "coordinator"
hidden_tools = ["scratchpad"]

[agent.rename_tools]
read_file = "Read File"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if err := Initialize(path); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(func() { Set(nil) })

	cfg := Get()
	if cfg.Address != ":9000" {
		t.Errorf("Expected file address, got %q", cfg.Address)
	}
	if cfg.HookToken != "sekrit" {
		t.Errorf("Expected hook token from file, got %q", cfg.HookToken)
	}
	if cfg.Model.Provider != "openai" || cfg.Model.Name != "gpt-test" {
		t.Errorf("Unexpected model config: %+v", cfg.Model)
	}
	if cfg.Agent.Mode != "coordinator" {
		t.Errorf("Expected coordinator mode, got %q", cfg.Agent.Mode)
	}
	if len(cfg.Agent.HiddenTools) != 1 || cfg.Agent.HiddenTools[0] != "scratchpad" {
		t.Errorf("Unexpected hidden tools: %v", cfg.Agent.HiddenTools)
	}
	if cfg.Agent.RenameTools["read_file"] != "Read File" {
		t.Errorf("Unexpected rename map: %v", cfg.Agent.RenameTools)
	}

	// Fields absent from the file keep their defaults
	if cfg.SocketAddress != ":8001" {
		t.Errorf("Expected default socket address, got %q", cfg.SocketAddress)
	}
}

// TestInitializeMissingFile tests the error path for a bad config path
func TestInitializeMissingFile(t *testing.T) {
	if err := Initialize("/nonexistent/studio.toml"); err == nil {
		t.Error("Expected error for missing config file")
	}
}

// TestEnvOverrides tests that environment variables win over defaults
func TestEnvOverrides(t *testing.T) {
	t.Setenv("STUDIO_ADDRESS", ":7777")
	t.Setenv("STUDIO_API_KEY", "key-from-env")
	t.Setenv("STUDIO_AGENT_COMMAND", "/opt/agent")

	cfg := defaults()
	applyEnv(cfg)

	if cfg.Address != ":7777" {
		t.Errorf("Expected env address, got %q", cfg.Address)
	}
	if cfg.Model.APIKey != "key-from-env" {
		t.Errorf("Expected env api key, got %q", cfg.Model.APIKey)
	}
	if cfg.Agent.Command != "/opt/agent" {
		t.Errorf("Expected env agent command, got %q", cfg.Agent.Command)
	}
}

// TestUploadsDir tests the per-conversation upload path layout
func TestUploadsDir(t *testing.T) {
	cfg := &Config{DataDir: "/data"}
	got := cfg.UploadsDir("u1", "c1")
	want := filepath.Join("/data", "uploads", "u1", "c1")
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}
