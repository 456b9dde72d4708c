package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

const (
	defaultAddress       = ":8000"
	defaultSocketAddress = ":8001"
	defaultStudioURL     = "http://localhost:8000"
	defaultProvider      = "dashscope"
	defaultModel         = "qwen3-max-preview"
)

// Config holds application configuration
type Config struct {
	Address string `toml:"address"`

	// SocketAddress is the listen address of the websocket bus. It runs on
	// its own listener because the socket protocol needs a hijackable
	// net/http connection.
	SocketAddress string `toml:"socket_address"`

	StudioURL string `toml:"studio_url"`
	DataDir   string `toml:"data_dir"`
	LogsDir   string `toml:"logs_dir"`

	// HookToken, when non-empty, is required in the X-Studio-Token header
	// of agent callback requests.
	HookToken string `toml:"hook_token"`

	Model ModelConfig   `toml:"model"`
	Agent AgentSettings `toml:"agent"`
}

// ModelConfig holds the LLM configuration passed to agent subprocesses
type ModelConfig struct {
	Provider string `toml:"provider"`
	Name     string `toml:"name"`
	APIKey   string `toml:"api_key"`
}

// AgentSettings is the agent settings document: the agent executable and
// the tool visibility policy. Loaded once at startup; in-flight replies
// keep the filter they started with.
type AgentSettings struct {
	Command     string            `toml:"command"`
	Mode        string            `toml:"mode"` // direct or coordinator
	Workspace   string            `toml:"workspace"`
	HiddenTools []string          `toml:"hidden_tools"`
	RenameTools map[string]string `toml:"rename_tools"`
}

// globalConfig holds the application configuration instance
var globalConfig *Config

// Initialize loads configuration from the given TOML file (optional) and
// applies environment overrides. Safe to call with an empty path.
func Initialize(path string) error {
	cfg := defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return serr.Wrap(err, "failed to load config file")
		}
		logger.Info("Loaded config file", "path", path)
	}

	applyEnv(cfg)
	globalConfig = cfg
	return nil
}

// Get returns the global configuration instance
func Get() *Config {
	if globalConfig == nil {
		globalConfig = defaults()
		applyEnv(globalConfig)
	}
	return globalConfig
}

// Set replaces the global configuration. Intended for tests.
func Set(cfg *Config) {
	globalConfig = cfg
}

func defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Address:       defaultAddress,
		SocketAddress: defaultSocketAddress,
		StudioURL:     defaultStudioURL,
		DataDir:       dataDir,
		LogsDir:       filepath.Join(dataDir, "logs"),
		Model: ModelConfig{
			Provider: defaultProvider,
			Name:     defaultModel,
		},
		Agent: AgentSettings{
			Command: "studio-agent",
			Mode:    "direct",
		},
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("STUDIO_ADDRESS"); v != "" {
		cfg.Address = v
	}
	if v := os.Getenv("STUDIO_SOCKET_ADDRESS"); v != "" {
		cfg.SocketAddress = v
	}
	if v := os.Getenv("STUDIO_URL"); v != "" {
		cfg.StudioURL = v
	}
	if v := os.Getenv("STUDIO_API_KEY"); v != "" {
		cfg.Model.APIKey = v
	}
	if v := os.Getenv("STUDIO_HOOK_TOKEN"); v != "" {
		cfg.HookToken = v
	}
	if v := os.Getenv("STUDIO_AGENT_COMMAND"); v != "" {
		cfg.Agent.Command = v
	}
}

func defaultDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".studio"
	}
	return filepath.Join(homeDir, ".local", "share", "studio")
}

// UploadsDir returns the upload root for a user and conversation
func (c *Config) UploadsDir(userID, conversationID string) string {
	return filepath.Join(c.DataDir, "uploads", userID, conversationID)
}
