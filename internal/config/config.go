package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

const (
	DefaultModel       = "claude-3-haiku-20240307"
	DefaultMaxTokens   = 2000
	DefaultTemperature = 0.0
	DefaultTopP        = 0.5
	DefaultRegion      = "ca-central-1"
	DefaultHost        = "0.0.0.0"
	DefaultPort        = 18890
	DefaultBufSize     = 100
)

type Config struct {
	Agent    AgentConfig    `yaml:"agent"`
	Provider ProviderConfig `yaml:"provider"`
	AWS      AWSConfig      `yaml:"aws"`
	Servers  []ServerConfig `yaml:"servers"`
	Channels ChannelsConfig `yaml:"channels"`
	Gateway  GatewayConfig  `yaml:"gateway"`
}

type AgentConfig struct {
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"maxTokens"`
	Temperature float64 `yaml:"temperature"`
	TopP        float64 `yaml:"topP"`
}

type ProviderConfig struct {
	Type    string `yaml:"type,omitempty"` // "anthropic" (default) or "openai"
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseUrl,omitempty"`
}

// AWSConfig carries the region/profile explicitly instead of relying on
// process-wide environment variables. The values are re-exported into each
// tool server's environment at spawn time, which is where external CLI
// tooling expects to find them.
type AWSConfig struct {
	Region  string `yaml:"region"`
	Profile string `yaml:"profile,omitempty"`
}

// ServerConfig describes one tool-server subprocess.
type ServerConfig struct {
	Name       string            `yaml:"name"`
	Command    string            `yaml:"command"`
	Args       []string          `yaml:"args,omitempty"`
	Env        map[string]string `yaml:"env,omitempty"`
	WorkingDir string            `yaml:"workingDir,omitempty"`
	Disabled   bool              `yaml:"disabled,omitempty"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	WebUI    WebUIConfig    `yaml:"webui"`
}

type TelegramConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Token     string   `yaml:"token"`
	AllowFrom []string `yaml:"allowFrom"`
	Proxy     string   `yaml:"proxy,omitempty"`
}

type WebUIConfig struct {
	Enabled   bool     `yaml:"enabled"`
	AllowFrom []string `yaml:"allowFrom"`
}

type GatewayConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Model:       DefaultModel,
			MaxTokens:   DefaultMaxTokens,
			Temperature: DefaultTemperature,
			TopP:        DefaultTopP,
		},
		Provider: ProviderConfig{},
		AWS: AWSConfig{
			Region: DefaultRegion,
		},
		Servers:  DefaultServers(),
		Channels: ChannelsConfig{},
		Gateway: GatewayConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
	}
}

// DefaultServers returns the stock AWS Labs tool-server definitions.
func DefaultServers() []ServerConfig {
	return []ServerConfig{
		{
			Name:    "aws-api",
			Command: "uvx",
			Args:    []string{"awslabs.aws-api-mcp-server@latest"},
			Env: map[string]string{
				"AWS_API_MCP_WORKING_DIR": "/tmp",
			},
		},
		{
			Name:    "aws-docs",
			Command: "uvx",
			Args:    []string{"awslabs.aws-documentation-mcp-server@latest"},
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".cloudchat")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if key := os.Getenv("CLOUDCHAT_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
		if cfg.Provider.Type == "" {
			cfg.Provider.Type = "openai"
		}
	}
	if url := os.Getenv("CLOUDCHAT_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if url := os.Getenv("ANTHROPIC_BASE_URL"); url != "" && cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = url
	}
	if model := os.Getenv("CLOUDCHAT_MODEL"); model != "" {
		cfg.Agent.Model = model
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWS.Region = region
	}
	if profile := os.Getenv("AWS_PROFILE"); profile != "" {
		cfg.AWS.Profile = profile
	}
	if token := os.Getenv("CLOUDCHAT_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if port := os.Getenv("CLOUDCHAT_PORT"); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil {
			cfg.Gateway.Port = parsed
		}
	}

	if cfg.AWS.Region == "" {
		cfg.AWS.Region = DefaultRegion
	}
	if cfg.Agent.MaxTokens <= 0 {
		cfg.Agent.MaxTokens = DefaultMaxTokens
	}
	if len(cfg.Servers) == 0 {
		cfg.Servers = DefaultServers()
	}

	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}

// EnabledServers filters out disabled server definitions.
func (c *Config) EnabledServers() []ServerConfig {
	out := make([]ServerConfig, 0, len(c.Servers))
	for _, s := range c.Servers {
		if !s.Disabled {
			out = append(out, s)
		}
	}
	return out
}
