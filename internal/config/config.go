// Package config handles skiff configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./skiff.yaml, ~/.config/skiff/config.yaml, /etc/skiff/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"skiff.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "skiff", "config.yaml"))
	}

	paths = append(paths, "/etc/skiff/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all skiff configuration.
type Config struct {
	Listen   ListenConfig  `yaml:"listen"`
	OpenAI   OpenAIConfig  `yaml:"openai"`
	Drive    DriveConfig   `yaml:"drive"`
	Dropbox  DropboxConfig `yaml:"dropbox"`
	Agent    AgentConfig   `yaml:"agent"`
	Auth     AuthConfig    `yaml:"auth"`
	DataDir  string        `yaml:"data_dir"`
	LogLevel string        `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// OpenAIConfig defines the model inference settings.
type OpenAIConfig struct {
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// DriveConfig defines Google Drive OAuth credentials. Access is read-only;
// the refresh token must carry the drive.readonly scope.
type DriveConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`
}

// DropboxConfig defines Dropbox API access.
type DropboxConfig struct {
	AccessToken string `yaml:"access_token"`
}

// AgentConfig tunes the orchestration loop.
type AgentConfig struct {
	// MaxIterations caps model-call cycles per turn (default 5).
	MaxIterations int `yaml:"max_iterations"`
	// SystemPromptFile overrides the built-in system prompt.
	SystemPromptFile string `yaml:"system_prompt_file"`
}

// AuthConfig defines session token behaviour.
type AuthConfig struct {
	// TokenTTLMinutes is how long login tokens stay valid (default 30).
	TokenTTLMinutes int `yaml:"token_ttl_minutes"`
	// SecureCookies marks the auth cookie Secure (set behind TLS).
	SecureCookies bool `yaml:"secure_cookies"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8000},
		OpenAI: OpenAIConfig{
			Model:     "gpt-4o-mini",
			MaxTokens: 500,
		},
		Agent:   AgentConfig{MaxIterations: 5},
		Auth:    AuthConfig{TokenTTLMinutes: 30},
		DataDir: ".",
	}
}

// Validate reports configuration errors that prevent startup.
func (c *Config) Validate() error {
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai.api_key is required")
	}
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent.max_iterations must be positive")
	}
	return nil
}
