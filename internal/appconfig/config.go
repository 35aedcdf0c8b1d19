package appconfig

import (
	"os"
	"path/filepath"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int              `mapstructure:"config_version" yaml:"config_version"`
	SSH           SSHConfig        `mapstructure:"ssh" yaml:"ssh"`
	Forward       ForwardConfig    `mapstructure:"forward" yaml:"forward"`
	Chat          ChatConfig       `mapstructure:"chat" yaml:"chat"`
	Transcript    TranscriptConfig `mapstructure:"transcript" yaml:"transcript"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// SSHConfig configures the jump host connection.
type SSHConfig struct {
	Host                     string `mapstructure:"host" yaml:"host"`
	Port                     int    `mapstructure:"port" yaml:"port"`
	User                     string `mapstructure:"user" yaml:"user"`
	Password                 string `mapstructure:"password" yaml:"password,omitempty"`
	AskPassword              bool   `mapstructure:"ask_password" yaml:"ask_password"`
	PrivateKeyPath           string `mapstructure:"private_key_path" yaml:"private_key_path"`
	Passphrase               string `mapstructure:"passphrase" yaml:"passphrase,omitempty"`
	UseAgent                 bool   `mapstructure:"use_agent" yaml:"use_agent"`
	TOTPSecret               string `mapstructure:"totp_secret" yaml:"totp_secret,omitempty"`
	KnownHostsPath           string `mapstructure:"known_hosts_path" yaml:"known_hosts_path"`
	HostKeyFingerprint       string `mapstructure:"host_key_fingerprint" yaml:"host_key_fingerprint"`
	InsecureIgnoreHostKey    bool   `mapstructure:"insecure_ignore_host_key" yaml:"insecure_ignore_host_key"`
	DialTimeoutSeconds       int    `mapstructure:"dial_timeout_seconds" yaml:"dial_timeout_seconds"`
	KeepaliveIntervalSeconds int    `mapstructure:"keepalive_interval_seconds" yaml:"keepalive_interval_seconds"`
}

// ForwardConfig configures the local port forward.
type ForwardConfig struct {
	LocalHost  string `mapstructure:"local_host" yaml:"local_host"`
	LocalPort  int    `mapstructure:"local_port" yaml:"local_port"`
	RemoteHost string `mapstructure:"remote_host" yaml:"remote_host"`
	RemotePort int    `mapstructure:"remote_port" yaml:"remote_port"`
	APIPath    string `mapstructure:"api_path" yaml:"api_path"`
}

// ChatConfig configures the chat session.
type ChatConfig struct {
	Model        string `mapstructure:"model" yaml:"model"`
	SystemPrompt string `mapstructure:"system_prompt" yaml:"system_prompt"`
	APIKey       string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	// BaseURL, when set, talks to the endpoint directly and skips the SSH tunnel.
	BaseURL             string `mapstructure:"base_url" yaml:"base_url"`
	HistoryMax          int    `mapstructure:"history_max" yaml:"history_max"`
	ProbeTimeoutSeconds int    `mapstructure:"probe_timeout_seconds" yaml:"probe_timeout_seconds"`
	StallTimeoutSeconds int    `mapstructure:"stall_timeout_seconds" yaml:"stall_timeout_seconds"`
	ShowThinking        bool   `mapstructure:"show_thinking" yaml:"show_thinking"`
	HistoryFile         string `mapstructure:"history_file" yaml:"history_file"`
}

// TranscriptConfig configures the markdown transcript.
type TranscriptConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		SSH: SSHConfig{
			Port:                     22,
			UseAgent:                 true,
			KnownHostsPath:           filepath.Join(home, ".ssh", "known_hosts"),
			DialTimeoutSeconds:       15,
			KeepaliveIntervalSeconds: 30,
		},
		Forward: ForwardConfig{
			LocalHost:  "127.0.0.1",
			LocalPort:  8888,
			RemoteHost: "localhost",
			RemotePort: 11434,
			APIPath:    "/v1",
		},
		Chat: ChatConfig{
			Model:               "deepseek-r1:70b",
			ProbeTimeoutSeconds: 10,
			StallTimeoutSeconds: 120,
			ShowThinking:        true,
			HistoryFile:         filepath.Join(home, ".tunnelchat", "history"),
		},
		Transcript: TranscriptConfig{
			Enabled: false,
			Path:    "output.md",
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".tunnelchat", "config.yaml"), nil
}

// Direct reports whether the chat endpoint is reached without a tunnel.
func (c Config) Direct() bool {
	return c.Chat.BaseURL != ""
}
