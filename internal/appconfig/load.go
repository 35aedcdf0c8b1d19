package appconfig

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"pkt.systems/tunnelchat/internal/persist"
)

// EnvPrefix prefixes environment overrides, e.g. TUNNELCHAT_SSH_HOST.
const EnvPrefix = "TUNNELCHAT"

// Load reads configuration from the provided path. If path is empty, uses
// DefaultConfigPath. A missing file yields the defaults plus environment
// overrides. Files named *.txt are read as legacy key=value configs.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := newViper(cfg)
	v.SetConfigFile(path)
	legacy := isLegacyPath(path)
	if legacy {
		v.SetConfigType(legacyFormat)
	} else {
		v.SetConfigType("yaml")
	}

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		configLoaded = true
	}

	if configLoaded && legacy {
		if err := applyLegacy(v); err != nil {
			return Config{}, fmt.Errorf("legacy config %s: %w", path, err)
		}
	} else if configLoaded {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func newViper(cfg Config) *viper.Viper {
	v := viper.NewWithOptions(viper.WithCodecRegistry(codecRegistry()))
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("ssh.host", cfg.SSH.Host)
	v.SetDefault("ssh.port", cfg.SSH.Port)
	v.SetDefault("ssh.user", cfg.SSH.User)
	v.SetDefault("ssh.password", cfg.SSH.Password)
	v.SetDefault("ssh.ask_password", cfg.SSH.AskPassword)
	v.SetDefault("ssh.private_key_path", cfg.SSH.PrivateKeyPath)
	v.SetDefault("ssh.passphrase", cfg.SSH.Passphrase)
	v.SetDefault("ssh.use_agent", cfg.SSH.UseAgent)
	v.SetDefault("ssh.totp_secret", cfg.SSH.TOTPSecret)
	v.SetDefault("ssh.known_hosts_path", cfg.SSH.KnownHostsPath)
	v.SetDefault("ssh.host_key_fingerprint", cfg.SSH.HostKeyFingerprint)
	v.SetDefault("ssh.insecure_ignore_host_key", cfg.SSH.InsecureIgnoreHostKey)
	v.SetDefault("ssh.dial_timeout_seconds", cfg.SSH.DialTimeoutSeconds)
	v.SetDefault("ssh.keepalive_interval_seconds", cfg.SSH.KeepaliveIntervalSeconds)
	v.SetDefault("forward.local_host", cfg.Forward.LocalHost)
	v.SetDefault("forward.local_port", cfg.Forward.LocalPort)
	v.SetDefault("forward.remote_host", cfg.Forward.RemoteHost)
	v.SetDefault("forward.remote_port", cfg.Forward.RemotePort)
	v.SetDefault("forward.api_path", cfg.Forward.APIPath)
	v.SetDefault("chat.model", cfg.Chat.Model)
	v.SetDefault("chat.system_prompt", cfg.Chat.SystemPrompt)
	v.SetDefault("chat.api_key", cfg.Chat.APIKey)
	v.SetDefault("chat.base_url", cfg.Chat.BaseURL)
	v.SetDefault("chat.history_max", cfg.Chat.HistoryMax)
	v.SetDefault("chat.probe_timeout_seconds", cfg.Chat.ProbeTimeoutSeconds)
	v.SetDefault("chat.stall_timeout_seconds", cfg.Chat.StallTimeoutSeconds)
	v.SetDefault("chat.show_thinking", cfg.Chat.ShowThinking)
	v.SetDefault("chat.history_file", cfg.Chat.HistoryFile)
	v.SetDefault("transcript.enabled", cfg.Transcript.Enabled)
	v.SetDefault("transcript.path", cfg.Transcript.Path)
	return v
}

// Validate checks ranges and formats. Presence of tunnel credentials is
// checked when the tunnel is built, so commands that do not dial still load.
func Validate(cfg Config) error {
	ports := []struct {
		key   string
		value int
		zero  bool
	}{
		{"ssh.port", cfg.SSH.Port, false},
		{"forward.local_port", cfg.Forward.LocalPort, true},
		{"forward.remote_port", cfg.Forward.RemotePort, false},
	}
	for _, p := range ports {
		if p.value < 0 || p.value > 65535 || (p.value == 0 && !p.zero) {
			return fmt.Errorf("%s %d out of range", p.key, p.value)
		}
	}
	if strings.TrimSpace(cfg.Chat.Model) == "" {
		return fmt.Errorf("chat.model is required")
	}
	if baseURL := strings.TrimSpace(cfg.Chat.BaseURL); baseURL != "" {
		parsed, err := url.Parse(baseURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("chat.base_url must include scheme and host (e.g. http://127.0.0.1:11434/v1)")
		}
	}
	if cfg.Chat.HistoryMax < 0 {
		return fmt.Errorf("chat.history_max must not be negative")
	}
	if cfg.Transcript.Enabled && strings.TrimSpace(cfg.Transcript.Path) == "" {
		return fmt.Errorf("transcript.path is required when transcript.enabled is set")
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.SSH.PrivateKeyPath = expandEnv(cfg.SSH.PrivateKeyPath)
	cfg.SSH.KnownHostsPath = expandEnv(cfg.SSH.KnownHostsPath)
	cfg.Chat.HistoryFile = expandEnv(cfg.Chat.HistoryFile)
	cfg.Transcript.Path = expandEnv(cfg.Transcript.Path)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	if value == "~" || strings.HasPrefix(value, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			value = filepath.Join(home, strings.TrimPrefix(value, "~"))
		}
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	if err := persist.WriteFile(path, data, 0o600, nil); err != nil {
		return "", err
	}
	return path, nil
}
