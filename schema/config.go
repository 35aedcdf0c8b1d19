package schema

import (
	"fmt"
	"strings"
	"time"
)

// SessionConfig defines defaults and limits for a chat session.
type SessionConfig struct {
	Model ModelID
	// SystemPrompt, when set, is sent ahead of the conversation on every turn.
	SystemPrompt string
	// ProbeTimeout bounds the health probe issued after the tunnel opens.
	ProbeTimeout time.Duration
	// HistoryMax caps the committed conversation entries sent per turn (0 keeps all).
	HistoryMax int
}

// DefaultProbeTimeout is the default bound on the health probe.
const DefaultProbeTimeout = 10 * time.Second

// NormalizeSessionConfig applies defaults and validates the config.
func NormalizeSessionConfig(cfg SessionConfig) (SessionConfig, error) {
	model, err := NormalizeModelID(string(cfg.Model))
	if err != nil {
		return SessionConfig{}, fmt.Errorf("session model: %w", err)
	}
	cfg.Model = model
	cfg.SystemPrompt = strings.TrimSpace(cfg.SystemPrompt)
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.HistoryMax < 0 {
		cfg.HistoryMax = 0
	}
	return cfg, nil
}
