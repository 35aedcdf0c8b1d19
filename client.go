package tunnelchat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/tunnelchat/core"
	"pkt.systems/tunnelchat/internal/appconfig"
	"pkt.systems/tunnelchat/internal/chatstream"
	"pkt.systems/tunnelchat/internal/console"
	"pkt.systems/tunnelchat/internal/transcript"
	"pkt.systems/tunnelchat/internal/tunnel"
	"pkt.systems/tunnelchat/schema"
)

// Deps captures optional collaborators for a Client.
type Deps struct {
	Logger     pslog.Logger
	HTTPClient *http.Client
	// Console, when set, receives the framed reply stream.
	Console io.Writer
	// Tunnel overrides the tunnel built from the configuration.
	Tunnel core.Tunnel
}

// Client wires the tunnel, chat source, sinks and session from one config.
type Client struct {
	cfg        appconfig.Config
	log        pslog.Logger
	tunnel     core.Tunnel
	session    *core.Session
	mux        *Multiplexer
	transcript *transcript.Writer
	chatOpts   []chatstream.Option

	closeOnce sync.Once
	closeErr  error
}

// New builds a Client. The tunnel is not opened until Start or Run.
func New(cfg appconfig.Config, deps Deps) (*Client, error) {
	if err := appconfig.Validate(cfg); err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}

	tun := deps.Tunnel
	if tun == nil {
		var err error
		tun, err = NewTunnel(cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	chatOpts := ChatOptions(cfg)
	if deps.HTTPClient != nil {
		chatOpts = append(chatOpts, chatstream.WithHTTPClient(deps.HTTPClient))
	}

	mux := NewMultiplexer(logger)
	if deps.Console != nil {
		mux.Register("console", console.NewSink(deps.Console, console.WithThinking(cfg.Chat.ShowThinking)))
	}
	var writer *transcript.Writer
	if cfg.Transcript.Enabled {
		var err error
		writer, err = transcript.Open(cfg.Transcript.Path, logger)
		if err != nil {
			return nil, err
		}
		mux.Register("transcript", writer)
	}

	session, err := core.NewSession(SessionConfig(cfg), core.SessionDeps{
		Tunnel:  tun,
		Sources: chatstream.Factory(schema.ModelID(cfg.Chat.Model), chatOpts...),
		Sink:    mux,
		Logger:  logger,
	})
	if err != nil {
		if writer != nil {
			_ = writer.Close()
		}
		return nil, err
	}
	return &Client{
		cfg:        cfg,
		log:        logger,
		tunnel:     tun,
		session:    session,
		mux:        mux,
		transcript: writer,
		chatOpts:   chatOpts,
	}, nil
}

// NewTunnel builds the tunnel for cfg: a Direct endpoint when chat.base_url is
// set, otherwise an SSH forward.
func NewTunnel(cfg appconfig.Config, logger pslog.Logger) (core.Tunnel, error) {
	if cfg.Direct() {
		return tunnel.NewDirect(cfg.Chat.BaseURL, logger), nil
	}
	manager, err := tunnel.NewManager(TunnelSpec(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("tunnel config: %w", err)
	}
	return manager, nil
}

// TunnelSpec maps the configuration onto a tunnel.Spec.
func TunnelSpec(cfg appconfig.Config) tunnel.Spec {
	return tunnel.Spec{
		SSHHost: cfg.SSH.Host,
		SSHPort: cfg.SSH.Port,
		User:    cfg.SSH.User,
		Auth: tunnel.Auth{
			UseAgent:       cfg.SSH.UseAgent,
			PrivateKeyPath: cfg.SSH.PrivateKeyPath,
			Passphrase:     cfg.SSH.Passphrase,
			Password:       cfg.SSH.Password,
			TOTPSecret:     cfg.SSH.TOTPSecret,
		},
		KnownHostsPath:        cfg.SSH.KnownHostsPath,
		HostKeyFingerprint:    cfg.SSH.HostKeyFingerprint,
		InsecureIgnoreHostKey: cfg.SSH.InsecureIgnoreHostKey,
		LocalHost:             cfg.Forward.LocalHost,
		LocalPort:             cfg.Forward.LocalPort,
		RemoteHost:            cfg.Forward.RemoteHost,
		RemotePort:            cfg.Forward.RemotePort,
		DialTimeout:           seconds(cfg.SSH.DialTimeoutSeconds),
		KeepaliveInterval:     seconds(cfg.SSH.KeepaliveIntervalSeconds),
		APIPath:               cfg.Forward.APIPath,
	}
}

// SessionConfig maps the configuration onto a schema.SessionConfig.
func SessionConfig(cfg appconfig.Config) schema.SessionConfig {
	return schema.SessionConfig{
		Model:        schema.ModelID(cfg.Chat.Model),
		SystemPrompt: cfg.Chat.SystemPrompt,
		ProbeTimeout: seconds(cfg.Chat.ProbeTimeoutSeconds),
		HistoryMax:   cfg.Chat.HistoryMax,
	}
}

// ChatOptions maps the configuration onto chat client options.
func ChatOptions(cfg appconfig.Config) []chatstream.Option {
	opts := []chatstream.Option{chatstream.WithStallTimeout(seconds(cfg.Chat.StallTimeoutSeconds))}
	if cfg.Chat.APIKey != "" {
		opts = append(opts, chatstream.WithAPIKey(cfg.Chat.APIKey))
	}
	return opts
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

// Session returns the underlying session.
func (c *Client) Session() *core.Session {
	return c.session
}

// Multiplexer returns the sink fan-out, so callers can register more sinks
// before the first turn.
func (c *Client) Multiplexer() *Multiplexer {
	return c.mux
}

// Start opens and verifies the tunnel.
func (c *Client) Start(ctx context.Context) error {
	return c.session.Start(ctx)
}

// API returns a chat client bound to the live tunnel for non-streaming calls.
func (c *Client) API() (*chatstream.Client, error) {
	handle := c.session.Handle()
	if handle == nil {
		return nil, schema.ErrTunnelClosed
	}
	return chatstream.New(handle.BaseURL(), c.session.Model(), c.chatOpts...), nil
}

// Run drives an interactive session and releases everything on return.
func (c *Client) Run(ctx context.Context, input core.InputSource) error {
	defer func() {
		if err := c.Close(); err != nil {
			c.log.Warn("client close failed", "err", err)
		}
	}()
	return c.session.Run(ctx, input)
}

// Close releases the tunnel and the transcript. It is idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.session.Close()
		if c.transcript != nil {
			c.closeErr = c.transcript.Close()
		}
	})
	return c.closeErr
}

// IsSessionFatal reports whether err ends the whole session rather than one turn.
func IsSessionFatal(err error) bool {
	var connectErr *schema.ConnectError
	var verifyErr *schema.VerifyError
	return errors.As(err, &connectErr) || errors.As(err, &verifyErr) || errors.Is(err, schema.ErrTunnelClosed)
}
