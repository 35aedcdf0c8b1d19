package logx

import (
	"context"

	"pkt.systems/pslog"
	"pkt.systems/tunnelchat/schema"
)

type contextKey int

const modelKey contextKey = iota

// WithSession annotates the logger with a session id when available.
func WithSession(log pslog.Logger, sessionID schema.SessionID) pslog.Logger {
	if sessionID != "" {
		log = log.With("session", sessionID)
	}
	return log
}

// WithTurn annotates the logger with the turn number.
func WithTurn(log pslog.Logger, turn schema.TurnID) pslog.Logger {
	if turn > 0 {
		log = log.With("turn", int(turn))
	}
	return log
}

// WithTunnel annotates the logger with tunnel endpoints when available.
func WithTunnel(log pslog.Logger, sshAddr, localAddr, remoteAddr string) pslog.Logger {
	if sshAddr != "" {
		log = log.With("ssh", sshAddr)
	}
	if localAddr != "" {
		log = log.With("local", localAddr)
	}
	if remoteAddr != "" {
		log = log.With("remote", remoteAddr)
	}
	return log
}

// WithModel annotates the logger with the model id unless the context already carries it.
func WithModel(ctx context.Context, model schema.ModelID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if model != "" {
		if current, ok := ctx.Value(modelKey).(schema.ModelID); ok && current == model {
			return log
		}
		log = log.With("model", model)
	}
	return log
}

// ContextWithModel stores the model marker on the context for log de-duplication.
func ContextWithModel(ctx context.Context, model schema.ModelID) context.Context {
	if ctx == nil || model == "" {
		return ctx
	}
	return context.WithValue(ctx, modelKey, model)
}

// ContextWithModelLogger attaches the logger and model marker to the context.
func ContextWithModelLogger(ctx context.Context, log pslog.Logger, model schema.ModelID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithModel(ctx, model)
}
