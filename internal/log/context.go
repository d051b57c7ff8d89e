// SPDX-License-Identifier: MIT

package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey string

const (
	sessionKey ctxKey = "session_key"
	commandKey ctxKey = "command_index"
)

// ContextWithSessionKey stores the "client/test/session" key in the context.
func ContextWithSessionKey(ctx context.Context, key string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, sessionKey, key)
}

// SessionKeyFromContext extracts the session key from context if present.
func SessionKeyFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(sessionKey).(string); ok {
		return v
	}
	return ""
}

// ContextWithCommandIndex stores the current command index in the context.
func ContextWithCommandIndex(ctx context.Context, idx int) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, commandKey, idx)
}

// CommandIndexFromContext extracts the command index, or -1 if absent.
func CommandIndexFromContext(ctx context.Context) int {
	if ctx == nil {
		return -1
	}
	if v, ok := ctx.Value(commandKey).(int); ok {
		return v
	}
	return -1
}

// FromContext returns a logger from the context, or the base logger if none
// is attached.
func FromContext(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		l := Base()
		return &l
	}
	l := zerolog.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled {
		b := Base()
		return &b
	}
	return l
}

// WithContext enriches the supplied logger with session fields from ctx.
func WithContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return logger
	}
	builder := logger.With()
	added := false
	if sk := SessionKeyFromContext(ctx); sk != "" {
		builder = builder.Str("session_key", sk)
		added = true
	}
	if idx := CommandIndexFromContext(ctx); idx >= 0 {
		builder = builder.Int("command_index", idx)
		added = true
	}
	if !added {
		return logger
	}
	return builder.Logger()
}
