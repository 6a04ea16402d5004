package logx

import (
	"context"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey struct{}

var logger atomic.Pointer[zap.Logger]

func init() {
	logger.Store(zap.NewNop())
}

// Init builds the process logger. Until it is called L returns a no-op logger,
// which keeps package tests quiet.
func Init(level string) error {
	zapCfg := zap.NewProductionConfig()
	zapCfg.Sampling = nil
	zapCfg.DisableStacktrace = true
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if level != "" {
		if err := zapCfg.Level.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
			return err
		}
	}
	built, err := zapCfg.Build(zap.AddCaller())
	if err != nil {
		return err
	}
	logger.Store(built)
	return nil
}

func L() *zap.Logger {
	return logger.Load()
}

func Set(l *zap.Logger) {
	logger.Store(l)
}

func Sync() {
	_ = L().Sync()
}

// WithContext stores a request-scoped logger.
func WithContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From returns the request-scoped logger, falling back to L.
func From(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return L()
}
