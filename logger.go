package apiclient

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ambiyansyah-risyal/apiclient/log/zaplog"
)

// Logger is a leveled logger taking alternating key/value pairs.
// Adapters for zap and logrus live under log/.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// NewSimpleLogger returns a console logger backed by zap's development config.
func NewSimpleLogger() Logger {
	l, err := zap.NewDevelopment()
	if err != nil {
		l = zap.NewNop()
	}
	return zaplog.New(l)
}

// DebugConfig selects which debug events are logged. Warnings about
// swallowed cache failures and session ends are logged regardless.
type DebugConfig struct {
	Enabled      bool
	LogRequests  bool
	LogCache     bool
	LogDedup     bool
	LogCooldown  bool
	LogRenewal   bool
	RequestIDGen func() string
}

// DefaultDebugConfig returns a disabled config with every category selected.
func DefaultDebugConfig() *DebugConfig {
	return &DebugConfig{
		Enabled:      false,
		LogRequests:  true,
		LogCache:     true,
		LogDedup:     true,
		LogCooldown:  true,
		LogRenewal:   true,
		RequestIDGen: uuid.NewString,
	}
}

func (d *DebugConfig) on(category bool) bool {
	return d != nil && d.Enabled && category
}
