// Package zaplog adapts a zap logger to the apiclient Logger interface.
package zaplog

import "go.uber.org/zap"

type Logger struct{ s *zap.SugaredLogger }

// New wraps l. A nil logger yields a no-op logger.
func New(l *zap.Logger) Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return Logger{s: l.Sugar()}
}

func (z Logger) Debug(msg string, kv ...any) { z.s.Debugw(msg, kv...) }
func (z Logger) Info(msg string, kv ...any)  { z.s.Infow(msg, kv...) }
func (z Logger) Warn(msg string, kv ...any)  { z.s.Warnw(msg, kv...) }
func (z Logger) Error(msg string, kv ...any) { z.s.Errorw(msg, kv...) }
