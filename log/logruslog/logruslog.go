// Package logruslog adapts a logrus entry to the apiclient Logger interface.
package logruslog

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

type Logger struct{ E *logrus.Entry }

// New wraps e. A nil entry logs through the logrus standard logger.
func New(e *logrus.Entry) Logger {
	if e == nil {
		e = logrus.NewEntry(logrus.StandardLogger())
	}
	return Logger{E: e}
}

func (l Logger) Debug(msg string, kv ...any) { l.E.WithFields(fields(kv)).Debug(msg) }
func (l Logger) Info(msg string, kv ...any)  { l.E.WithFields(fields(kv)).Info(msg) }
func (l Logger) Warn(msg string, kv ...any)  { l.E.WithFields(fields(kv)).Warn(msg) }
func (l Logger) Error(msg string, kv ...any) { l.E.WithFields(fields(kv)).Error(msg) }

func fields(kv []any) logrus.Fields {
	if len(kv) == 0 {
		return nil
	}
	out := make(logrus.Fields, (len(kv)+1)/2)
	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		if i+1 >= len(kv) {
			out["extra"] = kv[i]
			break
		}
		out[key] = kv[i+1]
	}
	return out
}
