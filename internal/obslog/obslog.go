// Package obslog provides the phase-oriented structured logging
// vocabulary every component logs through. It is built once in main and
// threaded down explicitly — no component reaches for a package-level
// logger.
package obslog

import (
	"time"

	"go.uber.org/zap"

	"github.com/kestrelrun/runner/internal/mask"
)

// Logger wraps a zap.Logger with the call shapes the rest of the tree
// uses, masking every field value before it reaches the sink.
type Logger struct {
	z *zap.Logger
}

// New constructs a production-configured Logger. nonInteractive selects
// JSON encoding (for piping/aggregation); interactive mode uses zap's
// console encoder.
func New(nonInteractive bool) (*Logger, error) {
	var cfg zap.Config
	if nonInteractive {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	z, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{z: z}, nil
}

// NewNop returns a Logger that discards everything, for tests.
func NewNop() *Logger {
	return &Logger{z: zap.NewNop()}
}

func maskedField(key string, value interface{}) zap.Field {
	switch v := value.(type) {
	case string:
		return zap.String(key, mask.Mask(v))
	case error:
		if v == nil {
			return zap.Skip()
		}
		return zap.String(key, mask.Mask(v.Error()))
	default:
		return zap.Any(key, mask.MaskValue(value))
	}
}

func fields(m map[string]interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(m))
	for k, v := range m {
		out = append(out, maskedField(k, v))
	}
	return out
}

// Sync flushes any buffered log entries. Call on shutdown.
func (l *Logger) Sync() error {
	return l.z.Sync()
}

// PhaseStart logs the start of a lifecycle phase.
func (l *Logger) PhaseStart(phase, sessionID, taskID string) {
	l.z.Info("phase start",
		zap.String("phase", phase),
		zap.String("sessionId", sessionID),
		zap.String("taskId", taskID),
	)
}

// PhaseComplete logs the completion of a lifecycle phase.
func (l *Logger) PhaseComplete(phase, sessionID, taskID string, dur time.Duration, outcome string) {
	l.z.Info("phase complete",
		zap.String("phase", phase),
		zap.String("sessionId", sessionID),
		zap.String("taskId", taskID),
		zap.Duration("duration", dur),
		zap.String("outcome", outcome),
	)
}

// ExecutorResult logs the outcome of one executor invocation — the
// generalization of the teacher's per-tool-call result logging to a
// whole-task executor call.
func (l *Logger) ExecutorResult(executorName string, dur time.Duration, err error) {
	fields := []zap.Field{
		zap.String("executor", executorName),
		zap.Duration("duration", dur),
	}
	if err != nil {
		l.z.Error("executor result", append(fields, maskedField("error", err))...)
		return
	}
	l.z.Info("executor result", fields...)
}

// Warn logs a structured warning — the generalization of the teacher's
// SecurityWarning to any warn-level condition worth surfacing.
func (l *Logger) Warn(msg string, kv map[string]interface{}) {
	l.z.Warn(mask.Mask(msg), fields(kv)...)
}

// Info logs a structured informational event.
func (l *Logger) Info(msg string, kv map[string]interface{}) {
	l.z.Info(mask.Mask(msg), fields(kv)...)
}

// Error logs a structured error event.
func (l *Logger) Error(msg string, kv map[string]interface{}) {
	l.z.Error(mask.Mask(msg), fields(kv)...)
}

// Debug logs a structured debug event.
func (l *Logger) Debug(msg string, kv map[string]interface{}) {
	l.z.Debug(mask.Mask(msg), fields(kv)...)
}
