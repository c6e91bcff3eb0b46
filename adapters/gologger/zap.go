// Package gologger backs glog with zap for the hub process and bridges the
// same core into go-job.
package gologger

import (
	"context"
	"sort"
	"strings"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger implements glog.Logger and glog.FieldsLogger on a sugared zap
// logger. Args follow the key/value convention used by glog callers.
type ZapLogger struct {
	base *zap.SugaredLogger
}

func NewZapLogger(logger *zap.Logger) *ZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLogger{base: logger.Sugar()}
}

// NewProductionLogger builds a JSON logger at level. Unknown levels fall back
// to info; debug switches to the console development encoder.
func NewProductionLogger(level string) (*ZapLogger, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		level = "info"
	}
	var parsed zapcore.Level
	if err := parsed.UnmarshalText([]byte(level)); err != nil {
		parsed = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(parsed)
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.MessageKey = "message"
	if parsed == zapcore.DebugLevel {
		config = zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(parsed)
	}

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}
	return NewZapLogger(logger), nil
}

func (l *ZapLogger) Trace(msg string, args ...any) { l.sugar().Debugw(msg, args...) }
func (l *ZapLogger) Debug(msg string, args ...any) { l.sugar().Debugw(msg, args...) }
func (l *ZapLogger) Info(msg string, args ...any)  { l.sugar().Infow(msg, args...) }
func (l *ZapLogger) Warn(msg string, args ...any)  { l.sugar().Warnw(msg, args...) }
func (l *ZapLogger) Error(msg string, args ...any) { l.sugar().Errorw(msg, args...) }
func (l *ZapLogger) Fatal(msg string, args ...any) { l.sugar().Fatalw(msg, args...) }

// WithContext attaches the active span's trace and span ids when present.
func (l *ZapLogger) WithContext(ctx context.Context) glog.Logger {
	if ctx == nil {
		return l
	}
	spanContext := trace.SpanContextFromContext(ctx)
	if !spanContext.IsValid() {
		return l
	}
	return &ZapLogger{base: l.sugar().With(
		"trace_id", spanContext.TraceID().String(),
		"span_id", spanContext.SpanID().String(),
	)}
}

func (l *ZapLogger) WithFields(fields map[string]any) glog.Logger {
	if len(fields) == 0 {
		return l
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return &ZapLogger{base: l.sugar().With(args...)}
}

func (l *ZapLogger) Named(name string) *ZapLogger {
	name = strings.TrimSpace(name)
	if name == "" {
		return l
	}
	return &ZapLogger{base: l.sugar().Named(name)}
}

func (l *ZapLogger) Sync() error {
	return l.sugar().Sync()
}

func (l *ZapLogger) sugar() *zap.SugaredLogger {
	if l == nil || l.base == nil {
		return zap.NewNop().Sugar()
	}
	return l.base
}

// ZapProvider hands out named children of one root logger.
type ZapProvider struct {
	root *ZapLogger
}

func NewZapProvider(root *ZapLogger) *ZapProvider {
	if root == nil {
		root = NewZapLogger(nil)
	}
	return &ZapProvider{root: root}
}

func (p *ZapProvider) GetLogger(name string) glog.Logger {
	if p == nil || p.root == nil {
		return glog.Nop()
	}
	return p.root.Named(name)
}

// ForJobs returns go-job views of the logger so queue workers share the
// process zap core. The job logger is the named child name.
func (l *ZapLogger) ForJobs(name string) (job.LoggerProvider, job.Logger) {
	provider := NewZapProvider(l)
	return job.GoLoggerProvider(provider), job.GoLogger(provider.GetLogger(name))
}

var (
	_ glog.Logger         = (*ZapLogger)(nil)
	_ glog.FieldsLogger   = (*ZapLogger)(nil)
	_ glog.LoggerProvider = (*ZapProvider)(nil)
)
