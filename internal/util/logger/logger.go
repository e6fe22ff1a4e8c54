package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalLogger *zap.SugaredLogger
	mu           sync.RWMutex
)

// Config defines logging configuration
type Config struct {
	Level    string // "debug", "info", "warn", "error"
	Encoding string // "json" or "console"
	Output   string // "stdout", "stderr"
}

// DefaultConfig returns default logger config
func DefaultConfig() *Config {
	return &Config{
		Level:    "info",
		Encoding: "console",
		Output:   "stdout",
	}
}

// InitLogger replaces the process-wide logger.
func InitLogger(cfg *Config) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out := io.Writer(os.Stdout)
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}
	l := New(cfg, out)

	mu.Lock()
	globalLogger = l
	mu.Unlock()
}

// New builds a sugared logger writing to out. It does not touch the global.
func New(cfg *Config, out io.Writer) *zap.SugaredLogger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.LevelKey = "level"
	encoderCfg.CallerKey = "caller"
	encoderCfg.MessageKey = "msg"
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var encoder zapcore.Encoder
	if cfg.Encoding == "json" {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(out), parseLevel(cfg.Level))
	return zap.New(core, zap.AddCaller()).Sugar()
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// GetLogger returns the global logger instance
func GetLogger() *zap.SugaredLogger {
	mu.RLock()
	l := globalLogger
	mu.RUnlock()
	if l != nil {
		return l
	}
	InitLogger(DefaultConfig())
	mu.RLock()
	defer mu.RUnlock()
	return globalLogger
}

// Sync flushes any buffered log entries
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if globalLogger != nil {
		_ = globalLogger.Sync()
	}
}

// caller skip of one so the helpers below report their caller
func helper() *zap.SugaredLogger {
	return GetLogger().WithOptions(zap.AddCallerSkip(1))
}

func Debugf(msg string, args ...interface{}) { helper().Debugf(msg, args...) }

func Infof(msg string, args ...interface{}) { helper().Infof(msg, args...) }

func Warnf(msg string, args ...interface{}) { helper().Warnf(msg, args...) }

func Errorf(msg string, args ...interface{}) { helper().Errorf(msg, args...) }

// Fatalf logs and exits the process.
func Fatalf(msg string, args ...interface{}) { helper().Fatalf(msg, args...) }
