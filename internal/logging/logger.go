package logging

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevelEnvVar controls logging verbosity when no level is passed to
// Initialize. Unset or empty means silent.
const LogLevelEnvVar = "LUMEN_LOG_LEVEL"

// maxDumpBytes caps hex dumps of datagrams.
const maxDumpBytes = 128

var (
	mu     sync.RWMutex
	logger *zap.Logger
)

// Initialize creates the global logger. An empty level falls back to
// LUMEN_LOG_LEVEL; if that is empty too, logging is disabled. Output paths
// default to stderr.
func Initialize(level string, outputs ...string) error {
	if level == "" {
		level = os.Getenv(LogLevelEnvVar)
	}
	if level == "" {
		setLogger(zap.NewNop())
		return nil
	}

	zapLevel, err := ParseLevel(level)
	if err != nil {
		return err
	}
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	if len(outputs) == 1 && (outputs[0] == "stderr" || outputs[0] == "stdout") {
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	l, err := config.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	setLogger(l)
	return nil
}

// InitializeFromEnv initializes the logger from LUMEN_LOG_LEVEL only.
func InitializeFromEnv() error {
	return Initialize("")
}

// ParseLevel maps a level name onto a zap level.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// SetLogger replaces the global logger. Tests use it to install zaptest
// loggers.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	setLogger(l)
}

func setLogger(l *zap.Logger) {
	mu.Lock()
	logger = l
	mu.Unlock()
}

// GetLogger returns the global logger, a no-op logger if none was set.
func GetLogger() *zap.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l != nil {
		return l
	}
	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger
}

// Named returns a child of the global logger, or fallback's child when
// fallback is non-nil.
func Named(fallback *zap.Logger, name string) *zap.Logger {
	if fallback != nil {
		return fallback.Named(name)
	}
	return GetLogger().Named(name)
}

func Debug(msg string, fields ...zap.Field) { GetLogger().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { GetLogger().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { GetLogger().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { GetLogger().Error(msg, fields...) }

// LogDatagram logs one datagram in or out. The payload hex dump is only
// produced when the logger has debug enabled.
func LogDatagram(l *zap.Logger, direction string, addr fmt.Stringer, data []byte) {
	if l == nil {
		l = GetLogger()
	}
	if ce := l.Check(zapcore.DebugLevel, "datagram"); ce != nil {
		peer := ""
		if addr != nil {
			peer = addr.String()
		}
		ce.Write(
			zap.String("direction", direction),
			zap.String("peer", peer),
			zap.Int("length", len(data)),
			zap.String("hex", HexDump(data)),
		)
	}
}

// LogRequest logs an outgoing correlated request at debug level.
func LogRequest(l *zap.Logger, token uint8, addr fmt.Stringer, msgType string) {
	if l == nil {
		l = GetLogger()
	}
	if ce := l.Check(zapcore.DebugLevel, "request"); ce != nil {
		peer := ""
		if addr != nil {
			peer = addr.String()
		}
		ce.Write(zap.Uint8("token", token), zap.String("peer", peer), zap.String("type", msgType))
	}
}

// HexDump renders at most maxDumpBytes of data as hex.
func HexDump(data []byte) string {
	if len(data) > maxDumpBytes {
		return hex.EncodeToString(data[:maxDumpBytes]) + "..."
	}
	return hex.EncodeToString(data)
}

// Sync flushes buffered entries.
func Sync() {
	_ = GetLogger().Sync()
}
