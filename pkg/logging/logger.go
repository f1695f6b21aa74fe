package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/agentguard/prompt-scanner/pkg/config"
)

// LogLevel represents logging levels
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

const serviceName = "promptguard"

// NewLogger creates and configures a new structured logger writing to stdout
func NewLogger(level LogLevel) *logrus.Logger {
	return newLogger(level, os.Stdout)
}

// NewFromConfig creates a logger from configuration. When a log file is
// configured, output goes to both stdout and a rotated file.
func NewFromConfig(cfg *config.Config) *logrus.Logger {
	var out io.Writer = os.Stdout

	if fc := cfg.Logging.File; fc.Path != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   fc.Path,
			MaxSize:    fc.MaxSizeMB,
			MaxBackups: fc.MaxBackups,
			MaxAge:     fc.MaxAgeDays,
			Compress:   fc.Compress,
		})
	}

	return newLogger(LogLevel(cfg.LogLevel), out)
}

func newLogger(level LogLevel, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)

	// Use JSON formatter for structured logging
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})

	logger.SetLevel(parseLogLevel(level))
	logger.AddHook(&serviceHook{service: serviceName})

	return logger
}

// serviceHook stamps every entry with the service name
type serviceHook struct {
	service string
}

func (h *serviceHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *serviceHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Data["service"]; !ok {
		entry.Data["service"] = h.service
	}
	return nil
}

// parseLogLevel converts string log level to logrus.Level
func parseLogLevel(level LogLevel) logrus.Level {
	switch level {
	case LogLevelDebug:
		return logrus.DebugLevel
	case LogLevelInfo:
		return logrus.InfoLevel
	case LogLevelWarn:
		return logrus.WarnLevel
	case LogLevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Discard returns a logger that drops all output, for tests
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// LogStartup logs service startup information
func LogStartup(logger *logrus.Logger, component string, cfg *config.Config) {
	logger.WithFields(logrus.Fields{
		"event":         "startup",
		"component":     component,
		"log_level":     cfg.LogLevel,
		"queue_backend": cfg.Queue.Backend,
		"queue_name":    cfg.Queue.Name,
		"store_driver":  cfg.Store.Driver,
	}).Info("promptguard starting")
}

// LogShutdownInitiated logs when shutdown is initiated
func LogShutdownInitiated(logger *logrus.Logger, signal string) {
	logger.WithFields(logrus.Fields{
		"event":  "shutdown_initiated",
		"signal": signal,
	}).Warn("Shutdown initiated")
}

// LogShutdownComplete logs when shutdown completes
func LogShutdownComplete(logger *logrus.Logger, duration float64) {
	logger.WithFields(logrus.Fields{
		"event":            "shutdown_complete",
		"duration_seconds": duration,
	}).Info("Shutdown complete")
}

// WithScan returns a logger entry scoped to one scan
func WithScan(logger *logrus.Logger, scanID, agentID string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"scan_id":  scanID,
		"agent_id": agentID,
	})
}
