// Package logging provides structured logging functionality.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	Console    bool
	File       bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	home, _ := os.UserHomeDir()
	return LogConfig{
		Level:      "info",
		Console:    true,
		File:       true,
		FilePath:   filepath.Join(home, ".config", "brokersync", "logs", "brokersync.log"),
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     30,
	}
}

// NewLogger creates a new logger with default configuration.
func NewLogger() zerolog.Logger {
	return NewLoggerWithConfig(DefaultLogConfig())
}

// NewLoggerWithConfig creates a new logger with the specified configuration.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer

	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	}

	if cfg.File {
		logDir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(logDir, 0755); err == nil {
			writers = append(writers, &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			})
		}
	}

	var writer io.Writer
	if len(writers) == 0 {
		writer = os.Stdout
	} else if len(writers) == 1 {
		writer = writers[0]
	} else {
		writer = zerolog.MultiLevelWriter(writers...)
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	return zerolog.New(writer).
		With().
		Timestamp().
		Caller().
		Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithAccount adds a broker account id to the logger context.
func WithAccount(logger zerolog.Logger, accountID string) zerolog.Logger {
	return logger.With().Str("account_id", accountID).Logger()
}

// WithBroker adds a broker type to the logger context.
func WithBroker(logger zerolog.Logger, broker string) zerolog.Logger {
	return logger.With().Str("broker", broker).Logger()
}

// LogConnection logs a connection state change.
func LogConnection(logger zerolog.Logger, accountID, broker, status, errText string) {
	event := logger.Info().
		Str("event", "connection").
		Str("account_id", accountID).
		Str("broker", broker).
		Str("status", status)
	if errText != "" {
		event = logger.Warn().
			Str("event", "connection").
			Str("account_id", accountID).
			Str("broker", broker).
			Str("status", status).
			Str("error", errText)
	}
	event.Msg("Connection state changed")
}

// LogSync logs the outcome of one sync attempt.
func LogSync(logger zerolog.Logger, accountID string, records int, duration time.Duration, err error) {
	event := logger.Info().
		Str("event", "sync").
		Str("account_id", accountID).
		Int("records", records).
		Dur("duration", duration)
	if err != nil {
		event.Err(err).Msg("Sync failed")
	} else {
		event.Msg("Sync completed")
	}
}

// LogOrder logs an order event.
func LogOrder(logger zerolog.Logger, orderID, brokerOrderID, symbol, status string) {
	logger.Info().
		Str("event", "order").
		Str("order_id", orderID).
		Str("broker_order_id", brokerOrderID).
		Str("symbol", symbol).
		Str("status", status).
		Msg("Order update")
}

// LogUnknownStatus logs a vendor order status that has no mapping.
// The status machine falls back to PENDING for these; the log entry
// keeps new vendor states visible.
func LogUnknownStatus(logger zerolog.Logger, broker, vendorStatus string) {
	logger.Warn().
		Str("event", "status_mapping").
		Str("broker", broker).
		Str("vendor_status", vendorStatus).
		Msg("Unrecognized vendor order status, treating as PENDING")
}
