package utils

import (
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// StandardLogger enforces specific log message formats for process-level
// logging.
type StandardLogger struct {
	*zap.Logger
}

func (l *StandardLogger) Infof(format string, args ...any) {
	l.Info(fmt.Sprintf(format, args...))
}

func (l *StandardLogger) Debugf(format string, args ...any) {
	l.Debug(fmt.Sprintf(format, args...))
}

func (l *StandardLogger) Errorf(format string, args ...any) {
	l.Error(fmt.Sprintf(format, args...))
}

func (l *StandardLogger) Warnf(format string, args ...any) {
	l.Warn(fmt.Sprintf(format, args...))
}

func (l *StandardLogger) Fatalf(format string, args ...any) {
	l.Fatal(fmt.Sprintf(format, args...))
}

var appLogger *StandardLogger

// NewLogger creates a new application logger.
func NewLogger() *StandardLogger {
	outputLevel := zap.InfoLevel
	if levelEnv := os.Getenv("LOG_LEVEL"); levelEnv != "" {
		levelFromEnv, err := zapcore.ParseLevel(levelEnv)
		if err != nil {
			log.Println(fmt.Errorf("invalid level, defaulting to INFO: %w", err))
		} else {
			outputLevel = levelFromEnv
		}
	}

	var cfg zap.Config
	if os.Getenv("APP_ENV") == "local" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.OutputPaths = []string{"stdout"}
		cfg.ErrorOutputPaths = []string{"stdout"}
		cfg.InitialFields = map[string]any{"name": GetConfig().Name}
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncoderConfig.TimeKey = "time"
		cfg.Level = zap.NewAtomicLevelAt(outputLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}

	return &StandardLogger{Logger: logger}
}

// GetAppLogger returns the global application logger.
func GetAppLogger() *StandardLogger {
	if appLogger == nil {
		appLogger = NewLogger()
	}
	return appLogger
}
