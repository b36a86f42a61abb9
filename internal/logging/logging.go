package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig configures the rotating file sink. An empty Path disables it.
type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Config selects the level, encoding and sinks of the process logger
type Config struct {
	Level    string     `mapstructure:"level"`
	Encoding string     `mapstructure:"encoding"`
	File     FileConfig `mapstructure:"file"`
}

// DefaultConfig logs info and above to stdout in console encoding
func DefaultConfig() Config {
	return Config{
		Level:    "info",
		Encoding: "console",
		File: FileConfig{
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 7,
		},
	}
}

// New builds a logger writing to stdout and, when configured, to a
// lumberjack-rotated file. The file always uses JSON encoding.
func New(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var stdout zapcore.Encoder
	switch cfg.Encoding {
	case "", "console":
		consoleConfig := encoderConfig
		consoleConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		stdout = zapcore.NewConsoleEncoder(consoleConfig)
	case "json":
		stdout = zapcore.NewJSONEncoder(encoderConfig)
	default:
		return nil, fmt.Errorf("unsupported log encoding: %s", cfg.Encoding)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(stdout, zapcore.Lock(os.Stdout), level),
	}

	if cfg.File.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		rotator := &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSizeMB,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAgeDays,
			Compress:   cfg.File.Compress,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(rotator), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}
