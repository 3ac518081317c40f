package config

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Accepted logging.format values.
const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
)

const serviceName = "nft-migration-relay"

// NewLogger builds the relay logger. JSON entries carry ISO8601 timestamps
// and stack traces on errors; console output is for local runs.
func NewLogger(cfg LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var (
		encoder zapcore.Encoder
		opts    = []zap.Option{
			zap.AddCaller(),
			zap.ErrorOutput(zapcore.Lock(os.Stderr)),
			zap.Fields(zap.String("service", serviceName)),
		}
	)
	switch cfg.Format {
	case LogFormatJSON, "":
		ec := zap.NewProductionEncoderConfig()
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(ec)
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	case LogFormatConsole:
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(ec)
	default:
		return nil, fmt.Errorf("invalid log format %q: want %s or %s", cfg.Format, LogFormatJSON, LogFormatConsole)
	}

	output := cfg.OutputPath
	if output == "" {
		output = "stdout"
	}
	// The sink lives as long as the process.
	sink, _, err := zap.Open(output)
	if err != nil {
		return nil, fmt.Errorf("failed to open log output %s: %w", output, err)
	}

	return zap.New(zapcore.NewCore(encoder, sink, zap.NewAtomicLevelAt(level)), opts...), nil
}

// UniverseLogger scopes a logger to a single connected chain.
func UniverseLogger(logger *zap.Logger, u *UniverseConfig) *zap.Logger {
	return logger.Named(u.ID).With(
		zap.String("universe", u.ID),
		zap.Int64("chain_id", u.ChainID),
	)
}
