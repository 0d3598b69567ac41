package utils

import "go.uber.org/zap"

// LoggerName is the root name attached to every log line.
const LoggerName = "hyperdb"

// NewLogger returns the process logger. debug selects zap's development
// config at debug level; otherwise production JSON at info level. fields are
// attached to every entry.
func NewLogger(debug bool, fields ...zap.Field) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	return logger.Named(LoggerName).With(fields...), nil
}
