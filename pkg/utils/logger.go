package utils

import "go.uber.org/zap"

// NewLogger builds the process logger. Debug mode selects the console
// development encoder at debug level; otherwise JSON at info level with
// zap's production defaults.
func NewLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	return cfg.Build()
}
