// Package report implements the Reporter (spec §4.7, component C7):
// structured logging plus per-iteration and final JSON report writing,
// with optional Prometheus metrics and a Slack terminal-state notification.
package report

import (
	"fmt"

	"go.uber.org/zap"
)

// NewLogger builds a zap.SugaredLogger in either console or JSON mode,
// matching ReporterConfig.LogFormat.
func NewLogger(jsonFormat bool) (*zap.SugaredLogger, error) {
	var cfg zap.Config
	if jsonFormat {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.DisableStacktrace = true

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger.Sugar(), nil
}
