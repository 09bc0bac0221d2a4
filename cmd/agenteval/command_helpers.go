package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/ongoingai/agenteval/internal/config"
	"github.com/ongoingai/agenteval/internal/evaluation"
	"github.com/ongoingai/agenteval/internal/report"
)

const (
	configStageLoad     = "load"
	configStageValidate = "validate"
)

// normalizeFormat validates command output format flags with shared semantics.
func normalizeFormat(command, rawValue, defaultValue string, allowed ...string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(rawValue))
	if normalized == "" {
		normalized = strings.TrimSpace(defaultValue)
	}
	if len(allowed) == 0 {
		allowed = []string{"text", "json"}
	}
	for _, candidate := range allowed {
		if normalized == candidate {
			return normalized, nil
		}
	}
	return "", fmt.Errorf("invalid %s format %q: expected %s", strings.TrimSpace(command), rawValue, strings.Join(allowed, " or "))
}

// loadAndValidateConfig resolves config and reports which stage failed.
// Evaluation weights are checked here because the evaluation package owns the
// category names.
func loadAndValidateConfig(configPath string) (config.Config, string, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, configStageLoad, err
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, configStageValidate, err
	}
	if err := evaluation.ValidateWeights(cfg.Evaluation.Weights); err != nil {
		return config.Config{}, configStageValidate, err
	}
	return cfg, "", nil
}

func reportConfigError(errOut io.Writer, stage string, err error) {
	if stage == configStageLoad {
		fmt.Fprintf(errOut, "failed to load config: %v\n", err)
		return
	}
	fmt.Fprintf(errOut, "config is invalid: %v\n", err)
}

func reportStyles(color bool) report.Styles {
	if color {
		return report.DefaultStyles()
	}
	return report.PlainStyles()
}
