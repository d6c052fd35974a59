package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// pipelineFile is the optional PIPELINE_CONFIG document:
//
//	retry:
//	  default:
//	    max_attempts: 3
//	    initial_delay: 1m
//	  loading:
//	    max_attempts: 1
//
// Stage entries override the default entry, which overrides RETRY_* env vars.
// Only fields that are set take effect.
type pipelineFile struct {
	Retry map[string]RetryPolicy `yaml:"retry"`
}

func applyPipelineFile(path string, retry map[string]RetryPolicy) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read PIPELINE_CONFIG: %w", err)
	}

	var doc pipelineFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse PIPELINE_CONFIG: %w", err)
	}

	for name := range doc.Retry {
		switch name {
		case "default", StageExtracting, StageStaging, StageLoading:
		default:
			return fmt.Errorf("PIPELINE_CONFIG: unknown retry stage %q", name)
		}
	}

	if def, ok := doc.Retry["default"]; ok {
		for stage, p := range retry {
			retry[stage] = overlay(p, def)
		}
	}
	for _, stage := range []string{StageExtracting, StageStaging, StageLoading} {
		if p, ok := doc.Retry[stage]; ok {
			retry[stage] = overlay(retry[stage], p)
		}
	}

	for stage, p := range retry {
		if p.MaxAttempts <= 0 || p.InitialDelay < 0 || p.MaxDelay < 0 || p.Multiplier < 1 {
			return fmt.Errorf("PIPELINE_CONFIG: invalid retry policy for %s", stage)
		}
	}
	return nil
}

func overlay(base, over RetryPolicy) RetryPolicy {
	if over.MaxAttempts != 0 {
		base.MaxAttempts = over.MaxAttempts
	}
	if over.InitialDelay != 0 {
		base.InitialDelay = over.InitialDelay
	}
	if over.MaxDelay != 0 {
		base.MaxDelay = over.MaxDelay
	}
	if over.Multiplier != 0 {
		base.Multiplier = over.Multiplier
	}
	return base
}
