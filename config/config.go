// Package config loads session definitions from YAML files.
//
// A session file is the on-disk form of core.SessionConfig: the agent roster,
// termination rules, the initial prompt and optional reference material.
// LoadSession applies the same defaults the engine would (session ID, max
// rounds) before validating, so a loaded config is ready to hand to
// engine.Start or runner.Run unchanged.
package config

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/redraft/core"
)

// LoadSession reads a session config from path, fills defaults and validates.
func LoadSession(path string) (*core.SessionConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}
	cfg, err := ParseSession(data)
	if err != nil {
		return nil, fmt.Errorf("parse session file %s: %w", path, err)
	}
	return cfg, nil
}

// ParseSession decodes raw YAML into a validated session config. Defaults are
// applied before validation: a missing session_id gets a fresh UUID and
// max_rounds of zero becomes core.DefaultMaxRounds.
func ParseSession(data []byte) (*core.SessionConfig, error) {
	var cfg core.SessionConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.Termination.MaxRounds == 0 {
		cfg.Termination.MaxRounds = core.DefaultMaxRounds
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	return &cfg, nil
}

// Warnings reports configuration smells that are legal but probably not what
// the author meant. The engine runs these configs as written; callers decide
// whether to surface the messages.
func Warnings(cfg core.SessionConfig) []string {
	var warnings []string
	if cfg.Termination.ScoreThreshold > 0 && cfg.Synthesizer() == nil {
		warnings = append(warnings, fmt.Sprintf(
			"score_threshold %.1f is set but no active synthesizer is configured; the threshold can never fire",
			cfg.Termination.ScoreThreshold))
	}
	if cfg.Writer() == nil {
		warnings = append(warnings, "no active writer is configured; the working document will never change")
	}
	for _, a := range cfg.Agents {
		if a.Phase == core.PhaseSynthesizer && a.IsActive && len(a.EvaluationCriteria) == 0 {
			warnings = append(warnings, fmt.Sprintf(
				"synthesizer %q has no evaluation criteria; scores will rely on free-form parsing", a.ID))
		}
	}
	return warnings
}
