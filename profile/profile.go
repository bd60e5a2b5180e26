// Package profile loads runtime configuration from a YAML file with
// environment variable overrides. Environment values win over file values,
// and both win over the built-in defaults.
package profile

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/martinemde/stepline/dispatch"
)

// Strategy bounds a single run.
type Strategy struct {
	MaxSteps            int `yaml:"max_steps" env:"STEPLINE_MAX_STEPS"`
	MaxLifelinesPerStep int `yaml:"max_lifelines_per_step" env:"STEPLINE_MAX_LIFELINES"`
	MaxToolCallsPerPlan int `yaml:"max_tool_calls_per_plan" env:"STEPLINE_MAX_TOOL_CALLS"`
	SandboxTimeoutMs    int `yaml:"sandbox_timeout_ms" env:"STEPLINE_SANDBOX_TIMEOUT_MS"`
	PrimingExamples     int `yaml:"priming_examples" env:"STEPLINE_PRIMING_EXAMPLES"`
}

// Cache configures the historical index.
type Cache struct {
	HardHitThreshold float64 `yaml:"hard_hit_threshold" env:"STEPLINE_CACHE_THRESHOLD"`
	Disabled         bool    `yaml:"disabled" env:"STEPLINE_CACHE_DISABLED"`
}

// LLM selects the plan-generation model.
type LLM struct {
	Provider string `yaml:"provider" env:"STEPLINE_LLM_PROVIDER"`
	Model    string `yaml:"model" env:"STEPLINE_LLM_MODEL"`
	APIKey   string `yaml:"-" env:"STEPLINE_LLM_API_KEY"`
}

// Guardrails tunes the input and output checks.
type Guardrails struct {
	BlockedHosts   []string `yaml:"blocked_hosts" env:"STEPLINE_BLOCKED_HOSTS" envSeparator:","`
	BannedWords    []string `yaml:"banned_words" env:"STEPLINE_BANNED_WORDS" envSeparator:","`
	MaxQueryChars  int      `yaml:"max_query_chars" env:"STEPLINE_MAX_QUERY_CHARS"`
	MaxResultChars int      `yaml:"max_result_chars" env:"STEPLINE_MAX_RESULT_CHARS"`
}

// Profile is the complete runtime configuration.
type Profile struct {
	Strategy   Strategy                `yaml:"strategy"`
	Cache      Cache                   `yaml:"cache"`
	LLM        LLM                     `yaml:"llm"`
	Guardrails Guardrails              `yaml:"guardrails"`
	Servers    []dispatch.ServerConfig `yaml:"servers"`
	DataDir    string                  `yaml:"data_dir" env:"STEPLINE_DATA_DIR"`
}

// Default returns the profile used when no file is given.
func Default() Profile {
	return Profile{
		Strategy: Strategy{
			MaxSteps:            3,
			MaxLifelinesPerStep: 3,
			MaxToolCallsPerPlan: 5,
			SandboxTimeoutMs:    30000,
			PrimingExamples:     3,
		},
		Cache:   Cache{HardHitThreshold: 0.90},
		LLM:     LLM{Provider: "openai", Model: "gpt-4o-mini"},
		DataDir: ".stepline",
	}
}

// Load builds a profile from defaults, then the YAML file at path (skipped
// when path is empty), then environment overrides.
func Load(path string) (Profile, error) {
	p := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Profile{}, fmt.Errorf("read profile %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &p); err != nil {
			return Profile{}, fmt.Errorf("parse profile %s: %w", path, err)
		}
	}
	if err := env.Parse(&p); err != nil {
		return Profile{}, fmt.Errorf("apply environment overrides: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Validate rejects profiles that would make the loop unable to terminate
// or unable to run at all.
func (p Profile) Validate() error {
	if p.Strategy.MaxSteps < 1 {
		return fmt.Errorf("strategy.max_steps must be at least 1, got %d", p.Strategy.MaxSteps)
	}
	if p.Strategy.MaxLifelinesPerStep < 1 {
		return fmt.Errorf("strategy.max_lifelines_per_step must be at least 1, got %d", p.Strategy.MaxLifelinesPerStep)
	}
	if p.Strategy.MaxToolCallsPerPlan < 1 {
		return fmt.Errorf("strategy.max_tool_calls_per_plan must be at least 1, got %d", p.Strategy.MaxToolCallsPerPlan)
	}
	if p.Cache.HardHitThreshold < 0 || p.Cache.HardHitThreshold > 1 {
		return fmt.Errorf("cache.hard_hit_threshold must be in [0, 1], got %g", p.Cache.HardHitThreshold)
	}
	for i, s := range p.Servers {
		if s.Name == "" {
			return fmt.Errorf("servers[%d]: name is required", i)
		}
		if s.Command == "" {
			return fmt.Errorf("servers[%d] (%s): command is required", i, s.Name)
		}
	}
	return nil
}
