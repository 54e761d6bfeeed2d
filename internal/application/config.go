// Package application contains the execution engine of the harness: the
// experiment configuration, the per-trial state machine, and the
// worker-pool driver that moves every trial to its terminal state.
package application

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-gauntlet/internal/checkpoint"
	"github.com/ahrav/go-gauntlet/internal/domain"
	"github.com/ahrav/go-gauntlet/internal/scheduler"
)

// Package-level validator instance for configuration validation.
var validate = validator.New()

// ExperimentConfig is the root configuration of one experiment.
type ExperimentConfig struct {
	// Name labels the experiment in checkpoints and reports.
	Name string `yaml:"name" validate:"required"`

	// ResultsDir is the experiment root directory for all artifacts.
	ResultsDir string `yaml:"results_dir" validate:"required"`

	// RepoPath is the benchmark repository worktrees are created from.
	RepoPath string `yaml:"repo_path" validate:"required"`

	// BaseCommit pins every workspace to a fixed starting commit.
	BaseCommit string `yaml:"base_commit" validate:"required"`

	// RunsPerSubtest is the number of trials per (tier, subtest).
	RunsPerSubtest int `yaml:"runs_per_subtest" validate:"required,min=1"`

	// Language selects the validation pipeline command set.
	Language string `yaml:"language" validate:"required"`

	// Agent configures the external coding agent.
	Agent AgentConfig `yaml:"agent"`

	// Judges lists the judge models; one slot per entry, in order.
	Judges []JudgeConfig `yaml:"judges" validate:"required,min=1,dive"`

	// Workers bounds how many subtests execute concurrently.
	Workers int `yaml:"workers" validate:"min=0"`

	// Scheduler holds the per-resource-class concurrency limits.
	Scheduler scheduler.Limits `yaml:"scheduler"`

	// Tiers defines the benchmark content.
	Tiers []TierConfig `yaml:"tiers" validate:"required,min=1,dive"`
}

// AgentConfig configures the external coding agent invocation.
type AgentConfig struct {
	// Command is the agent binary or wrapper script to execute.
	Command string `yaml:"command" validate:"required"`

	// Model is passed to the agent and recorded in MODEL.md.
	Model string `yaml:"model" validate:"required"`

	// TimeoutSeconds bounds each invocation's wall-clock time.
	TimeoutSeconds int `yaml:"timeout_seconds" validate:"required,min=1"`
}

// JudgeConfig configures one judge slot.
type JudgeConfig struct {
	// Provider selects the LLM backend (anthropic, openai, google).
	Provider string `yaml:"provider" validate:"required,oneof=anthropic openai google"`

	// Model is the judge model identifier.
	Model string `yaml:"model" validate:"required"`
}

// TierConfig is one difficulty/configuration level of the benchmark.
type TierConfig struct {
	// ID names the tier (T0..T6).
	ID string `yaml:"id" validate:"required"`

	// Subtests lists the configuration variants within the tier.
	Subtests []SubtestConfig `yaml:"subtests" validate:"required,min=1,dive"`
}

// SubtestConfig is one configuration variant within a tier.
type SubtestConfig struct {
	// ID names the subtest within its tier.
	ID string `yaml:"id" validate:"required"`

	// PromptPath points at the task prompt file.
	PromptPath string `yaml:"prompt_path" validate:"required"`

	// RubricPath optionally points at a judging rubric appended to the
	// judge prompt.
	RubricPath string `yaml:"rubric_path"`

	// Overlays are tier resources placed into the workspace before the
	// agent runs.
	Overlays []OverlayConfig `yaml:"overlays" validate:"dive"`

	// DelegatesTo lists lower-tier "tier/subtest" references whose best
	// runs seed this subtest's merged baseline (top delegation tier).
	DelegatesTo []string `yaml:"delegates_to"`
}

// OverlayConfig places one resource into the workspace.
type OverlayConfig struct {
	// Source is the file or directory outside the workspace.
	Source string `yaml:"source" validate:"required"`

	// Dest is the path inside the workspace.
	Dest string `yaml:"dest" validate:"required"`

	// Symlink selects symlinking instead of copying.
	Symlink bool `yaml:"symlink"`
}

// LoadConfig reads and validates an experiment configuration.
func LoadConfig(path string) (*ExperimentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg ExperimentConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidConfiguration, path, err)
	}
	if cfg.Workers == 0 {
		cfg.Workers = 2
	}
	return &cfg, nil
}

// fingerprintShape is the subset of configuration that determines trial
// count and shape. Changing any of these invalidates resume.
type fingerprintShape struct {
	Tiers          []tierShape   `json:"tiers"`
	RunsPerSubtest int           `json:"runs_per_subtest"`
	AgentModel     string        `json:"agent_model"`
	Judges         []JudgeConfig `json:"judges"`
}

type tierShape struct {
	ID       string   `json:"id"`
	Subtests []string `json:"subtests"`
}

// Fingerprint hashes the trial-shaping parameters of the configuration.
func (c *ExperimentConfig) Fingerprint() (string, error) {
	shape := fingerprintShape{
		RunsPerSubtest: c.RunsPerSubtest,
		AgentModel:     c.Agent.Model,
		Judges:         c.Judges,
	}
	for _, tier := range c.Tiers {
		ts := tierShape{ID: tier.ID}
		for _, subtest := range tier.Subtests {
			ts.Subtests = append(ts.Subtests, subtest.ID)
		}
		shape.Tiers = append(shape.Tiers, ts)
	}
	return checkpoint.Fingerprint(shape)
}

// SubtestRef identifies one subtest within the experiment.
type SubtestRef struct {
	Tier    TierConfig
	Subtest SubtestConfig
}

// Subtests enumerates every subtest in declaration order.
func (c *ExperimentConfig) Subtests() []SubtestRef {
	var refs []SubtestRef
	for _, tier := range c.Tiers {
		for _, subtest := range tier.Subtests {
			refs = append(refs, SubtestRef{Tier: tier, Subtest: subtest})
		}
	}
	return refs
}

// Trials enumerates every trial identity of the experiment.
func (c *ExperimentConfig) Trials() []domain.TrialID {
	var ids []domain.TrialID
	for _, ref := range c.Subtests() {
		for run := 1; run <= c.RunsPerSubtest; run++ {
			ids = append(ids, domain.TrialID{Tier: ref.Tier.ID, Subtest: ref.Subtest.ID, Run: run})
		}
	}
	return ids
}

// FindSubtest resolves a "tier/subtest" reference.
func (c *ExperimentConfig) FindSubtest(tierID, subtestID string) (SubtestRef, bool) {
	for _, ref := range c.Subtests() {
		if ref.Tier.ID == tierID && ref.Subtest.ID == subtestID {
			return ref, true
		}
	}
	return SubtestRef{}, false
}
