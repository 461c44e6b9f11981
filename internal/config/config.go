// Package config holds the optimod configuration: model routing, solver
// execution bounds, pipeline knobs, repair budgets, and batch
// concurrency. Configuration loads from a YAML file with environment
// overrides for secrets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full optimod configuration.
type Config struct {
	LLM      LLMConfig      `yaml:"llm"`
	Solver   SolverConfig   `yaml:"solver"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Repair   RepairConfig   `yaml:"repair"`
	Batch    BatchConfig    `yaml:"batch"`
	RAG      RAGConfig      `yaml:"rag"`
}

// LLMConfig routes the extraction, formulation, and repair calls.
type LLMConfig struct {
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	EmbeddingModel string `yaml:"embedding_model"`
}

// SolverConfig bounds solver subprocess execution. AttemptTimeout is a
// duration string such as "2m" or "90s".
type SolverConfig struct {
	PythonBinary   string `yaml:"python_binary"`
	AttemptTimeout string `yaml:"attempt_timeout"`
	MaxOutputBytes int    `yaml:"max_output_bytes"`
}

// PipelineConfig controls the stage transforms.
type PipelineConfig struct {
	// ErrorCorrection enables per-stage self-checking and local repair.
	ErrorCorrection bool `yaml:"error_correction"`
	// UseLabels feeds ground-truth labels to stages when present.
	UseLabels bool `yaml:"use_labels"`
	// Resume continues a run from its last existing checkpoint.
	Resume bool `yaml:"resume"`
}

// RepairConfig bounds the execute-and-debug loop per failure class.
type RepairConfig struct {
	RuntimeErrorBudget int `yaml:"runtime_error_budget"`
	TimeoutBudget      int `yaml:"timeout_budget"`
}

// BatchConfig controls batch orchestration.
type BatchConfig struct {
	Workers  int    `yaml:"workers"`
	DataPath string `yaml:"data_path"`
}

// RAGConfig configures retrieval augmentation.
type RAGConfig struct {
	Mode      string `yaml:"mode"`
	StorePath string `yaml:"store_path"`
	TopK      int    `yaml:"top_k"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LLM: LLMConfig{
			Model:          "gemini-2.5-flash",
			EmbeddingModel: "gemini-embedding-001",
		},
		Solver: SolverConfig{
			PythonBinary:   "python3",
			AttemptTimeout: "2m",
			MaxOutputBytes: 1 << 20,
		},
		Pipeline: PipelineConfig{
			ErrorCorrection: true,
		},
		Repair: RepairConfig{
			RuntimeErrorBudget: 3,
			TimeoutBudget:      2,
		},
		Batch: BatchConfig{
			Workers:  10,
			DataPath: "dataset/ComplexLP",
		},
		RAG: RAGConfig{
			Mode:      "none",
			StorePath: "rag.db",
			TopK:      3,
		},
	}
}

// Load reads a YAML config file over the defaults and applies
// environment overrides. A missing path loads defaults plus overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	cfg.applyEnvOverrides()
	return cfg, cfg.validate()
}

// applyEnvOverrides lets the environment win for secrets and the knobs
// operators commonly flip per invocation.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("OPTIMOD_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("OPTIMOD_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("OPTIMOD_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Batch.Workers = n
		}
	}
	if v := os.Getenv("OPTIMOD_PYTHON"); v != "" {
		c.Solver.PythonBinary = v
	}
}

// GetAttemptTimeout returns the per-attempt solver timeout as a duration.
func (c *Config) GetAttemptTimeout() time.Duration {
	d, err := time.ParseDuration(c.Solver.AttemptTimeout)
	if err != nil {
		return 2 * time.Minute
	}
	return d
}

func (c *Config) validate() error {
	if c.Batch.Workers <= 0 {
		return fmt.Errorf("batch.workers must be positive, got %d", c.Batch.Workers)
	}
	if d, err := time.ParseDuration(c.Solver.AttemptTimeout); err != nil || d <= 0 {
		return fmt.Errorf("solver.attempt_timeout must be a positive duration, got %q", c.Solver.AttemptTimeout)
	}
	if c.Repair.RuntimeErrorBudget <= 0 || c.Repair.TimeoutBudget <= 0 {
		return fmt.Errorf("repair budgets must be positive")
	}
	return nil
}
