// Package batch runs the pipeline across a dataset of problems with a
// bounded worker pool. One problem failing, panicking, or producing a
// corrupt run never stops the others; every problem ends with a
// recorded result.
package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"optimod/internal/model"
	"optimod/internal/repair"
	"optimod/internal/solver"
)

// Processor runs the full pipeline for one problem. problemDir is the
// dataset directory holding the problem files; runDir is a fresh
// directory created for this run's checkpoints and solver artifacts.
type Processor interface {
	Process(ctx context.Context, problemDir, runDir string) (*repair.Result, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, problemDir, runDir string) (*repair.Result, error)

func (f ProcessorFunc) Process(ctx context.Context, problemDir, runDir string) (*repair.Result, error) {
	return f(ctx, problemDir, runDir)
}

// RunNamer names the run directory created inside a problem directory.
// Injectable so tests and re-runs get stable names.
type RunNamer func(problem, modelName string) string

// UUIDNamer tags each run directory with a short random suffix so
// repeated runs of the same problem and model never collide.
func UUIDNamer(problem, modelName string) string {
	return fmt.Sprintf("run_%s_%s_%s", problem, modelName, uuid.NewString()[:8])
}

// ProblemResult is the terminal record for one problem in a batch.
type ProblemResult struct {
	Problem   string
	RunDir    string
	Terminal  repair.Terminal
	Outcome   solver.Outcome
	Objective float64
	Status    string
	Attempts  int
	Err       error
}

// Summary aggregates a finished batch.
type Summary struct {
	Results    []ProblemResult
	Succeeded  int
	Infeasible int
	Failed     int
	Errored    int
}

// Options configures an Orchestrator.
type Options struct {
	Workers   int
	ModelName string
	Namer     RunNamer
	Log       *zap.Logger
}

// Orchestrator fans problems out to a bounded pool of workers.
type Orchestrator struct {
	proc      Processor
	workers   int
	modelName string
	namer     RunNamer
	log       *zap.Logger
}

// NewOrchestrator builds an orchestrator. Zero-value options fall back
// to ten workers, the UUID namer, and a nop logger.
func NewOrchestrator(proc Processor, opts Options) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 10
	}
	if opts.Namer == nil {
		opts.Namer = UUIDNamer
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Orchestrator{
		proc:      proc,
		workers:   opts.Workers,
		modelName: opts.ModelName,
		namer:     opts.Namer,
		log:       opts.Log,
	}
}

// Run processes the named problems under dataPath. An empty problems
// slice means every problem directory found there. The returned error
// covers orchestration only (discovery, cancellation); per-problem
// failures land in their Result entries.
func (o *Orchestrator) Run(ctx context.Context, dataPath string, problems []string) (*Summary, error) {
	if len(problems) == 0 {
		var err error
		problems, err = ListProblems(dataPath)
		if err != nil {
			return nil, err
		}
	}

	results := make([]ProblemResult, len(problems))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)

	for i, name := range problems {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = ProblemResult{Problem: name, Err: err}
				return nil
			}
			results[i] = o.runOne(ctx, dataPath, name)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sum := &Summary{Results: results}
	for _, r := range results {
		switch {
		case r.Err != nil:
			sum.Errored++
		case r.Terminal == repair.TerminalSuccess:
			sum.Succeeded++
		case r.Terminal == repair.TerminalInfeasible:
			sum.Infeasible++
		default:
			sum.Failed++
		}
	}
	o.log.Info("batch finished",
		zap.Int("problems", len(results)),
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("infeasible", sum.Infeasible),
		zap.Int("failed", sum.Failed),
		zap.Int("errored", sum.Errored))
	return sum, nil
}

// runOne processes a single problem, converting panics into errors so a
// bad problem cannot take down the pool.
func (o *Orchestrator) runOne(ctx context.Context, dataPath, name string) (pr ProblemResult) {
	pr.Problem = name
	defer func() {
		if r := recover(); r != nil {
			pr.Err = fmt.Errorf("problem %s panicked: %v", name, r)
			o.log.Error("worker panic", zap.String("problem", name), zap.Any("panic", r))
		}
	}()

	problemDir := filepath.Join(dataPath, name)
	runDir := filepath.Join(problemDir, o.namer(name, o.modelName))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		pr.Err = fmt.Errorf("create run dir: %w", err)
		return pr
	}
	pr.RunDir = runDir

	o.log.Info("processing problem", zap.String("problem", name), zap.String("run_dir", runDir))
	res, err := o.proc.Process(ctx, problemDir, runDir)
	if err != nil {
		pr.Err = err
		o.log.Warn("problem failed", zap.String("problem", name), zap.Error(err))
		return pr
	}
	pr.Terminal = res.Terminal
	pr.Outcome = res.Outcome
	pr.Objective = res.Objective
	pr.Status = res.Status
	pr.Attempts = res.Attempts
	return pr
}

// ListProblems returns the problem directories under dataPath, sorted.
// A directory counts as a problem when it carries a description or a
// ground-truth info file.
func ListProblems(dataPath string) ([]string, error) {
	entries, err := os.ReadDir(dataPath)
	if err != nil {
		return nil, fmt.Errorf("list problems in %s: %w", dataPath, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(dataPath, e.Name())
		if fileExists(filepath.Join(dir, model.DescriptionFile)) ||
			fileExists(filepath.Join(dir, model.ProblemInfoFile)) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
