// Package analyze evaluates finished runs against ground truth. For
// each problem it locates the latest run directory, reads the canonical
// output file, and compares the objective against solution.json within
// a fixed tolerance.
package analyze

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"optimod/internal/batch"
	"optimod/internal/llm"
	"optimod/internal/model"
	"optimod/internal/repair"
	"optimod/internal/solver"
)

// Tolerance is the absolute difference under which an extracted
// objective matches the ground truth.
const Tolerance = 0.1

// Status classifies a problem in the report.
type Status string

const (
	// StatusFeasible marks problems carrying a ground-truth objective.
	StatusFeasible Status = "feasible"
	// StatusInfeasible marks problems without solution.json, expected to
	// have no optimal objective.
	StatusInfeasible Status = "infeasible"
)

// Record is the evaluation of one problem.
type Record struct {
	Problem  string
	Status   Status
	Expected *float64
	Output   *float64
	Match    bool
	// Source says where the output objective came from: the canonical
	// output file, or the fallback extraction from solver output.
	Source string
}

// Report aggregates an evaluation pass over a dataset.
type Report struct {
	ModelName  string
	Total      int
	Infeasible int
	Feasible   int
	Accurate   int
	Missing    int
	Records    []Record
	// MissingProblems lists problems with no readable output.
	MissingProblems []string
}

// Accuracy is the share of feasible problems whose objective matched.
func (r *Report) Accuracy() float64 {
	if r.Feasible == 0 {
		return 0
	}
	return float64(r.Accurate) / float64(r.Feasible) * 100
}

// Mismatches returns the feasible records that did not match.
func (r *Report) Mismatches() []Record {
	var out []Record
	for _, rec := range r.Records {
		if rec.Status == StatusFeasible && !rec.Match {
			out = append(out, rec)
		}
	}
	return out
}

// Analyzer evaluates runs. An optional LLM client enables fallback
// objective extraction from raw solver output when the canonical file
// is missing or unparseable.
type Analyzer struct {
	client llm.Client
	log    *zap.Logger
}

// New builds an analyzer. client may be nil to disable the fallback.
func New(client llm.Client, log *zap.Logger) *Analyzer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Analyzer{client: client, log: log}
}

// Analyze evaluates every problem under dataPath for runs of the given
// model. An empty modelName accepts any run directory.
func (a *Analyzer) Analyze(ctx context.Context, dataPath, modelName string) (*Report, error) {
	problems, err := batch.ListProblems(dataPath)
	if err != nil {
		return nil, err
	}

	report := &Report{ModelName: modelName, Total: len(problems)}
	for _, name := range problems {
		rec := a.evaluate(ctx, filepath.Join(dataPath, name), name, modelName)
		report.Records = append(report.Records, rec)
		switch {
		case rec.Status == StatusInfeasible:
			report.Infeasible++
		default:
			report.Feasible++
			if rec.Output == nil {
				report.Missing++
				report.MissingProblems = append(report.MissingProblems, name)
			}
			if rec.Match {
				report.Accurate++
			}
		}
	}
	return report, nil
}

func (a *Analyzer) evaluate(ctx context.Context, problemDir, name, modelName string) Record {
	rec := Record{Problem: name, Status: StatusFeasible}

	expected, hasSolution := loadExpected(problemDir)
	if !hasSolution {
		rec.Status = StatusInfeasible
		return rec
	}
	rec.Expected = expected

	runDir := LatestRun(problemDir, modelName)
	if runDir == "" {
		return rec
	}

	if obj, ok := readObjective(runDir); ok {
		rec.Output = &obj
		rec.Source = solver.OutputFile
	} else if obj, ok := a.extractFallback(ctx, runDir); ok {
		rec.Output = &obj
		rec.Source = repair.CombinedOutputFile
	}

	if rec.Expected != nil && rec.Output != nil {
		rec.Match = math.Abs(*rec.Expected-*rec.Output) < Tolerance
	}
	return rec
}

// LatestRun returns the most recent run directory for the model inside
// the problem directory, or "" when none exists. Run directory names
// embed the model, so matching is by substring.
func LatestRun(problemDir, modelName string) string {
	entries, err := os.ReadDir(problemDir)
	if err != nil {
		return ""
	}
	var candidates []string
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "run_") {
			continue
		}
		if modelName != "" && !strings.Contains(e.Name(), modelName) {
			continue
		}
		candidates = append(candidates, e.Name())
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.Slice(candidates, func(i, j int) bool {
		return modTime(problemDir, candidates[i]).After(modTime(problemDir, candidates[j]))
	})
	return filepath.Join(problemDir, candidates[0])
}

func modTime(dir, name string) time.Time {
	info, err := os.Stat(filepath.Join(dir, name))
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// loadExpected reads the ground-truth objective. The second return is
// false when the problem ships no solution file, which marks it as an
// expected-infeasible problem.
func loadExpected(problemDir string) (*float64, bool) {
	raw, err := os.ReadFile(filepath.Join(problemDir, model.SolutionFile))
	if err != nil {
		return nil, false
	}
	var sol struct {
		Objective *float64 `json:"objective"`
	}
	if err := json.Unmarshal(raw, &sol); err != nil {
		return nil, true
	}
	return sol.Objective, true
}

// readObjective parses the canonical output file. The objective is the
// last whitespace-separated token; status tokens fail the parse.
func readObjective(runDir string) (float64, bool) {
	raw, err := os.ReadFile(filepath.Join(runDir, solver.OutputFile))
	if err != nil {
		return 0, false
	}
	fields := strings.Fields(strings.TrimSpace(string(raw)))
	if len(fields) == 0 {
		return 0, false
	}
	obj, err := strconv.ParseFloat(fields[len(fields)-1], 64)
	if err != nil {
		return 0, false
	}
	return obj, true
}

const fallbackPromptTemplate = `Extract the objective value from this optimization solver output.
The output contains the result of running an optimization problem.
Return ONLY the numeric objective value, nothing else. No text, no units, just the number.

Solver output:
%s

Return only the number (e.g., 84.0 or 115000.0):`

// extractFallback asks the model to pull an objective out of the raw
// solver output. Best effort; any failure means no output.
func (a *Analyzer) extractFallback(ctx context.Context, runDir string) (float64, bool) {
	if a.client == nil {
		return 0, false
	}
	raw, err := os.ReadFile(filepath.Join(runDir, repair.CombinedOutputFile))
	if err != nil {
		return 0, false
	}
	resp, err := a.client.Complete(ctx, fmt.Sprintf(fallbackPromptTemplate, string(raw)))
	if err != nil {
		a.log.Warn("fallback extraction failed", zap.String("run_dir", runDir), zap.Error(err))
		return 0, false
	}
	obj, err := strconv.ParseFloat(strings.TrimSpace(resp), 64)
	if err != nil {
		a.log.Warn("fallback extraction unparseable",
			zap.String("run_dir", runDir), zap.String("response", resp))
		return 0, false
	}
	return obj, true
}
