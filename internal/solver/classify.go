package solver

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Outcome is the classification of one execution attempt.
type Outcome string

const (
	// OutcomeSuccess: clean exit, parseable numeric objective, optimal status.
	OutcomeSuccess Outcome = "SUCCESS"
	// OutcomeInfeasible: clean exit reporting an infeasible or unbounded
	// model. Never retried; rerunning identical code cannot help.
	OutcomeInfeasible Outcome = "SOLVER_INFEASIBLE"
	// OutcomeRuntimeError: non-zero exit, stack trace, or unusable output.
	// Eligible for repair with the raw error text as the hint.
	OutcomeRuntimeError Outcome = "RUNTIME_ERROR"
	// OutcomeTimeout: the attempt exceeded its wall-clock bound. Eligible
	// for repair with an intractability hint.
	OutcomeTimeout Outcome = "TIMEOUT"
)

// Retryable reports whether a repair attempt can follow this outcome.
func (o Outcome) Retryable() bool {
	return o == OutcomeRuntimeError || o == OutcomeTimeout
}

// infeasibleTokens are the status tokens the generated code emits for
// models the solver rejected as logically inconsistent or unbounded.
var infeasibleTokens = map[string]bool{
	"INFEASIBLE":  true,
	"INF_OR_UNBD": true,
	"UNBOUNDED":   true,
}

// Classification is the interpreted result of one attempt.
type Classification struct {
	Outcome   Outcome
	Objective float64 // valid when Outcome == OutcomeSuccess
	Status    string  // solver status token when Outcome == OutcomeInfeasible
	Detail    string  // failure text handed to the repair service
}

// Classify interprets an execution result against the canonical output
// file in the run directory. Order matters: a timeout or crash wins over
// whatever a previous attempt may have left in the output file.
func Classify(result *ExecResult, runDir string) Classification {
	if result.Killed {
		return Classification{
			Outcome: OutcomeTimeout,
			Detail: fmt.Sprintf("solver run exceeded its %s time budget; "+
				"the formulation may be intractable at this size", result.Duration.Round(time.Second)),
		}
	}
	if result.ExitCode != 0 || strings.Contains(result.Stderr, "Traceback") {
		return Classification{
			Outcome: OutcomeRuntimeError,
			Detail:  strings.TrimSpace(result.Combined()),
		}
	}

	raw, err := os.ReadFile(filepath.Join(runDir, OutputFile))
	if err != nil {
		return Classification{
			Outcome: OutcomeRuntimeError,
			Detail:  fmt.Sprintf("solver exited cleanly but wrote no %s: %v", OutputFile, err),
		}
	}
	text := strings.TrimSpace(string(raw))
	if value, err := strconv.ParseFloat(text, 64); err == nil {
		return Classification{Outcome: OutcomeSuccess, Objective: value}
	}
	if infeasibleTokens[text] {
		return Classification{Outcome: OutcomeInfeasible, Status: text}
	}
	return Classification{
		Outcome: OutcomeRuntimeError,
		Detail:  fmt.Sprintf("unrecognized solver output %q", text),
	}
}

// OutputFile is the canonical result file name. Kept in sync with the
// synthesizer's template; solver does not import synth.
const OutputFile = "output_solution.txt"
