// Package repair implements the execute-and-debug loop: run the
// synthesized solver code, classify the outcome, and on a retryable
// failure hand the failure text to a repair service, swap the revised
// fragments in, and try again within a bounded attempt budget.
package repair

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"optimod/internal/checkpoint"
	"optimod/internal/model"
	"optimod/internal/solver"
	"optimod/internal/synth"
)

// Terminal is the final outcome of a loop run. Every problem run ends in
// exactly one of these.
type Terminal string

const (
	TerminalSuccess    Terminal = "SUCCESS"
	TerminalInfeasible Terminal = "SOLVER_INFEASIBLE"
	TerminalFailed     Terminal = "FAILED"
)

// Request is what the repair service sees after a failed attempt: the
// problem, the current fragments, and the classified failure.
type Request struct {
	Description string
	Parameters  map[string]model.Parameter
	Variables   map[string]model.Variable
	Constraints []model.Constraint
	Objective   model.Objective
	Failure     solver.Classification
	Attempt     int
}

// Revision is the service's corrected code. A constraint entry or the
// objective left empty means "keep the current fragment". Fragments are
// replaced, never appended.
type Revision struct {
	ConstraintCodes []string
	ObjectiveCode   string
}

// Service produces revised code fragments from a failure. Implemented by
// the LLM-backed repairer; tests use stubs.
type Service interface {
	Repair(ctx context.Context, req Request) (Revision, error)
}

// ProcessRunner abstracts the solver subprocess so the loop can be
// exercised without a Python toolchain.
type ProcessRunner interface {
	Run(ctx context.Context, runDir, sourceFile string) (*solver.ExecResult, error)
}

// Budgets bounds attempts per failure classification. A run terminates
// FAILED once the counter for the last observed classification reaches
// its budget.
type Budgets struct {
	RuntimeError int
	Timeout      int
}

// DefaultBudgets allows more attempts for runtime errors than timeouts;
// a timeout usually means the formulation itself is intractable.
func DefaultBudgets() Budgets {
	return Budgets{RuntimeError: 3, Timeout: 2}
}

func (b Budgets) forOutcome(o solver.Outcome) int {
	switch o {
	case solver.OutcomeTimeout:
		return b.Timeout
	default:
		return b.RuntimeError
	}
}

// Result is the loop's terminal report.
type Result struct {
	Terminal  Terminal
	Outcome   solver.Outcome // last classification observed
	Objective float64        // valid when Terminal == TerminalSuccess
	Status    string         // solver status token when infeasible
	Attempts  int
}

// AttemptBudgetExhaustedError marks a run that used up its budget without
// reaching a terminal success; the last classification is the reason.
type AttemptBudgetExhaustedError struct {
	Attempts int
	Reason   solver.Outcome
}

func (e *AttemptBudgetExhaustedError) Error() string {
	return fmt.Sprintf("attempt budget exhausted after %d attempts, last failure %s", e.Attempts, e.Reason)
}

// BudgetError returns the exhaustion error for a FAILED result, nil
// otherwise.
func (r *Result) BudgetError() *AttemptBudgetExhaustedError {
	if r.Terminal != TerminalFailed {
		return nil
	}
	return &AttemptBudgetExhaustedError{Attempts: r.Attempts, Reason: r.Outcome}
}

// Loop drives execute-classify-repair for one problem run.
type Loop struct {
	runner  ProcessRunner
	service Service
	store   *checkpoint.Store
	budgets Budgets
	log     *zap.Logger
}

// NewLoop assembles a loop. The store must be rooted at the run
// directory the runner executes in.
func NewLoop(runner ProcessRunner, service Service, store *checkpoint.Store, budgets Budgets, log *zap.Logger) *Loop {
	if log == nil {
		log = zap.NewNop()
	}
	if budgets.RuntimeError <= 0 {
		budgets.RuntimeError = DefaultBudgets().RuntimeError
	}
	if budgets.Timeout <= 0 {
		budgets.Timeout = DefaultBudgets().Timeout
	}
	return &Loop{runner: runner, service: service, store: store, budgets: budgets, log: log}
}

// Run executes the loop to a terminal outcome. The incoming state is not
// mutated; each attempt works on its own copy and saves it as a
// per-attempt checkpoint before running, so the exact pre-run state of
// every attempt stays individually loadable.
//
// A synthesis failure (for example an unresolved symbol) is a structural
// formulation defect, not a runtime crash: it propagates as an error and
// is not retried.
func (l *Loop) Run(ctx context.Context, state *model.ProblemState) (*Result, error) {
	state = state.Clone()
	failures := map[solver.Outcome]int{}

	for attempt := 1; ; attempt++ {
		if err := l.store.Save(state, checkpoint.AttemptLabel(attempt)); err != nil {
			return nil, fmt.Errorf("attempt %d: %w", attempt, err)
		}

		source, payload, err := synth.Synthesize(state)
		if err != nil {
			return nil, fmt.Errorf("attempt %d: synthesize: %w", attempt, err)
		}
		runDir := l.store.Dir()
		if err := os.WriteFile(filepath.Join(runDir, synth.SourceFile), []byte(source), 0o644); err != nil {
			return nil, fmt.Errorf("attempt %d: write source: %w", attempt, err)
		}
		if err := os.WriteFile(filepath.Join(runDir, synth.DataPayloadFile), payload, 0o644); err != nil {
			return nil, fmt.Errorf("attempt %d: write data payload: %w", attempt, err)
		}

		// A leftover result file from the previous attempt would be
		// classified as this attempt's output if the code exits cleanly
		// without writing one.
		if err := os.Remove(filepath.Join(runDir, synth.OutputFile)); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("attempt %d: clear stale output: %w", attempt, err)
		}

		l.log.Info("executing solver code", zap.Int("attempt", attempt))
		execResult, err := l.runner.Run(ctx, runDir, synth.SourceFile)
		if err != nil {
			return nil, fmt.Errorf("attempt %d: %w", attempt, err)
		}
		l.writeAttemptOutput(attempt, execResult)

		cls := solver.Classify(execResult, runDir)
		l.log.Info("attempt classified",
			zap.Int("attempt", attempt),
			zap.String("outcome", string(cls.Outcome)),
			zap.Duration("duration", execResult.Duration))

		switch cls.Outcome {
		case solver.OutcomeSuccess:
			return &Result{
				Terminal:  TerminalSuccess,
				Outcome:   cls.Outcome,
				Objective: cls.Objective,
				Attempts:  attempt,
			}, nil
		case solver.OutcomeInfeasible:
			// Logically inconsistent model; retrying identical code
			// cannot help. Reported as-is.
			return &Result{
				Terminal: TerminalInfeasible,
				Outcome:  cls.Outcome,
				Status:   cls.Status,
				Attempts: attempt,
			}, nil
		}

		failures[cls.Outcome]++
		if failures[cls.Outcome] >= l.budgets.forOutcome(cls.Outcome) {
			l.log.Warn("attempt budget exhausted",
				zap.Int("attempts", attempt),
				zap.String("reason", string(cls.Outcome)))
			return &Result{
				Terminal: TerminalFailed,
				Outcome:  cls.Outcome,
				Attempts: attempt,
			}, nil
		}

		l.log.Info("requesting repair",
			zap.Int("attempt", attempt),
			zap.String("failure", string(cls.Outcome)))
		revision, err := l.service.Repair(ctx, Request{
			Description: state.Description,
			Parameters:  state.Parameters,
			Variables:   state.Variables,
			Constraints: state.Constraints,
			Objective:   *state.Objective,
			Failure:     cls,
			Attempt:     attempt,
		})
		if err != nil {
			return nil, fmt.Errorf("attempt %d: repair service: %w", attempt, err)
		}
		state = applyRevision(state, revision)
	}
}

// CombinedOutputFile holds the combined stdout/stderr of the latest
// attempt. Earlier attempts keep their own code_output_attempt_N.txt.
const CombinedOutputFile = "code_output.txt"

// writeAttemptOutput persists the attempt's combined solver output. Each
// attempt gets its own file; code_output.txt always holds the latest
// attempt for downstream consumers.
func (l *Loop) writeAttemptOutput(attempt int, res *solver.ExecResult) {
	runDir := l.store.Dir()
	combined := []byte(res.Combined())
	if err := os.WriteFile(filepath.Join(runDir, CombinedOutputFile), combined, 0o644); err != nil {
		l.log.Warn("write solver output failed", zap.String("file", CombinedOutputFile), zap.Error(err))
	}
	attemptName := fmt.Sprintf("code_output_attempt_%d.txt", attempt)
	if err := os.WriteFile(filepath.Join(runDir, attemptName), combined, 0o644); err != nil {
		l.log.Warn("write solver output failed", zap.String("file", attemptName), zap.Error(err))
	}
}

// applyRevision swaps revised fragments into a fresh copy of the state.
func applyRevision(state *model.ProblemState, rev Revision) *model.ProblemState {
	next := state.Clone()
	for i, code := range rev.ConstraintCodes {
		if i >= len(next.Constraints) {
			break
		}
		if code != "" {
			next.Constraints[i].Code = code
		}
	}
	if rev.ObjectiveCode != "" && next.Objective != nil {
		next.Objective.Code = rev.ObjectiveCode
	}
	return next
}
