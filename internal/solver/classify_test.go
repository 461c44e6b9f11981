package solver

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeOutput(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, OutputFile), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		result  ExecResult
		output  string // written to the output file when non-empty
		want    Outcome
		wantObj float64
		wantSt  string
	}{
		{
			name:    "numeric output is success",
			result:  ExecResult{ExitCode: 0, Stdout: "Optimal Objective Value: 84.0"},
			output:  "84.0",
			want:    OutcomeSuccess,
			wantObj: 84.0,
		},
		{
			name:   "infeasible token",
			result: ExecResult{ExitCode: 0},
			output: "INFEASIBLE",
			want:   OutcomeInfeasible,
			wantSt: "INFEASIBLE",
		},
		{
			name:   "inf or unbd token",
			result: ExecResult{ExitCode: 0},
			output: "INF_OR_UNBD",
			want:   OutcomeInfeasible,
			wantSt: "INF_OR_UNBD",
		},
		{
			name:   "unbounded token",
			result: ExecResult{ExitCode: 0},
			output: "UNBOUNDED",
			want:   OutcomeInfeasible,
			wantSt: "UNBOUNDED",
		},
		{
			name:   "nonzero exit is runtime error",
			result: ExecResult{ExitCode: 1, Stderr: "KeyError: 'Budget'"},
			output: "84.0",
			want:   OutcomeRuntimeError,
		},
		{
			name:   "traceback on clean exit is runtime error",
			result: ExecResult{ExitCode: 0, Stderr: "Traceback (most recent call last):\n  ..."},
			output: "84.0",
			want:   OutcomeRuntimeError,
		},
		{
			name:   "missing output file is runtime error",
			result: ExecResult{ExitCode: 0},
			want:   OutcomeRuntimeError,
		},
		{
			name:   "unrecognized token is runtime error",
			result: ExecResult{ExitCode: 0},
			output: "SOLVED_MAYBE",
			want:   OutcomeRuntimeError,
		},
		{
			name:   "killed wins over stale output",
			result: ExecResult{Killed: true, ExitCode: -1, Duration: 2 * time.Minute},
			output: "84.0",
			want:   OutcomeTimeout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if tt.output != "" {
				writeOutput(t, dir, tt.output)
			}
			got := Classify(&tt.result, dir)
			if got.Outcome != tt.want {
				t.Fatalf("outcome = %s, want %s (detail: %s)", got.Outcome, tt.want, got.Detail)
			}
			if tt.want == OutcomeSuccess && got.Objective != tt.wantObj {
				t.Errorf("objective = %g, want %g", got.Objective, tt.wantObj)
			}
			if tt.want == OutcomeInfeasible && got.Status != tt.wantSt {
				t.Errorf("status = %q, want %q", got.Status, tt.wantSt)
			}
			if tt.want == OutcomeRuntimeError && got.Detail == "" {
				t.Error("runtime error carried no detail for the repair prompt")
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	if !OutcomeRuntimeError.Retryable() || !OutcomeTimeout.Retryable() {
		t.Error("repairable outcomes reported non-retryable")
	}
	if OutcomeSuccess.Retryable() || OutcomeInfeasible.Retryable() {
		t.Error("terminal outcomes reported retryable")
	}
}

func TestCombined(t *testing.T) {
	r := &ExecResult{Stdout: "out", Stderr: "err"}
	if got := r.Combined(); got != "out\nerr" {
		t.Errorf("Combined() = %q", got)
	}
	r = &ExecResult{Stdout: "only out"}
	if got := r.Combined(); got != "only out" {
		t.Errorf("Combined() = %q", got)
	}
	r = &ExecResult{Stderr: "only err"}
	if got := r.Combined(); got != "only err" {
		t.Errorf("Combined() = %q", got)
	}
}

func TestLimitedWriterTruncates(t *testing.T) {
	lw := &limitedWriter{w: &bytes.Buffer{}, max: 10}
	n, err := lw.Write([]byte(strings.Repeat("x", 25)))
	if err != nil || n != 25 {
		t.Fatalf("Write = (%d, %v)", n, err)
	}
	if lw.w.Len() != 10 {
		t.Errorf("buffer length = %d, want 10", lw.w.Len())
	}
	if !lw.truncated {
		t.Error("truncation not recorded")
	}
}
