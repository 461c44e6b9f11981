// Package solver invokes the synthesized solver code as a subprocess and
// classifies what happened. It is the only package that touches the
// solver toolchain; everything above it sees an ExecResult and an
// Outcome.
package solver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// ExecResult captures one solver process invocation.
type ExecResult struct {
	ExitCode  int
	Stdout    string
	Stderr    string
	Killed    bool // terminated by the attempt timeout
	Duration  time.Duration
	Truncated bool
}

// Combined returns stdout and stderr joined, for logs and repair prompts.
func (r *ExecResult) Combined() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// Config controls how solver processes are started.
type Config struct {
	// PythonBinary is the interpreter used to run the generated source.
	PythonBinary string
	// AttemptTimeout bounds one execution attempt wall-clock.
	AttemptTimeout time.Duration
	// MaxOutputBytes caps captured stdout/stderr each.
	MaxOutputBytes int
}

// DefaultConfig returns the runner defaults.
func DefaultConfig() Config {
	return Config{
		PythonBinary:   "python3",
		AttemptTimeout: 2 * time.Minute,
		MaxOutputBytes: 1 << 20,
	}
}

// Runner executes solver source files on the host.
type Runner struct {
	config Config
	log    *zap.Logger
}

// NewRunner creates a runner; a nil logger is replaced with a no-op one.
func NewRunner(config Config, log *zap.Logger) *Runner {
	if config.PythonBinary == "" {
		config.PythonBinary = "python3"
	}
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = DefaultConfig().AttemptTimeout
	}
	if config.MaxOutputBytes <= 0 {
		config.MaxOutputBytes = DefaultConfig().MaxOutputBytes
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{config: config, log: log}
}

// Run executes the source file in the run directory, bounded by the
// per-attempt timeout. A timeout is not an error: it comes back as an
// ExecResult with Killed set so the loop can classify it. Run only
// returns an error when the process could not be started at all.
func (r *Runner) Run(ctx context.Context, runDir, sourceFile string) (*ExecResult, error) {
	execCtx, cancel := context.WithTimeout(ctx, r.config.AttemptTimeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, r.config.PythonBinary, sourceFile)
	cmd.Dir = runDir

	var stdout, stderr bytes.Buffer
	outLimited := &limitedWriter{w: &stdout, max: r.config.MaxOutputBytes}
	errLimited := &limitedWriter{w: &stderr, max: r.config.MaxOutputBytes}
	cmd.Stdout = outLimited
	cmd.Stderr = errLimited

	r.log.Debug("starting solver process",
		zap.String("binary", r.config.PythonBinary),
		zap.String("source", sourceFile),
		zap.String("dir", runDir),
		zap.Duration("timeout", r.config.AttemptTimeout))

	started := time.Now()
	err := cmd.Run()
	result := &ExecResult{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Duration:  time.Since(started),
		Truncated: outLimited.truncated || errLimited.truncated,
	}

	switch {
	case execCtx.Err() == context.DeadlineExceeded:
		result.Killed = true
		result.ExitCode = -1
		r.log.Warn("solver process killed on timeout",
			zap.Duration("after", result.Duration))
	case err == nil:
		result.ExitCode = 0
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			r.log.Debug("solver process exited non-zero", zap.Int("code", result.ExitCode))
		} else {
			return nil, fmt.Errorf("start solver process: %w", err)
		}
	}
	return result, nil
}

// limitedWriter discards bytes past max, recording that it did.
type limitedWriter struct {
	w         *bytes.Buffer
	max       int
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	remaining := lw.max - lw.w.Len()
	if remaining <= 0 {
		lw.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		lw.truncated = true
		lw.w.Write(p[:remaining])
		return len(p), nil
	}
	return lw.w.Write(p)
}
