// Package logging builds the zap loggers the rest of the system uses: a
// process-level logger for the CLI and one file logger per run
// directory. The run log is the append-only record of stage
// transitions, repair attempts, and classifications for that run; it is
// reset when the run starts.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RunLogFile is the per-run log file name inside the run directory.
const RunLogFile = "log.txt"

// NewProcessLogger builds the console logger the CLI uses.
func NewProcessLogger(verbose bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return config.Build()
}

// NewRunLogger creates the run-scoped file logger, truncating any log a
// previous run of the same directory left behind. The returned close
// function flushes and releases the file.
func NewRunLogger(runDir string, level zapcore.Level) (*zap.Logger, func(), error) {
	path := filepath.Join(runDir, RunLogFile)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open run log: %w", err)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.Lock(file),
		level,
	)
	logger := zap.New(core)
	closeFn := func() {
		_ = logger.Sync()
		_ = file.Close()
	}
	return logger, closeFn, nil
}
