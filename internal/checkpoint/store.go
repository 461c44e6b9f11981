// Package checkpoint persists problem states to the run directory, one
// JSON document per stage label. Writes go through a temp file and an
// atomic rename so a concurrent reader never observes a half-written
// checkpoint, even when many problems share the same storage medium.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"optimod/internal/model"
)

// Stage labels in pipeline order. Repair attempts append their attempt
// number to LabelCode (state_6_code_attempt_2, ...).
const (
	LabelParams            = "state_1_params"
	LabelObjective         = "state_2_objective"
	LabelConstraints       = "state_3_constraints"
	LabelConstraintsModel  = "state_4_constraints_modeled"
	LabelObjectiveModel    = "state_5_objective_modeled"
	LabelCode              = "state_6_code"
	attemptLabelFormat     = LabelCode + "_attempt_%d"
	checkpointFileTemplate = "%s.json"
)

// AttemptLabel returns the checkpoint label for a repair-loop attempt.
func AttemptLabel(attempt int) string {
	return fmt.Sprintf(attemptLabelFormat, attempt)
}

// ErrNotFound is returned by Load when no checkpoint exists for a label.
var ErrNotFound = errors.New("checkpoint not found")

// CorruptError is returned by Load when a checkpoint file exists but
// cannot be decoded.
type CorruptError struct {
	Label string
	Path  string
	Err   error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("checkpoint %s corrupt at %s: %v", e.Label, e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// Store reads and writes checkpoints inside a single run directory. A
// run directory is owned by exactly one pipeline instance, so Store does
// no locking of its own; atomicity of individual writes is enough.
type Store struct {
	dir string
}

// NewStore creates a store rooted at the run directory, creating it if
// needed.
func NewStore(runDir string) (*Store, error) {
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	return &Store{dir: runDir}, nil
}

// Dir returns the run directory this store writes into.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(label string) string {
	return filepath.Join(s.dir, fmt.Sprintf(checkpointFileTemplate, label))
}

// Save durably persists the state under the given label. The previous
// checkpoint for the label, if any, is atomically replaced.
func (s *Store) Save(state *model.ProblemState, label string) error {
	raw, err := json.MarshalIndent(state, "", "    ")
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", label, err)
	}
	final := s.path(label)
	tmp, err := os.CreateTemp(s.dir, fmt.Sprintf(".%s-*.tmp", label))
	if err != nil {
		return fmt.Errorf("write checkpoint %s: %w", label, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write checkpoint %s: %w", label, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync checkpoint %s: %w", label, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close checkpoint %s: %w", label, err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace checkpoint %s: %w", label, err)
	}
	return nil
}

// Load reconstructs the state saved under label. Unknown fields in the
// document are ignored so older binaries can read newer checkpoints.
func (s *Store) Load(label string) (*model.ProblemState, error) {
	path := s.path(label)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, label)
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", label, err)
	}
	state := model.NewProblemState("")
	if err := json.Unmarshal(raw, state); err != nil {
		return nil, &CorruptError{Label: label, Path: path, Err: err}
	}
	if state.Parameters == nil {
		state.Parameters = make(map[string]model.Parameter)
	}
	if state.Variables == nil {
		state.Variables = make(map[string]model.Variable)
	}
	return state, nil
}

// Exists reports whether a checkpoint is present for the label.
func (s *Store) Exists(label string) bool {
	_, err := os.Stat(s.path(label))
	return err == nil
}

// Labels lists the checkpoint labels present in the run directory in
// lexical order.
func (s *Store) Labels() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var labels []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || !strings.HasPrefix(name, "state_") {
			continue
		}
		labels = append(labels, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(labels)
	return labels, nil
}

// AttemptLabels lists the repair-attempt checkpoints in attempt order.
// The numeric suffix decides the order, so attempt 10 follows attempt 9.
func (s *Store) AttemptLabels() ([]string, error) {
	labels, err := s.Labels()
	if err != nil {
		return nil, err
	}
	prefix := LabelCode + "_attempt_"
	var attempts []string
	for _, label := range labels {
		if strings.HasPrefix(label, prefix) {
			attempts = append(attempts, label)
		}
	}
	sort.Slice(attempts, func(i, j int) bool {
		return attemptNumber(attempts[i], prefix) < attemptNumber(attempts[j], prefix)
	})
	return attempts, nil
}

func attemptNumber(label, prefix string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(label, prefix))
	if err != nil {
		return 0
	}
	return n
}
