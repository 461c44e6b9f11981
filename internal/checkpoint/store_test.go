package checkpoint

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"optimod/internal/model"
)

// rawJSONEqual compares raw values structurally; the store's indented
// encoding reflows whitespace inside arrays.
var rawJSONEqual = cmp.Transformer("compactJSON", func(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
})

func testState() *model.ProblemState {
	s := model.NewProblemState("Schedule shifts to minimize staffing cost.")
	s.Parameters["Cost"] = model.Parameter{Shape: []int{3}, Definition: "Cost per shift", Value: json.RawMessage(`[10, 12, 15]`)}
	s.Variables["assign"] = model.Variable{Shape: []int{3}, Type: model.VarBinary, Definition: "Shift assignment"}
	s.Constraints = []model.Constraint{
		{Description: "Cover every shift", Formulation: "\\sum assign \\ge 1"},
		{Description: "At most two shifts", Formulation: "\\sum assign \\le 2"},
	}
	s.Objective = &model.Objective{Description: "Staffing cost", Sense: model.SenseMinimize}
	return s
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	want := testState()
	if err := store.Save(want, LabelParams); err != nil {
		t.Fatal(err)
	}
	got, err := store.Load(LabelParams)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got, rawJSONEqual); diff != "" {
		t.Errorf("round trip (-want +got):\n%s", diff)
	}
}

func TestConstraintOrderSurvivesRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s := testState()
	s.Constraints = nil
	for _, desc := range []string{"third", "first", "second", "zeroth"} {
		s.Constraints = append(s.Constraints, model.Constraint{Description: desc})
	}
	if err := store.Save(s, LabelConstraints); err != nil {
		t.Fatal(err)
	}
	got, err := store.Load(LabelConstraints)
	if err != nil {
		t.Fatal(err)
	}
	for i, c := range got.Constraints {
		if c.Description != s.Constraints[i].Description {
			t.Fatalf("constraint %d = %q, want %q", i, c.Description, s.Constraints[i].Description)
		}
	}
}

func TestLoadIgnoresUnknownFields(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	doc := `{"description": "future checkpoint", "solver_hints": {"threads": 4}}`
	if err := os.WriteFile(filepath.Join(dir, LabelCode+".json"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := store.Load(LabelCode)
	if err != nil {
		t.Fatal(err)
	}
	if got.Description != "future checkpoint" {
		t.Errorf("description = %q", got.Description)
	}
	if got.Parameters == nil || got.Variables == nil {
		t.Error("maps not initialized on load")
	}
}

func TestLoadMissingIsErrNotFound(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	_, err = store.Load(LabelObjective)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestLoadCorruptIsTyped(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, LabelParams+".json"), []byte("{truncated"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = store.Load(LabelParams)
	var corrupt *CorruptError
	if !errors.As(err, &corrupt) {
		t.Fatalf("err = %v, want CorruptError", err)
	}
	if corrupt.Label != LabelParams {
		t.Errorf("corrupt label = %q", corrupt.Label)
	}
}

func TestSaveReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	first := testState()
	if err := store.Save(first, LabelCode); err != nil {
		t.Fatal(err)
	}
	second := testState()
	second.Description = "replaced"
	if err := store.Save(second, LabelCode); err != nil {
		t.Fatal(err)
	}

	got, err := store.Load(LabelCode)
	if err != nil {
		t.Fatal(err)
	}
	if got.Description != "replaced" {
		t.Errorf("description = %q, want replaced", got.Description)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestLabelsAndAttemptLabels(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s := testState()
	for _, label := range []string{LabelParams, LabelCode, AttemptLabel(1), AttemptLabel(2)} {
		if err := store.Save(s, label); err != nil {
			t.Fatal(err)
		}
	}
	labels, err := store.Labels()
	if err != nil {
		t.Fatal(err)
	}
	if len(labels) != 4 {
		t.Fatalf("labels = %v, want 4 entries", labels)
	}
	attempts, err := store.AttemptLabels()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{AttemptLabel(1), AttemptLabel(2)}
	if diff := cmp.Diff(want, attempts); diff != "" {
		t.Errorf("attempt labels (-want +got):\n%s", diff)
	}
	if !store.Exists(LabelParams) || store.Exists(LabelObjective) {
		t.Error("Exists misreports checkpoint presence")
	}
}

func TestAttemptLabelsSortNumerically(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s := testState()
	for _, n := range []int{10, 2, 1, 11, 3} {
		if err := store.Save(s, AttemptLabel(n)); err != nil {
			t.Fatal(err)
		}
	}
	attempts, err := store.AttemptLabels()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{AttemptLabel(1), AttemptLabel(2), AttemptLabel(3), AttemptLabel(10), AttemptLabel(11)}
	if diff := cmp.Diff(want, attempts); diff != "" {
		t.Errorf("attempt labels (-want +got):\n%s", diff)
	}
}
