package model

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadDescription(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, DescriptionFile, "  A transportation problem.\n")

	got, err := LoadDescription(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got != "A transportation problem." {
		t.Errorf("description = %q", got)
	}
}

func TestLoadDescriptionFallsBackToInfo(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ProblemInfoFile, `{"description": "From info file."}`)

	got, err := LoadDescription(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got != "From info file." {
		t.Errorf("description = %q", got)
	}
}

func TestLoadDescriptionMissing(t *testing.T) {
	if _, err := LoadDescription(t.TempDir()); err == nil {
		t.Fatal("expected error for missing description")
	}
}

func TestLoadProblemInfoMissingIsNil(t *testing.T) {
	info, err := LoadProblemInfo(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if info != nil {
		t.Errorf("info = %+v, want nil", info)
	}
}

func TestLoadProblemInfoMalformed(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ProblemInfoFile, `{not json`)
	if _, err := LoadProblemInfo(dir); err == nil {
		t.Fatal("expected error for malformed info file")
	}
}

func TestLoadDataValuesMissingIsEmpty(t *testing.T) {
	values, err := LoadDataValues(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(values) != 0 {
		t.Errorf("values = %v, want empty", values)
	}
}

func TestLoadLabelsNeverFails(t *testing.T) {
	dir := t.TempDir()

	res := LoadLabels(dir)
	if !res.Absent() || res.Reason == "" {
		t.Errorf("missing labels: Absent=%v Reason=%q", res.Absent(), res.Reason)
	}

	writeFile(t, dir, LabelsFile, `{broken`)
	res = LoadLabels(dir)
	if !res.Absent() || res.Reason == "" {
		t.Errorf("malformed labels: Absent=%v Reason=%q", res.Absent(), res.Reason)
	}

	writeFile(t, dir, LabelsFile, `{"objective": 42.5, "constraints": ["c1"]}`)
	res = LoadLabels(dir)
	if res.Absent() {
		t.Fatalf("valid labels reported absent: %s", res.Reason)
	}
	if *res.Labels.Objective != 42.5 || len(res.Labels.Constraints) != 1 {
		t.Errorf("labels = %+v", res.Labels)
	}
}

func TestApplyGroundTruth(t *testing.T) {
	s := NewProblemState("d")
	s.Parameters["Capacity"] = Parameter{Shape: []int{3}, Definition: "extracted definition"}

	info := &ProblemInfo{Parameters: map[string]InfoParameter{
		"Capacity": {Shape: []int{4}, Description: "ground truth definition"},
		"Demand":   {Shape: []int{2}, Description: "extraction missed this"},
	}}
	values := map[string]json.RawMessage{
		"Capacity": json.RawMessage(`[1, 2, 3, 4]`),
		"Ignored":  json.RawMessage(`7`),
	}
	s.ApplyGroundTruth(info, values)

	got := s.Parameters["Capacity"]
	if len(got.Shape) != 1 || got.Shape[0] != 4 {
		t.Errorf("Capacity shape = %v, want [4]", got.Shape)
	}
	if got.Definition != "ground truth definition" {
		t.Errorf("Capacity definition = %q", got.Definition)
	}
	if string(got.Value) != "[1, 2, 3, 4]" {
		t.Errorf("Capacity value = %s", got.Value)
	}
	if _, ok := s.Parameters["Demand"]; !ok {
		t.Error("parameter known only to ground truth was not added")
	}
	if _, ok := s.Parameters["Ignored"]; ok {
		t.Error("value with no matching parameter was added")
	}
}
