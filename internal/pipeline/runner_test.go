package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"optimod/internal/checkpoint"
	"optimod/internal/model"
	"optimod/internal/synth"
)

// stubServices returns canned results per stage and records which stages
// ran.
type stubServices struct {
	called []string

	paramsErr error
}

func (s *stubServices) ExtractParameters(ctx context.Context, description string, sc StageContext) (map[string]model.Parameter, error) {
	s.called = append(s.called, checkpoint.LabelParams)
	if s.paramsErr != nil {
		return nil, s.paramsErr
	}
	return map[string]model.Parameter{
		"Budget": {Shape: []int{}, Definition: "Total budget"},
	}, nil
}

func (s *stubServices) ExtractObjective(ctx context.Context, description string, params map[string]model.Parameter, sc StageContext) (model.Objective, error) {
	s.called = append(s.called, checkpoint.LabelObjective)
	return model.Objective{Description: "Total cost", Sense: model.SenseMinimize}, nil
}

func (s *stubServices) ExtractConstraints(ctx context.Context, description string, params map[string]model.Parameter, sc StageContext) ([]model.Constraint, error) {
	s.called = append(s.called, checkpoint.LabelConstraints)
	return []model.Constraint{
		{Description: "Spend within budget"},
		{Description: "Nonnegative purchases"},
	}, nil
}

func (s *stubServices) FormulateConstraints(ctx context.Context, description string, params map[string]model.Parameter, constraints []model.Constraint, sc StageContext) ([]model.Constraint, map[string]model.Variable, error) {
	s.called = append(s.called, checkpoint.LabelConstraintsModel)
	out := make([]model.Constraint, len(constraints))
	for i, c := range constraints {
		c.Formulation = fmt.Sprintf("formulation %d", i)
		out[i] = c
	}
	vars := map[string]model.Variable{
		"x": {Shape: []int{2}, Type: model.VarContinuous, Definition: "Amount purchased"},
	}
	return out, vars, nil
}

func (s *stubServices) FormulateObjective(ctx context.Context, description string, params map[string]model.Parameter, vars map[string]model.Variable, objective model.Objective, sc StageContext) (model.Objective, error) {
	s.called = append(s.called, checkpoint.LabelObjectiveModel)
	objective.Formulation = "\\min x \\cdot c"
	return objective, nil
}

func (s *stubServices) GenerateCode(ctx context.Context, state *model.ProblemState, sc StageContext) ([]model.Constraint, model.Objective, error) {
	s.called = append(s.called, checkpoint.LabelCode)
	out := make([]model.Constraint, len(state.Constraints))
	for i, c := range state.Constraints {
		c.Code = fmt.Sprintf("model.addConstr(x[%d] <= Budget)", i)
		out[i] = c
	}
	objective := *state.Objective
	objective.Code = "model.setObjective(x[0] + x[1], GRB.MINIMIZE)"
	return out, objective, nil
}

func problemDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	description := "Buy feed mixes at minimum cost within a budget."
	if err := os.WriteFile(filepath.Join(dir, model.DescriptionFile), []byte(description), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func newTestRunner(t *testing.T, services Services, opts Options) (*Runner, *checkpoint.Store) {
	t.Helper()
	store, err := checkpoint.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return NewRunner(services, store, opts, nil), store
}

func TestRunAllStagesCheckpointed(t *testing.T) {
	services := &stubServices{}
	runner, store := newTestRunner(t, services, Options{})

	state, err := runner.Run(context.Background(), problemDir(t))
	if err != nil {
		t.Fatal(err)
	}

	wantOrder := []string{
		checkpoint.LabelParams,
		checkpoint.LabelObjective,
		checkpoint.LabelConstraints,
		checkpoint.LabelConstraintsModel,
		checkpoint.LabelObjectiveModel,
		checkpoint.LabelCode,
	}
	if len(services.called) != len(wantOrder) {
		t.Fatalf("stages ran: %v", services.called)
	}
	for i, label := range wantOrder {
		if services.called[i] != label {
			t.Errorf("stage %d = %s, want %s", i, services.called[i], label)
		}
		if !store.Exists(label) {
			t.Errorf("no checkpoint for %s", label)
		}
	}

	if state.Objective == nil || state.Objective.Code == "" {
		t.Error("final state has no objective code")
	}
	if len(state.Constraints) != 2 || state.Constraints[0].Code == "" {
		t.Errorf("final state constraints = %+v", state.Constraints)
	}
	if _, err := os.Stat(filepath.Join(store.Dir(), synth.DataPayloadFile)); err != nil {
		t.Errorf("data payload not written: %v", err)
	}
}

func TestRunSeedsParametersFromGroundTruth(t *testing.T) {
	dir := problemDir(t)
	info := `{"parameters": {"Budget": {"shape": [], "description": "Total budget"}}}`
	if err := os.WriteFile(filepath.Join(dir, model.ProblemInfoFile), []byte(info), 0o644); err != nil {
		t.Fatal(err)
	}
	data := `{"Budget": 500}`
	if err := os.WriteFile(filepath.Join(dir, model.DataFile), []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	services := &stubServices{paramsErr: fmt.Errorf("extraction must not run")}
	runner, store := newTestRunner(t, services, Options{})

	if _, err := runner.Run(context.Background(), dir); err != nil {
		t.Fatal(err)
	}

	params, err := store.Load(checkpoint.LabelParams)
	if err != nil {
		t.Fatal(err)
	}
	budget, ok := params.Parameters["Budget"]
	if !ok {
		t.Fatal("ground-truth parameter missing from checkpoint")
	}
	if string(budget.Value) != "500" {
		t.Errorf("Budget value = %s", budget.Value)
	}

	payload, err := os.ReadFile(filepath.Join(store.Dir(), synth.DataPayloadFile))
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatal(err)
	}
	if string(decoded["Budget"]) != "500" {
		t.Errorf("payload Budget = %s", decoded["Budget"])
	}
}

func TestRunStageErrorStopsPipeline(t *testing.T) {
	services := &stubServices{paramsErr: fmt.Errorf("model unavailable")}
	runner, store := newTestRunner(t, services, Options{})

	_, err := runner.Run(context.Background(), problemDir(t))
	if err == nil {
		t.Fatal("stage error did not stop the run")
	}
	if store.Exists(checkpoint.LabelParams) {
		t.Error("failed stage left a checkpoint behind")
	}
}

func TestResumeSkipsCompletedStages(t *testing.T) {
	dir := problemDir(t)

	first := &stubServices{}
	runner, store := newTestRunner(t, first, Options{})
	if _, err := runner.Run(context.Background(), dir); err != nil {
		t.Fatal(err)
	}

	// Drop the last two checkpoints to simulate an interrupted run.
	for _, label := range []string{checkpoint.LabelObjectiveModel, checkpoint.LabelCode} {
		if err := os.Remove(filepath.Join(store.Dir(), label+".json")); err != nil {
			t.Fatal(err)
		}
	}

	second := &stubServices{paramsErr: fmt.Errorf("must not re-extract")}
	resumed := NewRunner(second, store, Options{Resume: true}, nil)
	if _, err := resumed.Run(context.Background(), dir); err != nil {
		t.Fatal(err)
	}

	want := []string{checkpoint.LabelObjectiveModel, checkpoint.LabelCode}
	if len(second.called) != len(want) {
		t.Fatalf("resumed stages = %v, want %v", second.called, want)
	}
	for i, label := range want {
		if second.called[i] != label {
			t.Errorf("resumed stage %d = %s, want %s", i, second.called[i], label)
		}
	}
}
