package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"optimod/internal/llm"
	"optimod/internal/model"
	"optimod/internal/repair"
	"optimod/internal/solver"
)

func repairRequest() repair.Request {
	return repair.Request{
		Description: "Minimize cost.",
		Constraints: []model.Constraint{
			{Description: "budget", Code: "model.addConstr(x <= Budget)"},
		},
		Objective: model.Objective{Description: "cost", Code: "model.setObjective(x, GRB.MINIMIZE)"},
		Failure: solver.Classification{
			Outcome: solver.OutcomeRuntimeError,
			Detail:  "KeyError: 'Budget'",
		},
		Attempt: 1,
	}
}

func TestRepairerDecodesRevision(t *testing.T) {
	client := &mockClient{responses: []string{
		"```json\n{\"constraint_codes\": [\"model.addConstr(x <= data[\\\"Budget\\\"])\"], \"objective_code\": \"\"}\n```",
	}}
	repairer := NewRepairer(client, nil)

	revision, err := repairer.Repair(context.Background(), repairRequest())
	if err != nil {
		t.Fatal(err)
	}
	if len(revision.ConstraintCodes) != 1 || !strings.Contains(revision.ConstraintCodes[0], "Budget") {
		t.Errorf("revision = %+v", revision)
	}
	if revision.ObjectiveCode != "" {
		t.Errorf("objective code = %q, want empty (keep current)", revision.ObjectiveCode)
	}
	// The failure detail must reach the model.
	if len(client.prompts) != 1 || !strings.Contains(client.prompts[0], "KeyError: 'Budget'") {
		t.Error("failure detail missing from repair prompt")
	}
}

func TestRepairerRejectsUnparseableResponse(t *testing.T) {
	client := &mockClient{responses: []string{"I cannot fix this."}}
	repairer := NewRepairer(client, nil)

	_, err := repairer.Repair(context.Background(), repairRequest())
	var malformed *llm.MalformedResponseError
	if !errors.As(err, &malformed) {
		t.Fatalf("err = %v, want MalformedResponseError", err)
	}
}
