package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"optimod/internal/llm"
	"optimod/internal/model"
)

// mockClient replies from a queue of canned responses and records every
// prompt it saw.
type mockClient struct {
	responses []string
	prompts   []string
	err       error
}

func (c *mockClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

func (c *mockClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	c.prompts = append(c.prompts, userPrompt)
	if c.err != nil {
		return "", c.err
	}
	if len(c.responses) == 0 {
		return "", errors.New("mock client out of responses")
	}
	resp := c.responses[0]
	c.responses = c.responses[1:]
	return resp, nil
}

func TestExtractParameters(t *testing.T) {
	client := &mockClient{responses: []string{
		"```json\n{\"Budget\": {\"shape\": [], \"definition\": \"Total budget\"}, \"Cost\": {\"shape\": [3], \"definition\": \"Unit cost\"}}\n```",
	}}
	services := NewModelServices(client, nil)

	params, err := services.ExtractParameters(context.Background(), "some problem", StageContext{})
	if err != nil {
		t.Fatal(err)
	}
	if len(params) != 2 {
		t.Fatalf("params = %+v", params)
	}
	if params["Cost"].Shape[0] != 3 {
		t.Errorf("Cost shape = %v", params["Cost"].Shape)
	}
}

func TestExtractObjectiveRejectsUnknownSense(t *testing.T) {
	client := &mockClient{responses: []string{
		`{"description": "profit", "sense": "biggest"}`,
	}}
	services := NewModelServices(client, nil)

	_, err := services.ExtractObjective(context.Background(), "p", nil, StageContext{})
	var malformed *llm.MalformedResponseError
	if !errors.As(err, &malformed) {
		t.Fatalf("err = %v, want MalformedResponseError", err)
	}
}

func TestExtractConstraintsDropsBlanks(t *testing.T) {
	client := &mockClient{responses: []string{
		`["Meet demand", "  ", "Respect capacity"]`,
	}}
	services := NewModelServices(client, nil)

	constraints, err := services.ExtractConstraints(context.Background(), "p", nil, StageContext{})
	if err != nil {
		t.Fatal(err)
	}
	if len(constraints) != 2 {
		t.Fatalf("constraints = %+v", constraints)
	}
	if constraints[0].Description != "Meet demand" || constraints[1].Description != "Respect capacity" {
		t.Errorf("constraints = %+v", constraints)
	}
}

func TestFormulateConstraintsLengthMismatch(t *testing.T) {
	client := &mockClient{responses: []string{
		`{"constraints": [{"formulation": "only one"}], "variables": {}}`,
	}}
	services := NewModelServices(client, nil)

	input := []model.Constraint{{Description: "a"}, {Description: "b"}}
	_, _, err := services.FormulateConstraints(context.Background(), "p", nil, input, StageContext{})
	var malformed *llm.MalformedResponseError
	if !errors.As(err, &malformed) {
		t.Fatalf("err = %v, want MalformedResponseError", err)
	}
}

func TestFormulateConstraintsDefaultsUnknownVarType(t *testing.T) {
	client := &mockClient{responses: []string{
		`{"constraints": [{"formulation": "x <= Cap"}], "variables": {"x": {"shape": [2], "type": "fuzzy", "definition": "amount"}}}`,
	}}
	services := NewModelServices(client, nil)

	_, vars, err := services.FormulateConstraints(context.Background(), "p", nil,
		[]model.Constraint{{Description: "capacity"}}, StageContext{})
	if err != nil {
		t.Fatal(err)
	}
	if vars["x"].Type != model.VarContinuous {
		t.Errorf("x type = %s, want continuous", vars["x"].Type)
	}
}

func codegenState() *model.ProblemState {
	s := model.NewProblemState("p")
	s.Parameters["Cap"] = model.Parameter{Definition: "capacity"}
	s.Variables["x"] = model.Variable{Type: model.VarContinuous, Definition: "amount"}
	s.Constraints = []model.Constraint{{Description: "capacity", Formulation: "x <= Cap"}}
	s.Objective = &model.Objective{Description: "amount", Formulation: "max x", Sense: model.SenseMaximize}
	return s
}

func TestGenerateCodeStripsFences(t *testing.T) {
	client := &mockClient{responses: []string{
		"```json\n{\"constraint_codes\": [\"```python\\nmodel.addConstr(x <= Cap)\\n```\"], \"objective_code\": \"model.setObjective(x, GRB.MAXIMIZE)\"}\n```",
	}}
	services := NewModelServices(client, nil)

	constraints, objective, err := services.GenerateCode(context.Background(), codegenState(), StageContext{})
	if err != nil {
		t.Fatal(err)
	}
	if constraints[0].Code != "model.addConstr(x <= Cap)" {
		t.Errorf("constraint code = %q", constraints[0].Code)
	}
	if objective.Code != "model.setObjective(x, GRB.MAXIMIZE)" {
		t.Errorf("objective code = %q", objective.Code)
	}
}

func TestGenerateCodeCheckRepairsBrokenFragment(t *testing.T) {
	client := &mockClient{responses: []string{
		// First response: constraint fragment with a syntax error.
		`{"constraint_codes": ["model.addConstr(x <= Cap"], "objective_code": "model.setObjective(x, GRB.MAXIMIZE)"}`,
		// Local repair response for the broken fragment.
		"```python\nmodel.addConstr(x <= Cap)\n```",
	}}
	services := NewModelServices(client, nil)

	constraints, _, err := services.GenerateCode(context.Background(), codegenState(), StageContext{Check: true})
	if err != nil {
		t.Fatal(err)
	}
	if constraints[0].Code != "model.addConstr(x <= Cap)" {
		t.Errorf("constraint code = %q, want repaired fragment", constraints[0].Code)
	}
	if len(client.prompts) != 2 {
		t.Errorf("model called %d times, want 2", len(client.prompts))
	}
}

func TestGenerateCodeCheckKeepsBestEffort(t *testing.T) {
	broken := `{"constraint_codes": ["model.addConstr(x <= Undeclared)"], "objective_code": "model.setObjective(x, GRB.MAXIMIZE)"}`
	client := &mockClient{responses: []string{
		broken,
		"model.addConstr(x <= Undeclared)",
		"model.addConstr(x <= Undeclared)",
	}}
	services := NewModelServices(client, nil)

	constraints, _, err := services.GenerateCode(context.Background(), codegenState(), StageContext{Check: true})
	if err != nil {
		t.Fatal(err)
	}
	// Still returned; the execute-and-debug loop is the backstop.
	if !strings.Contains(constraints[0].Code, "Undeclared") {
		t.Errorf("constraint code = %q", constraints[0].Code)
	}
}

func TestLabelsHintAppended(t *testing.T) {
	sc := StageContext{
		RAGContext: "reference context",
		Labels:     &model.Labels{Constraints: []string{"known constraint"}},
	}
	hint := labelsHint(sc)
	if !strings.Contains(hint, "reference context") || !strings.Contains(hint, "known constraint") {
		t.Errorf("hint = %q", hint)
	}
}
