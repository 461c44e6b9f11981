package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"optimod/internal/llm"
	"optimod/internal/model"
	"optimod/internal/synth"
)

// checkRetries bounds the local repair passes a stage runs on its own
// output when verification is enabled.
const checkRetries = 2

// ModelServices implements Services against a language model. One
// instance serves all stages of a run.
type ModelServices struct {
	client llm.Client
	log    *zap.Logger
}

// NewModelServices creates the LLM-backed stage services.
func NewModelServices(client llm.Client, log *zap.Logger) *ModelServices {
	if log == nil {
		log = zap.NewNop()
	}
	return &ModelServices{client: client, log: log}
}

// ExtractParameters implements Services.
func (m *ModelServices) ExtractParameters(ctx context.Context, description string, sc StageContext) (map[string]model.Parameter, error) {
	prompt := fmt.Sprintf(paramsPromptTemplate, description, sc.RAGContext)
	response, err := m.client.CompleteWithSystem(ctx, systemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("extract parameters: %w", err)
	}
	var params map[string]model.Parameter
	if err := llm.ExtractJSON(response, &params); err != nil {
		return nil, fmt.Errorf("extract parameters: %w", err)
	}
	if len(params) == 0 {
		return nil, fmt.Errorf("extract parameters: %w", &llm.MalformedResponseError{Response: response})
	}
	return params, nil
}

// ExtractObjective implements Services.
func (m *ModelServices) ExtractObjective(ctx context.Context, description string,
	params map[string]model.Parameter, sc StageContext) (model.Objective, error) {
	prompt := fmt.Sprintf(objectivePromptTemplate, description, renderParams(params), labelsHint(sc))
	response, err := m.client.CompleteWithSystem(ctx, systemPrompt, prompt)
	if err != nil {
		return model.Objective{}, fmt.Errorf("extract objective: %w", err)
	}
	var decoded struct {
		Description string `json:"description"`
		Sense       string `json:"sense"`
	}
	if err := llm.ExtractJSON(response, &decoded); err != nil {
		return model.Objective{}, fmt.Errorf("extract objective: %w", err)
	}
	sense := model.Sense(strings.ToLower(decoded.Sense))
	if sense != model.SenseMinimize && sense != model.SenseMaximize {
		return model.Objective{}, fmt.Errorf("extract objective: %w",
			&llm.MalformedResponseError{Response: response})
	}
	return model.Objective{Description: decoded.Description, Sense: sense}, nil
}

// ExtractConstraints implements Services.
func (m *ModelServices) ExtractConstraints(ctx context.Context, description string,
	params map[string]model.Parameter, sc StageContext) ([]model.Constraint, error) {
	prompt := fmt.Sprintf(constraintsPromptTemplate, description, renderParams(params), labelsHint(sc))
	response, err := m.client.CompleteWithSystem(ctx, systemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("extract constraints: %w", err)
	}
	var texts []string
	if err := llm.ExtractJSON(response, &texts); err != nil {
		return nil, fmt.Errorf("extract constraints: %w", err)
	}
	constraints := make([]model.Constraint, 0, len(texts))
	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		constraints = append(constraints, model.Constraint{Description: strings.TrimSpace(text)})
	}
	return constraints, nil
}

// FormulateConstraints implements Services.
func (m *ModelServices) FormulateConstraints(ctx context.Context, description string,
	params map[string]model.Parameter, constraints []model.Constraint,
	sc StageContext) ([]model.Constraint, map[string]model.Variable, error) {
	prompt := fmt.Sprintf(constraintFormulationPromptTemplate,
		description, renderParams(params), renderConstraintList(constraints), sc.RAGContext)
	response, err := m.client.CompleteWithSystem(ctx, systemPrompt, prompt)
	if err != nil {
		return nil, nil, fmt.Errorf("formulate constraints: %w", err)
	}
	var decoded struct {
		Constraints []struct {
			Formulation string `json:"formulation"`
		} `json:"constraints"`
		Variables map[string]model.Variable `json:"variables"`
	}
	if err := llm.ExtractJSON(response, &decoded); err != nil {
		return nil, nil, fmt.Errorf("formulate constraints: %w", err)
	}
	if len(decoded.Constraints) != len(constraints) {
		return nil, nil, fmt.Errorf("formulate constraints: got %d formulations for %d constraints: %w",
			len(decoded.Constraints), len(constraints), &llm.MalformedResponseError{Response: response})
	}

	out := append([]model.Constraint(nil), constraints...)
	for i := range out {
		out[i].Formulation = decoded.Constraints[i].Formulation
	}
	vars := decoded.Variables
	if vars == nil {
		vars = map[string]model.Variable{}
	}
	for name, v := range vars {
		if !v.Type.Valid() {
			// Default unrecognized domains rather than failing the stage;
			// the solver treats unbounded continuous as the general case.
			v.Type = model.VarContinuous
			vars[name] = v
			m.log.Warn("variable with unknown type defaulted to continuous",
				zap.String("variable", name))
		}
	}
	return out, vars, nil
}

// FormulateObjective implements Services.
func (m *ModelServices) FormulateObjective(ctx context.Context, description string,
	params map[string]model.Parameter, vars map[string]model.Variable,
	objective model.Objective, sc StageContext) (model.Objective, error) {
	prompt := fmt.Sprintf(objectiveFormulationPromptTemplate,
		description, renderParams(params), renderVars(vars),
		objective.Sense, objective.Description, sc.RAGContext)
	response, err := m.client.CompleteWithSystem(ctx, systemPrompt, prompt)
	if err != nil {
		return model.Objective{}, fmt.Errorf("formulate objective: %w", err)
	}
	var decoded struct {
		Formulation string `json:"formulation"`
	}
	if err := llm.ExtractJSON(response, &decoded); err != nil {
		return model.Objective{}, fmt.Errorf("formulate objective: %w", err)
	}
	objective.Formulation = decoded.Formulation
	return objective, nil
}

// GenerateCode implements Services. With checking enabled each returned
// fragment is syntax-checked and symbol-checked, and a failing fragment
// gets a bounded number of local repair passes; after that the
// best-effort fragment is kept, since the execute-and-debug loop is the
// backstop.
func (m *ModelServices) GenerateCode(ctx context.Context, state *model.ProblemState,
	sc StageContext) ([]model.Constraint, model.Objective, error) {
	prompt := fmt.Sprintf(codegenPromptTemplate,
		state.Description, renderParams(state.Parameters), renderVars(state.Variables),
		renderFormulations(state.Constraints), state.Objective.Sense, state.Objective.Formulation)
	response, err := m.client.CompleteWithSystem(ctx, systemPrompt, prompt)
	if err != nil {
		return nil, model.Objective{}, fmt.Errorf("generate code: %w", err)
	}
	var decoded struct {
		ConstraintCodes []string `json:"constraint_codes"`
		ObjectiveCode   string   `json:"objective_code"`
	}
	if err := llm.ExtractJSON(response, &decoded); err != nil {
		return nil, model.Objective{}, fmt.Errorf("generate code: %w", err)
	}
	if len(decoded.ConstraintCodes) != len(state.Constraints) {
		return nil, model.Objective{}, fmt.Errorf("generate code: got %d fragments for %d constraints: %w",
			len(decoded.ConstraintCodes), len(state.Constraints), &llm.MalformedResponseError{Response: response})
	}

	constraints := append([]model.Constraint(nil), state.Constraints...)
	for i := range constraints {
		code := llm.StripCode(decoded.ConstraintCodes[i])
		if sc.Check {
			code = m.checkFragment(ctx, state, code,
				fmt.Sprintf("constraint %d: %s", i+1, constraints[i].Description))
		}
		constraints[i].Code = code
	}
	objective := *state.Objective
	objective.Code = llm.StripCode(decoded.ObjectiveCode)
	if sc.Check {
		objective.Code = m.checkFragment(ctx, state, objective.Code,
			"objective: "+objective.Description)
	}
	return constraints, objective, nil
}

// checkFragment verifies a fragment and asks the model for a correction
// when it is broken, a bounded number of times. The last candidate is
// returned even if still imperfect.
func (m *ModelServices) checkFragment(ctx context.Context, state *model.ProblemState, code, what string) string {
	for try := 0; try <= checkRetries; try++ {
		issue := fragmentIssue(ctx, state, code)
		if issue == nil {
			return code
		}
		if try == checkRetries {
			m.log.Warn("fragment still invalid after local repair",
				zap.String("fragment", what), zap.Error(issue))
			return code
		}
		m.log.Debug("repairing fragment locally",
			zap.String("fragment", what), zap.Int("try", try+1), zap.Error(issue))
		prompt := fmt.Sprintf(fragmentRepairPromptTemplate, code, issue.Error())
		response, err := m.client.CompleteWithSystem(ctx, systemPrompt, prompt)
		if err != nil {
			m.log.Warn("local fragment repair call failed", zap.Error(err))
			return code
		}
		code = llm.StripCode(response)
	}
	return code
}

// fragmentIssue reports why a fragment is unusable: empty, syntactically
// broken, or referencing undeclared symbols.
func fragmentIssue(ctx context.Context, state *model.ProblemState, code string) error {
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("fragment is empty")
	}
	if err := checkPythonFragment(ctx, code); err != nil {
		return err
	}
	for _, symbol := range synth.FreeSymbols(code) {
		if !state.HasSymbol(symbol) {
			return fmt.Errorf("fragment references undeclared symbol %q", symbol)
		}
	}
	return nil
}

func renderParams(params map[string]model.Parameter) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		p := params[name]
		fmt.Fprintf(&b, "- %s (shape %v): %s\n", name, p.Shape, p.Definition)
	}
	if b.Len() == 0 {
		return "(none)\n"
	}
	return b.String()
}

func renderVars(vars map[string]model.Variable) string {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		v := vars[name]
		fmt.Fprintf(&b, "- %s (shape %v, %s): %s\n", name, v.Shape, v.Type, v.Definition)
	}
	if b.Len() == 0 {
		return "(none)\n"
	}
	return b.String()
}

func renderConstraintList(constraints []model.Constraint) string {
	var b strings.Builder
	for i, c := range constraints {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c.Description)
	}
	return b.String()
}

func renderFormulations(constraints []model.Constraint) string {
	var b strings.Builder
	for i, c := range constraints {
		fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, c.Description, c.Formulation)
	}
	return b.String()
}

func labelsHint(sc StageContext) string {
	if sc.Labels == nil || len(sc.Labels.Constraints) == 0 {
		return sc.RAGContext
	}
	hint := fmt.Sprintf(labelsHintTemplate, strings.Join(sc.Labels.Constraints, "\n"))
	return sc.RAGContext + hint
}
