package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"optimod/internal/llm"
	"optimod/internal/model"
	"optimod/internal/repair"
)

// Repairer implements repair.Service against the language model: it
// hands the raw failure text and the current fragments to the model and
// returns the revised fragments.
type Repairer struct {
	client llm.Client
	log    *zap.Logger
}

// NewRepairer creates the LLM-backed repair service.
func NewRepairer(client llm.Client, log *zap.Logger) *Repairer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Repairer{client: client, log: log}
}

// Repair implements repair.Service.
func (r *Repairer) Repair(ctx context.Context, req repair.Request) (repair.Revision, error) {
	prompt := fmt.Sprintf(debugPromptTemplate,
		req.Description,
		renderParams(req.Parameters),
		renderVars(req.Variables),
		renderCodes(req.Constraints),
		req.Objective.Code,
		req.Failure.Outcome,
		req.Failure.Detail)

	response, err := r.client.CompleteWithSystem(ctx, systemPrompt, prompt)
	if err != nil {
		return repair.Revision{}, fmt.Errorf("repair call: %w", err)
	}
	var decoded struct {
		ConstraintCodes []string `json:"constraint_codes"`
		ObjectiveCode   string   `json:"objective_code"`
	}
	if err := llm.ExtractJSON(response, &decoded); err != nil {
		return repair.Revision{}, fmt.Errorf("repair response: %w", err)
	}

	revision := repair.Revision{ObjectiveCode: llm.StripCode(decoded.ObjectiveCode)}
	for _, code := range decoded.ConstraintCodes {
		revision.ConstraintCodes = append(revision.ConstraintCodes, llm.StripCode(code))
	}
	r.log.Info("repair service returned revision",
		zap.Int("attempt", req.Attempt),
		zap.Int("constraint_fragments", len(revision.ConstraintCodes)),
		zap.Bool("objective_revised", revision.ObjectiveCode != ""))
	return revision, nil
}

func renderCodes(constraints []model.Constraint) string {
	var out string
	for i, c := range constraints {
		out += fmt.Sprintf("# constraint %d: %s\n%s\n\n", i+1, c.Description, c.Code)
	}
	return out
}
