// Package pipeline drives one problem through the staged transforms:
// parameter extraction, objective extraction, constraint extraction,
// constraint formulation, objective formulation, and code generation.
// Every stage boundary is a checkpoint; a stage always observes the
// immediately preceding checkpoint and saves a new one.
package pipeline

import (
	"context"

	"optimod/internal/model"
)

// StageContext carries the per-run knobs every stage receives: whether
// the stage should self-check and locally repair its output, retrieved
// exemplar context, and optional ground-truth labels.
type StageContext struct {
	Check      bool
	RAGContext string
	Labels     *model.Labels
}

// Services are the external extraction and formulation collaborators.
// The production implementation talks to a language model; tests plug in
// stubs.
type Services interface {
	// ExtractParameters reads the problem data symbols out of the
	// description: name, shape, and definition each.
	ExtractParameters(ctx context.Context, description string, sc StageContext) (map[string]model.Parameter, error)

	// ExtractObjective identifies the optimization target and its sense.
	ExtractObjective(ctx context.Context, description string,
		params map[string]model.Parameter, sc StageContext) (model.Objective, error)

	// ExtractConstraints lists the problem's constraints in natural
	// language, in the order they should be modeled.
	ExtractConstraints(ctx context.Context, description string,
		params map[string]model.Parameter, sc StageContext) ([]model.Constraint, error)

	// FormulateConstraints turns constraint descriptions into
	// mathematical formulations, inventing the decision variables they
	// need. Runs after parameter and constraint extraction.
	FormulateConstraints(ctx context.Context, description string,
		params map[string]model.Parameter, constraints []model.Constraint,
		sc StageContext) ([]model.Constraint, map[string]model.Variable, error)

	// FormulateObjective formulates the objective against the variables
	// the constraints introduced. Runs after constraint formulation.
	FormulateObjective(ctx context.Context, description string,
		params map[string]model.Parameter, vars map[string]model.Variable,
		objective model.Objective, sc StageContext) (model.Objective, error)

	// GenerateCode produces the solver code fragment for every
	// constraint and the objective.
	GenerateCode(ctx context.Context, state *model.ProblemState,
		sc StageContext) ([]model.Constraint, model.Objective, error)
}
