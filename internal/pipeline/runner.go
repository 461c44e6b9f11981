package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"optimod/internal/checkpoint"
	"optimod/internal/model"
	"optimod/internal/rag"
	"optimod/internal/synth"
)

// Options configure one pipeline run.
type Options struct {
	// Check enables each stage's self-verification and local repair.
	Check bool
	// RAGMode selects retrieval augmentation; requires Retriever when
	// not ModeNone.
	RAGMode rag.Mode
	// Retriever supplies exemplar context for augmented stages.
	Retriever *rag.Retriever
	// UseLabels feeds ground-truth labels from the problem directory to
	// the stages when available.
	UseLabels bool
	// Resume skips stages whose checkpoint already exists in the run
	// directory and continues from the first missing one.
	Resume bool
}

// Runner sequences the transforms for one problem. Stages are strictly
// sequential; each loads the immediately preceding checkpoint, applies
// its transform, and saves its own checkpoint.
type Runner struct {
	services Services
	store    *checkpoint.Store
	opts     Options
	log      *zap.Logger
}

// NewRunner creates a stage runner writing checkpoints through store.
func NewRunner(services Services, store *checkpoint.Store, opts Options, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{services: services, store: store, opts: opts, log: log}
}

type stage struct {
	label string
	prev  string
	apply func(ctx context.Context, state *model.ProblemState, sc StageContext) (*model.ProblemState, error)
}

// Run drives the problem through all stages and returns the fully
// formulated state saved under the final code checkpoint.
func (r *Runner) Run(ctx context.Context, problemDir string) (*model.ProblemState, error) {
	labels := r.loadLabels(problemDir)

	if err := r.runParameterStage(ctx, problemDir, labels); err != nil {
		return nil, err
	}

	stages := []stage{
		{
			label: checkpoint.LabelObjective,
			prev:  checkpoint.LabelParams,
			apply: func(ctx context.Context, state *model.ProblemState, sc StageContext) (*model.ProblemState, error) {
				objective, err := r.services.ExtractObjective(ctx, state.Description, state.Parameters, sc)
				if err != nil {
					return nil, err
				}
				next := state.Clone()
				next.Objective = &objective
				return next, nil
			},
		},
		{
			label: checkpoint.LabelConstraints,
			prev:  checkpoint.LabelObjective,
			apply: func(ctx context.Context, state *model.ProblemState, sc StageContext) (*model.ProblemState, error) {
				constraints, err := r.services.ExtractConstraints(ctx, state.Description, state.Parameters, sc)
				if err != nil {
					return nil, err
				}
				next := state.Clone()
				next.Constraints = constraints
				return next, nil
			},
		},
		{
			label: checkpoint.LabelConstraintsModel,
			prev:  checkpoint.LabelConstraints,
			apply: func(ctx context.Context, state *model.ProblemState, sc StageContext) (*model.ProblemState, error) {
				constraints, vars, err := r.services.FormulateConstraints(
					ctx, state.Description, state.Parameters, state.Constraints, sc)
				if err != nil {
					return nil, err
				}
				next := state.Clone()
				next.Constraints = constraints
				next.Variables = vars
				return next, nil
			},
		},
		{
			label: checkpoint.LabelObjectiveModel,
			prev:  checkpoint.LabelConstraintsModel,
			apply: func(ctx context.Context, state *model.ProblemState, sc StageContext) (*model.ProblemState, error) {
				if state.Objective == nil {
					return nil, fmt.Errorf("objective formulation: no objective in state")
				}
				objective, err := r.services.FormulateObjective(
					ctx, state.Description, state.Parameters, state.Variables, *state.Objective, sc)
				if err != nil {
					return nil, err
				}
				next := state.Clone()
				next.Objective = &objective
				return next, nil
			},
		},
		{
			label: checkpoint.LabelCode,
			prev:  checkpoint.LabelObjectiveModel,
			apply: func(ctx context.Context, state *model.ProblemState, sc StageContext) (*model.ProblemState, error) {
				constraints, objective, err := r.services.GenerateCode(ctx, state, sc)
				if err != nil {
					return nil, err
				}
				next := state.Clone()
				next.Constraints = constraints
				next.Objective = &objective
				return next, nil
			},
		},
	}

	for _, st := range stages {
		if r.opts.Resume && r.store.Exists(st.label) {
			r.log.Info("stage checkpoint present, skipping", zap.String("stage", st.label))
			continue
		}
		state, err := r.store.Load(st.prev)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", st.label, err)
		}
		sc := StageContext{
			Check:      r.opts.Check,
			RAGContext: r.ragContext(ctx, st.label, state.Description),
			Labels:     labels,
		}
		r.log.Info("running stage", zap.String("stage", st.label))
		next, err := st.apply(ctx, state, sc)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", st.label, err)
		}
		if err := r.store.Save(next, st.label); err != nil {
			return nil, fmt.Errorf("stage %s: %w", st.label, err)
		}
		r.log.Info("stage complete", zap.String("stage", st.label))
	}

	return r.store.Load(checkpoint.LabelCode)
}

// runParameterStage builds the initial state: description, extracted or
// ground-truth parameters, and parameter values. It also writes the
// data payload file the synthesized code will read.
func (r *Runner) runParameterStage(ctx context.Context, problemDir string, labels *model.Labels) error {
	if r.opts.Resume && r.store.Exists(checkpoint.LabelParams) {
		r.log.Info("stage checkpoint present, skipping", zap.String("stage", checkpoint.LabelParams))
		return nil
	}

	description, err := model.LoadDescription(problemDir)
	if err != nil {
		return err
	}
	info, err := model.LoadProblemInfo(problemDir)
	if err != nil {
		return err
	}
	values, err := model.LoadDataValues(problemDir)
	if err != nil {
		return err
	}

	state := model.NewProblemState(description)
	if info == nil || len(info.Parameters) == 0 {
		sc := StageContext{
			Check:      r.opts.Check,
			RAGContext: r.ragContext(ctx, checkpoint.LabelParams, description),
			Labels:     labels,
		}
		r.log.Info("running stage", zap.String("stage", checkpoint.LabelParams))
		params, err := r.services.ExtractParameters(ctx, description, sc)
		if err != nil {
			return fmt.Errorf("stage %s: %w", checkpoint.LabelParams, err)
		}
		state.Parameters = params
	} else {
		r.log.Info("seeding parameters from ground truth",
			zap.Int("parameters", len(info.Parameters)))
	}
	state.ApplyGroundTruth(info, values)

	if err := r.store.Save(state, checkpoint.LabelParams); err != nil {
		return fmt.Errorf("stage %s: %w", checkpoint.LabelParams, err)
	}

	payload, err := synth.MarshalPayload(state.DataPayload())
	if err != nil {
		return err
	}
	dataPath := filepath.Join(r.store.Dir(), synth.DataPayloadFile)
	if err := os.WriteFile(dataPath, payload, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", synth.DataPayloadFile, err)
	}
	r.log.Info("stage complete", zap.String("stage", checkpoint.LabelParams))
	return nil
}

// ragContext retrieves exemplar context for a stage, best effort: a
// retrieval failure is logged with its reason and the stage proceeds
// unaugmented.
func (r *Runner) ragContext(ctx context.Context, stageLabel, description string) string {
	if r.opts.RAGMode == rag.ModeNone || r.opts.Retriever == nil {
		return ""
	}
	kind := "problem"
	if r.opts.RAGMode == rag.ModeConstraint {
		if stageLabel != checkpoint.LabelConstraintsModel && stageLabel != checkpoint.LabelObjectiveModel {
			return ""
		}
		kind = "constraint"
	}
	exemplars, err := r.opts.Retriever.Context(ctx, kind, description)
	if err != nil {
		r.log.Warn("retrieval augmentation unavailable",
			zap.String("stage", stageLabel), zap.String("reason", err.Error()))
		return ""
	}
	return exemplars
}

func (r *Runner) loadLabels(problemDir string) *model.Labels {
	if !r.opts.UseLabels {
		return nil
	}
	result := model.LoadLabels(problemDir)
	if result.Absent() {
		r.log.Info("labels absent", zap.String("reason", result.Reason))
		return nil
	}
	return result.Labels
}
