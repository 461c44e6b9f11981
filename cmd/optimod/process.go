package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"optimod/internal/analyze"
	"optimod/internal/batch"
	"optimod/internal/checkpoint"
	"optimod/internal/llm"
	"optimod/internal/logging"
	"optimod/internal/model"
	"optimod/internal/pipeline"
	"optimod/internal/rag"
	"optimod/internal/repair"
	"optimod/internal/solver"
)

func newLLMClient(ctx context.Context) (*llm.GeminiClient, error) {
	if cfg.LLM.APIKey == "" {
		return nil, fmt.Errorf("no API key: set --api-key or OPTIMOD_API_KEY")
	}
	return llm.NewGeminiClient(ctx, llm.GeminiConfig{
		APIKey:         cfg.LLM.APIKey,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
	})
}

// buildProcessor assembles the per-problem pipeline shared by run and
// batch: stage runner, solver runner, and the execute-and-debug loop,
// all logging into the run directory's log file.
func buildProcessor(ctx context.Context) (batch.Processor, func(), error) {
	client, err := newLLMClient(ctx)
	if err != nil {
		return nil, nil, err
	}

	mode, err := rag.ParseMode(ragMode)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {}
	var retriever *rag.Retriever
	if mode != rag.ModeNone {
		store, err := rag.NewStore(cfg.RAG.StorePath)
		if err != nil {
			return nil, nil, err
		}
		cleanup = func() { store.Close() }
		retriever = rag.NewRetriever(store, client, cfg.RAG.TopK)
	}

	opts := pipeline.Options{
		Check:     errorCorrection,
		RAGMode:   mode,
		Retriever: retriever,
		UseLabels: useLabels,
		Resume:    resume,
	}
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	proc := batch.ProcessorFunc(func(ctx context.Context, problemDir, runDir string) (*repair.Result, error) {
		runLog, closeLog, err := logging.NewRunLogger(runDir, level)
		if err != nil {
			return nil, err
		}
		defer closeLog()

		store, err := checkpoint.NewStore(runDir)
		if err != nil {
			return nil, err
		}
		services := pipeline.NewModelServices(client, runLog)
		runner := pipeline.NewRunner(services, store, opts, runLog)
		state, err := runner.Run(ctx, problemDir)
		if err != nil {
			return nil, err
		}

		solverRunner := solver.NewRunner(solver.Config{
			PythonBinary:   cfg.Solver.PythonBinary,
			AttemptTimeout: cfg.GetAttemptTimeout(),
			MaxOutputBytes: cfg.Solver.MaxOutputBytes,
		}, runLog)
		repairer := pipeline.NewRepairer(client, runLog)
		loop := repair.NewLoop(solverRunner, repairer, store, repair.Budgets{
			RuntimeError: cfg.Repair.RuntimeErrorBudget,
			Timeout:      cfg.Repair.TimeoutBudget,
		}, runLog)
		return loop.Run(ctx, state)
	})
	return proc, cleanup, nil
}

// seedExemplars walks the dataset and stores one problem-level exemplar
// per problem that has a description and a finished run with a code
// checkpoint. The stored solution is the formulated model, not solver
// source, so retrieved context stays readable in prompts.
func seedExemplars(ctx context.Context, store *rag.Store, client *llm.GeminiClient, dataPath string) (int, error) {
	names, err := batch.ListProblems(dataPath)
	if err != nil {
		return 0, err
	}
	added := 0
	for _, name := range names {
		problemDir := filepath.Join(dataPath, name)
		description, err := model.LoadDescription(problemDir)
		if err != nil {
			logger.Debug("skipping problem without description", zap.String("problem", name))
			continue
		}
		state, err := loadFinalState(problemDir)
		if err != nil {
			logger.Debug("skipping problem without finished run",
				zap.String("problem", name), zap.Error(err))
			continue
		}
		embedding, err := client.Embed(ctx, description)
		if err != nil {
			return added, fmt.Errorf("embed problem %s: %w", name, err)
		}
		if err := store.Add(ctx, "problem", description, renderFormulation(state), embedding); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

func loadFinalState(problemDir string) (*model.ProblemState, error) {
	runDir := analyze.LatestRun(problemDir, "")
	if runDir == "" {
		return nil, fmt.Errorf("no run directory")
	}
	store, err := checkpoint.NewStore(runDir)
	if err != nil {
		return nil, err
	}
	return store.Load(checkpoint.LabelCode)
}

func renderFormulation(state *model.ProblemState) string {
	var b strings.Builder
	b.WriteString("Constraints:\n")
	for _, c := range state.Constraints {
		fmt.Fprintf(&b, "- %s\n  %s\n", c.Description, c.Formulation)
	}
	if state.Objective != nil {
		fmt.Fprintf(&b, "Objective (%s): %s\n", state.Objective.Sense, state.Objective.Formulation)
	}
	return b.String()
}
