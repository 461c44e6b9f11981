// optimod converts natural-language optimization problems into
// executable solver models: run one problem, batch a dataset, seed the
// exemplar store, or score finished runs against ground truth.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"optimod/internal/analyze"
	"optimod/internal/batch"
	"optimod/internal/config"
	"optimod/internal/logging"
	"optimod/internal/rag"
	"optimod/internal/repair"
)

var (
	// Global flags
	verbose    bool
	configPath string
	modelName  string
	apiKey     string

	// Per-command flags
	dataPath        string
	problems        []string
	numWorkers      int
	ragMode         string
	errorCorrection bool
	useLabels       bool
	resume          bool
	extractFallback bool

	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "optimod",
	Short: "optimod - natural language to optimization model pipeline",
	Long: `optimod drives a staged pipeline from a natural-language problem
statement to executable solver code: parameter extraction, objective and
constraint identification, mathematical formulation, code synthesis, and
an execute-and-debug loop against the solver.

Every stage checkpoints its state into the run directory, so interrupted
runs resume from the last completed stage.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if modelName != "" {
			cfg.LLM.Model = modelName
		}
		if apiKey != "" {
			cfg.LLM.APIKey = apiKey
		}
		if numWorkers > 0 {
			cfg.Batch.Workers = numWorkers
		}
		logger, err = logging.NewProcessLogger(verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var runCmd = &cobra.Command{
	Use:   "run [problem-dir]",
	Short: "Run the full pipeline for a single problem directory",
	Long: `Processes one problem through every stage and the execute-and-debug
loop. A fresh run directory is created inside the problem directory;
all checkpoints, synthesized code, and solver output land there.

Example:
  optimod run dataset/ComplexLP/17 --rag-mode problem`,
	Args: cobra.ExactArgs(1),
	RunE: runProblem,
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run the pipeline across a dataset with a worker pool",
	Long: `Processes every problem under --data-path concurrently, bounded by
--num-workers. A single problem failing or panicking never aborts the
batch; per-problem outcomes are reported at the end and the process
exits zero whenever orchestration itself succeeded.

Example:
  optimod batch --data-path dataset/ComplexLP --num-workers 8
  optimod batch --data-path dataset/ComplexLP --problems 3,17,42`,
	RunE: runBatch,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Score finished runs against ground-truth objectives",
	Long: `Walks every problem under --data-path, finds the latest run for the
selected model, and compares the produced objective against
solution.json. Problems without a solution file count as expected
infeasible.

With --extract-fallback, runs whose canonical output file is missing or
unparseable get a second chance: the model extracts an objective from
the raw solver output.`,
	RunE: runAnalyze,
}

var ragSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the exemplar store from solved problems",
	Long: `Embeds each problem description under --data-path together with the
formulation from its latest successful run and stores the pair in the
exemplar database for retrieval-augmented runs.`,
	RunE: runRAGSeed,
}

var ragCmd = &cobra.Command{
	Use:   "rag",
	Short: "Manage the retrieval-augmentation exemplar store",
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (YAML)")
	rootCmd.PersistentFlags().StringVar(&modelName, "model", "", "Model to route LLM calls to")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key (or set OPTIMOD_API_KEY)")

	for _, cmd := range []*cobra.Command{runCmd, batchCmd} {
		cmd.Flags().StringVar(&ragMode, "rag-mode", "none", "Retrieval augmentation: none, problem, or constraint")
		cmd.Flags().BoolVar(&errorCorrection, "error-correction", true, "Enable per-stage self-checking")
		cmd.Flags().BoolVar(&useLabels, "labels", false, "Feed ground-truth labels to stages when present")
	}
	runCmd.Flags().BoolVar(&resume, "resume", false, "Resume from the last checkpoint in an existing run directory")

	batchCmd.Flags().StringVar(&dataPath, "data-path", "", "Dataset directory of problem folders (required)")
	batchCmd.Flags().StringSliceVar(&problems, "problems", nil, "Specific problem names to run (default: all)")
	batchCmd.Flags().IntVar(&numWorkers, "num-workers", 0, "Concurrent problem workers")
	batchCmd.MarkFlagRequired("data-path")

	analyzeCmd.Flags().StringVar(&dataPath, "data-path", "", "Dataset directory of problem folders (required)")
	analyzeCmd.Flags().BoolVar(&extractFallback, "extract-fallback", false, "Extract objectives from raw solver output when the canonical file is missing")
	analyzeCmd.MarkFlagRequired("data-path")

	ragSeedCmd.Flags().StringVar(&dataPath, "data-path", "", "Dataset directory of problem folders (required)")
	ragSeedCmd.MarkFlagRequired("data-path")
	ragCmd.AddCommand(ragSeedCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(ragCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// signalContext cancels on SIGINT/SIGTERM so in-flight solver processes
// get killed and partial checkpoints stay loadable.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// resolveRunDir picks the run directory for a single-problem run. With
// --resume the most recent run directory for the configured model is
// reused, so the stage checkpoints inside it short-circuit the stages
// that already finished. Otherwise a fresh directory is created.
func resolveRunDir(problemDir string) (string, error) {
	if resume {
		if dir := analyze.LatestRun(problemDir, cfg.LLM.Model); dir != "" {
			return dir, nil
		}
	}
	runDir := filepath.Join(problemDir, batch.UUIDNamer(filepath.Base(problemDir), cfg.LLM.Model))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("create run dir: %w", err)
	}
	return runDir, nil
}

func runProblem(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	proc, cleanup, err := buildProcessor(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	problemDir := filepath.Clean(args[0])
	runDir, err := resolveRunDir(problemDir)
	if err != nil {
		return err
	}
	logger.Info("starting run",
		zap.String("problem", problemDir),
		zap.String("run_dir", runDir),
		zap.String("model", cfg.LLM.Model))

	result, err := proc.Process(ctx, problemDir, runDir)
	if err != nil {
		return err
	}
	switch result.Terminal {
	case repair.TerminalSuccess:
		fmt.Printf("%s after %d attempt(s): objective %g\n", result.Terminal, result.Attempts, result.Objective)
	case repair.TerminalInfeasible:
		fmt.Printf("%s after %d attempt(s): %s\n", result.Terminal, result.Attempts, result.Status)
	default:
		fmt.Printf("%s after %d attempt(s): last failure %s\n", result.Terminal, result.Attempts, result.Outcome)
	}
	if budgetErr := result.BudgetError(); budgetErr != nil {
		return budgetErr
	}
	return nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	proc, cleanup, err := buildProcessor(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	orch := batch.NewOrchestrator(proc, batch.Options{
		Workers:   cfg.Batch.Workers,
		ModelName: cfg.LLM.Model,
		Log:       logger,
	})
	summary, err := orch.Run(ctx, dataPath, problems)
	if err != nil {
		return err
	}
	for _, r := range summary.Results {
		switch {
		case r.Err != nil:
			fmt.Printf("%-15s ERROR: %v\n", r.Problem, r.Err)
		case r.Status != "":
			fmt.Printf("%-15s %s (%s, %d attempts)\n", r.Problem, r.Terminal, r.Status, r.Attempts)
		default:
			fmt.Printf("%-15s %s (objective %g, %d attempts)\n", r.Problem, r.Terminal, r.Objective, r.Attempts)
		}
	}
	fmt.Printf("\n%d succeeded, %d infeasible, %d failed, %d errored of %d problems\n",
		summary.Succeeded, summary.Infeasible, summary.Failed, summary.Errored, len(summary.Results))
	return nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	analyzer := analyze.New(nil, logger)
	if extractFallback {
		client, err := newLLMClient(ctx)
		if err != nil {
			return err
		}
		analyzer = analyze.New(client, logger)
	}
	report, err := analyzer.Analyze(ctx, dataPath, cfg.LLM.Model)
	if err != nil {
		return err
	}
	fmt.Print(analyze.Render(report))
	return nil
}

func runRAGSeed(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	client, err := newLLMClient(ctx)
	if err != nil {
		return err
	}
	store, err := rag.NewStore(cfg.RAG.StorePath)
	if err != nil {
		return err
	}
	defer store.Close()

	added, err := seedExemplars(ctx, store, client, dataPath)
	if err != nil {
		return err
	}
	fmt.Printf("seeded %d exemplar(s) into %s\n", added, cfg.RAG.StorePath)
	return nil
}
