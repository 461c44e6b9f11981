package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"optimod/internal/model"
	"optimod/internal/repair"
	"optimod/internal/solver"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func makeDataset(t *testing.T, problems ...string) string {
	t.Helper()
	dataPath := t.TempDir()
	for _, name := range problems {
		dir := filepath.Join(dataPath, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		description := "Problem " + name
		if err := os.WriteFile(filepath.Join(dir, model.DescriptionFile), []byte(description), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dataPath
}

func TestListProblems(t *testing.T) {
	dataPath := makeDataset(t, "3", "17", "42")
	// A directory without problem files is not a problem.
	if err := os.MkdirAll(filepath.Join(dataPath, "scratch"), 0o755); err != nil {
		t.Fatal(err)
	}

	names, err := ListProblems(dataPath)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"17", "3", "42"}
	if len(names) != len(want) {
		t.Fatalf("names = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %s, want %s", i, names[i], want[i])
		}
	}
}

func TestBatchIsolatesFailures(t *testing.T) {
	dataPath := makeDataset(t, "1", "2", "3", "4", "5")

	var mu sync.Mutex
	processed := map[string]bool{}
	proc := ProcessorFunc(func(ctx context.Context, problemDir, runDir string) (*repair.Result, error) {
		name := filepath.Base(problemDir)
		mu.Lock()
		processed[name] = true
		mu.Unlock()
		switch name {
		case "2":
			return nil, errors.New("corrupt problem data")
		case "4":
			panic("worker blew up")
		case "5":
			return &repair.Result{Terminal: repair.TerminalInfeasible, Outcome: solver.OutcomeInfeasible, Status: "INFEASIBLE", Attempts: 1}, nil
		default:
			return &repair.Result{Terminal: repair.TerminalSuccess, Outcome: solver.OutcomeSuccess, Objective: 7, Attempts: 1}, nil
		}
	})

	orch := NewOrchestrator(proc, Options{Workers: 2, ModelName: "test-model"})
	summary, err := orch.Run(context.Background(), dataPath, nil)
	if err != nil {
		t.Fatal(err)
	}

	if len(processed) != 5 {
		t.Errorf("processed %d problems, want all 5 despite failures", len(processed))
	}
	if summary.Succeeded != 2 || summary.Infeasible != 1 || summary.Errored != 2 {
		t.Errorf("summary = %+v", summary)
	}

	byName := map[string]ProblemResult{}
	for _, r := range summary.Results {
		byName[r.Problem] = r
	}
	if byName["2"].Err == nil {
		t.Error("problem 2 error not recorded")
	}
	if byName["4"].Err == nil || !strings.Contains(byName["4"].Err.Error(), "panic") {
		t.Errorf("problem 4 panic not converted to error: %v", byName["4"].Err)
	}
	if byName["1"].Objective != 7 {
		t.Errorf("problem 1 result = %+v", byName["1"])
	}
}

func TestBatchRespectsProblemList(t *testing.T) {
	dataPath := makeDataset(t, "1", "2", "3")

	var mu sync.Mutex
	var seen []string
	proc := ProcessorFunc(func(ctx context.Context, problemDir, runDir string) (*repair.Result, error) {
		mu.Lock()
		seen = append(seen, filepath.Base(problemDir))
		mu.Unlock()
		return &repair.Result{Terminal: repair.TerminalSuccess, Outcome: solver.OutcomeSuccess, Attempts: 1}, nil
	})

	orch := NewOrchestrator(proc, Options{Workers: 4})
	summary, err := orch.Run(context.Background(), dataPath, []string{"1", "3"})
	if err != nil {
		t.Fatal(err)
	}
	if len(summary.Results) != 2 || len(seen) != 2 {
		t.Errorf("results = %+v, seen = %v", summary.Results, seen)
	}
	for _, name := range seen {
		if name == "2" {
			t.Error("problem 2 processed despite explicit list")
		}
	}
}

func TestBatchCreatesIsolatedRunDirs(t *testing.T) {
	dataPath := makeDataset(t, "1", "2")

	var mu sync.Mutex
	runDirs := map[string]string{}
	proc := ProcessorFunc(func(ctx context.Context, problemDir, runDir string) (*repair.Result, error) {
		mu.Lock()
		runDirs[filepath.Base(problemDir)] = runDir
		mu.Unlock()
		return &repair.Result{Terminal: repair.TerminalSuccess, Outcome: solver.OutcomeSuccess, Attempts: 1}, nil
	})

	orch := NewOrchestrator(proc, Options{Workers: 2, ModelName: "m1"})
	if _, err := orch.Run(context.Background(), dataPath, nil); err != nil {
		t.Fatal(err)
	}

	if runDirs["1"] == runDirs["2"] {
		t.Error("problems shared a run directory")
	}
	for name, dir := range runDirs {
		if !strings.HasPrefix(filepath.Base(dir), "run_"+name+"_m1_") {
			t.Errorf("run dir %q does not follow the naming scheme", dir)
		}
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("run dir %q not created: %v", dir, err)
		}
	}
}

func TestUUIDNamerUnique(t *testing.T) {
	a := UUIDNamer("7", "model-x")
	b := UUIDNamer("7", "model-x")
	if a == b {
		t.Errorf("two runs named identically: %s", a)
	}
	if !strings.HasPrefix(a, "run_7_model-x_") {
		t.Errorf("name = %q", a)
	}
}

func TestBatchStableNamerForReruns(t *testing.T) {
	dataPath := makeDataset(t, "9")
	proc := ProcessorFunc(func(ctx context.Context, problemDir, runDir string) (*repair.Result, error) {
		return &repair.Result{Terminal: repair.TerminalSuccess, Outcome: solver.OutcomeSuccess, Attempts: 1}, nil
	})
	namer := func(problem, modelName string) string {
		return fmt.Sprintf("run_%s_%s_fixed", problem, modelName)
	}

	orch := NewOrchestrator(proc, Options{Workers: 1, ModelName: "m", Namer: namer})
	summary, err := orch.Run(context.Background(), dataPath, nil)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Results[0].RunDir != filepath.Join(dataPath, "9", "run_9_m_fixed") {
		t.Errorf("run dir = %q", summary.Results[0].RunDir)
	}
}
