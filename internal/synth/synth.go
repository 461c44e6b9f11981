// Package synth renders a fully formulated problem state into solver
// source code plus the parameter data payload the code reads at runtime.
// Rendering is deterministic and makes no external calls: the same state
// always produces the same source, so a repair attempt that only swaps a
// fragment regenerates everything else byte-identical.
package synth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"optimod/internal/model"
)

// OutputFile is the canonical result file the generated code writes: a
// single numeric objective value on a recognized optimal status, or the
// solver status token otherwise. It is the sole contract the accuracy
// evaluator depends on.
const OutputFile = "output_solution.txt"

// SourceFile and DataPayloadFile are the artifacts written into the run
// directory before each execution attempt.
const (
	SourceFile      = "code.py"
	DataPayloadFile = "data.json"
)

type paramLine struct {
	Symbol     string
	Shape      string
	Definition string
}

type varLine struct {
	Symbol string
	Decl   string
}

type sourceFiller struct {
	Parameters  []paramLine
	Variables   []varLine
	Constraints []string
	Objective   string
	OutputFile  string
}

const sourceText = `import json

import gurobipy as gp
import numpy as np
from gurobipy import GRB, LinExpr, Model, quicksum

model = Model("OptimizationProblem")

with open("data.json", "r") as f:
    data = json.load(f)

### Parameters
{{range .Parameters}}{{.Symbol}} = data["{{.Symbol}}"]  # shape: {{.Shape}}, definition: {{.Definition}}
{{end}}
### Variables
{{range .Variables}}{{.Decl}}
{{end}}
### Constraints
{{range .Constraints}}{{.}}
{{end}}
### Objective
{{.Objective}}

model.optimize()

### Emit result
status_names = {
    GRB.INFEASIBLE: "INFEASIBLE",
    GRB.INF_OR_UNBD: "INF_OR_UNBD",
    GRB.UNBOUNDED: "UNBOUNDED",
    GRB.TIME_LIMIT: "TIME_LIMIT",
    GRB.INTERRUPTED: "INTERRUPTED",
    GRB.NUMERIC: "NUMERIC",
}
if model.status == GRB.OPTIMAL:
    with open("{{.OutputFile}}", "w") as f:
        f.write(str(model.objVal))
    print("Optimal Objective Value:", model.objVal)
else:
    token = status_names.get(model.status, "STATUS_" + str(model.status))
    with open("{{.OutputFile}}", "w") as f:
        f.write(token)
    print("Solver status:", token)
`

var sourceTemplate = template.Must(template.New("source").Parse(sourceText))

// Synthesize renders the state into solver source text and the JSON data
// payload. Every fragment's free symbols are resolved against the state
// first; an unresolved reference fails with an UnresolvedSymbolError
// identifying the symbol and the offending fragment so the defect is
// diagnosable without running the solver.
func Synthesize(state *model.ProblemState) (source string, payload []byte, err error) {
	if err := state.Validate(); err != nil {
		return "", nil, err
	}
	if err := checkFragments(state); err != nil {
		return "", nil, err
	}

	filler := sourceFiller{OutputFile: OutputFile}
	for _, name := range state.ParameterNames() {
		p := state.Parameters[name]
		filler.Parameters = append(filler.Parameters, paramLine{
			Symbol:     name,
			Shape:      shapeString(p.Shape),
			Definition: strings.ReplaceAll(p.Definition, "\n", " "),
		})
	}
	for _, name := range state.VariableNames() {
		filler.Variables = append(filler.Variables, varLine{
			Symbol: name,
			Decl:   variableDecl(name, state.Variables[name]),
		})
	}
	for _, c := range state.Constraints {
		filler.Constraints = append(filler.Constraints, strings.TrimRight(c.Code, "\n"))
	}
	filler.Objective = strings.TrimRight(state.Objective.Code, "\n")

	var buf bytes.Buffer
	if err := sourceTemplate.Execute(&buf, filler); err != nil {
		return "", nil, fmt.Errorf("render source: %w", err)
	}

	payload, err = MarshalPayload(state.DataPayload())
	if err != nil {
		return "", nil, err
	}
	return buf.String(), payload, nil
}

// checkFragments verifies every constraint and objective fragment only
// references declared symbols, and that fragments exist at all.
func checkFragments(state *model.ProblemState) error {
	for i, c := range state.Constraints {
		if strings.TrimSpace(c.Code) == "" {
			return fmt.Errorf("constraint %d (%s) has no code fragment", i, truncate(c.Description, 60))
		}
		if err := resolveFragment(state, c.Code); err != nil {
			return err
		}
	}
	if strings.TrimSpace(state.Objective.Code) == "" {
		return fmt.Errorf("objective has no code fragment")
	}
	return resolveFragment(state, state.Objective.Code)
}

func resolveFragment(state *model.ProblemState, fragment string) error {
	for _, symbol := range FreeSymbols(fragment) {
		if !state.HasSymbol(symbol) {
			return &UnresolvedSymbolError{Symbol: symbol, Fragment: fragment}
		}
	}
	return nil
}

// variableDecl renders one gurobipy variable declaration. A variable with
// an empty shape is a scalar addVar; otherwise an addVars family indexed
// by the shape dimensions.
func variableDecl(symbol string, v model.Variable) string {
	vtype := strings.ToUpper(string(v.Type))
	if len(v.Shape) == 0 {
		return fmt.Sprintf("%s = model.addVar(vtype=GRB.%s, name=%q)", symbol, vtype, symbol)
	}
	dims := make([]string, len(v.Shape))
	for i, d := range v.Shape {
		dims[i] = fmt.Sprintf("%d", d)
	}
	return fmt.Sprintf("%s = model.addVars(%s, vtype=GRB.%s, name=%q)",
		symbol, strings.Join(dims, ", "), vtype, symbol)
}

func shapeString(shape []int) string {
	if len(shape) == 0 {
		return "[]"
	}
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = fmt.Sprintf("%d", d)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// MarshalPayload encodes a data payload with sorted keys so the file is
// stable across attempts. The parameter stage and the repair loop write
// the same document shape.
func MarshalPayload(data map[string]json.RawMessage) ([]byte, error) {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteString("{")
	for i, k := range keys {
		if i > 0 {
			buf.WriteString(",")
		}
		buf.WriteString("\n    ")
		keyJSON, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(keyJSON)
		buf.WriteString(": ")
		buf.Write(bytes.TrimSpace(data[k]))
	}
	if len(keys) > 0 {
		buf.WriteString("\n")
	}
	buf.WriteString("}")
	return buf.Bytes(), nil
}
