// Package model defines the problem state threaded through the modeling
// pipeline: the natural-language description of an optimization problem
// together with its parameters, variables, constraints, and objective as
// they are progressively filled in by the pipeline stages.
//
// A ProblemState is treated as a value between stages: each stage clones
// the state it receives, fills in its own fields, and hands the new value
// to the checkpoint store. Nothing outside a stage mutates a state that
// has already been checkpointed.
package model

import (
	"encoding/json"
	"fmt"
	"sort"
)

// VarType is the domain of a decision variable.
type VarType string

const (
	VarContinuous VarType = "continuous"
	VarInteger    VarType = "integer"
	VarBinary     VarType = "binary"
)

// Valid reports whether the variable type is one of the recognized domains.
func (t VarType) Valid() bool {
	switch t {
	case VarContinuous, VarInteger, VarBinary:
		return true
	}
	return false
}

// Sense is the optimization direction of the objective.
type Sense string

const (
	SenseMinimize Sense = "minimize"
	SenseMaximize Sense = "maximize"
)

// Parameter is a named problem datum with a shape and a human definition.
// Value holds the raw literal (number or nested array) when known; it is
// kept as raw JSON so integers stay integers and floats keep their
// written precision through checkpoints and the data payload.
type Parameter struct {
	Shape      []int           `json:"shape"`
	Definition string          `json:"definition"`
	Value      json.RawMessage `json:"value,omitempty"`
}

// Variable is a decision variable discovered during constraint formulation.
// An empty shape declares a scalar; otherwise an indexed family.
type Variable struct {
	Shape      []int   `json:"shape"`
	Type       VarType `json:"type"`
	Definition string  `json:"definition"`
}

// Constraint carries one constraint through its three representations:
// the natural-language description, the mathematical formulation, and the
// generated solver code fragment.
type Constraint struct {
	Description string `json:"description"`
	Formulation string `json:"formulation,omitempty"`
	Code        string `json:"code,omitempty"`
}

// Objective is the single optimization target of a problem.
type Objective struct {
	Description string `json:"description"`
	Formulation string `json:"formulation,omitempty"`
	Code        string `json:"code,omitempty"`
	Sense       Sense  `json:"sense,omitempty"`
}

// ProblemState is the full representation of one optimization problem as
// it passes through the pipeline. Description is set at creation and never
// mutated. Parameters are fixed (shape and definition) once the parameter
// stage completes; only Value may be attached later from ground truth.
// Constraints keep insertion order; code fragments are concatenated in
// that order at synthesis time.
type ProblemState struct {
	Description string               `json:"description"`
	Parameters  map[string]Parameter `json:"parameters,omitempty"`
	Variables   map[string]Variable  `json:"variables,omitempty"`
	Constraints []Constraint         `json:"constraints,omitempty"`
	Objective   *Objective           `json:"objective,omitempty"`
}

// NewProblemState creates a fresh state for the given description.
func NewProblemState(description string) *ProblemState {
	return &ProblemState{
		Description: description,
		Parameters:  make(map[string]Parameter),
		Variables:   make(map[string]Variable),
	}
}

// Clone returns a deep copy. Stages work on clones so a checkpointed
// state is never aliased by later mutation.
func (s *ProblemState) Clone() *ProblemState {
	out := &ProblemState{
		Description: s.Description,
		Parameters:  make(map[string]Parameter, len(s.Parameters)),
		Variables:   make(map[string]Variable, len(s.Variables)),
	}
	for name, p := range s.Parameters {
		cp := p
		cp.Shape = append([]int(nil), p.Shape...)
		cp.Value = append(json.RawMessage(nil), p.Value...)
		out.Parameters[name] = cp
	}
	for name, v := range s.Variables {
		cv := v
		cv.Shape = append([]int(nil), v.Shape...)
		out.Variables[name] = cv
	}
	if len(s.Constraints) > 0 {
		out.Constraints = append([]Constraint(nil), s.Constraints...)
	}
	if s.Objective != nil {
		obj := *s.Objective
		out.Objective = &obj
	}
	return out
}

// ParameterNames returns parameter symbols in sorted order, for
// deterministic code generation.
func (s *ProblemState) ParameterNames() []string {
	names := make([]string, 0, len(s.Parameters))
	for name := range s.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// VariableNames returns variable symbols in sorted order.
func (s *ProblemState) VariableNames() []string {
	names := make([]string, 0, len(s.Variables))
	for name := range s.Variables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasSymbol reports whether name is a declared parameter or variable.
func (s *ProblemState) HasSymbol(name string) bool {
	if _, ok := s.Parameters[name]; ok {
		return true
	}
	_, ok := s.Variables[name]
	return ok
}

// DataPayload collects the parameter values that are known into the
// document the synthesized code reads at execution time. Parameters with
// no value yet are skipped.
func (s *ProblemState) DataPayload() map[string]json.RawMessage {
	data := make(map[string]json.RawMessage)
	for name, p := range s.Parameters {
		if len(p.Value) > 0 {
			data[name] = p.Value
		}
	}
	return data
}

// Validate checks the structural invariants a fully formulated state must
// satisfy before code synthesis: an objective with a direction, valid
// variable types, and non-negative shapes.
func (s *ProblemState) Validate() error {
	if s.Description == "" {
		return fmt.Errorf("state has no problem description")
	}
	if s.Objective == nil {
		return fmt.Errorf("state has no objective")
	}
	if s.Objective.Sense != SenseMinimize && s.Objective.Sense != SenseMaximize {
		return fmt.Errorf("objective has unknown sense %q", s.Objective.Sense)
	}
	for name, v := range s.Variables {
		if !v.Type.Valid() {
			return fmt.Errorf("variable %s has unknown type %q", name, v.Type)
		}
		for _, dim := range v.Shape {
			if dim <= 0 {
				return fmt.Errorf("variable %s has non-positive dimension %d", name, dim)
			}
		}
	}
	for name, p := range s.Parameters {
		for _, dim := range p.Shape {
			if dim <= 0 {
				return fmt.Errorf("parameter %s has non-positive dimension %d", name, dim)
			}
		}
	}
	return nil
}
