package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Problem directory layout. Each problem lives in its own directory:
//
//	description.txt    natural-language problem statement
//	problem_info.json  ground-truth parameter shapes and definitions (optional)
//	data.json          ground-truth parameter values (optional)
//	solution.json      ground-truth objective for accuracy evaluation (optional)
//	labels.json        stage-level labels for benchmarking (optional)
//	run_*/             one directory per pipeline run
const (
	DescriptionFile = "description.txt"
	ProblemInfoFile = "problem_info.json"
	DataFile        = "data.json"
	SolutionFile    = "solution.json"
	LabelsFile      = "labels.json"
)

// ProblemInfo is the ground-truth parameter table shipped with labeled
// problems. When present it overrides extracted shapes and definitions at
// synthesis time.
type ProblemInfo struct {
	Description string                   `json:"description,omitempty"`
	Parameters  map[string]InfoParameter `json:"parameters,omitempty"`
}

// InfoParameter mirrors Parameter but uses the dataset's field naming.
type InfoParameter struct {
	Shape       []int  `json:"shape"`
	Description string `json:"description"`
}

// Labels holds the ground-truth annotations a benchmarking run may feed
// to the stages.
type Labels struct {
	Objective   *float64 `json:"objective,omitempty"`
	Constraints []string `json:"constraints,omitempty"`
}

// LabelResult is the outcome of a best-effort label load. Labels is nil
// when no labels are available and Reason says why, so callers decide
// whether absence matters instead of silently treating nil as "no labels".
type LabelResult struct {
	Labels *Labels
	Reason string
}

// Absent reports whether labels could not be loaded.
func (r LabelResult) Absent() bool { return r.Labels == nil }

// LoadDescription reads the problem statement from the problem directory.
// It falls back to the description field of problem_info.json when
// description.txt is missing.
func LoadDescription(problemDir string) (string, error) {
	raw, err := os.ReadFile(filepath.Join(problemDir, DescriptionFile))
	if err == nil {
		desc := strings.TrimSpace(string(raw))
		if desc == "" {
			return "", fmt.Errorf("problem %s: empty description", problemDir)
		}
		return desc, nil
	}
	info, infoErr := LoadProblemInfo(problemDir)
	if infoErr == nil && info != nil && strings.TrimSpace(info.Description) != "" {
		return strings.TrimSpace(info.Description), nil
	}
	return "", fmt.Errorf("problem %s: no description: %w", problemDir, err)
}

// LoadProblemInfo reads problem_info.json. A missing file is not an
// error; it returns (nil, nil) so the caller proceeds with extraction.
func LoadProblemInfo(problemDir string) (*ProblemInfo, error) {
	raw, err := os.ReadFile(filepath.Join(problemDir, ProblemInfoFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var info ProblemInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("problem %s: malformed %s: %w", problemDir, ProblemInfoFile, err)
	}
	return &info, nil
}

// LoadDataValues reads the ground-truth parameter values from data.json.
// Values are kept raw so they pass through to the synthesized code's data
// payload unmodified. A missing file returns an empty map.
func LoadDataValues(problemDir string) (map[string]json.RawMessage, error) {
	raw, err := os.ReadFile(filepath.Join(problemDir, DataFile))
	if os.IsNotExist(err) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, err
	}
	values := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("problem %s: malformed %s: %w", problemDir, DataFile, err)
	}
	return values, nil
}

// LoadLabels reads labels.json best-effort. It never fails: absence and
// corruption both yield an absent result with the reason recorded.
func LoadLabels(problemDir string) LabelResult {
	raw, err := os.ReadFile(filepath.Join(problemDir, LabelsFile))
	if os.IsNotExist(err) {
		return LabelResult{Reason: "no labels file"}
	}
	if err != nil {
		return LabelResult{Reason: fmt.Sprintf("labels unreadable: %v", err)}
	}
	var labels Labels
	if err := json.Unmarshal(raw, &labels); err != nil {
		return LabelResult{Reason: fmt.Sprintf("labels malformed: %v", err)}
	}
	return LabelResult{Labels: &labels}
}

// ApplyGroundTruth attaches ground-truth values and overrides extracted
// parameter shapes/definitions from problem_info.json. Parameters the
// extraction missed but the ground truth knows are added; extracted
// parameters are never removed.
func (s *ProblemState) ApplyGroundTruth(info *ProblemInfo, values map[string]json.RawMessage) {
	if info != nil {
		for name, ip := range info.Parameters {
			p := s.Parameters[name]
			p.Shape = append([]int(nil), ip.Shape...)
			if ip.Description != "" {
				p.Definition = ip.Description
			}
			s.Parameters[name] = p
		}
	}
	for name, value := range values {
		p, ok := s.Parameters[name]
		if !ok {
			continue
		}
		p.Value = append(json.RawMessage(nil), value...)
		s.Parameters[name] = p
	}
}
