package pipeline

import (
	"context"
	"strings"
	"testing"
)

func TestCheckPythonFragment(t *testing.T) {
	tests := []struct {
		name     string
		fragment string
		wantErr  bool
	}{
		{
			name:     "single statement",
			fragment: "model.addConstr(x <= Cap)",
		},
		{
			name: "comprehension over two indices",
			fragment: "model.addConstrs(y[i, j] <= Cap[i] " +
				"for i in range(3) for j in range(4))",
		},
		{
			name:     "multi line fragment",
			fragment: "total = quicksum(x[i] for i in range(5))\nmodel.addConstr(total <= Limit)",
		},
		{
			name:     "unclosed paren",
			fragment: "model.addConstr(x <= Cap",
			wantErr:  true,
		},
		{
			name:     "stray operator",
			fragment: "model.addConstr(x <= <= Cap)",
			wantErr:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkPythonFragment(context.Background(), tt.fragment)
			if (err != nil) != tt.wantErr {
				t.Errorf("checkPythonFragment(%q) = %v, wantErr %v", tt.fragment, err, tt.wantErr)
			}
			if err != nil && !strings.Contains(err.Error(), "syntax error") {
				t.Errorf("error %q does not describe a syntax error", err.Error())
			}
		})
	}
}
