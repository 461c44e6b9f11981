package synth

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFreeSymbols(t *testing.T) {
	tests := []struct {
		name     string
		fragment string
		want     []string
	}{
		{
			name:     "declared symbols only",
			fragment: "model.addConstr(quicksum(Cost[i] * x[i] for i in range(N)) <= Budget)",
			want:     []string{"Budget", "Cost", "N", "x"},
		},
		{
			name:     "loop targets excluded",
			fragment: "model.addConstrs(y[i, j] <= Cap[i] for i in range(3) for j in range(4))",
			want:     []string{"Cap", "y"},
		},
		{
			name:     "tuple loop target excluded",
			fragment: "quicksum(w[i, j] for i, j in pairs)",
			want:     []string{"pairs", "w"},
		},
		{
			name:     "assignment targets excluded",
			fragment: "total = quicksum(x[i] for i in range(5))\nmodel.addConstr(total <= Limit)",
			want:     []string{"Limit", "x"},
		},
		{
			name:     "attribute access counts leading name only",
			fragment: "model.addConstr(x.sum() <= Budget)",
			want:     []string{"Budget", "x"},
		},
		{
			name:     "keyword arguments skipped",
			fragment: `z = model.addVar(vtype=GRB.BINARY, name="z", lb=Lower)`,
			want:     []string{"Lower"},
		},
		{
			name:     "equality comparison is not a kwarg",
			fragment: "model.addConstr(x == Target)",
			want:     []string{"Target", "x"},
		},
		{
			name:     "reserved names free",
			fragment: "model.setObjective(quicksum(abs(x[i]) for i in range(len(Cost))), GRB.MINIMIZE)",
			want:     []string{"Cost", "x"},
		},
		{
			name:     "duplicates reported once",
			fragment: "model.addConstr(x + x + x <= Budget + Budget)",
			want:     []string{"Budget", "x"},
		},
		{
			name:     "comment words ignored",
			fragment: "# Ensure capacity is respected\nmodel.addConstr(x <= Cap, name=\"capacity_limit\")",
			want:     []string{"Cap", "x"},
		},
		{
			name:     "string literal contents ignored",
			fragment: `model.addConstr(x <= Cap, name="respect the Budget")`,
			want:     []string{"Cap", "x"},
		},
		{
			name:     "fstring prefix and body ignored",
			fragment: `model.addConstr(x[i] <= Cap[i], name=f"cap_{i}")`,
			want:     []string{"Cap", "i", "x"},
		},
		{
			name:     "triple quoted string ignored",
			fragment: "note = \"\"\"uses Budget and Cost\"\"\"\nmodel.addConstr(x <= Cap)",
			want:     []string{"Cap", "x"},
		},
		{
			name:     "escaped quote stays inside string",
			fragment: `model.addConstr(x <= Cap, name="say \"hi\" there")`,
			want:     []string{"Cap", "x"},
		},
		{
			name:     "hash inside string is not a comment",
			fragment: "model.addConstr(x <= Cap, name=\"c #1\")\nmodel.addConstr(y >= Lo)",
			want:     []string{"Cap", "Lo", "x", "y"},
		},
		{
			name:     "empty fragment",
			fragment: "",
			want:     nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FreeSymbols(tt.fragment)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("FreeSymbols(%q) (-want +got):\n%s", tt.fragment, diff)
			}
		})
	}
}

func TestUnresolvedSymbolErrorMessage(t *testing.T) {
	err := &UnresolvedSymbolError{Symbol: "y", Fragment: "model.addConstr(y <= 5)"}
	if !strings.Contains(err.Error(), `"y"`) {
		t.Errorf("error message %q does not name the symbol", err.Error())
	}
}
