package synth

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// UnresolvedSymbolError reports a code fragment that references a symbol
// absent from the state's parameter and variable tables. It is raised
// before any solver invocation; a fragment that would crash at runtime
// with a NameError is rejected here instead.
type UnresolvedSymbolError struct {
	Symbol   string
	Fragment string
}

func (e *UnresolvedSymbolError) Error() string {
	return fmt.Sprintf("unresolved symbol %q in fragment: %s", e.Symbol, truncate(e.Fragment, 120))
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var identifierRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// stringPrefixRe matches the literal prefix letters of a Python string
// (f"...", rb'...') so they are blanked along with the literal body.
var stringPrefixRe = regexp.MustCompile(`[rbufRBUF]{1,2}$`)

// stripLiterals blanks out comments and string literals, keeping byte
// offsets intact so the regex scans see only code. Words inside a
// comment or a name="..." argument are not symbol references. F-string
// interpolations are blanked too; a name used only inside one surfaces
// at runtime and goes through the repair loop instead.
func stripLiterals(fragment string) string {
	out := []byte(fragment)
	n := len(fragment)
	for i := 0; i < n; {
		c := fragment[i]
		if c == '#' {
			for i < n && fragment[i] != '\n' {
				out[i] = ' '
				i++
			}
			continue
		}
		if c != '\'' && c != '"' {
			i++
			continue
		}
		start := i
		if m := stringPrefixRe.FindStringIndex(fragment[:i]); m != nil {
			if m[0] == 0 || !isIdentByte(fragment[m[0]-1]) {
				start = m[0]
			}
		}
		quote := c
		width := 1
		if i+2 < n && fragment[i+1] == quote && fragment[i+2] == quote {
			width = 3
		}
		j := i + width
		for j < n {
			if fragment[j] == '\\' && width == 1 {
				j += 2
				continue
			}
			if fragment[j] == quote &&
				(width == 1 || strings.HasPrefix(fragment[j:], strings.Repeat(string(quote), 3))) {
				j += width
				break
			}
			j++
		}
		if j > n {
			j = n
		}
		for k := start; k < j; k++ {
			out[k] = ' '
		}
		i = j
	}
	return string(out)
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z'
}

// forTargetRe captures loop/comprehension targets: "for i in", "for i, j in".
var forTargetRe = regexp.MustCompile(`\bfor\s+([A-Za-z_][A-Za-z0-9_]*(?:\s*,\s*[A-Za-z_][A-Za-z0-9_]*)*)\s+in\b`)

// assignTargetRe captures simple assignments at the start of a line.
var assignTargetRe = regexp.MustCompile(`(?m)^\s*([A-Za-z_][A-Za-z0-9_]*)\s*=[^=]`)

// pythonReserved covers keywords, common builtins, and the solver API
// surface the generated preamble imports. Fragments may reference any of
// these freely.
var pythonReserved = map[string]bool{
	// keywords
	"and": true, "as": true, "assert": true, "break": true, "class": true,
	"continue": true, "def": true, "del": true, "elif": true, "else": true,
	"except": true, "finally": true, "for": true, "from": true, "global": true,
	"if": true, "import": true, "in": true, "is": true, "lambda": true,
	"nonlocal": true, "not": true, "or": true, "pass": true, "raise": true,
	"return": true, "try": true, "while": true, "with": true, "yield": true,
	"True": true, "False": true, "None": true,
	// builtins the fragments lean on
	"abs": true, "all": true, "any": true, "enumerate": true, "float": true,
	"int": true, "len": true, "list": true, "max": true, "min": true,
	"print": true, "range": true, "round": true, "set": true, "sorted": true,
	"str": true, "sum": true, "tuple": true, "zip": true, "dict": true,
	// preamble bindings
	"model": true, "data": true, "np": true, "json": true, "gp": true,
	"GRB": true, "quicksum": true, "Model": true, "LinExpr": true,
}

// FreeSymbols extracts the free identifiers of a code fragment: every
// identifier that is not reserved, not a loop target, and not assigned
// within the fragment itself. Comments and string literals are ignored.
// Attribute accesses (x.lb) only count the leading name.
func FreeSymbols(fragment string) []string {
	fragment = stripLiterals(fragment)
	local := make(map[string]bool)
	for _, match := range forTargetRe.FindAllStringSubmatch(fragment, -1) {
		for _, target := range strings.Split(match[1], ",") {
			local[strings.TrimSpace(target)] = true
		}
	}
	for _, match := range assignTargetRe.FindAllStringSubmatch(fragment, -1) {
		local[match[1]] = true
	}

	seen := make(map[string]bool)
	var free []string
	for _, loc := range identifierRe.FindAllStringIndex(fragment, -1) {
		name := fragment[loc[0]:loc[1]]
		// Skip attribute names: identifier immediately preceded by a dot.
		if loc[0] > 0 && fragment[loc[0]-1] == '.' {
			continue
		}
		// Skip keyword arguments: identifier immediately followed by '='
		// inside a call, e.g. vtype=GRB.BINARY, name="x".
		rest := fragment[loc[1]:]
		trimmed := strings.TrimLeft(rest, " ")
		if strings.HasPrefix(trimmed, "=") && !strings.HasPrefix(trimmed, "==") {
			continue
		}
		if pythonReserved[name] || local[name] || seen[name] {
			continue
		}
		seen[name] = true
		free = append(free, name)
	}
	sort.Strings(free)
	return free
}
