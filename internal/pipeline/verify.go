package pipeline

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// checkPythonFragment parses a generated code fragment with the Python
// grammar and reports the first syntax error, if any. Fragments are
// top-level statement sequences, so they parse as a module directly.
func checkPythonFragment(ctx context.Context, fragment string) error {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())
	tree, err := parser.ParseCtx(ctx, nil, []byte(fragment))
	if err != nil {
		return fmt.Errorf("parse fragment: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if !root.HasError() {
		return nil
	}
	if node := firstErrorNode(root); node != nil {
		return fmt.Errorf("syntax error at line %d near %q",
			node.StartPoint().Row+1, snippet(fragment, node))
	}
	return fmt.Errorf("syntax error in fragment")
}

func firstErrorNode(node *sitter.Node) *sitter.Node {
	if node.IsError() || node.IsMissing() {
		return node
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if found := firstErrorNode(node.Child(i)); found != nil {
			return found
		}
	}
	return nil
}

func snippet(source string, node *sitter.Node) string {
	start, end := int(node.StartByte()), int(node.EndByte())
	if start >= len(source) {
		return ""
	}
	if end > len(source) {
		end = len(source)
	}
	text := source[start:end]
	if len(text) > 40 {
		text = text[:40] + "..."
	}
	return text
}
