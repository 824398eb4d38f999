package validator

import (
	"context"
	"errors"
	"fmt"
	"go/format"
	"strings"
	"unicode"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/fyrsmithlabs/cogflow/internal/backend"
)

// ErrEmptyArtifact is reported by the syntax layer for blank code.
var ErrEmptyArtifact = errors.New("artifact has no code")

// SyntaxLayer requires a parse tree with no ERROR or MISSING nodes and a
// package clause.
type SyntaxLayer struct{}

func (SyntaxLayer) Name() string    { return LayerSyntax }
func (SyntaxLayer) Mandatory() bool { return true }

func (SyntaxLayer) Check(ctx context.Context, art backend.Artifact, _ []string) error {
	if strings.TrimSpace(art.Code) == "" {
		return ErrEmptyArtifact
	}
	src := []byte(art.Code)
	tree, err := parseGo(ctx, src)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if errs := syntaxErrors(root, src); len(errs) > 0 {
		return fmt.Errorf("syntax errors: %s", strings.Join(errs, "; "))
	}
	if !hasPackageClause(root) {
		return errors.New("missing package clause")
	}
	return nil
}

func hasPackageClause(root *sitter.Node) bool {
	for i := 0; i < int(root.NamedChildCount()); i++ {
		if root.NamedChild(i).Type() == "package_clause" {
			return true
		}
	}
	return false
}

// ContractLayer requires every contract signature to be declared with
// matching parameter and result types. Parameter names are free.
type ContractLayer struct{}

func (ContractLayer) Name() string    { return LayerContract }
func (ContractLayer) Mandatory() bool { return true }

func (ContractLayer) Check(ctx context.Context, art backend.Artifact, contract []string) error {
	if len(contract) == 0 {
		return nil
	}
	src := []byte(art.Code)
	tree, err := parseGo(ctx, src)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	defer tree.Close()

	declared := make(map[string]signature)
	for _, s := range declaredSignatures(tree.RootNode(), src) {
		declared[s.key()] = s
	}

	var problems []string
	for _, line := range contract {
		want, ok := parseContract(ctx, line)
		if !ok {
			// unparseable contract lines are matched by name only
			name := contractName(line)
			if name == "" || !hasName(declared, name) {
				problems = append(problems, fmt.Sprintf("missing %q", strings.TrimSpace(line)))
			}
			continue
		}
		got, ok := declared[want.key()]
		switch {
		case !ok:
			problems = append(problems, fmt.Sprintf("missing %s", want))
		case !got.equal(want):
			problems = append(problems, fmt.Sprintf("line %d declares %s, want %s", got.Line, got, want))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("contract not satisfied: %s", strings.Join(problems, "; "))
	}
	return nil
}

func contractName(line string) string {
	line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "func"))
	if strings.HasPrefix(line, "(") {
		if i := strings.IndexByte(line, ')'); i >= 0 {
			line = strings.TrimSpace(line[i+1:])
		}
	}
	end := strings.IndexFunc(line, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' })
	if end < 0 {
		return line
	}
	return line[:end]
}

func hasName(declared map[string]signature, name string) bool {
	for _, s := range declared {
		if s.Name == name {
			return true
		}
	}
	return false
}

const maxFuncLines = 120

// LintLayer is advisory. It checks gofmt formatting, doc comments on
// exported functions, and function length.
type LintLayer struct{}

func (LintLayer) Name() string    { return LayerLint }
func (LintLayer) Mandatory() bool { return false }

func (LintLayer) Check(ctx context.Context, art backend.Artifact, _ []string) error {
	src := []byte(art.Code)
	var issues []string

	formatted, err := format.Source(src)
	if err != nil {
		issues = append(issues, "gofmt: "+err.Error())
	} else if string(formatted) != art.Code {
		issues = append(issues, "file is not gofmt-formatted")
	}

	tree, err := parseGo(ctx, src)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	defer tree.Close()
	root := tree.RootNode()

	for i := 0; i < int(root.NamedChildCount()); i++ {
		n := root.NamedChild(i)
		if n.Type() != "function_declaration" && n.Type() != "method_declaration" {
			continue
		}
		name := n.ChildByFieldName("name")
		if name == nil {
			continue
		}
		fn := name.Content(src)
		start, end := int(n.StartPoint().Row), int(n.EndPoint().Row)
		if isExported(fn) && !hasDocComment(n) {
			issues = append(issues, fmt.Sprintf("line %d: exported %s has no doc comment", start+1, fn))
		}
		if end-start+1 > maxFuncLines {
			issues = append(issues, fmt.Sprintf("line %d: %s is %d lines long", start+1, fn, end-start+1))
		}
	}

	if len(issues) > 0 {
		return errors.New(strings.Join(issues, "; "))
	}
	return nil
}

func isExported(name string) bool {
	return name != "" && unicode.IsUpper([]rune(name)[0])
}

func hasDocComment(n *sitter.Node) bool {
	prev := n.PrevNamedSibling()
	return prev != nil && prev.Type() == "comment" && prev.EndPoint().Row+1 == n.StartPoint().Row
}

// dangerousImports and dangerousCalls are flagged by the security layer.
var (
	dangerousImports = map[string]string{
		"os/exec": "runs external processes",
		"unsafe":  "bypasses type safety",
		"syscall": "makes raw system calls",
		"plugin":  "loads code at runtime",
	}
	dangerousCalls = map[string]string{
		"os.RemoveAll":        "recursive delete",
		"exec.Command":        "process execution",
		"exec.CommandContext": "process execution",
		"syscall.Exec":        "process replacement",
		"syscall.ForkExec":    "process execution",
		"reflect.NewAt":       "unchecked memory access",
		"template.HTML":       "unescaped HTML",
		"os.Exit":             "terminates the process",
	}
)

// dangerousUses walks imports and call expressions.
func dangerousUses(root *sitter.Node, src []byte) []string {
	var out []string
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		switch n.Type() {
		case "import_spec":
			if p := n.ChildByFieldName("path"); p != nil {
				path := strings.Trim(p.Content(src), "\"`")
				if why, ok := dangerousImports[path]; ok {
					out = append(out, fmt.Sprintf("line %d: import %q %s", n.StartPoint().Row+1, path, why))
				}
			}
		case "call_expression":
			if f := n.ChildByFieldName("function"); f != nil && f.Type() == "selector_expression" {
				name := f.Content(src)
				if why, ok := dangerousCalls[name]; ok {
					out = append(out, fmt.Sprintf("line %d: %s (%s)", n.StartPoint().Row+1, name, why))
				}
			}
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i))
		}
	}
	walk(root)
	return out
}
