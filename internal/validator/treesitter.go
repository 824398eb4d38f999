package validator

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
)

const maxSyntaxErrors = 5

// parseGo parses src with the tree-sitter Go grammar. Parsers are not safe
// for concurrent use, so each call gets its own.
func parseGo(ctx context.Context, src []byte) (*sitter.Tree, error) {
	p := sitter.NewParser()
	defer p.Close()
	p.SetLanguage(golang.GetLanguage())
	return p.ParseCtx(ctx, nil, src)
}

// syntaxErrors lists ERROR and MISSING nodes as "line:col: what".
func syntaxErrors(root *sitter.Node, src []byte) []string {
	var out []string
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if len(out) >= maxSyntaxErrors {
			return
		}
		pt := n.StartPoint()
		switch {
		case n.IsMissing():
			out = append(out, fmt.Sprintf("%d:%d: missing %s", pt.Row+1, pt.Column+1, n.Type()))
			return
		case n.Type() == "ERROR":
			out = append(out, fmt.Sprintf("%d:%d: unexpected %q", pt.Row+1, pt.Column+1, snippet(n.Content(src))))
			return
		}
		if !n.HasError() {
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)
	return out
}

func snippet(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 40 {
		return s[:40] + "..."
	}
	return s
}

// signature is a canonical function or method signature. Parameter names
// are dropped; only types take part in comparison.
type signature struct {
	Receiver string
	Name     string
	Params   string
	Results  string
	Line     int
}

func (s signature) key() string {
	if s.Receiver != "" {
		return s.Receiver + "." + s.Name
	}
	return s.Name
}

func (s signature) String() string {
	var b strings.Builder
	b.WriteString("func ")
	if s.Receiver != "" {
		fmt.Fprintf(&b, "(%s) ", s.Receiver)
	}
	fmt.Fprintf(&b, "%s(%s)", s.Name, s.Params)
	if s.Results != "" {
		b.WriteString(" " + s.Results)
	}
	return b.String()
}

func (s signature) equal(o signature) bool {
	return s.Receiver == o.Receiver && s.Name == o.Name && s.Params == o.Params && s.Results == o.Results
}

// declaredSignatures extracts top-level function and method declarations.
func declaredSignatures(root *sitter.Node, src []byte) []signature {
	var sigs []signature
	for i := 0; i < int(root.NamedChildCount()); i++ {
		n := root.NamedChild(i)
		switch n.Type() {
		case "function_declaration", "method_declaration":
		default:
			continue
		}
		name := n.ChildByFieldName("name")
		if name == nil {
			continue
		}
		sig := signature{
			Name:    name.Content(src),
			Params:  strings.Join(paramTypes(n.ChildByFieldName("parameters"), src), ", "),
			Results: resultTypes(n.ChildByFieldName("result"), src),
			Line:    int(n.StartPoint().Row) + 1,
		}
		if recv := n.ChildByFieldName("receiver"); recv != nil {
			if types := paramTypes(recv, src); len(types) == 1 {
				sig.Receiver = types[0]
			}
		}
		sigs = append(sigs, sig)
	}
	return sigs
}

// paramTypes expands a parameter_list into one type per parameter, so
// "(a, b int)" and "(x int, y int)" both yield [int int].
func paramTypes(list *sitter.Node, src []byte) []string {
	if list == nil {
		return nil
	}
	var types []string
	for i := 0; i < int(list.NamedChildCount()); i++ {
		p := list.NamedChild(i)
		typ := p.ChildByFieldName("type")
		if typ == nil {
			continue
		}
		t := normType(typ.Content(src))
		if p.Type() == "variadic_parameter_declaration" {
			t = "..." + t
		}
		names := 0
		for j := 0; j < int(p.NamedChildCount()); j++ {
			if p.NamedChild(j).Type() == "identifier" {
				names++
			}
		}
		if names == 0 {
			names = 1
		}
		for ; names > 0; names-- {
			types = append(types, t)
		}
	}
	return types
}

func resultTypes(res *sitter.Node, src []byte) string {
	if res == nil {
		return ""
	}
	if res.Type() != "parameter_list" {
		return normType(res.Content(src))
	}
	types := paramTypes(res, src)
	switch len(types) {
	case 0:
		return ""
	case 1:
		return types[0]
	default:
		return "(" + strings.Join(types, ", ") + ")"
	}
}

// normType collapses whitespace and drops it around punctuation.
func normType(t string) string {
	t = strings.Join(strings.Fields(t), " ")
	var b strings.Builder
	for i := 0; i < len(t); i++ {
		c := t[i]
		if c == ' ' {
			prev, next := t[i-1], t[i+1]
			if strings.IndexByte("[]*(),{}", prev) >= 0 || strings.IndexByte("[]*(),{}", next) >= 0 {
				if prev != ',' {
					continue
				}
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// parseContract turns a contract line such as "func Add(a, b int) int" or
// "(s *Server) Start() error" into a signature.
func parseContract(ctx context.Context, line string) (signature, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "func") {
		line = "func " + line
	}
	src := []byte("package contract\n\n" + line + " {}\n")
	tree, err := parseGo(ctx, src)
	if err != nil {
		return signature{}, false
	}
	defer tree.Close()
	root := tree.RootNode()
	if root.HasError() {
		return signature{}, false
	}
	sigs := declaredSignatures(root, src)
	if len(sigs) != 1 {
		return signature{}, false
	}
	return sigs[0], true
}
