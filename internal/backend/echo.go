package backend

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Echo is an offline generator. It emits a syntactically valid Go file
// that declares every contract signature with a stub body, which is enough
// for dry runs and pipeline tests without network access.
type Echo struct {
	// Package is the package clause of generated files. Default "generated".
	Package string
}

var funcNameRe = regexp.MustCompile(`^func\s+(\([^)]*\)\s*)?([A-Za-z_][A-Za-z0-9_]*)`)

// Generate renders the stub.
func (e Echo) Generate(ctx context.Context, req Request) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}
	pkg := e.Package
	if pkg == "" {
		pkg = "generated"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "package %s\n", pkg)
	for _, sig := range req.Contract {
		sig = strings.TrimSpace(sig)
		if !strings.HasPrefix(sig, "func ") {
			sig = "func " + sig
		}
		name := sig
		if m := funcNameRe.FindStringSubmatch(sig); m != nil {
			name = m[2]
		}
		fmt.Fprintf(&b, "\n// %s is generated for unit %s.\n%s {\n\tpanic(%q)\n}\n", name, req.UnitID, sig, "not implemented: "+name)
	}
	return Artifact{Code: b.String(), Model: "echo"}, nil
}

var _ Generator = Echo{}
