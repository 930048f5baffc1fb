package kernel

import (
	"strings"

	"github.com/glyphtools/glyph/pkg/sexp"
)

// Edge is one dependency relation in a form's proof tree: an operator node
// and the heads of its immediate operands. The edge list is the structural
// justification for the compiled kernel set and is exported next to the
// manifest for tooling.
type Edge struct {
	Node string   `toml:"node"`
	Deps []string `toml:"deps"`
}

// ProofTree walks a canonical form and returns its deduplicated dependency
// edges in first-visit order.
func ProofTree(f sexp.Form) []Edge {
	var edges []Edge
	seen := map[string]bool{}

	var walk func(sexp.Form)
	walk = func(f sexp.Form) {
		l, ok := f.(sexp.List)
		if !ok || len(l) == 0 {
			return
		}
		node := sexp.AtomText(l[0])
		if node != "" {
			deps := make([]string, 0, len(l)-1)
			for _, c := range l[1:] {
				if h := sexp.Head(c); h != "" {
					deps = append(deps, string(h))
				} else {
					deps = append(deps, sexp.AtomText(c))
				}
			}
			key := node + "|" + strings.Join(deps, ",")
			if !seen[key] {
				seen[key] = true
				edges = append(edges, Edge{Node: node, Deps: deps})
			}
		}
		for _, c := range l {
			walk(c)
		}
	}
	walk(f)
	return edges
}
