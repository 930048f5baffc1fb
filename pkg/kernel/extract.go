package kernel

import (
	"fmt"
	"strings"

	"github.com/glyphtools/glyph/pkg/sexp"
)

// Unit is a sub-form selected for independent compilation, before hashing.
type Unit struct {
	Name string
	Form sexp.Form
}

// Strategy is a deterministic decomposition rule splitting a canonical form
// into independently cacheable units. Alternatives are configuration, not
// guesses: the rule in force is named in the project config.
type Strategy interface {
	Name() string
	// Decompose returns the extracted units in left-to-right source order
	// plus a DecompositionError per sub-tree that could not be closed.
	Decompose(f sexp.Form) ([]Unit, []error)
}

// StrategyByName resolves a configured strategy name.
func StrategyByName(name string) (Strategy, error) {
	switch name {
	case "", ClosedSubtrees{}.Name():
		return ClosedSubtrees{}, nil
	case LeafSymbols{}.Name():
		return LeafSymbols{}, nil
	}
	return nil, fmt.Errorf("kernel: unknown decomposition strategy %q", name)
}

// ClosedSubtrees extracts every maximal named operator application with no
// free identifier references to enclosing bindings. Children of an extracted
// unit are not re-extracted. The root form itself is treated as the
// composition and is only a unit when nothing below it qualifies.
type ClosedSubtrees struct{}

func (ClosedSubtrees) Name() string { return "closed-subtrees" }

func (cs ClosedSubtrees) Decompose(f sexp.Form) ([]Unit, []error) {
	var units []Unit
	var errs []error

	root, ok := f.(sexp.List)
	if ok && len(root) > 0 {
		children := []sexp.Form(root)
		if isApplication(f) {
			children = children[1:]
		}
		for _, child := range children {
			cs.extract(child, &units, &errs)
		}
	}
	if len(units) == 0 && isApplication(f) && freeRefs(f) == 0 {
		units = append(units, Unit{Name: unitName(f), Form: f})
	}
	return units, errs
}

func (cs ClosedSubtrees) extract(f sexp.Form, units *[]Unit, errs *[]error) {
	l, ok := f.(sexp.List)
	if !ok {
		// Bare atoms belong to the parent composition.
		return
	}
	if !isApplication(f) {
		for _, c := range l {
			cs.extract(c, units, errs)
		}
		return
	}
	if n := freeRefs(f); n > 0 {
		*errs = append(*errs, &DecompositionError{
			Path:   sexp.Path(f),
			Reason: fmt.Sprintf("%d free reference(s) to enclosing bindings", n),
		})
		// The sub-tree is open, but a closed application may still hide
		// below it.
		for _, c := range l[1:] {
			cs.extract(c, units, errs)
		}
		return
	}
	*units = append(*units, Unit{Name: unitName(f), Form: f})
}

// isApplication reports whether f is a list with a symbol head.
func isApplication(f sexp.Form) bool {
	l, ok := f.(sexp.List)
	return ok && len(l) > 0 && sexp.Head(f) != "" && !isBoundName(string(sexp.Head(f)))
}

// freeRefs counts references to identifiers bound outside f. Canonical
// forms name bound identifiers with a % prefix, so a %-symbol not introduced
// by a binder inside f must refer to an enclosing scope.
func freeRefs(f sexp.Form) int {
	bound := map[sexp.Symbol]bool{}
	collectBinders(f, bound)
	return countUnbound(f, bound)
}

func collectBinders(f sexp.Form, bound map[sexp.Symbol]bool) {
	l, ok := f.(sexp.List)
	if !ok {
		return
	}
	switch sexp.Head(f) {
	case "lambda":
		if len(l) >= 2 {
			if params, ok := l[1].(sexp.List); ok {
				for _, p := range params {
					if s, ok := p.(sexp.Symbol); ok {
						bound[s] = true
					}
				}
			}
		}
	case "let":
		if len(l) >= 2 {
			if clauses, ok := l[1].(sexp.List); ok {
				for _, cl := range clauses {
					if pair, ok := cl.(sexp.List); ok && len(pair) > 0 {
						if s, ok := pair[0].(sexp.Symbol); ok {
							bound[s] = true
						}
					}
				}
			}
		}
	}
	for _, c := range l {
		collectBinders(c, bound)
	}
}

func countUnbound(f sexp.Form, bound map[sexp.Symbol]bool) int {
	switch v := f.(type) {
	case sexp.Symbol:
		if isBoundName(string(v)) && !bound[v] {
			return 1
		}
	case sexp.List:
		n := 0
		for _, c := range v {
			n += countUnbound(c, bound)
		}
		return n
	}
	return 0
}

func isBoundName(s string) bool {
	return strings.HasPrefix(s, "%")
}

// LeafSymbols extracts every distinct leaf symbol as its own unit: the
// minimal rule, useful when forms are flat glyph compositions.
type LeafSymbols struct{}

func (LeafSymbols) Name() string { return "leaf-symbols" }

func (LeafSymbols) Decompose(f sexp.Form) ([]Unit, []error) {
	seen := map[sexp.Symbol]bool{}
	var units []Unit
	var walk func(sexp.Form)
	walk = func(f sexp.Form) {
		switch v := f.(type) {
		case sexp.Symbol:
			if isBoundName(string(v)) || seen[v] {
				return
			}
			seen[v] = true
			units = append(units, Unit{Name: unitName(v), Form: v})
		case sexp.List:
			for _, c := range v {
				walk(c)
			}
		}
	}
	walk(f)
	return units, nil
}
