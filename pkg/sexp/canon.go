package sexp

import (
	"bytes"
	"fmt"
	"sort"
)

// Options controls canonicalization. The zero value applies alpha-renaming
// and constant folding but treats no operator as commutative.
type Options struct {
	// Commutative names the operators whose operand order is not
	// significant. Their operands are sorted by canonical serialization.
	Commutative map[Symbol]bool
}

// DefaultOptions treats the conventional arithmetic operators as commutative.
func DefaultOptions() Options {
	return Options{Commutative: map[Symbol]bool{"+": true, "*": true}}
}

// Canonicalize normalizes a form so that structurally equivalent inputs
// serialize identically. Transformations apply in order: alpha-renaming of
// bound identifiers, constant folding of literal-only arithmetic, and operand
// sorting under declared-commutative operators. Canonicalize is idempotent.
func Canonicalize(f Form, opts Options) Form {
	f = rename(f, nil, 0)
	return normalize(f, opts)
}

// binders introduce identifier scopes. (lambda (a b) body...) binds a and b
// in body; (let ((a v) (b w)) body...) binds a and b in body, with the value
// expressions evaluated in the enclosing scope.
const (
	opLambda = Symbol("lambda")
	opLet    = Symbol("let")
)

type scope struct {
	parent *scope
	names  map[Symbol]Symbol
}

func (s *scope) lookup(name Symbol) (Symbol, bool) {
	for sc := s; sc != nil; sc = sc.parent {
		if r, ok := sc.names[name]; ok {
			return r, true
		}
	}
	return "", false
}

// boundName derives the stable positional name for binding i at nesting
// level lvl. The scheme depends only on the binder's structural position, so
// renaming is stable under sibling reordering and idempotent.
func boundName(lvl, i int) Symbol {
	return Symbol(fmt.Sprintf("%%%d.%d", lvl, i))
}

func rename(f Form, env *scope, lvl int) Form {
	switch v := f.(type) {
	case Symbol:
		if r, ok := env.lookup(v); ok {
			return r
		}
		return v
	case List:
		switch Head(v) {
		case opLambda:
			if len(v) >= 2 {
				return renameLambda(v, env, lvl)
			}
		case opLet:
			if len(v) >= 2 {
				return renameLet(v, env, lvl)
			}
		}
		out := make(List, len(v))
		for i, c := range v {
			out[i] = rename(c, env, lvl)
		}
		return out
	default:
		return f
	}
}

func renameLambda(v List, env *scope, lvl int) Form {
	params, ok := v[1].(List)
	if !ok {
		// Malformed binder; leave untouched below the head.
		out := make(List, len(v))
		copy(out, v)
		for i := 2; i < len(v); i++ {
			out[i] = rename(v[i], env, lvl)
		}
		return out
	}
	inner := &scope{parent: env, names: make(map[Symbol]Symbol, len(params))}
	newParams := make(List, len(params))
	for i, p := range params {
		sym, ok := p.(Symbol)
		if !ok {
			newParams[i] = p
			continue
		}
		bound := boundName(lvl, i)
		inner.names[sym] = bound
		newParams[i] = bound
	}
	out := make(List, len(v))
	out[0] = v[0]
	out[1] = newParams
	for i := 2; i < len(v); i++ {
		out[i] = rename(v[i], inner, lvl+1)
	}
	return out
}

func renameLet(v List, env *scope, lvl int) Form {
	clauses, ok := v[1].(List)
	if !ok {
		out := make(List, len(v))
		copy(out, v)
		for i := 2; i < len(v); i++ {
			out[i] = rename(v[i], env, lvl)
		}
		return out
	}
	inner := &scope{parent: env, names: make(map[Symbol]Symbol, len(clauses))}
	newClauses := make(List, len(clauses))
	for i, cl := range clauses {
		pair, ok := cl.(List)
		if !ok || len(pair) == 0 {
			newClauses[i] = rename(cl, env, lvl)
			continue
		}
		sym, ok := pair[0].(Symbol)
		if !ok {
			newClauses[i] = rename(cl, env, lvl)
			continue
		}
		bound := boundName(lvl, i)
		newPair := make(List, len(pair))
		newPair[0] = bound
		// Value expressions see the enclosing scope, not the new bindings.
		for j := 1; j < len(pair); j++ {
			newPair[j] = rename(pair[j], env, lvl)
		}
		inner.names[sym] = bound
		newClauses[i] = newPair
	}
	out := make(List, len(v))
	out[0] = v[0]
	out[1] = newClauses
	for i := 2; i < len(v); i++ {
		out[i] = rename(v[i], inner, lvl+1)
	}
	return out
}

// normalize folds constants and sorts commutative operands, children first.
func normalize(f Form, opts Options) Form {
	v, ok := f.(List)
	if !ok {
		return f
	}
	out := make(List, len(v))
	for i, c := range v {
		out[i] = normalize(c, opts)
	}
	if folded, ok := fold(out); ok {
		return folded
	}
	head := Head(out)
	if head != "" && opts.Commutative[head] {
		sortOperands(out[1:])
	}
	return out
}

// fold evaluates literal-only applications of + - * to a single literal.
func fold(v List) (Form, bool) {
	head := Head(v)
	if head != "+" && head != "-" && head != "*" {
		return nil, false
	}
	if len(v) < 2 {
		return nil, false
	}
	ints := make([]int64, 0, len(v)-1)
	floats := make([]float64, 0, len(v)-1)
	allInt := true
	for _, c := range v[1:] {
		switch n := c.(type) {
		case Int:
			ints = append(ints, int64(n))
			floats = append(floats, float64(n))
		case Float:
			allInt = false
			floats = append(floats, float64(n))
		default:
			return nil, false
		}
	}
	if allInt {
		acc := ints[0]
		if len(ints) == 1 && head == "-" {
			acc = -acc
		}
		for _, n := range ints[1:] {
			switch head {
			case "+":
				acc += n
			case "-":
				acc -= n
			case "*":
				acc *= n
			}
		}
		return Int(acc), true
	}
	acc := floats[0]
	if len(floats) == 1 && head == "-" {
		acc = -acc
	}
	for _, n := range floats[1:] {
		switch head {
		case "+":
			acc += n
		case "-":
			acc -= n
		case "*":
			acc *= n
		}
	}
	return Float(acc), true
}

// sortOperands orders forms by their canonical serialization bytes. The
// serialization is a total order over forms, so the result is deterministic.
func sortOperands(operands List) {
	sort.SliceStable(operands, func(i, j int) bool {
		return bytes.Compare(Serialize(operands[i]), Serialize(operands[j])) < 0
	})
}
