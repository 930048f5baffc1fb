// Package sexp implements the canonical form engine: parsing, normalization,
// deterministic serialization, and content hashing of symbolic forms.
package sexp

import "strconv"

// Form is an immutable symbolic expression tree node. Transformations never
// mutate a Form in place; they build new trees.
type Form interface {
	form()
}

// Symbol is a bare identifier atom.
type Symbol string

// Int is an integer literal atom.
type Int int64

// Float is a floating-point literal atom.
type Float float64

// Str is a string literal atom.
type Str string

// List is an ordered sublist of forms.
type List []Form

func (Symbol) form() {}
func (Int) form()    {}
func (Float) form()  {}
func (Str) form()    {}
func (List) form()   {}

// Head returns the leading symbol of a list form, or "" when the form is not
// a list or its head is not a symbol.
func Head(f Form) Symbol {
	l, ok := f.(List)
	if !ok || len(l) == 0 {
		return ""
	}
	s, _ := l[0].(Symbol)
	return s
}

// AtomText renders an atom as display text. Lists return "".
func AtomText(f Form) string {
	switch v := f.(type) {
	case Symbol:
		return string(v)
	case Int:
		return strconv.FormatInt(int64(v), 10)
	case Float:
		return strconv.FormatFloat(float64(v), 'g', -1, 64)
	case Str:
		return string(v)
	}
	return ""
}

// Equal reports structural equality of two forms.
func Equal(a, b Form) bool {
	la, aok := a.(List)
	lb, bok := b.(List)
	if aok != bok {
		return false
	}
	if !aok {
		return a == b
	}
	if len(la) != len(lb) {
		return false
	}
	for i := range la {
		if !Equal(la[i], lb[i]) {
			return false
		}
	}
	return true
}
