package sexp

import (
	"bytes"
	"testing"
)

func canon(t *testing.T, src string) Form {
	t.Helper()
	return Canonicalize(mustParse(t, src), DefaultOptions())
}

func TestCanonicalizeIdempotent(t *testing.T) {
	srcs := []string{
		"atom",
		"(widget (stroke 90 1) (dot))",
		"(+ b a (- 5 2))",
		"(lambda (x y) (+ y x))",
		"(let ((a 1) (b 2)) (* b a))",
		"(+ (lambda (q) q) (lambda (p) p))",
	}
	for _, src := range srcs {
		once := canon(t, src)
		twice := Canonicalize(once, DefaultOptions())
		if !Equal(once, twice) {
			t.Errorf("%q: canonicalize not idempotent:\n once=%s\ntwice=%s",
				src, Print(once), Print(twice))
		}
	}
}

func TestCommutativeEquivalence(t *testing.T) {
	a := canon(t, "(+ x y z)")
	b := canon(t, "(+ z y x)")
	if !bytes.Equal(Serialize(a), Serialize(b)) {
		t.Errorf("operand order changed serialization: %s vs %s", Print(a), Print(b))
	}
	if Hash(a) != Hash(b) {
		t.Error("operand order changed hash")
	}
}

func TestNonCommutativePreservesOrder(t *testing.T) {
	a := canon(t, "(cons x y)")
	b := canon(t, "(cons y x)")
	if bytes.Equal(Serialize(a), Serialize(b)) {
		t.Error("non-commutative operands were reordered")
	}
}

func TestAlphaEquivalence(t *testing.T) {
	a := canon(t, "(lambda (x) (+ x 1))")
	b := canon(t, "(lambda (y) (+ y 1))")
	if Hash(a) != Hash(b) {
		t.Errorf("alpha-equivalent lambdas hash differently: %s vs %s", Print(a), Print(b))
	}

	c := canon(t, "(let ((a 1)) a)")
	d := canon(t, "(let ((b 1)) b)")
	if Hash(c) != Hash(d) {
		t.Error("alpha-equivalent lets hash differently")
	}
}

func TestAlphaRenamingShadowing(t *testing.T) {
	// The outer binding is shadowed inside the inner lambda and must not be.
	// visible there.
	f := canon(t, "(lambda (x) (lambda (x) x))")
	inner := f.(List)[2].(List)
	body := inner[2]
	params := inner[1].(List)
	if body != params[0] {
		t.Errorf("inner body %v should reference inner param %v", body, params[0])
	}
}

func TestLetValueSeesOuterScope(t *testing.T) {
	// In (lambda (v) (let ((v v)) v)) the let value refers to the lambda
	// parameter, while the body refers to the let binding.
	f := canon(t, "(lambda (v) (let ((v v)) v))").(List)
	lambdaParam := f[1].(List)[0]
	let := f[2].(List)
	clause := let[1].(List)[0].(List)
	if clause[1] != lambdaParam {
		t.Errorf("let value %v should be lambda param %v", clause[1], lambdaParam)
	}
	if let[2] != clause[0] {
		t.Errorf("let body %v should be let binding %v", let[2], clause[0])
	}
}

func TestFreeVariablesUntouched(t *testing.T) {
	f := canon(t, "(lambda (x) (+ x free))")
	if !contains(f, Symbol("free")) {
		t.Errorf("free variable renamed: %s", Print(f))
	}
}

func contains(f Form, want Form) bool {
	if Equal(f, want) {
		return true
	}
	l, ok := f.(List)
	if !ok {
		return false
	}
	for _, c := range l {
		if contains(c, want) {
			return true
		}
	}
	return false
}

func TestConstantFolding(t *testing.T) {
	cases := []struct {
		src  string
		want Form
	}{
		{"(+ 1 2 3)", Int(6)},
		{"(- 10 4)", Int(6)},
		{"(- 5)", Int(-5)},
		{"(* 2 3 4)", Int(24)},
		{"(+ 1 0.5)", Float(1.5)},
		{"(+ 1 (* 2 3))", Int(7)},
	}
	for _, c := range cases {
		got := canon(t, c.src)
		if got != c.want {
			t.Errorf("canon(%q) = %#v, want %#v", c.src, got, c.want)
		}
	}
}

func TestFoldingStopsAtSymbols(t *testing.T) {
	f := canon(t, "(+ a 1 2)")
	l, ok := f.(List)
	if !ok || len(l) != 4 {
		t.Fatalf("(+ a 1 2) should not fold, got %s", Print(f))
	}
}

func TestCommutativeSortRecursesFirst(t *testing.T) {
	// Inner folds collapse before the outer sort, so both spellings agree.
	a := canon(t, "(+ x (* 2 3))")
	b := canon(t, "(+ 6 x)")
	if Hash(a) != Hash(b) {
		t.Errorf("%s != %s", Print(a), Print(b))
	}
}
