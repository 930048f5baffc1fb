package runtime

import (
	"context"
	"fmt"

	"github.com/glyphtools/glyph/pkg/kernel"
	"github.com/glyphtools/glyph/pkg/sexp"
)

// EvalError is a per-message evaluation failure. It is reported back as the
// message's result; it never aborts the serving loop.
type EvalError struct {
	Reason string
}

func (e *EvalError) Error() string {
	return "eval: " + e.Reason
}

// evaluator is a restricted interpreter over a whitelisted operator set:
// seq, the arithmetic operators, and invocation of mounted kernels. It is
// deliberately not an ambient evaluator; every step draws from a hard
// budget and the context carries the per-message deadline.
type evaluator struct {
	snap   *snapshot
	budget int
}

func (ev *evaluator) step(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &EvalError{"deadline exceeded"}
	}
	ev.budget--
	if ev.budget < 0 {
		return &EvalError{"step budget exhausted"}
	}
	return nil
}

func (ev *evaluator) eval(ctx context.Context, f sexp.Form) (sexp.Form, error) {
	if err := ev.step(ctx); err != nil {
		return nil, err
	}
	l, ok := f.(sexp.List)
	if !ok {
		return f, nil // atoms are self-evaluating data
	}
	if len(l) == 0 {
		return l, nil
	}
	head, ok := l[0].(sexp.Symbol)
	if !ok {
		return nil, &EvalError{"operator position holds a non-symbol"}
	}

	switch head {
	case "seq":
		var last sexp.Form = sexp.List{}
		for _, c := range l[1:] {
			v, err := ev.eval(ctx, c)
			if err != nil {
				return nil, err
			}
			last = v
		}
		return last, nil
	case "+", "-", "*":
		return ev.arith(ctx, head, l[1:])
	default:
		return ev.invoke(ctx, head, l)
	}
}

// arith evaluates arguments and folds them numerically.
func (ev *evaluator) arith(ctx context.Context, op sexp.Symbol, args sexp.List) (sexp.Form, error) {
	if len(args) == 0 {
		return nil, &EvalError{fmt.Sprintf("%s needs operands", op)}
	}
	vals := make(sexp.List, 0, len(args)+1)
	vals = append(vals, op)
	for _, a := range args {
		v, err := ev.eval(ctx, a)
		if err != nil {
			return nil, err
		}
		switch v.(type) {
		case sexp.Int, sexp.Float:
			vals = append(vals, v)
		default:
			return nil, &EvalError{fmt.Sprintf("%s over non-numeric operand %s", op, sexp.Print(v))}
		}
	}
	// Canonicalization's constant folder already is the arithmetic
	// semantics for literal operands; reuse it.
	folded := sexp.Canonicalize(vals, sexp.Options{})
	if _, still := folded.(sexp.List); still {
		return nil, &EvalError{fmt.Sprintf("%s did not reduce", op)}
	}
	return folded, nil
}

// invoke resolves a kernel for the application and returns its resolution:
// (kernel <name> <hash> <artifact-path>). Resolution tries the derived unit
// name first, then the payload's canonical hash, then the bare head symbol.
func (ev *evaluator) invoke(ctx context.Context, head sexp.Symbol, l sexp.List) (sexp.Form, error) {
	if err := ev.step(ctx); err != nil {
		return nil, err
	}
	mk := ev.resolve(l, head)
	if mk == nil {
		return nil, &EvalError{fmt.Sprintf("no mounted kernel for %s", sexp.Path(l))}
	}
	return sexp.List{
		sexp.Symbol("kernel"),
		sexp.Symbol(mk.entry.Name),
		sexp.Str(mk.entry.Hash),
		sexp.Str(mk.entry.ArtifactPath),
		sexp.Int(len(mk.art.Code)),
	}, nil
}

func (ev *evaluator) resolve(l sexp.List, head sexp.Symbol) *mounted {
	if name := kernel.UnitName(l); name != "" {
		if mk, ok := ev.snap.byName[name]; ok {
			return mk
		}
	}
	if mk, ok := ev.snap.byHash[sexp.Hash(l)]; ok {
		return mk
	}
	if mk, ok := ev.snap.byName[string(head)]; ok {
		return mk
	}
	return nil
}
