// Package kernel compiles canonical symbolic forms into independently
// cached, content-addressed units.
package kernel

import (
	"fmt"
	"strings"

	"github.com/glyphtools/glyph/pkg/sexp"
)

// Kernel is an independently compiled unit extracted from a form. It is
// immutable once written; a changed source sub-form produces a new Kernel
// with a new hash rather than overwriting this one.
type Kernel struct {
	Name   string
	Hash   sexp.Digest
	Source sexp.Form
}

// ArtifactName returns the store file name for a kernel:
// <name>.<hashPrefix>.kernel.
func (k Kernel) ArtifactName() string {
	return fmt.Sprintf("%s.%s.kernel", k.Name, k.Hash.Prefix(8))
}

// DecompositionError reports a sub-tree that could not be closed into an
// independent unit. It is reported, not fatal: sibling units compile.
type DecompositionError struct {
	Path   string // routing path of the offending sub-tree
	Reason string
}

func (e *DecompositionError) Error() string {
	return fmt.Sprintf("decompose %s: %s", e.Path, e.Reason)
}

// LoweringError reports failed artifact generation for one unit. Fatal for
// that unit only; siblings proceed.
type LoweringError struct {
	Name   string
	Reason string
}

func (e *LoweringError) Error() string {
	return fmt.Sprintf("lower %s: %s", e.Name, e.Reason)
}

// UnitName derives the kernel name a sub-form compiles under. The runtime
// uses it to resolve message payloads against mounted kernels.
func UnitName(f sexp.Form) string {
	return unitName(f)
}

// unitName derives the human-readable kernel name for a sub-form: the head
// symbol plus its literal arguments joined with 'x', so (stroke 90 1)
// becomes stroke-90x1 and (dot) becomes dot. Bare atoms name themselves.
func unitName(f sexp.Form) string {
	l, ok := f.(sexp.List)
	if !ok {
		return sanitizeName(sexp.AtomText(f))
	}
	if len(l) == 0 {
		return "nil"
	}
	head := sanitizeName(sexp.AtomText(l[0]))
	if head == "" {
		head = "unit"
	}
	var args []string
	for _, c := range l[1:] {
		switch c.(type) {
		case sexp.List:
			if h := sexp.Head(c); h != "" {
				args = append(args, sanitizeName(string(h)))
			}
		default:
			args = append(args, sanitizeName(sexp.AtomText(c)))
		}
	}
	if len(args) == 0 {
		return head
	}
	return head + "-" + strings.Join(args, "x")
}

// sanitizeName keeps store-safe characters only.
func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	const maxName = 64
	if len(out) > maxName {
		out = out[:maxName]
	}
	return out
}
