package sexp

import "strings"

// Path flattens a form into a slash-separated routing path. Atoms contribute
// their display text; lists contribute their elements in order. The runtime
// uses the path to address kernels from message payloads, e.g.
// (button ok click) -> /button/ok/click.
func Path(f Form) string {
	var segs []string
	collectSegments(f, &segs)
	return "/" + strings.Join(segs, "/")
}

func collectSegments(f Form, segs *[]string) {
	if l, ok := f.(List); ok {
		for _, c := range l {
			collectSegments(c, segs)
		}
		return
	}
	*segs = append(*segs, AtomText(f))
}
