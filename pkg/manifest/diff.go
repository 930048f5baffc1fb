package manifest

import "github.com/glyphtools/glyph/pkg/sexp"

// Delta describes how one manifest differs from another, keyed by kernel
// name. A name whose hash changed between runs appears in Changed; names
// present on only one side appear in Added or Removed.
type Delta struct {
	Added   []string
	Removed []string
	Changed []string
}

// Empty reports whether the two manifests were identical.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Diff compares an older manifest against a newer one. Incremental tooling
// uses the delta to report exactly which kernels were rebuilt.
func Diff(old, new *Manifest) Delta {
	oldByName := hashesByName(old)
	newByName := hashesByName(new)

	var d Delta
	for _, e := range new.Entries() {
		prev, ok := oldByName[e.Name]
		switch {
		case !ok:
			d.Added = appendOnce(d.Added, e.Name)
		case !sameHashes(prev, newByName[e.Name]):
			d.Changed = appendOnce(d.Changed, e.Name)
		}
	}
	for _, e := range old.Entries() {
		if _, ok := newByName[e.Name]; !ok {
			d.Removed = appendOnce(d.Removed, e.Name)
		}
	}
	return d
}

func hashesByName(m *Manifest) map[string][]sexp.Digest {
	out := make(map[string][]sexp.Digest)
	for _, e := range m.Entries() {
		out[e.Name] = append(out[e.Name], e.Hash)
	}
	return out
}

func sameHashes(a, b []sexp.Digest) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func appendOnce(list []string, name string) []string {
	if len(list) > 0 && list[len(list)-1] == name {
		return list
	}
	return append(list, name)
}
