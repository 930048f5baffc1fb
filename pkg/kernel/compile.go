package kernel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/BurntSushi/toml"
	"golang.org/x/sync/errgroup"

	"github.com/glyphtools/glyph/pkg/manifest"
	"github.com/glyphtools/glyph/pkg/sexp"
	"github.com/glyphtools/glyph/pkg/store"
)

// ManifestFile and ProofTreeFile are the index files maintained under the
// compiler's store prefix.
const (
	ManifestFile  = "manifest.toml"
	ProofTreeFile = "prooftree.toml"
)

// Disposition says what happened to one unit during a compile pass.
type Disposition int

const (
	// Hit: a verified cached artifact was reused; no lowering ran.
	Hit Disposition = iota
	// Lowered: the unit was compiled and its artifact written.
	Lowered
	// Failed: lowering failed; the unit has no artifact.
	Failed
)

func (d Disposition) String() string {
	switch d {
	case Hit:
		return "hit"
	case Lowered:
		return "lowered"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// UnitResult reports one unique kernel of a compile pass. Refs counts how
// many extracted sub-units deduplicated onto this kernel.
type UnitResult struct {
	Kernel
	ArtifactPath string
	Disposition  Disposition
	Refs         int
	Err          error
}

// Result reports a whole compile pass.
type Result struct {
	FormHash sexp.Digest
	Units    []UnitResult // unique kernels, first-occurrence order
	Skipped  []error      // decomposition errors, one per unclosable sub-tree
	Edges    []Edge
}

// Counts returns the number of cache hits, lowered units, and failed units.
func (r *Result) Counts() (hits, lowered, failed int) {
	for _, u := range r.Units {
		switch u.Disposition {
		case Hit:
			hits++
		case Lowered:
			lowered++
		case Failed:
			failed++
		}
	}
	return
}

// References returns the total number of sub-unit references, counting
// deduplicated kernels once per occurrence.
func (r *Result) References() int {
	n := 0
	for _, u := range r.Units {
		n += u.Refs
	}
	return n
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithStrategy selects the decomposition rule.
func WithStrategy(s Strategy) Option {
	return func(c *Compiler) { c.strategy = s }
}

// WithCanonOptions sets canonicalization options (commutative operators).
func WithCanonOptions(o sexp.Options) Option {
	return func(c *Compiler) { c.opts = o }
}

// WithPrefix sets the store prefix artifacts are written under.
func WithPrefix(p string) Option {
	return func(c *Compiler) { c.prefix = p }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Compiler) { c.log = l }
}

// WithWorkers bounds parallel unit compilation.
func WithWorkers(n int) Option {
	return func(c *Compiler) {
		if n > 0 {
			c.workers = n
		}
	}
}

// Compiler decomposes canonical forms into kernels and maintains the cache.
// The manifest it is handed is the sole cache authority for its lifetime;
// there is no ambient global state.
type Compiler struct {
	store    *store.Store
	man      *manifest.Manifest
	strategy Strategy
	opts     sexp.Options
	prefix   string
	log      *slog.Logger
	workers  int
}

// New creates a Compiler over a store and manifest.
func New(s *store.Store, m *manifest.Manifest, opts ...Option) *Compiler {
	c := &Compiler{
		store:    s,
		man:      m,
		strategy: ClosedSubtrees{},
		opts:     sexp.DefaultOptions(),
		prefix:   "form",
		log:      slog.Default(),
		workers:  runtime.NumCPU(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Manifest returns the cache index the compiler records into.
func (c *Compiler) Manifest() *manifest.Manifest {
	return c.man
}

// Prefix returns the store prefix artifacts are written under.
func (c *Compiler) Prefix() string {
	return c.prefix
}

// Compile canonicalizes a form, decomposes it, and ensures every unit has a
// verified artifact: cache hits are reused, misses are lowered and written
// atomically, and the manifest is persisted afterwards. Unit-level failures
// are reported in the Result; only store and index corruption abort the
// pass.
func (c *Compiler) Compile(ctx context.Context, form sexp.Form) (*Result, error) {
	canon := sexp.Canonicalize(form, c.opts)
	res := &Result{
		FormHash: sexp.Hash(canon),
		Edges:    ProofTree(canon),
	}

	units, skipped := c.strategy.Decompose(canon)
	res.Skipped = skipped
	for _, err := range skipped {
		c.log.Warn("unit skipped", "reason", err)
	}
	if len(units) == 0 {
		if len(skipped) > 0 {
			return nil, fmt.Errorf("compile: no units produced: %w", skipped[0])
		}
		return nil, errors.New("compile: form decomposes into no units")
	}

	res.Units = c.dedupe(units)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i := range res.Units {
		u := &res.Units[i] // each worker owns one slice element
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			u.ArtifactPath, u.Disposition, u.Err = c.ensure(u.Kernel)
			if u.Err != nil && !isUnitError(u.Err) {
				return u.Err // store write or index corruption aborts the pass
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}

	if err := c.man.Save(c.store, c.prefix+"/"+ManifestFile); err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}
	if err := c.saveProofTree(res); err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}

	hits, lowered, failed := res.Counts()
	c.log.Info("compile pass complete",
		"form", res.FormHash, "units", len(res.Units),
		"hits", hits, "lowered", lowered, "failed", failed)
	return res, nil
}

// dedupe canonicalizes each unit independently, hashes it, merges units that
// canonicalize identically, and resolves name collisions between distinct
// units by suffixing a hash prefix.
func (c *Compiler) dedupe(units []Unit) []UnitResult {
	type slot struct{ idx int }
	byHash := map[sexp.Digest]slot{}
	namesToHashes := map[string]map[sexp.Digest]bool{}
	var out []UnitResult

	for _, u := range units {
		// Re-canonicalizing the extracted sub-tree renumbers binding levels
		// from zero, so an unmodified sub-expression hashes the same no
		// matter where it sat in the parent form.
		canon := sexp.Canonicalize(u.Form, c.opts)
		h := sexp.Hash(canon)
		if s, ok := byHash[h]; ok {
			out[s.idx].Refs++
			continue
		}
		byHash[h] = slot{idx: len(out)}
		out = append(out, UnitResult{
			Kernel: Kernel{Name: u.Name, Hash: h, Source: canon},
			Refs:   1,
		})
		if namesToHashes[u.Name] == nil {
			namesToHashes[u.Name] = map[sexp.Digest]bool{}
		}
		namesToHashes[u.Name][h] = true
	}

	// Distinct units competing for one human-readable name each get a hash
	// suffix; unambiguous names stay short.
	for i := range out {
		if len(namesToHashes[out[i].Name]) > 1 {
			out[i].Name = out[i].Name + "-" + out[i].Hash.Prefix(8)
		}
	}
	return out
}

// ensure reuses the unit's verified cached artifact or lowers and records a
// new one.
func (c *Compiler) ensure(k Kernel) (path string, disp Disposition, err error) {
	if e, ok := c.man.Lookup(k.Name, k.Hash); ok {
		verr := c.man.Verify(e, c.store, Hasher{})
		if verr == nil {
			cacheHitsTotal.Inc()
			c.log.Debug("cache hit", "kernel", k.Name, "hash", k.Hash)
			return e.ArtifactPath, Hit, nil
		}
		// Corrupt cache entries are discarded and recompiled, never
		// silently trusted.
		c.log.Warn("cache entry failed verification, recompiling",
			"kernel", k.Name, "error", verr)
		c.man.Remove(k.Name, k.Hash)
	}

	code, err := lower(k.Name, k.Source)
	if err != nil {
		lowerFailuresTotal.Inc()
		c.log.Warn("lowering failed", "kernel", k.Name, "error", err)
		return "", Failed, err
	}
	data, err := encodeArtifact(sexp.Serialize(k.Source), code)
	if err != nil {
		return "", Failed, &LoweringError{k.Name, err.Error()}
	}

	path = c.prefix + "/" + k.ArtifactName()
	if err := c.store.Write(path, data); err != nil {
		return "", Failed, err
	}
	err = c.man.Record(manifest.Entry{
		Name:         k.Name,
		Hash:         k.Hash,
		ArtifactPath: path,
		Size:         int64(len(data)),
	})
	if err != nil && !errors.Is(err, manifest.ErrDuplicate) {
		return "", Failed, err
	}
	loweredTotal.Inc()
	c.log.Debug("kernel lowered", "kernel", k.Name, "artifact", path, "bytes", len(data))
	return path, Lowered, nil
}

// isUnitError reports whether an error is fatal only to one unit.
func isUnitError(err error) bool {
	var le *LoweringError
	var de *DecompositionError
	return errors.As(err, &le) || errors.As(err, &de)
}

type proofTreeFile struct {
	Form sexp.Digest `toml:"form"`
	Edge []Edge      `toml:"edge"`
}

func (c *Compiler) saveProofTree(res *Result) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(proofTreeFile{Form: res.FormHash, Edge: res.Edges}); err != nil {
		return fmt.Errorf("proof tree save: %w", err)
	}
	return c.store.Write(c.prefix+"/"+ProofTreeFile, buf.Bytes())
}
