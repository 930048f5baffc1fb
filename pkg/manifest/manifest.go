// Package manifest implements the cache index mapping kernel identity to
// artifact location. It is the sole authority for locating a kernel's
// artifact; the store physically owns the bytes.
package manifest

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/glyphtools/glyph/pkg/sexp"
)

var (
	// ErrDuplicate is returned when a (name, hash) pair is recorded twice
	// with identical location. The pair is recorded at most once.
	ErrDuplicate = errors.New("manifest: duplicate entry")

	// ErrCorrupt is returned when a (name, hash) pair is re-recorded with a
	// different artifact path. Identity maps to exactly one location;
	// divergence means the index can no longer be trusted.
	ErrCorrupt = errors.New("manifest: conflicting entry")

	// ErrIntegrity is returned by Verify when the hash recomputed from
	// stored artifact bytes does not match the recorded hash.
	ErrIntegrity = errors.New("manifest: integrity failure")
)

// Entry maps a kernel's name and canonical hash to its stored artifact.
type Entry struct {
	Name         string      `toml:"name"`
	Hash         sexp.Digest `toml:"hash"`
	ArtifactPath string      `toml:"artifact_path"`
	Size         int64       `toml:"size"`
}

type key struct {
	name string
	hash sexp.Digest
}

// BlobReader is the read side of the artifact store, as the manifest needs
// it for verification.
type BlobReader interface {
	Read(name string) ([]byte, error)
}

// ArtifactHasher recomputes the canonical hash carried by stored artifact
// bytes. The kernel package provides the implementation for its artifact
// container.
type ArtifactHasher interface {
	HashArtifact(data []byte) (sexp.Digest, error)
}

// Manifest is an in-memory cache index, safe for concurrent use. Recording
// is serialized, so concurrent compilations of distinct kernels cannot lose
// entries.
type Manifest struct {
	mu      sync.Mutex
	entries map[key]Entry
}

// New returns an empty Manifest.
func New() *Manifest {
	return &Manifest{entries: make(map[key]Entry)}
}

// Lookup returns the entry recorded for (name, hash), if any.
func (m *Manifest) Lookup(name string, hash sexp.Digest) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key{name, hash}]
	return e, ok
}

// Record adds an entry. A pair already recorded at the same location yields
// ErrDuplicate; the same pair pointing at a different location yields
// ErrCorrupt, never an overwrite.
func (m *Manifest) Record(e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{e.Name, e.Hash}
	if prev, ok := m.entries[k]; ok {
		if prev.ArtifactPath != e.ArtifactPath {
			return fmt.Errorf("%w: %s@%s recorded at %s and %s",
				ErrCorrupt, e.Name, e.Hash, prev.ArtifactPath, e.ArtifactPath)
		}
		return fmt.Errorf("%w: %s@%s", ErrDuplicate, e.Name, e.Hash)
	}
	m.entries[k] = e
	return nil
}

// Remove discards an entry, typically after a failed Verify so the kernel is
// recompiled instead of trusted.
func (m *Manifest) Remove(name string, hash sexp.Digest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key{name, hash})
}

// Len returns the number of recorded entries.
func (m *Manifest) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Entries returns all entries ordered by name, then hash. The ordering keeps
// the persisted index stable and diffable across runs.
func (m *Manifest) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Hash < out[j].Hash
	})
	return out
}

// Verify recomputes the hash of the entry's stored artifact and compares it
// to the recorded hash. A missing artifact, undecodable container, size
// mismatch, or hash divergence is an integrity failure.
func (m *Manifest) Verify(e Entry, blobs BlobReader, h ArtifactHasher) error {
	data, err := blobs.Read(e.ArtifactPath)
	if err != nil {
		return fmt.Errorf("%w: %s@%s: %v", ErrIntegrity, e.Name, e.Hash, err)
	}
	if int64(len(data)) != e.Size {
		return fmt.Errorf("%w: %s@%s: size %d, recorded %d",
			ErrIntegrity, e.Name, e.Hash, len(data), e.Size)
	}
	got, err := h.HashArtifact(data)
	if err != nil {
		return fmt.Errorf("%w: %s@%s: %v", ErrIntegrity, e.Name, e.Hash, err)
	}
	if got != e.Hash {
		return fmt.Errorf("%w: %s@%s: recomputed %s", ErrIntegrity, e.Name, e.Hash, got)
	}
	return nil
}
