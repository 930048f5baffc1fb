package manifest

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/glyphtools/glyph/pkg/store"
)

// fileFormat is the persisted shape: an ordered array of entry tables.
type fileFormat struct {
	Kernel []Entry `toml:"kernel"`
}

// Save persists the manifest as TOML at the given store path. Entries are
// written in name order so consecutive runs produce diffable files. The
// write inherits the store's atomicity.
func (m *Manifest) Save(s *store.Store, path string) error {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(fileFormat{Kernel: m.Entries()}); err != nil {
		return fmt.Errorf("manifest save: %w", err)
	}
	if err := s.Write(path, buf.Bytes()); err != nil {
		return fmt.Errorf("manifest save: %w", err)
	}
	return nil
}

// Load reads a persisted manifest from the store. A missing file yields an
// empty manifest, so first runs start with a cold cache.
func Load(s *store.Store, path string) (*Manifest, error) {
	m := New()
	data, err := s.Read(path)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return m, nil
		}
		return nil, fmt.Errorf("manifest load: %w", err)
	}
	var ff fileFormat
	if err := toml.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("manifest load: %w", err)
	}
	for _, e := range ff.Kernel {
		if err := m.Record(e); err != nil {
			return nil, fmt.Errorf("manifest load: %w", err)
		}
	}
	return m, nil
}
