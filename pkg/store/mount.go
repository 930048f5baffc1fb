package store

import "fmt"

// MountError reports a failed namespace binding.
type MountError struct {
	Source string
	Target string
	Reason string
}

func (e *MountError) Error() string {
	return fmt.Sprintf("mount %s -> %s: %s", e.Source, e.Target, e.Reason)
}

// Mount is a namespace view over a store prefix. It binds names under a
// target namespace onto store paths without copying data.
type Mount struct {
	store  *Store
	source string
	target string
}

// Mount binds sourcePrefix into a target namespace. The source prefix must
// already contain at least one blob; binding an empty prefix is refused so a
// runtime never serves from a namespace with nothing behind it.
func (s *Store) Mount(sourcePrefix, target string) (*Mount, error) {
	src, err := cleanPath(sourcePrefix)
	if err != nil {
		return nil, &MountError{sourcePrefix, target, err.Error()}
	}
	names, err := s.List(src)
	if err != nil {
		return nil, &MountError{sourcePrefix, target, err.Error()}
	}
	if len(names) == 0 {
		return nil, &MountError{sourcePrefix, target, "source prefix is empty"}
	}
	return &Mount{store: s, source: src, target: target}, nil
}

// Target returns the namespace the mount serves.
func (m *Mount) Target() string {
	return m.target
}

// Resolve maps a namespace-relative name onto its store path.
func (m *Mount) Resolve(name string) (string, error) {
	cleaned, err := cleanPath(name)
	if err != nil {
		return "", err
	}
	return m.source + "/" + cleaned, nil
}

// Read reads a blob through the mount by namespace-relative name.
func (m *Mount) Read(name string) ([]byte, error) {
	p, err := m.Resolve(name)
	if err != nil {
		return nil, err
	}
	return m.store.Read(p)
}

// List returns the namespace-relative names visible through the mount.
func (m *Mount) List() ([]string, error) {
	paths, err := m.store.List(m.source)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		names = append(names, p[len(m.source)+1:])
	}
	return names, nil
}
