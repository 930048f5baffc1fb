package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/glyphtools/glyph/pkg/config"
	"github.com/glyphtools/glyph/pkg/kernel"
	"github.com/glyphtools/glyph/pkg/logging"
	"github.com/glyphtools/glyph/pkg/manifest"
	"github.com/glyphtools/glyph/pkg/sexp"
	"github.com/glyphtools/glyph/pkg/store"
)

// setup is the shared project context every subcommand works against.
type setup struct {
	cfg    *config.Config
	store  *store.Store
	logger *slog.Logger
}

func loadSetup(cmd *cobra.Command) (*setup, error) {
	// The flag lives on the root command; a subcommand run standalone in
	// tests falls back to the default file name.
	path := config.DefaultFile
	if f := cmd.Flags().Lookup("config"); f != nil {
		path = f.Value.String()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(os.Stderr, level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	return &setup{
		cfg:    cfg,
		store:  store.New(cfg.Store.Root),
		logger: logger,
	}, nil
}

// manifestPath is the index location under the configured store prefix.
func (s *setup) manifestPath() string {
	return s.cfg.Store.Prefix + "/" + kernel.ManifestFile
}

// loadManifest reads the persisted index; a fresh store yields an empty one.
func (s *setup) loadManifest() (*manifest.Manifest, error) {
	return manifest.Load(s.store, s.manifestPath())
}

// newCompiler wires a compiler from the project configuration.
func (s *setup) newCompiler(man *manifest.Manifest) (*kernel.Compiler, error) {
	strat, err := kernel.StrategyByName(s.cfg.Strategy)
	if err != nil {
		return nil, err
	}
	return kernel.New(s.store, man,
		kernel.WithStrategy(strat),
		kernel.WithCanonOptions(s.cfg.CanonOptions()),
		kernel.WithPrefix(s.cfg.Store.Prefix),
		kernel.WithLogger(logging.Component(s.logger, "compiler")),
	), nil
}

// parseFile reads and parses one source file of symbolic forms.
func parseFile(path string) (sexp.Form, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	form, err := sexp.Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return form, nil
}
