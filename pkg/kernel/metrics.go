package kernel

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "glyph_compiler_cache_hits_total",
		Help: "Kernel compilations skipped because a verified artifact was cached.",
	})
	loweredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "glyph_compiler_lowered_total",
		Help: "Kernels lowered to artifacts.",
	})
	lowerFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "glyph_compiler_failures_total",
		Help: "Kernel lowerings that failed.",
	})
)
