package runtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Serving-loop counters, registered on the default registry; the serve
// command exposes them over /metrics.
var (
	messagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "glyph",
		Subsystem: "runtime",
		Name:      "messages_total",
		Help:      "Messages dispatched to the evaluator.",
	})
	evalErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "glyph",
		Subsystem: "runtime",
		Name:      "eval_errors_total",
		Help:      "Messages that produced an evaluation error.",
	})
	swapsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "glyph",
		Subsystem: "runtime",
		Name:      "mount_swaps_total",
		Help:      "Hot swaps of the mounted artifact set.",
	})
)
