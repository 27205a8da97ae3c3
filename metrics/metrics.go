// Package metrics exposes Prometheus counters and a histogram for the
// packet factory's pipeline stages: frames stitched, tick frames
// formed, decrypt outcomes by tag, and align-to-tick search iterations.
// The registry is pull-based; nothing here pushes data anywhere.
//
// This package imports neither factory nor capture. factory.New takes an
// optional *Collector and increments its metrics as frames move through
// the pipeline; capture sources take one through SetMetrics to count
// warm-up discards.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector holds every metric the packet factory reports.
type Collector struct {
	StitchedFrames  prometheus.Counter
	MalformedFrames prometheus.Counter
	TickFrames      prometheus.Counter
	DecryptOutcomes *prometheus.CounterVec
	AlignIterations prometheus.Histogram
	WarmUpDiscards  prometheus.Counter
}

// New constructs a Collector and registers its metrics with reg. reg may
// be a fresh prometheus.NewRegistry() or prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		StitchedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tickcap",
			Subsystem: "stitcher",
			Name:      "frames_total",
			Help:      "Stitched frames emitted by the stitcher.",
		}),
		MalformedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tickcap",
			Subsystem: "stitcher",
			Name:      "malformed_frames_total",
			Help:      "Byte ranges dropped for a declared length below 5.",
		}),
		TickFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tickcap",
			Subsystem: "tickframe",
			Name:      "frames_total",
			Help:      "Tick frames formed by the tick-frame constructor.",
		}),
		DecryptOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tickcap",
			Subsystem: "decryptor",
			Name:      "outcomes_total",
			Help:      "Tick frames processed by the decryptor, by outcome.",
		}, []string{"outcome"}),
		AlignIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tickcap",
			Subsystem: "decryptor",
			Name:      "align_to_tick_iterations",
			Help:      "Keystream bytes searched per align-to-tick invocation.",
			Buckets:   prometheus.ExponentialBuckets(1, 8, 10),
		}),
		WarmUpDiscards: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tickcap",
			Subsystem: "capture",
			Name:      "warmup_discards_total",
			Help:      "TCP payloads withheld by the warm-up filter before it armed.",
		}),
	}
	reg.MustRegister(
		c.StitchedFrames,
		c.MalformedFrames,
		c.TickFrames,
		c.DecryptOutcomes,
		c.AlignIterations,
		c.WarmUpDiscards,
	)
	return c
}
