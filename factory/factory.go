// Package factory wires the stitcher, tick-frame constructor, and
// decryptor into the packet factory pipeline, adds the mutex-guarded
// output queue, and exposes the host-facing command surface as
// Controller.
package factory

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/yawning/tickcap/decryptor"
	"github.com/yawning/tickcap/framing"
	"github.com/yawning/tickcap/frames"
	"github.com/yawning/tickcap/metrics"
)

// Policy configures the factory's cold-path search bounds and threading
// model.
type Policy struct {
	// MaxAlignBytes bounds a genuine cold start (no previous tick at
	// all). Default 1e8.
	MaxAlignBytes int
	// FastBound bounds drift recovery (a fast-path validation just
	// failed, so the true offset is expected to be close).
	FastBound int
	// DecryptOnCaptureThread selects the single-threaded default (true)
	// or the worker-goroutine alternative (false).
	DecryptOnCaptureThread bool
}

// DefaultPolicy is the production configuration.
func DefaultPolicy() Policy {
	return Policy{
		MaxAlignBytes:          100_000_000,
		FastBound:              100_000_000,
		DecryptOnCaptureThread: true,
	}
}

// TestPolicy returns a policy with a much smaller search bound, for test
// suites that inject adversarial inputs and need align-to-tick failures
// to resolve quickly.
func TestPolicy() Policy {
	return Policy{
		MaxAlignBytes:          1 << 16,
		FastBound:              1 << 16,
		DecryptOnCaptureThread: true,
	}
}

// Outbox is the mutex-guarded, ordered, drainable sequence of typed
// frames shared between the capture thread (producer) and consumer
// threads (a UI, command handlers).
type Outbox struct {
	mu   sync.Mutex
	list []frames.Frame
}

// pushAll appends fs under the queue lock, unless stillValid reports
// that the tick which produced them went stale while in flight (a Reset
// fired mid-decrypt). Checking under the same lock Reset's clear takes
// closes the window where stale output could land after the clear: any
// push that wins the lock before the clear is wiped by it, and any push
// that loses sees the bumped generation and drops.
func (o *Outbox) pushAll(fs []frames.Frame, stillValid func() bool) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if stillValid != nil && !stillValid() {
		return false
	}
	o.list = append(o.list, fs...)
	return true
}

// Drain returns every frame accumulated so far and empties the outbox.
func (o *Outbox) Drain() []frames.Frame {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.list
	o.list = nil
	return out
}

// clear empties the outbox without returning its contents; Reset uses it
// so no pre-reset frame survives into the next session.
func (o *Outbox) clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.list = nil
}

// Factory is the packet factory: stitcher -> tick-frame constructor ->
// decryptor -> Outbox.
type Factory struct {
	policy  Policy
	log     *logrus.Logger
	metrics *metrics.Collector

	stitcher *framing.Stitcher
	ticker   *framing.TickFrameConstructor
	dec      *decryptor.Decryptor
	outbox   *Outbox

	// Worker-thread mode (Policy.DecryptOnCaptureThread == false):
	// tick frames are handed off over tickCh to a dedicated goroutine.
	// generation is the reset signal: Reset bumps it at any time --
	// including while the worker is blocked inside an align-to-tick
	// search -- every queued tick is tagged with the generation it was
	// enqueued under, and the worker drops any output whose generation
	// went stale before it reaches the outbox.
	tickCh     chan tickJob
	generation atomic.Uint64
	workerDone chan struct{}
}

// tickJob pairs a tick frame with the reset generation it was enqueued
// under, so the worker can tell a pre-reset leftover from fresh work.
type tickJob struct {
	tick framing.TickFrame
	gen  uint64
}

// New constructs a Factory keyed with key (decryptor.ServerKey for the
// observed direction). log and m may be nil.
func New(key []byte, policy Policy, log *logrus.Logger, m *metrics.Collector) (*Factory, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	dec, err := decryptor.New(key, decryptor.Policy{MaxAlignBytes: policy.MaxAlignBytes, FastBound: policy.FastBound}, log)
	if err != nil {
		return nil, err
	}

	f := &Factory{
		policy:   policy,
		log:      log,
		metrics:  m,
		stitcher: framing.NewStitcher(),
		ticker:   framing.NewTickFrameConstructor(),
		dec:      dec,
		outbox:   &Outbox{},
	}

	if !policy.DecryptOnCaptureThread {
		f.tickCh = make(chan tickJob, 64)
		f.workerDone = make(chan struct{})
		go f.workerLoop()
	}

	return f, nil
}

// Insert feeds raw TCP payload bytes into the stitcher and drives
// every stage downstream of it that becomes ready as a result. It is
// meant to be called from the single capture thread; nothing internal
// to Factory is safe to call concurrently from two producers.
func (f *Factory) Insert(payload []byte) {
	stitched := f.stitcher.Insert(payload, func(err error) {
		if f.metrics != nil {
			f.metrics.MalformedFrames.Inc()
		}
		f.log.WithField("component", "stitcher").WithError(err).Warn("dropped malformed frame range")
	})

	for _, sf := range stitched {
		if f.metrics != nil {
			f.metrics.StitchedFrames.Inc()
		}
		tick, ok := f.ticker.Insert(sf)
		if !ok {
			continue
		}
		if f.metrics != nil {
			f.metrics.TickFrames.Inc()
		}
		if f.policy.DecryptOnCaptureThread {
			f.processTick(tick, f.generation.Load())
		} else {
			f.tickCh <- tickJob{tick: tick, gen: f.generation.Load()}
		}
	}
}

// processTick runs tick through the decryptor and publishes every
// resulting plaintext stitched frame, dispatched into a typed frame, to
// the outbox. gen is the reset generation the tick belongs to: if a
// Reset bumps the counter while this call is in flight -- it can block
// inside the cold-path alignment search for the full budget -- the
// finished output is dropped rather than pushed, so a post-reset drain
// never sees pre-reset frames.
func (f *Factory) processTick(tick framing.TickFrame, gen uint64) {
	res, err := f.dec.Insert(tick)
	if err != nil {
		f.log.WithField("component", "decryptor").WithError(err).Warn("failed to process tick frame")
		return
	}

	if f.metrics != nil {
		f.metrics.DecryptOutcomes.WithLabelValues(res.Outcome.String()).Inc()
		if res.AlignIterations > 0 {
			f.metrics.AlignIterations.Observe(float64(res.AlignIterations))
		}
	}

	parsed := make([]frames.Frame, 0, len(res.Frames))
	for _, sf := range res.Frames {
		parsed = append(parsed, frames.Parse(sf.Tag, sf.Payload.Bytes()))
	}
	if !f.outbox.pushAll(parsed, func() bool { return f.generation.Load() == gen }) {
		f.log.WithField("component", "factory").Info("dropped in-flight tick frame output after reset")
	}
}

// workerLoop is the worker-goroutine alternative to decrypting on the
// capture thread: decryption runs off it, fed by tickCh. The worker is
// the only goroutine that touches the decryptor in this mode, so it
// performs the decryptor reset itself on observing a bumped generation;
// ticks enqueued under an older generation are discarded unprocessed,
// and an in-flight tick's output is discarded by processTick's
// publish-time check.
func (f *Factory) workerLoop() {
	defer close(f.workerDone)
	gen := f.generation.Load()
	for job := range f.tickCh {
		if g := f.generation.Load(); g != gen {
			f.dec.Reset()
			gen = g
		}
		if job.gen != gen {
			continue
		}
		f.processTick(job.tick, gen)
	}
}

// Reset empties every internal queue, resets the cipher to post-KSA,
// clears previous-tick state, and clears the outbox. Safe only while
// capture is stopped, or from the capture thread itself. In worker mode
// the decryptor reset is delegated to the worker goroutine via the
// generation bump (the worker owns the decryptor's state), and the bump
// is visible to a processTick already in flight, whose output is then
// dropped before it reaches the outbox.
func (f *Factory) Reset() {
	f.stitcher.Reset()
	f.ticker.Reset()
	if f.tickCh == nil {
		f.dec.Reset()
	} else {
		f.generation.Add(1)
	}
	f.outbox.clear()
}

// Drain returns every typed frame accumulated so far.
func (f *Factory) Drain() []frames.Frame {
	return f.outbox.Drain()
}

// Close shuts down the worker goroutine, if one was started. Safe to
// call on a Factory constructed with DecryptOnCaptureThread: true (a
// no-op in that case).
func (f *Factory) Close() {
	if f.tickCh == nil {
		return
	}
	close(f.tickCh)
	<-f.workerDone
}
