package factory

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/yawning/tickcap/capture"
	"github.com/yawning/tickcap/decryptor"
	"github.com/yawning/tickcap/frames"
	"github.com/yawning/tickcap/metrics"
)

// ErrNoDeviceSelected is returned by Start when SelectDevice has not
// been called.
var ErrNoDeviceSelected = errors.New("factory: no capture device selected")

// ErrAlreadyCapturing is returned by Start/StartFromFile when a capture
// loop is already running.
var ErrAlreadyCapturing = errors.New("factory: capture already running")

// Controller ties a capture.Source to a Factory and exposes the host
// command surface: ListDevices, SelectDevice, Start, StartFromFile,
// Stop, Drain. cmd/tickcap and httpapi are two thin presentations of
// the same Controller.
type Controller struct {
	mu sync.Mutex

	policy  Policy
	log     *logrus.Logger
	metrics *metrics.Collector

	factory *Factory
	device  string

	source  capture.Source
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewController constructs a Controller. log and m may be nil.
func NewController(policy Policy, log *logrus.Logger, m *metrics.Collector) (*Controller, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	f, err := New(decryptor.ServerKey, policy, log, m)
	if err != nil {
		return nil, err
	}
	return &Controller{policy: policy, log: log, metrics: m, factory: f}, nil
}

// ListDevices returns a description of every capture-capable device.
func (c *Controller) ListDevices() ([]string, error) {
	return capture.ListDevices()
}

// SelectDevice records the device Start will capture from.
func (c *Controller) SelectDevice(description string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.device = description
}

// Start begins live capture on the previously selected device.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.source != nil {
		return ErrAlreadyCapturing
	}
	if c.device == "" {
		return ErrNoDeviceSelected
	}

	src, err := capture.NewPcapLiveSource(c.device)
	if err != nil {
		return fmt.Errorf("factory: open live capture: %w", err)
	}
	if c.metrics != nil {
		src.SetMetrics(c.metrics)
	}
	c.startLocked(src)
	return nil
}

// StartFromFile begins file replay from path.
func (c *Controller) StartFromFile(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.source != nil {
		return ErrAlreadyCapturing
	}

	src, err := capture.NewPcapFileSource(path)
	if err != nil {
		return fmt.Errorf("factory: open capture file: %w", err)
	}
	if c.metrics != nil {
		src.SetMetrics(c.metrics)
	}
	c.startLocked(src)
	return nil
}

// startLocked resets the factory, installs src as the active source, and
// spawns the capture loop goroutine. c.mu must be held.
func (c *Controller) startLocked(src capture.Source) {
	c.factory.Reset()
	c.source = src
	c.stopCh = make(chan struct{})
	c.wg.Add(1)
	go c.captureLoop(src, c.stopCh)
}

// captureLoop is the single dedicated capture goroutine: it owns src and
// pushes bytes into the factory synchronously until told to stop or the
// source reaches end of stream.
func (c *Controller) captureLoop(src capture.Source, stop <-chan struct{}) {
	defer c.wg.Done()
	defer src.Close()

	for {
		select {
		case <-stop:
			return
		default:
		}

		payload, _, err := src.NextPacket()
		switch {
		case err == nil:
			if len(payload) > 0 {
				c.factory.Insert(payload)
			}
		case errors.Is(err, capture.ErrTimeout):
			// Responsive to stop within ~1s; loop around to
			// re-check stop.
		case errors.Is(err, io.EOF):
			c.log.WithField("component", "capture").Info("end of stream")
			return
		default:
			c.log.WithField("component", "capture").WithError(err).Warn("capture read error")
			return
		}
	}
}

// Stop signals the capture goroutine and joins it.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.stopCh == nil {
		c.mu.Unlock()
		return
	}
	close(c.stopCh)
	c.mu.Unlock()

	c.wg.Wait()

	c.mu.Lock()
	c.source = nil
	c.stopCh = nil
	c.mu.Unlock()
}

// Drain returns every typed frame accumulated since the last Drain.
func (c *Controller) Drain() []frames.Frame {
	return c.factory.Drain()
}
