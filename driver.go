package iotsdk

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// ErrDriverStopped is returned for operations submitted after the do-work
// driver has terminated.
var ErrDriverStopped = errors.New("do-work driver stopped")

// DriverStatus is a snapshot of the do-work loop for diagnostics.
type DriverStatus struct {
	Running    bool      `json:"running"`
	LastTick   time.Time `json:"last_tick,omitempty"`
	TotalTicks int64     `json:"total_ticks"`
	LastError  string    `json:"last_error,omitempty"`
}

// handleRequest is one native call funneled onto the driver goroutine. The
// err channel is 1-buffered so the driver never blocks on the reply.
type handleRequest struct {
	fn  func(RuntimeHandle) error
	err chan error
}

// doWorkDriver owns the native handle. It pumps DoWork at a fixed cadence
// on a locked OS thread and serializes every other handle call onto the
// same goroutine, so the handle never sees concurrent use.
type doWorkDriver struct {
	handle   RuntimeHandle
	registry *operationRegistry
	interval time.Duration
	logger   Logger
	clock    Clock

	started atomic.Bool
	running atomic.Bool
	reqCh   chan handleRequest
	stopCh  chan struct{}
	doneCh  chan struct{}
	wg      sync.WaitGroup

	mu         sync.RWMutex
	lastTick   time.Time
	totalTicks int64
	lastErr    error
}

func newDoWorkDriver(handle RuntimeHandle, registry *operationRegistry, interval time.Duration, logger Logger, clock Clock) *doWorkDriver {
	return &doWorkDriver{
		handle:   handle,
		registry: registry,
		interval: interval,
		logger:   logger,
		clock:    clock,
		reqCh:    make(chan handleRequest),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (d *doWorkDriver) start() {
	if d.started.Swap(true) {
		return
	}
	d.running.Store(true)
	d.wg.Add(1)
	go d.loop()
}

// stop terminates the loop and waits for it to drain. Every operation still
// pending resolves with OutcomeShutdown before stop returns.
func (d *doWorkDriver) stop() {
	if !d.started.Load() {
		return
	}
	if !d.running.Swap(false) {
		<-d.doneCh
		return
	}
	close(d.stopCh)
	d.wg.Wait()
}

// submit runs fn on the driver goroutine between ticks and returns its
// error. It does not wait for a tick: the loop serves requests as soon as
// the current DoWork step finishes.
func (d *doWorkDriver) submit(fn func(RuntimeHandle) error) error {
	req := handleRequest{fn: fn, err: make(chan error, 1)}
	select {
	case d.reqCh <- req:
	case <-d.doneCh:
		return ErrDriverStopped
	}
	select {
	case err := <-req.err:
		return err
	case <-d.doneCh:
		// The loop may have served the request in the same instant it
		// shut down; the delivered result wins over the stop signal.
		select {
		case err := <-req.err:
			return err
		default:
			return ErrDriverStopped
		}
	}
}

func (d *doWorkDriver) status() DriverStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s := DriverStatus{
		Running:    d.running.Load(),
		LastTick:   d.lastTick,
		TotalTicks: d.totalTicks,
	}
	if d.lastErr != nil {
		s.LastError = d.lastErr.Error()
	}
	return s
}

func (d *doWorkDriver) loop() {
	// The native runtime associates state with the calling thread.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer d.wg.Done()

	// Whether the loop ends by request or by a fatal DoWork error, every
	// pending operation resolves with the shutdown outcome; the cause of a
	// fatal exit is kept in the driver status.
	defer func() {
		d.running.Store(false)
		d.registry.resolveAll(Outcome{Status: OutcomeShutdown})
		d.handle.Destroy()
		close(d.doneCh)
	}()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := d.tick(); err != nil {
				d.logger.Error("do-work failed, terminating driver", "error", err)
				d.setLastErr(err)
				return
			}
		case req := <-d.reqCh:
			req.err <- req.fn(d.handle)
		case <-d.stopCh:
			return
		}
	}
}

func (d *doWorkDriver) tick() error {
	d.mu.Lock()
	d.lastTick = d.clock.Now()
	d.totalTicks++
	d.mu.Unlock()
	return d.handle.DoWork()
}

func (d *doWorkDriver) setLastErr(err error) {
	d.mu.Lock()
	d.lastErr = err
	d.mu.Unlock()
}
