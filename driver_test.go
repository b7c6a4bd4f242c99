package iotsdk

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeHandle is a scripted RuntimeHandle. All methods run on the driver
// goroutine; the mutex only guards inspection from the test goroutine.
type fakeHandle struct {
	mu        sync.Mutex
	callbacks RuntimeCallbacks

	doWorkCount atomic.Int64
	doWorkErr   error
	sendErr     error
	destroyed   atomic.Bool

	sentEvents   []string
	sentReported []string
	// confirmNext queues operation IDs to confirm on the next DoWork.
	confirmNext []string
	confirmOK   bool
	confirmCode int
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{confirmOK: true, confirmCode: 204}
}

func (h *fakeHandle) DoWork() error {
	h.doWorkCount.Add(1)
	h.mu.Lock()
	pending := h.confirmNext
	h.confirmNext = nil
	cb := h.callbacks.Confirmation
	ok, code := h.confirmOK, h.confirmCode
	err := h.doWorkErr
	h.mu.Unlock()

	if cb != nil {
		for _, id := range pending {
			cb(id, ok, code)
		}
	}
	return err
}

func (h *fakeHandle) SendEvent(operationID string, msg *IotMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sendErr != nil {
		return h.sendErr
	}
	h.sentEvents = append(h.sentEvents, operationID)
	h.confirmNext = append(h.confirmNext, operationID)
	return nil
}

func (h *fakeHandle) SendReported(operationID string, payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sendErr != nil {
		return h.sendErr
	}
	h.sentReported = append(h.sentReported, operationID)
	h.confirmNext = append(h.confirmNext, operationID)
	return nil
}

func (h *fakeHandle) RefreshTwin() error { return nil }

func (h *fakeHandle) SetOption(name string, value any) error { return nil }

func (h *fakeHandle) Destroy() { h.destroyed.Store(true) }

func (h *fakeHandle) setDoWorkErr(err error) {
	h.mu.Lock()
	h.doWorkErr = err
	h.mu.Unlock()
}

func (h *fakeHandle) setSendErr(err error) {
	h.mu.Lock()
	h.sendErr = err
	h.mu.Unlock()
}

// fakeRuntime hands out a prepared fakeHandle.
type fakeRuntime struct {
	handle    *fakeHandle
	createErr error
	lastDesc  ConnectionDescriptor
}

func (r *fakeRuntime) Create(desc ConnectionDescriptor, callbacks RuntimeCallbacks) (RuntimeHandle, error) {
	if r.createErr != nil {
		return nil, r.createErr
	}
	r.lastDesc = desc
	r.handle.mu.Lock()
	r.handle.callbacks = callbacks
	r.handle.mu.Unlock()
	return r.handle, nil
}

func TestDoWorkDriver_TicksAtCadence(t *testing.T) {
	handle := newFakeHandle()
	registry := newTestRegistry()
	driver := newDoWorkDriver(handle, registry, time.Millisecond, NewNoopLogger(), NewSystemClock())

	driver.start()
	time.Sleep(60 * time.Millisecond)
	driver.stop()

	ticks := handle.doWorkCount.Load()
	if ticks < 10 {
		t.Errorf("Expected at least 10 ticks in 60ms at 1ms cadence, got %d", ticks)
	}
	if !handle.destroyed.Load() {
		t.Error("Expected handle destroyed after stop")
	}

	status := driver.status()
	if status.Running {
		t.Error("Expected status not running after stop")
	}
	if status.TotalTicks != ticks {
		t.Errorf("Expected status ticks %d, got %d", ticks, status.TotalTicks)
	}
}

func TestDoWorkDriver_SubmitRunsOnDriverGoroutine(t *testing.T) {
	handle := newFakeHandle()
	registry := newTestRegistry()
	driver := newDoWorkDriver(handle, registry, time.Millisecond, NewNoopLogger(), NewSystemClock())
	driver.start()
	defer driver.stop()

	err := driver.submit(func(h RuntimeHandle) error {
		return h.SendEvent("op-1", &IotMessage{Body: []byte("x")})
	})
	if err != nil {
		t.Fatalf("Unexpected submit error: %v", err)
	}

	handle.mu.Lock()
	sent := len(handle.sentEvents)
	handle.mu.Unlock()
	if sent != 1 {
		t.Errorf("Expected 1 sent event, got %d", sent)
	}
}

func TestDoWorkDriver_SubmitErrorPropagates(t *testing.T) {
	handle := newFakeHandle()
	handle.setSendErr(errors.New("runtime rejected"))
	registry := newTestRegistry()
	driver := newDoWorkDriver(handle, registry, time.Millisecond, NewNoopLogger(), NewSystemClock())
	driver.start()
	defer driver.stop()

	err := driver.submit(func(h RuntimeHandle) error {
		return h.SendEvent("op-1", &IotMessage{Body: []byte("x")})
	})
	if err == nil || err.Error() != "runtime rejected" {
		t.Errorf("Expected synchronous runtime error, got %v", err)
	}
}

func TestDoWorkDriver_StopResolvesPendingWithShutdown(t *testing.T) {
	handle := newFakeHandle()
	registry := newTestRegistry()
	driver := newDoWorkDriver(handle, registry, time.Millisecond, NewNoopLogger(), NewSystemClock())
	driver.start()

	op := registry.register()
	driver.stop()

	outcome, err := registry.await(context.Background(), op, time.Second)
	if err != nil {
		t.Fatalf("Unexpected await error: %v", err)
	}
	if outcome.Status != OutcomeShutdown {
		t.Errorf("Expected SHUTDOWN, got %v", outcome.Status)
	}
}

func TestDoWorkDriver_FatalDoWorkTerminatesLoop(t *testing.T) {
	handle := newFakeHandle()
	registry := newTestRegistry()
	driver := newDoWorkDriver(handle, registry, time.Millisecond, NewNoopLogger(), NewSystemClock())
	driver.start()

	op := registry.register()
	handle.setDoWorkErr(errors.New("connection lost"))

	// A fatal exit drains pending operations the same way stop does; the
	// cause is reported through the driver status, not per operation.
	outcome, err := registry.await(context.Background(), op, time.Second)
	if err != nil {
		t.Fatalf("Unexpected await error: %v", err)
	}
	if outcome.Status != OutcomeShutdown {
		t.Errorf("Expected SHUTDOWN after fatal do-work, got %v", outcome.Status)
	}
	if !handle.destroyed.Load() {
		t.Error("Expected handle destroyed after fatal error")
	}

	if err := driver.submit(func(h RuntimeHandle) error { return nil }); !errors.Is(err, ErrDriverStopped) {
		t.Errorf("Expected ErrDriverStopped for submit after fatal, got %v", err)
	}

	status := driver.status()
	if status.LastError == "" {
		t.Error("Expected last error recorded in driver status")
	}

	// stop after a fatal exit must not hang.
	driver.stop()
}

func TestDoWorkDriver_SubmitAfterStop(t *testing.T) {
	handle := newFakeHandle()
	registry := newTestRegistry()
	driver := newDoWorkDriver(handle, registry, time.Millisecond, NewNoopLogger(), NewSystemClock())
	driver.start()
	driver.stop()

	err := driver.submit(func(h RuntimeHandle) error { return nil })
	if !errors.Is(err, ErrDriverStopped) {
		t.Errorf("Expected ErrDriverStopped, got %v", err)
	}
}

func TestDoWorkDriver_StopIdempotent(t *testing.T) {
	handle := newFakeHandle()
	registry := newTestRegistry()
	driver := newDoWorkDriver(handle, registry, time.Millisecond, NewNoopLogger(), NewSystemClock())
	driver.start()
	driver.stop()
	driver.stop()
}
