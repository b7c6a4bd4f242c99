package iotsdk

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// methodQueueCap bounds how many direct method invocations may be queued
// ahead of the consumer before the enqueue timeout starts biting.
const methodQueueCap = 16

// eventQueue is an unbounded FIFO between the driver goroutine and a
// consumer. push never blocks; a pump goroutine forwards items to out in
// order. close ends the stream promptly: undelivered items are dropped
// rather than leaving the pump blocked on a consumer that never reads.
type eventQueue[T any] struct {
	mu     sync.Mutex
	buf    []T
	closed bool
	wake   chan struct{}
	done   chan struct{}
	out    chan T
}

func newEventQueue[T any]() *eventQueue[T] {
	q := &eventQueue[T]{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		out:  make(chan T),
	}
	go q.pump()
	return q
}

func (q *eventQueue[T]) push(v T) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.buf = append(q.buf, v)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *eventQueue[T]) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.done)
}

func (q *eventQueue[T]) pump() {
	defer close(q.out)
	for {
		q.mu.Lock()
		batch := q.buf
		q.buf = nil
		q.mu.Unlock()

		if len(batch) == 0 {
			select {
			case <-q.wake:
				continue
			case <-q.done:
				return
			}
		}
		for _, v := range batch {
			select {
			case q.out <- v:
			case <-q.done:
				return
			}
		}
	}
}

// methodInvocation pairs one direct method call with its reply channel. The
// reply channel is 1-buffered so the responder never blocks.
type methodInvocation struct {
	call  DirectMethodCall
	reply chan DirectMethodResult
}

// respond delivers the result for this invocation. Only the first call has
// an effect.
func (m *methodInvocation) respond(res DirectMethodResult) {
	select {
	case m.reply <- res:
	default:
	}
}

// callbackRelay converts native runtime callbacks into hand-offs that never
// wait on a future driver tick. It is the single producer for the status,
// twin, message and method streams and for confirmation resolution.
type callbackRelay struct {
	registry *operationRegistry
	logger   Logger

	methodEnqueueTimeout  time.Duration
	methodResponseTimeout time.Duration

	statusQ   *eventQueue[ConnectionStatus]
	messageQ  *eventQueue[*IotMessage]
	twinCh    chan TwinUpdate
	methodCh  chan *methodInvocation
	closed    chan struct{}
	closeOnce sync.Once
}

func newCallbackRelay(registry *operationRegistry, logger Logger, methodEnqueueTimeout, methodResponseTimeout time.Duration) *callbackRelay {
	return &callbackRelay{
		registry:              registry,
		logger:                logger,
		methodEnqueueTimeout:  methodEnqueueTimeout,
		methodResponseTimeout: methodResponseTimeout,
		statusQ:               newEventQueue[ConnectionStatus](),
		messageQ:              newEventQueue[*IotMessage](),
		twinCh:                make(chan TwinUpdate, 1),
		methodCh:              make(chan *methodInvocation, methodQueueCap),
		closed:                make(chan struct{}),
	}
}

// callbacks returns the callback set to register with the native runtime.
func (r *callbackRelay) callbacks() RuntimeCallbacks {
	return RuntimeCallbacks{
		ConnectionStatus: r.onConnectionStatus,
		DesiredTwin:      r.onDesiredTwin,
		IncomingMessage:  r.onIncomingMessage,
		DirectMethod:     r.onDirectMethod,
		Confirmation:     r.onConfirmation,
	}
}

func (r *callbackRelay) close() {
	r.closeOnce.Do(func() {
		close(r.closed)
		r.statusQ.close()
		r.messageQ.close()
		// Safe to close directly: no callback fires after the driver has
		// stopped, so there is no concurrent producer left.
		close(r.twinCh)
	})
}

func (r *callbackRelay) statusStream() <-chan ConnectionStatus { return r.statusQ.out }
func (r *callbackRelay) messageStream() <-chan *IotMessage     { return r.messageQ.out }
func (r *callbackRelay) twinStream() <-chan TwinUpdate         { return r.twinCh }
func (r *callbackRelay) methodStream() <-chan *methodInvocation {
	return r.methodCh
}

// onConnectionStatus queues the transition. Every transition is delivered
// in order; a slow consumer buffers, it never drops or coalesces.
func (r *callbackRelay) onConnectionStatus(status ConnectionStatus) {
	r.logger.Info("connection status changed",
		"connected", status.Connected, "reason", string(status.Reason))
	r.statusQ.push(status)
}

// onDesiredTwin publishes the update into a latest-value slot. A consumer
// that missed intermediate patches observes the newest state, which is the
// desired-twin contract: the document converges, intermediate values do not
// matter.
func (r *callbackRelay) onDesiredTwin(state TwinUpdateState, payload []byte) {
	select {
	case <-r.closed:
		return
	default:
	}
	update := TwinUpdate{State: state, Desired: json.RawMessage(payload)}
	update.Version = twinVersion(payload)
	for {
		select {
		case r.twinCh <- update:
			return
		default:
		}
		select {
		case <-r.twinCh:
		default:
		}
	}
}

// onIncomingMessage queues the message and accepts it. The queue is
// unbounded, so delivery to the consumer never holds up the driver.
func (r *callbackRelay) onIncomingMessage(msg *IotMessage) DispositionResult {
	select {
	case <-r.closed:
		return DispositionAbandoned
	default:
	}
	msg.Direction = DirectionIncoming
	r.messageQ.push(msg)
	return DispositionAccepted
}

// onDirectMethod hands the invocation to the method consumer and waits a
// bounded time for the response. Both phases are hard-bounded so a missing
// or stuck consumer degrades to an error response instead of stalling the
// driver forever.
func (r *callbackRelay) onDirectMethod(method string, payload []byte) DirectMethodResult {
	inv := &methodInvocation{
		call:  DirectMethodCall{Method: method, Payload: json.RawMessage(payload)},
		reply: make(chan DirectMethodResult, 1),
	}

	enqueue := time.NewTimer(r.methodEnqueueTimeout)
	defer enqueue.Stop()
	select {
	case r.methodCh <- inv:
	case <-enqueue.C:
		r.logger.Warn("direct method dropped, consumer not keeping up", "method", method)
		return methodError(fmt.Sprintf("method %q not accepted in time", method))
	case <-r.closed:
		return methodError("client closed")
	}

	wait := time.NewTimer(r.methodResponseTimeout)
	defer wait.Stop()
	select {
	case res := <-inv.reply:
		return res
	case <-wait.C:
		r.logger.Warn("direct method response overdue", "method", method)
		return methodError(fmt.Sprintf("method %q timed out", method))
	case <-r.closed:
		return methodError("client closed")
	}
}

// onConfirmation resolves the pending operation for the reported
// identifier. Unknown identifiers are late confirmations after a timeout
// and are counted and dropped; double resolution indicates a runtime
// binding bug and is logged loudly.
func (r *callbackRelay) onConfirmation(operationID string, success bool, code int) {
	outcome := Outcome{Code: code}
	switch {
	case success:
		outcome.Status = OutcomeConfirmed
	case code != 0:
		outcome.Status = OutcomeConfirmedError
	default:
		outcome.Status = OutcomeTransportError
	}

	switch err := r.registry.resolve(operationID, outcome); err {
	case nil:
	case ErrUnknownOperation:
		r.logger.Debug("discarding late confirmation",
			"operation_id", operationID, "discarded_total", r.registry.discardCount())
	case ErrAlreadyResolved:
		r.logger.Error("duplicate confirmation from runtime", "operation_id", operationID)
	default:
		r.logger.Error("confirmation resolution failed", "operation_id", operationID, "error", err)
	}
}

func methodError(msg string) DirectMethodResult {
	body, _ := json.Marshal(map[string]string{"error": msg})
	return DirectMethodResult{Code: DirectMethodStatusError, Payload: body}
}

// twinVersion extracts $version from a desired-properties document. Partial
// patches carry it at the top level, complete documents under "desired".
func twinVersion(payload []byte) int64 {
	var probe struct {
		Version *int64 `json:"$version"`
		Desired *struct {
			Version int64 `json:"$version"`
		} `json:"desired"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return 0
	}
	if probe.Version != nil {
		return *probe.Version
	}
	if probe.Desired != nil {
		return probe.Desired.Version
	}
	return 0
}
