package iotsdk

// The native runtime is the locally linked SDK that owns the wire protocol
// to the hub. The SDK talks to it exclusively through the interfaces below;
// implementations wrap the actual binding.

// ConnectionDescriptor tells the runtime which identity to connect as and
// which credential source to use.
type ConnectionDescriptor struct {
	ClientType       ClientType
	ConnectionString string
	// FromEnvironment makes the runtime read its credentials from the
	// edge module environment instead of ConnectionString.
	FromEnvironment bool
}

// RuntimeCallbacks are the entry points the runtime invokes from inside
// DoWork. Every callback runs on the do-work driver's thread of control
// and must return quickly; none of them may wait on work that needs a
// later DoWork call.
type RuntimeCallbacks struct {
	// ConnectionStatus reports a connect/disconnect transition.
	ConnectionStatus func(status ConnectionStatus)
	// DesiredTwin delivers a desired-properties document or patch.
	DesiredTwin func(state TwinUpdateState, payload []byte)
	// IncomingMessage delivers a C2D message and expects a disposition.
	IncomingMessage func(msg *IotMessage) DispositionResult
	// DirectMethod delivers a method invocation and blocks until the
	// response is available; the callee bounds that wait.
	DirectMethod func(method string, payload []byte) DirectMethodResult
	// Confirmation reports the outcome of an outbound operation
	// previously issued with the given identifier. A zero code with
	// success false means the operation was dropped without a hub code.
	Confirmation func(operationID string, success bool, code int)
}

// Runtime creates connected handles. It is the single external
// collaborator wrapping the native SDK binding.
type Runtime interface {
	// Create establishes the native client for the described identity and
	// registers the callbacks. The returned handle is exclusively owned
	// by the caller until Destroy.
	Create(desc ConnectionDescriptor, callbacks RuntimeCallbacks) (RuntimeHandle, error)
}

// RuntimeHandle is one connected device/module identity. All methods are
// called from the do-work driver goroutine or before the driver starts;
// the handle never sees concurrent calls.
type RuntimeHandle interface {
	// DoWork runs one step of the runtime's internal state machine and
	// dispatches any pending callbacks. A non-nil error is fatal for the
	// connection and terminates the driver.
	DoWork() error

	// SendEvent hands an outgoing message to the runtime. It either
	// accepts immediately (confirmation follows asynchronously under
	// operationID) or fails synchronously.
	SendEvent(operationID string, msg *IotMessage) error

	// SendReported hands a reported-properties update to the runtime
	// under the same accept/confirm contract as SendEvent.
	SendReported(operationID string, payload []byte) error

	// RefreshTwin asks the runtime to deliver the full twin document
	// through the DesiredTwin callback.
	RefreshTwin() error

	// SetOption sets a runtime tuning option, e.g. verbose log tracing.
	SetOption(name string, value any) error

	// Destroy releases the native handle. No callback fires afterwards.
	Destroy()
}

// Runtime option names understood by SetOption.
const (
	// RuntimeOptionLogTrace toggles verbose native runtime logging.
	RuntimeOptionLogTrace = "logtrace"
)
