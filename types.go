package iotsdk

import (
	"encoding/json"
)

// Version is the SDK version string reported to applications.
const Version = "0.5.0"

// ClientType selects which hub identity the client connects as.
type ClientType string

const (
	ClientTypeDevice ClientType = "DEVICE"
	ClientTypeModule ClientType = "MODULE"
	ClientTypeEdge   ClientType = "EDGE"
)

// DisconnectReason is the closed set of causes the native runtime reports
// when a connection is lost or cannot be established.
type DisconnectReason string

const (
	DisconnectExpiredCredentials DisconnectReason = "EXPIRED_SAS_TOKEN"
	DisconnectDeviceDisabled     DisconnectReason = "DEVICE_DISABLED"
	DisconnectBadCredential      DisconnectReason = "BAD_CREDENTIAL"
	DisconnectRetryExpired       DisconnectReason = "RETRY_EXPIRED"
	DisconnectNoNetwork          DisconnectReason = "NO_NETWORK"
	DisconnectCommunicationError DisconnectReason = "COMMUNICATION_ERROR"
	DisconnectClientClose        DisconnectReason = "CLIENT_CLOSE"
)

// ConnectionStatus is one transition reported by the native runtime.
// Reason is empty while Connected is true.
type ConnectionStatus struct {
	Connected bool
	Reason    DisconnectReason
}

// TwinUpdateState indicates whether a desired-properties update carries the
// full document or a partial patch.
type TwinUpdateState string

const (
	TwinUpdateComplete TwinUpdateState = "COMPLETE"
	TwinUpdatePartial  TwinUpdateState = "PARTIAL"
)

// TwinUpdate is one desired-properties delivery. Ownership of the payload
// passes to the observer; the SDK does not retain it.
type TwinUpdate struct {
	State   TwinUpdateState
	Desired json.RawMessage
	Version int64
}

// OutcomeStatus is the closed set of terminal states for an outbound
// confirmation-requiring operation.
type OutcomeStatus string

const (
	// OutcomeConfirmed means the hub accepted the operation.
	OutcomeConfirmed OutcomeStatus = "CONFIRMED"
	// OutcomeConfirmedError means the hub explicitly reported a delivery
	// failure; Outcome.Code carries the reported code.
	OutcomeConfirmedError OutcomeStatus = "CONFIRMED_ERROR"
	// OutcomeTimedOut means no confirmation arrived within the bound; the
	// operation is presumed permanently lost.
	OutcomeTimedOut OutcomeStatus = "TIMED_OUT"
	// OutcomeTransportError means the native runtime dropped the operation
	// without a hub-side code (e.g. teardown mid-flight).
	OutcomeTransportError OutcomeStatus = "TRANSPORT_ERROR"
	// OutcomeShutdown means the client shut down while the operation was
	// still pending.
	OutcomeShutdown OutcomeStatus = "SHUTDOWN"
)

// Outcome is the result of a confirmation-requiring operation.
type Outcome struct {
	Status OutcomeStatus
	Code   int
}

// Confirmed reports whether the operation fully succeeded.
func (o Outcome) Confirmed() bool { return o.Status == OutcomeConfirmed }

// DispositionResult is returned to the native runtime for an incoming
// cloud-to-device message.
type DispositionResult string

const (
	DispositionAccepted  DispositionResult = "ACCEPTED"
	DispositionRejected  DispositionResult = "REJECTED"
	DispositionAbandoned DispositionResult = "ABANDONED"
)

// Direct method response codes understood by the hub.
const (
	DirectMethodStatusOK    = 200
	DirectMethodStatusError = 401
)

// DirectMethodCall is a remotely invoked procedure call surfaced to the
// application.
type DirectMethodCall struct {
	Method  string
	Payload json.RawMessage
}

// DirectMethodResult is the response the native runtime hands back to the
// hub for a direct method invocation.
type DirectMethodResult struct {
	Code    int
	Payload json.RawMessage
}

// DirectMethodHandler processes a direct method call. A nil payload with a
// nil error answers with an empty JSON object and status 200; a non-nil
// error answers with status 401 and the error text.
type DirectMethodHandler func(method string, payload json.RawMessage) (json.RawMessage, error)
