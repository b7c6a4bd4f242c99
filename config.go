package iotsdk

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Environment variables read by OptionsFromEnv.
const (
	// EnvDoWorkFrequency overrides the do-work cadence, in milliseconds.
	EnvDoWorkFrequency = "DO_WORK_FREQUENCY_IN_MS"
	// EnvConfirmationTimeout overrides the confirmation bound, in seconds.
	EnvConfirmationTimeout = "CONFIRMATION_TIMEOUT_IN_SECS"
	// EnvVerboseLog enables verbose native runtime tracing when set to a
	// true-ish value ("1", "true").
	EnvVerboseLog = "IOTHUB_SDK_VERBOSE_LOG"
	// EnvIdentityServiceAddr points at the local identity service HTTP
	// endpoint used to obtain a connection string.
	EnvIdentityServiceAddr = "IDENTITY_SERVICE_HTTP_ADDR"
)

// Do-work cadence bounds. Values outside the range are rejected, never
// clamped: a misconfigured cadence should fail loudly at startup.
const (
	MinDoWorkFrequency     = 1 * time.Millisecond
	MaxDoWorkFrequency     = 100 * time.Millisecond
	DefaultDoWorkFrequency = 100 * time.Millisecond
)

// Confirmation timeout bounds.
const (
	MinConfirmationTimeout     = 1 * time.Second
	MaxConfirmationTimeout     = 5 * time.Minute
	DefaultConfirmationTimeout = 5 * time.Second
)

// Direct method hand-off bounds. The enqueue bound keeps a stalled
// consumer from wedging the driver; the response bound matches the
// hub-side method timeout so a handler that never answers degrades to an
// error response instead of stalling the callback path.
const (
	MinMethodTimeout             = 10 * time.Millisecond
	MaxMethodTimeout             = 5 * time.Minute
	DefaultMethodEnqueueTimeout  = 1 * time.Second
	DefaultMethodResponseTimeout = 30 * time.Second
)

var (
	ErrInvalidFrequency           = errors.New("do-work frequency out of range")
	ErrInvalidConfirmationTimeout = errors.New("confirmation timeout out of range")
	ErrInvalidMethodTimeout       = errors.New("direct method timeout out of range")
)

// Options configures a client. The zero value selects all defaults.
type Options struct {
	// DoWorkFrequency is the cadence of the do-work driver. Zero selects
	// DefaultDoWorkFrequency; any other value must lie within
	// [MinDoWorkFrequency, MaxDoWorkFrequency].
	DoWorkFrequency time.Duration

	// ConfirmationTimeout bounds the wait for each operation confirmation.
	// Zero selects DefaultConfirmationTimeout.
	ConfirmationTimeout time.Duration

	// MethodEnqueueTimeout bounds handing a direct method invocation to
	// the consumer. Zero selects DefaultMethodEnqueueTimeout.
	MethodEnqueueTimeout time.Duration

	// MethodResponseTimeout bounds the wait for a direct method response
	// before the hub gets an error answer. Zero selects
	// DefaultMethodResponseTimeout.
	MethodResponseTimeout time.Duration

	// VerboseLog enables native runtime log tracing.
	VerboseLog bool

	// IdentityServiceAddr is the base URL of the local identity service.
	// Empty disables identity service lookups.
	IdentityServiceAddr string

	// Logger receives SDK diagnostics. Nil selects NewStdLogger().
	Logger Logger

	// Clock is the time source, replaceable for tests. Nil selects
	// NewSystemClock().
	Clock Clock
}

// Validate checks the option values and fills in defaults. It returns the
// effective options so callers can keep the original untouched.
func (o Options) Validate() (Options, error) {
	if o.DoWorkFrequency == 0 {
		o.DoWorkFrequency = DefaultDoWorkFrequency
	}
	if o.DoWorkFrequency < MinDoWorkFrequency || o.DoWorkFrequency > MaxDoWorkFrequency {
		return o, fmt.Errorf("%w: %s not in [%s, %s]",
			ErrInvalidFrequency, o.DoWorkFrequency, MinDoWorkFrequency, MaxDoWorkFrequency)
	}
	if o.ConfirmationTimeout == 0 {
		o.ConfirmationTimeout = DefaultConfirmationTimeout
	}
	if o.ConfirmationTimeout < MinConfirmationTimeout || o.ConfirmationTimeout > MaxConfirmationTimeout {
		return o, fmt.Errorf("%w: %s not in [%s, %s]",
			ErrInvalidConfirmationTimeout, o.ConfirmationTimeout, MinConfirmationTimeout, MaxConfirmationTimeout)
	}
	if o.MethodEnqueueTimeout == 0 {
		o.MethodEnqueueTimeout = DefaultMethodEnqueueTimeout
	}
	if o.MethodEnqueueTimeout < MinMethodTimeout || o.MethodEnqueueTimeout > MaxMethodTimeout {
		return o, fmt.Errorf("%w: enqueue %s not in [%s, %s]",
			ErrInvalidMethodTimeout, o.MethodEnqueueTimeout, MinMethodTimeout, MaxMethodTimeout)
	}
	if o.MethodResponseTimeout == 0 {
		o.MethodResponseTimeout = DefaultMethodResponseTimeout
	}
	if o.MethodResponseTimeout < MinMethodTimeout || o.MethodResponseTimeout > MaxMethodTimeout {
		return o, fmt.Errorf("%w: response %s not in [%s, %s]",
			ErrInvalidMethodTimeout, o.MethodResponseTimeout, MinMethodTimeout, MaxMethodTimeout)
	}
	if o.Logger == nil {
		o.Logger = NewStdLogger()
	}
	if o.Clock == nil {
		o.Clock = NewSystemClock()
	}
	return o, nil
}

// OptionsFromEnv builds Options from the process environment. Unset
// variables keep their defaults; a set but unparsable or out-of-range value
// is an error. An explicit "0" cadence is rejected rather than treated as
// "use the default".
func OptionsFromEnv() (Options, error) {
	var o Options

	if v, ok := os.LookupEnv(EnvDoWorkFrequency); ok {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return o, fmt.Errorf("parse %s=%q: %w", EnvDoWorkFrequency, v, err)
		}
		freq := time.Duration(ms) * time.Millisecond
		if freq < MinDoWorkFrequency || freq > MaxDoWorkFrequency {
			return o, fmt.Errorf("%w: %s=%q", ErrInvalidFrequency, EnvDoWorkFrequency, v)
		}
		o.DoWorkFrequency = freq
	}

	if v, ok := os.LookupEnv(EnvConfirmationTimeout); ok {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return o, fmt.Errorf("parse %s=%q: %w", EnvConfirmationTimeout, v, err)
		}
		timeout := time.Duration(secs) * time.Second
		if timeout < MinConfirmationTimeout || timeout > MaxConfirmationTimeout {
			return o, fmt.Errorf("%w: %s=%q", ErrInvalidConfirmationTimeout, EnvConfirmationTimeout, v)
		}
		o.ConfirmationTimeout = timeout
	}

	if v, ok := os.LookupEnv(EnvVerboseLog); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return o, fmt.Errorf("parse %s=%q: %w", EnvVerboseLog, v, err)
		}
		o.VerboseLog = b
	}

	o.IdentityServiceAddr = os.Getenv(EnvIdentityServiceAddr)

	return o, nil
}
