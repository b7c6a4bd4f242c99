package iotsdk

import (
	"fmt"

	"github.com/google/uuid"
)

// Direction of a message relative to this client.
type Direction string

const (
	// DirectionIncoming marks a cloud-to-device message.
	DirectionIncoming Direction = "INCOMING"
	// DirectionOutgoing marks a device-to-cloud message.
	DirectionOutgoing Direction = "OUTGOING"
)

// System property wire keys settable on outgoing messages.
const (
	SystemPropertyMessageID       = "$.mid"
	SystemPropertyCorrelationID   = "$.cid"
	SystemPropertyContentType     = "$.ct"
	SystemPropertyContentEncoding = "$.ce"
)

// DefaultOutputQueue is the output queue used when the builder does not set one.
const DefaultOutputQueue = "output"

// IotMessage is either an incoming C2D message or an outgoing D2C message.
type IotMessage struct {
	// Body is the raw message payload.
	Body []byte
	// OutputQueue routes outgoing messages; ignored for incoming ones.
	OutputQueue string
	// Direction of the message.
	Direction Direction
	// Properties holds application properties.
	Properties map[string]string
	// SystemProperties holds hub system properties keyed by wire id
	// ($.mid, $.cid, $.ct, $.ce).
	SystemProperties map[string]string
}

// MessageID returns the message identifier system property.
func (m *IotMessage) MessageID() string { return m.SystemProperties[SystemPropertyMessageID] }

// CorrelationID returns the correlation identifier system property.
func (m *IotMessage) CorrelationID() string { return m.SystemProperties[SystemPropertyCorrelationID] }

// NewMessage returns a builder for an outgoing D2C message.
func NewMessage() *IotMessageBuilder {
	return &IotMessageBuilder{
		outputQueue:      DefaultOutputQueue,
		properties:       make(map[string]string),
		systemProperties: make(map[string]string),
	}
}

// IotMessageBuilder assembles an outgoing IotMessage.
type IotMessageBuilder struct {
	body             []byte
	outputQueue      string
	properties       map[string]string
	systemProperties map[string]string
}

// SetBody sets the message body.
func (b *IotMessageBuilder) SetBody(body []byte) *IotMessageBuilder {
	b.body = body
	return b
}

// SetID sets the message identifier.
func (b *IotMessageBuilder) SetID(mid string) *IotMessageBuilder {
	return b.setSystemProperty(SystemPropertyMessageID, mid)
}

// SetCorrelationID sets the correlation identifier.
func (b *IotMessageBuilder) SetCorrelationID(cid string) *IotMessageBuilder {
	return b.setSystemProperty(SystemPropertyCorrelationID, cid)
}

// SetContentType sets the content type, e.g. "application/json". Routing
// queries on the body require "application/json".
func (b *IotMessageBuilder) SetContentType(contentType string) *IotMessageBuilder {
	return b.setSystemProperty(SystemPropertyContentType, contentType)
}

// SetContentEncoding sets the content encoding. For "application/json"
// bodies the hub accepts UTF-8, UTF-16 and UTF-32.
func (b *IotMessageBuilder) SetContentEncoding(contentEncoding string) *IotMessageBuilder {
	return b.setSystemProperty(SystemPropertyContentEncoding, contentEncoding)
}

// SetOutputQueue sets the output queue for this message. Only module and
// edge clients route by queue; device clients ignore it.
func (b *IotMessageBuilder) SetOutputQueue(queue string) *IotMessageBuilder {
	b.outputQueue = queue
	return b
}

// SetProperty adds an application property.
func (b *IotMessageBuilder) SetProperty(key, value string) *IotMessageBuilder {
	b.properties[key] = value
	return b
}

func (b *IotMessageBuilder) setSystemProperty(key, value string) *IotMessageBuilder {
	b.systemProperties[key] = value
	return b
}

// Build validates and returns the message. A message identifier is
// generated when none was set.
func (b *IotMessageBuilder) Build() (*IotMessage, error) {
	if len(b.body) == 0 {
		return nil, fmt.Errorf("message body is required")
	}
	if b.outputQueue == "" {
		b.outputQueue = DefaultOutputQueue
	}
	if b.systemProperties[SystemPropertyMessageID] == "" {
		b.systemProperties[SystemPropertyMessageID] = uuid.New().String()
	}
	return &IotMessage{
		Body:             b.body,
		OutputQueue:      b.outputQueue,
		Direction:        DirectionOutgoing,
		Properties:       b.properties,
		SystemProperties: b.systemProperties,
	}, nil
}
