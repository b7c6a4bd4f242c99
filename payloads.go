package iotsdk

import (
	"encoding/json"
	"fmt"
)

// ParsePayload is a helper to parse a JSON payload into a typed struct.
func ParsePayload[T any](payload json.RawMessage) (*T, error) {
	var data T
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// DesiredProperties decodes the desired-properties section of a twin
// update into a typed struct. Complete documents nest the properties under
// "desired"; partial patches carry them at the top level.
func DesiredProperties[T any](update TwinUpdate) (*T, error) {
	raw := update.Desired
	if update.State == TwinUpdateComplete {
		var doc struct {
			Desired json.RawMessage `json:"desired"`
		}
		if err := json.Unmarshal(update.Desired, &doc); err != nil {
			return nil, fmt.Errorf("decode twin document: %w", err)
		}
		if doc.Desired != nil {
			raw = doc.Desired
		}
	}
	return ParsePayload[T](raw)
}

// MessageBody decodes an incoming message body into a typed struct.
func MessageBody[T any](msg *IotMessage) (*T, error) {
	if msg == nil || len(msg.Body) == 0 {
		return nil, fmt.Errorf("empty message body")
	}
	return ParsePayload[T](msg.Body)
}
