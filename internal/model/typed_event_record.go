package model

import (
	"encoding/json"
	"fmt"
)

// StoredEvent is the persisted form of an Event: its origin, discriminator and JSON payload.
type StoredEvent struct {
	Source
	EventName string          `json:"event_name"`
	Payload   json.RawMessage `json:"payload"`
}

// NewStoredEvent serializes a decoded event for storage.
func NewStoredEvent(event Event) (StoredEvent, error) {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return StoredEvent{}, fmt.Errorf("marshal %s payload: %w", event.Name(), err)
	}
	return StoredEvent{
		Source:    event.Origin(),
		EventName: event.Name(),
		Payload:   payload,
	}, nil
}
