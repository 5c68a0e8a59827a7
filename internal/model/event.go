// internal/model/event.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event emitted by the transport core
type EventType string

const (
	EventDataReceived     EventType = "DATA_RECEIVED"
	EventStatusChanged    EventType = "CONNECTION_STATUS_CHANGED"
	EventErrorOccurred    EventType = "ERROR_OCCURRED"
	EventReconnectAttempt EventType = "RECONNECT_ATTEMPT"
	EventStallDetected    EventType = "STALL_DETECTED"
	EventDeviceSeen       EventType = "DEVICE_SEEN"
	EventDeviceLost       EventType = "DEVICE_LOST"
)

// Event is a discrete notification emitted by the transport core. Every
// event is tagged with the originating port so subscribers need no per-port
// wiring of their own.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Type      EventType `json:"type"`
	Port      string    `json:"port"`
	Timestamp time.Time `json:"timestamp"`

	// Payload fields, populated per event type
	Data      string `json:"data,omitempty"`       // DATA_RECEIVED: decoded message
	Connected bool   `json:"connected,omitempty"`  // CONNECTION_STATUS_CHANGED
	Error     string `json:"error,omitempty"`      // ERROR_OCCURRED
	ErrorKind string `json:"error_kind,omitempty"` // ERROR_OCCURRED classification
	Attempt   int    `json:"attempt,omitempty"`    // RECONNECT_ATTEMPT: attempt number
}

// NewEvent creates an event with identity and capture timestamp
func NewEvent(eventType EventType, port string) Event {
	return Event{
		ID:        uuid.New(),
		Type:      eventType,
		Port:      port,
		Timestamp: time.Now(),
	}
}
