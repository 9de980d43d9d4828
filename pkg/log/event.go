package log

import (
	"time"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the sensor connection (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates byte/message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// DeviceID is the transport device identifier, if known.
	DeviceID string `cbor:"6,keyasint,omitempty"`

	// SensorSerial is the sensor serial number (populated once sensor
	// info has been decoded).
	SensorSerial string `cbor:"7,keyasint,omitempty"`

	// Generation is the sensor protocol generation name, if known.
	Generation string `cbor:"8,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"9,keyasint,omitempty"`  // Transport layer
	Message     *MessageEvent     `cbor:"10,keyasint,omitempty"` // Protocol layer (framed)
	StateChange *StateChangeEvent `cbor:"11,keyasint,omitempty"` // Engine/session state
	Error       *ErrorEventData   `cbor:"12,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of byte or message flow.
type Direction uint8

const (
	// DirectionIn indicates inbound data (sensor to host).
	DirectionIn Direction = 0
	// DirectionOut indicates outbound data (host to sensor).
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which layer captured the event.
type Layer uint8

const (
	// LayerTransport is the raw byte layer (transport callbacks).
	LayerTransport Layer = 0
	// LayerProtocol is the framed message / engine layer.
	LayerProtocol Layer = 1
	// LayerSession is the session orchestration layer.
	LayerSession Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerProtocol:
		return "PROTOCOL"
	case LayerSession:
		return "SESSION"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a protocol message or raw frame.
	CategoryMessage Category = 0
	// CategoryControl indicates a control message (keep-alive).
	CategoryControl Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw bytes at the transport layer.
type FrameEvent struct {
	// Size is the chunk size in bytes.
	Size int `cbor:"1,keyasint"`

	// Data is the raw bytes (may be truncated for large chunks).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// MessageEvent captures a framed protocol message.
type MessageEvent struct {
	// Type is the protocol message type byte.
	Type uint8 `cbor:"1,keyasint"`

	// TypeName is the human-readable message type.
	TypeName string `cbor:"2,keyasint,omitempty"`

	// Sequence is the message sequence number.
	Sequence uint8 `cbor:"3,keyasint"`

	// PayloadSize is the payload length in bytes.
	PayloadSize int `cbor:"4,keyasint"`
}

// StateChangeEvent captures engine and session lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityEngine indicates a protocol engine state change.
	StateEntityEngine StateEntity = 0
	// StateEntitySession indicates a session state change.
	StateEntitySession StateEntity = 1
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityEngine:
		return "ENGINE"
	case StateEntitySession:
		return "SESSION"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures an error at any layer.
type ErrorEventData struct {
	// Code is a stable machine-readable error class.
	Code string `cbor:"1,keyasint,omitempty"`

	// Message is the human-readable error description. Advisory only;
	// no component contract depends on its contents.
	Message string `cbor:"2,keyasint"`
}
