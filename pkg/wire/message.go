package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Framing constants for the generation-3 stream.
const (
	// HeaderSize is the framing header size: type (1) + length LE (2) +
	// sequence (1).
	HeaderSize = 4

	// MaxPayloadSize is the largest payload the 16-bit length field can
	// describe.
	MaxPayloadSize = 0xFFFF
)

// ErrPayloadTooLarge indicates a payload exceeding the 16-bit length field.
var ErrPayloadTooLarge = errors.New("payload too large")

// MessageType identifies a generation-3 protocol message.
type MessageType byte

const (
	// MsgChallenge is the sensor-initiated authentication challenge
	// carrying the 8-byte sensor random.
	MsgChallenge MessageType = 0x01

	// MsgAuthResponse is the transmitter's answer to a challenge,
	// carrying the device info and device random.
	MsgAuthResponse MessageType = 0x02

	// MsgAuthSuccess confirms authentication; glucose data streams
	// continuously afterwards without an explicit request.
	MsgAuthSuccess MessageType = 0x03

	// MsgGlucoseData carries an encrypted batch of glucose records.
	MsgGlucoseData MessageType = 0x10

	// MsgSensorInfo carries the sensor metadata block.
	MsgSensorInfo MessageType = 0x11

	// MsgKeepAlive is a liveness probe. The receiver echoes it back with
	// an empty payload.
	MsgKeepAlive MessageType = 0x20
)

// String returns the message type name.
func (t MessageType) String() string {
	switch t {
	case MsgChallenge:
		return "CHALLENGE"
	case MsgAuthResponse:
		return "AUTH_RESPONSE"
	case MsgAuthSuccess:
		return "AUTH_SUCCESS"
	case MsgGlucoseData:
		return "GLUCOSE_DATA"
	case MsgSensorInfo:
		return "SENSOR_INFO"
	case MsgKeepAlive:
		return "KEEP_ALIVE"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", byte(t))
	}
}

// IsKnown reports whether t is a message type this codec understands.
func (t MessageType) IsKnown() bool {
	switch t {
	case MsgChallenge, MsgAuthResponse, MsgAuthSuccess,
		MsgGlucoseData, MsgSensorInfo, MsgKeepAlive:
		return true
	default:
		return false
	}
}

// Message is a complete generation-3 protocol message. Produced by the
// receive buffer from the accumulating byte stream; consumed exactly once.
type Message struct {
	Type     MessageType
	Sequence byte
	Payload  []byte
}

// Size returns the framed size of the message in bytes.
func (m Message) Size() int {
	return HeaderSize + len(m.Payload)
}

// EncodeMessage frames a message for transmission.
func EncodeMessage(msgType MessageType, sequence byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}

	frame := make([]byte, HeaderSize+len(payload))
	frame[0] = byte(msgType)
	binary.LittleEndian.PutUint16(frame[1:3], uint16(len(payload)))
	frame[3] = sequence
	copy(frame[HeaderSize:], payload)
	return frame, nil
}
