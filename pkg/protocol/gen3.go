package protocol

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/glucolink/glucolink-go/pkg/crypto"
	"github.com/glucolink/glucolink-go/pkg/log"
	"github.com/glucolink/glucolink-go/pkg/model"
	"github.com/glucolink/glucolink-go/pkg/wire"
)

// crcTrailerSize is the trailing little-endian CRC appended to every
// decrypted glucose record area.
const crcTrailerSize = 2

// Gen3Engine speaks the generation-3 streaming protocol. Authentication is
// sensor-initiated: the engine waits in Authenticating for the sensor's
// challenge, answers it, and on success receives a continuous glucose
// stream with no explicit request command.
//
// A Gen3Engine serves exactly one sensor session and is safe for use from
// one receive goroutine plus callers of the public methods.
type Gen3Engine struct {
	engineBase

	rx wire.ReceiveBuffer

	// deviceInfo is generated once per engine and identifies this
	// transmitter in the auth response and session key derivation.
	deviceInfo   []byte
	deviceRandom []byte
	sessionKey   []byte

	// sensorStart anchors the absolute timestamps of streamed records.
	// Updated from decoded sensor info; until then it is the engine
	// creation time.
	sensorStart time.Time

	info    *model.SensorInfo
	nextSeq byte
}

// NewGen3Engine creates a generation-3 protocol engine. It fails only if
// the platform random source is unavailable.
func NewGen3Engine() (*Gen3Engine, error) {
	deviceInfo, err := crypto.RandomBytes(crypto.RandomSize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate device info: %w", err)
	}

	e := &Gen3Engine{
		engineBase: newEngineBase(),
		deviceInfo: deviceInfo,
	}
	e.sensorStart = e.now()
	return e, nil
}

var _ Engine = (*Gen3Engine)(nil)

// Generation returns model.Gen3.
func (e *Gen3Engine) Generation() model.Generation {
	return model.Gen3
}

// State returns the current engine state.
func (e *Gen3Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Initialize primes the engine with known sensor metadata. The start time
// of the info, if set, anchors streamed record timestamps until fresher
// sensor info arrives in-band.
func (e *Gen3Engine) Initialize(info *model.SensorInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if info == nil {
		return
	}
	e.info = info
	if !info.StartTime.IsZero() {
		e.sensorStart = info.StartTime
	}
}

// StartAuthentication arms the engine for the sensor-initiated handshake.
// The engine transitions to Authenticating and waits for the challenge.
func (e *Gen3Engine) StartAuthentication() error {
	e.mu.Lock()

	if e.state != StateIdle {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrInvalidState, e.state)
	}
	if e.send == nil {
		e.mu.Unlock()
		return ErrNoSender
	}

	old := e.setState(StateAuthenticating)
	pl, connID, logger := e.protocolLogger, e.connID, e.logger
	e.mu.Unlock()

	logger.Debug("waiting for sensor challenge", "generation", model.Gen3)
	e.logStateChange(pl, connID, model.Gen3, old, StateAuthenticating, "awaiting challenge")
	return nil
}

// RequestGlucoseData transitions to Reading. Generation-3 sensors stream
// continuously after authentication, so no command goes out.
func (e *Gen3Engine) RequestGlucoseData() error {
	e.mu.Lock()

	if e.state != StateAuthenticated {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrInvalidState, e.state)
	}

	old := e.setState(StateReading)
	pl, connID := e.protocolLogger, e.connID
	e.mu.Unlock()

	e.logStateChange(pl, connID, model.Gen3, old, StateReading, "glucose stream active")
	return nil
}

// Reset returns the engine to Idle, discarding buffered bytes and session
// key material. The device info survives; a fresh handshake derives a
// fresh session key from the sensor's next challenge.
func (e *Gen3Engine) Reset() {
	e.mu.Lock()
	old := e.setState(StateIdle)
	e.rx.Reset()
	e.sessionKey = nil
	e.deviceRandom = nil
	e.nextSeq = 0
	pl, connID := e.protocolLogger, e.connID
	e.mu.Unlock()

	if old != StateIdle {
		e.logStateChange(pl, connID, model.Gen3, old, StateIdle, "reset")
	}
}

// HandleBytes feeds inbound transport bytes to the framing layer and
// dispatches every complete message. Partial frames stay buffered.
func (e *Gen3Engine) HandleBytes(data []byte) {
	e.mu.Lock()
	e.rx.Append(data)

	var msgs []wire.Message
	for {
		msg, ok := e.rx.TryExtract()
		if !ok {
			break
		}
		msgs = append(msgs, msg)
	}
	e.mu.Unlock()

	for _, msg := range msgs {
		e.handleMessage(msg)
	}
}

// handleMessage dispatches one complete inbound message. Decode and
// decrypt failures are logged and dropped; the stream keeps going.
func (e *Gen3Engine) handleMessage(msg wire.Message) {
	e.mu.Lock()
	pl, connID, logger := e.protocolLogger, e.connID, e.logger
	e.mu.Unlock()

	e.logMessage(pl, connID, log.DirectionIn, msg)

	switch msg.Type {
	case wire.MsgChallenge:
		e.handleChallenge(msg)
	case wire.MsgAuthSuccess:
		e.handleAuthSuccess(msg)
	case wire.MsgGlucoseData:
		e.handleGlucoseData(msg)
	case wire.MsgSensorInfo:
		e.handleSensorInfo(msg)
	case wire.MsgKeepAlive:
		e.handleKeepAlive(msg)
	default:
		logger.Warn("dropping unknown message type",
			"type", fmt.Sprintf("0x%02X", byte(msg.Type)),
			"payloadSize", len(msg.Payload))
		e.logError(pl, connID, model.Gen3, "UNKNOWN_MESSAGE_TYPE",
			fmt.Errorf("unknown message type 0x%02X", byte(msg.Type)))
	}
}

// handleChallenge answers the sensor's authentication challenge. The
// session key is derived from the local device info and the 8-byte sensor
// random at the start of the payload.
func (e *Gen3Engine) handleChallenge(msg wire.Message) {
	e.mu.Lock()

	if e.state != StateAuthenticating {
		logger := e.logger
		e.mu.Unlock()
		logger.Debug("ignoring challenge outside authentication", "state", e.State())
		return
	}

	if len(msg.Payload) < crypto.RandomSize {
		pl, connID, logger := e.protocolLogger, e.connID, e.logger
		e.mu.Unlock()
		err := fmt.Errorf("challenge payload too short: %d bytes", len(msg.Payload))
		logger.Warn("dropping malformed challenge", "error", err)
		e.logError(pl, connID, model.Gen3, "PROTOCOL_VIOLATION", err)
		return
	}

	sensorRandom := msg.Payload[:crypto.RandomSize]
	e.sessionKey = crypto.DeriveSessionKey(e.deviceInfo, sensorRandom)

	deviceRandom, err := crypto.RandomBytes(crypto.RandomSize)
	if err != nil {
		e.failAuthLocked(fmt.Errorf("failed to generate device random: %w", err))
		return
	}
	e.deviceRandom = deviceRandom

	response := make([]byte, 0, 2*crypto.RandomSize)
	response = append(response, e.deviceInfo...)
	response = append(response, deviceRandom...)

	if err := e.sendMessageLocked(wire.MsgAuthResponse, response); err != nil {
		e.failAuthLocked(fmt.Errorf("failed to send auth response: %w", err))
		return
	}

	logger := e.logger
	e.mu.Unlock()
	logger.Debug("answered sensor challenge")
}

// handleAuthSuccess completes the handshake and starts the implicit
// glucose stream.
func (e *Gen3Engine) handleAuthSuccess(msg wire.Message) {
	e.mu.Lock()

	if e.state != StateAuthenticating || e.sessionKey == nil {
		logger := e.logger
		e.mu.Unlock()
		logger.Debug("ignoring unexpected auth success", "state", e.State())
		return
	}

	old := e.setState(StateAuthenticated)
	// Data streams continuously; no outbound request command exists.
	e.setState(StateReading)
	pl, connID, logger := e.protocolLogger, e.connID, e.logger
	onAuth := e.onAuthComplete
	e.mu.Unlock()

	logger.Info("sensor authenticated", "generation", model.Gen3)
	e.logStateChange(pl, connID, model.Gen3, old, StateAuthenticated, "auth success")
	e.logStateChange(pl, connID, model.Gen3, StateAuthenticated, StateReading, "glucose stream active")

	if onAuth != nil {
		onAuth(true)
	}
}

// handleGlucoseData decrypts, verifies and decodes one glucose batch.
// Checksum or decode failures drop the batch; the stream keeps going.
func (e *Gen3Engine) handleGlucoseData(msg wire.Message) {
	e.mu.Lock()

	if e.state != StateAuthenticated && e.state != StateReading {
		logger := e.logger
		e.mu.Unlock()
		logger.Debug("ignoring glucose data before authentication", "state", e.State())
		return
	}

	sessionKey := e.sessionKey
	sensorStart := e.sensorStart
	pl, connID, logger := e.protocolLogger, e.connID, e.logger
	onGlucose := e.onGlucoseData
	e.mu.Unlock()

	plain := crypto.DecryptGen3(msg.Payload, sessionKey)
	if len(plain) < crcTrailerSize {
		err := fmt.Errorf("glucose payload too short: %d bytes", len(plain))
		logger.Warn("dropping glucose batch", "error", err)
		e.logError(pl, connID, model.Gen3, "MALFORMED_INPUT", err)
		return
	}

	records := plain[:len(plain)-crcTrailerSize]
	expected := binary.LittleEndian.Uint16(plain[len(plain)-crcTrailerSize:])
	if !crypto.VerifyCRC16(records, expected) {
		logger.Warn("dropping glucose batch", "error", ErrBadChecksum)
		e.logError(pl, connID, model.Gen3, "BAD_CHECKSUM", ErrBadChecksum)
		return
	}

	readings := wire.DecodeGen3Glucose(records, sensorStart)
	if len(readings) == 0 {
		return
	}

	logger.Debug("decoded glucose batch", "readings", len(readings))
	if onGlucose != nil {
		onGlucose(readings)
	}
}

// handleSensorInfo decodes sensor metadata and re-anchors streamed record
// timestamps to the reported session start.
func (e *Gen3Engine) handleSensorInfo(msg wire.Message) {
	e.mu.Lock()
	now := e.now()
	pl, connID, logger := e.protocolLogger, e.connID, e.logger
	e.mu.Unlock()

	info := wire.DecodeGen3SensorInfo(msg.Payload, now)
	if info == nil {
		err := fmt.Errorf("sensor info payload undecodable: %d bytes", len(msg.Payload))
		logger.Warn("dropping sensor info", "error", err)
		e.logError(pl, connID, model.Gen3, "MALFORMED_INPUT", err)
		return
	}

	e.mu.Lock()
	e.info = info
	e.sensorStart = info.StartTime
	onInfo := e.onSensorInfo
	e.mu.Unlock()

	logger.Info("sensor info received",
		"serial", info.SerialNumber,
		"firmware", info.FirmwareVersion,
		"expiry", info.ExpiryTime)

	if onInfo != nil {
		onInfo(*info)
	}
}

// handleKeepAlive echoes the probe back with an empty payload, reusing the
// inbound sequence number so the sensor can pair request and echo.
func (e *Gen3Engine) handleKeepAlive(msg wire.Message) {
	e.mu.Lock()
	send := e.send
	pl, connID, logger := e.protocolLogger, e.connID, e.logger
	e.mu.Unlock()

	if send == nil {
		return
	}

	frame, err := wire.EncodeMessage(wire.MsgKeepAlive, msg.Sequence, nil)
	if err != nil {
		return
	}
	if err := send(frame); err != nil {
		logger.Warn("failed to echo keep-alive", "error", err)
		return
	}

	e.logMessage(pl, connID, log.DirectionOut, wire.Message{
		Type:     wire.MsgKeepAlive,
		Sequence: msg.Sequence,
	})
}

// sendMessageLocked frames and sends an outbound message with the next
// sequence number. Caller holds the lock.
func (e *Gen3Engine) sendMessageLocked(msgType wire.MessageType, payload []byte) error {
	if e.send == nil {
		return ErrNoSender
	}

	seq := e.nextSeq
	frame, err := wire.EncodeMessage(msgType, seq, payload)
	if err != nil {
		return err
	}
	if err := e.send(frame); err != nil {
		return err
	}
	e.nextSeq++

	if e.protocolLogger != nil {
		e.protocolLogger.Log(log.Event{
			Timestamp:    time.Now(),
			ConnectionID: e.connID,
			Direction:    log.DirectionOut,
			Layer:        log.LayerProtocol,
			Category:     messageCategory(msgType),
			Generation:   model.Gen3.String(),
			Message: &log.MessageEvent{
				Type:        byte(msgType),
				TypeName:    msgType.String(),
				Sequence:    seq,
				PayloadSize: len(payload),
			},
		})
	}
	return nil
}

// failAuthLocked transitions to Error for a fatal handshake failure.
// Caller holds the lock; the lock is released before callbacks run.
func (e *Gen3Engine) failAuthLocked(err error) {
	old := e.setState(StateError)
	pl, connID, logger := e.protocolLogger, e.connID, e.logger
	onAuth, onError := e.onAuthComplete, e.onError
	e.mu.Unlock()

	logger.Error("authentication failed", "generation", model.Gen3, "error", err)
	e.logStateChange(pl, connID, model.Gen3, old, StateError, err.Error())
	e.logError(pl, connID, model.Gen3, "AUTH_FAILURE", err)

	if onError != nil {
		onError(err)
	}
	if onAuth != nil {
		onAuth(false)
	}
}

// logMessage emits a protocol event for an inbound or outbound framed
// message. Called without the lock held.
func (e *Gen3Engine) logMessage(pl log.Logger, connID string, dir log.Direction, msg wire.Message) {
	if pl == nil {
		return
	}
	pl.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    dir,
		Layer:        log.LayerProtocol,
		Category:     messageCategory(msg.Type),
		Generation:   model.Gen3.String(),
		Message: &log.MessageEvent{
			Type:        byte(msg.Type),
			TypeName:    msg.Type.String(),
			Sequence:    msg.Sequence,
			PayloadSize: len(msg.Payload),
		},
	})
}

// messageCategory maps message types to log categories.
func messageCategory(t wire.MessageType) log.Category {
	if t == wire.MsgKeepAlive {
		return log.CategoryControl
	}
	return log.CategoryMessage
}
