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

// Generation-2 command and response bytes. The protocol is command/response
// with no framing layer.
const (
	gen2CmdUnlock     = 0xA1
	gen2RespUnlockOK  = 0xA2
	gen2CmdGlucose    = 0xB1
	gen2RespUnlockBad = 0xA0

	// gen2ResponseSize is the fixed size of the single-shot glucose
	// response: 8-byte header + 344-byte encrypted block + CRC trailer.
	gen2ResponseSize = crypto.Gen2HeaderSize + wire.Gen2BlockSize + crcTrailerSize
)

// Gen2Engine speaks the generation-2 command/response protocol.
// Authentication is transmitter-initiated: an unlock command carrying the
// derived 11-byte key, answered by a single success byte. Glucose comes as
// one large encrypted block per explicit request.
//
// The key material (patch info) must be supplied via Initialize before
// StartAuthentication; it comes from an out-of-band NFC read and the
// protocol itself never retries its absence.
type Gen2Engine struct {
	engineBase

	rx        []byte
	patchInfo []byte
	unlockKey []byte
	info      *model.SensorInfo
}

// NewGen2Engine creates a generation-2 protocol engine.
func NewGen2Engine() *Gen2Engine {
	return &Gen2Engine{
		engineBase: newEngineBase(),
	}
}

var _ Engine = (*Gen2Engine)(nil)

// Generation returns model.Gen2.
func (e *Gen2Engine) Generation() model.Generation {
	return model.Gen2
}

// State returns the current engine state.
func (e *Gen2Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Initialize supplies the sensor metadata including the raw patch info
// bytes used to derive the unlock and decryption keys.
func (e *Gen2Engine) Initialize(info *model.SensorInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if info == nil {
		return
	}
	e.info = info
	e.patchInfo = info.PatchInfo
}

// StartAuthentication derives the unlock key and sends the unlock command.
// Missing or undersized patch info is fatal to this attempt.
func (e *Gen2Engine) StartAuthentication() error {
	e.mu.Lock()

	if e.state != StateIdle {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrInvalidState, e.state)
	}
	if e.send == nil {
		e.mu.Unlock()
		return ErrNoSender
	}

	e.unlockKey = crypto.DeriveUnlockKey(e.patchInfo)
	if len(e.unlockKey) != crypto.UnlockKeySize {
		e.failLocked("AUTH_FAILURE", ErrMissingPatchInfo, true)
		return ErrMissingPatchInfo
	}

	cmd := make([]byte, 0, 1+crypto.UnlockKeySize)
	cmd = append(cmd, gen2CmdUnlock)
	cmd = append(cmd, e.unlockKey...)

	if err := e.send(cmd); err != nil {
		wrapped := fmt.Errorf("failed to send unlock command: %w", err)
		e.failLocked("AUTH_FAILURE", wrapped, true)
		return wrapped
	}

	old := e.setState(StateAuthenticating)
	pl, connID, logger := e.protocolLogger, e.connID, e.logger
	e.mu.Unlock()

	logger.Debug("sent unlock command", "generation", model.Gen2)
	e.logCommand(pl, connID, log.DirectionOut, gen2CmdUnlock, len(cmd)-1)
	e.logStateChange(pl, connID, model.Gen2, old, StateAuthenticating, "unlock sent")
	return nil
}

// RequestGlucoseData sends the single glucose command byte and waits for
// the fixed-size encrypted response.
func (e *Gen2Engine) RequestGlucoseData() error {
	e.mu.Lock()

	if e.state != StateAuthenticated {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrInvalidState, e.state)
	}
	if e.send == nil {
		e.mu.Unlock()
		return ErrNoSender
	}

	if err := e.send([]byte{gen2CmdGlucose}); err != nil {
		wrapped := fmt.Errorf("failed to send glucose request: %w", err)
		e.failLocked("TRANSPORT_FAILURE", wrapped, false)
		return wrapped
	}

	old := e.setState(StateReading)
	e.rx = nil
	pl, connID, logger := e.protocolLogger, e.connID, e.logger
	e.mu.Unlock()

	logger.Debug("requested glucose block", "generation", model.Gen2)
	e.logCommand(pl, connID, log.DirectionOut, gen2CmdGlucose, 0)
	e.logStateChange(pl, connID, model.Gen2, old, StateReading, "glucose requested")
	return nil
}

// Reset returns the engine to Idle, discarding buffered response bytes and
// the derived unlock key. Patch info from Initialize survives.
func (e *Gen2Engine) Reset() {
	e.mu.Lock()
	old := e.setState(StateIdle)
	e.rx = nil
	e.unlockKey = nil
	pl, connID := e.protocolLogger, e.connID
	e.mu.Unlock()

	if old != StateIdle {
		e.logStateChange(pl, connID, model.Gen2, old, StateIdle, "reset")
	}
}

// HandleBytes feeds inbound transport bytes to the response parser.
func (e *Gen2Engine) HandleBytes(data []byte) {
	e.mu.Lock()
	state := e.state
	e.mu.Unlock()

	switch state {
	case StateAuthenticating:
		e.handleUnlockResponse(data)
	case StateReading:
		e.handleGlucoseResponse(data)
	default:
		e.mu.Lock()
		logger := e.logger
		e.mu.Unlock()
		logger.Debug("dropping bytes outside command exchange",
			"state", state, "size", len(data))
	}
}

// handleUnlockResponse inspects the first response byte of the unlock
// exchange. Anything other than the success byte fails the attempt.
func (e *Gen2Engine) handleUnlockResponse(data []byte) {
	if len(data) == 0 {
		return
	}

	e.mu.Lock()

	if e.state != StateAuthenticating {
		e.mu.Unlock()
		return
	}

	resp := data[0]
	if resp != gen2RespUnlockOK {
		e.failLocked("AUTH_FAILURE",
			fmt.Errorf("%w: response byte 0x%02X", ErrAuthenticationFailed, resp), true)
		return
	}

	old := e.setState(StateAuthenticated)
	now := e.now()
	pl, connID, logger := e.protocolLogger, e.connID, e.logger
	onAuth, onInfo := e.onAuthComplete, e.onSensorInfo
	info := e.sensorInfoLocked(now)
	e.mu.Unlock()

	logger.Info("sensor unlocked", "generation", model.Gen2)
	e.logCommand(pl, connID, log.DirectionIn, resp, len(data)-1)
	e.logStateChange(pl, connID, model.Gen2, old, StateAuthenticated, "unlock accepted")

	if onAuth != nil {
		onAuth(true)
	}
	if info != nil && onInfo != nil {
		onInfo(*info)
	}
}

// handleGlucoseResponse accumulates the single-shot glucose response,
// then decrypts, verifies and decodes it. A checksum mismatch fails the
// attempt: the response cannot be re-requested mid-exchange.
func (e *Gen2Engine) handleGlucoseResponse(data []byte) {
	e.mu.Lock()

	if e.state != StateReading {
		e.mu.Unlock()
		return
	}

	e.rx = append(e.rx, data...)
	if len(e.rx) < gen2ResponseSize {
		e.mu.Unlock()
		return
	}

	resp := e.rx[:gen2ResponseSize]
	e.rx = nil

	plain := crypto.DecryptGen2(resp, e.patchInfo)
	block := plain[crypto.Gen2HeaderSize : crypto.Gen2HeaderSize+wire.Gen2BlockSize]
	expected := binary.LittleEndian.Uint16(plain[gen2ResponseSize-crcTrailerSize:])

	if !crypto.VerifyCRC16(block, expected) {
		e.failLocked("BAD_CHECKSUM", ErrBadChecksum, false)
		return
	}

	now := e.now()
	old := e.setState(StateAuthenticated)
	pl, connID, logger := e.protocolLogger, e.connID, e.logger
	onGlucose := e.onGlucoseData
	e.mu.Unlock()

	e.logCommand(pl, connID, log.DirectionIn, resp[0], gen2ResponseSize-1)
	e.logStateChange(pl, connID, model.Gen2, old, StateAuthenticated, "glucose block received")

	readings := wire.DecodeGen2Glucose(block, now)
	if len(readings) == 0 {
		return
	}

	logger.Debug("decoded glucose block", "readings", len(readings))
	if onGlucose != nil {
		onGlucose(readings)
	}
}

// sensorInfoLocked returns the freshest sensor metadata: re-decoded from
// the raw patch block when possible, otherwise whatever Initialize gave.
// Caller holds the lock.
func (e *Gen2Engine) sensorInfoLocked(now time.Time) *model.SensorInfo {
	if decoded := wire.DecodeGen2SensorInfo(e.patchInfo, now); decoded != nil {
		e.info = decoded
		return decoded
	}
	return e.info
}

// failLocked transitions to Error for a fatal failure. Caller holds the
// lock; the lock is released before callbacks run. authFailure also
// reports the handshake outcome.
func (e *Gen2Engine) failLocked(code string, err error, authFailure bool) {
	old := e.setState(StateError)
	e.rx = nil
	pl, connID, logger := e.protocolLogger, e.connID, e.logger
	onError, onAuth := e.onError, e.onAuthComplete
	e.mu.Unlock()

	logger.Error("protocol failure", "generation", model.Gen2, "error", err)
	e.logStateChange(pl, connID, model.Gen2, old, StateError, err.Error())
	e.logError(pl, connID, model.Gen2, code, err)

	if onError != nil {
		onError(err)
	}
	if authFailure && onAuth != nil {
		onAuth(false)
	}
}

// logCommand emits a protocol event for a raw command/response exchange.
// Generation 2 has no framing; the command byte stands in for the message
// type. Called without the lock held.
func (e *Gen2Engine) logCommand(pl log.Logger, connID string, dir log.Direction, cmd byte, payloadSize int) {
	if pl == nil {
		return
	}
	pl.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    dir,
		Layer:        log.LayerProtocol,
		Category:     log.CategoryMessage,
		Generation:   model.Gen2.String(),
		Message: &log.MessageEvent{
			Type:        cmd,
			TypeName:    gen2CommandName(cmd),
			PayloadSize: payloadSize,
		},
	})
}

// gen2CommandName returns a human-readable name for a command byte.
func gen2CommandName(cmd byte) string {
	switch cmd {
	case gen2CmdUnlock:
		return "UNLOCK"
	case gen2RespUnlockOK:
		return "UNLOCK_OK"
	case gen2RespUnlockBad:
		return "UNLOCK_REJECTED"
	case gen2CmdGlucose:
		return "GLUCOSE_REQUEST"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", cmd)
	}
}
