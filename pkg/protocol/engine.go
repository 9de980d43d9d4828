package protocol

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/glucolink/glucolink-go/pkg/log"
	"github.com/glucolink/glucolink-go/pkg/model"
)

// Protocol errors.
var (
	// ErrInvalidState indicates an operation not valid in the engine's
	// current state.
	ErrInvalidState = errors.New("operation not valid in current protocol state")

	// ErrMissingPatchInfo indicates generation-2 authentication was
	// attempted without the out-of-band key material. Fatal to the
	// current attempt; the protocol itself does not retry.
	ErrMissingPatchInfo = errors.New("patch info required for generation-2 authentication")

	// ErrNoSender indicates no outbound sender has been registered.
	ErrNoSender = errors.New("no sender registered")

	// ErrAuthenticationFailed indicates the sensor rejected the
	// authentication attempt.
	ErrAuthenticationFailed = errors.New("sensor rejected authentication")

	// ErrBadChecksum indicates a glucose payload failed CRC verification.
	ErrBadChecksum = errors.New("glucose payload checksum mismatch")
)

// State represents the protocol engine state.
type State uint8

const (
	// StateIdle - engine created or reset, no authentication attempted.
	StateIdle State = iota

	// StateAuthenticating - authentication handshake in progress.
	StateAuthenticating

	// StateAuthenticated - handshake complete, glucose may be requested.
	StateAuthenticated

	// StateReading - glucose data transfer in progress.
	StateReading

	// StateError - a fatal protocol or authentication failure occurred.
	// Only Reset leaves this state.
	StateError
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateReading:
		return "READING"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// SendFunc delivers outbound bytes to the transport.
type SendFunc func(data []byte) error

// Engine is the shared contract both protocol generations implement.
// An Engine instance serves exactly one sensor session.
type Engine interface {
	// Generation returns the sensor generation this engine speaks.
	Generation() model.Generation

	// State returns the current engine state.
	State() State

	// Initialize primes the engine with known sensor metadata. For
	// generation 2 the info must carry the patch info obtained
	// out-of-band. A nil info is allowed.
	Initialize(info *model.SensorInfo)

	// HandleBytes feeds inbound transport bytes to the receive path.
	// Bytes must arrive in transport order.
	HandleBytes(data []byte)

	// StartAuthentication begins (generation 2) or arms (generation 3)
	// the authentication handshake. Valid only from Idle.
	StartAuthentication() error

	// RequestGlucoseData asks for glucose data. Valid only from
	// Authenticated. Generation 3 streams continuously and needs no
	// outbound command.
	RequestGlucoseData() error

	// Reset returns the engine to Idle from any state, clearing decode
	// buffers and session key material.
	Reset()

	// SetSender registers the outbound byte sink. Must be set before
	// StartAuthentication.
	SetSender(fn SendFunc)

	// OnGlucoseData registers the decoded-readings callback.
	OnGlucoseData(fn func(readings []model.GlucoseReading))

	// OnSensorInfo registers the sensor-metadata callback.
	OnSensorInfo(fn func(info model.SensorInfo))

	// OnAuthenticationComplete registers the handshake-outcome callback.
	OnAuthenticationComplete(fn func(success bool))

	// OnError registers the fatal-failure callback. Advisory detail
	// only; the state accessor is the contract.
	OnError(fn func(err error))

	// SetLogger configures operational logging.
	SetLogger(logger *slog.Logger)

	// SetProtocolLogger configures protocol event capture, stamping
	// events with the given connection ID.
	SetProtocolLogger(logger log.Logger, connID string)
}

// engineBase carries the state, callbacks and logging shared by both
// engine variants. Callbacks are invoked outside the lock.
type engineBase struct {
	mu sync.Mutex

	state State

	send           SendFunc
	onGlucoseData  func([]model.GlucoseReading)
	onSensorInfo   func(model.SensorInfo)
	onAuthComplete func(bool)
	onError        func(error)

	// Operational logging (optional).
	logger *slog.Logger

	// Protocol event capture (optional).
	protocolLogger log.Logger
	connID         string

	// now is the clock used for reading timestamps.
	now func() time.Time
}

func newEngineBase() engineBase {
	return engineBase{
		state:  StateIdle,
		logger: slog.Default(),
		now:    time.Now,
	}
}

// SetSender registers the outbound byte sink.
func (e *engineBase) SetSender(fn SendFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.send = fn
}

// OnGlucoseData registers the decoded-readings callback.
func (e *engineBase) OnGlucoseData(fn func(readings []model.GlucoseReading)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onGlucoseData = fn
}

// OnSensorInfo registers the sensor-metadata callback.
func (e *engineBase) OnSensorInfo(fn func(info model.SensorInfo)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onSensorInfo = fn
}

// OnAuthenticationComplete registers the handshake-outcome callback.
func (e *engineBase) OnAuthenticationComplete(fn func(success bool)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onAuthComplete = fn
}

// OnError registers the fatal-failure callback.
func (e *engineBase) OnError(fn func(err error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onError = fn
}

// SetLogger configures operational logging. Pass nil to silence.
func (e *engineBase) SetLogger(logger *slog.Logger) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logger = logger
}

// SetProtocolLogger configures protocol event capture for this engine.
// Pass nil to disable.
func (e *engineBase) SetProtocolLogger(logger log.Logger, connID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.protocolLogger = logger
	e.connID = connID
}

// setState transitions the state under the lock and returns the old state.
func (e *engineBase) setState(newState State) State {
	old := e.state
	e.state = newState
	return old
}

// logStateChange emits a protocol event for an engine state transition.
// Called without the lock held.
func (e *engineBase) logStateChange(pl log.Logger, connID string, gen model.Generation, old, new State, reason string) {
	if pl == nil {
		return
	}
	pl.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    log.DirectionIn,
		Layer:        log.LayerProtocol,
		Category:     log.CategoryState,
		Generation:   gen.String(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityEngine,
			OldState: old.String(),
			NewState: new.String(),
			Reason:   reason,
		},
	})
}

// logError emits a protocol error event. Called without the lock held.
func (e *engineBase) logError(pl log.Logger, connID string, gen model.Generation, code string, err error) {
	if pl == nil {
		return
	}
	pl.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    log.DirectionIn,
		Layer:        log.LayerProtocol,
		Category:     log.CategoryError,
		Generation:   gen.String(),
		Error: &log.ErrorEventData{
			Code:    code,
			Message: err.Error(),
		},
	})
}
