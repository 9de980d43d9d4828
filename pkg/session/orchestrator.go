package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/glucolink/glucolink-go/pkg/connection"
	"github.com/glucolink/glucolink-go/pkg/log"
	"github.com/glucolink/glucolink-go/pkg/model"
	"github.com/glucolink/glucolink-go/pkg/protocol"
	"github.com/glucolink/glucolink-go/pkg/transport"
)

// Orchestrator sequences the sensor session: scan, connect, authenticate,
// stream, and reconnect with backoff after unexpected failures.
//
// One Orchestrator owns one transport and one protocol engine for the
// lifetime of a logical session. All state transitions serialize through
// its mutex; application callbacks fire outside it.
type Orchestrator struct {
	mu sync.Mutex

	cfg       Config
	state     State
	transport transport.Transport
	engine    protocol.Engine
	store     Store

	backoff *connection.Backoff
	window  *ReadingWindow

	deviceID string
	connID   string

	sensor   *model.SensorInfo
	lastSeen time.Time

	userDisconnect bool
	closed         bool

	scanCancel     context.CancelFunc
	connectCancel  context.CancelFunc
	reconnectTimer *time.Timer
	cleanupTimer   *time.Timer
	pollTimer      *time.Timer

	logger         *slog.Logger
	protocolLogger log.Logger

	onStateChange    func(oldState, newState State)
	onCurrentReading func(reading model.GlucoseReading)
	onSensorChanged  func(info model.SensorInfo)
	onReconnecting   func(attempt int, delay time.Duration)
	onError          func(err error)

	// Overridable for tests.
	now      func() time.Time
	newTimer func(d time.Duration, fn func()) *time.Timer
}

// New creates a session orchestrator and wires the transport and engine
// callbacks. The engine's generation must match the configured one.
func New(cfg Config, t transport.Transport, engine protocol.Engine, store Store) (*Orchestrator, error) {
	if cfg.Generation != 0 && cfg.Generation != engine.Generation() {
		return nil, fmt.Errorf("%w: config %s, engine %s",
			ErrGenerationMismatch, cfg.Generation, engine.Generation())
	}
	cfg = cfg.withDefaults()

	o := &Orchestrator{
		cfg:       cfg,
		state:     StateIdle,
		transport: t,
		engine:    engine,
		store:     store,
		backoff: connection.NewBackoffWithConfig(connection.BackoffConfig{
			Initial:     cfg.BackoffInitial,
			Max:         cfg.BackoffMax,
			MaxAttempts: cfg.MaxReconnectAttempts,
		}),
		window:   NewReadingWindow(cfg.Retention),
		deviceID: cfg.DeviceID,
		logger:   slog.Default(),
		now:      time.Now,
		newTimer: time.AfterFunc,
	}

	t.OnBytesReceived(o.handleBytes)
	t.OnConnected(o.handleConnected)
	t.OnDisconnected(o.handleDisconnected)
	t.OnError(o.handleTransportError)

	engine.SetSender(t.Send)
	engine.OnGlucoseData(o.handleGlucose)
	engine.OnSensorInfo(o.handleSensorInfo)
	engine.OnAuthenticationComplete(o.handleAuthComplete)
	engine.OnError(o.handleEngineError)

	return o, nil
}

// SetLogger configures operational logging.
func (o *Orchestrator) SetLogger(logger *slog.Logger) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if logger != nil {
		o.logger = logger
	}
}

// SetProtocolLogger configures protocol event capture for the session and
// its engine.
func (o *Orchestrator) SetProtocolLogger(logger log.Logger) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.protocolLogger = logger
}

// OnStateChange sets the session state transition callback.
func (o *Orchestrator) OnStateChange(fn func(oldState, newState State)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onStateChange = fn
}

// OnCurrentReading sets the callback publishing the newest reading. It
// fires for every batch regardless of quality filtering.
func (o *Orchestrator) OnCurrentReading(fn func(reading model.GlucoseReading)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onCurrentReading = fn
}

// OnSensorChanged sets the callback fired when a sensor with a new serial
// number is adopted.
func (o *Orchestrator) OnSensorChanged(fn func(info model.SensorInfo)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onSensorChanged = fn
}

// OnReconnecting sets the callback fired when a reconnect is scheduled.
func (o *Orchestrator) OnReconnecting(fn func(attempt int, delay time.Duration)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onReconnecting = fn
}

// OnError sets the callback for session-level failures. Advisory detail;
// the state enum is the contract.
func (o *Orchestrator) OnError(fn func(err error)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onError = fn
}

// Initialize primes the session with a previously stored sensor, so a
// restart reconnects to the known sensor without treating it as new.
func (o *Orchestrator) Initialize(info *model.SensorInfo) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sensor = info
}

// State returns the current session state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// CurrentSensor returns the active sensor metadata, if known.
func (o *Orchestrator) CurrentSensor() *model.SensorInfo {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sensor
}

// Readings returns a snapshot of the retained reading window.
func (o *Orchestrator) Readings() []model.GlucoseReading {
	return o.window.Snapshot()
}

// LastSeen returns when the sensor last delivered a glucose batch,
// including unreliable-only batches.
func (o *Orchestrator) LastSeen() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastSeen
}

// Start begins the session from Idle: scan, then connect and
// authenticate.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if o.state != StateIdle {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrInvalidState, o.state)
	}

	o.userDisconnect = false
	o.scheduleSweepLocked()

	// A pinned device skips the scan phase entirely.
	if o.deviceID != "" {
		o.mu.Unlock()
		go o.connectAttempt(true)
		return nil
	}

	old := o.setStateLocked(StateScanning)
	o.mu.Unlock()

	o.emitStateChange(old, StateScanning)
	go o.scan()
	return nil
}

// Disconnect tears the session down to Idle. All pending timers and
// operations are cancelled synchronously; no reconnect fires afterwards.
func (o *Orchestrator) Disconnect() {
	o.mu.Lock()
	o.userDisconnect = true
	o.cancelTimersLocked()
	old := o.setStateLocked(StateIdle)
	o.mu.Unlock()

	o.engine.Reset()
	if err := o.transport.Disconnect(); err != nil && err != transport.ErrNotConnected {
		o.logger.Warn("disconnect failed", "error", err)
	}

	if old != StateIdle {
		o.emitStateChange(old, StateIdle)
	}
}

// Reconnect is the explicit escape hatch from terminal Error (or Idle
// after a disconnect): the attempt counter resets and a fresh connection
// sequence begins.
func (o *Orchestrator) Reconnect() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	switch o.state {
	case StateError, StateIdle, StateReconnecting:
	default:
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrInvalidState, o.state)
	}

	o.userDisconnect = false
	o.backoff.Reset()
	if o.reconnectTimer != nil {
		o.reconnectTimer.Stop()
		o.reconnectTimer = nil
	}
	o.scheduleSweepLocked()

	deviceID := o.deviceID
	var old State
	if deviceID == "" {
		old = o.setStateLocked(StateScanning)
	} else {
		old = o.setStateLocked(StateConnecting)
	}
	o.mu.Unlock()

	if deviceID == "" {
		o.emitStateChange(old, StateScanning)
		go o.scan()
	} else {
		o.emitStateChange(old, StateConnecting)
		go o.connectAttempt(false)
	}
	return nil
}

// Close shuts the session down permanently.
func (o *Orchestrator) Close() {
	o.Disconnect()

	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
}

// scan searches for a device. On failure the session returns to Idle.
func (o *Orchestrator) scan() {
	o.mu.Lock()
	if o.closed || o.userDisconnect {
		o.mu.Unlock()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.ScanTimeout)
	o.scanCancel = cancel
	o.mu.Unlock()

	deviceID, err := o.transport.Scan(ctx)
	cancel()

	o.mu.Lock()
	o.scanCancel = nil
	if o.closed || o.userDisconnect {
		o.mu.Unlock()
		return
	}
	if err != nil {
		old := o.setStateLocked(StateIdle)
		cbErr := o.onError
		o.mu.Unlock()

		o.logger.Warn("device scan failed", "error", err)
		o.emitStateChange(old, StateIdle)
		if cbErr != nil {
			cbErr(err)
		}
		return
	}

	o.deviceID = deviceID
	o.mu.Unlock()

	o.logger.Info("device found", "deviceID", deviceID)
	o.connectAttempt(true)
}

// connectAttempt performs one connection attempt. Failures schedule a
// reconnect with backoff.
func (o *Orchestrator) connectAttempt(announce bool) {
	o.mu.Lock()
	if o.closed || o.userDisconnect {
		o.mu.Unlock()
		return
	}
	deviceID := o.deviceID
	old := o.state
	if announce {
		old = o.setStateLocked(StateConnecting)
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.ConnectTimeout)
	o.connectCancel = cancel
	o.mu.Unlock()

	if announce {
		o.emitStateChange(old, StateConnecting)
	}

	err := o.transport.Connect(ctx, deviceID)
	cancel()

	o.mu.Lock()
	o.connectCancel = nil
	o.mu.Unlock()

	if err != nil {
		o.logger.Warn("connect failed", "deviceID", deviceID, "error", err)
		o.scheduleReconnect(err)
	}
}

// handleConnected reacts to the transport channel coming up: a fresh
// connection ID is issued and the protocol handshake starts.
func (o *Orchestrator) handleConnected() {
	o.mu.Lock()
	if o.closed || o.userDisconnect {
		o.mu.Unlock()
		return
	}

	o.connID = uuid.NewString()
	sensor := o.sensor
	pl := o.protocolLogger
	connID := o.connID
	old := o.setStateLocked(StateAuthenticating)
	o.mu.Unlock()

	o.emitStateChange(old, StateAuthenticating)

	o.engine.Reset()
	o.engine.Initialize(sensor)
	o.engine.SetProtocolLogger(pl, connID)

	if err := o.engine.StartAuthentication(); err != nil {
		o.logger.Warn("failed to start authentication", "error", err)
		o.scheduleReconnect(err)
	}
}

// handleDisconnected reacts to the transport channel going down. A user
// initiated disconnect lands in Idle; anything else schedules a
// reconnect.
func (o *Orchestrator) handleDisconnected(reason error) {
	o.mu.Lock()
	if o.pollTimer != nil {
		o.pollTimer.Stop()
		o.pollTimer = nil
	}
	if o.closed || o.userDisconnect {
		o.mu.Unlock()
		return
	}

	state := o.state
	o.mu.Unlock()

	if state != StateConnected && state != StateAuthenticating {
		return
	}

	if reason == nil {
		reason = transport.ErrNotConnected
	}
	o.logger.Warn("connection lost", "error", reason)
	o.scheduleReconnect(reason)
}

// handleTransportError logs non-fatal transport failures.
func (o *Orchestrator) handleTransportError(err error) {
	o.logger.Warn("transport error", "error", err)
}

// handleBytes forwards inbound bytes to the protocol engine.
func (o *Orchestrator) handleBytes(data []byte) {
	o.engine.HandleBytes(data)
}

// handleAuthComplete reacts to the protocol handshake outcome.
func (o *Orchestrator) handleAuthComplete(success bool) {
	if !success {
		o.scheduleReconnect(protocol.ErrAuthenticationFailed)
		return
	}

	o.mu.Lock()
	if o.closed || o.userDisconnect {
		o.mu.Unlock()
		return
	}

	o.backoff.Reset()
	o.lastSeen = o.now()
	old := o.setStateLocked(StateConnected)
	isGen2 := o.engine.Generation() == model.Gen2
	if isGen2 {
		o.pollTimer = o.newTimer(o.cfg.PollInterval, o.pollGlucose)
	}
	o.mu.Unlock()

	o.logger.Info("sensor session established", "generation", o.engine.Generation())
	o.emitStateChange(old, StateConnected)

	// Generation 3 streams on its own; generation 2 needs the explicit
	// first request.
	if o.engine.State() == protocol.StateAuthenticated {
		if err := o.engine.RequestGlucoseData(); err != nil {
			o.logger.Warn("glucose request failed", "error", err)
		}
	}
}

// handleEngineError reacts to fatal protocol failures by scheduling a
// reconnect.
func (o *Orchestrator) handleEngineError(err error) {
	o.mu.Lock()
	state := o.state
	cbErr := o.onError
	o.mu.Unlock()

	o.logger.Warn("protocol failure", "error", err, "state", state)
	if cbErr != nil {
		cbErr(err)
	}

	if state == StateConnected || state == StateAuthenticating {
		o.scheduleReconnect(err)
	}
}

// handleGlucose ingests a decoded batch: the window retains and
// deduplicates it, trends are annotated, the newest reading is published
// regardless of quality, and reliable readings are persisted.
func (o *Orchestrator) handleGlucose(readings []model.GlucoseReading) {
	o.mu.Lock()
	o.lastSeen = o.now()
	cbCurrent := o.onCurrentReading
	store := o.store
	o.mu.Unlock()

	added := o.window.Add(readings)
	if len(added) == 0 {
		return
	}

	if latest, ok := o.window.Latest(); ok && cbCurrent != nil {
		cbCurrent(latest)
	}

	accepted := added[:0:0]
	for _, r := range added {
		if r.Quality != model.QualityUnreliable {
			accepted = append(accepted, r)
		}
	}
	if len(accepted) == 0 || store == nil {
		return
	}

	if err := store.SaveReadings(accepted); err != nil {
		o.logger.Warn("failed to persist readings", "count", len(accepted), "error", err)
	}
}

// handleSensorInfo adopts updated sensor metadata. A serial number change
// is a sensor change: it clears the reading window and fires the change
// callback, but only when the configuration permits new sensors. The
// reconnect attempt counter is untouched either way.
func (o *Orchestrator) handleSensorInfo(info model.SensorInfo) {
	o.mu.Lock()
	prev := o.sensor
	changed := prev != nil && prev.SerialNumber != info.SerialNumber

	if changed && !o.cfg.AcceptNewSensors {
		logger := o.logger
		o.mu.Unlock()
		logger.Warn("ignoring unexpected sensor",
			"serial", info.SerialNumber, "expected", prev.SerialNumber)
		return
	}

	o.sensor = &info
	cbChanged := o.onSensorChanged
	store := o.store
	logger := o.logger
	o.mu.Unlock()

	if changed {
		logger.Info("sensor changed",
			"serial", info.SerialNumber, "previous", prev.SerialNumber)
		o.window.Clear()
		if cbChanged != nil {
			cbChanged(info)
		}
	}

	if store != nil {
		if err := store.SaveSensorInfo(info); err != nil {
			logger.Warn("failed to persist sensor info", "serial", info.SerialNumber, "error", err)
		}
	}
}

// scheduleReconnect records the failure and arms the backoff timer for
// the next attempt. Reaching the consecutive failure cap is terminal:
// the session enters Error and no further attempt is scheduled.
func (o *Orchestrator) scheduleReconnect(cause error) {
	o.mu.Lock()
	if o.closed || o.userDisconnect {
		o.mu.Unlock()
		return
	}
	switch o.state {
	case StateIdle, StateError, StateReconnecting:
		o.mu.Unlock()
		return
	}

	delay := o.backoff.Next()
	attempt := o.backoff.Attempts()

	if o.backoff.Exhausted() {
		old := o.setStateLocked(StateError)
		cbErr := o.onError
		o.mu.Unlock()

		o.logger.Error("reconnect attempts exhausted", "failures", attempt, "cause", cause)
		o.emitStateChange(old, StateError)
		if cbErr != nil {
			cbErr(ErrExhausted)
		}
		return
	}
	old := o.setStateLocked(StateReconnecting)
	o.reconnectTimer = o.newTimer(delay, o.reconnectNow)
	cbReconnecting := o.onReconnecting
	o.mu.Unlock()

	o.logger.Info("reconnect scheduled",
		"attempt", attempt, "delay", delay, "cause", cause)
	o.emitStateChange(old, StateReconnecting)
	if cbReconnecting != nil {
		cbReconnecting(attempt, delay)
	}
}

// reconnectNow fires when the backoff delay elapses.
func (o *Orchestrator) reconnectNow() {
	o.mu.Lock()
	if o.closed || o.userDisconnect || o.state != StateReconnecting {
		o.mu.Unlock()
		return
	}
	o.reconnectTimer = nil
	o.mu.Unlock()

	// Tear down any half-open link before retrying.
	o.engine.Reset()
	_ = o.transport.Disconnect()

	o.connectAttempt(true)
}

// pollGlucose periodically requests the generation-2 glucose block.
func (o *Orchestrator) pollGlucose() {
	o.mu.Lock()
	if o.closed || o.userDisconnect || o.state != StateConnected {
		o.mu.Unlock()
		return
	}
	o.pollTimer = o.newTimer(o.cfg.PollInterval, o.pollGlucose)
	o.mu.Unlock()

	if o.engine.State() != protocol.StateAuthenticated {
		return
	}
	if err := o.engine.RequestGlucoseData(); err != nil {
		o.logger.Warn("glucose poll failed", "error", err)
	}
}

// sweep prunes the reading window on a fixed interval so entries expire
// even while no new batches arrive.
func (o *Orchestrator) sweep() {
	o.window.Prune(o.now())

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.userDisconnect {
		return
	}
	o.cleanupTimer = o.newTimer(cleanupInterval, o.sweep)
}

// scheduleSweepLocked arms the periodic window sweep. Caller holds the
// lock.
func (o *Orchestrator) scheduleSweepLocked() {
	if o.cleanupTimer != nil {
		o.cleanupTimer.Stop()
	}
	o.cleanupTimer = o.newTimer(cleanupInterval, o.sweep)
}

// cancelTimersLocked stops every pending timer and in-flight operation.
// Caller holds the lock.
func (o *Orchestrator) cancelTimersLocked() {
	if o.reconnectTimer != nil {
		o.reconnectTimer.Stop()
		o.reconnectTimer = nil
	}
	if o.cleanupTimer != nil {
		o.cleanupTimer.Stop()
		o.cleanupTimer = nil
	}
	if o.pollTimer != nil {
		o.pollTimer.Stop()
		o.pollTimer = nil
	}
	if o.scanCancel != nil {
		o.scanCancel()
		o.scanCancel = nil
	}
	if o.connectCancel != nil {
		o.connectCancel()
		o.connectCancel = nil
	}
}

// setStateLocked transitions the state and returns the old one. Caller
// holds the lock.
func (o *Orchestrator) setStateLocked(newState State) State {
	old := o.state
	o.state = newState
	return old
}

// emitStateChange logs a session state transition and invokes the
// application callback. Called without the lock held.
func (o *Orchestrator) emitStateChange(old, newState State) {
	if old == newState {
		return
	}

	o.mu.Lock()
	cb := o.onStateChange
	pl := o.protocolLogger
	connID := o.connID
	deviceID := o.deviceID
	var serial string
	if o.sensor != nil {
		serial = o.sensor.SerialNumber
	}
	o.mu.Unlock()

	o.logger.Debug("session state change", "from", old, "to", newState)

	if pl != nil {
		pl.Log(log.Event{
			Timestamp:    time.Now(),
			ConnectionID: connID,
			Direction:    log.DirectionIn,
			Layer:        log.LayerSession,
			Category:     log.CategoryState,
			DeviceID:     deviceID,
			SensorSerial: serial,
			Generation:   o.engine.Generation().String(),
			StateChange: &log.StateChangeEvent{
				Entity:   log.StateEntitySession,
				OldState: old.String(),
				NewState: newState.String(),
			},
		})
	}

	if cb != nil {
		cb(old, newState)
	}
}
