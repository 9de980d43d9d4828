package session

import (
	"errors"
	"time"

	"github.com/glucolink/glucolink-go/pkg/model"
)

// Session defaults.
const (
	// DefaultRetention is the rolling reading-window horizon.
	DefaultRetention = 30 * time.Minute

	// DefaultScanTimeout bounds a device scan.
	DefaultScanTimeout = 30 * time.Second

	// DefaultConnectTimeout bounds a connection attempt.
	DefaultConnectTimeout = 30 * time.Second

	// DefaultPollInterval is how often a generation-2 sensor is polled
	// for its glucose block. Generation 3 streams and is never polled.
	DefaultPollInterval = 5 * time.Minute

	// cleanupInterval is how often the reading window is swept for
	// expired entries independently of inserts.
	cleanupInterval = time.Minute
)

// Session errors.
var (
	// ErrInvalidState indicates an operation not valid in the current
	// session state.
	ErrInvalidState = errors.New("operation not valid in current session state")

	// ErrExhausted indicates the consecutive reconnect attempt cap was
	// reached. Terminal until an explicit Reconnect.
	ErrExhausted = errors.New("reconnect attempts exhausted")

	// ErrClosed indicates the orchestrator has been closed.
	ErrClosed = errors.New("session closed")

	// ErrGenerationMismatch indicates the engine's generation does not
	// match the configured one.
	ErrGenerationMismatch = errors.New("engine generation does not match configuration")
)

// State represents the session state.
type State uint8

const (
	// StateIdle indicates no session activity.
	StateIdle State = iota

	// StateScanning indicates a device scan is in progress.
	StateScanning

	// StateConnecting indicates a connection attempt is in progress.
	StateConnecting

	// StateAuthenticating indicates the protocol handshake is running.
	StateAuthenticating

	// StateConnected indicates an authenticated, streaming session.
	StateConnected

	// StateReconnecting indicates a reconnect is scheduled.
	StateReconnecting

	// StateError indicates reconnection attempts are exhausted. Terminal
	// until an explicit Reconnect or Disconnect.
	StateError
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateScanning:
		return "SCANNING"
	case StateConnecting:
		return "CONNECTING"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Config holds session orchestration settings. Zero values fall back to
// the package defaults.
type Config struct {
	// Generation selects the sensor protocol generation.
	Generation model.Generation

	// DeviceID pins the session to a known transport device, skipping
	// the scan phase. Empty scans for a device on Start.
	DeviceID string

	// Retention is the reading-window horizon.
	Retention time.Duration

	// MaxReconnectAttempts caps consecutive failed reconnects before the
	// session enters terminal Error.
	MaxReconnectAttempts int

	// BackoffInitial and BackoffMax bound the reconnect delay: the
	// retry after the nth consecutive failure waits
	// min(BackoffMax, BackoffInitial*2^n).
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	// ScanTimeout and ConnectTimeout bound the respective operations.
	ScanTimeout    time.Duration
	ConnectTimeout time.Duration

	// PollInterval is the generation-2 glucose polling period.
	PollInterval time.Duration

	// AcceptNewSensors permits switching to a sensor with a different
	// serial number than the previously seen one.
	AcceptNewSensors bool
}

// withDefaults returns the config with zero values filled in.
func (c Config) withDefaults() Config {
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.ScanTimeout <= 0 {
		c.ScanTimeout = DefaultScanTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}
