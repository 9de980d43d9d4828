package transport

import (
	"context"
	"errors"
)

// Transport errors.
var (
	// ErrNotConnected indicates a send or disconnect without an active
	// connection.
	ErrNotConnected = errors.New("transport not connected")

	// ErrScanTimeout indicates no matching device was found in time.
	ErrScanTimeout = errors.New("scan timed out")

	// ErrConnectTimeout indicates the connection attempt timed out.
	ErrConnectTimeout = errors.New("connect timed out")
)

// Transport is the duplex byte channel to a sensor.
//
// All callback setters must be invoked before Connect. Implementations
// own the underlying radio; the core only sequences connect, send and
// disconnect and reacts to callbacks.
type Transport interface {
	// Scan searches for a reachable sensor of the expected generation
	// and returns its device ID. Honors ctx cancellation and deadline.
	Scan(ctx context.Context) (deviceID string, err error)

	// Connect establishes the connection to the given device.
	// Honors ctx cancellation and deadline. The OnConnected callback
	// fires once the channel is ready for Send.
	Connect(ctx context.Context, deviceID string) error

	// Disconnect tears the connection down. Safe to call when not
	// connected. A disconnect requested here still fires the
	// OnDisconnected callback.
	Disconnect() error

	// Send writes bytes to the sensor. Non-blocking or briefly
	// buffering; never waits for a response.
	Send(data []byte) error

	// OnBytesReceived registers the inbound data callback. Bytes are
	// delivered in transport order.
	OnBytesReceived(fn func(data []byte))

	// OnConnected registers the connection-established callback.
	OnConnected(fn func())

	// OnDisconnected registers the connection-lost callback. reason is
	// nil for a locally requested disconnect.
	OnDisconnected(fn func(reason error))

	// OnError registers the transport error callback for failures that
	// do not terminate the connection.
	OnError(fn func(err error))
}
