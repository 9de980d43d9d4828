// Package protocol implements the per-generation sensor protocol state
// machines.
//
// Both engines implement the shared Engine contract: bytes from the
// transport are fed to HandleBytes, authentication is driven by
// StartAuthentication, and decoded glucose readings, sensor info and
// lifecycle outcomes are emitted through callbacks. Outbound bytes go
// through the registered sender; the engine never touches the transport
// directly.
//
// Generation 2 authenticates actively with an unlock key derived from
// out-of-band patch info and reads glucose as a single encrypted block on
// request. Generation 3 authenticates passively against a sensor-initiated
// challenge and then receives a continuous framed stream.
//
// # State machine
//
//	Idle --StartAuthentication--> Authenticating --success--> Authenticated
//	Authenticated --RequestGlucoseData--> Reading
//
// Authentication failure enters Error; Reset returns to Idle from any
// state and clears buffers and key material. Authenticated and Reading
// both accept inbound glucose data.
//
// An engine instance exclusively owns its decode buffers and session key
// material and serves exactly one sensor session. State-mutating calls
// are serialized internally with a mutex, but callers are expected to
// deliver transport bytes in order on a single execution context.
package protocol
