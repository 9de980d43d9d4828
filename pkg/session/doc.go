// Package session orchestrates the sensor connection lifecycle.
//
// An Orchestrator owns one transport, one protocol engine and one
// ReadingWindow, and sequences scan, connect, authenticate and stream. It
// schedules reconnection with exponential backoff after unexpected
// disconnects and transport failures, entering a terminal Error state once
// the consecutive attempt cap is reached. Decoded readings are retained in
// a rolling window, annotated with trend arrows, and forwarded to a Store
// collaborator with unreliable readings filtered out.
//
// All mutable session state is owned by the single Orchestrator instance.
// Transport callbacks, engine callbacks and internal timers are the only
// asynchronous entry points; each serializes through the orchestrator
// mutex, and callbacks to the application fire outside it.
package session
