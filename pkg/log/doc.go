// Package log provides structured protocol logging for GlucoLink.
//
// This package defines the Logger interface and Event types for capturing
// protocol-level events at multiple layers (transport, protocol, session).
// It is separate from operational logging (slog) - protocol capture provides
// a complete machine-readable event trace for debugging sensor link issues.
//
// # Basic Usage
//
// Applications configure logging by providing a Logger implementation:
//
//	// For development: log to console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/var/log/glucolink/session.glog")
//
//	// Both: use MultiLogger
//	cfg.ProtocolLogger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    log.NewFileLogger("/var/log/glucolink/session.glog"),
//	)
//
// # Event Types
//
// Events are captured at multiple layers:
//   - Transport: Raw inbound/outbound bytes (FrameEvent)
//   - Protocol: Framed messages and engine state (MessageEvent)
//   - Session: Lifecycle state changes (StateChangeEvent)
//
// Errors at any layer have a dedicated event type.
//
// # File Format
//
// Log files use CBOR encoding with .glog extension. Reader streams events
// back with optional filtering.
package log
