// Package persistence stores sensor metadata and accepted glucose
// readings in a versioned JSON state file.
//
// The SensorStateStore implements the session.Store collaborator
// contract: reading insertion is idempotent by timestamp, so overlapping
// trend and history windows redelivered across batches never create
// duplicate records.
package persistence
