package session

import "github.com/glucolink/glucolink-go/pkg/model"

// Store is the persistence collaborator. Implementations must make
// reading insertion idempotent by timestamp: overlapping trend and
// history windows redeliver the same readings across batches.
type Store interface {
	// SaveReadings persists a batch of accepted readings. The batch is
	// time-ordered and free of unreliable-quality readings.
	SaveReadings(readings []model.GlucoseReading) error

	// SaveSensorInfo persists updated sensor metadata.
	SaveSensorInfo(info model.SensorInfo) error
}
