package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/glucolink/glucolink-go/pkg/model"
	"github.com/glucolink/glucolink-go/pkg/session"
)

// StateVersion is the current version of the state file format.
const StateVersion = 1

// DefaultMaxReadings caps the number of readings retained in the state
// file. The oldest records are trimmed once the cap is exceeded.
const DefaultMaxReadings = 4096

// SensorState is the persisted session state.
type SensorState struct {
	// Version is the state file format version.
	Version int `json:"version"`

	// SavedAt is when the state was last saved.
	SavedAt time.Time `json:"saved_at"`

	// Sensor is the last adopted sensor metadata.
	Sensor *model.SensorInfo `json:"sensor,omitempty"`

	// Readings are the accepted glucose readings, ascending by
	// timestamp, unique per timestamp.
	Readings []model.GlucoseReading `json:"readings,omitempty"`
}

// SensorStateStore persists sensor state to a JSON file.
type SensorStateStore struct {
	mu          sync.Mutex
	path        string
	maxReadings int
}

// Compile-time contract check.
var _ session.Store = (*SensorStateStore)(nil)

// NewSensorStateStore creates a store backed by the given file path.
func NewSensorStateStore(path string) *SensorStateStore {
	return &SensorStateStore{path: path, maxReadings: DefaultMaxReadings}
}

// SetMaxReadings overrides the retained reading cap.
func (s *SensorStateStore) SetMaxReadings(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > 0 {
		s.maxReadings = n
	}
}

// SaveReadings merges a batch into the state file. Readings whose
// timestamp is already present are skipped.
func (s *SensorStateStore) SaveReadings(readings []model.GlucoseReading) error {
	if len(readings) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.loadLocked()
	if err != nil {
		return err
	}

	seen := make(map[time.Time]struct{}, len(state.Readings))
	for _, r := range state.Readings {
		seen[r.Timestamp] = struct{}{}
	}

	inserted := false
	for _, r := range readings {
		if _, dup := seen[r.Timestamp]; dup {
			continue
		}
		seen[r.Timestamp] = struct{}{}
		state.Readings = append(state.Readings, r)
		inserted = true
	}
	if !inserted {
		return nil
	}

	sort.Slice(state.Readings, func(i, j int) bool {
		return state.Readings[i].Timestamp.Before(state.Readings[j].Timestamp)
	})
	if len(state.Readings) > s.maxReadings {
		state.Readings = state.Readings[len(state.Readings)-s.maxReadings:]
	}

	return s.saveLocked(state)
}

// SaveSensorInfo replaces the persisted sensor metadata.
func (s *SensorStateStore) SaveSensorInfo(info model.SensorInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.loadLocked()
	if err != nil {
		return err
	}

	// A different sensor invalidates the previous sensor's readings.
	if state.Sensor != nil && state.Sensor.SerialNumber != info.SerialNumber {
		state.Readings = nil
	}
	state.Sensor = &info

	return s.saveLocked(state)
}

// Load reads the persisted state. Returns an empty state if the file
// does not exist.
func (s *SensorStateStore) Load() (*SensorState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

// Sensor returns the persisted sensor metadata, if any.
func (s *SensorStateStore) Sensor() (*model.SensorInfo, error) {
	state, err := s.Load()
	if err != nil {
		return nil, err
	}
	return state.Sensor, nil
}

// Readings returns the persisted readings within the given time range.
// Zero bounds are open.
func (s *SensorStateStore) Readings(from, to time.Time) ([]model.GlucoseReading, error) {
	state, err := s.Load()
	if err != nil {
		return nil, err
	}

	var out []model.GlucoseReading
	for _, r := range state.Readings {
		if !from.IsZero() && r.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && r.Timestamp.After(to) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Clear removes the state file.
func (s *SensorStateStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// loadLocked reads the state file. Caller holds the lock.
func (s *SensorStateStore) loadLocked() (*SensorState, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &SensorState{Version: StateVersion}, nil
	}
	if err != nil {
		return nil, err
	}

	state := &SensorState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, err
	}
	return state, nil
}

// saveLocked writes the state file. Caller holds the lock.
func (s *SensorStateStore) saveLocked(state *SensorState) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}

	state.Version = StateVersion
	state.SavedAt = time.Now()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.path, data, 0644)
}
