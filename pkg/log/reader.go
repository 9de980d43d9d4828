package log

import (
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter selects a subset of logged events. A zero Filter matches
// everything; each non-zero field narrows the selection.
type Filter struct {
	// ConnectionID requires an exact connection ID.
	ConnectionID string

	// Direction restricts to inbound or outbound events.
	Direction *Direction

	// Layer restricts to a capture layer.
	Layer *Layer

	// Category restricts to an event category.
	Category *Category

	// TimeStart excludes events before this instant.
	TimeStart *time.Time

	// TimeEnd excludes events at or after this instant.
	TimeEnd *time.Time

	// SensorSerial requires an exact sensor serial.
	SensorSerial string
}

func (f *Filter) matches(e Event) bool {
	switch {
	case f.ConnectionID != "" && e.ConnectionID != f.ConnectionID:
		return false
	case f.Direction != nil && e.Direction != *f.Direction:
		return false
	case f.Layer != nil && e.Layer != *f.Layer:
		return false
	case f.Category != nil && e.Category != *f.Category:
		return false
	case f.TimeStart != nil && e.Timestamp.Before(*f.TimeStart):
		return false
	case f.TimeEnd != nil && !e.Timestamp.Before(*f.TimeEnd):
		return false
	case f.SensorSerial != "" && e.SensorSerial != f.SensorSerial:
		return false
	}
	return true
}

// Reader streams events out of a .glog file one at a time, so large
// captures never have to fit in memory.
type Reader struct {
	file    *os.File
	decoder *cbor.Decoder
	filter  Filter
}

// NewReader opens path and yields every event in it.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader opens path and yields only events matching filter.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{
		file:    f,
		decoder: NewDecoder(f),
		filter:  filter,
	}, nil
}

// Next returns the next matching event, or io.EOF once the file is
// exhausted.
func (r *Reader) Next() (Event, error) {
	for {
		var e Event
		if err := r.decoder.Decode(&e); err != nil {
			return Event{}, err
		}
		if r.filter.matches(e) {
			return e, nil
		}
	}
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}
