package model

import (
	"fmt"
	"time"
)

// Trend is the coarse rate-of-change classification for a glucose series.
type Trend uint8

const (
	// TrendNone indicates no trend could be computed (insufficient data).
	TrendNone Trend = iota

	// TrendDoubleUp indicates a rise of 3 mg/dL per minute or more.
	TrendDoubleUp

	// TrendSingleUp indicates a rise of 2-3 mg/dL per minute.
	TrendSingleUp

	// TrendFortyFiveUp indicates a rise of 1-2 mg/dL per minute.
	TrendFortyFiveUp

	// TrendFlat indicates a change between -0.5 and +1 mg/dL per minute.
	TrendFlat

	// TrendFortyFiveDown indicates a fall of 0.5-1 mg/dL per minute.
	TrendFortyFiveDown

	// TrendSingleDown indicates a fall of 1-2 mg/dL per minute.
	TrendSingleDown

	// TrendDoubleDown indicates a fall of 2 mg/dL per minute or more.
	TrendDoubleDown
)

// String returns the trend name.
func (t Trend) String() string {
	switch t {
	case TrendNone:
		return "NONE"
	case TrendDoubleUp:
		return "DOUBLE_UP"
	case TrendSingleUp:
		return "SINGLE_UP"
	case TrendFortyFiveUp:
		return "FORTYFIVE_UP"
	case TrendFlat:
		return "FLAT"
	case TrendFortyFiveDown:
		return "FORTYFIVE_DOWN"
	case TrendSingleDown:
		return "SINGLE_DOWN"
	case TrendDoubleDown:
		return "DOUBLE_DOWN"
	default:
		return "UNKNOWN"
	}
}

// Quality classifies the reliability of a glucose reading.
type Quality uint8

const (
	// QualityGood indicates a reading with no quality flags set.
	QualityGood Quality = iota

	// QualityDegraded indicates a reading the sensor flagged as degraded.
	// Degraded readings are retained but should be treated with caution.
	QualityDegraded

	// QualityUnreliable indicates a reading the sensor flagged as
	// unreliable. Unreliable readings are excluded from trend computation
	// and from persistence.
	QualityUnreliable
)

// String returns the quality name.
func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "GOOD"
	case QualityDegraded:
		return "DEGRADED"
	case QualityUnreliable:
		return "UNRELIABLE"
	default:
		return "UNKNOWN"
	}
}

// GlucoseReading is a single validated glucose measurement.
//
// The decoder fills in Timestamp, GlucoseMgDl, Quality and the optional raw
// fields; Trend is a derived field computed later by the trend classifier.
type GlucoseReading struct {
	// Timestamp is when the measurement was taken.
	Timestamp time.Time `json:"timestamp"`

	// GlucoseMgDl is the glucose concentration in mg/dL.
	// Always > 0 for Good and Degraded readings; values <= 0 are rejected
	// at decode time.
	GlucoseMgDl float64 `json:"glucose_mg_dl"`

	// Trend is the rate-of-change classification, filled in by the
	// classifier over the reading window. TrendNone until annotated.
	Trend Trend `json:"trend"`

	// Quality is the sensor-reported reliability of this reading.
	Quality Quality `json:"quality"`

	// RawValue is the unscaled sensor value, if available.
	RawValue *float64 `json:"raw_value,omitempty"`

	// TemperatureC is the sensor temperature in degrees Celsius, if the
	// record carried one.
	TemperatureC *float64 `json:"temperature_c,omitempty"`
}

// Validate checks the reading invariants.
func (r GlucoseReading) Validate() error {
	if r.Timestamp.IsZero() {
		return fmt.Errorf("reading has zero timestamp")
	}
	if r.Quality != QualityUnreliable && r.GlucoseMgDl <= 0 {
		return fmt.Errorf("glucose value %.1f mg/dL out of range for quality %s",
			r.GlucoseMgDl, r.Quality)
	}
	return nil
}

// QualityFromFlags maps the 16-bit quality flag word used by both sensor
// generations to a Quality. Bit 15 marks a reading unreliable, bit 14
// marks it degraded; with neither set the reading is good.
func QualityFromFlags(flags uint16) Quality {
	switch {
	case flags&0x8000 != 0:
		return QualityUnreliable
	case flags&0x4000 != 0:
		return QualityDegraded
	default:
		return QualityGood
	}
}
