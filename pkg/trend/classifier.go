package trend

import (
	"math"
	"sort"
	"time"

	"github.com/glucolink/glucolink-go/pkg/model"
)

// Classification parameters.
const (
	// WindowDuration is the trailing window the regression runs over.
	WindowDuration = 15 * time.Minute

	// MinReadings is the minimum number of usable readings required to
	// compute a trend or noise estimate.
	MinReadings = 3

	// NoiseDegradedThreshold is the residual standard deviation (mg/dL)
	// above which a series is classified as degraded.
	NoiseDegradedThreshold = 5.0

	// NoiseUnreliableThreshold is the residual standard deviation (mg/dL)
	// above which a series is classified as unreliable.
	NoiseUnreliableThreshold = 15.0
)

// Slope thresholds in mg/dL per minute. Negative thresholds mirror the
// positive ones; the band around zero classifies as flat.
const (
	slopeDoubleUp     = 3.0
	slopeSingleUp     = 2.0
	slopeFortyFiveUp  = 1.0
	slopeFlatFloor    = -0.5
	slopeFortyFiveDwn = -1.0
	slopeSingleDown   = -2.0
)

// ClassifyTrend computes the trend arrow for a time-ordered reading series.
//
// Readings outside the trailing window and unreliable readings are
// excluded; if fewer than MinReadings remain, the result is TrendNone.
func ClassifyTrend(readings []model.GlucoseReading) model.Trend {
	pts := windowed(readings)
	if len(pts) < MinReadings {
		return model.TrendNone
	}

	slope, _, ok := regress(pts)
	if !ok {
		return model.TrendNone
	}

	switch {
	case slope >= slopeDoubleUp:
		return model.TrendDoubleUp
	case slope >= slopeSingleUp:
		return model.TrendSingleUp
	case slope >= slopeFortyFiveUp:
		return model.TrendFortyFiveUp
	case slope >= slopeFlatFloor:
		return model.TrendFlat
	case slope >= slopeFortyFiveDwn:
		return model.TrendFortyFiveDown
	case slope >= slopeSingleDown:
		return model.TrendSingleDown
	default:
		return model.TrendDoubleDown
	}
}

// ClassifyNoise estimates the noise tier of a reading series from the
// standard deviation of the regression residuals. Series with fewer than
// MinReadings usable points are good by definition.
func ClassifyNoise(readings []model.GlucoseReading) model.Quality {
	pts := windowed(readings)
	if len(pts) < MinReadings {
		return model.QualityGood
	}

	slope, intercept, ok := regress(pts)
	if !ok {
		return model.QualityGood
	}

	var sse float64
	for _, p := range pts {
		residual := p.y - (intercept + slope*p.x)
		sse += residual * residual
	}
	stdev := math.Sqrt(sse / float64(len(pts)-2))

	switch {
	case stdev > NoiseUnreliableThreshold:
		return model.QualityUnreliable
	case stdev > NoiseDegradedThreshold:
		return model.QualityDegraded
	default:
		return model.QualityGood
	}
}

// AnnotateTrends returns a copy of the series, sorted by time, with each
// reading's trend computed over the prefix ending at that reading. The
// trend is causal: no reading's arrow depends on later readings.
func AnnotateTrends(readings []model.GlucoseReading) []model.GlucoseReading {
	out := append([]model.GlucoseReading(nil), readings...)
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})

	for i := range out {
		out[i].Trend = ClassifyTrend(out[:i+1])
	}
	return out
}

// point is a regression sample: x in minutes since the first windowed
// reading, y in mg/dL.
type point struct {
	x, y float64
}

// windowed filters the series to reliable readings within the trailing
// window and converts them to regression points.
func windowed(readings []model.GlucoseReading) []point {
	if len(readings) == 0 {
		return nil
	}

	newest := readings[len(readings)-1].Timestamp
	for _, r := range readings {
		if r.Timestamp.After(newest) {
			newest = r.Timestamp
		}
	}
	horizon := newest.Add(-WindowDuration)

	var kept []model.GlucoseReading
	for _, r := range readings {
		if r.Quality == model.QualityUnreliable {
			continue
		}
		if r.Timestamp.Before(horizon) {
			continue
		}
		kept = append(kept, r)
	}
	if len(kept) == 0 {
		return nil
	}

	first := kept[0].Timestamp
	pts := make([]point, len(kept))
	for i, r := range kept {
		pts[i] = point{
			x: r.Timestamp.Sub(first).Minutes(),
			y: r.GlucoseMgDl,
		}
	}
	return pts
}

// regress fits y = intercept + slope*x by ordinary least squares.
// ok is false when all x values coincide (vertical line).
func regress(pts []point) (slope, intercept float64, ok bool) {
	n := float64(len(pts))

	var sumX, sumY float64
	for _, p := range pts {
		sumX += p.x
		sumY += p.y
	}
	meanX := sumX / n
	meanY := sumY / n

	var sxx, sxy float64
	for _, p := range pts {
		dx := p.x - meanX
		sxx += dx * dx
		sxy += dx * (p.y - meanY)
	}
	if sxx == 0 {
		return 0, 0, false
	}

	slope = sxy / sxx
	intercept = meanY - slope*meanX
	return slope, intercept, true
}
