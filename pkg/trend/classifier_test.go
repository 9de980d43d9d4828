package trend

import (
	"testing"
	"time"

	"github.com/glucolink/glucolink-go/pkg/model"
)

// series builds an evenly spaced reading sequence: one reading per
// spacing, values produced by f(minutes since the first reading).
func series(start time.Time, n int, spacing time.Duration, f func(min float64) float64) []model.GlucoseReading {
	readings := make([]model.GlucoseReading, n)
	for i := range readings {
		ts := start.Add(time.Duration(i) * spacing)
		readings[i] = model.GlucoseReading{
			Timestamp:   ts,
			GlucoseMgDl: f(ts.Sub(start).Minutes()),
			Quality:     model.QualityGood,
		}
	}
	return readings
}

func TestClassifyTrend(t *testing.T) {
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	t.Run("TooFewReadings", func(t *testing.T) {
		if got := ClassifyTrend(nil); got != model.TrendNone {
			t.Errorf("empty series = %s, want NONE", got)
		}
		two := series(start, 2, time.Minute, func(m float64) float64 { return 100 + m })
		if got := ClassifyTrend(two); got != model.TrendNone {
			t.Errorf("two readings = %s, want NONE", got)
		}
	})

	t.Run("SingleUpAtExactlyTwo", func(t *testing.T) {
		s := series(start, 5, time.Minute, func(m float64) float64 { return 100 + 2.0*m })
		if got := ClassifyTrend(s); got != model.TrendSingleUp {
			t.Errorf("slope 2.0 = %s, want SINGLE_UP", got)
		}
	})

	t.Run("DoubleUpAboveThree", func(t *testing.T) {
		s := series(start, 5, time.Minute, func(m float64) float64 { return 100 + 3.5*m })
		if got := ClassifyTrend(s); got != model.TrendDoubleUp {
			t.Errorf("slope 3.5 = %s, want DOUBLE_UP", got)
		}
	})

	t.Run("FlatWithJitter", func(t *testing.T) {
		jitter := []float64{0.1, -0.1, 0.05, -0.05, 0.1}
		i := 0
		s := series(start, 5, time.Minute, func(float64) float64 {
			v := 110 + jitter[i]
			i++
			return v
		})
		if got := ClassifyTrend(s); got != model.TrendFlat {
			t.Errorf("jittered flat series = %s, want FLAT", got)
		}
	})

	t.Run("FallingBuckets", func(t *testing.T) {
		cases := []struct {
			slope float64
			want  model.Trend
		}{
			{-0.7, model.TrendFortyFiveDown},
			{-1.5, model.TrendSingleDown},
			{-2.5, model.TrendDoubleDown},
			{-4.0, model.TrendDoubleDown},
		}
		for _, tc := range cases {
			s := series(start, 5, time.Minute, func(m float64) float64 { return 300 + tc.slope*m })
			if got := ClassifyTrend(s); got != tc.want {
				t.Errorf("slope %.1f = %s, want %s", tc.slope, got, tc.want)
			}
		}
	})

	t.Run("UnreliableExcluded", func(t *testing.T) {
		// A flat reliable series with wild unreliable outliers mixed in
		// must still classify as flat.
		s := series(start, 6, time.Minute, func(float64) float64 { return 120 })
		s[1].Quality = model.QualityUnreliable
		s[1].GlucoseMgDl = 400
		s[4].Quality = model.QualityUnreliable
		s[4].GlucoseMgDl = 40

		if got := ClassifyTrend(s); got != model.TrendFlat {
			t.Errorf("with unreliable outliers = %s, want FLAT", got)
		}
	})

	t.Run("UnreliableLeavesTooFew", func(t *testing.T) {
		s := series(start, 4, time.Minute, func(m float64) float64 { return 100 + 2*m })
		s[0].Quality = model.QualityUnreliable
		s[2].Quality = model.QualityUnreliable
		if got := ClassifyTrend(s); got != model.TrendNone {
			t.Errorf("two usable readings = %s, want NONE", got)
		}
	})

	t.Run("OldReadingsOutsideWindow", func(t *testing.T) {
		// Old falling readings followed by three recent rising ones: only
		// the trailing 15 minutes count.
		old := series(start.Add(-2*time.Hour), 5, time.Minute, func(m float64) float64 { return 300 - 2*m })
		recent := series(start, 4, 5*time.Minute, func(m float64) float64 { return 100 + 2.0*m })
		if got := ClassifyTrend(append(old, recent...)); got != model.TrendSingleUp {
			t.Errorf("windowed series = %s, want SINGLE_UP", got)
		}
	})
}

func TestClassifyNoise(t *testing.T) {
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	t.Run("CleanSeriesGood", func(t *testing.T) {
		s := series(start, 5, time.Minute, func(m float64) float64 { return 100 + m })
		if got := ClassifyNoise(s); got != model.QualityGood {
			t.Errorf("noiseless line = %s, want GOOD", got)
		}
	})

	t.Run("TooFewIsGoodByDefinition", func(t *testing.T) {
		if got := ClassifyNoise(nil); got != model.QualityGood {
			t.Errorf("empty series = %s, want GOOD", got)
		}
	})

	t.Run("ModerateNoiseDegraded", func(t *testing.T) {
		offsets := []float64{10, -10, 10, -10, 10, -10}
		i := 0
		s := series(start, 6, time.Minute, func(float64) float64 {
			v := 120 + offsets[i]
			i++
			return v
		})
		if got := ClassifyNoise(s); got != model.QualityDegraded {
			t.Errorf("+/-10 residuals = %s, want DEGRADED", got)
		}
	})

	t.Run("HeavyNoiseUnreliable", func(t *testing.T) {
		offsets := []float64{40, -40, 40, -40, 40, -40}
		i := 0
		s := series(start, 6, time.Minute, func(float64) float64 {
			v := 150 + offsets[i]
			i++
			return v
		})
		if got := ClassifyNoise(s); got != model.QualityUnreliable {
			t.Errorf("+/-40 residuals = %s, want UNRELIABLE", got)
		}
	})
}

func TestAnnotateTrends(t *testing.T) {
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s := series(start, 6, time.Minute, func(m float64) float64 { return 100 + 2.0*m })

	// Shuffle the input; annotation must sort by time.
	shuffled := []model.GlucoseReading{s[3], s[0], s[5], s[1], s[4], s[2]}
	out := AnnotateTrends(shuffled)

	if len(out) != len(s) {
		t.Fatalf("got %d readings, want %d", len(out), len(s))
	}
	for i := 1; i < len(out); i++ {
		if out[i].Timestamp.Before(out[i-1].Timestamp) {
			t.Fatal("annotated output not sorted by time")
		}
	}

	// The first two readings have too short a prefix for a trend.
	if out[0].Trend != model.TrendNone || out[1].Trend != model.TrendNone {
		t.Error("prefixes shorter than three readings should have no trend")
	}
	// From the third on, the rising prefix classifies as SingleUp.
	for i := 2; i < len(out); i++ {
		if out[i].Trend != model.TrendSingleUp {
			t.Errorf("reading %d trend = %s, want SINGLE_UP", i, out[i].Trend)
		}
	}

	// The input must not be mutated.
	for _, r := range shuffled {
		if r.Trend != model.TrendNone {
			t.Error("AnnotateTrends mutated its input")
		}
	}
}
