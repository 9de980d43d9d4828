package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glucolink/glucolink-go/pkg/model"
)

func reading(ts time.Time, mgdl float64, quality model.Quality) model.GlucoseReading {
	return model.GlucoseReading{Timestamp: ts, GlucoseMgDl: mgdl, Quality: quality}
}

func TestReadingWindowDeduplicates(t *testing.T) {
	w := NewReadingWindow(30 * time.Minute)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	batch := []model.GlucoseReading{
		reading(base, 100, model.QualityGood),
		reading(base.Add(time.Minute), 102, model.QualityGood),
	}
	added := w.Add(batch)
	assert.Len(t, added, 2)
	assert.Equal(t, 2, w.Len())

	// Overlapping redelivery plus one new reading.
	overlap := []model.GlucoseReading{
		reading(base.Add(time.Minute), 102, model.QualityGood),
		reading(base.Add(2*time.Minute), 104, model.QualityGood),
	}
	added = w.Add(overlap)
	require.Len(t, added, 1)
	assert.Equal(t, base.Add(2*time.Minute), added[0].Timestamp)
	assert.Equal(t, 3, w.Len())

	// A fully duplicate batch inserts nothing.
	assert.Nil(t, w.Add(batch))
}

func TestReadingWindowPrunes(t *testing.T) {
	w := NewReadingWindow(30 * time.Minute)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	w.Add([]model.GlucoseReading{
		reading(base, 100, model.QualityGood),
		reading(base.Add(20*time.Minute), 105, model.QualityGood),
	})

	// A reading far in the future evicts everything behind the horizon:
	// base is 45 minutes old, base+20m only 25 and survives.
	w.Add([]model.GlucoseReading{
		reading(base.Add(45*time.Minute), 110, model.QualityGood),
	})

	snap := w.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, base.Add(20*time.Minute), snap[0].Timestamp)
	assert.Equal(t, base.Add(45*time.Minute), snap[1].Timestamp)

	// The periodic sweep prunes against wall-clock time.
	w.Prune(base.Add(2 * time.Hour))
	assert.Equal(t, 0, w.Len())
}

func TestReadingWindowAnnotatesTrends(t *testing.T) {
	w := NewReadingWindow(30 * time.Minute)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// Rising at exactly 2 mg/dL per minute.
	var batch []model.GlucoseReading
	for i := 0; i < 5; i++ {
		batch = append(batch, reading(base.Add(time.Duration(i)*time.Minute), 100+float64(i)*2, model.QualityGood))
	}
	added := w.Add(batch)
	require.Len(t, added, 5)

	// The first readings lack enough prefix for a trend.
	assert.Equal(t, model.TrendNone, added[0].Trend)
	assert.Equal(t, model.TrendNone, added[1].Trend)
	assert.Equal(t, model.TrendSingleUp, added[4].Trend)
}

func TestReadingWindowLatest(t *testing.T) {
	w := NewReadingWindow(30 * time.Minute)

	_, ok := w.Latest()
	assert.False(t, ok)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	w.Add([]model.GlucoseReading{
		reading(base.Add(time.Minute), 105, model.QualityUnreliable),
		reading(base, 100, model.QualityGood),
	})

	latest, ok := w.Latest()
	require.True(t, ok)
	assert.Equal(t, base.Add(time.Minute), latest.Timestamp)
	assert.Equal(t, model.QualityUnreliable, latest.Quality)
}
