package wire

import (
	"encoding/binary"
	"sort"
	"time"

	"github.com/glucolink/glucolink-go/pkg/model"
)

// Glucose record layouts.
const (
	// Gen3RecordSize is the fixed width of a generation-3 glucose record:
	// glucose LE16 + flags LE16 + seconds-since-start LE32 + temp LE16.
	Gen3RecordSize = 10

	// Gen3MaxRaw is the largest plausible generation-3 raw value.
	// Records above it are discarded.
	Gen3MaxRaw = 5000

	// Gen3Scale converts generation-3 raw values to mg/dL.
	Gen3Scale = 0.1

	// Gen2MaxRaw is the largest plausible generation-2 raw value,
	// corresponding to 500 mg/dL. Records above it are discarded.
	Gen2MaxRaw = 5000

	// Gen2Scale converts generation-2 raw values (tenths of mg/dL)
	// to mg/dL.
	Gen2Scale = 0.1

	// Gen2BlockSize is the minimum size of a generation-2 glucose block.
	Gen2BlockSize = 344

	gen2TrendIndexOffset   = 26
	gen2HistoryIndexOffset = 27
	gen2TrendRecordsOffset = 28
	gen2HistoryOffset      = 124
	gen2TrendCount         = 16
	gen2HistoryCount       = 32
	gen2RecordSize         = 6 // glucose LE16 + flags LE16 + temp LE16

	// Ring spacing: the trend ring holds one reading per minute, the
	// history ring one per 15 minutes, continuing after the trend window.
	gen2TrendSpacing   = time.Minute
	gen2HistorySpacing = 15 * time.Minute

	// temperatureScale converts the raw LE16 temperature field to
	// degrees Celsius. Zero means the field was not populated.
	temperatureScale = 0.01
)

// DecodeGen3Glucose parses a decrypted generation-3 glucose payload into
// readings. Each record carries an absolute offset in seconds since the
// sensor session start. Records with raw values outside (0, Gen3MaxRaw]
// are discarded. Trailing bytes shorter than one record are ignored.
func DecodeGen3Glucose(data []byte, sensorStart time.Time) []model.GlucoseReading {
	count := len(data) / Gen3RecordSize
	if count == 0 {
		return nil
	}

	readings := make([]model.GlucoseReading, 0, count)
	for i := 0; i < count; i++ {
		rec := data[i*Gen3RecordSize : (i+1)*Gen3RecordSize]

		raw := binary.LittleEndian.Uint16(rec[0:2])
		if raw == 0 || raw > Gen3MaxRaw {
			continue
		}

		flags := binary.LittleEndian.Uint16(rec[2:4])
		secs := binary.LittleEndian.Uint32(rec[4:8])

		r := model.GlucoseReading{
			Timestamp:   sensorStart.Add(time.Duration(secs) * time.Second),
			GlucoseMgDl: float64(raw) * Gen3Scale,
			Quality:     model.QualityFromFlags(flags),
		}
		rawValue := float64(raw)
		r.RawValue = &rawValue

		if t := binary.LittleEndian.Uint16(rec[8:10]); t != 0 {
			temp := float64(t) * temperatureScale
			r.TemperatureC = &temp
		}

		readings = append(readings, r)
	}
	return readings
}

// DecodeGen2Glucose parses a decrypted generation-2 glucose block into
// readings. The block holds a 16-entry trend ring (1-minute spacing) and a
// 32-entry history ring (15-minute spacing) addressed by circular index
// bytes; both rings are walked newest-first and timestamps are computed
// backward from now. The result is the union of both rings, sorted
// ascending by timestamp. Blocks shorter than Gen2BlockSize yield nil.
func DecodeGen2Glucose(data []byte, now time.Time) []model.GlucoseReading {
	if len(data) < Gen2BlockSize {
		return nil
	}

	trendIndex := int(data[gen2TrendIndexOffset]) % gen2TrendCount
	historyIndex := int(data[gen2HistoryIndexOffset]) % gen2HistoryCount

	readings := make([]model.GlucoseReading, 0, gen2TrendCount+gen2HistoryCount)

	for i := 0; i < gen2TrendCount; i++ {
		idx := (trendIndex - 1 - i + 2*gen2TrendCount) % gen2TrendCount
		offset := gen2TrendRecordsOffset + idx*gen2RecordSize
		ts := now.Add(-time.Duration(i) * gen2TrendSpacing)
		if r, ok := decodeGen2Record(data[offset:offset+gen2RecordSize], ts); ok {
			readings = append(readings, r)
		}
	}

	// The history ring continues in time after the trend window.
	for i := 0; i < gen2HistoryCount; i++ {
		idx := (historyIndex - 1 - i + 2*gen2HistoryCount) % gen2HistoryCount
		offset := gen2HistoryOffset + idx*gen2RecordSize
		ts := now.Add(-time.Duration(i+1) * gen2HistorySpacing)
		if r, ok := decodeGen2Record(data[offset:offset+gen2RecordSize], ts); ok {
			readings = append(readings, r)
		}
	}

	sort.Slice(readings, func(i, j int) bool {
		return readings[i].Timestamp.Before(readings[j].Timestamp)
	})
	return readings
}

// decodeGen2Record parses one 6-byte ring entry. Entries with raw values
// outside (0, Gen2MaxRaw] are discarded.
func decodeGen2Record(rec []byte, ts time.Time) (model.GlucoseReading, bool) {
	raw := binary.LittleEndian.Uint16(rec[0:2])
	if raw == 0 || raw > Gen2MaxRaw {
		return model.GlucoseReading{}, false
	}

	flags := binary.LittleEndian.Uint16(rec[2:4])

	r := model.GlucoseReading{
		Timestamp:   ts,
		GlucoseMgDl: float64(raw) * Gen2Scale,
		Quality:     model.QualityFromFlags(flags),
	}
	rawValue := float64(raw)
	r.RawValue = &rawValue

	if t := binary.LittleEndian.Uint16(rec[4:6]); t != 0 {
		temp := float64(t) * temperatureScale
		r.TemperatureC = &temp
	}
	return r, true
}
