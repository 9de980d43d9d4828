package wire

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/glucolink/glucolink-go/pkg/model"
)

// Sensor-info layouts.
const (
	// Gen2SensorInfoMinSize is the minimum generation-2 sensor-info size.
	Gen2SensorInfoMinSize = 20

	// Gen2PatchInfoSize is the number of leading raw bytes retained as
	// generation-2 key material.
	Gen2PatchInfoSize = 24

	// Gen3SensorInfoMinSize is the minimum generation-3 sensor-info size.
	Gen3SensorInfoMinSize = 24

	serialNumberSize = 10
)

// DecodeGen2SensorInfo parses a generation-2 sensor-info block.
//
// Layout: serial at bytes 3..12, little-endian 16-bit sensor age in
// minutes at 13..14. The start time is computed backward from now and the
// expiry is the fixed 14-day lifespan after it. The leading raw bytes are
// retained as patch info (key material).
//
// Returns nil for blocks shorter than Gen2SensorInfoMinSize: the caller
// treats this as "not yet available", not as an error.
func DecodeGen2SensorInfo(data []byte, now time.Time) *model.SensorInfo {
	if len(data) < Gen2SensorInfoMinSize {
		return nil
	}

	serial := trimSerial(data[3 : 3+serialNumberSize])
	if serial == "" {
		return nil
	}

	ageMinutes := binary.LittleEndian.Uint16(data[13:15])
	start := now.Add(-time.Duration(ageMinutes) * time.Minute)

	patchLen := Gen2PatchInfoSize
	if len(data) < patchLen {
		patchLen = len(data)
	}

	return &model.SensorInfo{
		SerialNumber: serial,
		StartTime:    start,
		ExpiryTime:   start.Add(model.Gen2Lifespan),
		Generation:   model.Gen2,
		PatchInfo:    append([]byte(nil), data[:patchLen]...),
	}
}

// DecodeGen3SensorInfo parses a generation-3 sensor-info block.
//
// Layout: NUL-padded serial at bytes 0..9, firmware version at 10..11,
// little-endian 32-bit sensor age in minutes at 14..17 and maximum life in
// minutes at 18..21.
//
// Returns nil for blocks shorter than Gen3SensorInfoMinSize or with a zero
// maximum life, as "not yet available".
func DecodeGen3SensorInfo(data []byte, now time.Time) *model.SensorInfo {
	if len(data) < Gen3SensorInfoMinSize {
		return nil
	}

	serial := trimSerial(data[:serialNumberSize])
	if serial == "" {
		return nil
	}

	ageMinutes := binary.LittleEndian.Uint32(data[14:18])
	maxLifeMinutes := binary.LittleEndian.Uint32(data[18:22])
	if maxLifeMinutes == 0 {
		return nil
	}

	start := now.Add(-time.Duration(ageMinutes) * time.Minute)

	info := &model.SensorInfo{
		SerialNumber: serial,
		StartTime:    start,
		ExpiryTime:   start.Add(time.Duration(maxLifeMinutes) * time.Minute),
		Generation:   model.Gen3,
	}
	if data[10] != 0 || data[11] != 0 {
		info.FirmwareVersion = fmt.Sprintf("%d.%d", data[10], data[11])
	}
	return info
}

// trimSerial strips NUL padding and whitespace from a raw serial field.
func trimSerial(raw []byte) string {
	return strings.TrimSpace(strings.TrimRight(string(raw), "\x00"))
}
