package model

import (
	"fmt"
	"time"
)

// Gen2Lifespan is the fixed sensor lifespan for generation-2 sensors.
// Generation-2 sensor info only carries the start time; the decoder adds
// this constant to compute the expiry.
const Gen2Lifespan = 14 * 24 * time.Hour

// Generation identifies a sensor protocol generation.
type Generation uint8

const (
	// Gen2 is the second sensor generation: NFC-provisioned key material,
	// unlock-command authentication, single-shot encrypted glucose blocks.
	Gen2 Generation = 2

	// Gen3 is the third sensor generation: sensor-initiated streaming
	// authentication and a continuous framed glucose stream.
	Gen3 Generation = 3
)

// String returns the generation name.
func (g Generation) String() string {
	switch g {
	case Gen2:
		return "GEN2"
	case Gen3:
		return "GEN3"
	default:
		return "UNKNOWN"
	}
}

// IsValid reports whether g is a known generation.
func (g Generation) IsValid() bool {
	return g == Gen2 || g == Gen3
}

// SensorInfo is the decoded sensor metadata.
type SensorInfo struct {
	// SerialNumber identifies the physical sensor.
	SerialNumber string `json:"serial_number"`

	// StartTime is when the sensor session started.
	StartTime time.Time `json:"start_time"`

	// ExpiryTime is when the sensor session ends. Always after StartTime.
	ExpiryTime time.Time `json:"expiry_time"`

	// Generation is the sensor protocol generation.
	Generation Generation `json:"generation"`

	// FirmwareVersion is the sensor firmware version, if reported.
	FirmwareVersion string `json:"firmware_version,omitempty"`

	// PatchInfo is the generation-2 key material obtained out-of-band
	// (e.g. via NFC). Required to derive the unlock and decryption keys.
	// Empty for generation-3 sensors.
	PatchInfo []byte `json:"patch_info,omitempty"`
}

// Validate checks the sensor info invariants.
func (s SensorInfo) Validate() error {
	if s.SerialNumber == "" {
		return fmt.Errorf("sensor info has empty serial number")
	}
	if !s.Generation.IsValid() {
		return fmt.Errorf("unknown sensor generation %d", s.Generation)
	}
	if !s.ExpiryTime.After(s.StartTime) {
		return fmt.Errorf("sensor expiry %v not after start %v", s.ExpiryTime, s.StartTime)
	}
	return nil
}
