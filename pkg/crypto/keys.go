package crypto

import (
	"crypto/rand"
	"fmt"
)

// Key material sizes.
const (
	// BlockSize is the cipher block size in bytes (AES).
	BlockSize = 16

	// UnlockKeySize is the size of a derived generation-2 unlock key.
	UnlockKeySize = 11

	// SessionKeySize is the size of a derived generation-3 session key.
	SessionKeySize = 16

	// MinPatchInfoSize is the minimum patch-info length required to
	// derive a generation-2 unlock key.
	MinPatchInfoSize = 6

	// RandomSize is the size of the device info and random nonces
	// exchanged during generation-3 authentication.
	RandomSize = 8
)

// derivationTable is the fixed 16-byte XOR table used to derive the
// generation-2 unlock key and cipher key/IV from patch info. Carried over
// from the sensor firmware; not a vetted construction.
var derivationTable = [16]byte{
	0x1F, 0x3A, 0x5C, 0x7E, 0x91, 0xB3, 0xD5, 0xF7,
	0x08, 0x2A, 0x4C, 0x6E, 0x80, 0xA2, 0xC4, 0xE6,
}

// unlockPrefix is the fixed 3-byte prefix of every unlock key.
var unlockPrefix = [3]byte{0xD3, 0x01, 0x00}

// sessionSalt is the fixed salt mixed into generation-3 session keys.
var sessionSalt = [8]byte{0x53, 0x4C, 0x4B, 0x33, 0x9A, 0x27, 0x64, 0x11}

// DeriveUnlockKey derives the 11-byte generation-2 unlock key from sensor
// patch info. Returns an empty slice if the patch info is shorter than
// MinPatchInfoSize.
//
// The key is the fixed 3-byte prefix followed by 8 bytes of patch info,
// cyclically indexed, XORed against the derivation table.
func DeriveUnlockKey(patchInfo []byte) []byte {
	if len(patchInfo) < MinPatchInfoSize {
		return nil
	}

	key := make([]byte, 0, UnlockKeySize)
	key = append(key, unlockPrefix[:]...)
	for i := 0; i < 8; i++ {
		key = append(key, patchInfo[i%len(patchInfo)]^derivationTable[i])
	}
	return key
}

// deriveGen2Key derives the AES key from patch info: bytes 0..15,
// cyclically indexed, XORed against the derivation table.
func deriveGen2Key(patchInfo []byte) []byte {
	key := make([]byte, BlockSize)
	for i := range key {
		key[i] = patchInfo[i%len(patchInfo)] ^ derivationTable[i]
	}
	return key
}

// deriveGen2IV derives the CBC IV from patch info: bytes 8..23, cyclically
// indexed, XORed against the derivation table.
func deriveGen2IV(patchInfo []byte) []byte {
	iv := make([]byte, BlockSize)
	for i := range iv {
		iv[i] = patchInfo[(i+8)%len(patchInfo)] ^ derivationTable[i]
	}
	return iv
}

// DeriveSessionKey derives the 16-byte generation-3 session key from the
// locally generated device info and the 8-byte random the sensor sent in
// its challenge. Deterministic: the same inputs always yield the same key.
//
// The inputs and a fixed salt are reduced with a rolling XOR/rotate mixer.
// This mirrors the sensor firmware and is not a vetted hash.
func DeriveSessionKey(deviceInfo, sensorRandom []byte) []byte {
	material := make([]byte, 0, len(deviceInfo)+len(sensorRandom)+len(sessionSalt))
	material = append(material, deviceInfo...)
	material = append(material, sensorRandom...)
	material = append(material, sessionSalt[:]...)

	var key [SessionKeySize]byte
	for i, b := range material {
		j := i % SessionKeySize
		key[j] ^= b
		key[j] = key[j]<<3 | key[j]>>5
	}
	return key[:]
}

// RandomBytes returns n bytes from the platform's secure random source.
// Used to generate the generation-3 device info and device random.
func RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return buf, nil
}
