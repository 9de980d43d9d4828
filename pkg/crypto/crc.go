package crypto

// CRC-16 parameters (CCITT/Kermit, bit-reversed).
const (
	crcPoly    = 0x8408
	crcSeed    = 0xFFFF
	crcFinalXR = 0xFFFF
)

// CRC16 computes the bit-reversed CCITT/Kermit CRC-16 over data.
func CRC16(data []byte) uint16 {
	crc := uint16(crcSeed)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = crc>>1 ^ crcPoly
			} else {
				crc >>= 1
			}
		}
	}
	return crc ^ crcFinalXR
}

// VerifyCRC16 recomputes the CRC over data and compares it to expected.
func VerifyCRC16(data []byte, expected uint16) bool {
	return CRC16(data) == expected
}
