package crypto

import (
	"crypto/aes"
	"crypto/cipher"
)

// Gen2HeaderSize is the size of the unencrypted header at the start of a
// generation-2 encrypted payload. The header is copied through verbatim.
const Gen2HeaderSize = 8

// DecryptGen2 decrypts a generation-2 payload with AES-CBC and no padding.
//
// Payloads shorter than one cipher block are treated as not yet encrypted
// and returned unchanged. Otherwise the first Gen2HeaderSize bytes are
// copied verbatim, the block-aligned remainder is decrypted with a key and
// IV derived from the patch info, and any tail shorter than one block is
// copied through unencrypted.
//
// TODO: confirm against sensor captures whether a non-block-aligned tail
// can actually occur; the copy-through mirrors the firmware but has not
// been observed on the wire.
//
// Cipher errors never propagate: on any failure the original ciphertext is
// returned and downstream quality checks catch the garbage.
func DecryptGen2(data, patchInfo []byte) []byte {
	if len(data) < BlockSize || len(patchInfo) == 0 {
		return data
	}

	block, err := aes.NewCipher(deriveGen2Key(patchInfo))
	if err != nil {
		return data
	}

	out := make([]byte, len(data))
	copy(out[:Gen2HeaderSize], data[:Gen2HeaderSize])

	body := data[Gen2HeaderSize:]
	aligned := len(body) / BlockSize * BlockSize

	mode := cipher.NewCBCDecrypter(block, deriveGen2IV(patchInfo))
	mode.CryptBlocks(out[Gen2HeaderSize:Gen2HeaderSize+aligned], body[:aligned])

	// Partial final block passes through unencrypted.
	copy(out[Gen2HeaderSize+aligned:], body[aligned:])

	return out
}

// EncryptGen2 is the sensor-side inverse of DecryptGen2, used by the
// simulator and tests: the header and any non-block-aligned tail are copied
// verbatim and the aligned body is encrypted with AES-CBC.
func EncryptGen2(data, patchInfo []byte) []byte {
	if len(data) < BlockSize || len(patchInfo) == 0 {
		return data
	}

	block, err := aes.NewCipher(deriveGen2Key(patchInfo))
	if err != nil {
		return data
	}

	out := make([]byte, len(data))
	copy(out[:Gen2HeaderSize], data[:Gen2HeaderSize])

	body := data[Gen2HeaderSize:]
	aligned := len(body) / BlockSize * BlockSize

	mode := cipher.NewCBCEncrypter(block, deriveGen2IV(patchInfo))
	mode.CryptBlocks(out[Gen2HeaderSize:Gen2HeaderSize+aligned], body[:aligned])

	copy(out[Gen2HeaderSize+aligned:], body[aligned:])

	return out
}

// DecryptGen3 decrypts a generation-3 payload with AES-CTR and no padding.
// The first BlockSize bytes of data are the counter/IV; the remainder is
// ciphertext. The key is the first BlockSize bytes of the session key.
//
// Payloads or session keys shorter than one block yield the payload
// unchanged; cipher errors degrade to pass-through like DecryptGen2.
func DecryptGen3(data, sessionKey []byte) []byte {
	if len(data) < BlockSize || len(sessionKey) < BlockSize {
		return data
	}

	block, err := aes.NewCipher(sessionKey[:BlockSize])
	if err != nil {
		return data
	}

	iv := data[:BlockSize]
	ciphertext := data[BlockSize:]

	out := make([]byte, len(ciphertext))
	cipher.NewCTR(block, iv).XORKeyStream(out, ciphertext)
	return out
}

// EncryptGen3 is the sensor-side inverse of DecryptGen3, used by the
// simulator and tests. A fresh random counter block is prefixed to the
// ciphertext.
func EncryptGen3(plaintext, sessionKey []byte) ([]byte, error) {
	if len(sessionKey) < BlockSize {
		return nil, aes.KeySizeError(len(sessionKey))
	}

	block, err := aes.NewCipher(sessionKey[:BlockSize])
	if err != nil {
		return nil, err
	}

	iv, err := RandomBytes(BlockSize)
	if err != nil {
		return nil, err
	}

	out := make([]byte, BlockSize+len(plaintext))
	copy(out[:BlockSize], iv)
	cipher.NewCTR(block, iv).XORKeyStream(out[BlockSize:], plaintext)
	return out, nil
}
