// Package crypto implements the cryptographic engine for both sensor
// generations: unlock-key derivation and AES-CBC payload decryption for
// generation 2, session-key derivation and AES-CTR stream decryption for
// generation 3, and the CRC-16 used for payload integrity checks.
//
// All functions are pure over their inputs. Decryption never fails hard:
// inputs shorter than one cipher block are treated as not-yet-encrypted and
// returned unchanged, and cipher errors degrade to a pass-through of the
// ciphertext. Downstream quality filtering and CRC verification are
// responsible for catching the resulting garbage.
//
// The key-derivation table and the generation-3 session-key mixer are fixed
// constructions carried over from the sensor firmware for compatibility.
// They are not vetted cryptographic designs and must not be extended to any
// other use.
package crypto
