// Package wire implements the byte-level codec for both sensor
// generations.
//
// For generation 3 it splits the accumulating receive buffer into complete
// protocol messages (type, length, sequence, payload) and encodes outbound
// messages with the same framing. For both generations it decodes the raw
// glucose record layouts and the sensor-info layouts into model types.
//
// Decoders signal malformed or incomplete input by returning no result,
// never by panicking: a short buffer means "more data needed", an
// out-of-range field means the record is silently discarded.
package wire
