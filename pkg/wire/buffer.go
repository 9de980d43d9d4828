package wire

import "encoding/binary"

// compactThreshold is the consumed-byte count above which the receive
// buffer shifts remaining data back to the start of its backing array.
const compactThreshold = 4096

// ReceiveBuffer accumulates inbound transport bytes and yields complete
// framed messages. It grows by append and drains by advancing a consumed
// offset, so extraction does not copy the remaining buffer.
//
// ReceiveBuffer is not safe for concurrent use; it is owned by exactly one
// protocol engine and reached only on its serialized receive path.
type ReceiveBuffer struct {
	buf []byte
	off int
}

// Append adds inbound bytes to the buffer.
func (b *ReceiveBuffer) Append(data []byte) {
	b.buf = append(b.buf, data...)
}

// Len returns the number of unconsumed bytes.
func (b *ReceiveBuffer) Len() int {
	return len(b.buf) - b.off
}

// Reset discards all buffered bytes.
func (b *ReceiveBuffer) Reset() {
	b.buf = nil
	b.off = 0
}

// TryExtract attempts to extract the next complete message.
//
// It returns (message, true) when a full frame is buffered, consuming it.
// It returns (zero, false) without consuming anything when more data is
// needed, including for any buffer shorter than the framing header.
// Unknown message types are still length-delimited and are extracted like
// any other message; the caller decides whether to drop them.
func (b *ReceiveBuffer) TryExtract() (Message, bool) {
	if b.Len() < HeaderSize {
		return Message{}, false
	}

	data := b.buf[b.off:]
	payloadLen := int(binary.LittleEndian.Uint16(data[1:3]))
	total := HeaderSize + payloadLen
	if len(data) < total {
		return Message{}, false
	}

	msg := Message{
		Type:     MessageType(data[0]),
		Sequence: data[3],
		Payload:  append([]byte(nil), data[HeaderSize:total]...),
	}

	b.off += total
	b.compact()
	return msg, true
}

// compact reclaims consumed space once it grows past the threshold or the
// buffer is fully drained.
func (b *ReceiveBuffer) compact() {
	if b.off == len(b.buf) {
		b.buf = b.buf[:0]
		b.off = 0
		return
	}
	if b.off >= compactThreshold {
		n := copy(b.buf, b.buf[b.off:])
		b.buf = b.buf[:n]
		b.off = 0
	}
}
