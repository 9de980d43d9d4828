package log

import (
	"bufio"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// fileWriterBufferSize is the bufio buffer size for the event stream.
const fileWriterBufferSize = 32 * 1024

// FileLogger appends protocol events to a .glog file as a CBOR stream.
// Safe for concurrent use.
type FileLogger struct {
	mu      sync.Mutex
	file    *os.File
	writer  *bufio.Writer
	encoder *cbor.Encoder
	closed  bool
}

// NewFileLogger opens (or creates, mode 0644) the event file at path and
// appends to it.
func NewFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriterSize(f, fileWriterBufferSize)
	return &FileLogger{
		file:    f,
		writer:  w,
		encoder: NewEncoder(w),
	}, nil
}

// Log appends one event. Encoding errors are swallowed; capture must
// never disturb the session it observes.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	_ = l.encoder.Encode(event)
}

// Flush forces buffered events to disk.
func (l *FileLogger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	return l.writer.Flush()
}

// Close flushes and closes the file. Further Log calls are ignored.
// Safe to call more than once.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}

	l.closed = true
	flushErr := l.writer.Flush()
	closeErr := l.file.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

var _ Logger = (*FileLogger)(nil)
