package log

// MultiLogger fans every event out to a set of sinks, typically a
// FileLogger for capture plus a SlogAdapter for the console.
type MultiLogger struct {
	sinks []Logger
}

// NewMultiLogger builds a fan-out over the given sinks. Nil entries are
// dropped.
func NewMultiLogger(sinks ...Logger) *MultiLogger {
	kept := make([]Logger, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &MultiLogger{sinks: kept}
}

// Log delivers the event to every sink in registration order.
func (m *MultiLogger) Log(event Event) {
	for _, s := range m.sinks {
		s.Log(event)
	}
}

var _ Logger = (*MultiLogger)(nil)
