package log

// Logger receives protocol events from the engines and the session
// orchestrator. Implementations must be safe for concurrent use and
// should return quickly; a slow sink stalls the receive path.
type Logger interface {
	Log(event Event)
}

// NoopLogger discards every event. The zero value is ready to use; it is
// the default wherever no capture is configured.
type NoopLogger struct{}

func (NoopLogger) Log(Event) {}

var _ Logger = NoopLogger{}
