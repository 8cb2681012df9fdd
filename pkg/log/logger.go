package log

// Logger receives protocol capture events.
type Logger interface {
	// Log records a protocol event. Implementations must be safe for
	// concurrent use and must not block for long.
	Log(event Event)
}

// NoopLogger discards all events. It is usable as a zero value.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// OrNoop returns l, or a NoopLogger when l is nil.
func OrNoop(l Logger) Logger {
	if l == nil {
		return NoopLogger{}
	}
	return l
}

// WithLocal returns a Logger that stamps every event with the local device
// id and, if set, a connection id before passing it on.
func WithLocal(l Logger, localDevice, connID string) Logger {
	return &stampLogger{next: OrNoop(l), local: localDevice, conn: connID}
}

type stampLogger struct {
	next  Logger
	local string
	conn  string
}

func (s *stampLogger) Log(event Event) {
	if event.LocalDevice == "" {
		event.LocalDevice = s.local
	}
	if event.ConnectionID == "" {
		event.ConnectionID = s.conn
	}
	s.next.Log(event)
}

var (
	_ Logger = NoopLogger{}
	_ Logger = (*stampLogger)(nil)
)
