package output

import "time"

// StopCode classifies why an output stopped. Callers map codes to
// user-facing strings; this package only guarantees the taxonomy.
type StopCode int

const (
	// StopSuccess is a clean, user-requested stop.
	StopSuccess StopCode = iota
	// StopBadPath means the configured destination path/URL is unusable.
	StopBadPath
	// StopConnectFailed means the initial connection never succeeded.
	StopConnectFailed
	// StopInvalidStream means the service rejected the stream.
	StopInvalidStream
	// StopError is a generic unrecoverable failure.
	StopError
	// StopDisconnected means the connection dropped and the retry budget
	// ran out.
	StopDisconnected
)

// String returns a stable identifier for the stop code.
func (c StopCode) String() string {
	switch c {
	case StopSuccess:
		return "success"
	case StopBadPath:
		return "bad_path"
	case StopConnectFailed:
		return "connect_failed"
	case StopInvalidStream:
		return "invalid_stream"
	case StopDisconnected:
		return "disconnected"
	default:
		return "error"
	}
}

// EventKind enumerates output lifecycle events.
type EventKind int

const (
	// EventStart fires when data capture begins on a fresh activation.
	EventStart EventKind = iota
	// EventStop fires when the output stops for good; Code says why.
	EventStop
	// EventReconnect fires when a retry wait begins; Timeout carries the
	// wait duration.
	EventReconnect
	// EventReconnectSuccess fires when a retry restores the output.
	EventReconnectSuccess
)

// Event is the closed lifecycle event type emitted by an Output. Only the
// fields relevant to the Kind are set.
type Event struct {
	Kind    EventKind
	Output  string
	Code    StopCode      // EventStop
	Timeout time.Duration // EventReconnect
}
