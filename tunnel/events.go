package tunnel

import "time"

// EventKind classifies notifications delivered to the EventHandler.
type EventKind string

const (
	EventMessage          EventKind = "message"
	EventInfo             EventKind = "info"
	EventError            EventKind = "error"
	EventPacketSent       EventKind = "packet_sent"
	EventDecryptionFailed EventKind = "decryption_failed"
	EventKeepalive        EventKind = "keepalive"
)

// Event is one notification from the tunnel. Remote is empty for tunnel-wide events.
type Event struct {
	Kind    EventKind
	Payload string
	Remote  string
	Time    time.Time
}

// EventHandler receives tunnel events. It is called from the role and receive goroutines,
// possibly concurrently, and must not block for long.
type EventHandler func(Event)

const (
	greetingSender   = "connection established"
	greetingReceiver = "connected to receiver"
)
