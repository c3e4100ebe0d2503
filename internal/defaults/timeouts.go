package defaults

import "time"

const (
	// Port is the default TCP port for the receiver role.
	Port = 8989
	// ConnectTimeout bounds the sender's outbound dial.
	ConnectTimeout = 10 * time.Second
	// WriteTimeout bounds a single frame write so Stop cannot hang on an unresponsive peer.
	WriteTimeout = 10 * time.Second
	// KeepaliveInterval is the idle time after which the sender emits a keepalive message.
	KeepaliveInterval = 30 * time.Second
	// PollInterval is the sender delivery loop cadence.
	PollInterval = 100 * time.Millisecond
	// StopGrace is how long Stop waits for role goroutines to observe cancellation.
	StopGrace = 500 * time.Millisecond
	// TCPKeepAlive is the idle/interval used for OS-level TCP keepalive probes.
	TCPKeepAlive = 15 * time.Second
	// TCPKeepAliveCount is the number of unanswered probes before the OS drops the connection.
	TCPKeepAliveCount = 4
)

const (
	// MaxFrameBytes caps a single inbound frame.
	MaxFrameBytes = 16 << 20
	// MaxSendAttempts is the retry budget for the head-of-queue message.
	MaxSendAttempts = 5
)

// WSPath is the HTTP path the receiver serves websocket peers on.
const WSPath = "/tunnel"
