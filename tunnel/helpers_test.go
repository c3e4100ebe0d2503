package tunnel

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/floegence/lantun/crypto/envelope"
	"github.com/floegence/lantun/framing/lenframe"
	"github.com/floegence/lantun/keystore"
	"github.com/floegence/lantun/tunerrors"
	"github.com/stretchr/testify/require"
)

var testKey = keystore.Key{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29, 30, 31, 32}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) handle(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func (l *eventLog) count(kind EventKind) int {
	n := 0
	for _, e := range l.snapshot() {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (l *eventLog) has(kind EventKind, payload string) bool {
	for _, e := range l.snapshot() {
		if e.Kind == kind && e.Payload == payload {
			return true
		}
	}
	return false
}

func (l *eventLog) waitFor(t *testing.T, kind EventKind, payload string) {
	t.Helper()
	require.Eventually(t, func() bool { return l.has(kind, payload) }, 2*time.Second, 5*time.Millisecond,
		"no %s event with payload %q; got %v", kind, payload, l.snapshot())
}

func newTestTunnel(t *testing.T, cfg Config) (*Tunnel, *eventLog) {
	t.Helper()
	events := &eventLog{}
	tun, err := New(cfg, testKey, WithEventHandler(events.handle))
	require.NoError(t, err)
	t.Cleanup(tun.Stop)
	return tun, events
}

// pipeConn registers one end of a net.Pipe as a receiver-side Conn and returns the peer end.
func pipeConn(t *testing.T, tun *Tunnel) (*Conn, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	conn := tun.newConn(newStreamTransport(a, tun.cfg.MaxFrameBytes), tunerrors.RoleReceiver, "pipe")
	require.True(t, tun.register(context.Background(), conn))
	t.Cleanup(func() {
		_ = b.Close()
		_ = conn.Close()
	})
	return conn, b
}

func writeMessage(t *testing.T, w net.Conn, key keystore.Key, msg []byte) {
	t.Helper()
	env, err := envelope.Encrypt(key, msg)
	require.NoError(t, err)
	require.NoError(t, lenframe.WriteFrame(w, env))
}

// writeForeign sends msg encrypted under another key, retrying the rare ciphertexts that
// happen to unpad cleanly under testKey.
func writeForeign(t *testing.T, w net.Conn, msg []byte) {
	t.Helper()
	other := keystore.Key{0xee}
	for {
		env, err := envelope.Encrypt(other, msg)
		require.NoError(t, err)
		if _, err := envelope.Decrypt(testKey, env); err == nil {
			continue
		}
		require.NoError(t, lenframe.WriteFrame(w, env))
		return
	}
}

func readMessage(t *testing.T, r net.Conn, mode WireMode) (MessageKind, string) {
	t.Helper()
	frame, err := lenframe.ReadFrame(r, lenframe.DefaultMaxFrameBytes)
	require.NoError(t, err)
	plain, err := envelope.Decrypt(testKey, frame)
	require.NoError(t, err)
	kind, body, err := decodeMessage(mode, plain)
	require.NoError(t, err)
	return kind, body
}

func waitClosed(t *testing.T, c *Conn) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("connection %s did not close", c.remote)
	}
}
