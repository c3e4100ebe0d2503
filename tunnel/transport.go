package tunnel

import (
	"context"
	"errors"
	"net"

	"github.com/floegence/lantun/framing/lenframe"
	"github.com/floegence/lantun/internal/contextutil"
	"github.com/floegence/lantun/realtime/ws"
	"github.com/gorilla/websocket"
)

// FrameTransport moves whole envelopes between peers.
type FrameTransport interface {
	// ReadFrame blocks until a full frame arrives or ctx is done.
	ReadFrame(ctx context.Context) ([]byte, error)
	// WriteFrame writes one frame, honoring the ctx deadline and cancellation.
	WriteFrame(ctx context.Context, payload []byte) error
	RemoteAddr() string
	Close() error
}

// streamTransport frames envelopes on a TCP stream with a 4-byte length prefix.
type streamTransport struct {
	c        net.Conn
	maxFrame int
}

func newStreamTransport(c net.Conn, maxFrame int) *streamTransport {
	return &streamTransport{c: c, maxFrame: maxFrame}
}

func (t *streamTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	release := contextutil.BindDeadline(ctx, t.c.SetReadDeadline)
	b, err := lenframe.ReadFrame(t.c, t.maxFrame)
	release()
	return b, contextutil.MapTimeout(ctx, err)
}

func (t *streamTransport) WriteFrame(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	release := contextutil.BindDeadline(ctx, t.c.SetWriteDeadline)
	err := lenframe.WriteFrame(t.c, payload)
	release()
	return contextutil.MapTimeout(ctx, err)
}

func (t *streamTransport) RemoteAddr() string { return t.c.RemoteAddr().String() }
func (t *streamTransport) Close() error       { return t.c.Close() }

// CloseWrite half-closes the stream when the underlying conn supports it.
func (t *streamTransport) CloseWrite() error {
	if hc, ok := t.c.(interface{ CloseWrite() error }); ok {
		return hc.CloseWrite()
	}
	return errors.ErrUnsupported
}

// wsTransport carries one envelope per binary websocket message.
type wsTransport struct {
	c      *ws.Conn
	remote string
}

func newWSTransport(c *ws.Conn, remote string, maxFrame int) *wsTransport {
	if maxFrame > 0 {
		c.SetReadLimit(int64(maxFrame))
	}
	if remote == "" {
		remote = c.RemoteAddr()
	}
	return &wsTransport{c: c, remote: remote}
}

func (t *wsTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	return t.c.ReadBinary(ctx)
}

func (t *wsTransport) WriteFrame(ctx context.Context, payload []byte) error {
	return t.c.WriteBinary(ctx, payload)
}

func (t *wsTransport) RemoteAddr() string { return t.remote }

func (t *wsTransport) Close() error {
	return t.c.CloseWithStatus(websocket.CloseNormalClosure, "")
}
