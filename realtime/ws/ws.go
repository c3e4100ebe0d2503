// Package ws wraps gorilla/websocket with context-aware binary message I/O.
package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/floegence/lantun/internal/contextutil"
	"github.com/gorilla/websocket"
)

// ErrNonBinaryMessage is returned when the peer sends a text message.
var ErrNonBinaryMessage = errors.New("non-binary websocket message")

type Conn struct {
	c *websocket.Conn
}

// UpgraderOptions exposes a small set of websocket upgrader controls.
type UpgraderOptions struct {
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool // nil accepts every origin.
}

// Upgrade upgrades an HTTP request to a websocket connection.
func Upgrade(w http.ResponseWriter, r *http.Request, opts UpgraderOptions) (*Conn, error) {
	check := opts.CheckOrigin
	if check == nil {
		check = func(*http.Request) bool { return true }
	}
	up := websocket.Upgrader{
		ReadBufferSize:  opts.ReadBufferSize,
		WriteBufferSize: opts.WriteBufferSize,
		CheckOrigin:     check,
	}
	c, err := up.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &Conn{c: c}, nil
}

// Dial opens a websocket connection; the handshake is bounded by ctx.
func Dial(ctx context.Context, urlStr string, header http.Header) (*Conn, *http.Response, error) {
	d := *websocket.DefaultDialer
	if deadline, ok := ctx.Deadline(); ok {
		if dl := time.Until(deadline); d.HandshakeTimeout == 0 || d.HandshakeTimeout > dl {
			d.HandshakeTimeout = dl
		}
	}
	c, resp, err := d.DialContext(ctx, urlStr, header)
	if err != nil {
		return nil, resp, err
	}
	return &Conn{c: c}, resp, nil
}

// SetReadLimit forwards the read limit to the underlying websocket.
func (c *Conn) SetReadLimit(n int64) {
	c.c.SetReadLimit(n)
}

// ReadBinary reads one binary message, unblocking when ctx is done.
func (c *Conn) ReadBinary(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	release := contextutil.BindDeadline(ctx, c.c.SetReadDeadline)
	mt, b, err := c.c.ReadMessage()
	release()
	if err != nil {
		return nil, contextutil.MapTimeout(ctx, err)
	}
	if mt != websocket.BinaryMessage {
		return nil, ErrNonBinaryMessage
	}
	return b, nil
}

// WriteBinary writes one binary message, unblocking when ctx is done.
func (c *Conn) WriteBinary(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	release := contextutil.BindDeadline(ctx, c.c.SetWriteDeadline)
	err := c.c.WriteMessage(websocket.BinaryMessage, data)
	release()
	return contextutil.MapTimeout(ctx, err)
}

// RemoteAddr returns the peer address of the underlying connection.
func (c *Conn) RemoteAddr() string {
	return c.c.RemoteAddr().String()
}

// Close closes the websocket connection.
func (c *Conn) Close() error {
	return c.c.Close()
}

// CloseWithStatus sends a close control frame before closing.
func (c *Conn) CloseWithStatus(code int, text string) error {
	_ = c.c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(2*time.Second))
	return c.c.Close()
}

// IsPeerClose reports whether err is a websocket close frame from the peer.
func IsPeerClose(err error) bool {
	var ce *websocket.CloseError
	return errors.As(err, &ce)
}
