package tunnel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/floegence/lantun/crypto/envelope"
	"github.com/floegence/lantun/framing/lenframe"
	"github.com/floegence/lantun/internal/contextutil"
	"github.com/floegence/lantun/observability"
	"github.com/floegence/lantun/realtime/ws"
	"github.com/floegence/lantun/tunerrors"
	"go.uber.org/zap"
)

// ConnState is the lifecycle state of a Conn.
type ConnState int32

const (
	StateOpen ConnState = iota
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ConnInfo is a point-in-time view of a connection.
type ConnInfo struct {
	ID        uint64
	Remote    string
	Role      tunerrors.Role
	Transport string
	OpenedAt  time.Time
	FramesIn  uint64
	FramesOut uint64
	State     ConnState
}

// Conn is one encrypted peer connection registered in a Tunnel.
type Conn struct {
	t         *Tunnel
	tr        FrameTransport
	id        uint64
	remote    string
	role      tunerrors.Role
	transport string
	openedAt  time.Time
	log       *zap.Logger

	writeMu sync.Mutex // Serializes frames so they never interleave on the wire.

	state     atomic.Int32
	framesIn  atomic.Uint64
	framesOut atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
	errMu     sync.Mutex
	err       error // First error that tore the connection down.
}

func (t *Tunnel) newConn(tr FrameTransport, role tunerrors.Role, transport string) *Conn {
	id := t.nextConnID.Add(1)
	remote := tr.RemoteAddr()
	return &Conn{
		t:         t,
		tr:        tr,
		id:        id,
		remote:    remote,
		role:      role,
		transport: transport,
		openedAt:  time.Now(),
		log:       t.log.With(zap.Uint64("conn", id), zap.String("remote", remote), zap.String("role", string(role))),
		done:      make(chan struct{}),
	}
}

func (c *Conn) Remote() string   { return c.remote }
func (c *Conn) State() ConnState { return ConnState(c.state.Load()) }

// Done is closed once the connection is fully closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns the error that tore the connection down, or nil after a local close.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Conn) Info() ConnInfo {
	return ConnInfo{
		ID:        c.id,
		Remote:    c.remote,
		Role:      c.role,
		Transport: c.transport,
		OpenedAt:  c.openedAt,
		FramesIn:  c.framesIn.Load(),
		FramesOut: c.framesOut.Load(),
		State:     c.State(),
	}
}

// receiveLoop reads, decrypts and dispatches frames until the stream fails or ctx is done.
// Decryption failures are reported and skipped; the connection stays open unless
// MaxDecryptFailures consecutive failures are configured and reached.
func (c *Conn) receiveLoop(ctx context.Context) {
	failures := 0
	for {
		frame, err := c.tr.ReadFrame(ctx)
		if err != nil {
			c.closeWith(c.readFailed(ctx, err), err)
			return
		}
		c.framesIn.Add(1)

		plain, err := envelope.Decrypt(c.t.key, frame)
		if err != nil {
			failures++
			c.t.stats.decryptFailures.Add(1)
			c.t.obs.FrameReceived(observability.RecvResultDecryptionFailed, len(frame))
			c.log.Debug("decrypt failed", zap.Int("frame_bytes", len(frame)), zap.Int("consecutive", failures))
			c.t.emit(EventDecryptionFailed, c.remote, fmt.Sprintf("failed to decrypt %d-byte frame", len(frame)))
			if limit := c.t.cfg.MaxDecryptFailures; limit > 0 && failures >= limit {
				err := tunerrors.Wrap(c.role, tunerrors.StageDecrypt, tunerrors.CodeDecryptionFailed, envelope.ErrDecryptionFailed)
				c.t.emit(EventError, c.remote, fmt.Sprintf("closing after %d consecutive decryption failures", failures))
				c.closeWith(observability.CloseReasonDecryptLimit, err)
				return
			}
			continue
		}
		failures = 0

		kind, body, err := decodeMessage(c.t.cfg.WireMode, plain)
		if err != nil {
			c.t.obs.FrameReceived(observability.RecvResultUnknownKind, len(frame))
			c.log.Warn("dropping undecodable message", zap.Error(err))
			c.t.emit(EventError, c.remote, fmt.Sprintf("error decoding message: %v", err))
			continue
		}
		switch kind {
		case KindKeepalive:
			c.t.stats.keepalivesIn.Add(1)
			c.t.obs.FrameReceived(observability.RecvResultKeepalive, len(frame))
			c.t.emit(EventKeepalive, c.remote, "")
		default:
			c.t.stats.messagesIn.Add(1)
			c.t.obs.FrameReceived(observability.RecvResultData, len(frame))
			c.t.emit(EventMessage, c.remote, body)
		}
	}
}

// readFailed reports a terminal read error and picks the close reason.
func (c *Conn) readFailed(ctx context.Context, err error) observability.CloseReason {
	if ctx.Err() != nil || c.State() != StateOpen {
		return observability.CloseReasonStopped
	}
	switch code := tunerrors.ClassifyReadCode(err); code {
	case tunerrors.CodeConnectionClosed:
		c.log.Info("peer closed connection")
		c.t.emit(EventInfo, c.remote, "connection closed by peer")
		return observability.CloseReasonPeerClosed
	case tunerrors.CodeFrameTooLarge:
		c.log.Warn("oversized frame", zap.Error(err))
		c.t.emit(EventError, c.remote, tunerrors.Describe(tunerrors.Wrap(c.role, tunerrors.StageRead, code, err)))
		return observability.CloseReasonFrameTooLarge
	case tunerrors.CodeCanceled:
		return observability.CloseReasonStopped
	default:
		if ws.IsPeerClose(err) {
			c.t.emit(EventInfo, c.remote, "connection closed by peer")
			return observability.CloseReasonPeerClosed
		}
		c.log.Warn("receive failed", zap.Error(err))
		c.t.emit(EventError, c.remote, fmt.Sprintf("error receiving data: %v", err))
		return observability.CloseReasonReadError
	}
}

// Send encrypts and writes one data message. It reports false on failure, in which
// case the connection has been torn down, unless the message was too large to send.
func (c *Conn) Send(ctx context.Context, body string) bool {
	return c.write(ctx, KindData, body) == nil
}

// SendKeepalive writes a keepalive message.
func (c *Conn) SendKeepalive(ctx context.Context) bool {
	return c.write(ctx, KindKeepalive, "") == nil
}

func (c *Conn) write(ctx context.Context, kind MessageKind, body string) error {
	if c.State() != StateOpen {
		return tunerrors.Wrap(c.role, tunerrors.StageWrite, tunerrors.CodeConnectionClosed, lenframe.ErrConnectionClosed)
	}
	if kind == KindData {
		if err := c.t.checkSize(body); err != nil {
			c.t.emit(EventError, c.remote, fmt.Sprintf("error sending message: %v", err))
			return tunerrors.Wrap(c.role, tunerrors.StageWrite, tunerrors.CodeFrameTooLarge, err)
		}
	}
	env, err := envelope.Encrypt(c.t.key, encodeMessage(c.t.cfg.WireMode, kind, body))
	if err != nil {
		c.t.emit(EventError, c.remote, fmt.Sprintf("error encrypting message: %v", err))
		return tunerrors.Wrap(c.role, tunerrors.StageWrite, tunerrors.CodeWriteFailed, err)
	}

	start := time.Now()
	wctx, cancel := contextutil.WithTimeout(ctx, c.t.cfg.WriteTimeout)
	c.writeMu.Lock()
	err = c.tr.WriteFrame(wctx, env)
	c.writeMu.Unlock()
	cancel()
	if err != nil {
		werr := tunerrors.Wrap(c.role, tunerrors.StageWrite, tunerrors.ClassifyWriteCode(err), err)
		if ctx.Err() == nil {
			c.log.Warn("send failed", zap.Stringer("kind", kind), zap.Error(err))
			c.t.emit(EventError, c.remote, fmt.Sprintf("error sending message: %v", err))
		}
		// A partial frame leaves the stream unusable.
		c.closeWith(observability.CloseReasonWriteError, werr)
		return werr
	}

	c.framesOut.Add(1)
	c.t.obs.SendLatency(time.Since(start))
	if kind == KindKeepalive {
		c.t.obs.FrameSent(observability.FrameKindKeepalive, len(env))
		c.log.Debug("keepalive sent")
		return nil
	}
	c.t.stats.messagesOut.Add(1)
	c.t.obs.FrameSent(observability.FrameKindData, len(env))
	c.t.emit(EventPacketSent, c.remote, body)
	return nil
}

// finish half-closes the write side when the transport allows it and waits up to grace
// for the peer to hang up, so a frame written just before closing is not lost to a reset.
func (c *Conn) finish(grace time.Duration) {
	if hc, ok := c.tr.(interface{ CloseWrite() error }); ok && hc.CloseWrite() == nil {
		timer := time.NewTimer(grace)
		select {
		case <-c.done:
		case <-timer.C:
		}
		timer.Stop()
	}
	c.closeWith(observability.CloseReasonSenderFinished, nil)
}

// Close tears the connection down and removes it from the tunnel. It is idempotent.
func (c *Conn) Close() error {
	c.closeWith(observability.CloseReasonStopped, nil)
	return nil
}

func (c *Conn) closeWith(reason observability.CloseReason, err error) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosing))
		if err != nil && !errors.Is(err, context.Canceled) && reason != observability.CloseReasonStopped {
			c.errMu.Lock()
			c.err = err
			c.errMu.Unlock()
		}
		_ = c.tr.Close()
		c.t.conns.remove(c)
		c.state.Store(int32(StateClosed))
		c.t.obs.Close(reason)
		c.t.obs.ConnCount(int64(c.t.conns.len()))
		c.log.Debug("connection closed", zap.String("reason", string(reason)))
		close(c.done)
	})
}
