package tunnel

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/floegence/lantun/internal/contextutil"
	"github.com/floegence/lantun/internal/defaults"
	"github.com/floegence/lantun/observability"
	"github.com/floegence/lantun/realtime/ws"
	"github.com/floegence/lantun/tunerrors"
	"go.uber.org/zap"
)

// endpoint is a parsed sender target.
type endpoint struct {
	ws   bool
	addr string // host:port, or the full URL for websocket targets.
}

func (e endpoint) String() string { return e.addr }

// ValidateTarget reports whether target is a dialable sender target.
func ValidateTarget(target string) error {
	_, err := parseTarget(target, defaults.Port)
	return err
}

// parseTarget accepts host, host:port, [v6]:port or a ws:// / wss:// URL.
func parseTarget(target string, port int) (endpoint, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return endpoint{}, errEmptyTarget
	}
	if strings.HasPrefix(target, "ws://") || strings.HasPrefix(target, "wss://") {
		u, err := url.Parse(target)
		if err != nil || u.Host == "" {
			return endpoint{}, fmt.Errorf("invalid websocket target %q", target)
		}
		return endpoint{ws: true, addr: u.String()}, nil
	}
	if strings.Contains(target, "://") {
		return endpoint{}, fmt.Errorf("unsupported target scheme in %q", target)
	}
	if host, p, err := net.SplitHostPort(target); err == nil {
		if _, err := strconv.ParseUint(p, 10, 16); err != nil || host == "" {
			return endpoint{}, fmt.Errorf("invalid target %q", target)
		}
		return endpoint{addr: target}, nil
	}
	return endpoint{addr: net.JoinHostPort(strings.Trim(target, "[]"), strconv.Itoa(port))}, nil
}

func keepAliveConfig() net.KeepAliveConfig {
	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     defaults.TCPKeepAlive,
		Interval: defaults.TCPKeepAlive,
		Count:    defaults.TCPKeepAliveCount,
	}
}

// connect dials ep and registers the resulting connection.
func (t *Tunnel) connect(ctx context.Context, ep endpoint) (*Conn, error) {
	log := t.log.Named("sender").With(zap.Stringer("target", ep))
	t.emit(EventInfo, "", fmt.Sprintf("connecting to %s", ep))

	dctx, cancel := contextutil.WithTimeout(ctx, t.cfg.ConnectTimeout)
	defer cancel()

	var tr FrameTransport
	transport := "tcp"
	if ep.ws {
		transport = "ws"
		c, _, err := ws.Dial(dctx, ep.addr, nil)
		if err != nil {
			return nil, t.dialFailed(log, ep, err)
		}
		tr = newWSTransport(c, "", t.cfg.MaxFrameBytes)
	} else {
		d := net.Dialer{KeepAliveConfig: keepAliveConfig()}
		c, err := d.DialContext(dctx, "tcp", ep.addr)
		if err != nil {
			return nil, t.dialFailed(log, ep, err)
		}
		tr = newStreamTransport(c, t.cfg.MaxFrameBytes)
	}
	t.obs.Dial(observability.DialResultOK)

	conn := t.newConn(tr, tunerrors.RoleSender, transport)
	if !t.register(ctx, conn) {
		return nil, tunerrors.Wrap(tunerrors.RoleSender, tunerrors.StageDial, tunerrors.CodeCanceled, context.Canceled)
	}
	log.Info("connected", zap.String("remote", conn.remote), zap.String("transport", transport))
	t.emit(EventInfo, conn.remote, fmt.Sprintf("connected to %s", ep))
	return conn, nil
}

func (t *Tunnel) dialFailed(log *zap.Logger, ep endpoint, err error) error {
	code := tunerrors.ClassifyDialCode(err)
	werr := tunerrors.Wrap(tunerrors.RoleSender, tunerrors.StageDial, code, err)
	switch code {
	case tunerrors.CodeCanceled:
		return werr
	case tunerrors.CodeConnectionRefused:
		t.obs.Dial(observability.DialResultRefused)
	case tunerrors.CodeConnectionTimeout:
		t.obs.Dial(observability.DialResultTimeout)
	case tunerrors.CodeConnectionReset:
		t.obs.Dial(observability.DialResultReset)
	default:
		t.obs.Dial(observability.DialResultFail)
	}
	log.Warn("dial failed", zap.String("code", string(code)), zap.Error(err))
	t.emit(EventError, "", fmt.Sprintf("%s: %s", ep, tunerrors.Describe(werr)))
	return werr
}

// StartSender validates target and runs the sender role in the background until Stop.
func (t *Tunnel) StartSender(target string) error {
	if _, err := parseTarget(target, t.cfg.Port); err != nil {
		return err
	}
	ctx, done := t.roleContext(context.Background())
	go func() {
		defer done()
		_ = t.runSender(ctx, target)
	}()
	return nil
}

// RunSender dials target, greets the peer, then drains the outbound queue and sends
// keepalives until ctx is canceled, Stop is called, or the connection fails.
func (t *Tunnel) RunSender(ctx context.Context, target string) error {
	ctx, done := t.roleContext(ctx)
	defer done()
	return t.runSender(ctx, target)
}

func (t *Tunnel) runSender(ctx context.Context, target string) error {
	ep, err := parseTarget(target, t.cfg.Port)
	if err != nil {
		return err
	}
	conn, err := t.connect(ctx, ep)
	if err != nil {
		return err
	}
	defer func() {
		conn.closeWith(observability.CloseReasonSenderFinished, nil)
		t.emit(EventInfo, conn.remote, "sender disconnected")
	}()

	go conn.receiveLoop(ctx)
	if err := conn.write(ctx, KindData, greetingSender); err != nil {
		return err
	}
	return t.deliver(ctx, conn)
}

// deliver drains the queue every PollInterval and keeps an idle link alive.
func (t *Tunnel) deliver(ctx context.Context, conn *Conn) error {
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()
	lastActivity := time.Now()
	for {
		sent, err := t.drainQueue(ctx, conn)
		if err != nil {
			return err
		}
		if sent {
			lastActivity = time.Now()
		}
		if ka := t.cfg.KeepaliveInterval; ka > 0 && time.Since(lastActivity) >= ka {
			if err := conn.write(ctx, KindKeepalive, ""); err != nil {
				return err
			}
			lastActivity = time.Now()
		}
		select {
		case <-ctx.Done():
			return nil
		case <-conn.Done():
			return conn.Err()
		case <-ticker.C:
		}
	}
}

// drainQueue sends a snapshot of the queue in FIFO order and stops at the first failure.
func (t *Tunnel) drainQueue(ctx context.Context, conn *Conn) (bool, error) {
	sent := false
	defer func() { t.obs.QueueDepth(t.queue.Len()) }()
	for _, m := range t.queue.Snapshot() {
		err := conn.write(ctx, KindData, m.Body)
		if err == nil {
			t.queue.Remove(m.ID)
			sent = true
			continue
		}
		if ctx.Err() != nil {
			return sent, nil
		}
		attempts, dropped := t.queue.Fail(m.ID, t.cfg.MaxSendAttempts)
		if dropped {
			t.stats.dropped.Add(1)
			t.obs.Dropped()
			t.emit(EventError, conn.remote, fmt.Sprintf("message dropped after %d attempts", attempts))
		} else {
			t.emit(EventError, conn.remote, fmt.Sprintf("message send failed, will retry (attempt %d)", attempts))
		}
		return sent, err
	}
	return sent, nil
}

// SendOnce dials target, sends body as a single message and closes. The queue is untouched.
func (t *Tunnel) SendOnce(ctx context.Context, target, body string) error {
	ep, err := parseTarget(target, t.cfg.Port)
	if err != nil {
		return err
	}
	ctx, done := t.roleContext(ctx)
	defer done()

	conn, err := t.connect(ctx, ep)
	if err != nil {
		return err
	}
	go conn.receiveLoop(ctx)
	if err := conn.write(ctx, KindData, body); err != nil {
		t.emit(EventError, conn.remote, fmt.Sprintf("failed to send direct message to %s", ep))
		return err
	}
	t.emit(EventInfo, conn.remote, fmt.Sprintf("direct message sent to %s", ep))
	conn.finish(t.cfg.StopGrace)
	return nil
}
