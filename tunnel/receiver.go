package tunnel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/floegence/lantun/realtime/ws"
	"github.com/floegence/lantun/tunerrors"
	"go.uber.org/zap"
)

type receiverListeners struct {
	tcp net.Listener
	ws  net.Listener // nil unless Config.WSListen is set.
}

func (l receiverListeners) close() {
	_ = l.tcp.Close()
	if l.ws != nil {
		_ = l.ws.Close()
	}
}

func (t *Tunnel) bindReceiver(ctx context.Context) (receiverListeners, error) {
	lc := net.ListenConfig{Control: reuseAddrControl, KeepAliveConfig: keepAliveConfig()}
	tcp, err := lc.Listen(ctx, "tcp", t.cfg.ListenAddr)
	if err != nil {
		return receiverListeners{}, t.bindFailed(t.cfg.ListenAddr, err)
	}
	lns := receiverListeners{tcp: tcp}
	if t.cfg.WSListen != "" {
		wln, err := lc.Listen(ctx, "tcp", t.cfg.WSListen)
		if err != nil {
			_ = tcp.Close()
			return receiverListeners{}, t.bindFailed(t.cfg.WSListen, err)
		}
		lns.ws = wln
	}
	return lns, nil
}

func (t *Tunnel) bindFailed(addr string, err error) error {
	werr := tunerrors.Wrap(tunerrors.RoleReceiver, tunerrors.StageListen, tunerrors.ClassifyListenCode(err), err)
	t.log.Named("receiver").Error("bind failed", zap.String("addr", addr), zap.Error(err))
	t.emit(EventError, "", fmt.Sprintf("%s: %s", addr, tunerrors.Describe(werr)))
	return werr
}

// StartReceiver binds the listen address synchronously, so bind errors are returned,
// then accepts peers in the background until Stop.
func (t *Tunnel) StartReceiver() error {
	ctx, done := t.roleContext(context.Background())
	lns, err := t.bindReceiver(ctx)
	if err != nil {
		done()
		return err
	}
	t.publishListeners(lns)
	go func() {
		defer done()
		t.serveReceiver(ctx, lns)
	}()
	return nil
}

// RunReceiver binds and accepts peers until ctx is canceled or Stop is called.
func (t *Tunnel) RunReceiver(ctx context.Context) error {
	ctx, done := t.roleContext(ctx)
	defer done()
	lns, err := t.bindReceiver(ctx)
	if err != nil {
		return err
	}
	t.publishListeners(lns)
	t.serveReceiver(ctx, lns)
	return nil
}

// publishListeners makes the bound addresses visible before the accept goroutines start.
func (t *Tunnel) publishListeners(lns receiverListeners) {
	var wsAddr net.Addr
	if lns.ws != nil {
		wsAddr = lns.ws.Addr()
	}
	t.setListenAddrs(lns.tcp.Addr(), wsAddr)
}

func (t *Tunnel) serveReceiver(ctx context.Context, lns receiverListeners) {
	log := t.log.Named("receiver")
	var wsAddr net.Addr
	var srv *http.Server
	if lns.ws != nil {
		wsAddr = lns.ws.Addr()
		mux := http.NewServeMux()
		mux.HandleFunc(t.cfg.WSPath, t.wsHandler(ctx))
		srv = &http.Server{Handler: mux, ReadHeaderTimeout: t.cfg.ConnectTimeout}
		go func() {
			if err := srv.Serve(lns.ws); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("websocket server exited", zap.Error(err))
			}
		}()
	}
	stop := context.AfterFunc(ctx, func() {
		lns.close()
		if srv != nil {
			_ = srv.Close()
		}
	})
	defer stop()
	defer lns.close()

	log.Info("listening", zap.Stringer("addr", lns.tcp.Addr()))
	t.emit(EventInfo, "", fmt.Sprintf("receiver listening on %s", lns.tcp.Addr()))
	if wsAddr != nil {
		t.emit(EventInfo, "", fmt.Sprintf("receiver accepting websocket peers on %s%s", wsAddr, t.cfg.WSPath))
	}

	t.acceptLoop(ctx, lns.tcp, log)

	if srv != nil {
		_ = srv.Close()
	}
	t.clearListenAddrs(lns.tcp.Addr())
	log.Info("stopped")
	t.emit(EventInfo, "", "receiver stopped")
}

func (t *Tunnel) acceptLoop(ctx context.Context, ln net.Listener, log *zap.Logger) {
	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			werr := tunerrors.Wrap(tunerrors.RoleReceiver, tunerrors.StageAccept, tunerrors.CodeAcceptFailed, err)
			log.Warn("accept failed", zap.Error(err))
			t.emit(EventError, "", fmt.Sprintf("error accepting connection: %v", werr))
			select {
			case <-ctx.Done():
				return
			case <-time.After(t.cfg.PollInterval):
			}
			continue
		}
		conn := t.newConn(newStreamTransport(c, t.cfg.MaxFrameBytes), tunerrors.RoleReceiver, "tcp")
		go t.servePeer(ctx, conn)
	}
}

// servePeer registers an accepted peer, starts its receive loop and greets it.
func (t *Tunnel) servePeer(ctx context.Context, conn *Conn) {
	t.emit(EventInfo, conn.remote, fmt.Sprintf("connection accepted from %s", conn.remote))
	if !t.register(ctx, conn) {
		return
	}
	conn.log.Info("accepted", zap.String("transport", conn.transport))
	go conn.receiveLoop(ctx)
	conn.Send(ctx, greetingReceiver)
}

func (t *Tunnel) wsHandler(ctx context.Context) http.HandlerFunc {
	opts := ws.UpgraderOptions{CheckOrigin: ws.NewOriginChecker(t.cfg.WSAllowedOrigins)}
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := ws.Upgrade(w, r, opts)
		if err != nil {
			t.log.Named("receiver").Debug("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
			return
		}
		conn := t.newConn(newWSTransport(c, r.RemoteAddr, t.cfg.MaxFrameBytes), tunerrors.RoleReceiver, "ws")
		t.servePeer(ctx, conn)
	}
}
