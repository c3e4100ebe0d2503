// Package tunnel implements the encrypted point-to-point tunnel: a sender role that dials
// a peer and drains an outbound queue, and a receiver role that accepts peers.
//
// Every message travels as uint32_be(len) || IV || AES-256-CBC(PKCS7(msg)) on TCP, or as
// one binary websocket message per envelope on the websocket transport.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/floegence/lantun/crypto/envelope"
	"github.com/floegence/lantun/internal/defaults"
	"github.com/floegence/lantun/keystore"
	"github.com/floegence/lantun/observability"
	"go.uber.org/zap"
)

// Config tunes a Tunnel. Zero values select the defaults.
type Config struct {
	Port       int    // Default port for targets and the listen address.
	ListenAddr string // Receiver bind address; defaults to 0.0.0.0:Port.

	ConnectTimeout    time.Duration
	WriteTimeout      time.Duration
	KeepaliveInterval time.Duration // Negative disables keepalives.
	PollInterval      time.Duration // Sender delivery loop period.
	StopGrace         time.Duration // How long Stop waits for role goroutines.

	MaxFrameBytes      int
	MaxSendAttempts    int // Failed attempts before a queued message is dropped.
	MaxDecryptFailures int // Consecutive failures before closing; 0 means never.

	WireMode WireMode

	WSListen         string // Optional websocket listen address for the receiver.
	WSPath           string
	WSAllowedOrigins []string
}

// DefaultConfig returns the default tunnel configuration.
func DefaultConfig() Config {
	return Config{
		Port:              defaults.Port,
		ConnectTimeout:    defaults.ConnectTimeout,
		WriteTimeout:      defaults.WriteTimeout,
		KeepaliveInterval: defaults.KeepaliveInterval,
		PollInterval:      defaults.PollInterval,
		StopGrace:         defaults.StopGrace,
		MaxFrameBytes:     defaults.MaxFrameBytes,
		MaxSendAttempts:   defaults.MaxSendAttempts,
		WireMode:          WireTagged,
		WSPath:            defaults.WSPath,
	}
}

func (c Config) normalize() (Config, error) {
	d := DefaultConfig()
	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.Port < 0 || c.Port > 65535 {
		return c, fmt.Errorf("invalid port %d", c.Port)
	}
	if c.ListenAddr == "" {
		c.ListenAddr = net.JoinHostPort("0.0.0.0", fmt.Sprint(c.Port))
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	c.KeepaliveInterval = defaults.NormalizeKeepalive(c.KeepaliveInterval)
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.StopGrace <= 0 {
		c.StopGrace = d.StopGrace
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = d.MaxFrameBytes
	}
	if c.MaxSendAttempts == 0 {
		c.MaxSendAttempts = d.MaxSendAttempts
	}
	if c.MaxDecryptFailures < 0 {
		return c, fmt.Errorf("invalid max decrypt failures %d", c.MaxDecryptFailures)
	}
	mode, err := ParseWireMode(string(c.WireMode))
	if err != nil {
		return c, err
	}
	c.WireMode = mode
	if c.WSPath == "" {
		c.WSPath = d.WSPath
	}
	return c, nil
}

// Option customizes a Tunnel.
type Option func(*Tunnel)

// WithLogger sets the logger; nil keeps the no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Tunnel) {
		if l != nil {
			t.log = l.Named("tunnel")
		}
	}
}

// WithObserver sets the metrics observer.
func WithObserver(obs observability.TunnelObserver) Option {
	return func(t *Tunnel) { t.obs = observability.OrNoop(obs) }
}

// WithEventHandler sets the callback that receives tunnel events.
func WithEventHandler(h EventHandler) Option {
	return func(t *Tunnel) { t.onEvent = h }
}

// Stats are cumulative counters for the lifetime of a Tunnel.
type Stats struct {
	MessagesIn      uint64
	MessagesOut     uint64
	KeepalivesIn    uint64
	DecryptFailures uint64
	Dropped         uint64
	Connections     int
	Queued          int
}

type counters struct {
	messagesIn      atomic.Uint64
	messagesOut     atomic.Uint64
	keepalivesIn    atomic.Uint64
	decryptFailures atomic.Uint64
	dropped         atomic.Uint64
}

// run is one start/stop generation. Stop cancels it and waits on its role goroutines.
type run struct {
	ctx    context.Context
	cancel context.CancelFunc
	roles  sync.WaitGroup
}

type runKey struct{}

// runStopped reports whether the run that ctx was derived from has been stopped.
// It is synchronous with Stop, unlike the AfterFunc cancellation of role contexts.
func runStopped(ctx context.Context) bool {
	r, ok := ctx.Value(runKey{}).(*run)
	return ok && r.ctx.Err() != nil
}

func newRun() *run {
	ctx, cancel := context.WithCancel(context.Background())
	return &run{ctx: ctx, cancel: cancel}
}

// Tunnel owns the key, the connection table, the outbound queue and the stop signal
// shared by the sender and receiver roles.
type Tunnel struct {
	cfg     Config
	key     keystore.Key
	log     *zap.Logger
	obs     observability.TunnelObserver
	onEvent EventHandler

	conns connTable
	queue Queue
	stats counters

	nextConnID atomic.Uint64

	mu     sync.Mutex
	cur    *run
	lnAddr net.Addr
	wsAddr net.Addr
}

// New validates cfg and returns an idle Tunnel.
func New(cfg Config, key keystore.Key, opts ...Option) (*Tunnel, error) {
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, err
	}
	t := &Tunnel{
		cfg: cfg,
		key: key,
		log: zap.NewNop(),
		obs: observability.NoopTunnelObserver,
		cur: newRun(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t, nil
}

// Config returns the normalized configuration.
func (t *Tunnel) Config() Config { return t.cfg }

// roleContext derives a role context from parent that is also canceled by Stop, and
// counts the role toward Stop's grace wait. done must be called when the role exits.
func (t *Tunnel) roleContext(parent context.Context) (ctx context.Context, done func()) {
	if parent == nil {
		parent = context.Background()
	}
	t.mu.Lock()
	r := t.cur
	r.roles.Add(1)
	t.mu.Unlock()

	ctx, cancel := context.WithCancel(context.WithValue(parent, runKey{}, r))
	stop := context.AfterFunc(r.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
		r.roles.Done()
	}
}

func (t *Tunnel) emit(kind EventKind, remote, payload string) {
	if ce := t.log.Check(zap.DebugLevel, "event"); ce != nil {
		ce.Write(zap.String("kind", string(kind)), zap.String("remote", remote), zap.String("payload", payload))
	}
	if t.onEvent == nil {
		return
	}
	t.onEvent(Event{Kind: kind, Payload: payload, Remote: remote, Time: time.Now()})
}

// register adds c to the connection table unless the run has been stopped.
func (t *Tunnel) register(ctx context.Context, c *Conn) bool {
	if !t.conns.add(ctx, c) {
		_ = c.tr.Close()
		return false
	}
	t.obs.ConnCount(int64(t.conns.len()))
	return true
}

// Enqueue appends body to the outbound queue drained by the sender role.
// Empty messages and messages too large for one frame are rejected.
func (t *Tunnel) Enqueue(body string) bool {
	if err := t.checkSize(body); err != nil {
		t.emit(EventError, "", fmt.Sprintf("message not queued: %v", err))
		return false
	}
	if !t.queue.Push(body) {
		return false
	}
	n := t.queue.Len()
	t.obs.QueueDepth(n)
	t.emit(EventInfo, "", fmt.Sprintf("queued message (%d bytes, %d pending)", len(body), n))
	return true
}

// Pending returns a snapshot of the outbound queue.
func (t *Tunnel) Pending() []Outbound { return t.queue.Snapshot() }

// Broadcast sends body on every open connection and reports how many succeeded.
func (t *Tunnel) Broadcast(ctx context.Context, body string) int {
	if body == "" {
		return 0
	}
	n := 0
	for _, c := range t.conns.snapshot() {
		if c.Send(ctx, body) {
			n++
		}
	}
	return n
}

// Connections returns a snapshot of the registered connections.
func (t *Tunnel) Connections() []ConnInfo {
	conns := t.conns.snapshot()
	out := make([]ConnInfo, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.Info())
	}
	return out
}

func (t *Tunnel) Stats() Stats {
	return Stats{
		MessagesIn:      t.stats.messagesIn.Load(),
		MessagesOut:     t.stats.messagesOut.Load(),
		KeepalivesIn:    t.stats.keepalivesIn.Load(),
		DecryptFailures: t.stats.decryptFailures.Load(),
		Dropped:         t.stats.dropped.Load(),
		Connections:     t.conns.len(),
		Queued:          t.queue.Len(),
	}
}

// ListenAddr returns the bound TCP address of the receiver, or "" when not listening.
func (t *Tunnel) ListenAddr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lnAddr == nil {
		return ""
	}
	return t.lnAddr.String()
}

// WSListenAddr returns the bound websocket address of the receiver, or "".
func (t *Tunnel) WSListenAddr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.wsAddr == nil {
		return ""
	}
	return t.wsAddr.String()
}

func (t *Tunnel) setListenAddrs(tcp, ws net.Addr) {
	t.mu.Lock()
	t.lnAddr, t.wsAddr = tcp, ws
	t.mu.Unlock()
}

// clearListenAddrs forgets the published addresses if they still belong to tcp, so a
// late-exiting receiver cannot hide the listener of a restarted one.
func (t *Tunnel) clearListenAddrs(tcp net.Addr) {
	t.mu.Lock()
	if t.lnAddr == tcp {
		t.lnAddr, t.wsAddr = nil, nil
	}
	t.mu.Unlock()
}

// Stop signals every role to exit, closes and forgets all connections, waits up to
// StopGrace for the roles, then re-arms the tunnel so it can be started again.
// Queued messages are kept.
func (t *Tunnel) Stop() {
	t.mu.Lock()
	r := t.cur
	t.cur = newRun()
	t.mu.Unlock()

	r.cancel()
	for _, c := range t.conns.drain() {
		_ = c.Close()
	}
	t.obs.ConnCount(0)

	waited := make(chan struct{})
	go func() {
		r.roles.Wait()
		close(waited)
	}()
	timer := time.NewTimer(t.cfg.StopGrace)
	defer timer.Stop()
	select {
	case <-waited:
	case <-timer.C:
		t.log.Warn("roles still running after stop grace", zap.Duration("grace", t.cfg.StopGrace))
	}
	t.emit(EventInfo, "", "tunnel stopped")
}

var errEmptyTarget = errors.New("empty target")

// ErrMessageTooLarge is returned for a message whose frame would exceed MaxFrameBytes.
// The peer is assumed to enforce the same limit.
var ErrMessageTooLarge = errors.New("message exceeds the frame size limit")

// frameSize returns the on-wire payload size of a data message carrying body.
func (t *Tunnel) frameSize(body string) int {
	n := len(body)
	if t.cfg.WireMode == WireTagged {
		n++
	}
	return envelope.Overhead(n)
}

func (t *Tunnel) checkSize(body string) error {
	if size := t.frameSize(body); size > t.cfg.MaxFrameBytes {
		return fmt.Errorf("%w (%d bytes, limit %d)", ErrMessageTooLarge, size, t.cfg.MaxFrameBytes)
	}
	return nil
}
