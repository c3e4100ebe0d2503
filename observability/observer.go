package observability

import (
	"sync"
	"sync/atomic"
	"time"
)

type DialResult string

const (
	DialResultOK      DialResult = "ok"
	DialResultRefused DialResult = "refused"
	DialResultTimeout DialResult = "timeout"
	DialResultReset   DialResult = "reset"
	DialResultFail    DialResult = "fail"
)

type FrameKind string

const (
	FrameKindData      FrameKind = "data"
	FrameKindKeepalive FrameKind = "keepalive"
)

type RecvResult string

const (
	RecvResultData             RecvResult = "data"
	RecvResultKeepalive        RecvResult = "keepalive"
	RecvResultDecryptionFailed RecvResult = "decryption_failed"
	RecvResultUnknownKind      RecvResult = "unknown_kind"
)

type CloseReason string

const (
	CloseReasonPeerClosed     CloseReason = "peer_closed"
	CloseReasonReadError      CloseReason = "read_error"
	CloseReasonFrameTooLarge  CloseReason = "frame_too_large"
	CloseReasonWriteError     CloseReason = "write_error"
	CloseReasonDecryptLimit   CloseReason = "decrypt_limit"
	CloseReasonStopped        CloseReason = "stopped"
	CloseReasonSenderFinished CloseReason = "sender_finished"
)

// TunnelObserver receives tunnel-level metric events.
type TunnelObserver interface {
	ConnCount(n int64)
	Dial(result DialResult)
	FrameSent(kind FrameKind, bytes int)
	FrameReceived(result RecvResult, bytes int)
	SendLatency(d time.Duration)
	Close(reason CloseReason)
	QueueDepth(n int)
	Dropped()
}

type noopTunnelObserver struct{}

func (noopTunnelObserver) ConnCount(int64)               {}
func (noopTunnelObserver) Dial(DialResult)               {}
func (noopTunnelObserver) FrameSent(FrameKind, int)      {}
func (noopTunnelObserver) FrameReceived(RecvResult, int) {}
func (noopTunnelObserver) SendLatency(time.Duration)     {}
func (noopTunnelObserver) Close(CloseReason)             {}
func (noopTunnelObserver) QueueDepth(int)                {}
func (noopTunnelObserver) Dropped()                      {}

// NoopTunnelObserver is a zero-cost observer used when metrics are disabled.
var NoopTunnelObserver TunnelObserver = noopTunnelObserver{}

// AtomicTunnelObserver swaps its delegate at runtime.
type AtomicTunnelObserver struct {
	once sync.Once
	v    atomic.Value
}

type tunnelObserverHolder struct {
	obs TunnelObserver
}

// NewAtomicTunnelObserver returns an initialized atomic observer.
func NewAtomicTunnelObserver() *AtomicTunnelObserver {
	a := &AtomicTunnelObserver{}
	a.init()
	return a
}

func (a *AtomicTunnelObserver) init() {
	a.once.Do(func() { a.v.Store(&tunnelObserverHolder{obs: NoopTunnelObserver}) })
}

// Set replaces the delegate, falling back to the no-op observer on nil.
func (a *AtomicTunnelObserver) Set(obs TunnelObserver) {
	if obs == nil {
		obs = NoopTunnelObserver
	}
	a.init()
	a.v.Store(&tunnelObserverHolder{obs: obs})
}

func (a *AtomicTunnelObserver) load() TunnelObserver {
	a.init()
	return a.v.Load().(*tunnelObserverHolder).obs
}

func (a *AtomicTunnelObserver) ConnCount(n int64)                   { a.load().ConnCount(n) }
func (a *AtomicTunnelObserver) Dial(result DialResult)              { a.load().Dial(result) }
func (a *AtomicTunnelObserver) FrameSent(kind FrameKind, bytes int) { a.load().FrameSent(kind, bytes) }
func (a *AtomicTunnelObserver) FrameReceived(result RecvResult, bytes int) {
	a.load().FrameReceived(result, bytes)
}
func (a *AtomicTunnelObserver) SendLatency(d time.Duration) { a.load().SendLatency(d) }
func (a *AtomicTunnelObserver) Close(reason CloseReason)    { a.load().Close(reason) }
func (a *AtomicTunnelObserver) QueueDepth(n int)            { a.load().QueueDepth(n) }
func (a *AtomicTunnelObserver) Dropped()                    { a.load().Dropped() }

// OrNoop returns obs, or the no-op observer when obs is nil.
func OrNoop(obs TunnelObserver) TunnelObserver {
	if obs == nil {
		return NoopTunnelObserver
	}
	return obs
}
