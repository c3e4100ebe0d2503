package contextutil

import (
	"context"
	"sync/atomic"
	"time"
)

// WithTimeout returns parent if d<=0; otherwise wraps it with a timeout.
//
// A nil parent is treated as context.Background().
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if d <= 0 {
		return parent, func() {}
	}
	return context.WithTimeout(parent, d)
}

// DeadlineSetter is implemented by net.Conn read/write deadline methods.
type DeadlineSetter func(t time.Time) error

// BindDeadline applies ctx's deadline via set and forces a blocked I/O call to wake up
// when ctx is canceled. The returned func must be called once the I/O call returns.
func BindDeadline(ctx context.Context, set DeadlineSetter) func() {
	if deadline, ok := ctx.Deadline(); ok {
		_ = set(deadline)
	} else {
		_ = set(time.Time{})
	}
	if ctx.Done() == nil {
		return func() {}
	}
	var active atomic.Bool
	active.Store(true)
	stop := context.AfterFunc(ctx, func() {
		if !active.Load() {
			return
		}
		_ = set(time.Now())
	})
	return func() {
		active.Store(false)
		stop()
	}
}

// MapTimeout maps an I/O timeout caused by BindDeadline back to the context error.
func MapTimeout(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	type timeout interface{ Timeout() bool }
	te, ok := err.(timeout)
	if !ok || !te.Timeout() {
		return err
	}
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
		return context.DeadlineExceeded
	}
	return err
}
