package tunnel

import (
	"context"
	"sort"
	"sync"
)

// connTable holds the open connections keyed by remote endpoint.
type connTable struct {
	mu sync.Mutex
	m  map[string]*Conn
}

// add registers c unless ctx or the run it belongs to is done. The check happens under
// the table lock so a concurrent drain never misses a connection registered for a
// stopped run.
func (t *connTable) add(ctx context.Context, c *Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ctx.Err() != nil || runStopped(ctx) {
		return false
	}
	if t.m == nil {
		t.m = make(map[string]*Conn)
	}
	t.m[c.remote] = c
	return true
}

// remove deletes c only if it still owns its key.
func (t *connTable) remove(c *Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.m[c.remote]; ok && cur == c {
		delete(t.m, c.remote)
	}
}

func (t *connTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.m)
}

// snapshot returns the registered connections ordered by id.
func (t *connTable) snapshot() []*Conn {
	t.mu.Lock()
	out := make([]*Conn, 0, len(t.m))
	for _, c := range t.m {
		out = append(out, c)
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// drain empties the table and returns what it held.
func (t *connTable) drain() []*Conn {
	t.mu.Lock()
	out := make([]*Conn, 0, len(t.m))
	for _, c := range t.m {
		out = append(out, c)
	}
	t.m = nil
	t.mu.Unlock()
	return out
}
