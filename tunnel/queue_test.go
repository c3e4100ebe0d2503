package tunnel

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func bodies(items []Outbound) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Body)
	}
	return out
}

func TestQueueFIFO(t *testing.T) {
	var q Queue
	for _, s := range []string{"a", "b", "c"} {
		require.True(t, q.Push(s))
	}
	require.False(t, q.Push(""))

	var sent []string
	for _, m := range q.Snapshot() {
		sent = append(sent, m.Body)
		require.True(t, q.Remove(m.ID))
	}
	require.Equal(t, []string{"a", "b", "c"}, sent)
	require.Zero(t, q.Len())
}

func TestQueueFailKeepsHeadUntilBudgetSpent(t *testing.T) {
	var q Queue
	q.Push("head")
	q.Push("next")
	head := q.Snapshot()[0]

	attempts, dropped := q.Fail(head.ID, 3)
	require.Equal(t, 1, attempts)
	require.False(t, dropped)
	require.Equal(t, []string{"head", "next"}, bodies(q.Snapshot()))
	require.Equal(t, 1, q.Snapshot()[0].Attempts)

	q.Fail(head.ID, 3)
	attempts, dropped = q.Fail(head.ID, 3)
	require.Equal(t, 3, attempts)
	require.True(t, dropped)
	require.Equal(t, []string{"next"}, bodies(q.Snapshot()))
}

func TestQueueFailUnlimited(t *testing.T) {
	var q Queue
	q.Push("x")
	id := q.Snapshot()[0].ID
	for i := 0; i < 10; i++ {
		_, dropped := q.Fail(id, -1)
		require.False(t, dropped)
	}
	require.Equal(t, 1, q.Len())
}

func TestQueueUnknownID(t *testing.T) {
	var q Queue
	require.False(t, q.Remove(42))
	attempts, dropped := q.Fail(42, 1)
	require.Zero(t, attempts)
	require.False(t, dropped)
}

func TestQueueSnapshotIsolation(t *testing.T) {
	var q Queue
	q.Push("a")
	snap := q.Snapshot()
	q.Push("b")
	snap[0].Body = "mutated"
	require.Len(t, snap, 1)
	require.Equal(t, []string{"a", "b"}, bodies(q.Snapshot()))
	require.Equal(t, 2, q.Len())
}

func TestQueueConcurrentPush(t *testing.T) {
	var q Queue
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.Push("m")
			}
		}()
	}
	wg.Wait()
	snap := q.Snapshot()
	require.Len(t, snap, 800)
	seen := make(map[uint64]bool, len(snap))
	for _, m := range snap {
		require.False(t, seen[m.ID], "duplicate id %d", m.ID)
		seen[m.ID] = true
	}
}
