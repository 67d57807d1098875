package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/timebank/internal/ledger"
)

func newTestRequest(caller string) *request {
	return &request{
		op:    ledger.Operation{Kind: ledger.KindRegister, Caller: ledger.MemberID(caller)},
		reply: make(chan result, 1),
	}
}

func TestOpQueue_FIFO(t *testing.T) {
	q := newOpQueue()
	for _, c := range []string{"a", "b", "c"} {
		require.True(t, q.Enqueue(newTestRequest(c)))
	}
	assert.Equal(t, 3, q.Len())

	for _, want := range []ledger.MemberID{"a", "b", "c"} {
		r, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, r.op.Caller)
	}

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestOpQueue_SignalCoalesces(t *testing.T) {
	q := newOpQueue()
	q.Enqueue(newTestRequest("a"))
	q.Enqueue(newTestRequest("b"))

	select {
	case <-q.Wait():
	case <-time.After(time.Second):
		t.Fatal("expected a signal")
	}

	select {
	case <-q.Wait():
		t.Fatal("two enqueues should leave one signal")
	default:
	}
}

func TestOpQueue_Close(t *testing.T) {
	q := newOpQueue()
	q.Enqueue(newTestRequest("a"))
	q.Close()
	q.Close() // idempotent

	assert.True(t, q.Closed())
	assert.False(t, q.Enqueue(newTestRequest("b")), "enqueue after close should fail")

	// Closed signal channel fires immediately
	select {
	case <-q.Wait():
	case <-time.After(time.Second):
		t.Fatal("closed queue should wake waiters")
	}

	drained := q.Drain()
	require.Len(t, drained, 1)
	assert.Equal(t, 0, q.Len())
}

func TestOpQueue_ConcurrentEnqueue(t *testing.T) {
	q := newOpQueue()
	const goroutines = 20
	const perGoroutine = 50

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				q.Enqueue(newTestRequest("x"))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, goroutines*perGoroutine, q.Len())
}
