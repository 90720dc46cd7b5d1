package arbiter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pyroscan/pyroscan/internal/transport"
)

func TestSubmitStaggeredSubmissionsAllComplete(t *testing.T) {
	// Use a real Transport pointed at a port that is never opened; every
	// Submit should still be executed and return (with the resulting
	// transport error). Completion order is not checked here.
	tr := transport.New(transport.Config{Port: "/dev/null-nonexistent", Baud: 9600})
	a := New(tr)
	defer a.Close()

	const n = 5
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			a.Submit(ctx, Transaction{
				Kind:             KindPoll,
				Request:          []byte{byte(i)},
				ExpectedReplyLen: 1,
				Deadline:         time.Now().Add(100 * time.Millisecond),
			})
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}(i)
		// Stagger submission so the queue really does receive them in
		// this order rather than racing goroutine scheduling.
		time.Sleep(2 * time.Millisecond)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, order, n)
}

func TestSubmitExpiredDeadline(t *testing.T) {
	tr := transport.New(transport.Config{Port: "/dev/null-nonexistent", Baud: 9600})
	a := New(tr)
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	result := a.Submit(ctx, Transaction{
		Kind:             KindPoll,
		ExpectedReplyLen: 1,
		Deadline:         time.Now().Add(-time.Millisecond),
	})
	require.Error(t, result.Err)
	assert.ErrorIs(t, result.Err, transport.ErrTimeout)

	stats := a.Stats()
	assert.Equal(t, int64(1), stats.Timeouts)
}

func TestSubmitContextCancelled(t *testing.T) {
	tr := transport.New(transport.Config{Port: "/dev/null-nonexistent", Baud: 9600})
	a := New(tr)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := a.Submit(ctx, Transaction{Deadline: time.Now().Add(time.Second)})
	assert.ErrorIs(t, result.Err, context.Canceled)
}
