// Package arbiter serialises every Modbus RTU transaction on one COM port
// behind a single-worker FIFO queue, guaranteeing single-master exclusivity
// (spec §4.3). Polling submissions and parameter-service submissions share
// the same queue; the Polling Scheduler's cooperative pause (see
// internal/scheduler) is what keeps Control transactions from interleaving
// with a burst of Poll transactions, not any reordering done here.
package arbiter

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pyroscan/pyroscan/internal/transport"
)

// Kind tags a submission for observability; it never affects ordering.
type Kind string

const (
	KindPoll    Kind = "poll"
	KindControl Kind = "control"
)

// Transaction is one request to execute on the bus.
type Transaction struct {
	Kind             Kind
	Request          []byte
	ExpectedReplyLen int
	Deadline         time.Time
}

// Result is the outcome of executing a Transaction.
type Result struct {
	Bytes []byte
	Err   error
}

type submission struct {
	txn  Transaction
	resp chan Result
}

// Stats is a point-in-time snapshot of arbiter activity, used by the
// bus health check (internal/health).
type Stats struct {
	Submitted int64
	Errors    int64
	Timeouts  int64
}

// Arbiter owns one Transport and runs a single worker goroutine that drains
// the request queue strictly in submission order, so two transactions'
// bytes never overlap on the wire and the inter-frame gap (enforced inside
// Transport.Transaction) is always observed between them.
type Arbiter struct {
	port     *transport.Transport
	requests chan submission
	done     chan struct{}

	submitted atomic.Int64
	errors    atomic.Int64
	timeouts  atomic.Int64
}

// New starts an Arbiter over port. Call Close to stop its worker and allow
// the process to release the port.
func New(port *transport.Transport) *Arbiter {
	a := &Arbiter{
		port:     port,
		requests: make(chan submission, 64),
		done:     make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Arbiter) run() {
	for {
		select {
		case <-a.done:
			return
		case s := <-a.requests:
			a.execute(s)
		}
	}
}

func (a *Arbiter) execute(s submission) {
	a.submitted.Add(1)

	remaining := time.Until(s.txn.Deadline)
	if remaining <= 0 {
		a.timeouts.Add(1)
		s.resp <- Result{Err: transport.ErrTimeout}
		return
	}

	bytes, err := a.port.Transaction(s.txn.Request, s.txn.ExpectedReplyLen, remaining)
	if err != nil {
		a.errors.Add(1)
		if err == transport.ErrTimeout {
			a.timeouts.Add(1)
		}
	}
	s.resp <- Result{Bytes: bytes, Err: err}
}

// Submit enqueues txn and blocks until it has executed on the bus or ctx is
// cancelled. A cancelled ctx does not cancel a transaction already handed
// to the transport; its result is simply discarded (spec §5).
func (a *Arbiter) Submit(ctx context.Context, txn Transaction) Result {
	resp := make(chan Result, 1)
	select {
	case a.requests <- submission{txn: txn, resp: resp}:
	case <-ctx.Done():
		return Result{Err: ctx.Err()}
	case <-a.done:
		return Result{Err: transport.ErrIO}
	}

	select {
	case r := <-resp:
		return r
	case <-ctx.Done():
		return Result{Err: ctx.Err()}
	}
}

// Stats returns a snapshot of submission counters.
func (a *Arbiter) Stats() Stats {
	return Stats{
		Submitted: a.submitted.Load(),
		Errors:    a.errors.Load(),
		Timeouts:  a.timeouts.Load(),
	}
}

// Close stops the worker goroutine and closes the underlying transport.
func (a *Arbiter) Close() error {
	close(a.done)
	return a.port.Close()
}
