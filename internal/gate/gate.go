// Package gate bridges transport completion callbacks to blocking waits.
//
// A Gate governs one asynchronous operation at a time. The caller arms a cycle
// with Reset, hands the returned Notify to the transport, and blocks in Await.
// The transport invokes Notify from its own goroutine; the first resolution of
// a cycle wins and anything after it is dropped.
package gate

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// Outcome is the state of a governed operation.
type Outcome int32

// Operation outcomes.
const (
	Pending Outcome = iota
	OK
	Failed
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

// Reason distinguishes the ways an operation can fail.
type Reason int

// Failure reasons.
const (
	ReasonNone Reason = iota
	ReasonTransport
	ReasonTimeout
	ReasonCancelled
)

func (r Reason) String() string {
	switch r {
	case ReasonTransport:
		return "transport"
	case ReasonTimeout:
		return "timeout"
	case ReasonCancelled:
		return "cancelled"
	default:
		return "none"
	}
}

var (
	// ErrTimeout is reported when no completion arrives before the deadline.
	ErrTimeout = errors.New("completion timed out")
	// ErrCancelled is reported when the wait is abandoned through its context.
	ErrCancelled = errors.New("wait cancelled")
)

// Result is the resolution of one cycle.
type Result struct {
	Outcome Outcome
	Reason  Reason
	Err     error
}

// Error returns nil for OK results.
func (r Result) Error() error {
	if r.Outcome == OK {
		return nil
	}
	if r.Err != nil {
		return r.Err
	}
	return errors.New(r.Reason.String())
}

// Notify resolves the cycle it was issued for. A nil error means success.
type Notify func(err error)

// WaitOptions bound an Await call.
type WaitOptions struct {
	// Deadline is the hard ceiling on the wait. Zero waits until signalled or cancelled.
	Deadline time.Duration
	// PollInterval paces OnPoll.
	PollInterval time.Duration
	// OnPoll, if set, is called every PollInterval with the time left.
	OnPoll func(remaining time.Duration)
}

type cycle struct {
	state atomic.Int32
	done  chan struct{}
	res   Result
}

func newCycle() *cycle {
	return &cycle{done: make(chan struct{})}
}

func (c *cycle) resolve(res Result) bool {
	if !c.state.CompareAndSwap(int32(Pending), int32(res.Outcome)) {
		return false
	}
	c.res = res
	close(c.done)
	return true
}

func (c *cycle) result() Result {
	<-c.done
	return c.res
}

// Gate is a reusable completion gate. The zero value is not usable; call New.
type Gate struct {
	cur atomic.Pointer[cycle]

	// OnLate, if set, receives completions that arrive after their cycle was
	// already resolved, for example an upload finishing after its timeout.
	OnLate func(err error)
}

// New returns a gate with a pending cycle armed.
func New() *Gate {
	g := &Gate{}
	g.cur.Store(newCycle())
	return g
}

// Reset arms a new pending cycle and returns the notifier bound to it.
func (g *Gate) Reset() Notify {
	c := newCycle()
	g.cur.Store(c)
	return func(err error) {
		if !c.resolve(transportResult(err)) && g.OnLate != nil {
			g.OnLate(err)
		}
	}
}

// Signal resolves the current cycle. It reports false if the cycle was already resolved.
func (g *Gate) Signal(err error) bool {
	return g.cur.Load().resolve(transportResult(err))
}

// State returns the outcome of the current cycle without blocking.
func (g *Gate) State() Outcome {
	return Outcome(g.cur.Load().state.Load())
}

// Await blocks until the current cycle resolves, the deadline passes, or ctx is done.
// A timed-out or cancelled cycle is resolved as failed so later notifications are dropped.
func (g *Gate) Await(ctx context.Context, opts WaitOptions) Result {
	c := g.cur.Load()
	start := time.Now()

	var deadline <-chan time.Time
	if opts.Deadline > 0 {
		timer := time.NewTimer(opts.Deadline)
		defer timer.Stop()
		deadline = timer.C
	}
	var poll <-chan time.Time
	if opts.PollInterval > 0 && opts.OnPoll != nil {
		ticker := time.NewTicker(opts.PollInterval)
		defer ticker.Stop()
		poll = ticker.C
	}

	for {
		select {
		case <-c.done:
			return c.result()
		case <-deadline:
			c.resolve(Result{Outcome: Failed, Reason: ReasonTimeout, Err: ErrTimeout})
			return c.result()
		case <-ctx.Done():
			c.resolve(Result{Outcome: Failed, Reason: ReasonCancelled, Err: ErrCancelled})
			return c.result()
		case <-poll:
			remaining := opts.Deadline - time.Since(start)
			if remaining < 0 {
				remaining = 0
			}
			opts.OnPoll(remaining)
		}
	}
}

func transportResult(err error) Result {
	if err != nil {
		return Result{Outcome: Failed, Reason: ReasonTransport, Err: err}
	}
	return Result{Outcome: OK}
}
