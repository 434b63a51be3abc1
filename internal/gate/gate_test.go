package gate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAwaitReturnsOKWhenSignalled(t *testing.T) {
	g := New()
	notify := g.Reset()
	go func() {
		time.Sleep(20 * time.Millisecond)
		notify(nil)
	}()
	res := g.Await(context.Background(), WaitOptions{Deadline: time.Second, PollInterval: 10 * time.Millisecond})
	if res.Outcome != OK || res.Error() != nil {
		t.Fatalf("expected ok, got %+v", res)
	}
	if g.State() != OK {
		t.Fatalf("state = %s, want ok", g.State())
	}
}

func TestAwaitReportsTransportFailure(t *testing.T) {
	g := New()
	notify := g.Reset()
	boom := errors.New("boom")
	go notify(boom)
	res := g.Await(context.Background(), WaitOptions{Deadline: time.Second})
	if res.Outcome != Failed || res.Reason != ReasonTransport {
		t.Fatalf("expected transport failure, got %+v", res)
	}
	if !errors.Is(res.Error(), boom) {
		t.Fatalf("expected boom, got %v", res.Error())
	}
}

func TestAwaitTimesOut(t *testing.T) {
	g := New()
	g.Reset()
	start := time.Now()
	res := g.Await(context.Background(), WaitOptions{Deadline: 200 * time.Millisecond, PollInterval: 50 * time.Millisecond, OnPoll: func(time.Duration) {}})
	elapsed := time.Since(start)
	if res.Outcome != Failed || res.Reason != ReasonTimeout || !errors.Is(res.Error(), ErrTimeout) {
		t.Fatalf("expected timeout, got %+v", res)
	}
	if elapsed < 200*time.Millisecond || elapsed > 250*time.Millisecond {
		t.Fatalf("timeout took %v, want 200-250ms", elapsed)
	}
}

func TestAwaitCancelledPromptly(t *testing.T) {
	g := New()
	g.Reset()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	res := g.Await(ctx, WaitOptions{Deadline: 5 * time.Second, PollInterval: 50 * time.Millisecond})
	if res.Reason != ReasonCancelled || !errors.Is(res.Error(), ErrCancelled) {
		t.Fatalf("expected cancelled, got %+v", res)
	}
	if elapsed := time.Since(start); elapsed > 30*time.Millisecond+50*time.Millisecond {
		t.Fatalf("cancellation took %v", elapsed)
	}
}

func TestLateNotifyIgnored(t *testing.T) {
	g := New()
	var late atomic.Int32
	g.OnLate = func(error) { late.Add(1) }

	notify := g.Reset()
	res := g.Await(context.Background(), WaitOptions{Deadline: 10 * time.Millisecond})
	if res.Reason != ReasonTimeout {
		t.Fatalf("expected timeout, got %+v", res)
	}
	notify(nil)
	if late.Load() != 1 {
		t.Fatalf("expected late completion to be reported once, got %d", late.Load())
	}
	if g.State() != Failed {
		t.Fatalf("late completion changed state to %s", g.State())
	}

	// a stale notifier must not resolve the next cycle
	next := g.Reset()
	notify(errors.New("stale"))
	if g.State() != Pending {
		t.Fatalf("stale notify resolved new cycle")
	}
	next(nil)
	if g.State() != OK {
		t.Fatalf("state = %s, want ok", g.State())
	}
}

func TestSignalFirstWins(t *testing.T) {
	g := New()
	g.Reset()
	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 1 {
				err = errors.New("odd")
			}
			if g.Signal(err) {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winning signal, got %d", wins.Load())
	}
	if g.State() == Pending {
		t.Fatal("gate still pending after signals")
	}
}

func TestOnPollCalled(t *testing.T) {
	g := New()
	notify := g.Reset()
	var polls atomic.Int32
	go func() {
		time.Sleep(55 * time.Millisecond)
		notify(nil)
	}()
	g.Await(context.Background(), WaitOptions{
		Deadline:     time.Second,
		PollInterval: 10 * time.Millisecond,
		OnPoll:       func(time.Duration) { polls.Add(1) },
	})
	if polls.Load() < 2 {
		t.Fatalf("expected several polls, got %d", polls.Load())
	}
}
