package transport

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"

	"medfleet-sim/internal/payload"
)

// LoopbackOptions tune the in-memory transport.
type LoopbackOptions struct {
	// Latency delays every completion.
	Latency time.Duration
	// FailureRate is the probability in [0,1] that a completion reports ErrInjected.
	FailureRate float64
	// Reject, if set, is consulted before accepting a submission. A non-nil
	// result is returned wrapped in ErrSubmit.
	Reject func(target string) error
	// Fail, if set, decides the completion error for a target.
	Fail func(target string) error
	// Rand drives FailureRate. Defaults to a time-seeded source.
	Rand *rand.Rand
}

// ErrInjected is the completion error produced by FailureRate.
var ErrInjected = errors.New("injected transport failure")

// Kinds of recorded submissions.
const (
	SentEvent   = "event"
	SentBlob    = "blob"
	SentCommand = "command"
)

// Sent records one accepted submission.
type Sent struct {
	Kind    string
	Target  string
	Message payload.Message
	Blob    []byte
	At      time.Time
}

// Loopback is an in-memory transport. Commands sent through it are delivered
// to handlers registered by its devices.
type Loopback struct {
	opts LoopbackOptions

	mu       sync.Mutex
	rnd      *rand.Rand
	sent     []Sent
	handlers map[string]func(payload.Message)
	devices  map[string]struct{}
	closed   bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewLoopback returns an open loopback transport.
func NewLoopback(opts LoopbackOptions) *Loopback {
	rnd := opts.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Loopback{
		opts:     opts,
		rnd:      rnd,
		handlers: make(map[string]func(payload.Message)),
		devices:  make(map[string]struct{}),
		stop:     make(chan struct{}),
	}
}

// Device returns the device-side view for deviceID.
func (l *Loopback) Device(deviceID string) Device {
	l.mu.Lock()
	l.devices[deviceID] = struct{}{}
	l.mu.Unlock()
	return &loopbackDevice{l: l, id: deviceID}
}

// SendCommand records msg and delivers it to the device's handler, if any.
func (l *Loopback) SendCommand(ctx context.Context, deviceID string, msg payload.Message, done func(error)) error {
	return l.submit(ctx, Sent{Kind: SentCommand, Target: deviceID, Message: copyMessage(msg)}, done)
}

// ListDevices returns every device that registered or sent an event, sorted.
func (l *Loopback) ListDevices(ctx context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.devices))
	for id := range l.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Sent returns a copy of every accepted submission in order.
func (l *Loopback) Sent() []Sent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Sent(nil), l.sent...)
}

// Close completes outstanding operations with ErrClosed and waits for them.
func (l *Loopback) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.stop)
	l.mu.Unlock()
	l.wg.Wait()
	return nil
}

func (l *Loopback) submit(ctx context.Context, s Sent, done func(error)) error {
	if err := ctx.Err(); err != nil {
		return submitError(s.Kind, err)
	}
	if l.opts.Reject != nil {
		if err := l.opts.Reject(s.Target); err != nil {
			return submitError(s.Kind, err)
		}
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return submitError(s.Kind, ErrClosed)
	}
	s.At = time.Now()
	l.sent = append(l.sent, s)
	if s.Kind == SentEvent {
		l.devices[s.Target] = struct{}{}
	}
	var outcome error
	if l.opts.Fail != nil {
		outcome = l.opts.Fail(s.Target)
	}
	if outcome == nil && l.opts.FailureRate > 0 && l.rnd.Float64() < l.opts.FailureRate {
		outcome = ErrInjected
	}
	handler := l.handlers[s.Target]
	l.wg.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.wg.Done()
		if l.opts.Latency > 0 {
			t := time.NewTimer(l.opts.Latency)
			select {
			case <-t.C:
			case <-l.stop:
				t.Stop()
				done(ErrClosed)
				return
			}
		}
		if outcome == nil && s.Kind == SentCommand && handler != nil {
			handler(s.Message)
		}
		done(outcome)
	}()
	return nil
}

type loopbackDevice struct {
	l  *Loopback
	id string
}

func (d *loopbackDevice) SendEvent(ctx context.Context, msg payload.Message, done func(error)) error {
	return d.l.submit(ctx, Sent{Kind: SentEvent, Target: d.id, Message: copyMessage(msg)}, done)
}

func (d *loopbackDevice) UploadBlob(ctx context.Context, name string, data []byte, done func(error)) error {
	return d.l.submit(ctx, Sent{Kind: SentBlob, Target: name, Blob: append([]byte(nil), data...)}, done)
}

func (d *loopbackDevice) OnCommand(h func(payload.Message)) {
	d.l.mu.Lock()
	d.l.handlers[d.id] = h
	d.l.mu.Unlock()
}

func (d *loopbackDevice) Close() error { return d.l.Close() }

func copyMessage(m payload.Message) payload.Message {
	m.Payload = append([]byte(nil), m.Payload...)
	return m
}
