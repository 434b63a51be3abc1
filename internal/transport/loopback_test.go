package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"medfleet-sim/internal/payload"
)

func waitDone(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("completion callback never ran")
		return nil
	}
}

func TestLoopbackCompletesAsync(t *testing.T) {
	lb := NewLoopback(LoopbackOptions{Latency: 10 * time.Millisecond})
	defer lb.Close()
	dev := lb.Device("dev1")

	msg := payload.Message{MessageID: "m1", Payload: []byte(`{"a":1}`)}
	ch := make(chan error, 1)
	if err := dev.SendEvent(context.Background(), msg, func(err error) { ch <- err }); err != nil {
		t.Fatalf("SendEvent: %v", err)
	}
	// caller's buffer is not retained
	msg.Payload[0] = 'X'
	if err := waitDone(t, ch); err != nil {
		t.Fatalf("unexpected completion error %v", err)
	}
	sent := lb.Sent()
	if len(sent) != 1 || sent[0].Kind != SentEvent || string(sent[0].Message.Payload) != `{"a":1}` {
		t.Fatalf("unexpected record %+v", sent)
	}
}

func TestLoopbackFailureInjection(t *testing.T) {
	boom := errors.New("boom")
	lb := NewLoopback(LoopbackOptions{
		Fail: func(target string) error {
			if target == "bad" {
				return boom
			}
			return nil
		},
		Reject: func(target string) error {
			if target == "offline" {
				return errors.New("device offline")
			}
			return nil
		},
	})
	defer lb.Close()

	ch := make(chan error, 1)
	if err := lb.SendCommand(context.Background(), "bad", payload.Message{}, func(err error) { ch <- err }); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if err := waitDone(t, ch); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}

	err := lb.SendCommand(context.Background(), "offline", payload.Message{}, func(error) {
		t.Error("callback must not run after rejection")
	})
	if !errors.Is(err, ErrSubmit) {
		t.Fatalf("expected ErrSubmit, got %v", err)
	}
	if n := len(lb.Sent()); n != 1 {
		t.Fatalf("rejected submission recorded: %d", n)
	}
}

func TestLoopbackFailureRate(t *testing.T) {
	lb := NewLoopback(LoopbackOptions{FailureRate: 1})
	defer lb.Close()
	ch := make(chan error, 1)
	if err := lb.Device("dev1").UploadBlob(context.Background(), "f", []byte("x"), func(err error) { ch <- err }); err != nil {
		t.Fatalf("UploadBlob: %v", err)
	}
	if err := waitDone(t, ch); !errors.Is(err, ErrInjected) {
		t.Fatalf("expected ErrInjected, got %v", err)
	}
}

func TestLoopbackDeliversCommands(t *testing.T) {
	lb := NewLoopback(LoopbackOptions{})
	defer lb.Close()
	got := make(chan payload.Message, 1)
	lb.Device("icu-device01").OnCommand(func(m payload.Message) { got <- m })

	ch := make(chan error, 1)
	if err := lb.SendCommand(context.Background(), "icu-device01", payload.Message{MessageID: "c1"}, func(err error) { ch <- err }); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if err := waitDone(t, ch); err != nil {
		t.Fatalf("completion error %v", err)
	}
	select {
	case m := <-got:
		if m.MessageID != "c1" {
			t.Fatalf("unexpected command %+v", m)
		}
	default:
		t.Fatal("handler did not run before completion")
	}

	ids, _ := lb.ListDevices(context.Background())
	if len(ids) != 1 || ids[0] != "icu-device01" {
		t.Fatalf("unexpected devices %v", ids)
	}
}

func TestLoopbackCloseCompletesOutstanding(t *testing.T) {
	lb := NewLoopback(LoopbackOptions{Latency: time.Hour})
	ch := make(chan error, 1)
	if err := lb.Device("dev1").SendEvent(context.Background(), payload.Message{}, func(err error) { ch <- err }); err != nil {
		t.Fatalf("SendEvent: %v", err)
	}
	lb.Close()
	if err := waitDone(t, ch); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := lb.Device("dev1").SendEvent(context.Background(), payload.Message{}, func(error) {}); !errors.Is(err, ErrSubmit) {
		t.Fatalf("submit after close: %v", err)
	}
}
