package upload

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"medfleet-sim/internal/transport"
)

var fixedNow = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

func writeSource(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return path
}

func TestDestinationName(t *testing.T) {
	got := DestinationName("dev1", "scan.jpg", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	if got != "dev1_20240102030405_scan.jpg" {
		t.Fatalf("DestinationName = %q", got)
	}
	// local times are converted to UTC
	loc := time.FixedZone("UTC+2", 2*3600)
	got = DestinationName("dev1", "scan.jpg", time.Date(2024, 1, 2, 5, 4, 5, 0, loc))
	if got != "dev1_20240102030405_scan.jpg" {
		t.Fatalf("DestinationName with zone = %q", got)
	}
}

func TestUploadNotFoundSubmitsNothing(t *testing.T) {
	lb := transport.NewLoopback(transport.LoopbackOptions{})
	defer lb.Close()
	c := New(lb.Device("dev1"), Config{Now: fixedNow})

	res := c.Upload(context.Background(), "dev1", filepath.Join(t.TempDir(), "missing.jpg"), Options{})
	if !errors.Is(res.Err, ErrNotFound) || res.Status != StatusIOError {
		t.Fatalf("expected ioError(notFound), got %v / %v", res.Status, res.Err)
	}
	if n := len(lb.Sent()); n != 0 {
		t.Fatalf("submission attempted: %d", n)
	}
}

func TestUploadDirectoryIsReadError(t *testing.T) {
	lb := transport.NewLoopback(transport.LoopbackOptions{})
	defer lb.Close()
	c := New(lb.Device("dev1"), Config{})
	res := c.Upload(context.Background(), "dev1", t.TempDir(), Options{})
	if !errors.Is(res.Err, ErrReadIncomplete) {
		t.Fatalf("expected ErrReadIncomplete, got %v", res.Err)
	}
}

func TestUploadSuccess(t *testing.T) {
	lb := transport.NewLoopback(transport.LoopbackOptions{Latency: 20 * time.Millisecond})
	defer lb.Close()
	c := New(lb.Device("dev1"), Config{Now: fixedNow})
	path := writeSource(t, "scan.jpg", "jpegdata")

	res := c.Upload(context.Background(), "dev1", path, Options{Deadline: time.Second, PollInterval: 10 * time.Millisecond})
	if res.Status != StatusOK || res.Err != nil {
		t.Fatalf("expected ok, got %v / %v", res.Status, res.Err)
	}
	if res.Job.DestinationName != "dev1_20240102030405_scan.jpg" || res.Job.SizeBytes != 8 {
		t.Fatalf("unexpected job %+v", res.Job)
	}
	sent := lb.Sent()
	if len(sent) != 1 || sent[0].Kind != transport.SentBlob || sent[0].Target != res.Job.DestinationName || string(sent[0].Blob) != "jpegdata" {
		t.Fatalf("unexpected submission %+v", sent)
	}
}

func TestUploadTimeout(t *testing.T) {
	lb := transport.NewLoopback(transport.LoopbackOptions{Latency: time.Hour})
	c := New(lb.Device("dev1"), Config{Now: fixedNow})
	path := writeSource(t, "scan.jpg", "x")

	start := time.Now()
	res := c.Upload(context.Background(), "dev1", path, Options{Deadline: 200 * time.Millisecond, PollInterval: 50 * time.Millisecond})
	elapsed := time.Since(start)
	if res.Status != StatusTimeout || !errors.Is(res.Err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v / %v", res.Status, res.Err)
	}
	if elapsed < 200*time.Millisecond || elapsed > 400*time.Millisecond {
		t.Fatalf("timeout took %v", elapsed)
	}
	// the outstanding completion arrives late and is ignored
	lb.Close()
}

func TestUploadTransportFailure(t *testing.T) {
	boom := errors.New("storage unavailable")
	lb := transport.NewLoopback(transport.LoopbackOptions{Fail: func(string) error { return boom }})
	defer lb.Close()
	c := New(lb.Device("dev1"), Config{})
	res := c.Upload(context.Background(), "dev1", writeSource(t, "a.bin", "x"), Options{Deadline: time.Second})
	if res.Status != StatusTransport || !errors.Is(res.Err, boom) {
		t.Fatalf("expected transport error, got %v / %v", res.Status, res.Err)
	}
}

func TestUploadSubmitRejected(t *testing.T) {
	lb := transport.NewLoopback(transport.LoopbackOptions{Reject: func(string) error { return errors.New("quota") }})
	defer lb.Close()
	c := New(lb.Device("dev1"), Config{})
	res := c.Upload(context.Background(), "dev1", writeSource(t, "a.bin", "x"), Options{Deadline: time.Second})
	if res.Status != StatusTransport || !errors.Is(res.Err, ErrSubmit) {
		t.Fatalf("expected submit error, got %v / %v", res.Status, res.Err)
	}
}

func TestUploadBusy(t *testing.T) {
	lb := transport.NewLoopback(transport.LoopbackOptions{Latency: time.Hour})
	defer lb.Close()
	c := New(lb.Device("dev1"), Config{})
	path := writeSource(t, "a.bin", "x")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Upload(context.Background(), "dev1", path, Options{Deadline: 300 * time.Millisecond})
	}()
	deadline := time.Now().Add(time.Second)
	for len(lb.Sent()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	res := c.Upload(context.Background(), "dev1", path, Options{})
	if res.Status != StatusBusy || !errors.Is(res.Err, ErrBusy) {
		t.Fatalf("expected busy, got %v / %v", res.Status, res.Err)
	}
	wg.Wait()
}

func TestUploadCancelled(t *testing.T) {
	lb := transport.NewLoopback(transport.LoopbackOptions{Latency: time.Hour})
	defer lb.Close()
	c := New(lb.Device("dev1"), Config{})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	res := c.Upload(ctx, "dev1", writeSource(t, "a.bin", "x"), Options{Deadline: 5 * time.Second})
	if res.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %v / %v", res.Status, res.Err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("cancellation took %v", time.Since(start))
	}
}

func TestUploadLogsProgress(t *testing.T) {
	buf := &bytes.Buffer{}
	log := slog.New(slog.NewTextHandler(buf, nil))
	lb := transport.NewLoopback(transport.LoopbackOptions{Latency: time.Hour})
	defer lb.Close()
	c := New(lb.Device("dev1"), Config{Log: log})

	c.Upload(context.Background(), "dev1", writeSource(t, "a.bin", "x"), Options{Deadline: 250 * time.Millisecond, PollInterval: 10 * time.Millisecond})
	out := buf.String()
	if !strings.Contains(out, "waiting for upload confirmation") {
		t.Fatalf("progress not logged: %q", out)
	}
	if !strings.Contains(out, "left outstanding") {
		t.Fatalf("timeout gap not logged: %q", out)
	}
}
