package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"medfleet-sim/internal/config"
)

func execute(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	if args == nil {
		args = []string{}
	}
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestMissingConnectionString(t *testing.T) {
	t.Setenv("ICU_DEVICE01_CONNECTION_STRING", "")
	out, err := execute(t, context.Background(), "icu-device01", "telemetry")
	if !errors.Is(err, config.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
	if !strings.Contains(out, "export ICU_DEVICE01_CONNECTION_STRING=") {
		t.Fatalf("usage hint missing: %q", out)
	}
}

func TestUnknownMode(t *testing.T) {
	if _, err := execute(t, context.Background(), "dev1", "dance"); !errors.Is(err, config.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
	if _, err := execute(t, context.Background(), "dev1", "upload"); !errors.Is(err, config.ErrConfig) {
		t.Fatalf("expected ErrConfig for missing path, got %v", err)
	}
}

func TestTelemetryModeOverLoopback(t *testing.T) {
	t.Setenv("DEV1_CONNECTION_STRING", "Transport=loopback")
	t.Setenv("TELEMETRY_INTERVAL", "")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	out, err := execute(t, ctx, "dev1", "telemetry", "10", "--output", "json")
	if err != nil {
		t.Fatalf("telemetry mode failed: %v", err)
	}
	if !strings.Contains(out, `"kind":"telemetry"`) || !strings.Contains(out, `"deviceId":"dev1"`) {
		t.Fatalf("no telemetry output: %q", out)
	}
}

func TestUploadModeOverLoopback(t *testing.T) {
	t.Setenv("DEV1_CONNECTION_STRING", "Transport=loopback")
	path := filepath.Join(t.TempDir(), "scan.jpg")
	if err := os.WriteFile(path, []byte("jpeg"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := execute(t, context.Background(), "dev1", "upload", path, "--output", "json")
	if err != nil {
		t.Fatalf("upload mode failed: %v", err)
	}
	if !strings.Contains(out, "Uploaded") || !strings.Contains(out, "dev1_") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestUploadModeMissingFile(t *testing.T) {
	t.Setenv("DEV1_CONNECTION_STRING", "Transport=loopback")
	_, err := execute(t, context.Background(), "dev1", "upload", filepath.Join(t.TempDir(), "nope"), "--output", "json")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestReplayModeOverLoopback(t *testing.T) {
	t.Setenv("DEV1_CONNECTION_STRING", "Transport=loopback")
	dir := t.TempDir()
	logPath := filepath.Join(dir, "events.jsonl")

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	if _, err := execute(t, ctx, "dev1", "telemetry", "10", "--output", "json", "--log-file", logPath); err != nil {
		t.Fatalf("record: %v", err)
	}

	t.Setenv("DEV2_CONNECTION_STRING", "")
	out, err := execute(t, context.Background(), "dev2", "replay", logPath, "--speed", "0", "--output", "json")
	if err == nil {
		t.Fatalf("expected error: DEV2 connection string unset, got output %q", out)
	}

	t.Setenv("DEV2_CONNECTION_STRING", "Transport=loopback")
	out, err = execute(t, context.Background(), "dev2", "replay", logPath, "--speed", "0", "--output", "json")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !strings.Contains(out, `"deviceId":"dev2"`) {
		t.Fatalf("replayed telemetry missing: %q", out)
	}
}

func TestRejectsBadRates(t *testing.T) {
	t.Setenv("DEV1_CONNECTION_STRING", "Transport=loopback")
	_, err := execute(t, context.Background(), "dev1", "telemetry", "--warning-rate", "80", "--critical-rate", "30")
	if !errors.Is(err, config.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}
