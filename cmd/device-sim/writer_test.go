package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"medfleet-sim/internal/config"
	"medfleet-sim/internal/report"
)

func TestNewReporterAutoNonTerminal(t *testing.T) {
	r, cleanup, err := newReporter(&bytes.Buffer{}, outputAuto, "", nil, false)
	if err != nil {
		t.Fatalf("newReporter returned error: %v", err)
	}
	defer cleanup()
	if _, ok := r.(*report.JSON); !ok {
		t.Fatalf("expected *report.JSON, got %T", r)
	}
}

func TestNewReporterAutoTerminal(t *testing.T) {
	r, cleanup, err := newReporter(&bytes.Buffer{}, outputAuto, "", nil, true)
	if err != nil {
		t.Fatalf("newReporter returned error: %v", err)
	}
	defer cleanup()
	if _, ok := r.(*report.Console); !ok {
		t.Fatalf("expected *report.Console, got %T", r)
	}
}

func TestNewReporterUnknown(t *testing.T) {
	if _, _, err := newReporter(&bytes.Buffer{}, "xml", "", nil, false); !errors.Is(err, config.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestNewReporterLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	r, cleanup, err := newReporter(&bytes.Buffer{}, outputJSON, path, nil, false)
	if err != nil {
		t.Fatalf("newReporter returned error: %v", err)
	}
	if _, ok := r.(*report.Multi); !ok {
		t.Fatalf("expected *report.Multi, got %T", r)
	}
	if err := r.Report(report.Outcome(report.KindUpload, "dev1", nil)); err != nil {
		t.Fatalf("report failed: %v", err)
	}
	cleanup()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if info.Size() == 0 {
		t.Fatalf("expected log file to be non-empty")
	}
}

func TestParseInterval(t *testing.T) {
	def := 5 * time.Second
	cases := []struct {
		args []string
		want time.Duration
	}{
		{[]string{"dev1", "telemetry"}, def},
		{[]string{"dev1", "telemetry", "250"}, 250 * time.Millisecond},
		{[]string{"dev1", "telemetry", "0"}, def},
		{[]string{"dev1", "telemetry", "-10"}, def},
	}
	for _, c := range cases {
		got, err := parseInterval(c.args, def)
		if err != nil || got != c.want {
			t.Errorf("parseInterval(%v) = %v, %v; want %v", c.args, got, err, c.want)
		}
	}
	if _, err := parseInterval([]string{"dev1", "telemetry", "soon"}, def); !errors.Is(err, config.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}
