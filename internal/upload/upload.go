// Package upload coordinates a single blob transfer and waits for its completion.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"medfleet-sim/internal/gate"
	"medfleet-sim/internal/report"
	"medfleet-sim/internal/transport"
)

// Defaults for Options.
const (
	DefaultDeadline     = 60 * time.Second
	DefaultPollInterval = time.Second
	// progressEvery is the number of polls between progress log lines.
	progressEvery = 10
)

var (
	// ErrNotFound is returned when the source file does not exist.
	ErrNotFound = errors.New("upload source not found")
	// ErrReadIncomplete is returned when the source could not be read in full.
	ErrReadIncomplete = errors.New("upload source read incomplete")
	// ErrBusy is returned when an upload is already in flight on the coordinator.
	ErrBusy = errors.New("upload already in flight")
	// ErrTimeout is returned when no completion arrives before the deadline.
	ErrTimeout = gate.ErrTimeout
	// ErrSubmit is returned when the transport rejects the blob.
	ErrSubmit = transport.ErrSubmit
)

// Status classifies the result of an upload.
type Status string

// Upload result statuses.
const (
	StatusOK        Status = "ok"
	StatusTimeout   Status = "timeout"
	StatusIOError   Status = "ioError"
	StatusTransport Status = "transportError"
	StatusCancelled Status = "cancelled"
	StatusBusy      Status = "busy"
)

// Options bound a single upload.
type Options struct {
	Deadline     time.Duration
	PollInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.Deadline <= 0 {
		o.Deadline = DefaultDeadline
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	return o
}

// Job is the in-flight transfer.
type Job struct {
	SourcePath      string
	DestinationName string
	Payload         []byte
	SizeBytes       int
	Deadline        time.Duration
}

// Result is the outcome of Upload.
type Result struct {
	Status  Status
	Job     Job
	Err     error
	Elapsed time.Duration
}

// Config wires a Coordinator.
type Config struct {
	Log      *slog.Logger
	Reporter report.Reporter
	// Now supplies the clock for destination names. Defaults to time.Now.
	Now func() time.Time
}

// Coordinator performs at most one upload at a time.
type Coordinator struct {
	up       transport.BlobUploader
	gate     *gate.Gate
	busy     atomic.Bool
	log      *slog.Logger
	reporter report.Reporter
	now      func() time.Time
}

// New creates a Coordinator submitting through up.
func New(up transport.BlobUploader, cfg Config) *Coordinator {
	c := &Coordinator{
		up:       up,
		gate:     gate.New(),
		log:      cfg.Log,
		reporter: cfg.Reporter,
		now:      cfg.Now,
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.reporter == nil {
		c.reporter = report.Nop{}
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.gate.OnLate = func(err error) {
		c.log.Warn("upload completion arrived after its wait ended; ignored", "error", err)
	}
	return c
}

// DestinationName derives {deviceID}_{yyyyMMddHHmmss}_{base} using UTC.
func DestinationName(deviceID, base string, now time.Time) string {
	return fmt.Sprintf("%s_%s_%s", deviceID, now.UTC().Format("20060102150405"), base)
}

// Upload reads filePath and submits it as a blob for deviceID, then waits for
// the transport's completion up to opts.Deadline. On timeout the submitted
// operation is left outstanding: no abort is sent to the transport.
func (c *Coordinator) Upload(ctx context.Context, deviceID, filePath string, opts Options) Result {
	if !c.busy.CompareAndSwap(false, true) {
		return Result{Status: StatusBusy, Err: ErrBusy}
	}
	defer c.busy.Store(false)

	opts = opts.withDefaults()
	start := time.Now()
	log := c.log.With("device", deviceID, "file", filePath)

	res := c.upload(ctx, log, deviceID, filePath, opts)
	res.Elapsed = time.Since(start)

	if res.Err != nil {
		log.Error("upload failed", "status", res.Status, "error", res.Err, "elapsed", res.Elapsed)
	} else {
		log.Info("upload completed", "blob", res.Job.DestinationName, "bytes", res.Job.SizeBytes, "elapsed", res.Elapsed)
	}
	e := report.Outcome(report.KindUpload, deviceID, res.Err)
	if res.Job.DestinationName != "" {
		e.Detail = fmt.Sprintf("blob=%s bytes=%d", res.Job.DestinationName, res.Job.SizeBytes)
	}
	if err := c.reporter.Report(e); err != nil {
		log.Warn("report failed", "error", err)
	}
	return res
}

func (c *Coordinator) upload(ctx context.Context, log *slog.Logger, deviceID, filePath string, opts Options) Result {
	data, err := readSource(filePath)
	if err != nil {
		return Result{Status: StatusIOError, Job: Job{SourcePath: filePath}, Err: err}
	}
	job := Job{
		SourcePath:      filePath,
		DestinationName: DestinationName(deviceID, filepath.Base(filePath), c.now()),
		Payload:         data,
		SizeBytes:       len(data),
		Deadline:        opts.Deadline,
	}
	log.Info("uploading", "blob", job.DestinationName, "bytes", job.SizeBytes, "deadline", job.Deadline)

	notify := c.gate.Reset()
	if err := c.up.UploadBlob(ctx, job.DestinationName, job.Payload, notify); err != nil {
		return Result{Status: StatusTransport, Job: job, Err: err}
	}

	polls := 0
	out := c.gate.Await(ctx, gate.WaitOptions{
		Deadline:     opts.Deadline,
		PollInterval: opts.PollInterval,
		OnPoll: func(remaining time.Duration) {
			polls++
			if polls%progressEvery == 0 {
				log.Info("waiting for upload confirmation", "remaining", remaining.Round(time.Second))
			}
		},
	})

	switch out.Reason {
	case gate.ReasonNone:
		return Result{Status: StatusOK, Job: job}
	case gate.ReasonTimeout:
		log.Warn("upload timed out; transport operation left outstanding", "deadline", opts.Deadline)
		return Result{Status: StatusTimeout, Job: job, Err: ErrTimeout}
	case gate.ReasonCancelled:
		return Result{Status: StatusCancelled, Job: job, Err: out.Err}
	default:
		return Result{Status: StatusTransport, Job: job, Err: out.Err}
	}
}

func readSource(path string) ([]byte, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: %v", ErrReadIncomplete, err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrReadIncomplete, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadIncomplete, err)
	}
	defer f.Close()

	buf := make([]byte, fi.Size())
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadIncomplete, err)
	}
	return buf, nil
}
