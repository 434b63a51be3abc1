package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"medfleet-sim/internal/payload"
	"medfleet-sim/internal/report"
)

// Replay re-sends the telemetry events recorded by report.File, as deviceID.
// Spacing between recorded timestamps is divided by speed; speed <= 0 sends
// without delay. Non-telemetry lines are skipped.
func (s *Session) Replay(ctx context.Context, deviceID string, r io.Reader, speed float64) error {
	if err := s.begin(deviceID); err != nil {
		return err
	}
	defer s.Stop()
	log := s.log.With("device", deviceID)
	log.Info("replay started", "speed", speed)

	dec := json.NewDecoder(r)
	var prev time.Time
	for {
		var e report.Event
		if err := dec.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				log.Info("replay finished", "sent", s.Sent())
				return nil
			}
			return fmt.Errorf("decode replay log: %w", err)
		}
		if e.Kind != report.KindTelemetry || len(e.Payload) == 0 {
			continue
		}
		snap, err := payload.DecodeVitals(e.Payload)
		if err != nil {
			log.Warn("skipping unreadable telemetry line", "error", err)
			continue
		}
		if !prev.IsZero() && speed > 0 {
			diff := time.Duration(float64(snap.Timestamp.Sub(prev)) / speed)
			if diff > 0 && !s.sleep(ctx, diff) {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-s.stop:
			return nil
		default:
		}
		prev = snap.Timestamp
		snap.DeviceID = deviceID
		s.tick(ctx, log, snap)
	}
}

// ReplayFile opens path and replays it.
func (s *Session) ReplayFile(ctx context.Context, deviceID, path string, speed float64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return s.Replay(ctx, deviceID, f, speed)
}

// sleep waits d and reports false if the session was cancelled meanwhile.
func (s *Session) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-s.stop:
		return false
	}
}
