// Package transport delivers messages and blobs for devices and the console.
//
// Every submit call takes a completion callback. Implementations invoke it
// exactly once, from a goroutine they own, after the submit call has returned
// nil. A non-nil return from the submit call means the callback will never run.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"medfleet-sim/internal/config"
	"medfleet-sim/internal/payload"
)

var (
	// ErrSubmit wraps synchronous rejections of a submit call.
	ErrSubmit = errors.New("transport rejected submission")
	// ErrClosed is reported for operations outstanding when a transport closes.
	ErrClosed = errors.New("transport closed")
	// ErrUnsupported is returned for operations a transport cannot perform.
	ErrUnsupported = errors.New("operation not supported by transport")
)

// EventSender submits device-to-cloud telemetry.
type EventSender interface {
	SendEvent(ctx context.Context, msg payload.Message, done func(error)) error
}

// BlobUploader submits file content under a destination name.
type BlobUploader interface {
	UploadBlob(ctx context.Context, name string, data []byte, done func(error)) error
}

// CommandReceiver registers the handler for cloud-to-device commands.
type CommandReceiver interface {
	OnCommand(func(payload.Message))
}

// CommandSender submits a cloud-to-device command to one device.
type CommandSender interface {
	SendCommand(ctx context.Context, deviceID string, msg payload.Message, done func(error)) error
}

// Device is the simulator side of a transport.
type Device interface {
	EventSender
	BlobUploader
	CommandReceiver
	io.Closer
}

// Service is the console side of a transport.
type Service interface {
	CommandSender
	ListDevices(ctx context.Context) ([]string, error)
	io.Closer
}

// ConnectionState is reported for logging only.
type ConnectionState int

// Connection states.
const (
	Disconnected ConnectionState = iota
	Authenticated
)

func (s ConnectionState) String() string {
	if s == Authenticated {
		return "authenticated"
	}
	return "disconnected"
}

// Options carries the settings shared by every implementation.
type Options struct {
	Log *slog.Logger
	// OnConnectionChange, if set, observes connection state transitions.
	OnConnectionChange func(ConnectionState)
	// Loopback configures the in-memory transport.
	Loopback LoopbackOptions
}

func (o Options) logger() *slog.Logger {
	if o.Log != nil {
		return o.Log
	}
	return slog.Default()
}

func (o Options) connectionChanged(s ConnectionState) {
	o.logger().Info("connection status changed", "state", s.String())
	if o.OnConnectionChange != nil {
		o.OnConnectionChange(s)
	}
}

// Transport names accepted in the Transport key of a connection string.
const (
	KindMQTT     = "mqtt"
	KindRedis    = "redis"
	KindLoopback = "loopback"
)

// OpenDevice connects the simulator for deviceID using the transport named in cs.
func OpenDevice(ctx context.Context, cs ConnectionString, deviceID string, opts Options) (Device, error) {
	if cs.DeviceID != "" && cs.DeviceID != deviceID {
		return nil, fmt.Errorf("%w: connection string is for device %q, not %q", config.ErrConfig, cs.DeviceID, deviceID)
	}
	switch cs.Kind() {
	case KindMQTT:
		return DialMQTTDevice(ctx, cs, deviceID, opts)
	case KindRedis:
		return DialRedisDevice(ctx, cs, deviceID, opts)
	case KindLoopback:
		lb := NewLoopback(opts.Loopback)
		opts.connectionChanged(Authenticated)
		return lb.Device(deviceID), nil
	default:
		return nil, fmt.Errorf("%w: unknown transport %q", config.ErrConfig, cs.Transport)
	}
}

// OpenService connects the management console using the transport named in cs.
func OpenService(ctx context.Context, cs ConnectionString, opts Options) (Service, error) {
	switch cs.Kind() {
	case KindMQTT:
		return DialMQTTService(ctx, cs, opts)
	case KindRedis:
		return DialRedisService(ctx, cs, opts)
	case KindLoopback:
		opts.connectionChanged(Authenticated)
		return NewLoopback(opts.Loopback), nil
	default:
		return nil, fmt.Errorf("%w: unknown transport %q", config.ErrConfig, cs.Transport)
	}
}

func submitError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrSubmit, op, err)
}
