package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"medfleet-sim/internal/payload"
)

// Redis key layout.
const (
	telemetryStreamPrefix = "telemetry:"
	commandStreamPrefix   = "c2d:"
	blobKeyPrefix         = "blob:"
)

const (
	redisReadBlock  = 500 * time.Millisecond
	redisRetryPause = time.Second
)

type redisClient struct {
	client *redis.Client
	opts   Options

	// ctx scopes transport-owned goroutines; cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	// closeMu orders wg.Add against Close.
	closeMu sync.Mutex
	closed  bool
	wg      sync.WaitGroup
}

func dialRedis(ctx context.Context, cs ConnectionString, opts Options) (*redisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cs.address("", "6379"),
		Password: cs.SharedAccessKey,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	rc := &redisClient{client: client, opts: opts}
	rc.ctx, rc.cancel = context.WithCancel(context.Background())
	opts.connectionChanged(Authenticated)
	return rc, nil
}

// async runs op on a transport-owned goroutine and hands its error to done.
func (r *redisClient) async(ctx context.Context, what string, op func(context.Context) error, done func(error)) error {
	if err := ctx.Err(); err != nil {
		return submitError(what, err)
	}
	if !r.track() {
		return submitError(what, ErrClosed)
	}
	go func() {
		defer r.wg.Done()
		err := op(r.ctx)
		if errors.Is(err, context.Canceled) {
			err = ErrClosed
		}
		done(err)
	}()
	return nil
}

// track registers a transport-owned goroutine, or reports false once closed.
func (r *redisClient) track() bool {
	r.closeMu.Lock()
	defer r.closeMu.Unlock()
	if r.closed {
		return false
	}
	r.wg.Add(1)
	return true
}

func (r *redisClient) Close() error {
	r.closeMu.Lock()
	if r.closed {
		r.closeMu.Unlock()
		return nil
	}
	r.closed = true
	r.closeMu.Unlock()
	r.cancel()
	r.wg.Wait()
	err := r.client.Close()
	r.opts.connectionChanged(Disconnected)
	return err
}

func messageValues(msg payload.Message) map[string]interface{} {
	return map[string]interface{}{
		"messageId":       msg.MessageID,
		"correlationId":   msg.CorrelationID,
		"contentType":     msg.ContentType,
		"contentEncoding": msg.ContentEncoding,
		"body":            string(msg.Payload),
	}
}

func valuesMessage(values map[string]interface{}) payload.Message {
	str := func(k string) string {
		s, _ := values[k].(string)
		return s
	}
	return payload.Message{
		MessageID:       str("messageId"),
		CorrelationID:   str("correlationId"),
		ContentType:     str("contentType"),
		ContentEncoding: str("contentEncoding"),
		Payload:         []byte(str("body")),
	}
}

type redisDevice struct {
	*redisClient
	id string

	once    sync.Once
	mu      sync.Mutex
	handler func(payload.Message)
}

// DialRedisDevice connects a device to Redis streams.
func DialRedisDevice(ctx context.Context, cs ConnectionString, deviceID string, opts Options) (Device, error) {
	rc, err := dialRedis(ctx, cs, opts)
	if err != nil {
		return nil, err
	}
	return &redisDevice{redisClient: rc, id: deviceID}, nil
}

func (d *redisDevice) SendEvent(ctx context.Context, msg payload.Message, done func(error)) error {
	values := messageValues(msg)
	return d.async(ctx, "send event", func(ctx context.Context) error {
		return d.client.XAdd(ctx, &redis.XAddArgs{
			Stream: telemetryStreamPrefix + d.id,
			Values: values,
		}).Err()
	}, done)
}

func (d *redisDevice) UploadBlob(ctx context.Context, name string, data []byte, done func(error)) error {
	body := append([]byte(nil), data...)
	return d.async(ctx, "upload blob", func(ctx context.Context) error {
		return d.client.Set(ctx, blobKeyPrefix+name, body, 0).Err()
	}, done)
}

// OnCommand installs h and starts reading the device's command stream.
// Only commands added after the first registration are delivered.
func (d *redisDevice) OnCommand(h func(payload.Message)) {
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()
	d.once.Do(func() {
		last := d.lastCommandID()
		if d.track() {
			go d.readCommands(last)
		}
	})
}

func (d *redisDevice) lastCommandID() string {
	msgs, err := d.client.XRevRangeN(d.ctx, commandStreamPrefix+d.id, "+", "-", 1).Result()
	if err != nil || len(msgs) == 0 {
		return "0-0"
	}
	return msgs[0].ID
}

func (d *redisDevice) readCommands(last string) {
	defer d.wg.Done()
	stream := commandStreamPrefix + d.id
	log := d.opts.logger().With("stream", stream)
	for d.ctx.Err() == nil {
		res, err := d.client.XRead(d.ctx, &redis.XReadArgs{
			Streams: []string{stream, last},
			Block:   redisReadBlock,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if d.ctx.Err() != nil {
				return
			}
			log.Warn("command stream read failed", "error", err)
			select {
			case <-time.After(redisRetryPause):
			case <-d.ctx.Done():
				return
			}
			continue
		}
		for _, s := range res {
			for _, m := range s.Messages {
				last = m.ID
				d.mu.Lock()
				h := d.handler
				d.mu.Unlock()
				if h != nil {
					h(valuesMessage(m.Values))
				}
			}
		}
	}
}

type redisService struct {
	*redisClient
}

// DialRedisService connects the console to Redis streams.
func DialRedisService(ctx context.Context, cs ConnectionString, opts Options) (Service, error) {
	rc, err := dialRedis(ctx, cs, opts)
	if err != nil {
		return nil, err
	}
	return &redisService{redisClient: rc}, nil
}

func (s *redisService) SendCommand(ctx context.Context, deviceID string, msg payload.Message, done func(error)) error {
	values := messageValues(msg)
	return s.async(ctx, "send command", func(ctx context.Context) error {
		return s.client.XAdd(ctx, &redis.XAddArgs{
			Stream: commandStreamPrefix + deviceID,
			Values: values,
		}).Err()
	}, done)
}

// ListDevices returns the ids of every device with a telemetry stream, sorted.
func (s *redisService) ListDevices(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.client.Scan(ctx, 0, telemetryStreamPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), telemetryStreamPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan telemetry streams: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}
