package transport

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"medfleet-sim/internal/payload"
)

const (
	mqttQoS            = 1
	mqttConnectTimeout = 10 * time.Second
	mqttDisconnectMs   = 250
)

// Topic layout.
func eventsTopic(deviceID string) string { return "devices/" + deviceID + "/messages/events/" }
func filesTopic(deviceID, name string) string {
	return "devices/" + deviceID + "/files/" + name
}
func deviceboundTopic(deviceID string) string {
	return "devices/" + deviceID + "/messages/devicebound/"
}

// encodeProperties appends message system properties to a topic.
func encodeProperties(msg payload.Message) string {
	v := url.Values{}
	if msg.MessageID != "" {
		v.Set("$.mid", msg.MessageID)
	}
	if msg.CorrelationID != "" {
		v.Set("$.cid", msg.CorrelationID)
	}
	if msg.ContentType != "" {
		v.Set("$.ct", msg.ContentType)
	}
	if msg.ContentEncoding != "" {
		v.Set("$.ce", msg.ContentEncoding)
	}
	return v.Encode()
}

// decodeProperties rebuilds a Message from a devicebound topic and body.
func decodeProperties(topic string, body []byte) payload.Message {
	msg := payload.Message{Payload: append([]byte(nil), body...)}
	i := strings.Index(topic, "/messages/devicebound/")
	if i < 0 {
		return msg
	}
	props, err := url.ParseQuery(topic[i+len("/messages/devicebound/"):])
	if err != nil {
		return msg
	}
	msg.MessageID = props.Get("$.mid")
	msg.CorrelationID = props.Get("$.cid")
	msg.ContentType = props.Get("$.ct")
	msg.ContentEncoding = props.Get("$.ce")
	return msg
}

type mqttClient struct {
	client mqtt.Client
	opts   Options
	wg     sync.WaitGroup
}

func dialMQTT(ctx context.Context, cs ConnectionString, clientID, username string, opts Options) (*mqttClient, error) {
	c := &mqttClient{opts: opts}

	mo := mqtt.NewClientOptions()
	mo.AddBroker(cs.address("tcp", "1883"))
	mo.SetClientID(clientID)
	mo.SetUsername(username)
	if cs.SharedAccessKey != "" {
		mo.SetPassword(cs.SharedAccessKey)
	}
	mo.SetAutoReconnect(true)
	mo.SetCleanSession(true)
	mo.SetConnectTimeout(mqttConnectTimeout)
	mo.SetOnConnectHandler(c.onConnect)
	mo.SetConnectionLostHandler(c.onConnectionLost)

	c.client = mqtt.NewClient(mo)
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *mqttClient) onConnect(mqtt.Client) {
	c.opts.connectionChanged(Authenticated)
}

func (c *mqttClient) onConnectionLost(_ mqtt.Client, err error) {
	c.opts.logger().Warn("mqtt connection lost", "error", err)
	c.opts.connectionChanged(Disconnected)
}

// connect dials the broker. A cancelled ctx disconnects the client so a
// late connect does not leave it open.
func (c *mqttClient) connect(ctx context.Context) error {
	if err := waitToken(ctx, c.client.Connect()); err != nil {
		c.client.Disconnect(0)
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return nil
}

// waitToken blocks until token completes or ctx is done.
func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// publish submits body and watches the token from a dedicated goroutine.
func (c *mqttClient) publish(topic string, body []byte, done func(error)) error {
	if !c.client.IsConnectionOpen() {
		return submitError("publish "+topic, ErrClosed)
	}
	token := c.client.Publish(topic, mqttQoS, false, body)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		<-token.Done()
		done(token.Error())
	}()
	return nil
}

func (c *mqttClient) Close() error {
	c.client.Disconnect(mqttDisconnectMs)
	c.wg.Wait()
	c.opts.connectionChanged(Disconnected)
	return nil
}

type mqttDevice struct {
	*mqttClient
	id string

	mu      sync.Mutex
	handler func(payload.Message)
}

// DialMQTTDevice connects a device over MQTT and subscribes to its command topic.
func DialMQTTDevice(ctx context.Context, cs ConnectionString, deviceID string, opts Options) (Device, error) {
	c, err := dialMQTT(ctx, cs, deviceID, cs.HostName+"/"+deviceID, opts)
	if err != nil {
		return nil, err
	}
	return newMQTTDevice(ctx, c, deviceID)
}

func newMQTTDevice(ctx context.Context, c *mqttClient, deviceID string) (*mqttDevice, error) {
	d := &mqttDevice{mqttClient: c, id: deviceID}
	token := c.client.Subscribe(deviceboundTopic(deviceID)+"#", mqttQoS, d.deliver)
	if err := waitToken(ctx, token); err != nil {
		c.client.Disconnect(0)
		return nil, fmt.Errorf("failed to subscribe to commands for %s: %w", deviceID, err)
	}
	return d, nil
}

func (d *mqttDevice) deliver(_ mqtt.Client, m mqtt.Message) {
	d.mu.Lock()
	h := d.handler
	d.mu.Unlock()
	if h != nil {
		h(decodeProperties(m.Topic(), m.Payload()))
	}
}

func (d *mqttDevice) SendEvent(ctx context.Context, msg payload.Message, done func(error)) error {
	if err := ctx.Err(); err != nil {
		return submitError("send event", err)
	}
	return d.publish(eventsTopic(d.id)+encodeProperties(msg), msg.Payload, done)
}

func (d *mqttDevice) UploadBlob(ctx context.Context, name string, data []byte, done func(error)) error {
	if err := ctx.Err(); err != nil {
		return submitError("upload blob", err)
	}
	return d.publish(filesTopic(d.id, name), data, done)
}

func (d *mqttDevice) OnCommand(h func(payload.Message)) {
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()
}

type mqttService struct {
	*mqttClient
}

// DialMQTTService connects the console over MQTT.
func DialMQTTService(ctx context.Context, cs ConnectionString, opts Options) (Service, error) {
	clientID := fmt.Sprintf("medfleet-console-%d", time.Now().UnixNano())
	c, err := dialMQTT(ctx, cs, clientID, cs.HostName+"/service", opts)
	if err != nil {
		return nil, err
	}
	return &mqttService{mqttClient: c}, nil
}

func (s *mqttService) SendCommand(ctx context.Context, deviceID string, msg payload.Message, done func(error)) error {
	if err := ctx.Err(); err != nil {
		return submitError("send command", err)
	}
	return s.publish(deviceboundTopic(deviceID)+encodeProperties(msg), msg.Payload, done)
}

// ListDevices is not available over MQTT: the broker keeps no device registry.
func (s *mqttService) ListDevices(context.Context) ([]string, error) {
	return nil, fmt.Errorf("list devices over mqtt: %w", ErrUnsupported)
}
