package transport

import (
	"context"
	"errors"
	"strings"
	"testing"

	"medfleet-sim/internal/config"
)

func TestParseConnectionString(t *testing.T) {
	cs, err := ParseConnectionString("HostName=hub.example.net;DeviceId=icu-device01;SharedAccessKey=abc=;Transport=Redis;GatewayHostName=gw")
	if err != nil {
		t.Fatalf("ParseConnectionString: %v", err)
	}
	if cs.HostName != "hub.example.net" || cs.DeviceID != "icu-device01" {
		t.Fatalf("unexpected parse %+v", cs)
	}
	// base64 keys keep their padding
	if cs.SharedAccessKey != "abc=" {
		t.Fatalf("unexpected key %q", cs.SharedAccessKey)
	}
	if cs.Kind() != KindRedis {
		t.Fatalf("unexpected kind %q", cs.Kind())
	}
	if cs.Extra["GatewayHostName"] != "gw" {
		t.Fatalf("extra keys lost: %v", cs.Extra)
	}
	if strings.Contains(cs.String(), "abc") {
		t.Fatalf("String() leaked key: %s", cs)
	}
}

func TestParseConnectionStringErrors(t *testing.T) {
	for _, in := range []string{"", "DeviceId=x", "HostName=h;garbage", "=value;HostName=h"} {
		if _, err := ParseConnectionString(in); !errors.Is(err, config.ErrConfig) {
			t.Errorf("ParseConnectionString(%q) error = %v, want ErrConfig", in, err)
		}
	}
}

func TestParseConnectionStringDefaults(t *testing.T) {
	cs, err := ParseConnectionString("HostName=broker")
	if err != nil {
		t.Fatalf("ParseConnectionString: %v", err)
	}
	if cs.Kind() != KindMQTT {
		t.Fatalf("default kind = %q", cs.Kind())
	}
	if got := cs.address("tcp", "1883"); got != "tcp://broker:1883" {
		t.Fatalf("mqtt address = %q", got)
	}
	if got := cs.address("", "6379"); got != "broker:6379" {
		t.Fatalf("redis address = %q", got)
	}

	lb, err := ParseConnectionString("Transport=loopback")
	if err != nil || lb.Kind() != KindLoopback {
		t.Fatalf("loopback parse: %+v, %v", lb, err)
	}
}

func TestOpenDeviceRejectsMismatchedDevice(t *testing.T) {
	cs := ConnectionString{DeviceID: "icu-device01", Transport: KindLoopback}
	if _, err := OpenDevice(context.Background(), cs, "icu-device02", Options{}); !errors.Is(err, config.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
	cs.Transport = "carrier-pigeon"
	if _, err := OpenDevice(context.Background(), cs, "icu-device01", Options{}); !errors.Is(err, config.ErrConfig) {
		t.Fatalf("expected ErrConfig for unknown transport, got %v", err)
	}
}

func TestOpenLoopback(t *testing.T) {
	var states []ConnectionState
	opts := Options{OnConnectionChange: func(s ConnectionState) { states = append(states, s) }}
	dev, err := OpenDevice(context.Background(), ConnectionString{Transport: KindLoopback}, "dev1", opts)
	if err != nil {
		t.Fatalf("OpenDevice: %v", err)
	}
	defer dev.Close()
	if len(states) != 1 || states[0] != Authenticated {
		t.Fatalf("unexpected connection states %v", states)
	}
}
