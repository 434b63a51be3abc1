package transport

import (
	"fmt"
	"strings"

	"medfleet-sim/internal/config"
)

// ConnectionString is a parsed "Key=Value;Key=Value" connection string.
type ConnectionString struct {
	HostName        string
	DeviceID        string
	SharedAccessKey string
	Transport       string
	// Extra holds keys not recognised above.
	Extra map[string]string
}

// ParseConnectionString parses s. Keys are matched case-insensitively and
// HostName is required.
func ParseConnectionString(s string) (ConnectionString, error) {
	var cs ConnectionString
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return ConnectionString{}, fmt.Errorf("%w: malformed connection string segment %q", config.ErrConfig, part)
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(key) {
		case "hostname":
			cs.HostName = value
		case "deviceid":
			cs.DeviceID = value
		case "sharedaccesskey":
			cs.SharedAccessKey = value
		case "transport":
			cs.Transport = strings.ToLower(value)
		default:
			if cs.Extra == nil {
				cs.Extra = make(map[string]string)
			}
			cs.Extra[key] = value
		}
	}
	if cs.HostName == "" && cs.Kind() != KindLoopback {
		return ConnectionString{}, fmt.Errorf("%w: connection string missing HostName", config.ErrConfig)
	}
	return cs, nil
}

// Kind returns the transport name, defaulting to mqtt.
func (cs ConnectionString) Kind() string {
	if cs.Transport == "" {
		return KindMQTT
	}
	return cs.Transport
}

// String renders the connection string with the key redacted.
func (cs ConnectionString) String() string {
	parts := []string{"HostName=" + cs.HostName}
	if cs.DeviceID != "" {
		parts = append(parts, "DeviceId="+cs.DeviceID)
	}
	if cs.SharedAccessKey != "" {
		parts = append(parts, "SharedAccessKey=***")
	}
	if cs.Transport != "" {
		parts = append(parts, "Transport="+cs.Transport)
	}
	return strings.Join(parts, ";")
}

func (cs ConnectionString) address(scheme, defaultPort string) string {
	host := cs.HostName
	if i := strings.Index(host, "://"); i >= 0 {
		if scheme == "" {
			host = host[i+3:]
		} else {
			return host
		}
	}
	if !strings.Contains(host, ":") {
		host += ":" + defaultPort
	}
	if scheme != "" {
		return scheme + "://" + host
	}
	return host
}
