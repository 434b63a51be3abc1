package config

import (
	"fmt"
	"os"
	"strings"
)

// ServiceConnectionEnv names the console's connection string variable.
const ServiceConnectionEnv = "IOTHUB_CONNECTION_STRING"

// DeviceConnectionEnv returns the env var holding a device's connection string:
// the device id upper-cased with hyphens replaced by underscores.
func DeviceConnectionEnv(deviceID string) string {
	return strings.ReplaceAll(strings.ToUpper(deviceID), "-", "_") + "_CONNECTION_STRING"
}

// MissingEnvError reports an unset connection string variable.
type MissingEnvError struct {
	Name string
}

func (e *MissingEnvError) Error() string {
	return fmt.Sprintf("environment variable not set: %s", e.Name)
}

// Unwrap lets errors.Is match ErrConfig.
func (e *MissingEnvError) Unwrap() error { return ErrConfig }

// Hint is the usage hint printed for the operator.
func (e *MissingEnvError) Hint() string {
	return fmt.Sprintf("Please set it using:\nexport %s=\"HostName=...\"", e.Name)
}

// DeviceConnectionString reads the connection string for deviceID.
func DeviceConnectionString(deviceID string) (string, error) {
	return lookup(DeviceConnectionEnv(deviceID))
}

// ServiceConnectionString reads the management console connection string.
func ServiceConnectionString() (string, error) {
	return lookup(ServiceConnectionEnv)
}

func lookup(name string) (string, error) {
	v := os.Getenv(name)
	if v == "" {
		return "", &MissingEnvError{Name: name}
	}
	return v, nil
}
