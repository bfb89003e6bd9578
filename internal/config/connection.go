package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

var ErrInvalidConnection = errors.New("config: invalid connection")

const (
	TransportTCP = "tcp"
	TransportIPC = "ipc"
)

// Connection is the connection file a front end hands to the kernel.
type Connection struct {
	ControlPort     int    `json:"control_port"`
	ShellPort       int    `json:"shell_port"`
	StdinPort       int    `json:"stdin_port"`
	IOPubPort       int    `json:"iopub_port"`
	HBPort          int    `json:"hb_port"`
	Transport       string `json:"transport"`
	SignatureScheme string `json:"signature_scheme"`
	IP              string `json:"ip"`
	Key             string `json:"key"`
	KernelName      string `json:"kernel_name,omitempty"`
}

// LoadConnection reads and validates a connection file.
func LoadConnection(path string) (Connection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Connection{}, fmt.Errorf("connection load failed (%s): %w", path, err)
	}
	var conn Connection
	if err := json.Unmarshal(data, &conn); err != nil {
		return Connection{}, fmt.Errorf("connection parse failed (%s): %w", path, err)
	}
	if strings.TrimSpace(conn.Transport) == "" {
		conn.Transport = TransportTCP
	}
	if err := conn.Validate(); err != nil {
		return Connection{}, err
	}
	return conn, nil
}

func (c Connection) Validate() error {
	switch c.Transport {
	case TransportTCP, TransportIPC:
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConnection, c.Transport)
	}
	if strings.TrimSpace(c.IP) == "" {
		return fmt.Errorf("%w: ip is required", ErrInvalidConnection)
	}
	if c.Key != "" {
		scheme := strings.ToLower(strings.TrimSpace(c.SignatureScheme))
		if scheme != "" && scheme != "hmac-sha256" {
			return fmt.Errorf("%w: unsupported signature_scheme %q", ErrInvalidConnection, c.SignatureScheme)
		}
	}
	seen := make(map[int]string, 5)
	for _, p := range []struct {
		name string
		port int
	}{
		{"shell_port", c.ShellPort},
		{"control_port", c.ControlPort},
		{"stdin_port", c.StdinPort},
		{"iopub_port", c.IOPubPort},
		{"hb_port", c.HBPort},
	} {
		if p.port <= 0 || p.port > 65535 {
			return fmt.Errorf("%w: %s out of range: %d", ErrInvalidConnection, p.name, p.port)
		}
		if other, dup := seen[p.port]; dup {
			return fmt.Errorf("%w: %s reuses %s port %d", ErrInvalidConnection, p.name, other, p.port)
		}
		seen[p.port] = p.name
	}
	return nil
}

// Endpoint renders the bind address for one of the connection's ports.
func (c Connection) Endpoint(port int) string {
	if c.Transport == TransportIPC {
		return fmt.Sprintf("ipc://%s-%d", c.IP, port)
	}
	return fmt.Sprintf("tcp://%s:%d", c.IP, port)
}
