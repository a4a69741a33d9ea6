package config

import (
	"fmt"
	"net"
	"time"

	"go.uber.org/multierr"

	"github.com/muurk/lumen/internal/discovery"
	"github.com/muurk/lumen/internal/protocol"
)

// CurrentVersion is the config file format version.
const CurrentVersion = 1

// Config represents the entire user configuration file.
// It holds settings only; discovered devices are never stored.
type Config struct {
	Version   int             `yaml:"version"`
	Transport TransportConfig `yaml:"transport"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Request   RequestConfig   `yaml:"request"`
	Labels    LabelConfig     `yaml:"labels"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Command   CommandConfig   `yaml:"command"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// TransportConfig configures the UDP socket.
type TransportConfig struct {
	Bind       string `yaml:"bind"`        // Local address, e.g. "0.0.0.0:0"
	DevicePort int    `yaml:"device_port"` // Port devices listen on (56700)
	Broadcast  string `yaml:"broadcast"`   // Broadcast IP for discovery
	ReadBuffer int    `yaml:"read_buffer"` // Receive buffer size in bytes
}

// DiscoveryConfig configures device discovery.
type DiscoveryConfig struct {
	Window      time.Duration `yaml:"window"`                 // How long to collect replies
	MDNS        bool          `yaml:"mdns"`                   // Also browse mDNS
	MDNSService string        `yaml:"mdns_service,omitempty"` // mDNS service type
}

// RequestConfig configures correlated requests.
type RequestConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	// TokenLinger is how long an expired token is quarantined. Zero means
	// the request's own timeout.
	TokenLinger time.Duration `yaml:"token_linger,omitempty"`
}

// LabelConfig configures label fetching after discovery.
type LabelConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	Concurrency int           `yaml:"concurrency"`
}

// BridgeConfig configures the background scheduler.
type BridgeConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`
	QueueDepth    int `yaml:"queue_depth"`
}

// CommandConfig configures fire-and-forget commands.
type CommandConfig struct {
	RetryAttempts  int           `yaml:"retry_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	Transition     time.Duration `yaml:"transition"` // Color fade duration
}

// LoggingConfig configures logging. LUMEN_LOG_LEVEL overrides Level.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"`
	File  string `yaml:"file,omitempty"`
}

// Default returns a configuration with every field set.
func Default() *Config {
	return &Config{
		Version: CurrentVersion,
		Transport: TransportConfig{
			Bind:       "0.0.0.0:0",
			DevicePort: protocol.DefaultPort,
			Broadcast:  "255.255.255.255",
			ReadBuffer: 2048,
		},
		Discovery: DiscoveryConfig{
			Window:      2 * time.Second,
			MDNSService: discovery.DefaultServiceType,
		},
		Request: RequestConfig{
			Timeout: time.Second,
		},
		Labels: LabelConfig{
			Timeout:     time.Second,
			Concurrency: 8,
		},
		Bridge: BridgeConfig{
			MaxConcurrent: 16,
			QueueDepth:    256,
		},
		Command: CommandConfig{
			RetryAttempts:  3,
			InitialBackoff: 200 * time.Millisecond,
		},
	}
}

// ApplyDefaults fills zero values from Default.
func (c *Config) ApplyDefaults() {
	d := Default()
	if c.Version == 0 {
		c.Version = d.Version
	}
	if c.Transport.Bind == "" {
		c.Transport.Bind = d.Transport.Bind
	}
	if c.Transport.DevicePort == 0 {
		c.Transport.DevicePort = d.Transport.DevicePort
	}
	if c.Transport.Broadcast == "" {
		c.Transport.Broadcast = d.Transport.Broadcast
	}
	if c.Transport.ReadBuffer == 0 {
		c.Transport.ReadBuffer = d.Transport.ReadBuffer
	}
	if c.Discovery.Window == 0 {
		c.Discovery.Window = d.Discovery.Window
	}
	if c.Discovery.MDNSService == "" {
		c.Discovery.MDNSService = d.Discovery.MDNSService
	}
	if c.Request.Timeout == 0 {
		c.Request.Timeout = d.Request.Timeout
	}
	if c.Labels.Timeout == 0 {
		c.Labels.Timeout = d.Labels.Timeout
	}
	if c.Labels.Concurrency == 0 {
		c.Labels.Concurrency = d.Labels.Concurrency
	}
	if c.Bridge.MaxConcurrent == 0 {
		c.Bridge.MaxConcurrent = d.Bridge.MaxConcurrent
	}
	if c.Bridge.QueueDepth == 0 {
		c.Bridge.QueueDepth = d.Bridge.QueueDepth
	}
	if c.Command.RetryAttempts == 0 {
		c.Command.RetryAttempts = d.Command.RetryAttempts
	}
	if c.Command.InitialBackoff == 0 {
		c.Command.InitialBackoff = d.Command.InitialBackoff
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var err error
	if c.Version != CurrentVersion {
		err = multierr.Append(err, fmt.Errorf("unsupported config version: %d (expected %d)", c.Version, CurrentVersion))
	}
	if _, e := net.ResolveUDPAddr("udp4", c.Transport.Bind); e != nil {
		err = multierr.Append(err, fmt.Errorf("transport.bind %q: %w", c.Transport.Bind, e))
	}
	if c.Transport.DevicePort < 1 || c.Transport.DevicePort > 65535 {
		err = multierr.Append(err, fmt.Errorf("transport.device_port %d out of range", c.Transport.DevicePort))
	}
	if ip := net.ParseIP(c.Transport.Broadcast); ip == nil || ip.To4() == nil {
		err = multierr.Append(err, fmt.Errorf("transport.broadcast %q is not an IPv4 address", c.Transport.Broadcast))
	}
	if c.Transport.ReadBuffer < protocol.HeaderSize {
		err = multierr.Append(err, fmt.Errorf("transport.read_buffer %d smaller than a header", c.Transport.ReadBuffer))
	}
	if c.Discovery.Window < 0 {
		err = multierr.Append(err, fmt.Errorf("discovery.window must not be negative"))
	}
	if e := discovery.ValidateServiceType(c.Discovery.MDNSService); e != nil {
		err = multierr.Append(err, fmt.Errorf("discovery.mdns_service: %w", e))
	}
	if c.Request.Timeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("request.timeout must be positive"))
	}
	if c.Request.TokenLinger < 0 {
		err = multierr.Append(err, fmt.Errorf("request.token_linger must not be negative"))
	}
	if c.Labels.Timeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("labels.timeout must be positive"))
	}
	if c.Labels.Concurrency < 1 {
		err = multierr.Append(err, fmt.Errorf("labels.concurrency must be at least 1"))
	}
	// one slot is taken by the dispatch loop for the process lifetime
	if c.Bridge.MaxConcurrent < 2 {
		err = multierr.Append(err, fmt.Errorf("bridge.max_concurrent must be at least 2"))
	}
	if c.Bridge.QueueDepth < 1 {
		err = multierr.Append(err, fmt.Errorf("bridge.queue_depth must be at least 1"))
	}
	if c.Command.RetryAttempts < 1 {
		err = multierr.Append(err, fmt.Errorf("command.retry_attempts must be at least 1"))
	}
	if c.Command.Transition < 0 {
		err = multierr.Append(err, fmt.Errorf("command.transition must not be negative"))
	}
	return err
}

// BroadcastAddr returns the discovery broadcast address.
func (c *Config) BroadcastAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(c.Transport.Broadcast), Port: c.Transport.DevicePort}
}
