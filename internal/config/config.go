package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

var (
	ErrInvalidChunkSize      = errors.New("chunk size must be between 1 and 65499 bytes")
	ErrInvalidRetries        = errors.New("retry bounds must be greater than 0")
	ErrInvalidTimeout        = errors.New("timeouts must be greater than 0")
	ErrInvalidPort           = errors.New("ports must be between 1 and 65535")
	ErrInvalidTrials         = errors.New("number of trials must be greater than 0")
	ErrNoProtocols           = errors.New("at least one protocol must be selected")
	ErrUnknownProtocol       = errors.New("unknown protocol")
	ErrInvalidFirebaseConfig = errors.New("Firebase credentials path must be set when a database URL is configured")
)

// MaxChunkSize is the largest chunk that fits a single UDP datagram together
// with the 8-byte data header.
const MaxChunkSize = 65507 - 8

// Protocol names accepted in bench.protocols and send --protocol.
const (
	ProtocolTCP  = "tcp"
	ProtocolUDP  = "udp"
	ProtocolRDTP = "rdtp"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server" json:"server"`
	Ports    PortsConfig    `mapstructure:"ports" json:"ports"`
	RDTP     RDTPConfig     `mapstructure:"rdtp" json:"rdtp"`
	UDP      UDPConfig      `mapstructure:"udp" json:"udp"`
	TCP      TCPConfig      `mapstructure:"tcp" json:"tcp"`
	Bench    BenchConfig    `mapstructure:"bench" json:"bench"`
	Firebase FirebaseConfig `mapstructure:"firebase" json:"firebase"`
	Log      LogConfig      `mapstructure:"log" json:"log"`
}

// ServerConfig holds the addresses used by the sending and receiving side
type ServerConfig struct {
	Host string `mapstructure:"host" json:"host"` // Address the sender connects to
	Bind string `mapstructure:"bind" json:"bind"` // Address the receivers listen on
}

// PortsConfig holds the port of each protocol under test
type PortsConfig struct {
	TCP  int `mapstructure:"tcp" json:"tcp"`
	UDP  int `mapstructure:"udp" json:"udp"`
	RDTP int `mapstructure:"rdtp" json:"rdtp"`
}

// RDTPConfig holds the reliable datagram protocol tuning. Every phase has its
// own retry budget.
type RDTPConfig struct {
	ChunkSize      int           `mapstructure:"chunk_size" json:"chunk_size"`
	InitRetries    int           `mapstructure:"init_retries" json:"init_retries"`
	InitTimeout    time.Duration `mapstructure:"init_timeout" json:"init_timeout"`
	ConfirmRetries int           `mapstructure:"confirm_retries" json:"confirm_retries"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout" json:"confirm_timeout"`
	TermRetries    int           `mapstructure:"term_retries" json:"term_retries"`
	TermTimeout    time.Duration `mapstructure:"term_timeout" json:"term_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout" json:"idle_timeout"`
	TOS            int           `mapstructure:"tos" json:"tos"` // IPv4 type-of-service byte, 0 leaves the OS default
}

// UDPConfig holds the best-effort UDP baseline settings
type UDPConfig struct {
	ChunkSize   int           `mapstructure:"chunk_size" json:"chunk_size"`
	DoneTimeout time.Duration `mapstructure:"done_timeout" json:"done_timeout"`
}

// TCPConfig holds the TCP baseline settings
type TCPConfig struct {
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
}

// BenchConfig holds benchmark harness settings
type BenchConfig struct {
	Trials    int           `mapstructure:"trials" json:"trials"`
	Pause     time.Duration `mapstructure:"pause" json:"pause"`
	Protocols []string      `mapstructure:"protocols" json:"protocols"`
}

// FirebaseConfig holds the optional result store configuration
type FirebaseConfig struct {
	DatabaseURL     string `mapstructure:"database_url" json:"database_url"`
	CredentialsPath string `mapstructure:"credentials_path" json:"credentials_path"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"` // "text" or "json"
}

// NewDefaultConfig returns a configuration with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Bind: "0.0.0.0",
		},
		Ports: PortsConfig{
			TCP:  12345,
			UDP:  12346,
			RDTP: 12347,
		},
		RDTP: RDTPConfig{
			ChunkSize:      60000,
			InitRetries:    5,
			InitTimeout:    time.Second,
			ConfirmRetries: 3,
			ConfirmTimeout: 3 * time.Second,
			TermRetries:    5,
			TermTimeout:    time.Second,
			IdleTimeout:    10 * time.Second,
		},
		UDP: UDPConfig{
			ChunkSize:   60000,
			DoneTimeout: 5 * time.Second,
		},
		TCP: TCPConfig{
			Timeout: 5 * time.Second,
		},
		Bench: BenchConfig{
			Trials:    5,
			Pause:     time.Second,
			Protocols: []string{ProtocolTCP, ProtocolUDP, ProtocolRDTP},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// SetDefaults registers every configuration key with its default value so
// that viper resolves environment variables for keys absent from the config
// file
func SetDefaults(v *viper.Viper) {
	d := NewDefaultConfig()
	defaults := map[string]any{
		"server.host":               d.Server.Host,
		"server.bind":               d.Server.Bind,
		"ports.tcp":                 d.Ports.TCP,
		"ports.udp":                 d.Ports.UDP,
		"ports.rdtp":                d.Ports.RDTP,
		"rdtp.chunk_size":           d.RDTP.ChunkSize,
		"rdtp.init_retries":         d.RDTP.InitRetries,
		"rdtp.init_timeout":         d.RDTP.InitTimeout,
		"rdtp.confirm_retries":      d.RDTP.ConfirmRetries,
		"rdtp.confirm_timeout":      d.RDTP.ConfirmTimeout,
		"rdtp.term_retries":         d.RDTP.TermRetries,
		"rdtp.term_timeout":         d.RDTP.TermTimeout,
		"rdtp.idle_timeout":         d.RDTP.IdleTimeout,
		"rdtp.tos":                  d.RDTP.TOS,
		"udp.chunk_size":            d.UDP.ChunkSize,
		"udp.done_timeout":          d.UDP.DoneTimeout,
		"tcp.timeout":               d.TCP.Timeout,
		"bench.trials":              d.Bench.Trials,
		"bench.pause":               d.Bench.Pause,
		"bench.protocols":           d.Bench.Protocols,
		"firebase.database_url":     d.Firebase.DatabaseURL,
		"firebase.credentials_path": d.Firebase.CredentialsPath,
		"log.level":                 d.Log.Level,
		"log.format":                d.Log.Format,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// Load builds a configuration from the defaults overlaid with whatever viper
// has collected from the config file, environment and bound flags
func Load(v *viper.Viper) (*Config, error) {
	cfg := NewDefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	if c.RDTP.ChunkSize <= 0 || c.RDTP.ChunkSize > MaxChunkSize {
		return fmt.Errorf("rdtp: %w", ErrInvalidChunkSize)
	}
	if c.UDP.ChunkSize <= 0 || c.UDP.ChunkSize > MaxChunkSize {
		return fmt.Errorf("udp: %w", ErrInvalidChunkSize)
	}
	if c.RDTP.InitRetries <= 0 || c.RDTP.ConfirmRetries <= 0 || c.RDTP.TermRetries <= 0 {
		return ErrInvalidRetries
	}
	if c.RDTP.InitTimeout <= 0 || c.RDTP.ConfirmTimeout <= 0 || c.RDTP.TermTimeout <= 0 ||
		c.RDTP.IdleTimeout <= 0 || c.UDP.DoneTimeout <= 0 || c.TCP.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	for _, port := range []int{c.Ports.TCP, c.Ports.UDP, c.Ports.RDTP} {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("%w: %d", ErrInvalidPort, port)
		}
	}
	if c.Bench.Trials <= 0 {
		return ErrInvalidTrials
	}
	if len(c.Bench.Protocols) == 0 {
		return ErrNoProtocols
	}
	for _, p := range c.Bench.Protocols {
		if !IsKnownProtocol(p) {
			return fmt.Errorf("%w: %q", ErrUnknownProtocol, p)
		}
	}
	if c.Firebase.DatabaseURL != "" && c.Firebase.CredentialsPath == "" {
		return ErrInvalidFirebaseConfig
	}
	return nil
}

// IsKnownProtocol reports whether name is one of the protocols under test
func IsKnownProtocol(name string) bool {
	switch name {
	case ProtocolTCP, ProtocolUDP, ProtocolRDTP:
		return true
	}
	return false
}

// Enabled reports whether benchmark runs should be stored in Firebase
func (f FirebaseConfig) Enabled() bool {
	return f.DatabaseURL != ""
}
