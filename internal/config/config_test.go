package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 12345, cfg.Ports.TCP)
	assert.Equal(t, 12346, cfg.Ports.UDP)
	assert.Equal(t, 12347, cfg.Ports.RDTP)
	assert.Equal(t, 5, cfg.RDTP.InitRetries)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"zero chunk", func(c *Config) { c.RDTP.ChunkSize = 0 }, ErrInvalidChunkSize},
		{"oversized chunk", func(c *Config) { c.UDP.ChunkSize = MaxChunkSize + 1 }, ErrInvalidChunkSize},
		{"no init retries", func(c *Config) { c.RDTP.InitRetries = 0 }, ErrInvalidRetries},
		{"zero confirm timeout", func(c *Config) { c.RDTP.ConfirmTimeout = 0 }, ErrInvalidTimeout},
		{"bad port", func(c *Config) { c.Ports.RDTP = 70000 }, ErrInvalidPort},
		{"no trials", func(c *Config) { c.Bench.Trials = 0 }, ErrInvalidTrials},
		{"no protocols", func(c *Config) { c.Bench.Protocols = nil }, ErrNoProtocols},
		{"unknown protocol", func(c *Config) { c.Bench.Protocols = []string{"sctp"} }, ErrUnknownProtocol},
		{"firebase without credentials", func(c *Config) { c.Firebase.DatabaseURL = "https://x.firebaseio.com" }, ErrInvalidFirebaseConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), tt.want)
		})
	}
}

func TestLoadOverlaysViperValues(t *testing.T) {
	v := viper.New()
	v.Set("rdtp.chunk_size", 1024)
	v.Set("rdtp.init_timeout", "250ms")
	v.Set("bench.protocols", []string{"rdtp"})

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 1024, cfg.RDTP.ChunkSize)
	assert.Equal(t, 250*time.Millisecond, cfg.RDTP.InitTimeout)
	assert.Equal(t, []string{"rdtp"}, cfg.Bench.Protocols)
	// Untouched keys keep their defaults
	assert.Equal(t, 12347, cfg.Ports.RDTP)
}

func TestLoadValidates(t *testing.T) {
	v := viper.New()
	v.Set("bench.trials", -1)

	_, err := Load(v)
	assert.ErrorIs(t, err, ErrInvalidTrials)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("RDTPBENCH_PORTS_TCP", "4000")
	t.Setenv("RDTPBENCH_BENCH_PROTOCOLS", "tcp,rdtp")
	t.Setenv("RDTPBENCH_RDTP_CONFIRM_TIMEOUT", "750ms")

	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix("RDTPBENCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.Ports.TCP)
	assert.Equal(t, []string{"tcp", "rdtp"}, cfg.Bench.Protocols)
	assert.Equal(t, 750*time.Millisecond, cfg.RDTP.ConfirmTimeout)
}
