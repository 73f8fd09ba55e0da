package app

import (
	"bytes"
	"context"
	"crypto/rand"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"rdtpbench/internal/bench"
	"rdtpbench/internal/config"
	"rdtpbench/internal/ui"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Bind = "127.0.0.1"
	cfg.Ports = config.PortsConfig{}
	cfg.RDTP.ChunkSize = 8192
	cfg.RDTP.InitTimeout = 200 * time.Millisecond
	cfg.RDTP.ConfirmTimeout = 200 * time.Millisecond
	cfg.RDTP.TermTimeout = 200 * time.Millisecond
	cfg.RDTP.IdleTimeout = time.Second
	cfg.UDP.ChunkSize = 8192
	cfg.UDP.DoneTimeout = time.Second
	cfg.TCP.Timeout = 2 * time.Second
	cfg.Bench.Trials = 2
	cfg.Bench.Pause = 0
	return cfg
}

func portOf(addr net.Addr) int {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.Port
	case *net.UDPAddr:
		return a.Port
	}
	return 0
}

// startServer binds every receiver on an ephemeral port and points cfg at
// them
func startServer(t *testing.T, cfg *config.Config, opts *ServerOptions) {
	t.Helper()
	log, _ := test.NewNullLogger()

	receivers, err := NewServerApp(cfg, log).listen(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, len(receivers))
	for _, r := range receivers {
		r := r
		go func() { done <- r.Serve(ctx) }()
	}
	t.Cleanup(func() {
		cancel()
		closeAll(receivers, log)
		for range receivers {
			assert.NoError(t, <-done)
		}
	})

	cfg.Ports.TCP = portOf(receivers[config.ProtocolTCP].Addr())
	cfg.Ports.UDP = portOf(receivers[config.ProtocolUDP].Addr())
	cfg.Ports.RDTP = portOf(receivers[config.ProtocolRDTP].Addr())
}

func writePayload(t *testing.T, size int) string {
	t.Helper()
	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

type captureReporter struct {
	runs []*bench.Run
}

func (c *captureReporter) Report(_ context.Context, run *bench.Run) error {
	c.runs = append(c.runs, run)
	return nil
}

func TestEveryProtocolReachesServer(t *testing.T) {
	cfg := testConfig()
	outDir := t.TempDir()
	startServer(t, cfg, &ServerOptions{OutDir: outDir})

	log, _ := test.NewNullLogger()
	payload := bytes.Repeat([]byte("0123456789"), 5000)

	for _, protocol := range serverProtocols {
		t.Run(protocol, func(t *testing.T) {
			sender, err := newSender(cfg, protocol, log)
			require.NoError(t, err)

			m, err := sender.Send(context.Background(), payload, targetAddress(cfg, protocol))
			require.NoError(t, err)
			assert.Greater(t, m.Total, time.Duration(0))
		})
	}

	assert.Eventually(t, func() bool {
		entries, err := os.ReadDir(outDir)
		return err == nil && len(entries) == len(serverProtocols)
	}, 2*time.Second, 20*time.Millisecond)

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	for _, e := range entries {
		got, err := os.ReadFile(filepath.Join(outDir, e.Name()))
		require.NoError(t, err)
		assert.Equal(t, payload, got, e.Name())
	}
}

func TestServerRunStopsOnCancel(t *testing.T) {
	log, _ := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- NewServerApp(testConfig(), log).Run(ctx, &ServerOptions{}) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop after cancel")
	}
}

func TestServerListenReleasesOnFailure(t *testing.T) {
	busy, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer busy.Close()

	cfg := testConfig()
	cfg.Ports.UDP = busy.LocalAddr().(*net.UDPAddr).Port

	log, _ := test.NewNullLogger()
	_, err = NewServerApp(cfg, log).listen(&ServerOptions{})
	assert.ErrorContains(t, err, "failed to start udp receiver")
}

func TestNewSenderUnknownProtocol(t *testing.T) {
	log, _ := test.NewNullLogger()
	_, err := newSender(testConfig(), "quic", log)
	assert.ErrorIs(t, err, config.ErrUnknownProtocol)
}

func TestSenderApp(t *testing.T) {
	cfg := testConfig()
	startServer(t, cfg, &ServerOptions{})

	var out bytes.Buffer
	log, _ := test.NewNullLogger()
	s := NewSenderApp(cfg, log, ui.NewConsoleUIWithWriters(&out, &bytes.Buffer{}))

	err := s.Run(context.Background(), &SenderOptions{FilePath: writePayload(t, 20000), Protocol: config.ProtocolRDTP})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "RDTP transfer:")
}

func TestSenderAppRequiresFile(t *testing.T) {
	log, _ := test.NewNullLogger()
	s := NewSenderApp(testConfig(), log, ui.NewConsoleUIWithWriters(&bytes.Buffer{}, &bytes.Buffer{}))
	assert.ErrorIs(t, s.Run(context.Background(), &SenderOptions{Protocol: config.ProtocolTCP}), ErrFilePathRequired)
}

func TestBenchApp(t *testing.T) {
	cfg := testConfig()
	startServer(t, cfg, &ServerOptions{})

	var out bytes.Buffer
	log, _ := test.NewNullLogger()
	rep := &captureReporter{}
	b := NewBenchApp(cfg, log, ui.NewConsoleUIWithWriters(&out, &bytes.Buffer{}), rep)

	require.NoError(t, b.Run(context.Background(), &BenchOptions{FilePath: writePayload(t, 50000)}))

	require.Len(t, rep.runs, 1)
	run := rep.runs[0]
	assert.Equal(t, "payload.bin", run.Payload.Name)
	require.Len(t, run.Results, 3)
	for _, res := range run.Results {
		assert.Len(t, res.Trials, cfg.Bench.Trials, res.Protocol)
		assert.Zero(t, res.Failures, res.Protocol)
		assert.Equal(t, cfg.Bench.Trials, res.Summary.Trials, res.Protocol)
	}
	assert.Contains(t, out.String(), "RDTP Results (2/2 trials succeeded):")
}

func TestBenchAppProtocolOverride(t *testing.T) {
	cfg := testConfig()
	startServer(t, cfg, &ServerOptions{})

	log, _ := test.NewNullLogger()
	rep := &captureReporter{}
	b := NewBenchApp(cfg, log, ui.NewConsoleUIWithWriters(&bytes.Buffer{}, &bytes.Buffer{}), rep)

	opts := &BenchOptions{FilePath: writePayload(t, 1000), Protocols: []string{config.ProtocolTCP}}
	require.NoError(t, b.Run(context.Background(), opts))
	require.Len(t, rep.runs[0].Results, 1)
	assert.Equal(t, config.ProtocolTCP, rep.runs[0].Results[0].Protocol)
}
