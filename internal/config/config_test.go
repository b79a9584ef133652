package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.Polling.Interval)
	assert.Equal(t, 10*time.Second, cfg.Polling.Timeout)
	assert.Equal(t, 1024, cfg.Polling.BufferSize)
	assert.Equal(t, 5*time.Second, cfg.Polling.StaleThreshold)
	assert.Zero(t, cfg.Polling.UnavailableAfter)
	assert.Equal(t, ":8099", cfg.Server.Listen)
	assert.False(t, cfg.Server.MCP)
	assert.Empty(t, cfg.Storage.Driver)

	require.Len(t, cfg.Simulators, 1)
	sim := cfg.Simulators[0]
	assert.Equal(t, "FlightGear", sim.Name)
	assert.Equal(t, "localhost", sim.Host)
	assert.Equal(t, 5500, sim.TelnetPort)
	assert.Equal(t, 8080, sim.HTTPPort)
	assert.Equal(t, 8554, sim.RTSPPort)
	assert.Equal(t, "localhost:5500", sim.Key())
}

func TestLoadFromEnv(t *testing.T) {
	tests := []struct {
		name   string
		envKey string
		envVal string
		check  func(t *testing.T, cfg Config)
	}{
		{
			name:   "FLIGHTGEAR_HOST",
			envKey: "FLIGHTGEAR_HOST",
			envVal: "10.0.0.5",
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, "10.0.0.5", cfg.Simulators[0].Host)
			},
		},
		{
			name:   "FLIGHTGEAR_NAME",
			envKey: "FLIGHTGEAR_NAME",
			envVal: "Cessna Sim",
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, "Cessna Sim", cfg.Simulators[0].Name)
			},
		},
		{
			name:   "FLIGHTGEAR_TELNET_PORT valid",
			envKey: "FLIGHTGEAR_TELNET_PORT",
			envVal: "5401",
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, 5401, cfg.Simulators[0].TelnetPort)
			},
		},
		{
			name:   "FLIGHTGEAR_TELNET_PORT invalid falls back to default",
			envKey: "FLIGHTGEAR_TELNET_PORT",
			envVal: "notanumber",
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, 5500, cfg.Simulators[0].TelnetPort)
			},
		},
		{
			name:   "FLIGHTGEAR_HTTP_PORT",
			envKey: "FLIGHTGEAR_HTTP_PORT",
			envVal: "5400",
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, 5400, cfg.Simulators[0].HTTPPort)
			},
		},
		{
			name:   "FLIGHTGEAR_RTSP_PORT",
			envKey: "FLIGHTGEAR_RTSP_PORT",
			envVal: "9554",
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, 9554, cfg.Simulators[0].RTSPPort)
			},
		},
		{
			name:   "POLL_INTERVAL valid",
			envKey: "POLL_INTERVAL",
			envVal: "250ms",
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, 250*time.Millisecond, cfg.Polling.Interval)
			},
		},
		{
			name:   "POLL_INTERVAL invalid falls back to default",
			envKey: "POLL_INTERVAL",
			envVal: "xyz",
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, time.Second, cfg.Polling.Interval)
			},
		},
		{
			name:   "POLL_TIMEOUT",
			envKey: "POLL_TIMEOUT",
			envVal: "5s",
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, 5*time.Second, cfg.Polling.Timeout)
			},
		},
		{
			name:   "STALE_THRESHOLD valid",
			envKey: "STALE_THRESHOLD",
			envVal: "10s",
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, 10*time.Second, cfg.Polling.StaleThreshold)
			},
		},
		{
			name:   "HTTP_LISTEN",
			envKey: "HTTP_LISTEN",
			envVal: "127.0.0.1:9000",
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, "127.0.0.1:9000", cfg.Server.Listen)
			},
		},
		{
			name:   "LOG_LEVEL",
			envKey: "LOG_LEVEL",
			envVal: "debug",
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, "debug", cfg.Logging.Level)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.envKey, tt.envVal)
			cfg, err := Load("")
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
polling:
  interval: 2s
  timeout: 5s
  buffer_size: 2048
  unavailable_after: 3
simulators:
  - id: c172
    name: Cessna
    host: 192.168.1.20
    telnet_port: 5401
  - host: 192.168.1.21
server:
  listen: ""
  mcp: true
storage:
  driver: sqlite
  retention: 72h
logging:
  format: text
  level: warn
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Polling.Interval)
	assert.Equal(t, 5*time.Second, cfg.Polling.Timeout)
	assert.Equal(t, 2048, cfg.Polling.BufferSize)
	assert.Equal(t, 3, cfg.Polling.UnavailableAfter)
	assert.Equal(t, 5*time.Second, cfg.Polling.StaleThreshold, "unset keys keep defaults")

	require.Len(t, cfg.Simulators, 2)
	assert.Equal(t, "c172", cfg.Simulators[0].Key())
	assert.Equal(t, "Cessna", cfg.Simulators[0].Name)
	assert.Equal(t, 5401, cfg.Simulators[0].TelnetPort)
	assert.Equal(t, 8080, cfg.Simulators[0].HTTPPort)
	assert.Equal(t, "192.168.1.21:5500", cfg.Simulators[1].Key())
	assert.Equal(t, "FlightGear", cfg.Simulators[1].Name)

	assert.Empty(t, cfg.Server.Listen)
	assert.True(t, cfg.Server.MCP)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, DefaultSQLitePath, cfg.Storage.DSN)
	assert.Equal(t, 72*time.Hour, cfg.Storage.Retention)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadFileSimulatorsIgnoreFlightGearEnv(t *testing.T) {
	t.Setenv("FLIGHTGEAR_HOST", "10.9.9.9")
	path := writeConfig(t, "simulators:\n  - host: fg.local\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Simulators, 1)
	assert.Equal(t, "fg.local", cfg.Simulators[0].Host)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "bad yaml", body: "polling: [", want: "parse yaml"},
		{name: "zero buffer", body: "polling:\n  buffer_size: -1\n", want: "buffer_size"},
		{name: "negative unavailable_after", body: "polling:\n  unavailable_after: -2\n", want: "unavailable_after"},
		{name: "port out of range", body: "simulators:\n  - host: a\n    telnet_port: 70000\n", want: "telnet_port"},
		{name: "duplicate id", body: "simulators:\n  - host: a\n  - host: a\n", want: "duplicate"},
		{name: "unknown driver", body: "storage:\n  driver: mongo\n", want: "unknown driver"},
		{name: "postgres without dsn", body: "storage:\n  driver: postgres\n", want: "dsn"},
		{name: "bad log format", body: "logging:\n  format: xml\n", want: "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read file")
}

func TestWatchReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, "simulators:\n  - host: a.local\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu   sync.Mutex
		seen []Config
	)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(cfg Config) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, cfg)
		})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)

	// An invalid file is skipped.
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  driver: mongo\n"), 0o600))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("simulators:\n  - host: b.local\n"), 0o600))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, cfg := range seen {
			if len(cfg.Simulators) == 1 && cfg.Simulators[0].Host == "b.local" {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)

	mu.Lock()
	for _, cfg := range seen {
		assert.NotEqual(t, "mongo", cfg.Storage.Driver)
	}
	mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Watch did not exit after context cancellation")
	}
}
