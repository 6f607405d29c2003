package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.ScanTimeout)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 64, cfg.HistorySize)
	assert.Equal(t, 256, cfg.PayloadBuffer)
	assert.Equal(t, "text", cfg.OutputFormat)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		want     logrus.Level
	}{
		{name: "creates logger with debug level", logLevel: "debug", want: logrus.DebugLevel},
		{name: "creates logger with warn level", logLevel: "warn", want: logrus.WarnLevel},
		{name: "falls back to info on unknown level", logLevel: "chatty", want: logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.logLevel}

			logger := cfg.NewLogger()

			assert.Equal(t, tt.want, logger.GetLevel())
			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			require.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		check   func(t *testing.T, cfg *Config)
		wantErr string
	}{
		{
			name: "empty document keeps defaults",
			yaml: "",
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, DefaultConfig(), cfg)
			},
		},
		{
			name: "overrides and normalizes",
			yaml: `
log_level: debug
connect_timeout: 3s
history_size: 16
device: AA:BB:CC:DD:EE:FF
services: ["0x180D", "0000180f-0000-1000-8000-00805f9b34fb"]
`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "debug", cfg.LogLevel)
				assert.Equal(t, 3*time.Second, cfg.ConnectTimeout)
				assert.Equal(t, 10*time.Second, cfg.ScanTimeout, "unset values MUST keep defaults")
				assert.Equal(t, 16, cfg.HistorySize)
				assert.Equal(t, []string{"180d", "180f"}, cfg.Services)

				f := cfg.ScanFilter()
				assert.Equal(t, []string{"AA:BB:CC:DD:EE:FF"}, f.AllowList)
				assert.Equal(t, 10*time.Second, f.Duration)

				opts := cfg.SessionOptions(nil)
				assert.Equal(t, 3*time.Second, opts.ConnectTimeout)
				assert.Equal(t, 16, opts.HistorySize)
			},
		},
		{name: "unknown key", yaml: "colour: red\n", wantErr: "field colour not found"},
		{name: "bad level", yaml: "log_level: loud\n", wantErr: "invalid log_level"},
		{name: "bad format", yaml: "output_format: csv\n", wantErr: "invalid output_format"},
		{name: "bad service", yaml: "services: [xyz]\n", wantErr: "invalid services"},
		{name: "negative timeout", yaml: "scan_timeout: -1s\n", wantErr: "scan_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blecentral.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output_format: json\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.OutputFormat)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config")
}
