package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "antiprimes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10, cfg.Sequence.HistoryWindow)
	assert.Zero(t, cfg.Sequence.SubmitTimeout, "baseline waits indefinitely")
	assert.True(t, cfg.Worker.Restart.Enabled)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  format: json
sequence:
  history_window: 25
  submit_timeout: 250ms
worker:
  restart:
    max_retries: 2
    retry_delay: 100ms
    max_retry_delay: 1s
mqtt:
  enabled: true
  broker: tcp://broker:1883
  encoding: msgpack
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 25, cfg.Sequence.HistoryWindow)
	assert.Equal(t, 250*time.Millisecond, cfg.Sequence.SubmitTimeout)
	assert.Equal(t, 2, cfg.Worker.Restart.MaxRetries)
	assert.Equal(t, time.Second, cfg.Worker.Restart.MaxRetryDelay)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "msgpack", cfg.MQTT.Encoding)

	// Untouched sections keep defaults
	assert.Equal(t, "antiprimes/events", cfg.MQTT.Topics.Events)
	assert.Equal(t, 64, cfg.Notify.SubscriberBuffer)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  addr: \":9000\"\n")

	t.Setenv("ANTIPRIMES_SERVER_ADDR", "127.0.0.1:9100")
	t.Setenv("ANTIPRIMES_SUBMIT_TIMEOUT", "2s")
	t.Setenv("ANTIPRIMES_MQTT_ENABLED", "true")
	t.Setenv("OTEL_TRACES_EXPORTER", "stdout")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9100", cfg.Server.Addr)
	assert.Equal(t, 2*time.Second, cfg.Sequence.SubmitTimeout)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "stdout", cfg.Telemetry.TraceExporter)
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv("ANTIPRIMES_HISTORY_WINDOW", "many")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANTIPRIMES_HISTORY_WINDOW")
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "log: [unterminated")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"log level", func(c *Config) { c.Log.Level = "trace" }, "Level"},
		{"history window", func(c *Config) { c.Sequence.HistoryWindow = 0 }, "HistoryWindow"},
		{"negative timeout", func(c *Config) { c.Sequence.SubmitTimeout = -time.Second }, "SubmitTimeout"},
		{"retry delay cap", func(c *Config) { c.Worker.Restart.MaxRetryDelay = time.Millisecond }, "MaxRetryDelay"},
		{"subscriber buffer", func(c *Config) { c.Notify.SubscriberBuffer = 0 }, "SubscriberBuffer"},
		{"server addr", func(c *Config) { c.Server.Addr = "not an address" }, "Addr"},
		{"compute rate", func(c *Config) { c.Server.ComputeRate = 0 }, "ComputeRate"},
		{"mqtt broker", func(c *Config) { c.MQTT.Enabled = true; c.MQTT.Broker = "" }, "Broker"},
		{"mqtt qos", func(c *Config) { c.MQTT.QoS.Events = 3 }, "Events"},
		{"mqtt encoding", func(c *Config) { c.MQTT.Encoding = "xml" }, "Encoding"},
		{"trace exporter", func(c *Config) { c.Telemetry.TraceExporter = "zipkin" }, "TraceExporter"},
		{"otlp endpoint", func(c *Config) {
			c.Telemetry.TraceExporter = "otlp"
			c.Telemetry.OTLPEndpoint = ""
		}, "OTLPEndpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestValidate_BrokerOptionalWhenDisabled(t *testing.T) {
	cfg := Default()
	cfg.MQTT.Broker = ""
	assert.NoError(t, cfg.Validate())
}
