// Package config loads the antiprimes service configuration.
//
// Precedence (lowest to highest): Default() → YAML file → environment.
// The result is validated with struct tags (go-playground/validator).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the complete antiprimes configuration
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Sequence  SequenceConfig  `yaml:"sequence"`
	Worker    WorkerConfig    `yaml:"worker"`
	Notify    NotifyConfig    `yaml:"notify"`
	Server    ServerConfig    `yaml:"server"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// LogConfig contains slog settings
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json auto"`
}

// SequenceConfig contains sequence settings
type SequenceConfig struct {
	// HistoryWindow is the default k for "last K" views (CLI, TUI, HTTP)
	HistoryWindow int `yaml:"history_window" validate:"min=1,max=10000"`

	// SubmitTimeout bounds a ComputeNext wait for the mailbox slot (0 = unbounded)
	SubmitTimeout time.Duration `yaml:"submit_timeout" validate:"gte=0"`
}

// WorkerConfig contains background worker settings
type WorkerConfig struct {
	IdleThreshold time.Duration `yaml:"idle_threshold" validate:"gte=0"`
	Restart       RestartConfig `yaml:"restart"`
}

// RestartConfig controls owner-driven restarts of a fail-stopped worker
type RestartConfig struct {
	Enabled       bool          `yaml:"enabled"`
	MaxRetries    int           `yaml:"max_retries" validate:"min=0"`
	RetryDelay    time.Duration `yaml:"retry_delay" validate:"gt=0"`
	MaxRetryDelay time.Duration `yaml:"max_retry_delay" validate:"gtefield=RetryDelay"`
}

// NotifyConfig contains event fan-out settings
type NotifyConfig struct {
	// SubscriberBuffer is the channel capacity given to each event subscriber
	// (MQTT emitter, websocket sessions, TUI)
	SubscriberBuffer int `yaml:"subscriber_buffer" validate:"min=1"`
}

// ServerConfig contains HTTP API settings
type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required,hostname_port"`
	ComputeRate     float64       `yaml:"compute_rate" validate:"gt=0"` // POST /v1/sequence/next per second
	ComputeBurst    int           `yaml:"compute_burst" validate:"min=1"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Enabled  bool       `yaml:"enabled"`
	Broker   string     `yaml:"broker" validate:"required_if=Enabled true"`
	ClientID string     `yaml:"client_id"`
	Topics   MQTTTopics `yaml:"topics"`
	QoS      MQTTQoS    `yaml:"qos"`
	Encoding string     `yaml:"encoding" validate:"oneof=json msgpack"`
}

// MQTTTopics contains topic names
type MQTTTopics struct {
	Control string `yaml:"control" validate:"required"`
	Events  string `yaml:"events" validate:"required"`
	Status  string `yaml:"status" validate:"required"`
}

// MQTTQoS contains per-topic QoS levels
type MQTTQoS struct {
	Control byte `yaml:"control" validate:"max=2"`
	Events  byte `yaml:"events" validate:"max=2"`
}

// TelemetryConfig contains OpenTelemetry settings
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name" validate:"required"`
	TraceExporter  string `yaml:"trace_exporter" validate:"oneof=none stdout otlp"`
	MetricExporter string `yaml:"metric_exporter" validate:"oneof=none stdout prometheus"`
	OTLPEndpoint   string `yaml:"otlp_endpoint" validate:"required_if=TraceExporter otlp"`
}

// validate is the shared validator instance.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Sequence: SequenceConfig{
			HistoryWindow: 10,
		},
		Worker: WorkerConfig{
			IdleThreshold: 30 * time.Second,
			Restart: RestartConfig{
				Enabled:       true,
				MaxRetries:    5,
				RetryDelay:    1 * time.Second,
				MaxRetryDelay: 30 * time.Second,
			},
		},
		Notify: NotifyConfig{
			SubscriberBuffer: 64,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ComputeRate:     5,
			ComputeBurst:    10,
			ShutdownTimeout: 5 * time.Second,
		},
		MQTT: MQTTConfig{
			Enabled:  false,
			Broker:   "tcp://localhost:1883",
			ClientID: "antiprimes",
			Topics: MQTTTopics{
				Control: "antiprimes/control",
				Events:  "antiprimes/events",
				Status:  "antiprimes/status",
			},
			QoS: MQTTQoS{
				Control: 1,
				Events:  0,
			},
			Encoding: "json",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "antiprimes",
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			OTLPEndpoint:   "localhost:4317",
		},
	}
}

// Load reads a YAML configuration file over the defaults, applies
// environment overrides and validates the result.
//
// An empty path or a missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil // File doesn't exist, use defaults
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	return nil
}

// Validate checks the configuration against its struct tags
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed '%s' (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

// applyEnv overrides fields from ANTIPRIMES_* and standard OTEL_* variables.
func applyEnv(cfg *Config) error {
	var errs []error

	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			i, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = i
		}
	}
	float := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	// Log
	str("ANTIPRIMES_LOG_LEVEL", &cfg.Log.Level)
	str("ANTIPRIMES_LOG_FORMAT", &cfg.Log.Format)

	// Sequence / worker
	integer("ANTIPRIMES_HISTORY_WINDOW", &cfg.Sequence.HistoryWindow)
	duration("ANTIPRIMES_SUBMIT_TIMEOUT", &cfg.Sequence.SubmitTimeout)
	duration("ANTIPRIMES_IDLE_THRESHOLD", &cfg.Worker.IdleThreshold)
	boolean("ANTIPRIMES_RESTART_ENABLED", &cfg.Worker.Restart.Enabled)
	integer("ANTIPRIMES_RESTART_MAX_RETRIES", &cfg.Worker.Restart.MaxRetries)

	// Server
	str("ANTIPRIMES_SERVER_ADDR", &cfg.Server.Addr)
	float("ANTIPRIMES_COMPUTE_RATE", &cfg.Server.ComputeRate)
	integer("ANTIPRIMES_COMPUTE_BURST", &cfg.Server.ComputeBurst)

	// MQTT
	boolean("ANTIPRIMES_MQTT_ENABLED", &cfg.MQTT.Enabled)
	str("ANTIPRIMES_MQTT_BROKER", &cfg.MQTT.Broker)
	str("ANTIPRIMES_MQTT_CLIENT_ID", &cfg.MQTT.ClientID)
	str("ANTIPRIMES_MQTT_ENCODING", &cfg.MQTT.Encoding)

	// Telemetry (standard OTel variable names)
	str("OTEL_SERVICE_NAME", &cfg.Telemetry.ServiceName)
	str("OTEL_TRACES_EXPORTER", &cfg.Telemetry.TraceExporter)
	str("OTEL_METRICS_EXPORTER", &cfg.Telemetry.MetricExporter)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)

	return errors.Join(errs...)
}
