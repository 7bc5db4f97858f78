// Package config defines the runtime configuration shared by the server,
// the worker, and their dependencies.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Bus backends.
const (
	BusMemory = "memory"
	BusKafka  = "kafka"
)

// Config represents the top-level configuration.
type Config struct {
	Service   ServiceConfig   `mapstructure:"service" yaml:"service"`
	HTTP      HTTPConfig      `mapstructure:"http" yaml:"http"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Bus       BusConfig       `mapstructure:"bus" yaml:"bus"`
	Gateway   GatewayConfig   `mapstructure:"gateway" yaml:"gateway"`
	Worker    WorkerConfig    `mapstructure:"worker" yaml:"worker"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
}

// ServiceConfig identifies the running process.
type ServiceConfig struct {
	Name     string `mapstructure:"name" yaml:"name" validate:"required"`
	LogLevel string `mapstructure:"log_level" yaml:"log_level" validate:"oneof=DEBUG INFO WARN ERROR"`
}

// HTTPConfig configures the listeners.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr" validate:"required"`
	DebugAddr       string        `mapstructure:"debug_addr" yaml:"debug_addr"`
	GRPCAddr        string        `mapstructure:"grpc_addr" yaml:"grpc_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"gt=0"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gt=0"`
	CORSOrigins     []string      `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// StoreConfig selects and configures the task store.
type StoreConfig struct {
	Backend  string         `mapstructure:"backend" yaml:"backend" validate:"oneof=memory redis postgres"`
	TaskTTL  time.Duration  `mapstructure:"task_ttl" yaml:"task_ttl" validate:"gt=0"`
	InputTTL time.Duration  `mapstructure:"input_ttl" yaml:"input_ttl" validate:"gt=0"`
	Redis    RedisConfig    `mapstructure:"redis" yaml:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

// RedisConfig configures the redis store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db" validate:"gte=0"`
}

// PostgresConfig configures the postgres store.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn" yaml:"dsn"`
	MaxConns int32  `mapstructure:"max_conns" yaml:"max_conns" validate:"gte=0"`
}

// BusConfig selects and configures the event bus.
type BusConfig struct {
	Backend string      `mapstructure:"backend" yaml:"backend" validate:"oneof=memory kafka"`
	Kafka   KafkaConfig `mapstructure:"kafka" yaml:"kafka"`
}

// KafkaConfig configures the kafka bus.
type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers" yaml:"brokers"`
	ProgressTopic string   `mapstructure:"progress_topic" yaml:"progress_topic"`
	JobsTopic     string   `mapstructure:"jobs_topic" yaml:"jobs_topic"`
	// GatewayGroup prefixes the per-instance consumer group of fan-out
	// gateways. WorkerGroup is shared by every worker.
	GatewayGroup string `mapstructure:"gateway_group" yaml:"gateway_group"`
	WorkerGroup  string `mapstructure:"worker_group" yaml:"worker_group"`
	ClientID     string `mapstructure:"client_id" yaml:"client_id"`
}

// GatewayConfig tunes the WebSocket fan-out.
type GatewayConfig struct {
	AllowedOrigins []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	SendBuffer     int           `mapstructure:"send_buffer" yaml:"send_buffer" validate:"gte=0"`
	WriteWait      time.Duration `mapstructure:"write_wait" yaml:"write_wait"`
	PongWait       time.Duration `mapstructure:"pong_wait" yaml:"pong_wait"`
	PingPeriod     time.Duration `mapstructure:"ping_period" yaml:"ping_period"`
	ReadLimit      int64         `mapstructure:"read_limit" yaml:"read_limit" validate:"gte=0"`
	InboundRate    float64       `mapstructure:"inbound_rate" yaml:"inbound_rate" validate:"gte=0"`
	InboundBurst   int           `mapstructure:"inbound_burst" yaml:"inbound_burst" validate:"gte=0"`
}

// WorkerConfig configures job execution.
type WorkerConfig struct {
	// Embedded runs the worker pool inside the server process.
	Embedded        bool          `mapstructure:"embedded" yaml:"embedded"`
	Concurrency     int           `mapstructure:"concurrency" yaml:"concurrency" validate:"gte=0"`
	// QueueSize bounds accepted jobs waiting for a free worker.
	QueueSize       int           `mapstructure:"queue_size" yaml:"queue_size" validate:"gte=0"`
	CurationURL     string        `mapstructure:"curation_url" yaml:"curation_url" validate:"omitempty,url"`
	CurationTimeout time.Duration `mapstructure:"curation_timeout" yaml:"curation_timeout"`
	// ServerURL is where a standalone worker posts progress updates.
	ServerURL   string `mapstructure:"server_url" yaml:"server_url" validate:"omitempty,url"`
	// NotifyQueue bounds updates waiting to be relayed, by the server's bus
	// relay and by a standalone worker's HTTP notifier alike.
	NotifyQueue int    `mapstructure:"notify_queue" yaml:"notify_queue" validate:"gte=0"`
}

// TelemetryConfig configures tracing and metrics export.
type TelemetryConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`
	Insecure     bool    `mapstructure:"insecure" yaml:"insecure"`
	Probability  float64 `mapstructure:"probability" yaml:"probability" validate:"gte=0,lte=1"`
}

// crossCheck covers rules that span fields.
func (c *Config) crossCheck() error {
	var errs []error
	switch c.Store.Backend {
	case StoreRedis:
		if c.Store.Redis.Addr == "" {
			errs = append(errs, errors.New("store.redis.addr is required for the redis backend"))
		}
	case StorePostgres:
		if c.Store.Postgres.DSN == "" {
			errs = append(errs, errors.New("store.postgres.dsn is required for the postgres backend"))
		}
	}
	if c.Bus.Backend == BusKafka {
		if len(c.Bus.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("bus.kafka.brokers is required for the kafka backend"))
		}
		if c.Bus.Kafka.ProgressTopic == "" || c.Bus.Kafka.JobsTopic == "" {
			errs = append(errs, errors.New("bus.kafka topics are required for the kafka backend"))
		}
	}
	if c.Store.InputTTL > c.Store.TaskTTL {
		errs = append(errs, fmt.Errorf("store.input_ttl (%s) must not exceed store.task_ttl (%s)", c.Store.InputTTL, c.Store.TaskTTL))
	}
	return errors.Join(errs...)
}
