package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CURATION_STORE_BACKEND.
const EnvPrefix = "CURATION"

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "curation-progress")
	v.SetDefault("service.log_level", "INFO")

	v.SetDefault("http.addr", ":8001")
	v.SetDefault("http.debug_addr", ":8002")
	v.SetDefault("http.grpc_addr", ":8003")
	v.SetDefault("http.read_timeout", 30*time.Second)
	v.SetDefault("http.write_timeout", 60*time.Second)
	v.SetDefault("http.idle_timeout", 120*time.Second)
	v.SetDefault("http.shutdown_timeout", 20*time.Second)
	v.SetDefault("http.cors_origins", []string{})

	v.SetDefault("store.backend", StoreMemory)
	v.SetDefault("store.task_ttl", 7*24*time.Hour)
	v.SetDefault("store.input_ttl", 2*24*time.Hour)
	v.SetDefault("store.redis.addr", "")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.max_conns", 10)

	v.SetDefault("bus.backend", BusMemory)
	v.SetDefault("bus.kafka.brokers", []string{})
	v.SetDefault("bus.kafka.progress_topic", "task-progress")
	v.SetDefault("bus.kafka.jobs_topic", "curation-jobs")
	v.SetDefault("bus.kafka.gateway_group", "progress-gateway")
	v.SetDefault("bus.kafka.worker_group", "curation-workers")
	v.SetDefault("bus.kafka.client_id", "curation-progress")

	v.SetDefault("gateway.allowed_origins", []string{})
	v.SetDefault("gateway.send_buffer", 64)
	v.SetDefault("gateway.write_wait", 10*time.Second)
	v.SetDefault("gateway.pong_wait", 60*time.Second)
	v.SetDefault("gateway.ping_period", 54*time.Second)
	v.SetDefault("gateway.read_limit", 4096)
	v.SetDefault("gateway.inbound_rate", 5.0)
	v.SetDefault("gateway.inbound_burst", 10)

	v.SetDefault("worker.embedded", true)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.queue_size", 256)
	v.SetDefault("worker.curation_url", "http://localhost:8000")
	v.SetDefault("worker.curation_timeout", 10*time.Minute)
	v.SetDefault("worker.server_url", "http://localhost:8001")
	v.SetDefault("worker.notify_queue", 256)

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.probability", 0.1)
}

var validate = validator.New()

// Validate checks struct tags and cross-field rules.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.crossCheck(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
