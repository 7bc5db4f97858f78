// Package bootstrap builds the process-level dependencies shared by the
// server and worker binaries: the logger, the task store and the event bus.
package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/curation-progress/internal/config"
	"github.com/ahrav/curation-progress/internal/domain/events"
	"github.com/ahrav/curation-progress/internal/domain/progress"
	"github.com/ahrav/curation-progress/internal/infra/eventbus/kafka"
	"github.com/ahrav/curation-progress/internal/infra/eventbus/memory"
	"github.com/ahrav/curation-progress/internal/infra/storage/postgres"
	redisstore "github.com/ahrav/curation-progress/internal/infra/storage/redis"
	"github.com/ahrav/curation-progress/pkg/common/logger"
	"github.com/ahrav/curation-progress/pkg/common/otel"
	"github.com/ahrav/curation-progress/pkg/common/timeutil"

	storememory "github.com/ahrav/curation-progress/internal/infra/storage/memory"
)

// NewLogger builds the process logger. Error records are mirrored to errOut
// as JSON so they can be picked up by an error collector.
func NewLogger(out, errOut io.Writer, level, service, hostname, serviceType string) *logger.Logger {
	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(errOut, "failed to marshal error attributes: %v\n", err)
				return
			}
			fmt.Fprintf(errOut, "Error event: %s, details: %s\n", r.Message, errorAttrsJSON)
		},
	}

	metadata := map[string]string{
		"service":  service,
		"hostname": hostname,
		"app":      serviceType,
	}

	return logger.NewWithMetadata(out, logger.ParseLevel(level), service, otel.GetTraceID, logEvents, metadata)
}

func retention(cfg config.StoreConfig) progress.Retention {
	return progress.Retention{TaskTTL: cfg.TaskTTL, InputTTL: cfg.InputTTL}.WithDefaults()
}

func connectBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxElapsedTime = time.Minute
	return b
}

// OpenStore connects the configured task store. The returned cleanup releases
// its connections.
func OpenStore(
	ctx context.Context,
	cfg config.StoreConfig,
	clock timeutil.Provider,
	log *logger.Logger,
	tracer trace.Tracer,
) (progress.TaskStore, func(), error) {
	switch cfg.Backend {
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ping := func() error {
			if err := client.Ping(ctx).Err(); err != nil {
				log.Warn(ctx, "Redis not reachable, will retry", "addr", cfg.Redis.Addr, "error", err)
				return err
			}
			return nil
		}
		if err := backoff.Retry(ping, connectBackoff()); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		log.Info(ctx, "startup", "status", "redis task store ready", "addr", cfg.Redis.Addr)
		return redisstore.NewTaskStore(client, retention(cfg), clock, tracer), func() { _ = client.Close() }, nil

	case config.StorePostgres:
		poolCfg, err := pgxpool.ParseConfig(cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing db config: %w", err)
		}
		if cfg.Postgres.MaxConns > 0 {
			poolCfg.MaxConns = cfg.Postgres.MaxConns
		}
		poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("creating db pool: %w", err)
		}
		ping := func() error {
			if err := pool.Ping(ctx); err != nil {
				log.Warn(ctx, "Postgres not reachable, will retry", "error", err)
				return err
			}
			return nil
		}
		if err := backoff.Retry(ping, connectBackoff()); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		if err := postgres.Migrate(pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrating postgres: %w", err)
		}
		log.Info(ctx, "startup", "status", "postgres task store ready")
		return postgres.NewTaskStore(pool, retention(cfg), clock, tracer), pool.Close, nil

	default:
		log.Warn(ctx, "Using in-memory task store; history is lost on restart")
		return storememory.NewTaskStore(retention(cfg), clock, tracer), func() {}, nil
	}
}

// BusRole decides the consumer group a kafka bus joins.
type BusRole int

const (
	// RoleGateway consumes progress updates. Every instance needs every
	// update, so each gets its own group and starts at the newest offset.
	RoleGateway BusRole = iota
	// RoleWorker consumes jobs. Workers share a group so each job runs once.
	RoleWorker
)

// Buses holds the buses opened for one process. With the memory backend both
// fields point at the same broker.
type Buses struct {
	Updates events.EventBus
	Jobs    events.EventBus

	closers []func() error
}

// Close closes every bus and the clients behind them.
func (b Buses) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		_ = b.closers[i]()
	}
}

// OpenBuses connects the configured event bus for each role requested.
func OpenBuses(
	ctx context.Context,
	cfg config.BusConfig,
	hostname string,
	mp metric.MeterProvider,
	log *logger.Logger,
	tracer trace.Tracer,
	roles ...BusRole,
) (Buses, error) {
	if cfg.Backend != config.BusKafka {
		broker := memory.NewBroker(log, tracer)
		return Buses{Updates: broker, Jobs: broker, closers: []func() error{broker.Close}}, nil
	}

	metrics, err := kafka.NewEventBusMetrics(mp)
	if err != nil {
		return Buses{}, fmt.Errorf("creating event bus metrics: %w", err)
	}

	var buses Buses
	open := func(role BusRole) (*kafka.EventBus, error) {
		group, newest, svc := cfg.Kafka.WorkerGroup, false, "worker"
		if role == RoleGateway {
			group, newest, svc = fmt.Sprintf("%s-%s", cfg.Kafka.GatewayGroup, hostname), true, "gateway"
		}

		client, err := kafka.NewClient(&kafka.ClientConfig{
			Brokers:         cfg.Kafka.Brokers,
			ClientID:        fmt.Sprintf("%s-%s-%s", cfg.Kafka.ClientID, svc, hostname),
			ServiceType:     svc,
			StartFromNewest: newest,
		})
		if err != nil {
			return nil, fmt.Errorf("creating kafka client: %w", err)
		}

		bus, err := kafka.ConnectEventBus(&kafka.EventBusConfig{
			ProgressTopic: cfg.Kafka.ProgressTopic,
			JobsTopic:     cfg.Kafka.JobsTopic,
			GroupID:       group,
			ClientID:      cfg.Kafka.ClientID,
			ServiceType:   svc,
		}, client, log, metrics, tracer)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		buses.closers = append(buses.closers, client.Close, bus.Close)
		log.Info(ctx, "startup", "status", "kafka event bus connected", "group", group)
		return bus, nil
	}

	for _, role := range roles {
		bus, err := open(role)
		if err != nil {
			buses.Close()
			return Buses{}, err
		}
		if role == RoleGateway {
			buses.Updates = bus
		} else {
			buses.Jobs = bus
		}
	}
	// Publishing only needs a producer; fall back to whichever bus exists.
	if buses.Updates == nil {
		buses.Updates = buses.Jobs
	}
	if buses.Jobs == nil {
		buses.Jobs = buses.Updates
	}
	return buses, nil
}

// Hostname returns the host name or "unknown".
func Hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
