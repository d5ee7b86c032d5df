package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/md-rashed-zaman/apptbook/libs/config"
	"github.com/md-rashed-zaman/apptbook/libs/db"
	"github.com/md-rashed-zaman/apptbook/libs/kafkax"
	"github.com/md-rashed-zaman/apptbook/libs/runtime"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/consumer"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/inbox"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/storage/migrations"
)

type stores struct {
	pool         *db.Pool
	redis        *redis.Client
	tenants      storage.TenantStore
	settings     storage.SettingsStore
	appointments storage.AppointmentStore
	cache        booking.CacheInvalidator
	readyChecks  []runtime.ReadyCheck
}

func (s *stores) close() {
	if s.redis != nil {
		_ = s.redis.Close()
	}
	s.pool.Close()
}

// openStores picks the storage driver and layers the Redis tenant cache on
// top when REDIS_ADDR is set.
func openStores(ctx context.Context, logger *zap.Logger) (*stores, error) {
	st := &stores{}

	switch driver := strings.ToLower(config.String("STORAGE_DRIVER", "postgres")); driver {
	case "memory":
		logger.Warn("using in-memory storage; data is lost on restart")
		mem := storage.NewMemory()
		st.tenants, st.settings, st.appointments = mem, mem, mem
	case "postgres":
		dbURL, err := config.RequiredString("DATABASE_URL")
		if err != nil {
			return nil, err
		}
		maxConns, err := config.Int("DB_MAX_CONNS", 10)
		if err != nil {
			return nil, err
		}
		pool, err := db.Open(ctx, dbURL, db.Options{MaxConns: int32(maxConns)})
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		st.pool = pool
		if config.Bool("MIGRATE_ON_START", true) {
			if err := db.Migrate(ctx, pool, migrations.FS, migrations.Dir); err != nil {
				pool.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
			logger.Info("migrations applied")
		}
		pg := storage.NewPostgres(pool, outbox.NewRepository())
		st.tenants, st.settings, st.appointments = pg, pg, pg
		st.readyChecks = append(st.readyChecks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})
	default:
		return nil, fmt.Errorf("unknown STORAGE_DRIVER %q", driver)
	}

	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		redisDB, err := config.Int("REDIS_DB", 0)
		if err != nil {
			st.close()
			return nil, err
		}
		ttl, err := config.Duration("TENANT_CACHE_TTL", 5*time.Minute)
		if err != nil {
			st.close()
			return nil, err
		}
		st.redis = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       redisDB,
		})
		cache := storage.NewTenantCache(st.tenants, st.redis, ttl, logger.Named("tenant-cache"))
		st.tenants, st.cache = cache, cache
		rdb := st.redis
		st.readyChecks = append(st.readyChecks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	return st, nil
}

// startEvents runs the outbox publisher and the tenant settings consumer
// when Kafka is configured. The publisher needs Postgres; the memory driver
// keeps its events in process.
func startEvents(ctx context.Context, logger *zap.Logger, st *stores, svc *booking.Service) error {
	raw := config.String("KAFKA_BROKERS", "")
	brokers := kafkax.SplitBrokers(raw)
	if len(brokers) == 0 {
		logger.Info("kafka disabled")
		return nil
	}
	st.readyChecks = append(st.readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})

	if st.pool != nil {
		pollEvery, err := config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second)
		if err != nil {
			return err
		}
		writer := kafkax.NewWriter(brokers)
		publisher := outbox.NewPublisher(st.pool, outbox.NewRepository(), writer, logger.Named("outbox"), outbox.PublisherConfig{
			PollEvery: pollEvery,
			BatchSize: 50,
		})
		go func() {
			publisher.Run(ctx)
			_ = writer.Close()
		}()
	}

	var recorder consumer.Recorder = inbox.NewMemory()
	if st.pool != nil {
		recorder = inbox.NewRepository(st.pool)
	}
	reader := kafkax.NewReader(brokers, config.String("KAFKA_GROUP_ID", "booking-service"), outbox.TenantSettingsUpdated)
	events := consumer.New(reader, recorder, logger.Named("consumer"), consumer.TenantSettingsHandler(svc, logger.Named("consumer")))
	go events.Run(ctx)
	return nil
}
