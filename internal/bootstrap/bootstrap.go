// Package bootstrap builds the infrastructure shared by the api and worker binaries.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jwalitptl/crm-api/internal/config"
	"github.com/jwalitptl/crm-api/internal/repository"
	"github.com/jwalitptl/crm-api/internal/repository/memory"
	"github.com/jwalitptl/crm-api/internal/repository/postgres"
	"github.com/jwalitptl/crm-api/pkg/logger"
	"github.com/jwalitptl/crm-api/pkg/messaging"
	"github.com/jwalitptl/crm-api/pkg/messaging/rabbitmq"
	"github.com/jwalitptl/crm-api/pkg/messaging/redis"
)

func NewLogger(cfg config.LogConfig) *logger.Logger {
	return logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
		Console:    cfg.Format == "console",
	})
}

// OpenStore returns the store selected by database.driver and a func that closes it.
// sqlite databases always get the schema; postgres only with auto_migrate.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (repository.Store, func() error, error) {
	if cfg.Driver == "memory" {
		log.Warn("Using in-memory store, data is lost on restart")
		return memory.NewStore(), func() error { return nil }, nil
	}

	db, err := postgres.NewDB(cfg)
	if err != nil {
		return nil, nil, err
	}
	if cfg.AutoMigrate || cfg.Driver == "sqlite" {
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
		log.Info("Database schema ensured", "driver", cfg.Driver)
	}
	return postgres.NewStore(db), db.Close, nil
}

func NewBroker(cfg *config.Config, log *logger.Logger) (messaging.Broker, error) {
	switch cfg.Broker.Driver {
	case "redis":
		b, err := redis.NewRedisBroker(cfg.Redis.ToBrokerConfig(), log)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis broker: %w", err)
		}
		return b, nil
	case "rabbitmq":
		b, err := rabbitmq.NewRabbitMQBroker(cfg.Broker.RabbitMQ.ToBrokerConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create rabbitmq broker: %w", err)
		}
		return b, nil
	default:
		return messaging.NopBroker{}, nil
	}
}
