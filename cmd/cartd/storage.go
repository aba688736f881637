package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/cartsync/api/controllers"
	"github.com/angelmondragon/cartsync/internal/localstore"
	"github.com/angelmondragon/cartsync/pkg/config"
	"github.com/angelmondragon/cartsync/pkg/db"
	"github.com/angelmondragon/cartsync/pkg/logger"
	"github.com/angelmondragon/cartsync/pkg/migrate"
	"github.com/angelmondragon/cartsync/pkg/redis"
)

type storage struct {
	kv     localstore.KV
	pinger controllers.Pinger
	close  func()
}

// openStorage picks the Persistent Local Store backend named by config.
func openStorage(ctx context.Context, cfg *config.Config, logg *logger.Logger, redisClient *redis.Client) (*storage, error) {
	switch cfg.Storage.Backend {
	case config.StorageBackendMemory:
		mem := localstore.NewMemory()
		logg.Warn(ctx, "memory storage selected; cart is lost on restart")
		return &storage{kv: mem, pinger: mem, close: func() {}}, nil

	case config.StorageBackendSQL:
		dbClient, err := db.New(ctx, cfg.DB, logg)
		if err != nil {
			return nil, fmt.Errorf("bootstrap database: %w", err)
		}
		closeDB := func() {
			if err := dbClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing database", err)
			}
		}
		if err := migrate.MaybeRunAuto(ctx, cfg, logg, dbClient); err != nil {
			closeDB()
			return nil, fmt.Errorf("auto migrations: %w", err)
		}
		store, err := localstore.NewSQLStore(dbClient)
		if err != nil {
			closeDB()
			return nil, err
		}
		return &storage{kv: store, pinger: store, close: closeDB}, nil

	case config.StorageBackendRedis:
		if redisClient == nil {
			return nil, errors.New("redis storage selected but redis is not configured")
		}
		return &storage{kv: redisClient, pinger: redisClient, close: func() {}}, nil
	}
	return nil, fmt.Errorf("unsupported storage backend %q", cfg.Storage.Backend)
}
