package server

import (
	"context"
	"fmt"

	"ride-router/internal/config"
	"ride-router/internal/database"
	"ride-router/internal/postgres"
	"ride-router/internal/redisstore"
	"ride-router/internal/sqlite"
)

// OpenStore opens the snapshot store selected by cfg.Driver
func OpenStore(ctx context.Context, cfg config.StoreConfig) (database.DataStore, error) {
	var (
		store database.DataStore
		err   error
	)

	switch cfg.Driver {
	case config.DriverMemory:
		store, err = openJSON("")
	case config.DriverJSON, "":
		var path string
		if path, err = cfg.ResolvedJSONPath(); err == nil {
			store, err = openJSON(path)
		}
	case config.DriverSQLite:
		var path string
		if path, err = cfg.ResolvedSQLitePath(); err == nil {
			var s *sqlite.Store
			if s, err = sqlite.New(path); err == nil {
				store = s
			}
		}
	case config.DriverPostgres:
		var s *postgres.Store
		if s, err = postgres.Open(ctx, cfg.DatabaseURL); err == nil {
			store = s
		}
	case config.DriverRedis:
		var s *redisstore.Store
		if s, err = redisstore.Open(ctx, cfg.RedisURL); err == nil {
			store = s
		}
	default:
		err = fmt.Errorf("unknown store driver %q", cfg.Driver)
	}

	if err != nil {
		return nil, err
	}
	return store, nil
}

func openJSON(path string) (database.DataStore, error) {
	s, err := database.NewJSONStore(path)
	if err != nil {
		return nil, err
	}
	return s, nil
}
