package store

import (
	"context"
	"fmt"
)

// Supported storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open creates the Store for driver. path is used by SQLite, url by PostgreSQL.
func Open(ctx context.Context, driver, path, url string) (Store, error) {
	switch driver {
	case DriverSQLite, "":
		return NewSQLiteStore(path)
	case DriverPostgres:
		if url == "" {
			return nil, fmt.Errorf("postgres driver requires a database url")
		}
		pool, err := NewPool(ctx, url)
		if err != nil {
			return nil, err
		}
		s, err := NewPostgresStore(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
