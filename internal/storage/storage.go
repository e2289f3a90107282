// Package storage opens the SQL database backing the persistent audit log and
// keeps its schema current.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/canonica-labs/rlsdemo/internal/errors"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// pingTimeout bounds the connectivity check in Open.
const pingTimeout = 5 * time.Second

// Open opens and pings a database for driver. The returned DB must be closed
// by the caller.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	switch driver {
	case DriverPostgres, DriverSQLite:
	case "":
		return nil, errors.NewInvalidConfig("audit.driver", "driver is required")
	default:
		return nil, errors.NewInvalidConfig("audit.driver", fmt.Sprintf("unsupported driver %q (use postgres or sqlite)", driver))
	}
	if dsn == "" {
		return nil, errors.NewInvalidConfig("audit.dsn", "dsn is required")
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.NewServiceUnavailable(driver, err.Error())
	}
	if driver == DriverSQLite {
		// One connection keeps ":memory:" databases alive and serializes writers.
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, errors.NewServiceUnavailable(driver, fmt.Sprintf("failed to ping database: %v", err))
	}
	return db, nil
}

// OpenAndMigrate opens the database and applies pending migrations.
func OpenAndMigrate(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	db, err := Open(ctx, driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := NewMigrationRunner(db).Run(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
