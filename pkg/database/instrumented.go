package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"attendance.bridge/internal/config"
	"github.com/XSAM/otelsql"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// NewInstrumentedConnection creates a database connection with OpenTelemetry
// instrumentation and verifies it within timeout.
func NewInstrumentedConnection(ctx context.Context, cfg config.DBConfig, timeout time.Duration) (*sql.DB, error) {
	// otelsql.Open wraps the driver to intercept queries and create spans
	db, err := otelsql.Open("pgx", DSN(cfg),
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
		otelsql.WithSQLCommenter(true),
	)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	db.SetMaxOpenConns(2)

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error reaching database: %w", err)
	}

	return db, nil
}
