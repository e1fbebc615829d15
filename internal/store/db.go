package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

// ApplicationName tags every connection in pg_stat_activity.
const ApplicationName = "crm-api"

// Open connects through pgx, tagging the session and bounding statement run
// time so a stuck report query cannot hold a pool slot forever.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	connConfig, err := pgx.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if connConfig.RuntimeParams == nil {
		connConfig.RuntimeParams = map[string]string{}
	}
	if _, ok := connConfig.RuntimeParams["application_name"]; !ok {
		connConfig.RuntimeParams["application_name"] = ApplicationName
	}
	if _, ok := connConfig.RuntimeParams["statement_timeout"]; !ok {
		connConfig.RuntimeParams["statement_timeout"] = "60000"
	}

	db := stdlib.OpenDB(*connConfig)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s@%s/%s: %w", connConfig.User, connConfig.Host, connConfig.Database, err)
	}
	return db, nil
}
