package db

import (
	"context"
	"fmt"
	"time"

	"toeicprep/config"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// InitDB opens the postgres pool and verifies it with a ping.
func InitDB(cfg config.DBConfig) (*sqlx.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable not set")
	}

	conn, err := sqlx.Open("postgres", cfg.URL)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLife)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return conn, nil
}
