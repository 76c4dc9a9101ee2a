// Package postgres opens pooled lib/pq connections from config.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/icd-code-search/pkg/config"
)

const connectTimeout = 5 * time.Second

// Client wraps a connection pool. Vocabulary loads use ReadOnly, analytics
// snapshots use InTx.
type Client struct {
	DB *sql.DB
}

// New opens the pool and verifies the server answers within connectTimeout.
func New(ctx context.Context, cfg config.PostgresConfig) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	c := &Client{DB: db}
	if err := c.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres %s:%d/%s: %w", cfg.Host, cfg.Port, cfg.Database, err)
	}
	return c, nil
}

func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := c.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging postgres: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.DB.Close()
}

// ReadOnly runs fn in a repeatable-read, read-only transaction, so the
// several queries of one vocabulary load see the same rows.
func (c *Client) ReadOnly(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return c.withTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}, fn)
}

// InTx runs fn in a read-write transaction.
func (c *Client) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return c.withTx(ctx, nil, fn)
}

// withTx commits when fn succeeds and rolls back otherwise. A rollback
// failure is reported alongside fn's error.
func (c *Client) withTx(ctx context.Context, opts *sql.TxOptions, fn func(tx *sql.Tx) error) (err error) {
	tx, err := c.DB.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			err = fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
