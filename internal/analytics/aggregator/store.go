// Package aggregator persists analytics snapshots to PostgreSQL so search
// statistics survive restarts.
package aggregator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/icd-code-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/pkg/postgres"
)

// Store requires a search_analytics_snapshots table:
//
//	CREATE TABLE search_analytics_snapshots (
//	    id          BIGSERIAL PRIMARY KEY,
//	    data        JSONB NOT NULL,
//	    captured_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type Store struct {
	db        *postgres.Client
	retention int
	logger    *slog.Logger
}

// NewStore keeps at most retention snapshots; older rows are pruned on save.
// A non-positive retention keeps everything.
func NewStore(db *postgres.Client, retention int) *Store {
	return &Store{
		db:        db,
		retention: retention,
		logger:    slog.Default().With("component", "analytics-store"),
	}
}

func (s *Store) SaveSnapshot(ctx context.Context, stats analytics.AggregatedStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshaling stats: %w", err)
	}

	err = s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO search_analytics_snapshots (data, captured_at) VALUES ($1, $2)`,
			data, time.Now().UTC(),
		); err != nil {
			return fmt.Errorf("saving analytics snapshot: %w", err)
		}
		if s.retention <= 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM search_analytics_snapshots
			 WHERE id NOT IN (
			     SELECT id FROM search_analytics_snapshots ORDER BY captured_at DESC LIMIT $1
			 )`,
			s.retention,
		); err != nil {
			return fmt.Errorf("pruning analytics snapshots: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("analytics snapshot saved",
		"total_searches", stats.TotalSearches,
		"zero_results", stats.ZeroResultCount,
	)
	return nil
}

// LatestSnapshot returns nil, nil when nothing has been saved yet.
func (s *Store) LatestSnapshot(ctx context.Context) (*analytics.AggregatedStats, error) {
	var data []byte
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT data FROM search_analytics_snapshots ORDER BY captured_at DESC LIMIT 1`,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest snapshot: %w", err)
	}

	var stats analytics.AggregatedStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("unmarshaling snapshot: %w", err)
	}
	return &stats, nil
}

// Restore seeds agg from the latest snapshot, if any.
func (s *Store) Restore(ctx context.Context, agg *analytics.Aggregator) error {
	stats, err := s.LatestSnapshot(ctx)
	if err != nil {
		return err
	}
	if stats == nil {
		return nil
	}
	agg.Seed(*stats)
	s.logger.Info("analytics restored from snapshot", "total_searches", stats.TotalSearches)
	return nil
}

// Run snapshots agg every interval until ctx is cancelled, then writes a
// final snapshot.
func (s *Store) Run(ctx context.Context, agg *analytics.Aggregator, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.logger.Info("periodic snapshot started", "interval", interval)

	for {
		select {
		case <-ticker.C:
			if err := s.SaveSnapshot(ctx, agg.Stats()); err != nil {
				s.logger.Error("periodic snapshot failed", "error", err)
			}
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.SaveSnapshot(shutdownCtx, agg.Stats()); err != nil {
				s.logger.Error("final snapshot failed", "error", err)
			}
			return
		}
	}
}
