// Package postgres mirrors committed dataset versions into Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/rostertrack/internal/tracker"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// SummaryStoreConfig controls the Postgres connection pool used for the summary mirror.
type SummaryStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type beginCloser interface {
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// SummaryStore upserts person summaries keyed by name. Each row records the dataset version that
// last wrote it.
type SummaryStore struct {
	pool  beginCloser
	table string
}

// NewSummaryStore creates a Postgres-backed SummaryStore using the provided config.
func NewSummaryStore(ctx context.Context, cfg SummaryStoreConfig) (*SummaryStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &SummaryStore{pool: pool, table: table}, nil
}

// NewSummaryStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewSummaryStoreWithPool(pool beginCloser, table string) (*SummaryStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &SummaryStore{pool: pool, table: table}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = "person_summaries"
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *SummaryStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Mirror upserts every summary of a committed version in one transaction.
func (s *SummaryStore) Mirror(ctx context.Context, version int, summaries []tracker.PersonSummary) (err error) {
	if s == nil || s.pool == nil {
		return fmt.Errorf("summary store is not configured")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin mirror of version %d: %w", version, err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	query := fmt.Sprintf(`
INSERT INTO %s (
	name,
	university,
	department,
	url,
	start_date,
	end_date,
	years,
	active,
	placement,
	placement_url,
	snapshots,
	dataset_version
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)
ON CONFLICT (name) DO UPDATE SET
	university = EXCLUDED.university,
	department = EXCLUDED.department,
	url = EXCLUDED.url,
	start_date = EXCLUDED.start_date,
	end_date = EXCLUDED.end_date,
	years = EXCLUDED.years,
	active = EXCLUDED.active,
	placement = EXCLUDED.placement,
	placement_url = EXCLUDED.placement_url,
	snapshots = EXCLUDED.snapshots,
	dataset_version = EXCLUDED.dataset_version`, s.table)

	for _, summary := range summaries {
		snapshots, err := json.Marshal(nonNil(summary.Snapshots))
		if err != nil {
			return fmt.Errorf("marshal snapshots: %w", err)
		}
		args := []any{
			summary.Name,
			summary.University,
			summary.Department,
			summary.URL,
			summary.StartDate.Time,
			summary.EndDate.Time,
			summary.Years,
			summary.Active,
			summary.Placement,
			summary.PlacementURL,
			snapshots,
			version,
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert %q: %w", summary.Name, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit mirror of version %d: %w", version, err)
	}
	return nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
