package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"commute-briefing/internal/briefing"
	"commute-briefing/internal/quota"
)

// Store persists quota counters across restarts and keeps a history of
// published snapshots. The whole package is optional: without a DSN the
// daemon runs ledger-in-memory only.
type Store struct {
	db *sql.DB
}

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Store{db: db}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error { return s.db.Close() }

// EnsureSchema creates the two tables the daemon needs. Idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS quota_days (
			day         text PRIMARY KEY,
			used_manual integer NOT NULL DEFAULT 0,
			used_auto   integer NOT NULL DEFAULT 0,
			updated_at  timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			id             text PRIMARY KEY,
			trigger_class  text NOT NULL,
			fetched_at     timestamptz NOT NULL,
			office_day     boolean NOT NULL,
			bus_source     text NOT NULL,
			issue_detected boolean NOT NULL,
			payload        jsonb NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS snapshots_fetched_at_idx ON snapshots (fetched_at DESC)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// LoadQuota returns the persisted counters for the given day marker.
// A day with no row reports (0, 0, false).
func (s *Store) LoadQuota(ctx context.Context, day string) (usedManual, usedAuto int, found bool, err error) {
	q := `SELECT used_manual, used_auto FROM quota_days WHERE day = $1`
	err = s.db.QueryRowContext(ctx, q, day).Scan(&usedManual, &usedAuto)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, fmt.Errorf("load quota: %w", err)
	}
	return usedManual, usedAuto, true, nil
}

func (s *Store) SaveQuota(ctx context.Context, qs quota.Snapshot) error {
	q := `INSERT INTO quota_days (day, used_manual, used_auto, updated_at)
	      VALUES ($1, $2, $3, now())
	      ON CONFLICT (day) DO UPDATE
	      SET used_manual = EXCLUDED.used_manual,
	          used_auto = EXCLUDED.used_auto,
	          updated_at = now()`
	if _, err := s.db.ExecContext(ctx, q, qs.Day, qs.UsedManual, qs.UsedAuto); err != nil {
		return fmt.Errorf("save quota: %w", err)
	}
	return nil
}

func (s *Store) InsertSnapshot(ctx context.Context, snap *briefing.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	q := `INSERT INTO snapshots (id, trigger_class, fetched_at, office_day, bus_source, issue_detected, payload)
	      VALUES ($1, $2, $3, $4, $5, $6, $7)
	      ON CONFLICT (id) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, q,
		snap.ID, string(snap.Trigger), snap.FetchedAt,
		snap.OfficeDay.IsOfficeDay, string(snap.BusSource), snap.IssueDetected,
		payload,
	); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// RecentSnapshots returns the newest persisted snapshots, newest first.
func (s *Store) RecentSnapshots(ctx context.Context, limit int) ([]briefing.Snapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT payload FROM snapshots ORDER BY fetched_at DESC LIMIT $1`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []briefing.Snapshot
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var snap briefing.Snapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

var _ briefing.Store = (*Store)(nil)
