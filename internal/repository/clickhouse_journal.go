package repository

import (
	"context"
	"database/sql"
	"fmt"

	"MarketMaker/internal/domain/models"
	domrepo "MarketMaker/internal/domain/repository"
	"MarketMaker/pkg/logger"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	PingContext(ctx context.Context) error
}

// ClickHouseJournal records fills, regime changes and session summaries.
type ClickHouseJournal struct {
	db  execer
	dbn string
	log *logger.Logger
}

var _ domrepo.Journal = (*ClickHouseJournal)(nil)

// NewClickHouseJournal creates a journal writing into database dbn.
func NewClickHouseJournal(db execer, dbn string, log *logger.Logger) *ClickHouseJournal {
	return &ClickHouseJournal{db: db, dbn: dbn, log: log.Component("journal")}
}

// Schema returns the idempotent DDL for the journal tables.
func (j *ClickHouseJournal) Schema() []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", j.dbn),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.fills (
			session_id String, step Int64, order_id String, side LowCardinality(String),
			qty Int32, price Float64, mid Float64, quality LowCardinality(String), edge Float64,
			tracked UInt8, latency_ms Float64, lifetime_steps Int64, inventory Int32, pnl Float64,
			regime LowCardinality(String), ts DateTime64(3)
		) ENGINE = MergeTree ORDER BY (session_id, step)`, j.dbn),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.regime_changes (
			session_id String, step Int64, from_regime LowCardinality(String), to_regime LowCardinality(String),
			instant LowCardinality(String), reason String, spread Float64, ts DateTime64(3)
		) ENGINE = MergeTree ORDER BY (session_id, step)`, j.dbn),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.sessions (
			session_id String, scenario LowCardinality(String), profile LowCardinality(String),
			steps Int64, dead_ticks Int64, fills Int64, orders_sent Int64, transitions Int64,
			final_inventory Int32, pnl Float64, started_at DateTime64(3), ended_at DateTime64(3)
		) ENGINE = ReplacingMergeTree(ended_at) ORDER BY session_id`, j.dbn),
	}
}

// Init creates the journal tables.
func (j *ClickHouseJournal) Init(ctx context.Context) error {
	for _, stmt := range j.Schema() {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("journal init: %w", err)
		}
	}
	return nil
}

func (j *ClickHouseJournal) RecordFill(ctx context.Context, f *models.FillRecord) error {
	q := fmt.Sprintf(`INSERT INTO %s.fills (session_id, step, order_id, side, qty, price, mid, quality, edge,
		tracked, latency_ms, lifetime_steps, inventory, pnl, regime, ts) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, j.dbn)
	tracked := uint8(0)
	if f.Tracked {
		tracked = 1
	}
	_, err := j.db.ExecContext(ctx, q,
		f.SessionID, f.Step, f.OrderID, string(f.Side),
		int32(f.Qty), f.Price, f.Mid, string(f.Quality), f.Edge,
		tracked, float64(f.Latency.Microseconds())/1000, f.Lifetime, int32(f.Inventory), f.PnL,
		string(f.Regime), f.Time,
	)
	if err != nil {
		return fmt.Errorf("journal fill %s: %w", f.OrderID, err)
	}
	return nil
}

func (j *ClickHouseJournal) RecordRegimeChange(ctx context.Context, c *models.RegimeChange) error {
	q := fmt.Sprintf(`INSERT INTO %s.regime_changes (session_id, step, from_regime, to_regime, instant, reason, spread, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, j.dbn)
	_, err := j.db.ExecContext(ctx, q,
		c.SessionID, c.Step, string(c.From), string(c.To), string(c.Instant), c.Reason, c.Spread, c.Time)
	if err != nil {
		return fmt.Errorf("journal regime change at %d: %w", c.Step, err)
	}
	return nil
}

func (j *ClickHouseJournal) RecordSummary(ctx context.Context, s *models.SessionSummary) error {
	q := fmt.Sprintf(`INSERT INTO %s.sessions (session_id, scenario, profile, steps, dead_ticks, fills, orders_sent,
		transitions, final_inventory, pnl, started_at, ended_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, j.dbn)
	_, err := j.db.ExecContext(ctx, q,
		s.SessionID, s.Scenario, s.Profile, s.Steps, s.DeadTicks, s.Fills, s.OrdersSent,
		s.Transitions, int32(s.FinalInventory), s.PnL, s.StartedAt, s.EndedAt)
	if err != nil {
		return fmt.Errorf("journal summary: %w", err)
	}
	j.log.Info("session summary journaled", logger.String("session_id", s.SessionID))
	return nil
}

func (j *ClickHouseJournal) Health(ctx context.Context) error { return j.db.PingContext(ctx) }

// Close is a no-op; the pool belongs to the ClickHouse client.
func (j *ClickHouseJournal) Close() error { return nil }
