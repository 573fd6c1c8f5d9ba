package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"NightScan/internal/domain/models"
	domrepo "NightScan/internal/domain/repository"
	applogger "NightScan/pkg/logger"
)

const defaultRunsTable = "pipeline_runs"

// RunsSchema returns the DDL for the runs archive table.
func RunsSchema(table string) []string {
	if table == "" {
		table = defaultRunsTable
	}
	return []string{
		fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            id          String,
            started_at  DateTime64(3, 'UTC'),
            finished_at DateTime64(3, 'UTC'),
            regime      LowCardinality(String),
            scored      UInt32,
            skipped     UInt32,
            errors      UInt32,
            warnings    UInt32,
            coverage    String,
            payload     String
        ) ENGINE = ReplacingMergeTree
        ORDER BY (started_at, id)`, table),
	}
}

// ClickHouseRunStore archives runs in ClickHouse. The full run is kept as a
// JSON payload next to a few columns for ad-hoc queries.
type ClickHouseRunStore struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

var _ domrepo.RunStore = (*ClickHouseRunStore)(nil)

func NewClickHouseRunStore(db *sql.DB, table string) *ClickHouseRunStore {
	if table == "" {
		table = defaultRunsTable
	}
	return &ClickHouseRunStore{db: db, table: table}
}

// SetLogger injects a structured logger.
func (s *ClickHouseRunStore) SetLogger(l *applogger.Logger) { s.l = l }

type runRow struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Regime     string
	Scored     uint32
	Skipped    uint32
	Errors     uint32
	Warnings   uint32
	Coverage   string
	Payload    string
}

func toRunRow(run models.PipelineRun) (runRow, error) {
	payload, err := json.Marshal(run)
	if err != nil {
		return runRow{}, fmt.Errorf("marshal run: %w", err)
	}
	return runRow{
		ID:         run.ID,
		StartedAt:  run.StartedAt.UTC(),
		FinishedAt: run.FinishedAt.UTC(),
		Regime:     string(run.Regime.Label),
		Scored:     uint32(len(run.Ranked)),
		Skipped:    uint32(len(run.Skipped)),
		Errors:     uint32(run.Errors),
		Warnings:   uint32(run.Warnings),
		Coverage:   run.Coverage,
		Payload:    string(payload),
	}, nil
}

func (s *ClickHouseRunStore) SaveRun(ctx context.Context, run models.PipelineRun) error {
	row, err := toRunRow(run)
	if err != nil {
		return err
	}
	q := fmt.Sprintf("INSERT INTO %s (id, started_at, finished_at, regime, scored, skipped, errors, warnings, coverage, payload) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", s.table)
	_, err = s.db.ExecContext(ctx, q,
		row.ID,
		row.StartedAt,
		row.FinishedAt,
		row.Regime,
		row.Scored,
		row.Skipped,
		row.Errors,
		row.Warnings,
		row.Coverage,
		row.Payload,
	)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse save_run error",
				applogger.String("table", s.table),
				applogger.String("run_id", run.ID),
				applogger.Error(err),
			)
		}
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// LatestRun returns the most recently started run, or nil when the archive
// is empty.
func (s *ClickHouseRunStore) LatestRun(ctx context.Context) (*models.PipelineRun, error) {
	q := fmt.Sprintf("SELECT payload FROM %s ORDER BY started_at DESC, id DESC LIMIT 1", s.table)
	var payload string
	if err := s.db.QueryRowContext(ctx, q).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if s.l != nil {
			s.l.Error("clickhouse latest_run query error",
				applogger.String("table", s.table),
				applogger.Error(err),
			)
		}
		return nil, fmt.Errorf("latest run: %w", err)
	}

	var run models.PipelineRun
	if err := json.Unmarshal([]byte(payload), &run); err != nil {
		return nil, fmt.Errorf("decode run: %w", err)
	}
	return &run, nil
}
