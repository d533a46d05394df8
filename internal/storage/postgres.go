package storage

import (
	"database/sql"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var postgresDialect = dialect{
	schema: []string{
		`CREATE TABLE IF NOT EXISTS reports (
			run_id TEXT PRIMARY KEY,
			recording TEXT NOT NULL,
			generated_at TIMESTAMPTZ NOT NULL,
			worst TEXT NOT NULL,
			result_count INTEGER NOT NULL,
			document JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reports_generated ON reports(generated_at)`,
		`CREATE TABLE IF NOT EXISTS results (
			id BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL,
			rule_id TEXT NOT NULL,
			topic TEXT NOT NULL,
			severity TEXT NOT NULL,
			score DOUBLE PRECISION,
			summary TEXT NOT NULL,
			values_json JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_results_run ON results(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_results_rule_severity ON results(rule_id, severity)`,
	},
	rebind:  numbered,
	timeArg: func(t time.Time) any { return t.UTC() },
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/flightcheck?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &sqlStore{db: db, d: postgresDialect}, nil
}
