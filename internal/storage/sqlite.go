package storage

import (
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	schema: []string{
		`CREATE TABLE IF NOT EXISTS reports (
			run_id TEXT PRIMARY KEY,
			recording TEXT NOT NULL,
			generated_at TEXT NOT NULL,
			worst TEXT NOT NULL,
			result_count INTEGER NOT NULL,
			document TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reports_generated ON reports(generated_at)`,
		`CREATE TABLE IF NOT EXISTS results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			rule_id TEXT NOT NULL,
			topic TEXT NOT NULL,
			severity TEXT NOT NULL,
			score REAL,
			summary TEXT NOT NULL,
			values_json TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_results_run ON results(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_results_rule_severity ON results(rule_id, severity)`,
	},
	rebind:  func(q string) string { return q },
	timeArg: sqliteTime,
}

// sqliteTime stores timestamps as fixed-width text so they sort correctly.
func sqliteTime(t time.Time) any {
	return t.UTC().Format(timeLayout)
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:flightcheck.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqlStore{db: db, d: sqliteDialect}, nil
}
