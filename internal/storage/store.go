package storage

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"flightcheck/internal/config"
	"flightcheck/internal/model"
	"flightcheck/internal/report"
)

var ErrNotFound = errors.New("report not found")

type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveReport(ctx context.Context, rep *model.Report) error
	LoadReport(ctx context.Context, runID string) (*model.Report, error)
	ListReports(ctx context.Context, limit int) ([]ReportSummary, error)
}

type ReportSummary struct {
	RunID       string         `json:"run_id"`
	Recording   string         `json:"recording"`
	GeneratedAt time.Time      `json:"generated_at"`
	Worst       model.Severity `json:"worst"`
	Results     int            `json:"results"`
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

// dialect holds what differs between the SQL backends.
type dialect struct {
	schema  []string
	rebind  func(query string) string
	timeArg func(t time.Time) any
}

type sqlStore struct {
	db *sql.DB
	d  dialect
}

func (s *sqlStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *sqlStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	for _, stmt := range s.d.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveReport stores rep, replacing an earlier report with the same run id.
func (s *sqlStore) SaveReport(ctx context.Context, rep *model.Report) error {
	if s.db == nil || rep == nil {
		return nil
	}
	doc, err := report.MarshalRun(rep)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, stmt := range []string{`DELETE FROM results WHERE run_id = ?`, `DELETE FROM reports WHERE run_id = ?`} {
		if _, err := tx.ExecContext(ctx, s.d.rebind(stmt), rep.RunID()); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, s.d.rebind(
		`INSERT INTO reports (run_id, recording, generated_at, worst, result_count, document)
		VALUES (?, ?, ?, ?, ?, ?)`),
		rep.RunID(),
		rep.Recording().Name,
		s.d.timeArg(rep.GeneratedAt()),
		string(rep.Worst()),
		rep.Len(),
		string(bytes.TrimSpace(doc)),
	); err != nil {
		_ = tx.Rollback()
		return err
	}
	stmt, err := tx.PrepareContext(ctx, s.d.rebind(
		`INSERT INTO results (run_id, rule_id, topic, severity, score, summary, values_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, res := range rep.Results() {
		var score sql.NullFloat64
		if res.HasScore() {
			score = sql.NullFloat64{Float64: res.Score(), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			rep.RunID(),
			res.RuleID(),
			res.Topic(),
			string(res.Severity()),
			score,
			res.Summary(),
			encodeJSON(report.Values(res)),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *sqlStore) LoadReport(ctx context.Context, runID string) (*model.Report, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, s.d.rebind(`SELECT document FROM reports WHERE run_id = ?`), runID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, err
	}
	reps, err := report.Decode(strings.NewReader(doc))
	if err != nil {
		return nil, err
	}
	return reps[0], nil
}

// ListReports returns the newest reports first.
func (s *sqlStore) ListReports(ctx context.Context, limit int) ([]ReportSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.d.rebind(
		`SELECT run_id, recording, generated_at, worst, result_count FROM reports
		ORDER BY generated_at DESC, run_id LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ReportSummary
	for rows.Next() {
		var (
			sum       ReportSummary
			generated any
			worst     string
		)
		if err := rows.Scan(&sum.RunID, &sum.Recording, &generated, &worst, &sum.Results); err != nil {
			return nil, err
		}
		if sum.GeneratedAt, err = scanTime(generated); err != nil {
			return nil, err
		}
		sum.Worst = model.Severity(worst)
		out = append(out, sum)
	}
	return out, rows.Err()
}

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func scanTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return time.Parse(timeLayout, t)
	case []byte:
		return time.Parse(timeLayout, string(t))
	}
	return time.Time{}, fmt.Errorf("unexpected time value %T", v)
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

// numbered rewrites ? placeholders as $1, $2, ...
func numbered(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
