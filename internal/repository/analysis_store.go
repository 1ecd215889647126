package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"FinGuard/internal/domain/models"
	domrepo "FinGuard/internal/domain/repository"
	pkgch "FinGuard/pkg/clickhouse"
	applogger "FinGuard/pkg/logger"
)

const analysesTable = "analyses"

// AnalysisSchema returns the DDL for the analyses table. The full result is
// kept as JSON next to the columns used for filtering.
func AnalysisSchema(database string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
    id          String,
    source      LowCardinality(String),
    filename    String,
    created_at  DateTime64(3, 'UTC'),
    total       UInt32,
    anomalies   UInt32,
    accuracy    Float64,
    payload     String
) ENGINE = ReplacingMergeTree
ORDER BY id`, database, analysesTable),
	}
}

// CHAnalysisStore implements AnalysisStore backed by ClickHouse.
type CHAnalysisStore struct {
	db  *sql.DB
	l   *applogger.Logger
	now func() time.Time
}

var _ domrepo.AnalysisStore = (*CHAnalysisStore)(nil)

func NewCHAnalysisStore(ch *pkgch.Client, l *applogger.Logger) *CHAnalysisStore {
	if l == nil {
		l = applogger.Nop()
	}
	return &CHAnalysisStore{db: ch.DB(), l: l, now: time.Now}
}

type analysisRow struct {
	ID        string
	Source    string
	Filename  string
	CreatedAt time.Time
	Total     uint32
	Anomalies uint32
	Accuracy  float64
	Payload   string
}

// toRow flattens r. The creation time comes from analysis_timestamp, falling
// back to now when it does not parse.
func toRow(r *models.AnalysisResult, now time.Time) (analysisRow, error) {
	if r.ID == "" {
		return analysisRow{}, fmt.Errorf("analysis result has no id")
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return analysisRow{}, fmt.Errorf("encode analysis %s: %w", r.ID, err)
	}
	created, err := time.ParseInLocation(models.TimestampLayout, r.AnalysisTimestamp, time.Local)
	if err != nil {
		created = now
	}
	return analysisRow{
		ID:        r.ID,
		Source:    string(r.Source),
		Filename:  r.Filename,
		CreatedAt: created.UTC(),
		Total:     uint32(r.TotalTransactions),
		Anomalies: uint32(r.AnomaliesDetected),
		Accuracy:  r.AccuracyScore,
		Payload:   string(payload),
	}, nil
}

func fromPayload(payload string) (*models.AnalysisResult, error) {
	var r models.AnalysisResult
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return nil, fmt.Errorf("decode analysis payload: %w", err)
	}
	return &r, nil
}

func (s *CHAnalysisStore) Save(ctx context.Context, r *models.AnalysisResult) error {
	row, err := toRow(r, s.now())
	if err != nil {
		return err
	}
	q := fmt.Sprintf("INSERT INTO %s (id, source, filename, created_at, total, anomalies, accuracy, payload) VALUES (?, ?, ?, ?, ?, ?, ?, ?)", analysesTable)
	if _, err := s.db.ExecContext(ctx, q,
		row.ID, row.Source, row.Filename, row.CreatedAt,
		row.Total, row.Anomalies, row.Accuracy, row.Payload,
	); err != nil {
		s.l.Error("clickhouse save analysis failed", applogger.String("id", row.ID), applogger.Error(err))
		return fmt.Errorf("save analysis %s: %w", row.ID, err)
	}
	return nil
}

func (s *CHAnalysisStore) Get(ctx context.Context, id string) (*models.AnalysisResult, error) {
	q := fmt.Sprintf("SELECT payload FROM %s FINAL WHERE id = ? LIMIT 1", analysesTable)
	var payload string
	err := s.db.QueryRowContext(ctx, q, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domrepo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis %s: %w", id, err)
	}
	return fromPayload(payload)
}

func (s *CHAnalysisStore) List(ctx context.Context, f models.AnalysisFilter) ([]*models.AnalysisResult, error) {
	start := time.Now()
	q := fmt.Sprintf(`
        SELECT payload
        FROM %s FINAL
        WHERE (? = '' OR source = ?) AND created_at >= ?
        ORDER BY created_at DESC
        LIMIT ?`, analysesTable)
	rows, err := s.db.QueryContext(ctx, q, string(f.Source), string(f.Source), f.Since.UTC(), limitOrDefault(f.Limit))
	if err != nil {
		s.l.Error("clickhouse list analyses query error", applogger.String("source", string(f.Source)), applogger.Error(err))
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	out := make([]*models.AnalysisResult, 0, limitOrDefault(f.Limit))
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		r, err := fromPayload(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	s.l.Debug("clickhouse list analyses",
		applogger.Int("rows", len(out)),
		applogger.Duration("duration", time.Since(start)),
	)
	return out, nil
}

func (s *CHAnalysisStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op; the pool belongs to pkg/clickhouse.Client.
func (s *CHAnalysisStore) Close() error {
	return nil
}

func limitOrDefault(n int) int {
	if n <= 0 {
		return 20
	}
	return n
}
