package journal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
)

// executionRecord is the parquet schema for archived executions. Steps stays
// a JSON string so the archive is self-contained without a nested schema.
type executionRecord struct {
	ID          string `parquet:"id"`
	ReceivedAt  int64  `parquet:"received_at,timestamp(millisecond)"`
	Exchange    string `parquet:"exchange"`
	Symbol      string `parquet:"symbol"`
	Instrument  string `parquet:"instrument"`
	Direction   string `parquet:"direction"`
	Status      string `parquet:"status"`
	Plan        string `parquet:"plan"`
	Steps       string `parquet:"steps"`
	CacheStatus string `parquet:"cache_status"`
	Error       string `parquet:"error"`
	DurationMS  int64  `parquet:"duration_ms"`
}

// ExportMonth writes every execution received in the given calendar month
// (UTC) to <dir>/executions-YYYY-MM.parquet. It returns the file path and
// row count; a month with no rows writes nothing and returns an empty path.
func (s *Store) ExportMonth(ctx context.Context, dir string, year int, month time.Month) (string, int, error) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	rows, err := s.db.QueryContext(ctx, `SELECT id, received_at, exchange,
		symbol, instrument, direction, status, plan, steps, cache_status,
		error, duration_ms
		FROM executions
		WHERE received_at >= ? AND received_at < ?
		ORDER BY received_at, id`, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return "", 0, err
	}
	defer rows.Close()

	var records []executionRecord
	for rows.Next() {
		var r executionRecord
		if err := rows.Scan(&r.ID, &r.ReceivedAt, &r.Exchange, &r.Symbol,
			&r.Instrument, &r.Direction, &r.Status, &r.Plan, &r.Steps,
			&r.CacheStatus, &r.Error, &r.DurationMS); err != nil {
			return "", 0, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return "", 0, err
	}
	if len(records) == 0 {
		return "", 0, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, err
	}
	path := filepath.Join(dir, fmt.Sprintf("executions-%04d-%02d.parquet", year, int(month)))
	if err := parquet.WriteFile(path, records); err != nil {
		return "", 0, fmt.Errorf("writing archive %s: %w", path, err)
	}
	s.log.Info("archived executions", "path", path, "rows", len(records))
	return path, len(records), nil
}
