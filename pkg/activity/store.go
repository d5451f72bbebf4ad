package activity

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/apitracker/internal/platform"
)

// Store is the Durable Log Store (C2): an append-only activity_records
// table, indexed on (caller_id, timestamp) and (timestamp). Every
// operation is wrapped by the Retry Harness.
type Store struct {
	pool       *pgxpool.Pool
	retryCfg   platform.RetryConfig
}

// NewStore wraps a pgx pool with the default retry configuration.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, retryCfg: platform.DefaultRetryConfig}
}

// BulkInsert commits records as a single statement.
func (s *Store) BulkInsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	return platform.Retry(ctx, s.retryCfg, func() error {
		rows := make([][]any, len(records))
		for i, r := range records {
			rows[i] = []any{r.CallerID, r.CredentialID, r.Endpoint, r.Method, r.Status, r.ElapsedMs, r.SourceAddr, r.UserAgent, r.Timestamp}
		}

		_, err := s.pool.CopyFrom(ctx,
			pgx.Identifier{"activity_records"},
			[]string{"caller_id", "credential_id", "endpoint", "method", "status", "elapsed_ms", "source_addr", "user_agent", "timestamp"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("bulk inserting activity records: %w", err)
		}
		return nil
	})
}

// DailyUsage returns, for each calendar day in [now-days, now] where
// caller has activity, (date, count, avg(elapsed_ms), count where
// status>=400), ordered by date descending.
func (s *Store) DailyUsage(ctx context.Context, callerID string, days int) ([]DailyUsageRow, error) {
	const q = `
		SELECT
			to_char(date_trunc('day', timestamp), 'YYYY-MM-DD') AS day,
			count(*),
			avg(elapsed_ms),
			count(*) FILTER (WHERE status >= 400)
		FROM activity_records
		WHERE caller_id = $1 AND timestamp >= now() - ($2 || ' days')::interval
		GROUP BY day
		ORDER BY day DESC`

	var rows []DailyUsageRow
	err := platform.Retry(ctx, s.retryCfg, func() error {
		rows = nil
		r, err := s.pool.Query(ctx, q, callerID, days)
		if err != nil {
			return fmt.Errorf("querying daily usage: %w", err)
		}
		defer r.Close()

		for r.Next() {
			var row DailyUsageRow
			if err := r.Scan(&row.Date, &row.Count, &row.AvgElapsed, &row.Errors); err != nil {
				return fmt.Errorf("scanning daily usage row: %w", err)
			}
			rows = append(rows, row)
		}
		return r.Err()
	})
	return rows, err
}

// TopCallers returns the top `limit` callers by request count over
// [now-hours, now], ordered by count descending.
func (s *Store) TopCallers(ctx context.Context, hours, limit int) ([]TopCallerRow, error) {
	const q = `
		SELECT
			caller_id,
			count(*),
			avg(elapsed_ms),
			count(*) FILTER (WHERE status >= 400),
			to_char(max(timestamp), 'YYYY-MM-DD"T"HH24:MI:SS"Z"')
		FROM activity_records
		WHERE timestamp >= now() - ($1 || ' hours')::interval
		GROUP BY caller_id
		ORDER BY count(*) DESC
		LIMIT $2`

	var rows []TopCallerRow
	err := platform.Retry(ctx, s.retryCfg, func() error {
		rows = nil
		r, err := s.pool.Query(ctx, q, hours, limit)
		if err != nil {
			return fmt.Errorf("querying top callers: %w", err)
		}
		defer r.Close()

		for r.Next() {
			var row TopCallerRow
			if err := r.Scan(&row.CallerID, &row.Count, &row.AvgElapsed, &row.Errors, &row.LastAccess); err != nil {
				return fmt.Errorf("scanning top caller row: %w", err)
			}
			rows = append(rows, row)
		}
		return r.Err()
	})
	return rows, err
}

// DeleteOlderThan bulk-deletes records older than days and returns the
// number of rows removed.
func (s *Store) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	var affected int64
	err := platform.Retry(ctx, s.retryCfg, func() error {
		tag, err := s.pool.Exec(ctx, `DELETE FROM activity_records WHERE timestamp < now() - ($1 || ' days')::interval`, days)
		if err != nil {
			return fmt.Errorf("deleting old activity records: %w", err)
		}
		affected = tag.RowsAffected()
		return nil
	})
	return affected, err
}
