package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pario-ai/querygate/pkg/models"
)

// SQLiteStore keeps the ledger in a SQLite database. Day aggregates live in
// usage_days; query_log is append-only. Several processes may share the
// database file; ledger writes go through Append.
type SQLiteStore struct {
	db *sql.DB
}

const createLedgerTables = `
CREATE TABLE IF NOT EXISTS usage_days (
	date TEXT PRIMARY KEY,
	total_cost REAL NOT NULL,
	query_count INTEGER NOT NULL,
	total_execution_ns INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS query_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	date TEXT NOT NULL,
	seq INTEGER NOT NULL,
	ts_unix_ns INTEGER NOT NULL,
	cost REAL NOT NULL,
	execution_ns INTEGER NOT NULL,
	query_hash TEXT NOT NULL,
	UNIQUE(date, seq)
);
CREATE INDEX IF NOT EXISTS idx_query_log_date ON query_log(date, seq);
`

// NewSQLiteStore opens the database at dbPath and runs auto-migration.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure ledger db: %w", err)
	}
	if _, err := db.Exec(createLedgerTables); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context) (map[string]models.UsageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, total_cost, query_count, total_execution_ns FROM usage_days`)
	if err != nil {
		return nil, fmt.Errorf("load usage days: %w", err)
	}
	days := make(map[string]models.UsageRecord)
	for rows.Next() {
		var r models.UsageRecord
		var execNS int64
		if err := rows.Scan(&r.Date, &r.TotalCost, &r.QueryCount, &execNS); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan usage day: %w", err)
		}
		r.TotalExecutionTime = time.Duration(execNS)
		days[r.Date] = r
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	logRows, err := s.db.QueryContext(ctx,
		`SELECT date, ts_unix_ns, cost, execution_ns, query_hash FROM query_log ORDER BY date, seq`)
	if err != nil {
		return nil, fmt.Errorf("load query log: %w", err)
	}
	defer logRows.Close()
	for logRows.Next() {
		var date string
		var tsNS, execNS int64
		var e models.QueryLogEntry
		if err := logRows.Scan(&date, &tsNS, &e.Cost, &execNS, &e.QueryHash); err != nil {
			return nil, fmt.Errorf("scan query log: %w", err)
		}
		e.Timestamp = time.Unix(0, tsNS).UTC()
		e.ExecutionTime = time.Duration(execNS)
		r := days[date]
		r.QueryLog = append(r.QueryLog, e)
		days[date] = r
	}
	return days, logRows.Err()
}

// Save implements Store. Aggregates are upserted and only log entries
// beyond those already stored for a day are inserted, in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, days map[string]models.UsageRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger save: %w", err)
	}
	defer tx.Rollback()

	dates := make([]string, 0, len(days))
	for d := range days {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	for _, date := range dates {
		r := days[date]
		_, err := tx.ExecContext(ctx,
			`INSERT INTO usage_days (date, total_cost, query_count, total_execution_ns) VALUES (?, ?, ?, ?)
			 ON CONFLICT(date) DO UPDATE SET total_cost = excluded.total_cost,
			 query_count = excluded.query_count, total_execution_ns = excluded.total_execution_ns`,
			date, r.TotalCost, r.QueryCount, int64(r.TotalExecutionTime),
		)
		if err != nil {
			return fmt.Errorf("save usage day %s: %w", date, err)
		}

		var stored int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM query_log WHERE date = ?`, date).Scan(&stored); err != nil {
			return fmt.Errorf("count query log %s: %w", date, err)
		}
		for i := stored; i < len(r.QueryLog); i++ {
			e := r.QueryLog[i]
			_, err := tx.ExecContext(ctx,
				`INSERT INTO query_log (date, seq, ts_unix_ns, cost, execution_ns, query_hash) VALUES (?, ?, ?, ?, ?, ?)`,
				date, i, e.Timestamp.UnixNano(), e.Cost, int64(e.ExecutionTime), e.QueryHash,
			)
			if err != nil {
				return fmt.Errorf("append query log %s: %w", date, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger save: %w", err)
	}
	return nil
}

// Append implements Appender. The aggregate update runs first so the
// transaction holds the write lock before the next sequence number is read.
func (s *SQLiteStore) Append(ctx context.Context, date string, e models.QueryLogEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger append: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO usage_days (date, total_cost, query_count, total_execution_ns) VALUES (?, ?, 1, ?)
		 ON CONFLICT(date) DO UPDATE SET total_cost = total_cost + excluded.total_cost,
		 query_count = query_count + 1, total_execution_ns = total_execution_ns + excluded.total_execution_ns`,
		date, e.Cost, int64(e.ExecutionTime),
	)
	if err != nil {
		return fmt.Errorf("update usage day %s: %w", date, err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO query_log (date, seq, ts_unix_ns, cost, execution_ns, query_hash)
		 SELECT ?, COALESCE(MAX(seq) + 1, 0), ?, ?, ?, ? FROM query_log WHERE date = ?`,
		date, e.Timestamp.UnixNano(), e.Cost, int64(e.ExecutionTime), e.QueryHash, date,
	)
	if err != nil {
		return fmt.Errorf("append query log %s: %w", date, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger append: %w", err)
	}
	return nil
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
