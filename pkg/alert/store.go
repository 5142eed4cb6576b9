package alert

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pario-ai/querygate/pkg/models"
)

// Store is an append-only alert log.
type Store interface {
	Append(ctx context.Context, a models.Alert) error
	// List returns up to limit alerts, newest first.
	List(ctx context.Context, limit int) ([]models.Alert, error)
}

const defaultListLimit = 100

// MemoryStore keeps alerts in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	alerts []models.Alert
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, a models.Alert) error {
	s.mu.Lock()
	s.alerts = append(s.alerts, a)
	s.mu.Unlock()
	return nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, limit int) ([]models.Alert, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Alert, 0, min(limit, len(s.alerts)))
	for i := len(s.alerts) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.alerts[i])
	}
	return out, nil
}

// SQLiteStore writes alerts to a dedicated SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the alert database and creates the schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open alert db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate alert db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS alerts (
		seq               INTEGER PRIMARY KEY AUTOINCREMENT,
		id                TEXT NOT NULL UNIQUE,
		ts_unix_ns        INTEGER NOT NULL,
		severity          TEXT NOT NULL,
		from_mode         TEXT NOT NULL,
		to_mode           TEXT NOT NULL,
		message           TEXT NOT NULL,
		triggering_amount REAL NOT NULL
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts_unix_ns)`)
	return err
}

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, a models.Alert) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, ts_unix_ns, severity, from_mode, to_mode, message, triggering_amount)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Timestamp.UnixNano(), string(a.Severity), a.FromMode.String(), a.ToMode.String(),
		a.Message, a.TriggeringAmount,
	)
	if err != nil {
		return fmt.Errorf("append alert: %w", err)
	}
	return nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]models.Alert, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts_unix_ns, severity, from_mode, to_mode, message, triggering_amount
		 FROM alerts ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		var a models.Alert
		var ts int64
		var severity, from, to string
		if err := rows.Scan(&a.ID, &ts, &severity, &from, &to, &a.Message, &a.TriggeringAmount); err != nil {
			return nil, fmt.Errorf("scan alert row: %w", err)
		}
		a.Timestamp = time.Unix(0, ts).UTC()
		a.Severity = models.AlertSeverity(severity)
		if a.FromMode, err = models.ParseMode(from); err != nil {
			return nil, fmt.Errorf("scan alert row: %w", err)
		}
		if a.ToMode, err = models.ParseMode(to); err != nil {
			return nil, fmt.Errorf("scan alert row: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
