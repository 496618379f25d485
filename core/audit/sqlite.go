package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists records to a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at path and ensures schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	schema := `CREATE TABLE IF NOT EXISTS audit_records (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        ts INTEGER NOT NULL,
        kind TEXT NOT NULL,
        cycle_id TEXT,
        strategy TEXT,
        block_start INTEGER,
        inverter TEXT,
        mode TEXT,
        constraint_name TEXT,
        reason TEXT,
        decision_id TEXT
    );
    CREATE INDEX IF NOT EXISTS audit_records_ts ON audit_records (ts);`
	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Append writes the record to the database.
func (s *SQLiteStore) Append(ctx context.Context, rec Record) error {
	var block sql.NullInt64
	if !rec.BlockStart.IsZero() {
		block = sql.NullInt64{Int64: rec.BlockStart.Unix(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_records (ts, kind, cycle_id, strategy, block_start, inverter, mode, constraint_name, reason, decision_id)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp.UnixNano(), string(rec.Kind), rec.CycleID, rec.Strategy, block,
		rec.Inverter, rec.Mode, rec.Constraint, rec.Reason, rec.DecisionID)
	return err
}

// Query returns records matching q in insertion order.
func (s *SQLiteStore) Query(ctx context.Context, q Query) ([]Record, error) {
	var args []any
	query := `SELECT ts, kind, cycle_id, strategy, block_start, inverter, mode, constraint_name, reason, decision_id
        FROM audit_records WHERE 1=1`
	if !q.Start.IsZero() {
		query += ` AND ts >= ?`
		args = append(args, q.Start.UnixNano())
	}
	if !q.End.IsZero() {
		query += ` AND ts <= ?`
		args = append(args, q.End.UnixNano())
	}
	if q.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(q.Kind))
	}
	if q.Strategy != "" {
		query += ` AND strategy = ?`
		args = append(args, q.Strategy)
	}
	if q.Inverter != "" {
		query += ` AND inverter = ?`
		args = append(args, q.Inverter)
	}
	query += ` ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []Record
	for rows.Next() {
		var (
			r     Record
			ts    int64
			kind  string
			block sql.NullInt64
		)
		if err := rows.Scan(&ts, &kind, &r.CycleID, &r.Strategy, &block, &r.Inverter, &r.Mode, &r.Constraint, &r.Reason, &r.DecisionID); err != nil {
			return nil, err
		}
		r.Timestamp = time.Unix(0, ts).UTC()
		r.Kind = Kind(kind)
		if block.Valid {
			r.BlockStart = time.Unix(block.Int64, 0).UTC()
		}
		res = append(res, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return q.limit(res), nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
