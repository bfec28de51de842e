// Package samplelog persists collected training samples to SQLite so
// accuracy can be analyzed offline. The sink is optional and entirely off
// the prediction hot path; it never blocks collection on failure.
package samplelog

import (
	"database/sql"
	"sync"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"
)

type Entry struct {
	QueryID        uint64
	Operator       string
	Actual         uint64
	Predicted      uint64
	EngineEstimate uint64
	QError         float64
	EngineQError   float64
}

type Log struct {
	db *sql.DB
	mu sync.Mutex
}

func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sample log")
	}

	schema := `
	CREATE TABLE IF NOT EXISTS rl_samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query_id INTEGER NOT NULL,
		operator TEXT NOT NULL,
		actual INTEGER NOT NULL,
		predicted INTEGER NOT NULL,
		engine_estimate INTEGER NOT NULL,
		q_error REAL NOT NULL,
		engine_q_error REAL NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "init sample log schema")
	}

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = NORMAL;
	`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "set sample log pragmas")
	}

	return &Log{db: db}, nil
}

// Append writes a batch of entries in one transaction.
func (l *Log) Append(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin sample log tx")
	}
	stmt, err := tx.Prepare(`
		INSERT INTO rl_samples
		(query_id, operator, actual, predicted, engine_estimate, q_error, engine_q_error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "prepare sample log insert")
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.Exec(
			int64(e.QueryID), e.Operator, int64(e.Actual), int64(e.Predicted),
			int64(e.EngineEstimate), e.QError, e.EngineQError,
		); err != nil {
			tx.Rollback()
			return errors.Wrap(err, "insert sample")
		}
	}
	return errors.Wrap(tx.Commit(), "commit sample log tx")
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.Close()
}
