package weightstore

import (
	"database/sql"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS track_weights (
	track_id    TEXT PRIMARY KEY,
	pick_weight REAL NOT NULL,
	updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
);`

// SQLiteStore keeps records in an SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and creates if needed) the database at path.
// The path can be ":memory:" for an in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, errors.Wrap(err, "failed to create weight database directory")
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open weight database")
	}
	// A single connection keeps ":memory:" databases alive across calls.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping weight database")
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create weight schema")
	}

	return &SQLiteStore{db: db}, nil
}

// Load reads all records.
func (s *SQLiteStore) Load() (Records, error) {
	rows, err := s.db.Query("SELECT track_id, pick_weight FROM track_weights")
	if err != nil {
		return nil, errors.Wrap(err, "failed to query track weights")
	}
	defer rows.Close()

	records := make(Records)
	for rows.Next() {
		var id string
		var w float64
		if err := rows.Scan(&id, &w); err != nil {
			return nil, errors.Wrap(err, "failed to scan track weight")
		}
		records[id] = w
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read track weights")
	}
	return records, nil
}

// Save upserts every record in a single transaction.
func (s *SQLiteStore) Save(records Records) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
	INSERT INTO track_weights (track_id, pick_weight, updated_at)
	VALUES (?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(track_id) DO UPDATE SET
		pick_weight = excluded.pick_weight,
		updated_at = CURRENT_TIMESTAMP;`)
	if err != nil {
		return errors.Wrap(err, "failed to prepare upsert")
	}
	defer stmt.Close()

	for _, r := range records.List() {
		if _, err := stmt.Exec(r.ID, r.PickWeight); err != nil {
			return errors.Wrapf(err, "failed to save weight for %s", r.ID)
		}
	}

	return errors.Wrap(tx.Commit(), "failed to commit track weights")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
