package ledger

import (
	"database/sql"
	"fmt"
	"log"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS learnt (
	seq   INTEGER PRIMARY KEY AUTOINCREMENT,
	round INTEGER NOT NULL UNIQUE,
	v     TEXT    NOT NULL
);`

// SQLite stores the ledger in the 'learnt' table of a sqlite database file.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating it if needed) the database at @path and initializes the 'learnt' table.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite ledger %s: %w", path, err)
	}
	// a single connection, so ":memory:" databases are shared and writes never hit SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err = db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating 'learnt' table: %w", err)
	}
	log.Printf("[LEDGER] -> Using sqlite database %s.", path)
	return &SQLite{db: db}, nil
}

// TryAppend inserts the entry in the 'learnt' table unless the round already has a value.
func (s *SQLite) TryAppend(round uint64, v string) (inserted bool, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil || !inserted {
			_ = tx.Rollback()
		}
	}()

	var learnt string
	err = tx.QueryRow("SELECT v FROM learnt WHERE round = ?", int64(round)).Scan(&learnt)
	switch {
	case err == nil:
		if learnt == v {
			return false, nil
		}
		return false, conflict(round, learnt, v)
	case err != sql.ErrNoRows:
		return false, fmt.Errorf("reading round %d: %w", round, err)
	}

	if _, err = tx.Exec("INSERT INTO learnt (round, v) VALUES (?, ?)", int64(round), v); err != nil {
		return false, fmt.Errorf("inserting round %d: %w", round, err)
	}
	if err = tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// Get returns the 'v' field of the 'learnt' table for @round.
func (s *SQLite) Get(round uint64) (string, bool, error) {
	var v string
	err := s.db.QueryRow("SELECT v FROM learnt WHERE round = ?", int64(round)).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Entries returns every row of the 'learnt' table in insertion order.
func (s *SQLite) Entries() ([]Entry, error) {
	rows, err := s.db.Query("SELECT round, v FROM learnt ORDER BY seq")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			round int64
			e     Entry
		)
		if err := rows.Scan(&round, &e.Learnt); err != nil {
			return nil, err
		}
		e.Round = uint64(round)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
