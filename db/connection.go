package db

import (
	"database/sql"
	"os"
	"path/filepath"

	_ "github.com/marcboeker/go-duckdb/v2"
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"

	"studio/config"
)

const dbFileName = "studio.db"

// DB wraps the DuckDB handle backing conversations, transcripts, sessions,
// and coordinator plans
type DB struct {
	conn *sql.DB
}

var instance *DB

// GetDB returns the shared store, opening and migrating it on first use
func GetDB() (*DB, error) {
	if instance != nil {
		return instance, nil
	}

	db, err := open(config.Get().DataDir)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(); err != nil {
		db.conn.Close()
		return nil, serr.Wrap(err, "migrations failed")
	}

	instance = db
	return instance, nil
}

func open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, serr.Wrap(err, "could not create data directory", "dir", dataDir)
	}

	dbPath := filepath.Join(dataDir, dbFileName)
	conn, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, serr.Wrap(err, "could not open store", "path", dbPath)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, serr.Wrap(err, "store is not responding", "path", dbPath)
	}

	logger.Info("Store opened", "path", dbPath)
	return &DB{conn: conn}, nil
}

// Close releases the database handle. The next GetDB reopens the store.
func (db *DB) Close() error {
	if db == instance {
		instance = nil
	}
	if db.conn == nil {
		return nil
	}
	return db.conn.Close()
}

// Transaction runs fn atomically, rolling back on error or panic
func (db *DB) Transaction(fn func(*sql.Tx) error) (err error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return serr.Wrap(err, "could not begin transaction")
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	err = tx.Commit()
	return serr.Wrap(err, "could not commit transaction")
}

// Query, QueryRow, and Exec delegate to the handle. Callers wrap errors with
// their own operation context.

func (db *DB) Query(query string, args ...interface{}) (*sql.Rows, error) {
	return db.conn.Query(query, args...)
}

func (db *DB) QueryRow(query string, args ...interface{}) *sql.Row {
	return db.conn.QueryRow(query, args...)
}

func (db *DB) Exec(query string, args ...interface{}) (sql.Result, error) {
	return db.conn.Exec(query, args...)
}
