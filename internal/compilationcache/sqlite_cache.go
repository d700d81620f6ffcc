package compilationcache

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteCache is a Cache keeping all entries in one SQLite database, which suits deployments
// sharing a cache file between many processes.
type SQLiteCache struct {
	db *sql.DB
}

// NewSQLiteCache opens or creates the database at path. Close releases it.
func NewSQLiteCache(path string) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err = db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS programs (
		key BLOB PRIMARY KEY,
		content BLOB NOT NULL,
		created INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}
	return &SQLiteCache{db: db}, nil
}

// Get implements Cache.Get.
func (c *SQLiteCache) Get(key Key) (io.ReadCloser, bool, error) {
	var content []byte
	err := c.db.QueryRow("SELECT content FROM programs WHERE key = ?", key[:]).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("querying program: %w", err)
	}
	return io.NopCloser(bytes.NewReader(content)), true, nil
}

// Add implements Cache.Add.
func (c *SQLiteCache) Add(key Key, content io.Reader) error {
	b, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	_, err = c.db.Exec("INSERT OR REPLACE INTO programs (key, content, created) VALUES (?, ?, ?)",
		key[:], b, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("saving program: %w", err)
	}
	return nil
}

// Delete implements Cache.Delete.
func (c *SQLiteCache) Delete(key Key) error {
	if _, err := c.db.Exec("DELETE FROM programs WHERE key = ?", key[:]); err != nil {
		return fmt.Errorf("deleting program: %w", err)
	}
	return nil
}

// Len returns the number of entries.
func (c *SQLiteCache) Len() (n int, err error) {
	err = c.db.QueryRow("SELECT COUNT(*) FROM programs").Scan(&n)
	return
}

// Close closes the database.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}
