// Package store owns everything warden persists: the relational tables
// in sqlite, the per-project decision vector index, and the single
// instance lock on the data directory.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/wardenhq/warden/internal/config"

	"github.com/philippgille/chromem-go"
	_ "modernc.org/sqlite"
)

type Store struct {
	db      *sql.DB
	dataDir string
	lock    *FileLock
	vectors *chromem.DB
}

// Open prepares the data directory, takes the instance lock, opens the
// database with foreign keys on and applies pending migrations.
func Open(cfg config.StoreConfig) (*Store, error) {
	dataDir, err := ResolveDataDir(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	lockTimeout, err := config.DurationOrDefault(cfg.LockTimeout, config.DefaultStoreLockTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse store.lock_timeout: %w", err)
	}
	lockRetry, err := config.DurationOrDefault(cfg.LockRetry, config.DefaultStoreLockRetry)
	if err != nil {
		return nil, fmt.Errorf("parse store.lock_retry: %w", err)
	}

	lock, err := NewFileLock(dataDir, FileLockConfig{Timeout: lockTimeout, Retry: lockRetry})
	if err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)", dbPath(dataDir))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	if err := migrate(db); err != nil {
		db.Close()
		lock.Unlock()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	if err := os.MkdirAll(vectorsPath(dataDir), 0o755); err != nil {
		db.Close()
		lock.Unlock()
		return nil, fmt.Errorf("create vector dir: %w", err)
	}
	vectors, err := chromem.NewPersistentDB(vectorsPath(dataDir), false)
	if err != nil {
		db.Close()
		lock.Unlock()
		return nil, fmt.Errorf("init vector db: %w", err)
	}

	return &Store{
		db:      db,
		dataDir: dataDir,
		lock:    lock,
		vectors: vectors,
	}, nil
}

func (s *Store) Close() error {
	err := s.db.Close()
	if s.lock != nil {
		s.lock.Unlock()
	}
	return err
}

func (s *Store) DataDir() string {
	return s.dataDir
}

// Time values are stored as fixed-width UTC strings so SQL string
// comparison follows time order. Parsing happens only at the repository
// boundary.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func scanNullTime(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	t := parseTime(v.String)
	return &t
}
