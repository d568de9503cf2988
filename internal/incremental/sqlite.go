package incremental

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteStateStore keeps every state in one SQLite database, which suits
// state roots holding many small entries.
type SQLiteStateStore struct {
	db *sql.DB
}

// errCorruptDB reports a state database that failed its integrity check.
var errCorruptDB = errors.New("state database is corrupt")

// OpenSQLiteStateStore opens or creates the database at path. WAL mode and
// a busy timeout let several processes share it.
//
// A file that is not a database or fails its integrity check is moved aside
// to path+".corrupt" and replaced by an empty database, so every execution
// recomputes instead of failing.
func OpenSQLiteStateStore(path string, logger *zap.Logger) (*SQLiteStateStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	s, err := openSQLite(path)
	if err == nil || !isCorrupt(err) {
		return s, err
	}
	aside := path + ".corrupt"
	logger.Warn("discarding corrupt state database",
		zap.String("path", path), zap.String("moved_to", aside), zap.Error(err))
	if err := os.Rename(path, aside); err != nil {
		return nil, fmt.Errorf("move corrupt state db: %w", err)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(path + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove corrupt state db: %w", err)
		}
	}
	return openSQLite(path)
}

func openSQLite(path string) (*SQLiteStateStore, error) {
	// Pragmas in the DSN apply to every pooled connection.
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		key  TEXT PRIMARY KEY,
		body BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}
	var check string
	if err := db.QueryRow(`PRAGMA quick_check`).Scan(&check); err != nil {
		db.Close()
		return nil, fmt.Errorf("check state db: %w", err)
	}
	if check != "ok" {
		db.Close()
		return nil, fmt.Errorf("%w: %s", errCorruptDB, check)
	}
	return &SQLiteStateStore{db: db}, nil
}

func isCorrupt(err error) bool {
	if errors.Is(err, errCorruptDB) {
		return true
	}
	var sqlErr *sqlite.Error
	if !errors.As(err, &sqlErr) {
		return false
	}
	// Extended result codes keep the primary code in the low byte.
	switch sqlErr.Code() & 0xff {
	case sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_CORRUPT:
		return true
	}
	return false
}

func (s *SQLiteStateStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStateStore) Load(ctx context.Context, key string) (*State, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM state WHERE key = ?`, key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query state: %w", err)
	}
	return decodeState(body)
}

func (s *SQLiteStateStore) Save(ctx context.Context, key string, st *State) error {
	body, err := encodeState(st)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO state (key, body) VALUES (?, ?)`, key, body); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStateStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM state WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete state: %w", err)
	}
	return nil
}
