package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore implements Store on a SQLite file so cached tokens survive
// restarts. Keys are stored as SHA-256 digests; the file never holds client
// credentials.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time

	getStmt   *sql.Stmt
	putStmt   *sql.Stmt
	sweepStmt *sql.Stmt
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("cache: sqlite path cannot be empty")
	}
	if strings.ContainsAny(path, "?#") {
		return nil, fmt.Errorf("cache: sqlite path %q must not contain '?' or '#'", path)
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", path, err)
	}

	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cache: init schema: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cache: prepare statements: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS upstream_tokens (
		key_hash   TEXT PRIMARY KEY,
		token      TEXT NOT NULL,
		expires_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_upstream_tokens_expires_at ON upstream_tokens(expires_at);
	`)
	return err
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.getStmt, err = s.db.Prepare(`
		SELECT token FROM upstream_tokens
		WHERE key_hash = ? AND expires_at > ?
	`)
	if err != nil {
		return fmt.Errorf("get: %w", err)
	}

	s.putStmt, err = s.db.Prepare(`
		INSERT INTO upstream_tokens (key_hash, token, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key_hash) DO UPDATE SET
			token = excluded.token,
			expires_at = excluded.expires_at
	`)
	if err != nil {
		return fmt.Errorf("put: %w", err)
	}

	s.sweepStmt, err = s.db.Prepare(`DELETE FROM upstream_tokens WHERE expires_at <= ?`)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	return nil
}

// Get returns the unexpired token stored for key.
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var token string
	err := s.getStmt.QueryRowContext(ctx, hashKey(key), s.now().UnixMilli()).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache: get: %w", err)
	}
	return token, true, nil
}

// Put upserts value under key with an expiry of now+ttl.
func (s *SQLiteStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	expiresAt := s.now().Add(ttl).UnixMilli()
	if _, err := s.putStmt.ExecContext(ctx, hashKey(key), value, expiresAt); err != nil {
		return fmt.Errorf("cache: put: %w", err)
	}
	return nil
}

// Sweep deletes rows that expired at or before now.
func (s *SQLiteStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	res, err := s.sweepStmt.ExecContext(ctx, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("cache: sweep: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cache: sweep rows affected: %w", err)
	}
	return int(n), nil
}

// Close closes prepared statements and the database.
func (s *SQLiteStore) Close() error {
	for _, stmt := range []*sql.Stmt{s.getStmt, s.putStmt, s.sweepStmt} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
	return s.db.Close()
}

// sqliteDSN builds the URI filename with the connection pragmas.
func sqliteDSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "synchronous(NORMAL)")
	u := url.URL{Scheme: "file", Opaque: path, RawQuery: q.Encode()}
	return u.String()
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
