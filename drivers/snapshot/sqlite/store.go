// Package sqlite persists solsync snapshots in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"go.uber.org/zap"

	"solsync"
	"solsync/common"
	"solsync/internal/logging"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	key        TEXT PRIMARY KEY,
	stored_at  INTEGER NOT NULL,
	payload    BLOB NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0
)`

type row struct {
	Key       string `db:"key"`
	StoredAt  int64  `db:"stored_at"`
	Payload   []byte `db:"payload"`
	ExpiresAt int64  `db:"expires_at"`
}

// Store implements solsync.SnapshotStore in a single table. Times are stored
// as Unix milliseconds; an expires_at of zero never expires.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	counters map[string]int
}

var _ solsync.SnapshotStore = (*Store)(nil)

// Option customizes a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = logging.OrNop(l) }
}

// WithNow overrides the time source used for expiry.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens (creating if needed) the database at path.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite snapshot store: %w", err)
	}
	// sqlite allows a single writer.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create snapshots table: %w", err)
	}
	s := &Store{db: db, logger: zap.NewNop(), now: time.Now, counters: make(map[string]int)}
	for _, opt := range opts {
		opt(s)
	}
	s.logger.Info("sqlite snapshot store ready", zap.String("path", path))
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) incrementCounter(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[name]++
}

// Get returns the snapshot under key, removing it if it has expired.
func (s *Store) Get(ctx context.Context, key string) (solsync.Snapshot, error) {
	s.incrementCounter("Get")
	var r row
	err := s.db.GetContext(ctx, &r, `SELECT key, stored_at, payload, expires_at FROM snapshots WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		s.incrementCounter("GetMiss")
		return solsync.Snapshot{}, common.ErrNotFound
	}
	if err != nil {
		s.incrementCounter("GetError")
		return solsync.Snapshot{}, fmt.Errorf("sqlite get snapshot '%s': %w", key, err)
	}
	if r.ExpiresAt != 0 && s.now().UnixMilli() >= r.ExpiresAt {
		s.incrementCounter("GetExpired")
		if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE key = ? AND expires_at = ?`, key, r.ExpiresAt); err != nil {
			s.logger.Warn("failed to remove expired snapshot", zap.String("key", key), zap.Error(err))
		}
		return solsync.Snapshot{}, common.ErrNotFound
	}
	s.incrementCounter("GetHit")
	return solsync.Snapshot{StoredAt: time.UnixMilli(r.StoredAt), Payload: r.Payload}, nil
}

// Set stores or replaces the snapshot under key.
func (s *Store) Set(ctx context.Context, key string, snap solsync.Snapshot, ttl time.Duration) error {
	s.incrementCounter("Set")
	r := row{Key: key, StoredAt: snap.StoredAt.UnixMilli(), Payload: snap.Payload}
	if r.Payload == nil {
		r.Payload = []byte("null")
	}
	if ttl > 0 {
		r.ExpiresAt = s.now().Add(ttl).UnixMilli()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO snapshots (key, stored_at, payload, expires_at)
		VALUES (:key, :stored_at, :payload, :expires_at)
		ON CONFLICT(key) DO UPDATE SET
			stored_at = excluded.stored_at,
			payload = excluded.payload,
			expires_at = excluded.expires_at`, r)
	if err != nil {
		return fmt.Errorf("sqlite set snapshot '%s': %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.incrementCounter("Delete")
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE key = ?`, key); err != nil {
		return fmt.Errorf("sqlite delete snapshot '%s': %w", key, err)
	}
	return nil
}

// Purge deletes every expired snapshot and reports how many went.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE expires_at != 0 AND expires_at <= ?`, s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sqlite purge snapshots: %w", err)
	}
	return res.RowsAffected()
}

// GetCacheStats returns a copy of the operation counters.
func (s *Store) GetCacheStats(ctx context.Context) solsync.CacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.counters))
	for k, v := range s.counters {
		out[k] = v
	}
	return solsync.CacheStats{Counters: out}
}
