package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"assistgen/cache"
	"assistgen/completion"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Cache is an exact-match cache backed by SQLite.
type Cache struct {
	db      *sqlx.DB
	maxSize int
	now     func() time.Time
	log     *zap.Logger
}

const createCacheTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	prefix      TEXT    NOT NULL,
	user_id     TEXT    NOT NULL,
	fingerprint TEXT    NOT NULL,
	response    TEXT    NOT NULL,
	created_at  INTEGER NOT NULL,
	last_hit    INTEGER NOT NULL,
	hit_count   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (prefix, user_id, fingerprint)
);
CREATE INDEX IF NOT EXISTS cache_entries_lru ON cache_entries (prefix, user_id, last_hit);
`

type Option func(*Cache)

func WithLogger(log *zap.Logger) Option {
	return func(c *Cache) { c.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New opens (or creates) the database at dbPath.
func New(dbPath string, maxSize int, opts ...Option) (*Cache, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("max cache size must be positive, got %d", maxSize)
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	// one writer at a time; sqlite would answer SQLITE_BUSY otherwise
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	c := &Cache{db: db, maxSize: maxSize, now: time.Now, log: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Lookup implements cache.Service
func (c *Cache) Lookup(ctx context.Context, p cache.Partition, conv completion.Conversation) (string, bool, error) {
	fp := cache.Fingerprint(conv)

	var answer string
	err := c.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &answer,
			`SELECT response FROM cache_entries WHERE prefix = ? AND user_id = ? AND fingerprint = ?`,
			p.Prefix, p.UserID, fp)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE cache_entries SET hit_count = hit_count + 1, last_hit = ?
			 WHERE prefix = ? AND user_id = ? AND fingerprint = ?`,
			c.now().UnixNano(), p.Prefix, p.UserID, fp)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache lookup: %w", err)
	}
	return answer, true, nil
}

// Update implements cache.Service
func (c *Cache) Update(ctx context.Context, p cache.Partition, conv completion.Conversation, answer string) error {
	fp := cache.Fingerprint(conv)
	now := c.now().UnixNano()

	var evicted int64
	err := c.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO cache_entries (prefix, user_id, fingerprint, response, created_at, last_hit, hit_count)
			 VALUES (?, ?, ?, ?, ?, ?, 0)`,
			p.Prefix, p.UserID, fp, answer, now, now)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`DELETE FROM cache_entries
			 WHERE prefix = ? AND user_id = ? AND fingerprint NOT IN (
				SELECT fingerprint FROM cache_entries
				WHERE prefix = ? AND user_id = ?
				ORDER BY last_hit DESC
				LIMIT ?
			 )`,
			p.Prefix, p.UserID, p.Prefix, p.UserID, c.maxSize)
		if err != nil {
			return err
		}
		evicted, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache update: %w", err)
	}
	if evicted > 0 {
		c.log.Debug("evict cache entries", zap.Stringer("partition", p), zap.Int64("count", evicted))
	}
	return nil
}

// Shutdown implements cache.Service
func (c *Cache) Shutdown() {
	if err := c.db.Close(); err != nil {
		c.log.Warn("fail to close cache db", zap.Error(err))
	}
}

// Len returns the entry count of p.
func (c *Cache) Len(ctx context.Context, p cache.Partition) (int, error) {
	var n int
	err := c.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM cache_entries WHERE prefix = ? AND user_id = ?`, p.Prefix, p.UserID)
	return n, err
}

// Stats returns totals across all partitions.
func (c *Cache) Stats(ctx context.Context) (cache.Stats, error) {
	var st cache.Stats
	err := c.db.QueryRowxContext(ctx,
		`SELECT COUNT(DISTINCT prefix || ':' || user_id), COUNT(*), COALESCE(SUM(hit_count), 0) FROM cache_entries`,
	).Scan(&st.Partitions, &st.Entries, &st.Hits)
	if err != nil {
		return cache.Stats{}, fmt.Errorf("cache stats: %w", err)
	}
	return st, nil
}

func (c *Cache) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
