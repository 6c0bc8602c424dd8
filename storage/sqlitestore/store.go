// Package sqlitestore implements the durable relational storage.Backend
// (C1) on top of modernc.org/sqlite, the pure-Go driver used by the
// teacher pack's ODSapper example. Grounded on
// ODSapper-CLIAIRMONITOR/internal/memory/operational.go's WAL +
// busy_timeout + schema-embed pattern, extended with the connection
// pool adaptive-sizing and prepared-statement cache SPEC_FULL.md adds
// in §C.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	epierrors "github.com/agentic-memory/epimem/errors"
	"github.com/agentic-memory/epimem/logging"
	"github.com/agentic-memory/epimem/model"
	"github.com/agentic-memory/epimem/storage"
)

//go:embed schema.sql
var schema string

var _ storage.Backend = (*Store)(nil)

// Config controls pool sizing and statement cache bounds. Defaults
// mirror config.StorageConfig; sqlitestore does not import config to
// avoid a dependency cycle, so memory.New translates.
type Config struct {
	Path              string
	MinPoolSize       int
	MaxPoolSize       int
	SizingInterval    time.Duration
	CooldownSamples   int
	HighWatermark     float64
	LowWatermark      float64
	GrowthIncrement   int
	KeepaliveInterval time.Duration
	StmtCacheSize     int
	Logger            logging.Logger
}

func (c *Config) applyDefaults() {
	if c.MinPoolSize == 0 {
		c.MinPoolSize = 2
	}
	if c.MaxPoolSize == 0 {
		c.MaxPoolSize = 20
	}
	if c.SizingInterval == 0 {
		c.SizingInterval = 5 * time.Second
	}
	if c.CooldownSamples == 0 {
		c.CooldownSamples = 3
	}
	if c.HighWatermark == 0 {
		c.HighWatermark = 0.8
	}
	if c.LowWatermark == 0 {
		c.LowWatermark = 0.3
	}
	if c.GrowthIncrement == 0 {
		c.GrowthIncrement = 2
	}
	if c.KeepaliveInterval == 0 {
		c.KeepaliveInterval = 30 * time.Second
	}
	if c.StmtCacheSize == 0 {
		c.StmtCacheSize = 128
	}
	if c.Logger == nil {
		c.Logger = logging.NoOpLogger{}
	}
}

// Store is the durable backend. It owns a bounded *sql.DB pool, a
// prepared-statement LRU, and a background adaptive-sizing + keepalive
// goroutine pair.
type Store struct {
	db     *sql.DB
	cfg    Config
	logger logging.Logger

	stmtCache *stmtCache

	curSize       int64 // current configured pool ceiling, atomic
	cooldownCount int64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New opens (creating if absent) the SQLite database at cfg.Path,
// applies WAL + busy_timeout, executes the schema, and starts the
// background pool-management goroutines.
func New(cfg Config) (*Store, error) {
	cfg.applyDefaults()

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, epierrors.New("sqlitestore.New", epierrors.KindStorage, "", err)
	}

	db.SetMaxOpenConns(cfg.MinPoolSize)
	db.SetMaxIdleConns(cfg.MinPoolSize)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, epierrors.New("sqlitestore.New", epierrors.KindStorage, "", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, epierrors.New("sqlitestore.New", epierrors.KindStorage, "", err)
	}

	if err := execSchema(db, cfg.Logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:        db,
		cfg:       cfg,
		logger:    cfg.Logger.WithComponent("epimem/storage"),
		stmtCache: newStmtCache(cfg.StmtCacheSize),
		curSize:   int64(cfg.MinPoolSize),
		stopCh:    make(chan struct{}),
	}

	s.wg.Add(2)
	go s.sizingLoop()
	go s.keepaliveLoop()

	return s, nil
}

// execSchema runs schema.sql, degrading the FTS5 virtual tables and
// their triggers to a no-op (logged once) if this sqlite build lacks
// FTS5 support, per SPEC_FULL.md §C.
func execSchema(db *sql.DB, logger logging.Logger) error {
	if _, err := db.Exec(schema); err != nil {
		// FTS5 unavailable in this build; fall back to the base tables only.
		logger.Warn("fts5 unavailable, full-text search will fall back to LIKE scans", map[string]interface{}{"error": err.Error()})
		if _, err := db.Exec(withoutFTS(schema)); err != nil {
			return epierrors.New("sqlitestore.execSchema", epierrors.KindStorage, "", err)
		}
	}
	return nil
}

func withoutFTS(full string) string {
	// Best-effort: strip anything from the first FTS5 virtual table
	// onward; the base tables above that point are unaffected.
	marker := "-- FTS5 virtual tables"
	for i := 0; i+len(marker) <= len(full); i++ {
		if full[i:i+len(marker)] == marker {
			return full[:i]
		}
	}
	return full
}

func (s *Store) Close() error {
	close(s.stopCh)
	s.wg.Wait()
	return s.db.Close()
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return epierrors.New("sqlitestore.HealthCheck", epierrors.KindStorage, "", err)
	}
	return nil
}

func (s *Store) Stats() map[string]interface{} {
	dbStats := s.db.Stats()
	return map[string]interface{}{
		"open_connections": dbStats.OpenConnections,
		"in_use":           dbStats.InUse,
		"idle":             dbStats.Idle,
		"pool_ceiling":     atomic.LoadInt64(&s.curSize),
		"stmt_cache":       s.stmtCache.stats(),
	}
}

// sizingLoop implements the adaptive connection pool policy from
// SPEC_FULL.md §C: grow on sustained high utilization, shrink on
// sustained low utilization, rate-limited to once per cooldown window.
func (s *Store) sizingLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.SizingInterval)
	defer ticker.Stop()

	var highStreak, lowStreak int
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			stats := s.db.Stats()
			ceiling := atomic.LoadInt64(&s.curSize)
			if ceiling == 0 {
				continue
			}
			utilization := float64(stats.InUse) / float64(ceiling)

			if utilization > s.cfg.HighWatermark {
				highStreak++
				lowStreak = 0
			} else if utilization < s.cfg.LowWatermark {
				lowStreak++
				highStreak = 0
			} else {
				highStreak, lowStreak = 0, 0
			}

			if highStreak >= s.cfg.CooldownSamples {
				newSize := ceiling + int64(s.cfg.GrowthIncrement)
				if newSize > int64(s.cfg.MaxPoolSize) {
					newSize = int64(s.cfg.MaxPoolSize)
				}
				if newSize != ceiling {
					atomic.StoreInt64(&s.curSize, newSize)
					s.db.SetMaxOpenConns(int(newSize))
					s.logger.Debug("grew connection pool", map[string]interface{}{"size": newSize})
				}
				highStreak = 0
			} else if lowStreak >= s.cfg.CooldownSamples {
				newSize := ceiling - 1
				if newSize < int64(s.cfg.MinPoolSize) {
					newSize = int64(s.cfg.MinPoolSize)
				}
				if newSize != ceiling {
					atomic.StoreInt64(&s.curSize, newSize)
					s.db.SetMaxOpenConns(int(newSize))
					s.logger.Debug("shrank connection pool", map[string]interface{}{"size": newSize})
				}
				lowStreak = 0
			}
		}
	}
}

// keepaliveLoop pings the pool periodically to evict dead connections
// before they're handed to a caller (SPEC_FULL.md §C). Every
// keepaliveClearEvery ticks it also clears the prepared-statement
// cache, bounding its memory per spec.md §4.1/§88 rather than letting
// it grow to cfg.StmtCacheSize and stay there indefinitely; the next
// query simply re-prepares and re-populates the LRU.
func (s *Store) keepaliveLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.KeepaliveInterval)
	defer ticker.Stop()
	const keepaliveClearEvery = 10
	tick := 0
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := s.db.PingContext(ctx); err != nil {
				s.logger.Warn("keepalive ping failed", map[string]interface{}{"error": err.Error()})
			}
			cancel()

			tick++
			if tick >= keepaliveClearEvery {
				tick = 0
				s.stmtCache.clear()
				s.logger.Debug("cleared prepared statement cache", nil)
			}
		}
	}
}

// prepare fetches a cached *sql.Stmt for query, preparing and caching
// it on miss. Keyed by the normalized SQL text itself.
func (s *Store) prepare(ctx context.Context, query string) (*sql.Stmt, error) {
	if stmt, ok := s.stmtCache.get(query); ok {
		return stmt, nil
	}
	stmt, err := s.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	s.stmtCache.put(query, stmt)
	return stmt, nil
}

// withRetry retries fn on recoverable storage errors with jittered
// exponential backoff (base 100ms, max 5s), per spec.md §4.1/§7.
func withRetry(ctx context.Context, attempts int, fn func() error) error {
	base := 100 * time.Millisecond
	max := 5 * time.Second
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !epierrors.IsRecoverable(lastErr) {
			return lastErr
		}
		delay := base * time.Duration(1<<uint(attempt))
		if delay > max {
			delay = max
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

func newID() string { return uuid.New().String() }

func marshal(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", epierrors.New("sqlitestore.marshal", epierrors.KindSerialization, "", err)
	}
	return string(b), nil
}

func unmarshal(data string, v interface{}) error {
	if data == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return epierrors.New("sqlitestore.unmarshal", epierrors.KindSerialization, "", err)
	}
	return nil
}

func embeddingTableFor(dim int) string {
	if model.IsPreferredDimension(dim) {
		return "embeddings_" + strconv.Itoa(dim)
	}
	return "embeddings_other"
}
