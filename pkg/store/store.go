// Package store manages SQLite persistence for cndq actor logs.
//
// SQLite in WAL mode is the shared medium: every process (CLI invocation,
// poller, tests) opens the same database file, appends to actor logs and
// reads the marketplace index. There is no coordinator. Concurrent
// appends to one actor are serialized by the (actor_id, seq) primary key;
// the loser gets model.ErrDuplicateSeq and retries with a fresh key.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/daviddao/cndq/pkg/model"

	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed Log.
type Store struct {
	db *sqlx.DB
}

// New opens (or creates) the SQLite database and initializes the schema.
func New(path string) (*Store, error) {
	// Transactions here always write, so they take the write lock at BEGIN
	// and wait on busy_timeout instead of failing a read-to-write upgrade.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// retryOnContention wraps retryOp from retry.go with the default config.
// All store write operations use this to ride out transient SQLite errors
// (BUSY, LOCKED, IOERR_SHORT_READ) under concurrent access.
func retryOnContention(fn func() error) error {
	return retryOp(defaultRetryConfig, fn)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		actor_id   TEXT NOT NULL,
		seq        INTEGER NOT NULL,
		kind       TEXT NOT NULL,
		actor_name TEXT NOT NULL DEFAULT '',
		payload    TEXT NOT NULL,
		dedupe_key TEXT,
		PRIMARY KEY (actor_id, seq)
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_events_dedupe
		ON events(actor_id, dedupe_key) WHERE dedupe_key IS NOT NULL;

	CREATE TABLE IF NOT EXISTS actor_cache (
		actor_id TEXT PRIMARY KEY,
		seq      INTEGER NOT NULL,
		events   INTEGER NOT NULL,
		state    BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS actor_snapshots (
		actor_id        TEXT PRIMARY KEY,
		seq             INTEGER NOT NULL,
		snapshot_events INTEGER NOT NULL,
		created_at      INTEGER NOT NULL,
		state           BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS market_index (
		pos        INTEGER PRIMARY KEY AUTOINCREMENT,
		actor_id   TEXT NOT NULL,
		seq        INTEGER NOT NULL,
		kind       TEXT NOT NULL,
		actor_name TEXT NOT NULL DEFAULT '',
		payload    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_market_actor ON market_index(actor_id);

	CREATE TABLE IF NOT EXISTS cursors (
		name TEXT PRIMARY KEY,
		pos  INTEGER NOT NULL DEFAULT 0
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

type eventRow struct {
	ActorID   string         `db:"actor_id"`
	Seq       int64          `db:"seq"`
	Kind      string         `db:"kind"`
	ActorName string         `db:"actor_name"`
	Payload   string         `db:"payload"`
	DedupeKey sql.NullString `db:"dedupe_key"`
}

func (r eventRow) event() model.Event {
	return model.Event{
		Kind:      model.EventKind(r.Kind),
		Payload:   []byte(r.Payload),
		Seq:       r.Seq,
		ActorID:   r.ActorID,
		ActorName: r.ActorName,
		DedupeKey: r.DedupeKey.String,
	}
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// Append persists e, its index row if the kind is indexed, and drops the
// actor's cache, all in one transaction.
func (s *Store) Append(e model.Event) error {
	if e.ActorID == "" || e.Seq <= 0 {
		return fmt.Errorf("%w: event needs an actor and a sequence key", model.ErrValidation)
	}
	var key sql.NullString
	if e.DedupeKey != "" {
		key = sql.NullString{String: e.DedupeKey, Valid: true}
	}
	err := retryOnContention(func() error {
		tx, err := s.db.Beginx()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if key.Valid {
			var n int
			if err := tx.Get(&n,
				`SELECT COUNT(*) FROM events WHERE actor_id = ? AND dedupe_key = ?`,
				e.ActorID, key,
			); err != nil {
				return err
			}
			if n > 0 {
				return model.ErrDuplicateKey
			}
		}
		if _, err := tx.Exec(
			`INSERT INTO events (actor_id, seq, kind, actor_name, payload, dedupe_key)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			e.ActorID, e.Seq, string(e.Kind), e.ActorName, string(e.Payload), key,
		); err != nil {
			return uniqueViolation(err)
		}
		if e.Kind.Indexed() {
			if _, err := tx.Exec(
				`INSERT INTO market_index (actor_id, seq, kind, actor_name, payload)
				 VALUES (?, ?, ?, ?, ?)`,
				e.ActorID, e.Seq, string(e.Kind), e.ActorName, string(e.Payload),
			); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(`DELETE FROM actor_cache WHERE actor_id = ?`, e.ActorID); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil && !errors.Is(err, model.ErrDuplicateSeq) && !errors.Is(err, model.ErrDuplicateKey) {
		return fmt.Errorf("append %s for %s: %w", e.Kind, e.ActorID, err)
	}
	return err
}

// uniqueViolation maps SQLite UNIQUE failures onto the model sentinels.
func uniqueViolation(err error) error {
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") {
		return err
	}
	if strings.Contains(msg, "dedupe_key") {
		return model.ErrDuplicateKey
	}
	return model.ErrDuplicateSeq
}

// Events returns the actor's events with seq > afterSeq, oldest first.
func (s *Store) Events(actorID string, afterSeq int64) ([]model.Event, error) {
	var rows []eventRow
	if err := s.db.Select(&rows,
		`SELECT actor_id, seq, kind, actor_name, payload, dedupe_key
		 FROM events WHERE actor_id = ? AND seq > ? ORDER BY seq ASC`,
		actorID, afterSeq,
	); err != nil {
		return nil, fmt.Errorf("list events for %s: %w", actorID, err)
	}
	events := make([]model.Event, 0, len(rows))
	for _, r := range rows {
		events = append(events, r.event())
	}
	return events, nil
}

// Head returns the actor's highest sequence key and event count.
func (s *Store) Head(actorID string) (Head, error) {
	var h Head
	err := s.db.QueryRowx(
		`SELECT COALESCE(MAX(seq), 0), COUNT(*) FROM events WHERE actor_id = ?`, actorID,
	).Scan(&h.Seq, &h.Count)
	if err != nil {
		return Head{}, fmt.Errorf("head for %s: %w", actorID, err)
	}
	return h, nil
}

// ListActors returns every actor with at least one event.
func (s *Store) ListActors() ([]string, error) {
	var ids []string
	if err := s.db.Select(&ids, `SELECT DISTINCT actor_id FROM events ORDER BY actor_id`); err != nil {
		return nil, fmt.Errorf("list actors: %w", err)
	}
	return ids, nil
}

// DeleteActor removes everything stored for actorID.
func (s *Store) DeleteActor(actorID string) error {
	return retryOnContention(func() error {
		tx, err := s.db.Beginx()
		if err != nil {
			return err
		}
		defer tx.Rollback()
		for _, q := range []string{
			`DELETE FROM events WHERE actor_id = ?`,
			`DELETE FROM actor_cache WHERE actor_id = ?`,
			`DELETE FROM actor_snapshots WHERE actor_id = ?`,
			`DELETE FROM market_index WHERE actor_id = ?`,
		} {
			if _, err := tx.Exec(q, actorID); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// ---------------------------------------------------------------------------
// Materialized state
// ---------------------------------------------------------------------------

// LoadCache returns the cached state for actorID, or nil if none.
func (s *Store) LoadCache(actorID string) (*model.CacheEntry, error) {
	var row struct {
		Seq    int64  `db:"seq"`
		Events int64  `db:"events"`
		State  []byte `db:"state"`
	}
	err := s.db.Get(&row, `SELECT seq, events, state FROM actor_cache WHERE actor_id = ?`, actorID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cache for %s: %w", actorID, err)
	}
	c := &model.CacheEntry{Seq: row.Seq, Events: row.Events}
	if err := DecodeBlob(row.State, &c.State); err != nil {
		return nil, fmt.Errorf("load cache for %s: %w", actorID, err)
	}
	return c, nil
}

// SaveCache replaces the cached state for actorID.
func (s *Store) SaveCache(actorID string, c model.CacheEntry) error {
	blob, err := EncodeBlob(c.State)
	if err != nil {
		return err
	}
	return retryOnContention(func() error {
		_, err := s.db.Exec(
			`INSERT INTO actor_cache (actor_id, seq, events, state) VALUES (?, ?, ?, ?)
			 ON CONFLICT(actor_id) DO UPDATE SET seq = excluded.seq, events = excluded.events, state = excluded.state`,
			actorID, c.Seq, c.Events, blob,
		)
		return err
	})
}

// LoadSnapshot returns the snapshot for actorID, or nil if none.
func (s *Store) LoadSnapshot(actorID string) (*model.Snapshot, error) {
	var row struct {
		Seq            int64  `db:"seq"`
		SnapshotEvents int64  `db:"snapshot_events"`
		CreatedAt      int64  `db:"created_at"`
		State          []byte `db:"state"`
	}
	err := s.db.Get(&row,
		`SELECT seq, snapshot_events, created_at, state FROM actor_snapshots WHERE actor_id = ?`, actorID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot for %s: %w", actorID, err)
	}
	snap := &model.Snapshot{Seq: row.Seq, SnapshotEvents: row.SnapshotEvents, CreatedAt: row.CreatedAt}
	if err := DecodeBlob(row.State, &snap.State); err != nil {
		return nil, fmt.Errorf("load snapshot for %s: %w", actorID, err)
	}
	return snap, nil
}

// SaveSnapshot replaces the snapshot for actorID.
func (s *Store) SaveSnapshot(actorID string, snap model.Snapshot) error {
	blob, err := EncodeBlob(snap.State)
	if err != nil {
		return err
	}
	return retryOnContention(func() error {
		_, err := s.db.Exec(
			`INSERT INTO actor_snapshots (actor_id, seq, snapshot_events, created_at, state)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(actor_id) DO UPDATE SET seq = excluded.seq,
			   snapshot_events = excluded.snapshot_events,
			   created_at = excluded.created_at, state = excluded.state`,
			actorID, snap.Seq, snap.SnapshotEvents, snap.CreatedAt, blob,
		)
		return err
	})
}

// ---------------------------------------------------------------------------
// Marketplace index
// ---------------------------------------------------------------------------

// Index returns index entries after afterPos in position order.
func (s *Store) Index(afterPos int64, limit int) ([]model.IndexEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	var rows []struct {
		Pos int64 `db:"pos"`
		eventRow
	}
	if err := s.db.Select(&rows,
		`SELECT pos, actor_id, seq, kind, actor_name, payload, NULL AS dedupe_key
		 FROM market_index WHERE pos > ? ORDER BY pos ASC LIMIT ?`,
		afterPos, limit,
	); err != nil {
		return nil, fmt.Errorf("list index: %w", err)
	}
	entries := make([]model.IndexEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, model.IndexEntry{Pos: r.Pos, Event: r.event()})
	}
	return entries, nil
}

// IndexHead returns the highest index position, or 0 if empty.
func (s *Store) IndexHead() (int64, error) {
	var pos int64
	if err := s.db.Get(&pos, `SELECT COALESCE(MAX(pos), 0) FROM market_index`); err != nil {
		return 0, fmt.Errorf("index head: %w", err)
	}
	return pos, nil
}

// ---------------------------------------------------------------------------
// Cursors
// ---------------------------------------------------------------------------

// Cursor returns the named cursor position (0 if unset).
func (s *Store) Cursor(name string) (int64, error) {
	var pos int64
	err := s.db.Get(&pos, `SELECT pos FROM cursors WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cursor %s: %w", name, err)
	}
	return pos, nil
}

// SetCursor stores the named cursor position.
func (s *Store) SetCursor(name string, pos int64) error {
	return retryOnContention(func() error {
		_, err := s.db.Exec(
			`INSERT INTO cursors (name, pos) VALUES (?, ?)
			 ON CONFLICT(name) DO UPDATE SET pos = excluded.pos`,
			name, pos,
		)
		return err
	})
}
