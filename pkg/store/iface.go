// iface.go defines the Log interface every storage backend implements.
//
// The concrete *Store (SQLite) and fslog.FS (one file per event) both
// satisfy it. The actor store, the global view and the reflection
// protocol only ever talk to a Log, so either backend can sit underneath.
package store

import "github.com/daviddao/cndq/pkg/model"

// Head describes the tip of one actor's log.
type Head struct {
	Seq   int64 `json:"seq"`
	Count int64 `json:"count"`
}

// Log defines the full set of storage operations.
type Log interface {
	// Close releases any resources held by the backend.
	Close() error

	// --- Events ---

	// Append persists e. It fails with model.ErrDuplicateSeq when the
	// actor already has an event with e.Seq, and with
	// model.ErrDuplicateKey when e.DedupeKey is already taken. Indexed
	// kinds are also recorded in the marketplace index.
	Append(e model.Event) error

	// Events returns the actor's events with Seq > afterSeq in sequence
	// order.
	Events(actorID string, afterSeq int64) ([]model.Event, error)

	// Head returns the highest sequence key and the event count for the
	// actor. An unknown actor has the zero Head.
	Head(actorID string) (Head, error)

	// ListActors returns every actor id with at least one event, sorted.
	ListActors() ([]string, error)

	// DeleteActor drops an actor's events, cache, snapshot and index rows.
	DeleteActor(actorID string) error

	// --- Materialized state ---

	// LoadCache returns the cached state, or nil when there is none.
	LoadCache(actorID string) (*model.CacheEntry, error)

	// SaveCache atomically replaces the cached state.
	SaveCache(actorID string, c model.CacheEntry) error

	// LoadSnapshot returns the latest snapshot, or nil when there is none.
	LoadSnapshot(actorID string) (*model.Snapshot, error)

	// SaveSnapshot atomically replaces the snapshot.
	SaveSnapshot(actorID string, s model.Snapshot) error

	// --- Marketplace index ---

	// Index returns up to limit index entries with Pos > afterPos in
	// position order. limit <= 0 means no limit.
	Index(afterPos int64, limit int) ([]model.IndexEntry, error)

	// IndexHead returns the highest index position, or 0 if empty.
	IndexHead() (int64, error)

	// --- Cursors ---

	// Cursor returns the named cursor position (0 if unset).
	Cursor(name string) (int64, error)

	// SetCursor stores the named cursor position.
	SetCursor(name string, pos int64) error
}

// Compile-time check that *Store implements Log.
var _ Log = (*Store)(nil)
