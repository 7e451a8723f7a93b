// Package fslog is a store.Log kept in plain files, one file per event.
//
// Layout under the root directory:
//
//	actors/<id>/event_<seq>_<kind>.json   one immutable event
//	actors/<id>/.seq_<seq>                reservation of a sequence key
//	actors/<id>/dedupe_<hex key>          event that claimed the key
//	actors/<id>/cache.json.zst            materialized state
//	actors/<id>/snapshot.json.zst         periodic snapshot
//	marketplace/<seq>_<id>_<kind>.json    index copy of indexed events
//	cursors/<name>                        cursor position
//
// Every file is written to a temporary name first. Event files are then
// hard-linked into place, which fails if the name exists, so two writers
// can never overwrite each other's event. Everything else is renamed into
// place, replacing the previous version atomically.
//
// An append first links the kind-free .seq_ marker, so two kinds cannot
// share one key. An event with a dedupe key then links a full copy of
// itself as the key's claim; the first claim wins and is never replaced.
// A claim whose event file is missing (its writer is still running, or
// died) is completed by whoever next presents the same key, so the key
// maps to exactly one event either way. Once the event file is linked the
// append has happened: index and cache upkeep after it only log failures.
//
// Index positions are sequence keys. Entries that share a key across
// actors, or land behind a cursor because of clock skew between writers,
// are picked up by the reflection sweep rather than the cursor pass.
package fslog

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/daviddao/cndq/pkg/logging"
	"github.com/daviddao/cndq/pkg/model"
	"github.com/daviddao/cndq/pkg/store"
)

const (
	actorsDir   = "actors"
	marketDir   = "marketplace"
	cursorsDir  = "cursors"
	eventPrefix = "event_"
	keyPrefix   = "dedupe_"
	cacheFile   = "cache.json.zst"
	snapFile    = "snapshot.json.zst"
)

// FS is the file-backed Log.
type FS struct {
	root   string
	logger logrus.FieldLogger
}

var _ store.Log = (*FS)(nil)

// Option configures an FS.
type Option func(*FS)

// WithLogger sets the logger for upkeep failures that do not fail a call.
func WithLogger(l logrus.FieldLogger) Option { return func(f *FS) { f.logger = l } }

// New opens (or creates) a file log rooted at dir.
func New(dir string, opts ...Option) (*FS, error) {
	for _, sub := range []string{actorsDir, marketDir, cursorsDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", sub, err)
		}
	}
	f := &FS{root: dir, logger: logging.Discard()}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Close is a no-op; every operation opens and closes its own files.
func (f *FS) Close() error { return nil }

func (f *FS) actorDir(id string) string { return filepath.Join(f.root, actorsDir, id) }

// seqMarker reserves a sequence key independent of the event kind.
func seqMarker(seq int64) string { return fmt.Sprintf(".seq_%020d", seq) }

func eventName(seq int64, kind model.EventKind) string {
	return fmt.Sprintf("%s%020d_%s.json", eventPrefix, seq, kind)
}

// parseSeq reads the sequence key that follows prefix in name.
func parseSeq(name, prefix string) (int64, bool) {
	rest, ok := strings.CutPrefix(name, prefix)
	if !ok {
		return 0, false
	}
	digits, _, _ := strings.Cut(rest, "_")
	seq, err := strconv.ParseInt(digits, 10, 64)
	return seq, err == nil
}

// ----- Events -----

// Append writes e as a new file; see the package doc for the protocol.
func (f *FS) Append(e model.Event) error {
	if e.ActorID == "" || e.Seq <= 0 {
		return fmt.Errorf("%w: event needs an actor and a sequence key", model.ErrValidation)
	}
	dir := f.actorDir(e.ActorID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create actor dir: %v", model.ErrStorage, err)
	}
	data, err := encodeEvent(e)
	if err != nil {
		return err
	}

	marker := filepath.Join(dir, seqMarker(e.Seq))
	if err := linkNew(dir, seqMarker(e.Seq), nil); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return model.ErrDuplicateSeq
		}
		return fmt.Errorf("%w: reserve sequence key: %v", model.ErrStorage, err)
	}
	if e.DedupeKey != "" {
		if err := f.claimKey(dir, e.DedupeKey, data); err != nil {
			os.Remove(marker)
			return err
		}
	}
	if err := linkNew(dir, eventName(e.Seq, e.Kind), data); err != nil && !errors.Is(err, fs.ErrExist) {
		if e.DedupeKey != "" {
			os.Remove(keyPath(dir, e.DedupeKey))
		}
		os.Remove(marker)
		return fmt.Errorf("%w: write event: %v", model.ErrStorage, err)
	}
	f.afterCommit(dir, e, data)
	return nil
}

func keyPath(dir, key string) string {
	return filepath.Join(dir, keyPrefix+hex.EncodeToString([]byte(key)))
}

// claimKey links data as the holder of key. When another event holds the
// key its event file is linked if still missing, and the result is
// ErrDuplicateKey.
func (f *FS) claimKey(dir, key string, data []byte) error {
	err := linkNew(dir, filepath.Base(keyPath(dir, key)), data)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%w: claim dedupe key: %v", model.ErrStorage, err)
	}
	raw, err := os.ReadFile(keyPath(dir, key))
	if err != nil {
		return fmt.Errorf("%w: read dedupe key: %v", model.ErrStorage, err)
	}
	holder, err := model.ParseEvent(raw)
	if err != nil {
		return fmt.Errorf("dedupe key %q: %w", key, err)
	}
	err = linkNew(dir, eventName(holder.Seq, holder.Kind), raw)
	switch {
	case err == nil:
		f.logger.WithFields(logrus.Fields{"actor": holder.ActorID, "seq": holder.Seq, "key": key}).
			Info("completed claimed event")
		f.afterCommit(dir, holder, raw)
	case !errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%w: complete claimed event: %v", model.ErrStorage, err)
	}
	return model.ErrDuplicateKey
}

// afterCommit writes the index copy and drops the cache. The event is
// already durable, so failures are logged; the reflection sweep reads
// actor logs directly and the cache is checked against Head anyway.
func (f *FS) afterCommit(dir string, e model.Event, data []byte) {
	log := f.logger.WithFields(logrus.Fields{"actor": e.ActorID, "seq": e.Seq, "kind": e.Kind})
	if e.Kind.Indexed() {
		name := fmt.Sprintf("%020d_%s_%s.json", e.Seq, e.ActorID, e.Kind)
		if err := writeAtomic(filepath.Join(f.root, marketDir, name), data); err != nil {
			log.WithError(err).Warn("write index entry failed")
		}
	}
	if err := os.Remove(filepath.Join(dir, cacheFile)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.WithError(err).Warn("invalidate cache failed")
	}
}

// eventFiles lists the actor's event files with their keys, sorted.
func (f *FS) eventFiles(id string) ([]seqFile, error) {
	entries, err := os.ReadDir(f.actorDir(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read actor dir: %v", model.ErrStorage, err)
	}
	var files []seqFile
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		if seq, ok := parseSeq(de.Name(), eventPrefix); ok {
			files = append(files, seqFile{seq: seq, name: de.Name()})
		}
	}
	sortFiles(files)
	return files, nil
}

type seqFile struct {
	seq  int64
	name string
}

func sortFiles(files []seqFile) {
	sort.Slice(files, func(i, j int) bool {
		if files[i].seq != files[j].seq {
			return files[i].seq < files[j].seq
		}
		return files[i].name < files[j].name
	})
}

// Events reads and validates the actor's event files after afterSeq.
func (f *FS) Events(id string, afterSeq int64) ([]model.Event, error) {
	files, err := f.eventFiles(id)
	if err != nil {
		return nil, err
	}
	dir := f.actorDir(id)
	var events []model.Event
	for _, sf := range files {
		if sf.seq <= afterSeq {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, sf.name))
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", model.ErrStorage, sf.name, err)
		}
		e, err := model.ParseEvent(raw)
		if err != nil {
			return nil, fmt.Errorf("%s/%s: %w", id, sf.name, err)
		}
		events = append(events, e)
	}
	return events, nil
}

// Head is computed from file names alone.
func (f *FS) Head(id string) (store.Head, error) {
	files, err := f.eventFiles(id)
	if err != nil {
		return store.Head{}, err
	}
	if len(files) == 0 {
		return store.Head{}, nil
	}
	return store.Head{Seq: files[len(files)-1].seq, Count: int64(len(files))}, nil
}

// ListActors returns actor directories holding at least one event.
func (f *FS) ListActors() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(f.root, actorsDir))
	if err != nil {
		return nil, fmt.Errorf("%w: list actors: %v", model.ErrStorage, err)
	}
	var ids []string
	for _, de := range entries {
		if !de.IsDir() {
			continue
		}
		if h, err := f.Head(de.Name()); err == nil && h.Count > 0 {
			ids = append(ids, de.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// DeleteActor removes the actor directory and its index entries.
func (f *FS) DeleteActor(id string) error {
	if err := os.RemoveAll(f.actorDir(id)); err != nil {
		return fmt.Errorf("%w: delete actor: %v", model.ErrStorage, err)
	}
	files, err := f.indexFiles()
	if err != nil {
		return err
	}
	for _, sf := range files {
		e, err := f.readIndexFile(sf.name)
		if err != nil || e.ActorID != id {
			continue
		}
		if err := os.Remove(filepath.Join(f.root, marketDir, sf.name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: delete index entry: %v", model.ErrStorage, err)
		}
	}
	return nil
}

// ----- Materialized state -----

func (f *FS) LoadCache(id string) (*model.CacheEntry, error) {
	var c model.CacheEntry
	ok, err := loadBlob(filepath.Join(f.actorDir(id), cacheFile), &c)
	if !ok || err != nil {
		return nil, err
	}
	return &c, nil
}

func (f *FS) SaveCache(id string, c model.CacheEntry) error {
	return saveBlob(f.actorDir(id), cacheFile, c)
}

func (f *FS) LoadSnapshot(id string) (*model.Snapshot, error) {
	var s model.Snapshot
	ok, err := loadBlob(filepath.Join(f.actorDir(id), snapFile), &s)
	if !ok || err != nil {
		return nil, err
	}
	return &s, nil
}

func (f *FS) SaveSnapshot(id string, s model.Snapshot) error {
	return saveBlob(f.actorDir(id), snapFile, s)
}

func loadBlob(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: read %s: %v", model.ErrStorage, filepath.Base(path), err)
	}
	if err := store.DecodeBlob(data, v); err != nil {
		return false, fmt.Errorf("%w: %s: %v", model.ErrStorage, filepath.Base(path), err)
	}
	return true, nil
}

func saveBlob(dir, name string, v any) error {
	data, err := store.EncodeBlob(v)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", model.ErrStorage, err)
	}
	if err := writeAtomic(filepath.Join(dir, name), data); err != nil {
		return fmt.Errorf("%w: write %s: %v", model.ErrStorage, name, err)
	}
	return nil
}

// ----- Marketplace index -----

func (f *FS) indexFiles() ([]seqFile, error) {
	entries, err := os.ReadDir(filepath.Join(f.root, marketDir))
	if err != nil {
		return nil, fmt.Errorf("%w: read index: %v", model.ErrStorage, err)
	}
	var files []seqFile
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		if seq, ok := parseSeq(de.Name(), ""); ok {
			files = append(files, seqFile{seq: seq, name: de.Name()})
		}
	}
	sortFiles(files)
	return files, nil
}

func (f *FS) readIndexFile(name string) (model.Event, error) {
	raw, err := os.ReadFile(filepath.Join(f.root, marketDir, name))
	if err != nil {
		return model.Event{}, fmt.Errorf("%w: read %s: %v", model.ErrStorage, name, err)
	}
	return model.ParseEvent(raw)
}

// Index returns index entries with key > afterPos. Unreadable entries
// are skipped.
func (f *FS) Index(afterPos int64, limit int) ([]model.IndexEntry, error) {
	files, err := f.indexFiles()
	if err != nil {
		return nil, err
	}
	var out []model.IndexEntry
	for _, sf := range files {
		if sf.seq <= afterPos {
			continue
		}
		e, err := f.readIndexFile(sf.name)
		if err != nil {
			continue
		}
		out = append(out, model.IndexEntry{Pos: sf.seq, Event: e})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *FS) IndexHead() (int64, error) {
	files, err := f.indexFiles()
	if err != nil || len(files) == 0 {
		return 0, err
	}
	return files[len(files)-1].seq, nil
}

// ----- Cursors -----

func (f *FS) Cursor(name string) (int64, error) {
	raw, err := os.ReadFile(filepath.Join(f.root, cursorsDir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: read cursor %s: %v", model.ErrStorage, name, err)
	}
	pos, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: cursor %s: %v", model.ErrStorage, name, err)
	}
	return pos, nil
}

func (f *FS) SetCursor(name string, pos int64) error {
	path := filepath.Join(f.root, cursorsDir, name)
	if err := writeAtomic(path, []byte(strconv.FormatInt(pos, 10))); err != nil {
		return fmt.Errorf("%w: write cursor %s: %v", model.ErrStorage, name, err)
	}
	return nil
}
