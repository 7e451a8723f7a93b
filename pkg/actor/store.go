// Package actor is the per-actor facade over the event log.
//
// State is never stored authoritatively: every read folds the actor's log
// through the reducer. To keep that cheap, the fold starts from the most
// recent snapshot (written every SnapshotEvery events) and its result is
// cached. A cache entry is only trusted while its sequence key and event
// count both match the log head, so any append, including a late one with
// a lower key, forces a refold. Cache and snapshot writes are best-effort.
//
// The first access to an unknown actor seeds it: random starting
// inventory, an automatic first production run, and the resulting
// balance.
package actor

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/daviddao/cndq/pkg/clock"
	"github.com/daviddao/cndq/pkg/logging"
	"github.com/daviddao/cndq/pkg/model"
	"github.com/daviddao/cndq/pkg/reducer"
	"github.com/daviddao/cndq/pkg/solver"
	"github.com/daviddao/cndq/pkg/store"
)

// DefaultSnapshotEvery is the snapshot interval in folded events.
const DefaultSnapshotEvery = 50

// maxSeqAttempts bounds retries when another writer takes our sequence key.
const maxSeqAttempts = 8

// Gate is the caller's decision whether trading writes are allowed right
// now (for example, outside a trading session).
type Gate bool

const (
	TradingOpen   Gate = true
	TradingClosed Gate = false
)

func (g Gate) check() error {
	if !g {
		return model.ErrTradingClosed
	}
	return nil
}

// Store is the actor facade. Safe for concurrent use.
type Store struct {
	log           store.Log
	clock         *clock.Clock
	logger        logrus.FieldLogger
	recipe        solver.Recipe
	snapshotEvery int64
	startMin      int
	startMax      int

	randMu sync.Mutex
	rand   *rand.Rand

	names sync.Map // actor id -> display name
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l logrus.FieldLogger) Option { return func(s *Store) { s.logger = l } }

// WithRecipe sets the production recipe.
func WithRecipe(r solver.Recipe) Option { return func(s *Store) { s.recipe = r } }

// WithSnapshotEvery sets the snapshot interval.
func WithSnapshotEvery(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.snapshotEvery = int64(n)
		}
	}
}

// WithStartingInventory sets the range each starting resource amount is
// drawn from, inclusive.
func WithStartingInventory(min, max int) Option {
	return func(s *Store) { s.startMin, s.startMax = min, max }
}

// WithSeed makes starting inventories reproducible.
func WithSeed(seed int64) Option {
	return func(s *Store) { s.rand = rand.New(rand.NewSource(seed)) }
}

// WithClock replaces the sequence clock.
func WithClock(c *clock.Clock) Option { return func(s *Store) { s.clock = c } }

// New returns a Store over log.
func New(log store.Log, opts ...Option) *Store {
	s := &Store{
		log:           log,
		clock:         clock.New(),
		logger:        logging.Discard(),
		recipe:        solver.DefaultRecipe(),
		snapshotEvery: DefaultSnapshotEvery,
		startMin:      500,
		startMax:      2000,
	}
	for _, o := range opts {
		o(s)
	}
	if s.rand == nil {
		s.rand = rand.New(rand.NewSource(rand.Int63()))
	}
	return s
}

// Log returns the underlying event log.
func (s *Store) Log() store.Log { return s.log }

// Recipe returns the production recipe.
func (s *Store) Recipe() solver.Recipe { return s.recipe }

// State returns the actor's current state, seeding the actor on first
// access.
func (s *Store) State(id string) (model.ActorState, error) {
	if err := model.ValidateActorID(id); err != nil {
		return model.ActorState{}, err
	}
	if err := s.ensure(id); err != nil {
		return model.ActorState{}, err
	}
	return s.load(id)
}

// Exists reports whether the actor has any events, without seeding it.
func (s *Store) Exists(id string) (bool, error) {
	if err := model.ValidateActorID(id); err != nil {
		return false, err
	}
	h, err := s.log.Head(id)
	if err != nil {
		return false, fmt.Errorf("%w: %w", model.ErrStorage, err)
	}
	return h.Count > 0, nil
}

// Peek returns the state of an existing actor without seeding unknown
// ones; an actor with no events is ErrNotFound.
func (s *Store) Peek(id string) (model.ActorState, error) {
	ok, err := s.Exists(id)
	if err != nil {
		return model.ActorState{}, err
	}
	if !ok {
		return model.ActorState{}, fmt.Errorf("%w: actor %s", model.ErrNotFound, id)
	}
	return s.load(id)
}

// Events returns the raw log of an actor, seeding it on first access.
func (s *Store) Events(id string) ([]model.Event, error) {
	if err := model.ValidateActorID(id); err != nil {
		return nil, err
	}
	if err := s.ensure(id); err != nil {
		return nil, err
	}
	events, err := s.log.Events(id, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrStorage, err)
	}
	return events, nil
}

// Reset deletes everything stored for the actor. The next access seeds
// it again from scratch.
func (s *Store) Reset(id string) error {
	if err := model.ValidateActorID(id); err != nil {
		return err
	}
	if err := s.log.DeleteActor(id); err != nil {
		return fmt.Errorf("%w: reset %s: %w", model.ErrStorage, id, err)
	}
	s.names.Delete(id)
	s.logger.WithField("actor", id).Info("actor reset")
	return nil
}

// load folds the actor's log, using the cache and snapshot when they are
// still consistent with the log.
func (s *Store) load(id string) (model.ActorState, error) {
	log := s.logger.WithField("actor", id)

	head, err := s.log.Head(id)
	if err != nil {
		return model.ActorState{}, fmt.Errorf("%w: %w", model.ErrStorage, err)
	}
	cache, err := s.log.LoadCache(id)
	if err != nil {
		log.WithError(err).Warn("ignoring unreadable cache")
	} else if cache != nil && cache.Seq == head.Seq && cache.Events == head.Count {
		s.remember(id, cache.State)
		return cache.State, nil
	}

	base := reducer.Initial()
	var after, covered int64
	snap, err := s.log.LoadSnapshot(id)
	if err != nil {
		log.WithError(err).Warn("ignoring unreadable snapshot")
	} else if snap != nil && snap.Seq <= head.Seq && snap.State.EventsProcessed == snap.SnapshotEvents {
		base, after, covered = snap.State, snap.Seq, snap.SnapshotEvents
	}

	events, err := s.log.Events(id, after)
	if err != nil {
		return model.ActorState{}, fmt.Errorf("%w: %w", model.ErrStorage, err)
	}
	if after > 0 {
		// A snapshot is only usable if it covers exactly the events at or
		// below its key. An event appended late with a lower key breaks
		// that, and so does a concurrent append; both fall back to a full
		// fold.
		now, err := s.log.Head(id)
		if err != nil {
			return model.ActorState{}, fmt.Errorf("%w: %w", model.ErrStorage, err)
		}
		if covered+int64(len(events)) != now.Count {
			log.WithField("snapshot_events", covered).Debug("snapshot inconsistent with log, folding from scratch")
			base, after, covered = reducer.Initial(), 0, 0
			if events, err = s.log.Events(id, 0); err != nil {
				return model.ActorState{}, fmt.Errorf("%w: %w", model.ErrStorage, err)
			}
		}
	}

	state, latest := s.fold(base, covered, events)
	if latest != nil {
		if err := s.log.SaveSnapshot(id, *latest); err != nil {
			log.WithError(err).Warn("snapshot write failed")
		} else {
			log.WithFields(logrus.Fields{"seq": latest.Seq, "count": latest.SnapshotEvents}).Debug("snapshot written")
		}
	}
	if err := s.log.SaveCache(id, model.CacheEntry{State: state, Seq: state.LastUpdate, Events: state.EventsProcessed}); err != nil {
		log.WithError(err).Warn("cache write failed")
	}
	s.remember(id, state)
	return state, nil
}

// fold replays events onto base and returns the final state plus the
// last state that landed on a snapshot boundary, if any.
func (s *Store) fold(base model.ActorState, covered int64, events []model.Event) (model.ActorState, *model.Snapshot) {
	state := base
	var latest *model.Snapshot
	for len(events) > 0 {
		untilBoundary := s.snapshotEvery - state.EventsProcessed%s.snapshotEvery
		if int64(len(events)) < untilBoundary {
			state = reducer.Replay(state, events)
			break
		}
		state = reducer.Replay(state, events[:untilBoundary])
		events = events[untilBoundary:]
		if state.EventsProcessed > covered {
			latest = &model.Snapshot{
				State:          state,
				Seq:            state.LastUpdate,
				SnapshotEvents: state.EventsProcessed,
				CreatedAt:      state.LastUpdate,
			}
		}
	}
	return state, latest
}

func (s *Store) remember(id string, st model.ActorState) {
	if st.Profile.DisplayName != "" {
		s.names.Store(id, st.Profile.DisplayName)
	}
}

func (s *Store) displayName(id string) string {
	if v, ok := s.names.Load(id); ok {
		return v.(string)
	}
	return DisplayName(id)
}

// append validates p and writes it to the actor's log under a fresh
// sequence key, retrying when another writer got the same key first.
func (s *Store) append(id string, p model.Payload, dedupeKey string) (model.Event, error) {
	e, err := model.NewEvent(id, s.displayName(id), p)
	if err != nil {
		return model.Event{}, err
	}
	e.DedupeKey = dedupeKey
	for attempt := 0; attempt < maxSeqAttempts; attempt++ {
		head, err := s.log.Head(id)
		if err != nil {
			return model.Event{}, fmt.Errorf("%w: %w", model.ErrStorage, err)
		}
		s.clock.Receive(head.Seq)
		e.Seq = s.clock.Tick()

		err = s.log.Append(e)
		switch {
		case err == nil:
			s.logger.WithFields(logrus.Fields{"actor": id, "seq": e.Seq, "kind": e.Kind}).Debug("event appended")
			return e, nil
		case errors.Is(err, model.ErrDuplicateSeq):
			continue
		case errors.Is(err, model.ErrDuplicateKey):
			return model.Event{}, fmt.Errorf("%s %s: %w", e.Kind, dedupeKey, model.ErrDuplicateKey)
		default:
			return model.Event{}, fmt.Errorf("%w: append %s for %s: %w", model.ErrStorage, e.Kind, id, err)
		}
	}
	return model.Event{}, fmt.Errorf("%w: no free sequence key for %s after %d attempts", model.ErrStorage, id, maxSeqAttempts)
}

// ensure seeds the actor if its log is empty.
func (s *Store) ensure(id string) error {
	h, err := s.log.Head(id)
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrStorage, err)
	}
	if h.Count > 0 {
		return nil
	}
	return s.seed(id)
}

func (s *Store) startingAmount() float64 {
	s.randMu.Lock()
	defer s.randMu.Unlock()
	span := s.startMax - s.startMin + 1
	if span <= 1 {
		return float64(s.startMin)
	}
	return float64(s.startMin + s.rand.Intn(span))
}

// seed writes the init event and the automatic first production run. The
// init event carries a dedupe key so concurrent first accesses seed once.
func (s *Store) seed(id string) error {
	var inv model.Amounts
	for i := range inv {
		inv[i] = s.startingAmount()
	}
	name := DisplayName(id)
	zero := 0.0
	patch := model.InventoryPatch{C: &inv[0], N: &inv[1], D: &inv[2], Q: &inv[3]}

	plan, planErr := solver.Solve(s.recipe, inv)
	init := model.InitPayload{
		Profile:   &model.ProfilePatch{ID: &id, DisplayName: &name, Balance: &zero, StartingBalance: &zero},
		Inventory: &patch,
	}
	if planErr == nil {
		prices := plan.ShadowPrices
		init.ShadowPrices = &prices
	}

	if _, err := s.append(id, init, "init"); err != nil {
		if errors.Is(err, model.ErrDuplicateKey) {
			return nil
		}
		return err
	}
	s.names.Store(id, name)
	s.logger.WithFields(logrus.Fields{"actor": id, "name": name}).Info("actor created")

	if planErr != nil {
		s.logger.WithError(planErr).WithField("actor", id).Warn("initial production skipped")
		return nil
	}
	if _, err := s.recordProduction(id, plan, "automatic_initial", true); err != nil {
		return err
	}
	return nil
}
