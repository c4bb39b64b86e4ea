package snapshot

import (
	"context"
	"fmt"

	"github.com/emcifuntik/twitch-overlay-widgets/internal/db"
)

// Patch holds the top-level state fields an event sets. Fields not present
// keep their previous value.
type Patch map[string]any

// ReduceFunc computes the patch for an event from the current state. It must
// not modify state.
type ReduceFunc func(state map[string]any) Patch

// Publisher forwards committed snapshots to other instances.
type Publisher interface {
	Publish(ctx context.Context, snap *Snapshot) error
}

// Store commits events into snapshots and publishes the results.
type Store struct {
	db    *db.Store
	hub   *Hub
	relay Publisher
	locks *keyLocks
}

type Option func(*Store)

// WithRelay publishes every committed snapshot through p as well.
func WithRelay(p Publisher) Option {
	return func(s *Store) {
		s.relay = p
	}
}

func NewStore(store *db.Store, hub *Hub, opts ...Option) *Store {
	s := &Store{
		db:    store,
		hub:   hub,
		locks: newKeyLocks(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hub returns the local fan-out hub.
func (s *Store) Hub() *Hub {
	return s.hub
}

// Commit appends ev and merges the patch produced by reduce into the snapshot
// for key. Local subscribers see the new snapshot before the key is released,
// so they observe versions in commit order.
func (s *Store) Commit(ctx context.Context, ev *db.WidgetEvent, key db.SnapshotKey, reduce ReduceFunc) (*Snapshot, error) {
	unlock, err := s.locks.lock(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("waiting for snapshot %s: %w", key, err)
	}

	row, err := s.db.AppendAndMerge(ctx, ev, key, func(state map[string]any) (map[string]any, error) {
		for field, value := range reduce(state) {
			state[field] = value
		}
		return state, nil
	})
	if err != nil {
		unlock()
		return nil, err
	}
	snap, err := fromRow(row)
	if err != nil {
		unlock()
		return nil, err
	}
	s.hub.Publish(snap)
	unlock()

	if s.relay != nil {
		if err := s.relay.Publish(ctx, snap); err != nil {
			log.Warn("Relay publish of %s v%d failed: %v", key, snap.Version, err)
		}
	}
	return snap, nil
}

// Get returns the current snapshot for key, or nil when nothing was merged.
func (s *Store) Get(ctx context.Context, key db.SnapshotKey) (*Snapshot, error) {
	row, err := s.db.GetSnapshot(ctx, key)
	if err != nil || row == nil {
		return nil, err
	}
	return fromRow(row)
}

// ListOverlay returns every snapshot of the overlay. When widgetID is set,
// only that widget's snapshots are returned.
func (s *Store) ListOverlay(ctx context.Context, overlayID uint, widgetID *uint) ([]*Snapshot, error) {
	rows, err := s.db.ListSnapshots(ctx, overlayID)
	if err != nil {
		return nil, err
	}
	snaps := make([]*Snapshot, 0, len(rows))
	for i := range rows {
		if widgetID != nil && rows[i].WidgetID != *widgetID {
			continue
		}
		snap, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}
