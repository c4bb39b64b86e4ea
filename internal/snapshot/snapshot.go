// Package snapshot serializes merges into per-widget state documents and fans
// the resulting snapshots out to live subscribers.
//
// Every merge for one key runs inside an in-process critical section and a
// row-locked database transaction, so merges for the same key apply in the
// order their events were appended. Subscribers only converge on the latest
// version: intermediate versions may be skipped when a subscriber falls
// behind.
package snapshot

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/emcifuntik/twitch-overlay-widgets/internal/db"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/logger"
)

var log = logger.New("SNAPSHOT")

// Snapshot is the materialized state of one widget type on an overlay.
// WidgetID is nil for channel-scoped widget kinds.
type Snapshot struct {
	ID          string         `json:"snapshot_id"`
	OverlayID   uint           `json:"overlay_id"`
	WidgetID    *uint          `json:"widget_id"`
	WidgetType  string         `json:"widget_type"`
	State       map[string]any `json:"state"`
	Version     int64          `json:"version"`
	LastEventID string         `json:"last_event_id"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Key returns the storage key of the snapshot.
func (s *Snapshot) Key() db.SnapshotKey {
	key := db.SnapshotKey{OverlayID: s.OverlayID, WidgetType: s.WidgetType}
	if s.WidgetID != nil {
		key.WidgetID = *s.WidgetID
	}
	return key
}

func fromRow(row *db.WidgetSnapshot) (*Snapshot, error) {
	state := map[string]any{}
	if len(row.State) > 0 {
		if err := json.Unmarshal(row.State, &state); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot %s: %w", row.ID, err)
		}
	}
	snap := &Snapshot{
		ID:          row.ID,
		OverlayID:   row.OverlayID,
		WidgetType:  row.WidgetType,
		State:       state,
		Version:     row.Version,
		LastEventID: row.LastEventID,
		UpdatedAt:   row.UpdatedAt,
	}
	if row.WidgetID != 0 {
		id := row.WidgetID
		snap.WidgetID = &id
	}
	return snap, nil
}
