package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SnapshotKey identifies one snapshot row. WidgetID 0 is the channel-scoped
// snapshot of the widget type on that overlay.
type SnapshotKey struct {
	OverlayID  uint
	WidgetID   uint
	WidgetType string
}

func (k SnapshotKey) String() string {
	return fmt.Sprintf("%d/%d/%s", k.OverlayID, k.WidgetID, k.WidgetType)
}

// MergeFunc receives the current decoded state and returns the next one.
type MergeFunc func(state map[string]any) (map[string]any, error)

// AppendAndMerge appends ev and folds it into the snapshot for key inside one
// transaction. The snapshot row is locked before the event is inserted, so
// merges on the same key apply in append order.
func (s *Store) AppendAndMerge(ctx context.Context, ev *WidgetEvent, key SnapshotKey, merge MergeFunc) (*WidgetSnapshot, error) {
	var snap WidgetSnapshot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		empty := WidgetSnapshot{
			OverlayID:  key.OverlayID,
			WidgetID:   key.WidgetID,
			WidgetType: key.WidgetType,
			State:      datatypes.JSON("{}"),
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&empty).Error; err != nil {
			return fmt.Errorf("failed to ensure snapshot %s: %w", key, err)
		}

		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("snapshot_overlay_id = ? AND snapshot_widget_id = ? AND snapshot_widget_type = ?",
				key.OverlayID, key.WidgetID, key.WidgetType).
			First(&snap).Error
		if err != nil {
			return fmt.Errorf("failed to lock snapshot %s: %w", key, err)
		}

		if err := tx.Create(ev).Error; err != nil {
			return fmt.Errorf("failed to append %s/%s event: %w", ev.WidgetType, ev.EventType, err)
		}

		state := map[string]any{}
		if len(snap.State) > 0 {
			if err := json.Unmarshal(snap.State, &state); err != nil {
				return fmt.Errorf("failed to decode snapshot %s: %w", key, err)
			}
		}
		next, err := merge(state)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to encode snapshot %s: %w", key, err)
		}

		snap.State = datatypes.JSON(raw)
		snap.Version++
		snap.LastEventID = ev.ID
		if err := tx.Save(&snap).Error; err != nil {
			return fmt.Errorf("failed to save snapshot %s: %w", key, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// GetSnapshot returns the snapshot for key, or nil when nothing was merged yet.
func (s *Store) GetSnapshot(ctx context.Context, key SnapshotKey) (*WidgetSnapshot, error) {
	var snap WidgetSnapshot
	err := s.conn(ctx).
		Where("snapshot_overlay_id = ? AND snapshot_widget_id = ? AND snapshot_widget_type = ?",
			key.OverlayID, key.WidgetID, key.WidgetType).
		First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot %s: %w", key, err)
	}
	return &snap, nil
}

// ListSnapshots returns every snapshot of an overlay.
func (s *Store) ListSnapshots(ctx context.Context, overlayID uint) ([]WidgetSnapshot, error) {
	var snaps []WidgetSnapshot
	err := s.conn(ctx).Where("snapshot_overlay_id = ?", overlayID).
		Order("snapshot_widget_id, snapshot_widget_type").Find(&snaps).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots of overlay %d: %w", overlayID, err)
	}
	return snaps, nil
}

// ListEvents returns the most recent events of an overlay, newest first.
func (s *Store) ListEvents(ctx context.Context, overlayID uint, limit int) ([]WidgetEvent, error) {
	var events []WidgetEvent
	err := s.conn(ctx).Where("event_overlay_id = ?", overlayID).
		Order("event_created_at DESC").Limit(limit).Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list events of overlay %d: %w", overlayID, err)
	}
	return events, nil
}
