package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Rate limit window scopes.
const (
	ScopeViewer  = "viewer"
	ScopeChannel = "channel"
)

// GetCooldown returns the cooldown row for (channel, viewer, action), or nil.
func (s *Store) GetCooldown(ctx context.Context, channelID uint, viewerID, action string) (*CooldownEntry, error) {
	var entry CooldownEntry
	err := s.conn(ctx).
		Where("cooldown_channel_id = ? AND cooldown_viewer_id = ? AND cooldown_action = ?", channelID, viewerID, action).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cooldown %s for %s: %w", action, viewerID, err)
	}
	return &entry, nil
}

// UpsertCooldown stores cooldownUntil for the triple, replacing any previous value.
func (s *Store) UpsertCooldown(ctx context.Context, channelID uint, viewerID, action string, until time.Time) error {
	entry := CooldownEntry{
		ChannelID:     channelID,
		ViewerID:      viewerID,
		Action:        action,
		CooldownUntil: until,
	}
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cooldown_channel_id"}, {Name: "cooldown_viewer_id"}, {Name: "cooldown_action"}},
		DoUpdates: clause.AssignmentColumns([]string{"cooldown_until"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("failed to upsert cooldown %s for %s: %w", action, viewerID, err)
	}
	return nil
}

// CountWindows counts window rows for the key that started at or after since.
func (s *Store) CountWindows(ctx context.Context, scope, scopeID, action string, since time.Time) (int64, error) {
	var count int64
	err := s.conn(ctx).Model(&RateLimitWindow{}).
		Where("window_scope = ? AND window_scope_id = ? AND window_action = ? AND window_start >= ?",
			scope, scopeID, action, since).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count %s windows for %s:%s: %w", action, scope, scopeID, err)
	}
	return count, nil
}

func (s *Store) InsertWindow(ctx context.Context, scope, scopeID, action string, start time.Time) error {
	window := RateLimitWindow{
		Scope:       scope,
		ScopeID:     scopeID,
		Action:      action,
		WindowStart: start,
		HitCount:    1,
	}
	if err := s.conn(ctx).Create(&window).Error; err != nil {
		return fmt.Errorf("failed to insert %s window for %s:%s: %w", action, scope, scopeID, err)
	}
	return nil
}

// DeleteExpiredCooldowns removes cooldowns that ended before now.
func (s *Store) DeleteExpiredCooldowns(ctx context.Context, now time.Time) (int64, error) {
	res := s.conn(ctx).Where("cooldown_until < ?", now).Delete(&CooldownEntry{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete expired cooldowns: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteWindowsBefore removes window rows that started before cutoff.
func (s *Store) DeleteWindowsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.conn(ctx).Where("window_start < ?", cutoff).Delete(&RateLimitWindow{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete old rate windows: %w", res.Error)
	}
	return res.RowsAffected, nil
}
