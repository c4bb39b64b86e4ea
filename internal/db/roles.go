package db

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// GetChannelRole returns the actor's role row for a channel, or nil.
func (s *Store) GetChannelRole(ctx context.Context, channelID uint, userID string) (*ChannelRole, error) {
	var role ChannelRole
	err := s.conn(ctx).Where("role_channel_id = ? AND role_user_id = ?", channelID, userID).First(&role).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role of %s in channel %d: %w", userID, channelID, err)
	}
	return &role, nil
}

// GetRole returns a role row of the channel by id, or nil.
func (s *Store) GetRole(ctx context.Context, channelID, roleID uint) (*ChannelRole, error) {
	var role ChannelRole
	err := s.conn(ctx).Preload("Permissions").
		Where("role_channel_id = ? AND role_id = ?", channelID, roleID).First(&role).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role %d in channel %d: %w", roleID, channelID, err)
	}
	return &role, nil
}

// ListPermissions returns every grant of key held by a role, regardless of scope.
func (s *Store) ListPermissions(ctx context.Context, roleID uint, key string) ([]Permission, error) {
	var permissions []Permission
	err := s.conn(ctx).Where("permission_role_id = ? AND permission_key = ?", roleID, key).
		Order("permission_id").Find(&permissions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions %s for role %d: %w", key, roleID, err)
	}
	return permissions, nil
}

// GetModerators retrieves all moderators of a channel with their grants.
func (s *Store) GetModerators(ctx context.Context, channelID uint) ([]ChannelRole, error) {
	var roles []ChannelRole
	err := s.conn(ctx).Preload("Permissions").
		Where("role_channel_id = ? AND role_role = ?", channelID, RoleModerator).
		Order("role_id").Find(&roles).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get moderators for channel %d: %w", channelID, err)
	}
	return roles, nil
}

// AddModerator invites a user as moderator, refreshing the name if the row
// already exists.
func (s *Store) AddModerator(ctx context.Context, channelID uint, userID, userName string) (*ChannelRole, error) {
	existing, err := s.GetChannelRole(ctx, channelID, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		existing.UserName = userName
		if err := s.conn(ctx).Save(existing).Error; err != nil {
			return nil, fmt.Errorf("failed to update moderator %s: %w", userID, err)
		}
		return existing, nil
	}

	role := &ChannelRole{
		ChannelID: channelID,
		UserID:    userID,
		UserName:  userName,
		Role:      RoleModerator,
	}
	if err := s.conn(ctx).Create(role).Error; err != nil {
		return nil, fmt.Errorf("failed to add moderator %s to channel %d: %w", userID, channelID, err)
	}
	return role, nil
}

// RemoveModerator deletes the role and its grants.
func (s *Store) RemoveModerator(ctx context.Context, channelID, roleID uint) error {
	return s.Transaction(ctx, func(tx *Store) error {
		res := tx.db.Where("role_channel_id = ? AND role_id = ?", channelID, roleID).Delete(&ChannelRole{})
		if res.Error != nil {
			return fmt.Errorf("failed to remove moderator %d: %w", roleID, res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if err := tx.db.Where("permission_role_id = ?", roleID).Delete(&Permission{}).Error; err != nil {
			return fmt.Errorf("failed to remove grants of moderator %d: %w", roleID, err)
		}
		return nil
	})
}

// GrantPermission adds a grant unless an identical one exists.
func (s *Store) GrantPermission(ctx context.Context, p *Permission) error {
	q := s.conn(ctx).Model(&Permission{}).
		Where("permission_role_id = ? AND permission_key = ?", p.ChannelRoleID, p.Key)
	if p.OverlayScope == nil {
		q = q.Where("permission_overlay_id IS NULL")
	} else {
		q = q.Where("permission_overlay_id = ?", *p.OverlayScope)
	}
	if p.WidgetScope == nil {
		q = q.Where("permission_widget_id IS NULL")
	} else {
		q = q.Where("permission_widget_id = ?", *p.WidgetScope)
	}

	var count int64
	if err := q.Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check grant %s: %w", p.Key, err)
	}
	if count > 0 {
		return nil
	}
	if err := s.conn(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("failed to grant %s to role %d: %w", p.Key, p.ChannelRoleID, err)
	}
	return nil
}

func (s *Store) RevokePermission(ctx context.Context, roleID, permissionID uint) error {
	err := s.conn(ctx).Where("permission_role_id = ? AND permission_id = ?", roleID, permissionID).
		Delete(&Permission{}).Error
	if err != nil {
		return fmt.Errorf("failed to revoke permission %d: %w", permissionID, err)
	}
	return nil
}
