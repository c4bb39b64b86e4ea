package db

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// GetChannel returns the channel or nil when it does not exist.
func (s *Store) GetChannel(ctx context.Context, channelID uint) (*Channel, error) {
	var channel Channel
	err := s.conn(ctx).Where("channel_id = ?", channelID).First(&channel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get channel %d: %w", channelID, err)
	}
	return &channel, nil
}

// GetChannelByTwitchID returns the channel or nil when it does not exist.
func (s *Store) GetChannelByTwitchID(ctx context.Context, twitchID string) (*Channel, error) {
	var channel Channel
	err := s.conn(ctx).Where("channel_twitch_id = ?", twitchID).First(&channel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get channel by twitch id %s: %w", twitchID, err)
	}
	return &channel, nil
}

// UpsertChannel creates the channel owned by the given Twitch user, or
// refreshes its name and tokens.
func (s *Store) UpsertChannel(ctx context.Context, twitchID, name, accessToken, refreshToken string) (*Channel, error) {
	channel, err := s.GetChannelByTwitchID(ctx, twitchID)
	if err != nil {
		return nil, err
	}
	if channel == nil {
		channel = &Channel{
			TwitchID:    twitchID,
			Name:        name,
			OwnerUserID: twitchID,
			AccessToken: accessToken,
			Refresh:     refreshToken,
		}
		if err := s.conn(ctx).Create(channel).Error; err != nil {
			return nil, fmt.Errorf("failed to create channel %s: %w", twitchID, err)
		}
		return channel, nil
	}

	channel.Name = name
	channel.AccessToken = accessToken
	channel.Refresh = refreshToken
	if err := s.conn(ctx).Save(channel).Error; err != nil {
		return nil, fmt.Errorf("failed to update channel %s: %w", twitchID, err)
	}
	return channel, nil
}

// ListBotChannels returns channels with the chat bot enabled.
func (s *Store) ListBotChannels(ctx context.Context) ([]Channel, error) {
	var channels []Channel
	err := s.conn(ctx).Where("channel_bot_enabled = ?", true).Find(&channels).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list bot channels: %w", err)
	}
	return channels, nil
}

func (s *Store) SetBotEnabled(ctx context.Context, channelID uint, enabled bool) error {
	err := s.conn(ctx).Model(&Channel{}).Where("channel_id = ?", channelID).
		Update("channel_bot_enabled", enabled).Error
	if err != nil {
		return fmt.Errorf("failed to set bot enabled for channel %d: %w", channelID, err)
	}
	return nil
}

// GetOverlay returns the overlay or nil when it does not exist.
func (s *Store) GetOverlay(ctx context.Context, overlayID uint) (*Overlay, error) {
	var overlay Overlay
	err := s.conn(ctx).Where("overlay_id = ?", overlayID).First(&overlay).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get overlay %d: %w", overlayID, err)
	}
	return &overlay, nil
}

func (s *Store) CreateOverlay(ctx context.Context, overlay *Overlay) error {
	if err := s.conn(ctx).Create(overlay).Error; err != nil {
		return fmt.Errorf("failed to create overlay for channel %d: %w", overlay.ChannelID, err)
	}
	return nil
}

// ListOverlays returns every overlay of a channel.
func (s *Store) ListOverlays(ctx context.Context, channelID uint) ([]Overlay, error) {
	var overlays []Overlay
	err := s.conn(ctx).Where("overlay_channel_id = ?", channelID).Order("overlay_id").Find(&overlays).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list overlays for channel %d: %w", channelID, err)
	}
	return overlays, nil
}

// GetWidget returns the widget instance or nil when it does not exist.
func (s *Store) GetWidget(ctx context.Context, widgetID uint) (*WidgetInstance, error) {
	var widget WidgetInstance
	err := s.conn(ctx).Where("widget_id = ?", widgetID).First(&widget).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get widget %d: %w", widgetID, err)
	}
	return &widget, nil
}

func (s *Store) CreateWidget(ctx context.Context, widget *WidgetInstance) error {
	if err := s.conn(ctx).Create(widget).Error; err != nil {
		return fmt.Errorf("failed to create %s widget on overlay %d: %w", widget.Kind, widget.OverlayID, err)
	}
	return nil
}

// ListWidgetsByKind returns the widgets of one kind across all overlays of a
// channel, ordered by overlay.
func (s *Store) ListWidgetsByKind(ctx context.Context, channelID uint, kind string) ([]WidgetInstance, error) {
	var widgets []WidgetInstance
	err := s.conn(ctx).
		Joins("JOIN overlays ON overlays.overlay_id = widget_instances.widget_overlay_id").
		Where("overlays.overlay_channel_id = ? AND widget_instances.widget_kind = ?", channelID, kind).
		Order("widget_instances.widget_overlay_id, widget_instances.widget_id").
		Find(&widgets).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list %s widgets for channel %d: %w", kind, channelID, err)
	}
	return widgets, nil
}
