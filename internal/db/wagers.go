package db

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SetWagerValue upserts the wager value of a widget, leaving the target alone.
func (s *Store) SetWagerValue(ctx context.Context, widgetID uint, value float64) error {
	w := Wager{WidgetID: widgetID, Value: value}
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "wager_widget_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"wager_value"}),
	}).Create(&w).Error
	if err != nil {
		return fmt.Errorf("failed to set wager of widget %d: %w", widgetID, err)
	}
	return nil
}

// SetWagerTarget upserts the wager target of a widget, leaving the value alone.
func (s *Store) SetWagerTarget(ctx context.Context, widgetID uint, target float64) error {
	w := Wager{WidgetID: widgetID, Target: target}
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "wager_widget_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"wager_target"}),
	}).Create(&w).Error
	if err != nil {
		return fmt.Errorf("failed to set wager target of widget %d: %w", widgetID, err)
	}
	return nil
}

// GetWager returns the widget's wager row, or nil.
func (s *Store) GetWager(ctx context.Context, widgetID uint) (*Wager, error) {
	var w Wager
	err := s.conn(ctx).Where("wager_widget_id = ?", widgetID).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wager of widget %d: %w", widgetID, err)
	}
	return &w, nil
}

func (s *Store) CreateWheelSpin(ctx context.Context, spin *WheelSpin) error {
	if err := s.conn(ctx).Create(spin).Error; err != nil {
		return fmt.Errorf("failed to record spin of widget %d: %w", spin.WidgetID, err)
	}
	return nil
}
