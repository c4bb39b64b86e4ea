package db

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RunningHunt returns the channel's running bonus hunt, or nil.
func (s *Store) RunningHunt(ctx context.Context, channelID uint) (*BonusHunt, error) {
	var hunt BonusHunt
	err := s.conn(ctx).Where("hunt_channel_id = ? AND hunt_status = ?", channelID, HuntRunning).
		Order("hunt_id DESC").First(&hunt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get running hunt for channel %d: %w", channelID, err)
	}
	return &hunt, nil
}

// LatestHunt returns the channel's most recent hunt in any status, or nil.
func (s *Store) LatestHunt(ctx context.Context, channelID uint) (*BonusHunt, error) {
	var hunt BonusHunt
	err := s.conn(ctx).Where("hunt_channel_id = ?", channelID).Order("hunt_id DESC").First(&hunt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest hunt for channel %d: %w", channelID, err)
	}
	return &hunt, nil
}

// StartHunt finishes any running hunt of the channel and creates a new one.
func (s *Store) StartHunt(ctx context.Context, channelID uint, title string, startBalance float64) (*BonusHunt, error) {
	hunt := &BonusHunt{
		ChannelID:    channelID,
		Title:        title,
		StartBalance: startBalance,
		Status:       HuntRunning,
	}
	err := s.Transaction(ctx, func(tx *Store) error {
		err := tx.db.Model(&BonusHunt{}).
			Where("hunt_channel_id = ? AND hunt_status = ?", channelID, HuntRunning).
			Updates(map[string]any{"hunt_status": HuntFinished, "hunt_guessing_open": false}).Error
		if err != nil {
			return fmt.Errorf("failed to finish previous hunts: %w", err)
		}
		if err := tx.db.Create(hunt).Error; err != nil {
			return fmt.Errorf("failed to create hunt: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hunt, nil
}

func (s *Store) AddBonus(ctx context.Context, huntID uint, slot, provider string, bet float64) (*Bonus, error) {
	bonus := &Bonus{HuntID: huntID, Slot: slot, Provider: provider, Bet: bet}
	if err := s.conn(ctx).Create(bonus).Error; err != nil {
		return nil, fmt.Errorf("failed to add bonus to hunt %d: %w", huntID, err)
	}
	return bonus, nil
}

// SetBonusPayout records the payout of one bonus. Returns nil when the bonus
// does not belong to the hunt.
func (s *Store) SetBonusPayout(ctx context.Context, huntID, bonusID uint, payout float64) (*Bonus, error) {
	var bonus Bonus
	err := s.conn(ctx).Where("bonus_id = ? AND bonus_hunt_id = ?", bonusID, huntID).First(&bonus).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bonus %d: %w", bonusID, err)
	}
	bonus.Payout = &payout
	if err := s.conn(ctx).Model(&bonus).Update("bonus_payout", payout).Error; err != nil {
		return nil, fmt.Errorf("failed to set payout of bonus %d: %w", bonusID, err)
	}
	return &bonus, nil
}

func (s *Store) ListBonuses(ctx context.Context, huntID uint) ([]Bonus, error) {
	var bonuses []Bonus
	err := s.conn(ctx).Where("bonus_hunt_id = ?", huntID).Order("bonus_id").Find(&bonuses).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list bonuses of hunt %d: %w", huntID, err)
	}
	return bonuses, nil
}

func (s *Store) FinishHunt(ctx context.Context, huntID uint) error {
	err := s.conn(ctx).Model(&BonusHunt{}).Where("hunt_id = ?", huntID).
		Updates(map[string]any{"hunt_status": HuntFinished, "hunt_guessing_open": false}).Error
	if err != nil {
		return fmt.Errorf("failed to finish hunt %d: %w", huntID, err)
	}
	return nil
}

func (s *Store) SetGuessingOpen(ctx context.Context, huntID uint, open bool) error {
	err := s.conn(ctx).Model(&BonusHunt{}).Where("hunt_id = ?", huntID).
		Update("hunt_guessing_open", open).Error
	if err != nil {
		return fmt.Errorf("failed to set guessing open=%t on hunt %d: %w", open, huntID, err)
	}
	return nil
}

// UpsertGuess stores the viewer's guess for the hunt, overwriting an earlier one.
func (s *Store) UpsertGuess(ctx context.Context, guess *Guess) error {
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "guess_hunt_id"}, {Name: "guess_viewer_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"guess_value", "guess_viewer_name", "guess_updated_at"}),
	}).Create(guess).Error
	if err != nil {
		return fmt.Errorf("failed to upsert guess of %s on hunt %d: %w", guess.ViewerID, guess.HuntID, err)
	}
	return nil
}

func (s *Store) ListGuesses(ctx context.Context, huntID uint) ([]Guess, error) {
	var guesses []Guess
	err := s.conn(ctx).Where("guess_hunt_id = ?", huntID).
		Order("guess_created_at, guess_id").Find(&guesses).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list guesses of hunt %d: %w", huntID, err)
	}
	return guesses, nil
}

func (s *Store) CountGuesses(ctx context.Context, huntID uint) (int64, error) {
	var count int64
	if err := s.conn(ctx).Model(&Guess{}).Where("guess_hunt_id = ?", huntID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count guesses of hunt %d: %w", huntID, err)
	}
	return count, nil
}

// ClosestGuess returns the guess nearest to value. Ties go to the earliest
// guess. Returns nil when nobody guessed.
func (s *Store) ClosestGuess(ctx context.Context, huntID uint, value float64) (*Guess, error) {
	guesses, err := s.ListGuesses(ctx, huntID)
	if err != nil {
		return nil, err
	}
	var best *Guess
	bestDiff := math.Inf(1)
	for i := range guesses {
		diff := math.Abs(guesses[i].Value - value)
		if diff < bestDiff {
			best = &guesses[i]
			bestDiff = diff
		}
	}
	return best, nil
}
