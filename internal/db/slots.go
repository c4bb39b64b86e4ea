package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NormalizeSlot is the form slots are compared and blacklisted in.
func NormalizeSlot(slot string) string {
	return strings.ToLower(strings.TrimSpace(slot))
}

// IsSlotBlacklisted checks the channel's blacklist for slot.
func (s *Store) IsSlotBlacklisted(ctx context.Context, channelID uint, slot string) (bool, error) {
	var count int64
	err := s.conn(ctx).Model(&SlotBlacklist{}).
		Where("blacklist_channel_id = ? AND blacklist_slot = ?", channelID, NormalizeSlot(slot)).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist for %q: %w", slot, err)
	}
	return count > 0, nil
}

// AddBlacklist adds a slot to the blacklist; existing entries are left alone.
func (s *Store) AddBlacklist(ctx context.Context, channelID uint, slot string) error {
	entry := SlotBlacklist{ChannelID: channelID, Slot: NormalizeSlot(slot)}
	err := s.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("failed to blacklist %q: %w", slot, err)
	}
	return nil
}

func (s *Store) RemoveBlacklist(ctx context.Context, channelID uint, slot string) error {
	err := s.conn(ctx).Where("blacklist_channel_id = ? AND blacklist_slot = ?", channelID, NormalizeSlot(slot)).
		Delete(&SlotBlacklist{}).Error
	if err != nil {
		return fmt.Errorf("failed to remove %q from blacklist: %w", slot, err)
	}
	return nil
}

func (s *Store) ListBlacklist(ctx context.Context, channelID uint) ([]SlotBlacklist, error) {
	var entries []SlotBlacklist
	err := s.conn(ctx).Where("blacklist_channel_id = ?", channelID).Order("blacklist_slot").Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list blacklist of channel %d: %w", channelID, err)
	}
	return entries, nil
}

func (s *Store) CreateSlotRequest(ctx context.Context, req *SlotRequest) error {
	if req.Status == "" {
		req.Status = RequestPending
	}
	if err := s.conn(ctx).Create(req).Error; err != nil {
		return fmt.Errorf("failed to create slot request %q: %w", req.Slot, err)
	}
	return nil
}

// SettleRequest moves a pending request to status. Returns nil when no pending
// request with that id exists on the channel.
func (s *Store) SettleRequest(ctx context.Context, channelID, requestID uint, status string) (*SlotRequest, error) {
	res := s.conn(ctx).Model(&SlotRequest{}).
		Where("request_id = ? AND request_channel_id = ? AND request_status = ?", requestID, channelID, RequestPending).
		Update("request_status", status)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to mark request %d %s: %w", requestID, status, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	var req SlotRequest
	if err := s.conn(ctx).Where("request_id = ?", requestID).First(&req).Error; err != nil {
		return nil, fmt.Errorf("failed to reload request %d: %w", requestID, err)
	}
	return &req, nil
}

// ClearRequests marks every pending request of the channel removed.
func (s *Store) ClearRequests(ctx context.Context, channelID uint) (int64, error) {
	res := s.conn(ctx).Model(&SlotRequest{}).
		Where("request_channel_id = ? AND request_status = ?", channelID, RequestPending).
		Update("request_status", RequestRemoved)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to clear requests of channel %d: %w", channelID, res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Store) ListPendingRequests(ctx context.Context, channelID uint) ([]SlotRequest, error) {
	var reqs []SlotRequest
	err := s.conn(ctx).Where("request_channel_id = ? AND request_status = ?", channelID, RequestPending).
		Order("request_id").Find(&reqs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending requests of channel %d: %w", channelID, err)
	}
	return reqs, nil
}

// BattleSlots decodes the slot list of a battle.
func (b *SlotBattle) BattleSlots() []string {
	var slots []string
	_ = json.Unmarshal(b.Slots, &slots)
	return slots
}

// BattleScores decodes the per-slot multiplier totals of a battle.
func (b *SlotBattle) BattleScores() map[string]float64 {
	scores := map[string]float64{}
	_ = json.Unmarshal(b.Scores, &scores)
	return scores
}

// StartSlotBattle reuses the widget's battle row, or creates it, and resets
// round and scores for the given slots.
func (s *Store) StartSlotBattle(ctx context.Context, widgetID uint, slots []string) (*SlotBattle, error) {
	scores := make(map[string]float64, len(slots))
	for _, slot := range slots {
		scores[slot] = 0
	}
	rawSlots, err := json.Marshal(slots)
	if err != nil {
		return nil, err
	}
	rawScores, err := json.Marshal(scores)
	if err != nil {
		return nil, err
	}

	battle := SlotBattle{
		WidgetID: widgetID,
		Slots:    datatypes.JSON(rawSlots),
		Scores:   datatypes.JSON(rawScores),
		Round:    0,
		Status:   BattleRunning,
	}
	err = s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "battle_widget_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"battle_slots", "battle_scores", "battle_round", "battle_status"}),
	}).Create(&battle).Error
	if err != nil {
		return nil, fmt.Errorf("failed to start battle on widget %d: %w", widgetID, err)
	}
	return s.GetSlotBattle(ctx, widgetID)
}

// GetSlotBattle returns the widget's battle row, or nil.
func (s *Store) GetSlotBattle(ctx context.Context, widgetID uint) (*SlotBattle, error) {
	var battle SlotBattle
	err := s.conn(ctx).Where("battle_widget_id = ?", widgetID).First(&battle).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get battle of widget %d: %w", widgetID, err)
	}
	return &battle, nil
}

// RecordBattleRound appends a round to the running battle of the widget and
// adds payout/bet to the slot's score.
func (s *Store) RecordBattleRound(ctx context.Context, widgetID uint, slot string, bet, payout float64) (*SlotBattle, *SlotBattleRound, error) {
	var battle SlotBattle
	var round SlotBattleRound
	err := s.Transaction(ctx, func(tx *Store) error {
		err := tx.db.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("battle_widget_id = ?", widgetID).First(&battle).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrBattleNotRunning
		}
		if err != nil {
			return fmt.Errorf("failed to lock battle of widget %d: %w", widgetID, err)
		}
		if battle.Status != BattleRunning {
			return ErrBattleNotRunning
		}

		scores := battle.BattleScores()
		matched := ""
		for _, candidate := range battle.BattleSlots() {
			if NormalizeSlot(candidate) == NormalizeSlot(slot) {
				matched = candidate
				break
			}
		}
		if matched == "" {
			return ErrUnknownSlot
		}
		scores[matched] += payout / bet

		raw, err := json.Marshal(scores)
		if err != nil {
			return err
		}
		battle.Round++
		battle.Scores = datatypes.JSON(raw)
		if err := tx.db.Save(&battle).Error; err != nil {
			return fmt.Errorf("failed to update battle %d: %w", battle.ID, err)
		}

		round = SlotBattleRound{
			BattleID: battle.ID,
			Round:    battle.Round,
			Slot:     matched,
			Bet:      bet,
			Payout:   payout,
		}
		if err := tx.db.Create(&round).Error; err != nil {
			return fmt.Errorf("failed to record round %d of battle %d: %w", battle.Round, battle.ID, err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &battle, &round, nil
}

// FinishSlotBattle marks the widget's battle finished.
func (s *Store) FinishSlotBattle(ctx context.Context, widgetID uint) (*SlotBattle, error) {
	res := s.conn(ctx).Model(&SlotBattle{}).
		Where("battle_widget_id = ? AND battle_status = ?", widgetID, BattleRunning).
		Update("battle_status", BattleFinished)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to finish battle of widget %d: %w", widgetID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrBattleNotRunning
	}
	return s.GetSlotBattle(ctx, widgetID)
}
