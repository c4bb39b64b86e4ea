package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ViewerBalance sums the viewer's ledger deltas.
func (s *Store) ViewerBalance(ctx context.Context, channelID uint, viewerID string) (int64, error) {
	var balance int64
	err := s.conn(ctx).Model(&PointsLedger{}).
		Select("COALESCE(SUM(ledger_delta), 0)").
		Where("ledger_channel_id = ? AND ledger_viewer_id = ?", channelID, viewerID).
		Scan(&balance).Error
	if err != nil {
		return 0, fmt.Errorf("failed to sum balance of %s: %w", viewerID, err)
	}
	return balance, nil
}

// InsertLedger appends a ledger row.
func (s *Store) InsertLedger(ctx context.Context, entry *PointsLedger) error {
	if err := s.conn(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to insert ledger row for %s: %w", entry.ViewerID, err)
	}
	return nil
}

// CurrentPointsBattle returns the channel's latest battle that is running or
// locked, or nil.
func (s *Store) CurrentPointsBattle(ctx context.Context, channelID uint) (*PointsBattle, error) {
	var battle PointsBattle
	err := s.conn(ctx).
		Where("pb_channel_id = ? AND pb_status IN ?", channelID, []string{BattleRunning, BattleLocked}).
		Order("pb_id DESC").First(&battle).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get points battle for channel %d: %w", channelID, err)
	}
	return &battle, nil
}

// StartPointsBattle cancels any unresolved battle of the channel, refunding
// its entries, then creates battle as running. Returns the number of refunds.
func (s *Store) StartPointsBattle(ctx context.Context, battle *PointsBattle) (int, error) {
	refunds := 0
	err := s.Transaction(ctx, func(tx *Store) error {
		var previous []PointsBattle
		err := tx.db.Where("pb_channel_id = ? AND pb_status IN ?", battle.ChannelID, []string{BattleRunning, BattleLocked}).
			Find(&previous).Error
		if err != nil {
			return fmt.Errorf("failed to list unresolved battles: %w", err)
		}
		for _, prev := range previous {
			n, err := tx.refundEntries(prev, "points battle cancelled")
			if err != nil {
				return err
			}
			refunds += n
			if err := tx.db.Model(&prev).Update("pb_status", BattleResolved).Error; err != nil {
				return fmt.Errorf("failed to cancel battle %d: %w", prev.ID, err)
			}
		}

		battle.Status = BattleRunning
		if err := tx.db.Create(battle).Error; err != nil {
			return fmt.Errorf("failed to create points battle: %w", err)
		}
		return nil
	})
	return refunds, err
}

func (s *Store) refundEntries(battle PointsBattle, reason string) (int, error) {
	var entries []PointsBattleEntry
	if err := s.db.Where("entry_battle_id = ?", battle.ID).Find(&entries).Error; err != nil {
		return 0, fmt.Errorf("failed to list entries of battle %d: %w", battle.ID, err)
	}
	n := 0
	for _, e := range entries {
		if e.Cost == 0 {
			continue
		}
		credit := PointsLedger{ChannelID: battle.ChannelID, ViewerID: e.ViewerID, Delta: e.Cost, Reason: reason}
		if err := s.db.Create(&credit).Error; err != nil {
			return n, fmt.Errorf("failed to refund %s: %w", e.ViewerID, err)
		}
		n++
	}
	return n, nil
}

// MatchTeam returns the configured team name equal to team ignoring case.
func (b *PointsBattle) MatchTeam(team string) (string, bool) {
	switch {
	case strings.EqualFold(strings.TrimSpace(team), b.TeamA):
		return b.TeamA, true
	case strings.EqualFold(strings.TrimSpace(team), b.TeamB):
		return b.TeamB, true
	}
	return "", false
}

// JoinPointsBattle debits the entry cost and records the viewer's entry. A
// viewer who already joined gets their existing entry back with created=false
// and is not charged again.
func (s *Store) JoinPointsBattle(ctx context.Context, battleID uint, viewerID, viewerName, team string) (*PointsBattleEntry, bool, error) {
	var entry PointsBattleEntry
	created := false
	err := s.Transaction(ctx, func(tx *Store) error {
		var battle PointsBattle
		err := tx.db.Clauses(clause.Locking{Strength: "UPDATE"}).Where("pb_id = ?", battleID).First(&battle).Error
		if err != nil {
			return fmt.Errorf("failed to lock battle %d: %w", battleID, err)
		}
		if battle.Status != BattleRunning {
			return ErrBattleNotRunning
		}
		teamName, ok := battle.MatchTeam(team)
		if !ok {
			return ErrUnknownTeam
		}

		err = tx.db.Where("entry_battle_id = ? AND entry_viewer_id = ?", battleID, viewerID).First(&entry).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to get entry of %s: %w", viewerID, err)
		}

		if battle.EntryCost > 0 {
			balance, err := tx.ViewerBalance(ctx, battle.ChannelID, viewerID)
			if err != nil {
				return err
			}
			if balance < battle.EntryCost {
				return ErrInsufficientPoints
			}
			debit := PointsLedger{
				ChannelID: battle.ChannelID,
				ViewerID:  viewerID,
				Delta:     -battle.EntryCost,
				Reason:    fmt.Sprintf("points battle %d entry", battle.ID),
			}
			if err := tx.db.Create(&debit).Error; err != nil {
				return fmt.Errorf("failed to debit %s: %w", viewerID, err)
			}
		}

		entry = PointsBattleEntry{
			BattleID:   battleID,
			ViewerID:   viewerID,
			ViewerName: viewerName,
			Team:       teamName,
			Cost:       battle.EntryCost,
		}
		if err := tx.db.Create(&entry).Error; err != nil {
			return fmt.Errorf("failed to create entry of %s: %w", viewerID, err)
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &entry, created, nil
}

// BattleTotals is the per-team entry count and pool of a points battle.
type BattleTotals struct {
	TeamACount int64
	TeamBCount int64
	PoolA      int64
	PoolB      int64
}

func (s *Store) PointsBattleTotals(ctx context.Context, battle *PointsBattle) (BattleTotals, error) {
	var rows []struct {
		Team  string
		Count int64
		Pool  int64
	}
	err := s.conn(ctx).Model(&PointsBattleEntry{}).
		Select("entry_team AS team, COUNT(*) AS count, COALESCE(SUM(entry_cost), 0) AS pool").
		Where("entry_battle_id = ?", battle.ID).
		Group("entry_team").Scan(&rows).Error
	if err != nil {
		return BattleTotals{}, fmt.Errorf("failed to total battle %d: %w", battle.ID, err)
	}
	var t BattleTotals
	for _, r := range rows {
		switch r.Team {
		case battle.TeamA:
			t.TeamACount, t.PoolA = r.Count, r.Pool
		case battle.TeamB:
			t.TeamBCount, t.PoolB = r.Count, r.Pool
		}
	}
	return t, nil
}

// LockPointsBattle stops further joins on a running battle.
func (s *Store) LockPointsBattle(ctx context.Context, battleID uint) error {
	res := s.conn(ctx).Model(&PointsBattle{}).
		Where("pb_id = ? AND pb_status = ?", battleID, BattleRunning).
		Update("pb_status", BattleLocked)
	if res.Error != nil {
		return fmt.Errorf("failed to lock battle %d: %w", battleID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrBattleNotRunning
	}
	return nil
}

// ResolvePointsBattle splits the whole pool evenly between the winning team's
// entries and credits them. With no winning entries every entry is refunded.
// Returns the credit per winning entry.
func (s *Store) ResolvePointsBattle(ctx context.Context, battleID uint, winner string) (int64, error) {
	var perEntry int64
	err := s.Transaction(ctx, func(tx *Store) error {
		var battle PointsBattle
		err := tx.db.Clauses(clause.Locking{Strength: "UPDATE"}).Where("pb_id = ?", battleID).First(&battle).Error
		if err != nil {
			return fmt.Errorf("failed to lock battle %d: %w", battleID, err)
		}
		if battle.Status != BattleRunning && battle.Status != BattleLocked {
			return ErrBattleNotRunning
		}
		team, ok := battle.MatchTeam(winner)
		if !ok {
			return ErrUnknownTeam
		}

		var entries []PointsBattleEntry
		if err := tx.db.Where("entry_battle_id = ?", battleID).Order("entry_id").Find(&entries).Error; err != nil {
			return fmt.Errorf("failed to list entries of battle %d: %w", battleID, err)
		}
		var pool int64
		var winners []PointsBattleEntry
		for _, e := range entries {
			pool += e.Cost
			if e.Team == team {
				winners = append(winners, e)
			}
		}

		if len(winners) == 0 {
			if _, err := tx.refundEntries(battle, "points battle refund"); err != nil {
				return err
			}
		} else {
			perEntry = pool / int64(len(winners))
			for _, w := range winners {
				if perEntry == 0 {
					break
				}
				credit := PointsLedger{
					ChannelID: battle.ChannelID,
					ViewerID:  w.ViewerID,
					Delta:     perEntry,
					Reason:    fmt.Sprintf("points battle %d win", battle.ID),
				}
				if err := tx.db.Create(&credit).Error; err != nil {
					return fmt.Errorf("failed to pay %s: %w", w.ViewerID, err)
				}
			}
		}

		return tx.db.Model(&battle).Updates(map[string]any{"pb_status": BattleResolved, "pb_winner": team}).Error
	})
	return perEntry, err
}

// FindStoreItem returns the active item whose name equals name ignoring case.
func (s *Store) FindStoreItem(ctx context.Context, channelID uint, name string) (*StoreItem, error) {
	var item StoreItem
	err := s.conn(ctx).
		Where("item_channel_id = ? AND item_is_active = ? AND LOWER(item_name) = ?",
			channelID, true, strings.ToLower(strings.TrimSpace(name))).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find store item %q: %w", name, err)
	}
	return &item, nil
}

func (s *Store) CreateStoreItem(ctx context.Context, item *StoreItem) error {
	if err := s.conn(ctx).Create(item).Error; err != nil {
		return fmt.Errorf("failed to create store item %q: %w", item.Name, err)
	}
	return nil
}

// LastRedemption returns the viewer's most recent redemption of item, or nil.
func (s *Store) LastRedemption(ctx context.Context, itemID uint, viewerID string) (*Redemption, error) {
	var r Redemption
	err := s.conn(ctx).Where("redemption_item_id = ? AND redemption_viewer_id = ?", itemID, viewerID).
		Order("redemption_created_at DESC, redemption_id DESC").First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last redemption of %d by %s: %w", itemID, viewerID, err)
	}
	return &r, nil
}

// Redeem checks the balance, creates a pending redemption and debits the cost.
func (s *Store) Redeem(ctx context.Context, item *StoreItem, viewerID, viewerName string, now time.Time) (*Redemption, error) {
	redemption := &Redemption{
		ChannelID:  item.ChannelID,
		ItemID:     item.ID,
		ViewerID:   viewerID,
		ViewerName: viewerName,
		Cost:       item.Cost,
		Status:     RedemptionPending,
		CreatedAt:  now,
	}
	err := s.Transaction(ctx, func(tx *Store) error {
		balance, err := tx.ViewerBalance(ctx, item.ChannelID, viewerID)
		if err != nil {
			return err
		}
		if balance < item.Cost {
			return ErrInsufficientPoints
		}
		if err := tx.db.Create(redemption).Error; err != nil {
			return fmt.Errorf("failed to create redemption of %q: %w", item.Name, err)
		}
		if item.Cost == 0 {
			return nil
		}
		debit := PointsLedger{
			ChannelID: item.ChannelID,
			ViewerID:  viewerID,
			Delta:     -item.Cost,
			Reason:    "redeem " + item.Name,
		}
		if err := tx.db.Create(&debit).Error; err != nil {
			return fmt.Errorf("failed to debit %s: %w", viewerID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return redemption, nil
}

// SettleRedemption moves a pending redemption to fulfilled or rejected. A
// rejection refunds the cost.
func (s *Store) SettleRedemption(ctx context.Context, channelID, redemptionID uint, status string) (*Redemption, error) {
	var r Redemption
	err := s.Transaction(ctx, func(tx *Store) error {
		err := tx.db.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("redemption_id = ? AND redemption_channel_id = ?", redemptionID, channelID).
			First(&r).Error
		if err != nil {
			return fmt.Errorf("failed to lock redemption %d: %w", redemptionID, err)
		}
		if r.Status != RedemptionPending {
			return ErrRedemptionSettled
		}
		r.Status = status
		if err := tx.db.Model(&r).Update("redemption_status", status).Error; err != nil {
			return fmt.Errorf("failed to update redemption %d: %w", redemptionID, err)
		}
		if status != RedemptionRejected || r.Cost == 0 {
			return nil
		}
		refund := PointsLedger{
			ChannelID: r.ChannelID,
			ViewerID:  r.ViewerID,
			Delta:     r.Cost,
			Reason:    fmt.Sprintf("redemption %d rejected", r.ID),
		}
		if err := tx.db.Create(&refund).Error; err != nil {
			return fmt.Errorf("failed to refund redemption %d: %w", redemptionID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) CountPendingRedemptions(ctx context.Context, channelID uint) (int64, error) {
	var count int64
	err := s.conn(ctx).Model(&Redemption{}).
		Where("redemption_channel_id = ? AND redemption_status = ?", channelID, RedemptionPending).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count pending redemptions of channel %d: %w", channelID, err)
	}
	return count, nil
}
