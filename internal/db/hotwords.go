package db

import (
	"context"
	"fmt"
	"time"
)

// ListHotWords returns a channel's phrases ordered by id.
func (s *Store) ListHotWords(ctx context.Context, channelID uint) ([]HotWord, error) {
	var words []HotWord
	err := s.conn(ctx).Where("hotword_channel_id = ?", channelID).Order("hotword_id").Find(&words).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list hot words for channel %d: %w", channelID, err)
	}
	return words, nil
}

func (s *Store) CreateHotWord(ctx context.Context, word *HotWord) error {
	if err := s.conn(ctx).Create(word).Error; err != nil {
		return fmt.Errorf("failed to create hot word %q: %w", word.Phrase, err)
	}
	return nil
}

func (s *Store) DeleteHotWord(ctx context.Context, channelID, hotWordID uint) error {
	err := s.conn(ctx).Where("hotword_channel_id = ? AND hotword_id = ?", channelID, hotWordID).
		Delete(&HotWord{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete hot word %d: %w", hotWordID, err)
	}
	return nil
}

// CountViewerOccurrences counts every hit of a phrase by one viewer.
func (s *Store) CountViewerOccurrences(ctx context.Context, hotWordID uint, viewerID string) (int64, error) {
	var count int64
	err := s.conn(ctx).Model(&HotWordOccurrence{}).
		Where("occurrence_hotword_id = ? AND occurrence_viewer_id = ?", hotWordID, viewerID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count occurrences of %d by %s: %w", hotWordID, viewerID, err)
	}
	return count, nil
}

// HasOccurrenceSince reports whether anyone hit the phrase after since.
func (s *Store) HasOccurrenceSince(ctx context.Context, hotWordID uint, since time.Time) (bool, error) {
	var count int64
	err := s.conn(ctx).Model(&HotWordOccurrence{}).
		Where("occurrence_hotword_id = ? AND occurrence_created_at > ?", hotWordID, since).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check cooldown of hot word %d: %w", hotWordID, err)
	}
	return count > 0, nil
}

// RecordHotWordHit stores the occurrence and, when reward is non-nil, the
// speaker's ledger credit in one transaction.
func (s *Store) RecordHotWordHit(ctx context.Context, occ *HotWordOccurrence, reward *PointsLedger) error {
	return s.Transaction(ctx, func(tx *Store) error {
		if err := tx.db.Create(occ).Error; err != nil {
			return fmt.Errorf("failed to record occurrence of %d: %w", occ.HotWordID, err)
		}
		if reward != nil {
			if err := tx.db.Create(reward).Error; err != nil {
				return fmt.Errorf("failed to credit hot word reward: %w", err)
			}
		}
		return nil
	})
}

// DeleteStaleOccurrences removes occurrences of phrases without a per-user
// limit once they are older than the phrase's cooldown. Phrases with a limit
// keep their history since the cap is lifetime.
func (s *Store) DeleteStaleOccurrences(ctx context.Context, now time.Time) (int64, error) {
	var words []HotWord
	if err := s.conn(ctx).Where("hotword_per_user_limit = 0").Find(&words).Error; err != nil {
		return 0, fmt.Errorf("failed to list unlimited hot words: %w", err)
	}

	var total int64
	for _, w := range words {
		cutoff := now.Add(-time.Duration(w.CooldownSeconds) * time.Second)
		res := s.conn(ctx).
			Where("occurrence_hotword_id = ? AND occurrence_created_at < ?", w.ID, cutoff).
			Delete(&HotWordOccurrence{})
		if res.Error != nil {
			return total, fmt.Errorf("failed to prune occurrences of %d: %w", w.ID, res.Error)
		}
		total += res.RowsAffected
	}
	return total, nil
}
