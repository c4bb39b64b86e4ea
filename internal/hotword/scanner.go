// Package hotword matches chat lines against a channel's configured phrases.
package hotword

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emcifuntik/twitch-overlay-widgets/internal/db"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/logger"
	"golang.org/x/sync/singleflight"
)

var log = logger.New("HOTWORD")

type Store interface {
	ListHotWords(ctx context.Context, channelID uint) ([]db.HotWord, error)
	CountViewerOccurrences(ctx context.Context, hotWordID uint, viewerID string) (int64, error)
	HasOccurrenceSince(ctx context.Context, hotWordID uint, since time.Time) (bool, error)
	RecordHotWordHit(ctx context.Context, occ *db.HotWordOccurrence, reward *db.PointsLedger) error
}

// Hit is an accepted phrase match, already recorded.
type Hit struct {
	Word       db.HotWord
	ViewerID   string
	ViewerName string
	At         time.Time
}

type entry struct {
	words    []db.HotWord
	phrases  []string
	loadedAt time.Time
}

// Scanner caches each channel's phrases for ttl. Readers may see a list up to
// ttl old; refreshes for one channel are collapsed into a single query.
type Scanner struct {
	store Store
	ttl   time.Duration
	now   func() time.Time

	mu    sync.RWMutex
	cache map[uint]*entry
	group singleflight.Group
}

type Option func(*Scanner)

func WithClock(now func() time.Time) Option {
	return func(s *Scanner) { s.now = now }
}

func NewScanner(store Store, ttl time.Duration, opts ...Option) *Scanner {
	s := &Scanner{
		store: store,
		ttl:   ttl,
		now:   func() time.Time { return time.Now().UTC() },
		cache: make(map[uint]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Invalidate drops the cached phrases of a channel.
func (s *Scanner) Invalidate(channelID uint) {
	s.mu.Lock()
	delete(s.cache, channelID)
	s.mu.Unlock()
}

func (s *Scanner) load(ctx context.Context, channelID uint) (*entry, error) {
	s.mu.RLock()
	cached := s.cache[channelID]
	s.mu.RUnlock()
	if cached != nil && s.now().Sub(cached.loadedAt) < s.ttl {
		return cached, nil
	}

	v, err, _ := s.group.Do(strconv.FormatUint(uint64(channelID), 10), func() (interface{}, error) {
		words, err := s.store.ListHotWords(ctx, channelID)
		if err != nil {
			return nil, err
		}
		e := &entry{words: words, phrases: make([]string, len(words)), loadedAt: s.now()}
		for i, w := range words {
			e.phrases[i] = strings.ToLower(strings.TrimSpace(w.Phrase))
		}
		s.mu.Lock()
		s.cache[channelID] = e
		s.mu.Unlock()
		return e, nil
	})
	if err != nil {
		if cached != nil {
			log.Warn("refresh for channel %d failed, using stale phrases: %v", channelID, err)
			return cached, nil
		}
		return nil, err
	}
	return v.(*entry), nil
}

// Match returns the first cached phrase contained in text, ignoring case.
func (s *Scanner) Match(ctx context.Context, channelID uint, text string) (*db.HotWord, error) {
	e, err := s.load(ctx, channelID)
	if err != nil {
		return nil, err
	}
	lower := strings.ToLower(text)
	for i, phrase := range e.phrases {
		if phrase != "" && strings.Contains(lower, phrase) {
			w := e.words[i]
			return &w, nil
		}
	}
	return nil, nil
}

// Scan matches text and, when the first matching phrase passes its per-viewer
// limit and global cooldown, records the occurrence and reward. It returns
// nil when nothing was accepted.
func (s *Scanner) Scan(ctx context.Context, channelID uint, viewerID, viewerName, text string) (*Hit, error) {
	word, err := s.Match(ctx, channelID, text)
	if err != nil || word == nil {
		return nil, err
	}

	if word.PerUserLimit > 0 {
		count, err := s.store.CountViewerOccurrences(ctx, word.ID, viewerID)
		if err != nil {
			return nil, err
		}
		if count >= int64(word.PerUserLimit) {
			log.Debug("%s reached the limit of %q", viewerName, word.Phrase)
			return nil, nil
		}
	}

	now := s.now()
	if word.CooldownSeconds > 0 {
		since := now.Add(-time.Duration(word.CooldownSeconds) * time.Second)
		active, err := s.store.HasOccurrenceSince(ctx, word.ID, since)
		if err != nil {
			return nil, err
		}
		if active {
			log.Debug("%q is on cooldown", word.Phrase)
			return nil, nil
		}
	}

	occ := &db.HotWordOccurrence{HotWordID: word.ID, ViewerID: viewerID, CreatedAt: now}
	var reward *db.PointsLedger
	if word.RewardPoints != 0 {
		reward = &db.PointsLedger{
			ChannelID: channelID,
			ViewerID:  viewerID,
			Delta:     word.RewardPoints,
			Reason:    "hot word " + word.Phrase,
		}
	}
	if err := s.store.RecordHotWordHit(ctx, occ, reward); err != nil {
		return nil, err
	}
	return &Hit{Word: *word, ViewerID: viewerID, ViewerName: viewerName, At: now}, nil
}
