package widget

import (
	"context"
	"time"

	"github.com/emcifuntik/twitch-overlay-widgets/internal/snapshot"
)

const EventHotWordHit = "hot_word_hit"

// HotWordHit refreshes the hot words widget. The occurrence and the reward
// are recorded by the scanner before the event is emitted.
type HotWordHit struct {
	HotWordID  uint      `json:"hot_word_id" validate:"required"`
	Phrase     string    `json:"phrase" validate:"required"`
	ViewerName string    `json:"viewer_name"`
	Reward     int64     `json:"reward"`
	At         time.Time `json:"at"`
}

func (*HotWordHit) WidgetType() string { return KindHotWords }
func (*HotWordHit) EventType() string  { return EventHotWordHit }

func (e *HotWordHit) apply(_ context.Context, fx *effects) error {
	if e.At.IsZero() {
		e.At = fx.now
	}
	return nil
}

func (e *HotWordHit) reduce(state State) snapshot.Patch {
	return snapshot.Patch{
		"last_hit": map[string]any{
			"hot_word_id": e.HotWordID,
			"phrase":      e.Phrase,
			"viewer_name": e.ViewerName,
			"reward":      e.Reward,
			"at":          e.At,
		},
		"hits": state.Float("hits") + 1,
	}
}
