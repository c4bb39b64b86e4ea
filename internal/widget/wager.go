package widget

import (
	"context"

	"github.com/emcifuntik/twitch-overlay-widgets/internal/snapshot"
)

const (
	EventSetWager  = "set_wager"
	EventSetTarget = "set_target"
)

type SetWager struct {
	Value float64 `json:"value" validate:"gte=0"`
}

func (*SetWager) WidgetType() string { return KindWagerBar }
func (*SetWager) EventType() string  { return EventSetWager }

func (e *SetWager) apply(ctx context.Context, fx *effects) error {
	return fx.store.SetWagerValue(ctx, fx.widgetID, e.Value)
}

func (e *SetWager) reduce(State) snapshot.Patch {
	return snapshot.Patch{"value": e.Value}
}

type SetTarget struct {
	Target float64 `json:"target" validate:"gt=0"`
}

func (*SetTarget) WidgetType() string { return KindWagerBar }
func (*SetTarget) EventType() string  { return EventSetTarget }

func (e *SetTarget) apply(ctx context.Context, fx *effects) error {
	return fx.store.SetWagerTarget(ctx, fx.widgetID, e.Target)
}

func (e *SetTarget) reduce(State) snapshot.Patch {
	return snapshot.Patch{"target": e.Target}
}
