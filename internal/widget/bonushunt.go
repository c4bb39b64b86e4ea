package widget

import (
	"context"
	"strings"

	"github.com/emcifuntik/twitch-overlay-widgets/internal/apperr"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/db"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/snapshot"
)

const (
	EventHuntStart     = "bonushunt_start"
	EventHuntAddBonus  = "bonushunt_add_bonus"
	EventHuntSetPayout = "bonushunt_set_payout"
	EventHuntFinish    = "bonushunt_finish"
)

const defaultProvider = "Unknown"

func runningHunt(ctx context.Context, fx *effects) (*db.BonusHunt, error) {
	hunt, err := fx.store.RunningHunt(ctx, fx.channelID)
	if err != nil {
		return nil, err
	}
	if hunt == nil {
		return nil, apperr.New(apperr.CodeNotFound, "no running bonus hunt")
	}
	return hunt, nil
}

// huntTotals recomputes the aggregate fields from the entries list.
func huntTotals(entries []any) snapshot.Patch {
	var totalBet, totalPayout, multiplierSum float64
	opened := 0
	for _, e := range entries {
		bet := toFloat(field(e, "bet"))
		totalBet += bet
		payout := field(e, "payout")
		if payout == nil {
			continue
		}
		opened++
		totalPayout += toFloat(payout)
		if bet > 0 {
			multiplierSum += toFloat(payout) / bet
		}
	}
	avg := 0.0
	if opened > 0 {
		avg = multiplierSum / float64(opened)
	}
	return snapshot.Patch{
		"entries":            entries,
		"bonus_count":        len(entries),
		"total_bet":          totalBet,
		"total_payout":       totalPayout,
		"opened_count":       opened,
		"average_multiplier": avg,
	}
}

type HuntStart struct {
	Title        string  `json:"title" validate:"required,max=120"`
	StartBalance float64 `json:"start_balance" validate:"gte=0"`
	HuntID       uint    `json:"hunt_id,omitempty"`
}

func (*HuntStart) WidgetType() string { return KindBonusHunt }
func (*HuntStart) EventType() string  { return EventHuntStart }

func (e *HuntStart) apply(ctx context.Context, fx *effects) error {
	hunt, err := fx.store.StartHunt(ctx, fx.channelID, strings.TrimSpace(e.Title), e.StartBalance)
	if err != nil {
		return err
	}
	e.HuntID = hunt.ID
	return nil
}

func (e *HuntStart) reduce(State) snapshot.Patch {
	patch := huntTotals([]any{})
	patch["hunt_id"] = e.HuntID
	patch["title"] = strings.TrimSpace(e.Title)
	patch["start_balance"] = e.StartBalance
	patch["status"] = db.HuntRunning
	patch["guessing_open"] = false
	return patch
}

type HuntAddBonus struct {
	Slot     string  `json:"slot" validate:"required,max=128"`
	Provider string  `json:"provider" validate:"max=64"`
	Bet      float64 `json:"bet" validate:"gt=0"`
	HuntID   uint    `json:"hunt_id,omitempty"`
	BonusID  uint    `json:"bonus_id,omitempty"`
}

func (*HuntAddBonus) WidgetType() string { return KindBonusHunt }
func (*HuntAddBonus) EventType() string  { return EventHuntAddBonus }

func (e *HuntAddBonus) apply(ctx context.Context, fx *effects) error {
	hunt, err := runningHunt(ctx, fx)
	if err != nil {
		return err
	}
	e.Slot = strings.TrimSpace(e.Slot)
	if strings.TrimSpace(e.Provider) == "" {
		e.Provider = defaultProvider
	}
	bonus, err := fx.store.AddBonus(ctx, hunt.ID, e.Slot, e.Provider, e.Bet)
	if err != nil {
		return err
	}
	e.HuntID = hunt.ID
	e.BonusID = bonus.ID
	return nil
}

func (e *HuntAddBonus) reduce(state State) snapshot.Patch {
	entries := append(state.List("entries"), map[string]any{
		"bonus_id": e.BonusID,
		"slot":     e.Slot,
		"provider": e.Provider,
		"bet":      e.Bet,
		"payout":   nil,
	})
	return huntTotals(entries)
}

type HuntSetPayout struct {
	BonusID uint    `json:"bonus_id" validate:"required"`
	Payout  float64 `json:"payout" validate:"gte=0"`
}

func (*HuntSetPayout) WidgetType() string { return KindBonusHunt }
func (*HuntSetPayout) EventType() string  { return EventHuntSetPayout }

func (e *HuntSetPayout) apply(ctx context.Context, fx *effects) error {
	hunt, err := runningHunt(ctx, fx)
	if err != nil {
		return err
	}
	bonus, err := fx.store.SetBonusPayout(ctx, hunt.ID, e.BonusID, e.Payout)
	if err != nil {
		return err
	}
	if bonus == nil {
		return apperr.New(apperr.CodeNotFound, "bonus %d is not part of the running hunt", e.BonusID)
	}
	return nil
}

func (e *HuntSetPayout) reduce(state State) snapshot.Patch {
	entries := state.List("entries")
	for i, entry := range entries {
		if uint(toFloat(field(entry, "bonus_id"))) != e.BonusID {
			continue
		}
		updated := copyItem(entry)
		updated["payout"] = e.Payout
		entries[i] = updated
	}
	return huntTotals(entries)
}

type HuntFinish struct {
	HuntID uint `json:"hunt_id,omitempty"`
}

func (*HuntFinish) WidgetType() string { return KindBonusHunt }
func (*HuntFinish) EventType() string  { return EventHuntFinish }

func (e *HuntFinish) apply(ctx context.Context, fx *effects) error {
	hunt, err := runningHunt(ctx, fx)
	if err != nil {
		return err
	}
	e.HuntID = hunt.ID
	return fx.store.FinishHunt(ctx, hunt.ID)
}

func (e *HuntFinish) reduce(State) snapshot.Patch {
	return snapshot.Patch{
		"status":        db.HuntFinished,
		"guessing_open": false,
	}
}
