package widget

import (
	"context"
	"strings"

	"github.com/emcifuntik/twitch-overlay-widgets/internal/db"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/snapshot"
)

const (
	EventBattleStart = "battle_start"
	EventBattleRound = "battle_round"
	EventBattleEnd   = "battle_end"
)

type BattleStart struct {
	Slots    []string `json:"slots" validate:"min=2,max=16,dive,required,max=128"`
	BattleID uint     `json:"battle_id,omitempty"`
}

func (*BattleStart) WidgetType() string { return KindSlotBattle }
func (*BattleStart) EventType() string  { return EventBattleStart }

func (e *BattleStart) apply(ctx context.Context, fx *effects) error {
	for i := range e.Slots {
		e.Slots[i] = strings.TrimSpace(e.Slots[i])
	}
	battle, err := fx.store.StartSlotBattle(ctx, fx.widgetID, e.Slots)
	if err != nil {
		return err
	}
	e.BattleID = battle.ID
	return nil
}

func (e *BattleStart) reduce(State) snapshot.Patch {
	scores := make(map[string]any, len(e.Slots))
	for _, slot := range e.Slots {
		scores[slot] = 0.0
	}
	return snapshot.Patch{
		"battle_id":  e.BattleID,
		"slots":      e.Slots,
		"round":      0,
		"scores":     scores,
		"status":     db.BattleRunning,
		"winner":     nil,
		"last_round": nil,
	}
}

type BattleRound struct {
	Slot       string             `json:"slot" validate:"required,max=128"`
	Bet        float64            `json:"bet" validate:"gt=0"`
	Payout     float64            `json:"payout" validate:"gte=0"`
	Round      int                `json:"round,omitempty"`
	Multiplier float64            `json:"multiplier,omitempty"`
	Scores     map[string]float64 `json:"scores,omitempty"`
}

func (*BattleRound) WidgetType() string { return KindSlotBattle }
func (*BattleRound) EventType() string  { return EventBattleRound }

func (e *BattleRound) apply(ctx context.Context, fx *effects) error {
	battle, round, err := fx.store.RecordBattleRound(ctx, fx.widgetID, e.Slot, e.Bet, e.Payout)
	if err != nil {
		return err
	}
	e.Slot = round.Slot
	e.Round = round.Round
	e.Multiplier = e.Payout / e.Bet
	e.Scores = battle.BattleScores()
	return nil
}

func (e *BattleRound) reduce(State) snapshot.Patch {
	return snapshot.Patch{
		"round":  e.Round,
		"scores": e.Scores,
		"last_round": map[string]any{
			"slot":       e.Slot,
			"bet":        e.Bet,
			"payout":     e.Payout,
			"multiplier": e.Multiplier,
		},
	}
}

type BattleEnd struct {
	Winner string `json:"winner,omitempty"`
}

func (*BattleEnd) WidgetType() string { return KindSlotBattle }
func (*BattleEnd) EventType() string  { return EventBattleEnd }

func (e *BattleEnd) apply(ctx context.Context, fx *effects) error {
	battle, err := fx.store.FinishSlotBattle(ctx, fx.widgetID)
	if err != nil {
		return err
	}
	e.Winner = leadingSlot(battle)
	return nil
}

// leadingSlot returns the slot with the highest score; ties go to the slot
// listed first.
func leadingSlot(battle *db.SlotBattle) string {
	scores := battle.BattleScores()
	winner := ""
	best := -1.0
	for _, slot := range battle.BattleSlots() {
		if scores[slot] > best {
			winner, best = slot, scores[slot]
		}
	}
	return winner
}

func (e *BattleEnd) reduce(State) snapshot.Patch {
	return snapshot.Patch{
		"status": db.BattleFinished,
		"winner": e.Winner,
	}
}
