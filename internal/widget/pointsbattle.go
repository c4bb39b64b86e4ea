package widget

import (
	"context"
	"strings"

	"github.com/emcifuntik/twitch-overlay-widgets/internal/apperr"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/db"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/snapshot"
)

const (
	EventPBStart   = "pb_start"
	EventPBEntries = "pb_entries"
	EventPBLock    = "pb_lock"
	EventPBResolve = "pb_resolve"
)

func currentBattle(ctx context.Context, fx *effects) (*db.PointsBattle, error) {
	battle, err := fx.store.CurrentPointsBattle(ctx, fx.channelID)
	if err != nil {
		return nil, err
	}
	if battle == nil {
		return nil, apperr.New(apperr.CodeNotFound, "no active points battle")
	}
	return battle, nil
}

type PBStart struct {
	Title     string `json:"title" validate:"required,max=128"`
	TeamA     string `json:"team_a" validate:"required,max=64"`
	TeamB     string `json:"team_b" validate:"required,max=64,nefield=TeamA"`
	EntryCost int64  `json:"entry_cost" validate:"gte=0"`
	BattleID  uint   `json:"battle_id,omitempty"`
	Refunded  int    `json:"refunded,omitempty"`
}

func (*PBStart) WidgetType() string { return KindPointsBattle }
func (*PBStart) EventType() string  { return EventPBStart }

func (e *PBStart) apply(ctx context.Context, fx *effects) error {
	e.Title = strings.TrimSpace(e.Title)
	e.TeamA = strings.TrimSpace(e.TeamA)
	e.TeamB = strings.TrimSpace(e.TeamB)
	if strings.EqualFold(e.TeamA, e.TeamB) {
		return apperr.New(apperr.CodeValidationFailed, "team_b must differ from team_a")
	}
	battle := &db.PointsBattle{
		ChannelID: fx.channelID,
		Title:     e.Title,
		TeamA:     e.TeamA,
		TeamB:     e.TeamB,
		EntryCost: e.EntryCost,
	}
	refunded, err := fx.store.StartPointsBattle(ctx, battle)
	if err != nil {
		return err
	}
	e.BattleID = battle.ID
	e.Refunded = refunded
	return nil
}

func (e *PBStart) reduce(State) snapshot.Patch {
	return snapshot.Patch{
		"battle_id":        e.BattleID,
		"title":            e.Title,
		"team_a":           e.TeamA,
		"team_b":           e.TeamB,
		"entry_cost":       e.EntryCost,
		"status":           db.BattleRunning,
		"winner":           nil,
		"payout_per_entry": nil,
		"team_a_count":     0,
		"team_b_count":     0,
		"pool_a":           0,
		"pool_b":           0,
	}
}

// PBEntries refreshes the pools after viewers joined.
type PBEntries struct {
	TeamACount int64 `json:"team_a_count" validate:"gte=0"`
	TeamBCount int64 `json:"team_b_count" validate:"gte=0"`
	PoolA      int64 `json:"pool_a" validate:"gte=0"`
	PoolB      int64 `json:"pool_b" validate:"gte=0"`
}

func (*PBEntries) WidgetType() string { return KindPointsBattle }
func (*PBEntries) EventType() string  { return EventPBEntries }

func (e *PBEntries) apply(context.Context, *effects) error { return nil }

func (e *PBEntries) reduce(State) snapshot.Patch {
	return snapshot.Patch{
		"team_a_count": e.TeamACount,
		"team_b_count": e.TeamBCount,
		"pool_a":       e.PoolA,
		"pool_b":       e.PoolB,
	}
}

type PBLock struct {
	BattleID uint `json:"battle_id,omitempty"`
}

func (*PBLock) WidgetType() string { return KindPointsBattle }
func (*PBLock) EventType() string  { return EventPBLock }

func (e *PBLock) apply(ctx context.Context, fx *effects) error {
	battle, err := currentBattle(ctx, fx)
	if err != nil {
		return err
	}
	e.BattleID = battle.ID
	return fx.store.LockPointsBattle(ctx, battle.ID)
}

func (e *PBLock) reduce(State) snapshot.Patch {
	return snapshot.Patch{"status": db.BattleLocked}
}

type PBResolve struct {
	Winner         string `json:"winner" validate:"required,max=64"`
	BattleID       uint   `json:"battle_id,omitempty"`
	PayoutPerEntry int64  `json:"payout_per_entry"`
}

func (*PBResolve) WidgetType() string { return KindPointsBattle }
func (*PBResolve) EventType() string  { return EventPBResolve }

func (e *PBResolve) apply(ctx context.Context, fx *effects) error {
	battle, err := currentBattle(ctx, fx)
	if err != nil {
		return err
	}
	team, ok := battle.MatchTeam(e.Winner)
	if !ok {
		return apperr.New(apperr.CodeValidationFailed, "winner %q is not a team of the battle", e.Winner)
	}
	perEntry, err := fx.store.ResolvePointsBattle(ctx, battle.ID, team)
	if err != nil {
		return err
	}
	e.Winner = team
	e.BattleID = battle.ID
	e.PayoutPerEntry = perEntry
	return nil
}

func (e *PBResolve) reduce(State) snapshot.Patch {
	return snapshot.Patch{
		"status":           db.BattleResolved,
		"winner":           e.Winner,
		"payout_per_entry": e.PayoutPerEntry,
	}
}
