package widget

import (
	"context"
	"strings"

	"github.com/emcifuntik/twitch-overlay-widgets/internal/db"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/snapshot"
)

const (
	EventPointsGrant      = "points_grant"
	EventStoreRedeemed    = "store_redeemed"
	EventRedemptionUpdate = "redemption_update"
)

const recentRedemptions = 10

type PointsGrant struct {
	ViewerID   string `json:"viewer_id" validate:"required,max=64"`
	ViewerName string `json:"viewer_name" validate:"max=64"`
	Amount     int64  `json:"amount" validate:"ne=0"`
	Reason     string `json:"reason" validate:"max=128"`
}

func (*PointsGrant) WidgetType() string { return KindLoyalty }
func (*PointsGrant) EventType() string  { return EventPointsGrant }

func (e *PointsGrant) apply(ctx context.Context, fx *effects) error {
	if strings.TrimSpace(e.Reason) == "" {
		e.Reason = "manual grant"
	}
	return fx.store.InsertLedger(ctx, &db.PointsLedger{
		ChannelID: fx.channelID,
		ViewerID:  e.ViewerID,
		Delta:     e.Amount,
		Reason:    e.Reason,
	})
}

func (e *PointsGrant) reduce(state State) snapshot.Patch {
	return snapshot.Patch{
		"last_grant": map[string]any{
			"viewer_id":   e.ViewerID,
			"viewer_name": e.ViewerName,
			"amount":      e.Amount,
			"reason":      e.Reason,
		},
		"grants_total": state.Float("grants_total") + float64(e.Amount),
	}
}

// StoreRedeemed refreshes the store widget after a viewer redeemed an item.
type StoreRedeemed struct {
	RedemptionID uint   `json:"redemption_id" validate:"required"`
	ViewerName   string `json:"viewer_name"`
	Item         string `json:"item" validate:"required"`
	PendingCount int64  `json:"pending_count"`
}

func (*StoreRedeemed) WidgetType() string { return KindLoyaltyStore }
func (*StoreRedeemed) EventType() string  { return EventStoreRedeemed }

func (e *StoreRedeemed) apply(ctx context.Context, fx *effects) error {
	n, err := fx.store.CountPendingRedemptions(ctx, fx.channelID)
	if err != nil {
		return err
	}
	e.PendingCount = n
	return nil
}

func (e *StoreRedeemed) reduce(state State) snapshot.Patch {
	recent := []any{map[string]any{
		"redemption_id": e.RedemptionID,
		"viewer_name":   e.ViewerName,
		"item":          e.Item,
		"status":        db.RedemptionPending,
	}}
	for _, item := range state.List("recent") {
		if len(recent) == recentRedemptions {
			break
		}
		if uint(toFloat(field(item, "redemption_id"))) == e.RedemptionID {
			continue
		}
		recent = append(recent, item)
	}
	return snapshot.Patch{"recent": recent, "pending_count": e.PendingCount}
}

type RedemptionUpdate struct {
	RedemptionID uint   `json:"redemption_id" validate:"required"`
	Status       string `json:"status" validate:"required,oneof=fulfilled rejected"`
	PendingCount int64  `json:"pending_count"`
}

func (*RedemptionUpdate) WidgetType() string { return KindLoyaltyStore }
func (*RedemptionUpdate) EventType() string  { return EventRedemptionUpdate }

func (e *RedemptionUpdate) apply(ctx context.Context, fx *effects) error {
	if _, err := fx.store.SettleRedemption(ctx, fx.channelID, e.RedemptionID, e.Status); err != nil {
		return err
	}
	n, err := fx.store.CountPendingRedemptions(ctx, fx.channelID)
	if err != nil {
		return err
	}
	e.PendingCount = n
	return nil
}

func (e *RedemptionUpdate) reduce(state State) snapshot.Patch {
	recent := state.List("recent")
	for i, item := range recent {
		if uint(toFloat(field(item, "redemption_id"))) == e.RedemptionID {
			updated := copyItem(item)
			updated["status"] = e.Status
			recent[i] = updated
		}
	}
	return snapshot.Patch{
		"recent": recent,
		"last_update": map[string]any{
			"redemption_id": e.RedemptionID,
			"status":        e.Status,
		},
		"pending_count": e.PendingCount,
	}
}
