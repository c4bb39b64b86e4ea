package widget

import (
	"context"
	"encoding/json"
	"time"

	"github.com/emcifuntik/twitch-overlay-widgets/internal/db"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/snapshot"
	"gorm.io/datatypes"
)

const EventWheelSpin = "wheel_spin"

// WheelSpin picks a uniformly random segment. ResultIndex, Result and SpunAt
// are filled in by the spin and echoed back in the receipt.
type WheelSpin struct {
	Segments    []string  `json:"segments" validate:"min=1,max=64,dive,required,max=128"`
	ResultIndex int       `json:"result_index"`
	Result      string    `json:"result"`
	SpunAt      time.Time `json:"spun_at"`
}

func (*WheelSpin) WidgetType() string { return KindWheel }
func (*WheelSpin) EventType() string  { return EventWheelSpin }

func (e *WheelSpin) apply(ctx context.Context, fx *effects) error {
	e.ResultIndex = fx.intn(len(e.Segments))
	e.Result = e.Segments[e.ResultIndex]
	e.SpunAt = fx.now

	raw, err := json.Marshal(e.Segments)
	if err != nil {
		return err
	}
	return fx.store.CreateWheelSpin(ctx, &db.WheelSpin{
		WidgetID:    fx.widgetID,
		Segments:    datatypes.JSON(raw),
		ResultIndex: e.ResultIndex,
		Result:      e.Result,
	})
}

func (e *WheelSpin) reduce(State) snapshot.Patch {
	return snapshot.Patch{
		"segments":     e.Segments,
		"result_index": e.ResultIndex,
		"result":       e.Result,
		"spun_at":      e.SpunAt,
	}
}
