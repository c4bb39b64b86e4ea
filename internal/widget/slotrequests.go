package widget

import (
	"context"
	"strings"

	"github.com/emcifuntik/twitch-overlay-widgets/internal/apperr"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/db"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/snapshot"
)

const (
	EventRequestAdd    = "request_add"
	EventRequestRemove = "request_remove"
	EventRequestPlayed = "request_played"
	EventRequestClear  = "request_clear"
)

func withoutRequest(state State, requestID uint) []any {
	kept := []any{}
	for _, item := range state.List("requests") {
		if uint(toFloat(field(item, "request_id"))) == requestID {
			continue
		}
		kept = append(kept, item)
	}
	return kept
}

// RequestAdd appends a slot request to the queue. A zero RequestID means the
// request comes from the dashboard and is inserted here; chat requests are
// inserted by the interpreter and carry their id.
type RequestAdd struct {
	RequestID  uint   `json:"request_id"`
	ViewerID   string `json:"viewer_id"`
	ViewerName string `json:"viewer_name" validate:"max=64"`
	Slot       string `json:"slot" validate:"required,max=128"`
}

func (*RequestAdd) WidgetType() string { return KindSlotRequests }
func (*RequestAdd) EventType() string  { return EventRequestAdd }

func (e *RequestAdd) apply(ctx context.Context, fx *effects) error {
	if e.RequestID != 0 {
		return nil
	}
	req := &db.SlotRequest{
		ChannelID:  fx.channelID,
		ViewerID:   e.ViewerID,
		ViewerName: e.ViewerName,
		Slot:       strings.TrimSpace(e.Slot),
		Status:     db.RequestPending,
	}
	if err := fx.store.CreateSlotRequest(ctx, req); err != nil {
		return err
	}
	e.RequestID = req.ID
	e.Slot = req.Slot
	return nil
}

func (e *RequestAdd) reduce(state State) snapshot.Patch {
	requests := withoutRequest(state, e.RequestID)
	requests = append(requests, map[string]any{
		"request_id":  e.RequestID,
		"viewer_name": e.ViewerName,
		"slot":        e.Slot,
	})
	return snapshot.Patch{"requests": requests, "count": len(requests)}
}

type RequestRemove struct {
	RequestID uint `json:"request_id" validate:"required"`
}

func (*RequestRemove) WidgetType() string { return KindSlotRequests }
func (*RequestRemove) EventType() string  { return EventRequestRemove }

func (e *RequestRemove) apply(ctx context.Context, fx *effects) error {
	req, err := fx.store.SettleRequest(ctx, fx.channelID, e.RequestID, db.RequestRemoved)
	if err != nil {
		return err
	}
	if req == nil {
		return apperr.New(apperr.CodeNotFound, "no pending request %d", e.RequestID)
	}
	return nil
}

func (e *RequestRemove) reduce(state State) snapshot.Patch {
	requests := withoutRequest(state, e.RequestID)
	return snapshot.Patch{"requests": requests, "count": len(requests)}
}

type RequestPlayed struct {
	RequestID  uint   `json:"request_id" validate:"required"`
	Slot       string `json:"slot,omitempty"`
	ViewerName string `json:"viewer_name,omitempty"`
}

func (*RequestPlayed) WidgetType() string { return KindSlotRequests }
func (*RequestPlayed) EventType() string  { return EventRequestPlayed }

func (e *RequestPlayed) apply(ctx context.Context, fx *effects) error {
	req, err := fx.store.SettleRequest(ctx, fx.channelID, e.RequestID, db.RequestPlayed)
	if err != nil {
		return err
	}
	if req == nil {
		return apperr.New(apperr.CodeNotFound, "no pending request %d", e.RequestID)
	}
	e.Slot = req.Slot
	e.ViewerName = req.ViewerName
	return nil
}

func (e *RequestPlayed) reduce(state State) snapshot.Patch {
	requests := withoutRequest(state, e.RequestID)
	return snapshot.Patch{
		"requests": requests,
		"count":    len(requests),
		"last_played": map[string]any{
			"request_id":  e.RequestID,
			"slot":        e.Slot,
			"viewer_name": e.ViewerName,
		},
	}
}

type RequestClear struct {
	Cleared int64 `json:"cleared"`
}

func (*RequestClear) WidgetType() string { return KindSlotRequests }
func (*RequestClear) EventType() string  { return EventRequestClear }

func (e *RequestClear) apply(ctx context.Context, fx *effects) error {
	n, err := fx.store.ClearRequests(ctx, fx.channelID)
	if err != nil {
		return err
	}
	e.Cleared = n
	return nil
}

func (e *RequestClear) reduce(State) snapshot.Patch {
	return snapshot.Patch{"requests": []any{}, "count": 0}
}
