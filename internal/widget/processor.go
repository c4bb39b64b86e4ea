package widget

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/emcifuntik/twitch-overlay-widgets/internal/apperr"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/authz"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/db"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/snapshot"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DefaultTimeout bounds the side effect and commit of one event.
const DefaultTimeout = 5 * time.Second

// Authorizer gates actor-driven events. *authz.Resolver satisfies it.
type Authorizer interface {
	Authorize(ctx context.Context, req authz.Request) error
}

// Submission is one raw event as received from the dashboard or an ingest
// webhook. ActorID is nil for system callers, which skip authorization.
type Submission struct {
	ChannelID  uint            `json:"-"`
	OverlayID  uint            `json:"overlay_id"`
	WidgetID   *uint           `json:"widget_id,omitempty"`
	WidgetType string          `json:"widget_type"`
	EventType  string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload"`
	ActorID    *string         `json:"-"`
}

// Target is where an event lands.
type Target struct {
	ChannelID uint
	OverlayID uint
	WidgetID  *uint
}

// Receipt identifies the recorded event and the snapshot it was merged into.
// Payload echoes the event including fields computed by its side effect.
type Receipt struct {
	EventID    string             `json:"event_id"`
	SnapshotID string             `json:"snapshot_id"`
	Payload    json.RawMessage    `json:"payload"`
	Snapshot   *snapshot.Snapshot `json:"-"`
}

type Processor struct {
	store   *db.Store
	snaps   *snapshot.Store
	authz   Authorizer
	timeout time.Duration
	now     func() time.Time
	intn    func(n int) int
}

type Option func(*Processor)

func WithTimeout(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// WithRandom replaces the source used to pick wheel segments.
func WithRandom(intn func(n int) int) Option {
	return func(p *Processor) { p.intn = intn }
}

func NewProcessor(store *db.Store, snaps *snapshot.Store, authorizer Authorizer, opts ...Option) *Processor {
	p := &Processor{
		store:   store,
		snaps:   snaps,
		authz:   authorizer,
		timeout: DefaultTimeout,
		now:     func() time.Time { return time.Now().UTC() },
		intn:    rand.IntN,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit decodes and dispatches a raw submission.
func (p *Processor) Submit(ctx context.Context, sub Submission) (*Receipt, error) {
	ev, err := Decode(sub.WidgetType, sub.EventType, sub.Payload)
	if err != nil {
		return nil, err
	}
	target := Target{ChannelID: sub.ChannelID, OverlayID: sub.OverlayID, WidgetID: sub.WidgetID}
	return p.Dispatch(ctx, target, ev, sub.ActorID)
}

// Dispatch validates, authorizes and applies ev, then records it and merges
// it into the target's snapshot. Nothing is recorded when any step before the
// commit fails.
func (p *Processor) Dispatch(ctx context.Context, target Target, ev Event, actorID *string) (*Receipt, error) {
	if err := check(ev); err != nil {
		return nil, err
	}
	key, err := p.resolveTarget(ctx, target, ev.WidgetType())
	if err != nil {
		return nil, err
	}

	if actorID != nil {
		err := p.authz.Authorize(ctx, authz.Request{
			ActorID:   *actorID,
			ChannelID: target.ChannelID,
			Key:       authz.WidgetKey(ev.WidgetType()),
			OverlayID: &target.OverlayID,
			WidgetID:  target.WidgetID,
		})
		if err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	fx := &effects{
		store:     p.store,
		channelID: target.ChannelID,
		overlayID: target.OverlayID,
		widgetID:  key.WidgetID,
		now:       p.now(),
		intn:      p.intn,
	}
	if err := ev.apply(ctx, fx); err != nil {
		return nil, sideEffectError(ev, err)
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "encode payload", err)
	}
	row := &db.WidgetEvent{
		ChannelID:  target.ChannelID,
		OverlayID:  target.OverlayID,
		WidgetID:   target.WidgetID,
		WidgetType: ev.WidgetType(),
		EventType:  ev.EventType(),
		Payload:    datatypes.JSON(payload),
		ActorID:    actorID,
	}
	snap, err := p.snaps.Commit(ctx, row, key, func(state map[string]any) snapshot.Patch {
		return ev.reduce(State(state))
	})
	if err != nil {
		return nil, log.Error("Recording %s/%s on overlay %d", err, ev.WidgetType(), ev.EventType(), target.OverlayID)
	}

	log.Debug("%s/%s on %s -> v%d", ev.WidgetType(), ev.EventType(), key, snap.Version)
	return &Receipt{
		EventID:    row.ID,
		SnapshotID: snap.ID,
		Payload:    payload,
		Snapshot:   snap,
	}, nil
}

// resolveTarget checks the target against the event's scope and returns the
// snapshot key.
func (p *Processor) resolveTarget(ctx context.Context, target Target, widgetType string) (db.SnapshotKey, error) {
	key := db.SnapshotKey{OverlayID: target.OverlayID, WidgetType: widgetType}

	instance := IsInstanceKind(widgetType)
	switch {
	case instance && target.WidgetID == nil:
		return key, apperr.New(apperr.CodeValidationFailed, "%s events need a widget_id", widgetType)
	case !instance && target.WidgetID != nil:
		return key, apperr.New(apperr.CodeValidationFailed, "%s events are channel scoped and take no widget_id", widgetType)
	}

	overlay, err := p.store.GetOverlay(ctx, target.OverlayID)
	if err != nil {
		return key, apperr.Wrap(apperr.CodeInternal, "load overlay", err)
	}
	if overlay == nil || overlay.ChannelID != target.ChannelID {
		return key, apperr.New(apperr.CodeNotFound, "overlay %d not found in channel %d", target.OverlayID, target.ChannelID)
	}
	if !instance {
		return key, nil
	}

	w, err := p.store.GetWidget(ctx, *target.WidgetID)
	if err != nil {
		return key, apperr.Wrap(apperr.CodeInternal, "load widget", err)
	}
	if w == nil || w.OverlayID != target.OverlayID {
		return key, apperr.New(apperr.CodeNotFound, "widget %d not found on overlay %d", *target.WidgetID, target.OverlayID)
	}
	if w.Kind != widgetType {
		return key, apperr.New(apperr.CodeValidationFailed, "widget %d is a %s, not a %s", w.ID, w.Kind, widgetType)
	}
	key.WidgetID = w.ID
	return key, nil
}

var preconditionErrors = []error{
	db.ErrBattleNotRunning,
	db.ErrUnknownSlot,
	db.ErrUnknownTeam,
	db.ErrInsufficientPoints,
	db.ErrRedemptionSettled,
}

// sideEffectError keeps typed errors, reports broken domain preconditions as
// validation failures and everything else as side_effect_failed.
func sideEffectError(ev Event, err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.Wrap(apperr.CodeNotFound, ev.WidgetType()+"/"+ev.EventType(), err)
	}
	for _, target := range preconditionErrors {
		if errors.Is(err, target) {
			return apperr.Wrap(apperr.CodeValidationFailed, ev.WidgetType()+"/"+ev.EventType(), err)
		}
	}
	log.Warn("Side effect of %s/%s failed: %v", ev.WidgetType(), ev.EventType(), err)
	return apperr.Wrap(apperr.CodeSideEffectFailed, ev.WidgetType()+"/"+ev.EventType(), err)
}
