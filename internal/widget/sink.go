package widget

import (
	"context"

	"github.com/emcifuntik/twitch-overlay-widgets/internal/db"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/snapshot"
)

// Sink delivers system events, such as chat refreshes, to every place a
// channel shows the event's widget kind.
type Sink struct {
	proc  *Processor
	store *db.Store
	snaps *snapshot.Store
}

func NewSink(proc *Processor, store *db.Store, snaps *snapshot.Store) *Sink {
	return &Sink{proc: proc, store: store, snaps: snaps}
}

// targets lists one target per overlay for channel kinds and one per widget
// for instance kinds.
func (s *Sink) targets(ctx context.Context, channelID uint, widgetType string) ([]Target, error) {
	widgets, err := s.store.ListWidgetsByKind(ctx, channelID, widgetType)
	if err != nil {
		return nil, err
	}
	instance := IsInstanceKind(widgetType)
	seen := make(map[uint]bool)
	var out []Target
	for _, w := range widgets {
		if instance {
			id := w.ID
			out = append(out, Target{ChannelID: channelID, OverlayID: w.OverlayID, WidgetID: &id})
			continue
		}
		if seen[w.OverlayID] {
			continue
		}
		seen[w.OverlayID] = true
		out = append(out, Target{ChannelID: channelID, OverlayID: w.OverlayID})
	}
	return out, nil
}

// Emit dispatches ev without an actor to every target. Failures are logged
// and never returned: the caller's own change already happened. It returns
// the number of snapshots updated.
func (s *Sink) Emit(ctx context.Context, channelID uint, ev Event) int {
	targets, err := s.targets(ctx, channelID, ev.WidgetType())
	if err != nil {
		log.Warn("Resolving %s widgets of channel %d failed: %v", ev.WidgetType(), channelID, err)
		return 0
	}
	if len(targets) == 0 {
		log.Debug("Channel %d shows no %s widget, %s not emitted", channelID, ev.WidgetType(), ev.EventType())
		return 0
	}
	delivered := 0
	for _, target := range targets {
		if _, err := s.proc.Dispatch(ctx, target, ev, nil); err != nil {
			log.Warn("Refreshing %s on overlay %d failed: %v", ev.WidgetType(), target.OverlayID, err)
			continue
		}
		delivered++
	}
	return delivered
}

// ChannelFlag reports whether any snapshot of widgetType in the channel has
// the boolean field set. Overlays are updated separately, so one overlay may
// show a flag another never received.
func (s *Sink) ChannelFlag(ctx context.Context, channelID uint, widgetType, field string) (bool, error) {
	targets, err := s.targets(ctx, channelID, widgetType)
	if err != nil {
		return false, err
	}
	for _, target := range targets {
		key := db.SnapshotKey{OverlayID: target.OverlayID, WidgetType: widgetType}
		if target.WidgetID != nil {
			key.WidgetID = *target.WidgetID
		}
		snap, err := s.snaps.Get(ctx, key)
		if err != nil {
			return false, err
		}
		if snap == nil {
			continue
		}
		if set, _ := State(snap.State)[field].(bool); set {
			return true, nil
		}
	}
	return false, nil
}
