package snapshot

import (
	"sync"

	"github.com/emcifuntik/twitch-overlay-widgets/internal/db"
)

// DefaultBuffer is the per-subscription queue length.
const DefaultBuffer = 16

// Hub fans snapshots out to subscribers of an overlay. Snapshots older than
// the newest version already seen for their key are dropped. Versions are
// only remembered for overlays that have subscribers.
type Hub struct {
	mu     sync.Mutex
	subs   map[uint]map[*Subscription]struct{}
	latest map[uint]map[db.SnapshotKey]int64
}

func NewHub() *Hub {
	return &Hub{
		subs:   make(map[uint]map[*Subscription]struct{}),
		latest: make(map[uint]map[db.SnapshotKey]int64),
	}
}

// Subscription receives the snapshots of one overlay, optionally narrowed to
// one widget. A slow reader loses its oldest queued snapshot, never the newest.
type Subscription struct {
	OverlayID uint
	WidgetID  *uint

	hub    *Hub
	ch     chan *Snapshot
	closed bool
}

// C is closed when the subscription is closed.
func (s *Subscription) C() <-chan *Snapshot {
	return s.ch
}

func (s *Subscription) matches(snap *Snapshot) bool {
	if s.WidgetID == nil {
		return true
	}
	return snap.WidgetID != nil && *snap.WidgetID == *s.WidgetID
}

func (s *Subscription) Close() {
	s.hub.remove(s)
}

func (h *Hub) Subscribe(overlayID uint, widgetID *uint, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	sub := &Subscription{
		OverlayID: overlayID,
		WidgetID:  widgetID,
		hub:       h,
		ch:        make(chan *Snapshot, buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[overlayID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[overlayID] = set
	}
	set[sub] = struct{}{}
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)
	if set, ok := h.subs[sub.OverlayID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.OverlayID)
			delete(h.latest, sub.OverlayID)
		}
	}
}

// Publish delivers snap to matching subscribers. It reports false when a
// newer or equal version of the key was already published while the overlay
// had subscribers.
func (h *Hub) Publish(snap *Snapshot) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subs[snap.OverlayID]
	if len(subs) == 0 {
		return true
	}
	key := snap.Key()
	versions, ok := h.latest[snap.OverlayID]
	if !ok {
		versions = make(map[db.SnapshotKey]int64)
		h.latest[snap.OverlayID] = versions
	}
	if snap.Version <= versions[key] {
		return false
	}
	versions[key] = snap.Version

	for sub := range subs {
		if !sub.matches(snap) {
			continue
		}
		select {
		case sub.ch <- snap:
			continue
		default:
		}
		// Full: drop the oldest queued snapshot to make room.
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- snap:
		default:
			log.Warn("Subscriber of overlay %d is not draining, dropped %s v%d", snap.OverlayID, key, snap.Version)
		}
	}
	return true
}

// Subscribers returns the number of live subscriptions of an overlay.
func (h *Hub) Subscribers(overlayID uint) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[overlayID])
}

func (h *Hub) trackedOverlays() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.latest)
}
