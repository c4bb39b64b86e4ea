package snapshot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func snap(overlayID uint, widgetID *uint, version int64) *Snapshot {
	return &Snapshot{
		ID:         "s",
		OverlayID:  overlayID,
		WidgetID:   widgetID,
		WidgetType: "wheel",
		State:      map[string]any{"v": version},
		Version:    version,
	}
}

func TestHubDropsStaleVersions(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe(1, nil, 4)
	defer sub.Close()

	if !hub.Publish(snap(1, nil, 2)) {
		t.Fatal("expected version 2 to be delivered")
	}
	if hub.Publish(snap(1, nil, 2)) {
		t.Fatal("expected duplicate version to be dropped")
	}
	if hub.Publish(snap(1, nil, 1)) {
		t.Fatal("expected older version to be dropped")
	}
	if got := len(sub.C()); got != 1 {
		t.Fatalf("expected 1 queued snapshot, got %d", got)
	}
}

func TestHubDropsOldestWhenFull(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe(1, nil, 2)
	defer sub.Close()

	for v := int64(1); v <= 5; v++ {
		hub.Publish(snap(1, nil, v))
	}

	first := <-sub.C()
	second := <-sub.C()
	if first.Version != 4 || second.Version != 5 {
		t.Fatalf("expected versions 4 and 5, got %d and %d", first.Version, second.Version)
	}
}

func TestHubFiltersByOverlayAndWidget(t *testing.T) {
	hub := NewHub()
	w1, w2 := uint(7), uint(8)
	overlaySub := hub.Subscribe(1, nil, 4)
	widgetSub := hub.Subscribe(1, &w1, 4)
	otherSub := hub.Subscribe(2, nil, 4)
	defer overlaySub.Close()
	defer widgetSub.Close()
	defer otherSub.Close()

	hub.Publish(snap(1, &w1, 1))
	hub.Publish(snap(1, &w2, 1))
	hub.Publish(snap(1, nil, 1))

	if got := len(overlaySub.C()); got != 3 {
		t.Fatalf("overlay subscriber: expected 3, got %d", got)
	}
	if got := len(widgetSub.C()); got != 1 {
		t.Fatalf("widget subscriber: expected 1, got %d", got)
	}
	if got := len(otherSub.C()); got != 0 {
		t.Fatalf("other overlay subscriber: expected 0, got %d", got)
	}
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe(3, nil, 0)
	if hub.Subscribers(3) != 1 {
		t.Fatalf("expected 1 subscriber")
	}
	sub.Close()
	sub.Close()
	if hub.Subscribers(3) != 0 {
		t.Fatalf("expected no subscribers after close")
	}
	if _, ok := <-sub.C(); ok {
		t.Fatal("expected closed channel")
	}
	// Publishing after close must not panic on the closed channel.
	hub.Publish(snap(3, nil, 1))
}

func TestKeyLocksForgetReleasedKeys(t *testing.T) {
	locks := newKeyLocks()
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locks.lock(context.Background(), snap(1, nil, 1).Key())
			if err != nil {
				t.Error(err)
				return
			}
			counter++
			unlock()
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Fatalf("expected 50 increments, got %d", counter)
	}
	if locks.size() != 0 {
		t.Fatalf("expected no retained locks, got %d", locks.size())
	}
}

func TestKeyLockGivesUpWhenContextEnds(t *testing.T) {
	locks := newKeyLocks()
	key := snap(1, nil, 1).Key()
	unlock, err := locks.lock(context.Background(), key)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locks.lock(ctx, key); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if locks.size() != 1 {
		t.Fatalf("expected only the holder to remain, got %d", locks.size())
	}

	unlock()
	if locks.size() != 0 {
		t.Fatalf("expected no retained locks, got %d", locks.size())
	}
}

func TestHubForgetsVersionsOfUnwatchedOverlays(t *testing.T) {
	hub := NewHub()
	for id := uint(1); id <= 100; id++ {
		hub.Publish(snap(id, nil, 1))
	}
	if n := hub.trackedOverlays(); n != 0 {
		t.Fatalf("expected no versions kept without subscribers, got %d", n)
	}

	sub := hub.Subscribe(1, nil, 4)
	hub.Publish(snap(1, nil, 2))
	if n := hub.trackedOverlays(); n != 1 {
		t.Fatalf("expected one watched overlay, got %d", n)
	}
	sub.Close()
	if n := hub.trackedOverlays(); n != 0 {
		t.Fatalf("expected versions dropped with the last subscriber, got %d", n)
	}
}
