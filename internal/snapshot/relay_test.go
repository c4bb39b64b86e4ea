package snapshot_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/snapshot"
	"github.com/redis/go-redis/v9"
)

func TestRelayForwardsSnapshotsBetweenHubs(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	newRelay := func() (*snapshot.Hub, *snapshot.Relay) {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		hub := snapshot.NewHub()
		relay := snapshot.NewRelay(rdb, hub)
		if err := relay.Start(ctx); err != nil {
			t.Fatalf("Start: %v", err)
		}
		t.Cleanup(func() { _ = relay.Close() })
		return hub, relay
	}

	_, sender := newRelay()
	remoteHub, _ := newRelay()

	sub := remoteHub.Subscribe(42, nil, 4)
	defer sub.Close()

	widgetID := uint(9)
	sent := &snapshot.Snapshot{
		ID:         "snap-1",
		OverlayID:  42,
		WidgetID:   &widgetID,
		WidgetType: "wager_bar",
		State:      map[string]any{"value": 50.0},
		Version:    3,
	}
	if err := sender.Publish(ctx, sent); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-sub.C():
		if got.ID != "snap-1" || got.Version != 3 || got.State["value"] != 50.0 {
			t.Fatalf("unexpected relayed snapshot %+v", got)
		}
		if got.WidgetID == nil || *got.WidgetID != widgetID {
			t.Fatalf("expected widget id %d, got %v", widgetID, got.WidgetID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("relayed snapshot never arrived")
	}

	// The same version again is a duplicate and must not be delivered twice.
	if err := sender.Publish(ctx, sent); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case got := <-sub.C():
		t.Fatalf("duplicate delivered: %+v", got)
	case <-time.After(200 * time.Millisecond):
	}
}
