package snapshot_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/emcifuntik/twitch-overlay-widgets/internal/db"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/db/dbtest"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/snapshot"
)

type recordingPublisher struct {
	mu    sync.Mutex
	snaps []*snapshot.Snapshot
}

func (p *recordingPublisher) Publish(ctx context.Context, snap *snapshot.Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snaps = append(p.snaps, snap)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.snaps)
}

func set(field string, value any) snapshot.ReduceFunc {
	return func(map[string]any) snapshot.Patch {
		return snapshot.Patch{field: value}
	}
}

func newEvent(f *dbtest.Fixture, widgetID *uint, widgetType, eventType string) *db.WidgetEvent {
	return &db.WidgetEvent{
		ChannelID:  f.Channel.ID,
		OverlayID:  f.Overlay.ID,
		WidgetID:   widgetID,
		WidgetType: widgetType,
		EventType:  eventType,
	}
}

func TestCommitKeepsDisjointFields(t *testing.T) {
	store := dbtest.New(t)
	f := dbtest.Seed(t, store, "wager_bar")
	widgetID := f.Widgets["wager_bar"].ID
	key := db.SnapshotKey{OverlayID: f.Overlay.ID, WidgetID: widgetID, WidgetType: "wager_bar"}
	snaps := snapshot.NewStore(store, snapshot.NewHub())
	ctx := context.Background()

	if _, err := snaps.Commit(ctx, newEvent(f, &widgetID, "wager_bar", "set_wager"), key, set("value", 50.0)); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	got, err := snaps.Commit(ctx, newEvent(f, &widgetID, "wager_bar", "set_target"), key, set("target", 200.0))
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if got.State["value"] != 50.0 || got.State["target"] != 200.0 {
		t.Fatalf("expected both fields, got %v", got.State)
	}
	if got.Version != 2 {
		t.Fatalf("expected version 2, got %d", got.Version)
	}
	if got.WidgetID == nil || *got.WidgetID != widgetID {
		t.Fatalf("expected widget id %d, got %v", widgetID, got.WidgetID)
	}
}

func TestCommitPublishesLocallyAndToRelay(t *testing.T) {
	store := dbtest.New(t)
	f := dbtest.Seed(t, store)
	key := db.SnapshotKey{OverlayID: f.Overlay.ID, WidgetType: "loyalty"}
	hub := snapshot.NewHub()
	relay := &recordingPublisher{}
	snaps := snapshot.NewStore(store, hub, snapshot.WithRelay(relay))

	sub := hub.Subscribe(f.Overlay.ID, nil, 4)
	defer sub.Close()

	committed, err := snaps.Commit(context.Background(), newEvent(f, nil, "loyalty", "points_grant"), key, set("grants_total", 5.0))
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	select {
	case got := <-sub.C():
		if got.ID != committed.ID || got.Version != 1 {
			t.Fatalf("unexpected snapshot %+v", got)
		}
		if got.WidgetID != nil {
			t.Fatalf("channel snapshot should have no widget id, got %d", *got.WidgetID)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber got nothing")
	}
	if relay.count() != 1 {
		t.Fatalf("expected 1 relay publish, got %d", relay.count())
	}
}

func TestConcurrentCommitsApplyInOrder(t *testing.T) {
	store := dbtest.New(t)
	f := dbtest.Seed(t, store)
	key := db.SnapshotKey{OverlayID: f.Overlay.ID, WidgetType: "hot_words"}
	hub := snapshot.NewHub()
	snaps := snapshot.NewStore(store, hub)
	sub := hub.Subscribe(f.Overlay.ID, nil, 64)
	defer sub.Close()

	increment := func(state map[string]any) snapshot.Patch {
		n, _ := state["hits"].(float64)
		return snapshot.Patch{"hits": n + 1}
	}

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := snaps.Commit(context.Background(), newEvent(f, nil, "hot_words", "hot_word_hit"), key, increment)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Commit: %v", err)
		}
	}

	got, err := snaps.Get(context.Background(), key)
	if err != nil || got == nil {
		t.Fatalf("Get: %v %v", got, err)
	}
	if got.State["hits"] != float64(workers) || got.Version != workers {
		t.Fatalf("expected %d hits at version %d, got %v at %d", workers, workers, got.State["hits"], got.Version)
	}

	var last int64
	for i := 0; i < workers; i++ {
		snap := <-sub.C()
		if snap.Version <= last {
			t.Fatalf("versions out of order: %d after %d", snap.Version, last)
		}
		if snap.State["hits"] != float64(snap.Version) {
			t.Fatalf("version %d carries hits %v", snap.Version, snap.State["hits"])
		}
		last = snap.Version
	}
}

func TestGetAndListOverlay(t *testing.T) {
	store := dbtest.New(t)
	f := dbtest.Seed(t, store, "wheel", "wager_bar")
	snaps := snapshot.NewStore(store, snapshot.NewHub())
	ctx := context.Background()

	wheelID := f.Widgets["wheel"].ID
	wagerID := f.Widgets["wager_bar"].ID
	wheelKey := db.SnapshotKey{OverlayID: f.Overlay.ID, WidgetID: wheelID, WidgetType: "wheel"}

	missing, err := snaps.Get(ctx, wheelKey)
	if err != nil || missing != nil {
		t.Fatalf("expected nil snapshot, got %v %v", missing, err)
	}

	if _, err := snaps.Commit(ctx, newEvent(f, &wheelID, "wheel", "wheel_spin"), wheelKey, set("result", "A")); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	wagerKey := db.SnapshotKey{OverlayID: f.Overlay.ID, WidgetID: wagerID, WidgetType: "wager_bar"}
	if _, err := snaps.Commit(ctx, newEvent(f, &wagerID, "wager_bar", "set_wager"), wagerKey, set("value", 1.0)); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	all, err := snaps.ListOverlay(ctx, f.Overlay.ID, nil)
	if err != nil {
		t.Fatalf("ListOverlay: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(all))
	}

	only, err := snaps.ListOverlay(ctx, f.Overlay.ID, &wheelID)
	if err != nil {
		t.Fatalf("ListOverlay: %v", err)
	}
	if len(only) != 1 || only[0].State["result"] != "A" {
		t.Fatalf("unexpected wheel snapshots %+v", only)
	}
}
