// Package dbtest opens throwaway SQLite stores for tests.
package dbtest

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/emcifuntik/twitch-overlay-widgets/internal/db"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	OwnerID   = "1000"
	OwnerName = "streamer"
)

var seq atomic.Int64

// New returns a migrated in-memory store closed at test cleanup.
func New(t testing.TB) *db.Store {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb%d?mode=memory&cache=shared", seq.Add(1))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db.NewStore(gdb)
}

// Fixture is a channel with one overlay holding one widget per requested kind.
type Fixture struct {
	Channel *db.Channel
	Overlay *db.Overlay
	Widgets map[string]*db.WidgetInstance
}

// Seed creates a channel owned by OwnerID with an overlay and widgets.
func Seed(t testing.TB, store *db.Store, kinds ...string) *Fixture {
	t.Helper()
	ctx := context.Background()

	channel, err := store.UpsertChannel(ctx, OwnerID, OwnerName, "", "")
	if err != nil {
		t.Fatalf("seed channel: %v", err)
	}
	overlay := &db.Overlay{
		ChannelID:   channel.ID,
		Name:        "main",
		PublicToken: fmt.Sprintf("token-%d", seq.Add(1)),
	}
	if err := store.CreateOverlay(ctx, overlay); err != nil {
		t.Fatalf("seed overlay: %v", err)
	}

	f := &Fixture{Channel: channel, Overlay: overlay, Widgets: map[string]*db.WidgetInstance{}}
	for _, kind := range kinds {
		w := &db.WidgetInstance{OverlayID: overlay.ID, Kind: kind, IsEnabled: true}
		if err := store.CreateWidget(ctx, w); err != nil {
			t.Fatalf("seed widget %s: %v", kind, err)
		}
		f.Widgets[kind] = w
	}
	return f
}

// Credit gives a viewer points through the ledger.
func Credit(t testing.TB, store *db.Store, channelID uint, viewerID string, amount int64) {
	t.Helper()
	err := store.InsertLedger(context.Background(), &db.PointsLedger{
		ChannelID: channelID,
		ViewerID:  viewerID,
		Delta:     amount,
		Reason:    "test credit",
	})
	if err != nil {
		t.Fatalf("credit %s: %v", viewerID, err)
	}
}
