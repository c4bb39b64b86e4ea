// Package main seeds a development database with one channel, an overlay
// carrying every widget kind, and a session token for the channel owner.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/emcifuntik/twitch-overlay-widgets/internal/authz"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/config"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/db"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/service"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/widget"
	"github.com/google/uuid"
)

var kinds = []string{
	widget.KindBonusHunt, widget.KindGuessBalance, widget.KindWagerBar,
	widget.KindSlotRequests, widget.KindSlotBattle, widget.KindPointsBattle,
	widget.KindLoyalty, widget.KindLoyaltyStore, widget.KindWheel, widget.KindHotWords,
}

func main() {
	var ownerID, ownerName, overlayName, modID, modName string
	flag.StringVar(&ownerID, "owner-id", "1000", "Twitch user id of the channel owner")
	flag.StringVar(&ownerName, "owner", "streamer", "Twitch login of the channel owner")
	flag.StringVar(&overlayName, "overlay", "main", "overlay name")
	flag.StringVar(&modID, "mod-id", "", "Twitch user id of a moderator to grant every widget key (optional)")
	flag.StringVar(&modName, "mod", "moderator", "Twitch login of that moderator")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := run(context.Background(), cfg, ownerID, ownerName, overlayName, modID, modName); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, ownerID, ownerName, overlayName, modID, modName string) error {
	gdb, err := db.Open(cfg.DB)
	if err != nil {
		return err
	}
	store := db.NewStore(gdb)

	channel, err := store.UpsertChannel(ctx, ownerID, ownerName, "", "")
	if err != nil {
		return fmt.Errorf("create channel: %w", err)
	}

	overlay := &db.Overlay{
		ChannelID:   channel.ID,
		Name:        overlayName,
		PublicToken: strings.ReplaceAll(uuid.NewString(), "-", ""),
	}
	if err := store.CreateOverlay(ctx, overlay); err != nil {
		return fmt.Errorf("create overlay: %w", err)
	}

	fmt.Printf("Channel %d (%s)\n", channel.ID, channel.Name)
	fmt.Printf("Overlay %d: /ws/overlays/%d?token=%s\n", overlay.ID, overlay.ID, overlay.PublicToken)
	for _, kind := range kinds {
		w := &db.WidgetInstance{OverlayID: overlay.ID, Kind: kind, IsEnabled: true}
		if err := store.CreateWidget(ctx, w); err != nil {
			return fmt.Errorf("create %s widget: %w", kind, err)
		}
		fmt.Printf("  widget %-14s id=%d\n", kind, w.ID)
	}

	if modID != "" {
		role, err := store.AddModerator(ctx, channel.ID, modID, modName)
		if err != nil {
			return fmt.Errorf("add moderator: %w", err)
		}
		for _, kind := range kinds {
			p := &db.Permission{ChannelRoleID: role.ID, Key: authz.WidgetKey(kind)}
			if err := store.GrantPermission(ctx, p); err != nil {
				return fmt.Errorf("grant %s: %w", p.Key, err)
			}
		}
		fmt.Printf("Moderator %s (role %d) holds every widget key\n", modName, role.ID)
	}

	if cfg.JWTSecret != "" {
		token, err := service.NewTokenService(cfg.JWTSecret).Generate(ownerID, ownerName)
		if err != nil {
			return fmt.Errorf("sign session: %w", err)
		}
		fmt.Printf("Session token: %s\n", token)
	}
	return nil
}
