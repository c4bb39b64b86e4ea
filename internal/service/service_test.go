package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/emcifuntik/twitch-overlay-widgets/internal/db"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/db/dbtest"
)

func TestTokenRoundTrip(t *testing.T) {
	s := NewTokenService("secret")
	token, err := s.Generate("42", "streamer")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	claims, err := s.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.UserID != "42" || claims.Username != "streamer" || claims.Subject != "42" {
		t.Fatalf("unexpected claims %+v", claims)
	}

	if _, err := NewTokenService("other").Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token with another secret, got %v", err)
	}
	if _, err := s.Validate("not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
}

func TestTokenExpiryAndRefresh(t *testing.T) {
	issued := time.Now().Add(-48 * time.Hour)
	s := NewTokenService("secret")
	s.now = func() time.Time { return issued }
	token, err := s.Generate("42", "streamer")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	s.now = time.Now
	if _, err := s.Validate(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected expired token, got %v", err)
	}
	fresh, err := s.Refresh(token)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if claims, err := s.Validate(fresh); err != nil || claims.UserID != "42" {
		t.Fatalf("refreshed token invalid: %v %+v", err, claims)
	}

	s.now = func() time.Time { return issued.Add(tokenTTL + refreshGrace + time.Hour) }
	if _, err := s.Refresh(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected refresh past the grace period to fail, got %v", err)
	}
}

func TestConfigStoreDefaults(t *testing.T) {
	store := dbtest.New(t)
	f := dbtest.Seed(t, store)
	csa := NewConfigStoreAccessor(store)
	ctx := context.Background()

	if got := csa.Seconds(ctx, f.Channel.ID, db.ConfigKeyGuessCooldown); got != 20*time.Second {
		t.Fatalf("expected default 20s, got %v", got)
	}
	if !csa.Bool(ctx, f.Channel.ID, db.ConfigKeySlotRequestsOpen) {
		t.Fatal("expected slot requests open by default")
	}
	if _, err := csa.Get(ctx, f.Channel.ID, "unknown"); err == nil {
		t.Fatal("expected error for unknown key")
	}

	if err := csa.Set(ctx, f.Channel.ID, db.ConfigKeyGuessCooldown, "45"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := csa.Set(ctx, f.Channel.ID, db.ConfigKeySlotRequestsOpen, "false"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := csa.Seconds(ctx, f.Channel.ID, db.ConfigKeyGuessCooldown); got != 45*time.Second {
		t.Fatalf("expected 45s, got %v", got)
	}
	all, err := csa.All(ctx, f.Channel.ID)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if all[db.ConfigKeySlotRequestsOpen] != "false" || all[db.ConfigKeyChatReplies] != "true" {
		t.Fatalf("unexpected settings %v", all)
	}
}
