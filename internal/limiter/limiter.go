// Package limiter implements per-viewer cooldowns and fixed-window rate
// limits stored in the database.
//
// Window limits count rows whose start falls inside the lookback, so a burst
// straddling a window boundary can be accepted up to twice the cap. Neither
// check is a lock: two concurrent submissions may both pass, overshooting by
// one.
package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/emcifuntik/twitch-overlay-widgets/internal/apperr"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/db"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/logger"
)

var log = logger.New("LIMITER")

// Policy is the cooldown and window limit of one action.
type Policy struct {
	Action   string
	Cooldown time.Duration
	Cap      int
	Window   time.Duration
	// Bucketed windows start on the minute instead of rolling.
	Bucketed bool
}

var (
	Guess       = Policy{Action: "bonus_guess", Cooldown: 20 * time.Second, Cap: 2, Window: time.Minute, Bucketed: true}
	SlotRequest = Policy{Action: "slot_request", Cooldown: 30 * time.Second, Cap: 3, Window: time.Minute}
)

// WithCooldown returns a copy of p using d as cooldown when d is positive.
func (p Policy) WithCooldown(d time.Duration) Policy {
	if d > 0 {
		p.Cooldown = d
	}
	return p
}

type Store interface {
	GetCooldown(ctx context.Context, channelID uint, viewerID, action string) (*db.CooldownEntry, error)
	UpsertCooldown(ctx context.Context, channelID uint, viewerID, action string, until time.Time) error
	CountWindows(ctx context.Context, scope, scopeID, action string, since time.Time) (int64, error)
	InsertWindow(ctx context.Context, scope, scopeID, action string, start time.Time) error
}

type Limiter struct {
	store Store
	now   func() time.Time
}

type Option func(*Limiter)

func utcNow() time.Time { return time.Now().UTC() }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func New(store Store, opts ...Option) *Limiter {
	l := &Limiter{store: store, now: utcNow}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CheckCooldown rejects with cooldown_active while the viewer's cooldown for
// action has not passed.
func (l *Limiter) CheckCooldown(ctx context.Context, channelID uint, viewerID, action string) error {
	entry, err := l.store.GetCooldown(ctx, channelID, viewerID, action)
	if err != nil {
		return err
	}
	if entry == nil {
		return nil
	}
	now := l.now()
	if now.Before(entry.CooldownUntil) {
		return apperr.Cooldown(entry.CooldownUntil.Sub(now))
	}
	return nil
}

// StartCooldown sets the viewer's cooldown for the policy's action to now+Cooldown.
func (l *Limiter) StartCooldown(ctx context.Context, channelID uint, viewerID string, p Policy) error {
	if p.Cooldown <= 0 {
		return nil
	}
	return l.store.UpsertCooldown(ctx, channelID, viewerID, p.Action, l.now().Add(p.Cooldown))
}

// Hit counts one request against the window limit of scope/scopeID and
// rejects with rate_limited once the cap is reached. Rejected requests are
// not recorded.
func (l *Limiter) Hit(ctx context.Context, scope, scopeID string, p Policy) error {
	if p.Cap <= 0 {
		return nil
	}
	now := l.now()
	start, since, retry := now, now.Add(-p.Window), p.Window
	if p.Bucketed {
		start = now.Truncate(p.Window)
		since = start
		retry = start.Add(p.Window).Sub(now)
	}

	count, err := l.store.CountWindows(ctx, scope, scopeID, p.Action, since)
	if err != nil {
		return err
	}
	if count >= int64(p.Cap) {
		log.Debug("%s rate limited for %s:%s (%d/%d)", p.Action, scope, scopeID, count, p.Cap)
		return apperr.RateLimited(retry)
	}
	return l.store.InsertWindow(ctx, scope, scopeID, p.Action, start)
}

// ViewerScopeID is the window scope id of a viewer within a channel.
func ViewerScopeID(channelID uint, viewerID string) string {
	return fmt.Sprintf("%d:%s", channelID, viewerID)
}

// Admit runs the cooldown check then the viewer's window limit for p. The
// caller starts the cooldown once the action succeeded.
func (l *Limiter) Admit(ctx context.Context, channelID uint, viewerID string, p Policy) error {
	if err := l.CheckCooldown(ctx, channelID, viewerID, p.Action); err != nil {
		return err
	}
	return l.Hit(ctx, db.ScopeViewer, ViewerScopeID(channelID, viewerID), p)
}
