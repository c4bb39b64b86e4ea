// Package authz decides whether a dashboard actor may perform a
// permission-keyed action on a channel.
package authz

import (
	"context"
	"fmt"

	"github.com/emcifuntik/twitch-overlay-widgets/internal/apperr"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/db"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/logger"
)

var log = logger.New("AUTHZ")

// Store is the storage the resolver reads. *db.Store satisfies it.
type Store interface {
	GetChannel(ctx context.Context, channelID uint) (*db.Channel, error)
	GetChannelRole(ctx context.Context, channelID uint, userID string) (*db.ChannelRole, error)
	ListPermissions(ctx context.Context, roleID uint, key string) ([]db.Permission, error)
}

// Channel management keys. Widget events use WidgetKey.
const (
	KeyModerators = "channel.moderators"
	KeyBot        = "channel.bot"
	KeySettings   = "channel.settings"
	KeyOverlays   = "channel.overlays"
)

// Request describes one authorization check. OverlayID and WidgetID are
// optional scopes.
type Request struct {
	ActorID   string
	ChannelID uint
	Key       string
	OverlayID *uint
	WidgetID  *uint
}

type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// WidgetKey is the permission key guarding events of a widget type.
func WidgetKey(widgetType string) string {
	return "widgets." + widgetType
}

// Authorize returns nil when the actor may act, or an *apperr.Error with code
// forbidden or missing_permission.
func (r *Resolver) Authorize(ctx context.Context, req Request) error {
	channel, err := r.store.GetChannel(ctx, req.ChannelID)
	if err != nil {
		return err
	}
	if channel == nil {
		return apperr.New(apperr.CodeNotFound, "channel %d not found", req.ChannelID)
	}
	if req.ActorID != "" && channel.OwnerUserID == req.ActorID {
		return nil
	}

	role, err := r.store.GetChannelRole(ctx, req.ChannelID, req.ActorID)
	if err != nil {
		return err
	}
	if role == nil || role.Role != db.RoleModerator {
		log.Debug("actor %s has no moderator role in channel %d", req.ActorID, req.ChannelID)
		return apperr.New(apperr.CodeForbidden, "not a moderator of this channel")
	}

	rows, err := r.store.ListPermissions(ctx, role.ID, req.Key)
	if err != nil {
		return err
	}

	// The overlay and widget checks may be satisfied by different rows.
	overlayOK := false
	widgetOK := req.WidgetID == nil
	for _, p := range rows {
		if p.OverlayScope == nil || (req.OverlayID != nil && *p.OverlayScope == *req.OverlayID) {
			overlayOK = true
		}
		if req.WidgetID != nil && (p.WidgetScope == nil || *p.WidgetScope == *req.WidgetID) {
			widgetOK = true
		}
	}
	if !overlayOK || !widgetOK {
		return apperr.New(apperr.CodeMissingPermission, "missing permission %s", describe(req))
	}
	return nil
}

// Check is Authorize reported as a boolean with the denial reason.
func (r *Resolver) Check(ctx context.Context, req Request) (bool, string, error) {
	err := r.Authorize(ctx, req)
	if err == nil {
		return true, "", nil
	}
	switch code := apperr.CodeOf(err); code {
	case apperr.CodeForbidden, apperr.CodeMissingPermission:
		return false, string(code), nil
	default:
		return false, "", err
	}
}

func describe(req Request) string {
	s := req.Key
	if req.OverlayID != nil {
		s += fmt.Sprintf(" overlay=%d", *req.OverlayID)
	}
	if req.WidgetID != nil {
		s += fmt.Sprintf(" widget=%d", *req.WidgetID)
	}
	return s
}
