package handlers

import (
	"context"
	"net/http"

	"github.com/emcifuntik/twitch-overlay-widgets/internal/apperr"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/authz"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/db"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/widget"
)

// SubmitEvent runs one dashboard event as the session's user.
func (s *Server) SubmitEvent(w http.ResponseWriter, r *http.Request) {
	claims, _ := GetClaimsFromContext(r.Context())
	channelID, err := pathID(r, "channelID")
	if err != nil {
		writeAppError(w, err)
		return
	}

	var sub widget.Submission
	if err := decodeBody(w, r, &sub); err != nil {
		writeAppError(w, err)
		return
	}
	sub.ChannelID = channelID
	actor := claims.UserID
	sub.ActorID = &actor

	receipt, err := s.Proc.Submit(r.Context(), sub)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeAPICreated(w, receipt)
}

// ListSnapshots returns every current snapshot of an overlay to the channel
// owner and its moderators.
func (s *Server) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	claims, _ := GetClaimsFromContext(r.Context())
	overlayID, err := pathID(r, "overlayID")
	if err != nil {
		writeAppError(w, err)
		return
	}

	overlay, err := s.Store.GetOverlay(r.Context(), overlayID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if overlay == nil {
		writeAppError(w, apperr.New(apperr.CodeNotFound, "overlay %d not found", overlayID))
		return
	}
	if err := s.requireMember(r.Context(), overlay.ChannelID, claims.UserID); err != nil {
		writeAppError(w, err)
		return
	}

	snaps, err := s.Snaps.ListOverlay(r.Context(), overlayID, nil)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeAPISuccess(w, snaps)
}

// CheckPermission reports whether the session's user holds a permission.
func (s *Server) CheckPermission(w http.ResponseWriter, r *http.Request) {
	claims, _ := GetClaimsFromContext(r.Context())
	channelID, err := pathID(r, "channelID")
	if err != nil {
		writeAppError(w, err)
		return
	}
	req := authz.Request{
		ActorID:   claims.UserID,
		ChannelID: channelID,
		Key:       r.URL.Query().Get("permission"),
	}
	if req.Key == "" {
		writeAppError(w, apperr.New(apperr.CodeValidationFailed, "permission is required"))
		return
	}
	if req.OverlayID, err = queryID(r, "overlay_id"); err != nil {
		writeAppError(w, err)
		return
	}
	if req.WidgetID, err = queryID(r, "widget_id"); err != nil {
		writeAppError(w, err)
		return
	}

	allowed, reason, err := s.Authz.Check(r.Context(), req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeAPISuccess(w, map[string]interface{}{"allowed": allowed, "reason": reason})
}

// requireMember allows the channel owner and its moderators.
func (s *Server) requireMember(ctx context.Context, channelID uint, userID string) error {
	channel, err := s.loadChannel(ctx, channelID)
	if err != nil {
		return err
	}
	if channel.OwnerUserID == userID {
		return nil
	}
	role, err := s.Store.GetChannelRole(ctx, channelID, userID)
	if err != nil {
		return err
	}
	if role == nil || role.Role != db.RoleModerator {
		return apperr.New(apperr.CodeForbidden, "not a moderator of this channel")
	}
	return nil
}

// requireKey authorizes the session's user for key on the route's channel
// and returns the channel id. It writes the error response when it fails.
func (s *Server) requireKey(w http.ResponseWriter, r *http.Request, key string) (uint, bool) {
	claims, _ := GetClaimsFromContext(r.Context())
	channelID, err := pathID(r, "channelID")
	if err != nil {
		writeAppError(w, err)
		return 0, false
	}
	err = s.Authz.Authorize(r.Context(), authz.Request{
		ActorID:   claims.UserID,
		ChannelID: channelID,
		Key:       key,
	})
	if err != nil {
		writeAppError(w, err)
		return 0, false
	}
	return channelID, true
}
