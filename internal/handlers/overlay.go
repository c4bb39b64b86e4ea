package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/emcifuntik/twitch-overlay-widgets/internal/apperr"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/db"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/snapshot"
)

// overlayFromToken loads the route's overlay and checks the token query
// parameter against its public token.
func (s *Server) overlayFromToken(r *http.Request) (*db.Overlay, *uint, error) {
	overlayID, err := pathID(r, "overlayID")
	if err != nil {
		return nil, nil, err
	}
	widgetID, err := queryID(r, "widget_id")
	if err != nil {
		return nil, nil, err
	}

	overlay, err := s.Store.GetOverlay(r.Context(), overlayID)
	if err != nil {
		return nil, nil, err
	}
	token := r.URL.Query().Get("token")
	if overlay == nil || token == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(overlay.PublicToken)) != 1 {
		return nil, nil, apperr.New(apperr.CodeNotFound, "overlay %d not found", overlayID)
	}
	return overlay, widgetID, nil
}

// OverlaySocket streams an overlay's snapshots: the current ones once on
// connect, then every change.
func (s *Server) OverlaySocket(w http.ResponseWriter, r *http.Request) {
	overlay, widgetID, err := s.overlayFromToken(r)
	if err != nil {
		writeAppError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("Websocket upgrade for overlay %d failed: %v", overlay.ID, err)
		return
	}

	// Subscribe before loading so no change between the two is lost; the
	// client skips versions it already sent.
	sub := s.Snaps.Hub().Subscribe(overlay.ID, widgetID, snapshot.DefaultBuffer)
	initial, err := s.Snaps.ListOverlay(r.Context(), overlay.ID, widgetID)
	if err != nil {
		log.Warn("Loading snapshots of overlay %d failed: %v", overlay.ID, err)
		sub.Close()
		_ = conn.Close()
		return
	}

	log.Debug("Overlay %d subscribed from %s", overlay.ID, clientIP(r))
	snapshot.NewClient(conn, sub).Serve(initial)
}

// OverlayState returns an overlay's current snapshots for polling renderers.
func (s *Server) OverlayState(w http.ResponseWriter, r *http.Request) {
	overlay, widgetID, err := s.overlayFromToken(r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	snaps, err := s.Snaps.ListOverlay(r.Context(), overlay.ID, widgetID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeAPISuccess(w, snaps)
}
