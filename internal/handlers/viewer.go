package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/emcifuntik/twitch-overlay-widgets/internal/apperr"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/commands"
)

type guessRequest struct {
	// Value is a number or a string such as "1,234.50".
	Value json.RawMessage `json:"value"`
}

type slotRequestBody struct {
	Slot string `json:"slot"`
}

// ViewerGuess submits a balance guess for the session's user. It shares the
// chat pipeline and adds the guess cooldown and per-minute cap.
func (s *Server) ViewerGuess(w http.ResponseWriter, r *http.Request) {
	claims, _ := GetClaimsFromContext(r.Context())
	channelID, err := pathID(r, "channelID")
	if err != nil {
		writeAppError(w, err)
		return
	}
	if _, err := s.loadChannel(r.Context(), channelID); err != nil {
		writeAppError(w, err)
		return
	}

	var req guessRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	value, ok := commands.ParseAmount(strings.Trim(string(req.Value), `"`))
	if !ok {
		writeAppError(w, apperr.New(apperr.CodeValidationFailed, "value must be a non-negative amount"))
		return
	}

	guess, err := s.Commands.SubmitLimitedGuess(r.Context(), channelID, claims.UserID, claims.Username, value)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeAPICreated(w, map[string]interface{}{
		"hunt_id": guess.HuntID,
		"value":   guess.Value,
	})
}

// ViewerSlotRequest queues a slot for the session's user.
func (s *Server) ViewerSlotRequest(w http.ResponseWriter, r *http.Request) {
	claims, _ := GetClaimsFromContext(r.Context())
	channelID, err := pathID(r, "channelID")
	if err != nil {
		writeAppError(w, err)
		return
	}
	if _, err := s.loadChannel(r.Context(), channelID); err != nil {
		writeAppError(w, err)
		return
	}

	var req slotRequestBody
	if err := decodeBody(w, r, &req); err != nil {
		writeAppError(w, err)
		return
	}

	sr, err := s.Commands.RequestSlot(r.Context(), channelID, claims.UserID, claims.Username, req.Slot)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeAPICreated(w, map[string]interface{}{
		"request_id": sr.ID,
		"slot":       sr.Slot,
		"status":     sr.Status,
	})
}
