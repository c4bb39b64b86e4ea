package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/emcifuntik/twitch-overlay-widgets/internal/apperr"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/authz"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/db"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/widget"
	"gorm.io/datatypes"
)

const publicTokenLength = 32

// ChannelResponse represents channel data for API
type ChannelResponse struct {
	ID         uint   `json:"id"`
	TwitchID   string `json:"twitch_id"`
	Name       string `json:"name"`
	BotEnabled bool   `json:"bot_enabled"`
}

// PermissionResponse represents a moderator grant
type PermissionResponse struct {
	ID        uint   `json:"id"`
	Key       string `json:"key"`
	OverlayID *uint  `json:"overlay_id,omitempty"`
	WidgetID  *uint  `json:"widget_id,omitempty"`
}

// ModeratorResponse represents a moderator with its grants
type ModeratorResponse struct {
	ID          uint                 `json:"id"`
	UserID      string               `json:"user_id"`
	UserName    string               `json:"user_name"`
	Permissions []PermissionResponse `json:"permissions"`
}

// OverlayResponse represents an overlay and its renderer token
type OverlayResponse struct {
	ID          uint   `json:"id"`
	Name        string `json:"name"`
	PublicToken string `json:"public_token"`
}

// HotWordResponse represents a configured hot word
type HotWordResponse struct {
	ID              uint   `json:"id"`
	Phrase          string `json:"phrase"`
	CooldownSeconds int    `json:"cooldown_seconds"`
	PerUserLimit    int    `json:"per_user_limit"`
	RewardPoints    int64  `json:"reward_points"`
}

type moderatorRequest struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

type permissionRequest struct {
	Key       string `json:"key"`
	OverlayID *uint  `json:"overlay_id,omitempty"`
	WidgetID  *uint  `json:"widget_id,omitempty"`
}

type botRequest struct {
	Enabled bool `json:"enabled"`
}

type blacklistRequest struct {
	Slot string `json:"slot"`
}

type overlayRequest struct {
	Name string `json:"name"`
}

type widgetRequest struct {
	Kind   string          `json:"kind"`
	Layout json.RawMessage `json:"layout,omitempty"`
}

type storeItemRequest struct {
	Name            string `json:"name"`
	Cost            int64  `json:"cost"`
	CooldownSeconds int    `json:"cooldown_seconds"`
}

func channelResponse(c *db.Channel) ChannelResponse {
	return ChannelResponse{ID: c.ID, TwitchID: c.TwitchID, Name: c.Name, BotEnabled: c.BotEnabled}
}

func moderatorResponse(role *db.ChannelRole) ModeratorResponse {
	resp := ModeratorResponse{
		ID:          role.ID,
		UserID:      role.UserID,
		UserName:    role.UserName,
		Permissions: []PermissionResponse{},
	}
	for _, p := range role.Permissions {
		resp.Permissions = append(resp.Permissions, PermissionResponse{
			ID:        p.ID,
			Key:       p.Key,
			OverlayID: p.OverlayScope,
			WidgetID:  p.WidgetScope,
		})
	}
	return resp
}

func hotWordResponse(w *db.HotWord) HotWordResponse {
	return HotWordResponse{
		ID:              w.ID,
		Phrase:          w.Phrase,
		CooldownSeconds: w.CooldownSeconds,
		PerUserLimit:    w.PerUserLimit,
		RewardPoints:    w.RewardPoints,
	}
}

// loadChannel returns the channel or a not_found error.
func (s *Server) loadChannel(ctx context.Context, channelID uint) (*db.Channel, error) {
	channel, err := s.Store.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if channel == nil {
		return nil, apperr.New(apperr.CodeNotFound, "channel %d not found", channelID)
	}
	return channel, nil
}

// loadRole returns the route's moderator role of channelID.
func (s *Server) loadRole(r *http.Request, channelID uint) (*db.ChannelRole, error) {
	roleID, err := pathID(r, "roleID")
	if err != nil {
		return nil, err
	}
	role, err := s.Store.GetRole(r.Context(), channelID, roleID)
	if err != nil {
		return nil, err
	}
	if role == nil {
		return nil, apperr.New(apperr.CodeNotFound, "moderator %d not found", roleID)
	}
	return role, nil
}

// GetModerators returns the channel's moderators and their grants
func (s *Server) GetModerators(w http.ResponseWriter, r *http.Request) {
	channelID, ok := s.requireKey(w, r, authz.KeyModerators)
	if !ok {
		return
	}
	roles, err := s.Store.GetModerators(r.Context(), channelID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	resp := make([]ModeratorResponse, 0, len(roles))
	for i := range roles {
		resp = append(resp, moderatorResponse(&roles[i]))
	}
	writeAPISuccess(w, resp)
}

// AddModerator invites a user as moderator
func (s *Server) AddModerator(w http.ResponseWriter, r *http.Request) {
	channelID, ok := s.requireKey(w, r, authz.KeyModerators)
	if !ok {
		return
	}
	var req moderatorRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	if req.UserID == "" {
		writeAppError(w, apperr.New(apperr.CodeValidationFailed, "user_id is required"))
		return
	}
	channel, err := s.loadChannel(r.Context(), channelID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if req.UserID == channel.OwnerUserID {
		writeAppError(w, apperr.New(apperr.CodeValidationFailed, "the owner cannot be a moderator"))
		return
	}

	role, err := s.Store.AddModerator(r.Context(), channelID, req.UserID, req.UserName)
	if err != nil {
		writeAppError(w, err)
		return
	}
	log.Info("Moderator %s added to channel %s", req.UserID, channel.Name)
	writeAPICreated(w, moderatorResponse(role))
}

func (s *Server) RemoveModerator(w http.ResponseWriter, r *http.Request) {
	channelID, ok := s.requireKey(w, r, authz.KeyModerators)
	if !ok {
		return
	}
	role, err := s.loadRole(r, channelID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if err := s.Store.RemoveModerator(r.Context(), channelID, role.ID); err != nil {
		writeAppError(w, err)
		return
	}
	writeAPISuccess(w, map[string]string{"message": "Moderator removed successfully"})
}

// GrantPermission grants a key to a moderator, optionally scoped to an
// overlay and a widget of that overlay.
func (s *Server) GrantPermission(w http.ResponseWriter, r *http.Request) {
	channelID, ok := s.requireKey(w, r, authz.KeyModerators)
	if !ok {
		return
	}
	role, err := s.loadRole(r, channelID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	var req permissionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	if req.Key == "" {
		writeAppError(w, apperr.New(apperr.CodeValidationFailed, "key is required"))
		return
	}
	if req.WidgetID != nil && req.OverlayID == nil {
		writeAppError(w, apperr.New(apperr.CodeValidationFailed, "widget_id needs overlay_id"))
		return
	}
	if req.OverlayID != nil {
		overlay, err := s.Store.GetOverlay(r.Context(), *req.OverlayID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		if overlay == nil || overlay.ChannelID != channelID {
			writeAppError(w, apperr.New(apperr.CodeNotFound, "overlay %d not found", *req.OverlayID))
			return
		}
	}
	if req.WidgetID != nil {
		wi, err := s.Store.GetWidget(r.Context(), *req.WidgetID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		if wi == nil || wi.OverlayID != *req.OverlayID {
			writeAppError(w, apperr.New(apperr.CodeNotFound, "widget %d not found", *req.WidgetID))
			return
		}
	}

	p := &db.Permission{
		ChannelRoleID: role.ID,
		Key:           req.Key,
		OverlayScope:  req.OverlayID,
		WidgetScope:   req.WidgetID,
	}
	if err := s.Store.GrantPermission(r.Context(), p); err != nil {
		writeAppError(w, err)
		return
	}
	role, err = s.Store.GetRole(r.Context(), channelID, role.ID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeAPISuccess(w, moderatorResponse(role))
}

func (s *Server) RevokePermission(w http.ResponseWriter, r *http.Request) {
	channelID, ok := s.requireKey(w, r, authz.KeyModerators)
	if !ok {
		return
	}
	role, err := s.loadRole(r, channelID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	permissionID, err := pathID(r, "permissionID")
	if err != nil {
		writeAppError(w, err)
		return
	}
	if err := s.Store.RevokePermission(r.Context(), role.ID, permissionID); err != nil {
		writeAppError(w, err)
		return
	}
	writeAPISuccess(w, map[string]string{"message": "Permission revoked successfully"})
}

// SetBotEnabled turns the chat bot on or off and starts or stops its
// listener.
func (s *Server) SetBotEnabled(w http.ResponseWriter, r *http.Request) {
	channelID, ok := s.requireKey(w, r, authz.KeyBot)
	if !ok {
		return
	}
	var req botRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	channel, err := s.loadChannel(r.Context(), channelID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if err := s.Store.SetBotEnabled(r.Context(), channelID, req.Enabled); err != nil {
		writeAppError(w, err)
		return
	}
	channel.BotEnabled = req.Enabled

	if s.Bots != nil {
		if req.Enabled {
			err = s.Bots.Add(r.Context(), channel)
		} else {
			err = s.Bots.Remove(r.Context(), channel)
		}
		if err != nil {
			writeAppError(w, apperr.Wrap(apperr.CodeSideEffectFailed, "update chat bot", err))
			return
		}
	}
	writeAPISuccess(w, channelResponse(channel))
}

// GetSettings returns the channel's settings with defaults filled in
func (s *Server) GetSettings(w http.ResponseWriter, r *http.Request) {
	channelID, ok := s.requireKey(w, r, authz.KeySettings)
	if !ok {
		return
	}
	settings, err := s.Settings.All(r.Context(), channelID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeAPISuccess(w, settings)
}

// UpdateSettings stores the given settings and returns all of them
func (s *Server) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	channelID, ok := s.requireKey(w, r, authz.KeySettings)
	if !ok {
		return
	}
	var req map[string]string
	if err := decodeBody(w, r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	for key, value := range req {
		if err := s.Settings.Set(r.Context(), channelID, key, value); err != nil {
			writeAppError(w, err)
			return
		}
	}
	s.GetSettings(w, r)
}

func (s *Server) GetBlacklist(w http.ResponseWriter, r *http.Request) {
	channelID, ok := s.requireKey(w, r, authz.WidgetKey(widget.KindSlotRequests))
	if !ok {
		return
	}
	entries, err := s.Store.ListBlacklist(r.Context(), channelID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	slots := make([]string, 0, len(entries))
	for _, e := range entries {
		slots = append(slots, e.Slot)
	}
	writeAPISuccess(w, slots)
}

func (s *Server) AddBlacklist(w http.ResponseWriter, r *http.Request) {
	channelID, ok := s.requireKey(w, r, authz.WidgetKey(widget.KindSlotRequests))
	if !ok {
		return
	}
	var req blacklistRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	if strings.TrimSpace(req.Slot) == "" {
		writeAppError(w, apperr.New(apperr.CodeValidationFailed, "slot is required"))
		return
	}
	if err := s.Store.AddBlacklist(r.Context(), channelID, req.Slot); err != nil {
		writeAppError(w, err)
		return
	}
	writeAPICreated(w, map[string]string{"slot": db.NormalizeSlot(req.Slot)})
}

func (s *Server) RemoveBlacklist(w http.ResponseWriter, r *http.Request) {
	channelID, ok := s.requireKey(w, r, authz.WidgetKey(widget.KindSlotRequests))
	if !ok {
		return
	}
	slot := r.URL.Query().Get("slot")
	if strings.TrimSpace(slot) == "" {
		writeAppError(w, apperr.New(apperr.CodeValidationFailed, "slot is required"))
		return
	}
	if err := s.Store.RemoveBlacklist(r.Context(), channelID, slot); err != nil {
		writeAppError(w, err)
		return
	}
	writeAPISuccess(w, map[string]string{"message": "Slot removed from blacklist"})
}

func (s *Server) GetHotWords(w http.ResponseWriter, r *http.Request) {
	channelID, ok := s.requireKey(w, r, authz.WidgetKey(widget.KindHotWords))
	if !ok {
		return
	}
	words, err := s.Store.ListHotWords(r.Context(), channelID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	resp := make([]HotWordResponse, 0, len(words))
	for i := range words {
		resp = append(resp, hotWordResponse(&words[i]))
	}
	writeAPISuccess(w, resp)
}

// AddHotWord creates a hot word and drops the channel's cached list
func (s *Server) AddHotWord(w http.ResponseWriter, r *http.Request) {
	channelID, ok := s.requireKey(w, r, authz.WidgetKey(widget.KindHotWords))
	if !ok {
		return
	}
	var req HotWordResponse
	if err := decodeBody(w, r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	req.Phrase = strings.TrimSpace(req.Phrase)
	switch {
	case req.Phrase == "" || len(req.Phrase) > 128:
		writeAppError(w, apperr.New(apperr.CodeValidationFailed, "phrase must be 1 to 128 characters"))
		return
	case req.CooldownSeconds < 0 || req.PerUserLimit < 0 || req.RewardPoints < 0:
		writeAppError(w, apperr.New(apperr.CodeValidationFailed, "cooldown, limit and reward cannot be negative"))
		return
	}

	word := &db.HotWord{
		ChannelID:       channelID,
		Phrase:          req.Phrase,
		CooldownSeconds: req.CooldownSeconds,
		PerUserLimit:    req.PerUserLimit,
		RewardPoints:    req.RewardPoints,
	}
	if err := s.Store.CreateHotWord(r.Context(), word); err != nil {
		writeAppError(w, err)
		return
	}
	s.Hotwords.Invalidate(channelID)
	writeAPICreated(w, hotWordResponse(word))
}

func (s *Server) RemoveHotWord(w http.ResponseWriter, r *http.Request) {
	channelID, ok := s.requireKey(w, r, authz.WidgetKey(widget.KindHotWords))
	if !ok {
		return
	}
	hotwordID, err := pathID(r, "hotwordID")
	if err != nil {
		writeAppError(w, err)
		return
	}
	if err := s.Store.DeleteHotWord(r.Context(), channelID, hotwordID); err != nil {
		writeAppError(w, err)
		return
	}
	s.Hotwords.Invalidate(channelID)
	writeAPISuccess(w, map[string]string{"message": "Hot word removed successfully"})
}

func (s *Server) GetOverlays(w http.ResponseWriter, r *http.Request) {
	channelID, ok := s.requireKey(w, r, authz.KeyOverlays)
	if !ok {
		return
	}
	overlays, err := s.Store.ListOverlays(r.Context(), channelID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	resp := make([]OverlayResponse, 0, len(overlays))
	for _, o := range overlays {
		resp = append(resp, OverlayResponse{ID: o.ID, Name: o.Name, PublicToken: o.PublicToken})
	}
	writeAPISuccess(w, resp)
}

// CreateOverlay creates an overlay with a fresh renderer token
func (s *Server) CreateOverlay(w http.ResponseWriter, r *http.Request) {
	channelID, ok := s.requireKey(w, r, authz.KeyOverlays)
	if !ok {
		return
	}
	var req overlayRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len(req.Name) > 128 {
		writeAppError(w, apperr.New(apperr.CodeValidationFailed, "name must be 1 to 128 characters"))
		return
	}

	overlay := &db.Overlay{
		ChannelID:   channelID,
		Name:        req.Name,
		PublicToken: makeRandomString(publicTokenLength),
	}
	if err := s.Store.CreateOverlay(r.Context(), overlay); err != nil {
		writeAppError(w, err)
		return
	}
	writeAPICreated(w, OverlayResponse{ID: overlay.ID, Name: overlay.Name, PublicToken: overlay.PublicToken})
}

// CreateWidget places a widget on one of the channel's overlays
func (s *Server) CreateWidget(w http.ResponseWriter, r *http.Request) {
	channelID, ok := s.requireKey(w, r, authz.KeyOverlays)
	if !ok {
		return
	}
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
	if overlay == nil || overlay.ChannelID != channelID {
		writeAppError(w, apperr.New(apperr.CodeNotFound, "overlay %d not found", overlayID))
		return
	}

	var req widgetRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	if !widget.IsKind(req.Kind) {
		writeAppError(w, apperr.New(apperr.CodeValidationFailed, "unknown widget kind %q", req.Kind))
		return
	}

	wi := &db.WidgetInstance{
		OverlayID: overlayID,
		Kind:      req.Kind,
		IsEnabled: true,
		Layout:    datatypes.JSON(req.Layout),
	}
	if err := s.Store.CreateWidget(r.Context(), wi); err != nil {
		writeAppError(w, err)
		return
	}
	writeAPICreated(w, map[string]interface{}{
		"id":         wi.ID,
		"overlay_id": wi.OverlayID,
		"kind":       wi.Kind,
	})
}

// CreateStoreItem adds an item to the channel's loyalty store
func (s *Server) CreateStoreItem(w http.ResponseWriter, r *http.Request) {
	channelID, ok := s.requireKey(w, r, authz.WidgetKey(widget.KindLoyaltyStore))
	if !ok {
		return
	}
	var req storeItemRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	switch {
	case req.Name == "" || len(req.Name) > 128:
		writeAppError(w, apperr.New(apperr.CodeValidationFailed, "name must be 1 to 128 characters"))
		return
	case req.Cost < 0 || req.CooldownSeconds < 0:
		writeAppError(w, apperr.New(apperr.CodeValidationFailed, "cost and cooldown cannot be negative"))
		return
	}

	item := &db.StoreItem{
		ChannelID:       channelID,
		Name:            req.Name,
		Cost:            req.Cost,
		CooldownSeconds: req.CooldownSeconds,
		IsActive:        true,
	}
	if err := s.Store.CreateStoreItem(r.Context(), item); err != nil {
		writeAppError(w, err)
		return
	}
	writeAPICreated(w, map[string]interface{}{
		"id":               item.ID,
		"name":             item.Name,
		"cost":             item.Cost,
		"cooldown_seconds": item.CooldownSeconds,
	})
}
