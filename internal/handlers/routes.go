package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(corsMiddleware(s.cfg.AllowedOrigins))

	// Preflight for every route; matching here lets the CORS middleware run.
	r.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	r.HandleFunc("/auth", s.AuthHandler).Methods("GET")
	r.HandleFunc("/oauth/twitch", s.TwitchOAuthCallbackHandler).Methods("GET")
	r.HandleFunc("/logout", s.LogoutHandler).Methods("POST")
	r.HandleFunc("/refresh", s.RefreshTokenHandler).Methods("POST")

	// Twitch event handler
	if s.EventSub != nil {
		r.HandleFunc("/eventsub", s.EventSub).Methods("POST")
	}

	r.HandleFunc("/ingest/{channelID:[0-9]+}", s.IngestHandler).Methods("POST")
	r.HandleFunc("/ws/overlays/{overlayID:[0-9]+}", s.OverlaySocket).Methods("GET")

	// API routes
	api := r.PathPrefix("/api").Subrouter()

	// Public routes (overlay token required)
	api.HandleFunc("/overlays/{overlayID:[0-9]+}/state", s.OverlayState).Methods("GET")

	// Viewer routes (require authentication, limited per address)
	viewerAPI := api.PathPrefix("/viewer/channels/{channelID:[0-9]+}").Subrouter()
	viewerAPI.Use(s.ViewerLimitMiddleware, s.AuthMiddleware)
	viewerAPI.HandleFunc("/guess", s.ViewerGuess).Methods("POST")
	viewerAPI.HandleFunc("/slot-requests", s.ViewerSlotRequest).Methods("POST")

	// Dashboard routes (require authentication)
	authAPI := api.PathPrefix("").Subrouter()
	authAPI.Use(s.AuthMiddleware)
	authAPI.HandleFunc("/user/current", s.GetCurrentUser).Methods("GET")
	authAPI.HandleFunc("/overlays/{overlayID:[0-9]+}/snapshots", s.ListSnapshots).Methods("GET")

	channelAPI := authAPI.PathPrefix("/channels/{channelID:[0-9]+}").Subrouter()
	channelAPI.HandleFunc("/events", s.SubmitEvent).Methods("POST")
	channelAPI.HandleFunc("/authorize", s.CheckPermission).Methods("GET")

	channelAPI.HandleFunc("/moderators", s.GetModerators).Methods("GET")
	channelAPI.HandleFunc("/moderators", s.AddModerator).Methods("POST")
	channelAPI.HandleFunc("/moderators/{roleID:[0-9]+}", s.RemoveModerator).Methods("DELETE")
	channelAPI.HandleFunc("/moderators/{roleID:[0-9]+}/permissions", s.GrantPermission).Methods("POST")
	channelAPI.HandleFunc("/moderators/{roleID:[0-9]+}/permissions/{permissionID:[0-9]+}", s.RevokePermission).Methods("DELETE")

	channelAPI.HandleFunc("/bot", s.SetBotEnabled).Methods("PUT")
	channelAPI.HandleFunc("/settings", s.GetSettings).Methods("GET")
	channelAPI.HandleFunc("/settings", s.UpdateSettings).Methods("POST", "PUT")

	channelAPI.HandleFunc("/blacklist", s.GetBlacklist).Methods("GET")
	channelAPI.HandleFunc("/blacklist", s.AddBlacklist).Methods("POST")
	channelAPI.HandleFunc("/blacklist", s.RemoveBlacklist).Methods("DELETE")

	channelAPI.HandleFunc("/hotwords", s.GetHotWords).Methods("GET")
	channelAPI.HandleFunc("/hotwords", s.AddHotWord).Methods("POST")
	channelAPI.HandleFunc("/hotwords/{hotwordID:[0-9]+}", s.RemoveHotWord).Methods("DELETE")

	channelAPI.HandleFunc("/overlays", s.GetOverlays).Methods("GET")
	channelAPI.HandleFunc("/overlays", s.CreateOverlay).Methods("POST")
	channelAPI.HandleFunc("/overlays/{overlayID:[0-9]+}/widgets", s.CreateWidget).Methods("POST")

	channelAPI.HandleFunc("/store-items", s.CreateStoreItem).Methods("POST")

	return r
}
