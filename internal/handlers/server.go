// Package handlers is the HTTP and WebSocket surface: the dashboard and
// viewer APIs, overlay subscriptions, the signed ingest webhook and Twitch
// login.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/emcifuntik/twitch-overlay-widgets/internal/authz"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/commands"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/config"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/db"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/hotword"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/logger"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/service"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/snapshot"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/twitch"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/widget"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/oauth2"
)

var log = logger.New("HTTP")

// BotRegistry starts and stops chat listeners. *twitch.Registry satisfies it.
type BotRegistry interface {
	Add(ctx context.Context, channel *db.Channel) error
	Remove(ctx context.Context, channel *db.Channel) error
}

// UserLookup resolves the Twitch account behind an access token.
type UserLookup func(ctx context.Context, accessToken string) (*twitch.User, error)

// Deps are the services the HTTP surface calls into. Bots, EventSub and
// LookupUser are optional.
type Deps struct {
	Store    *db.Store
	Snaps    *snapshot.Store
	Proc     *widget.Processor
	Authz    *authz.Resolver
	Commands *commands.Interpreter
	Hotwords *hotword.Scanner
	Settings *service.ConfigStoreAccessor
	Tokens   *service.TokenService

	Bots       BotRegistry
	EventSub   http.HandlerFunc
	LookupUser UserLookup
}

type Server struct {
	Deps
	cfg      *config.Config
	oauth    *oauth2.Config
	upgrader websocket.Upgrader
	viewers  *ipLimiter
	router   *mux.Router
	http     *http.Server
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	publicURL := strings.TrimSuffix(cfg.PublicURL, "/") + "/"
	s := &Server{
		Deps: deps,
		cfg:  cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.Twitch.ClientID,
			ClientSecret: cfg.Twitch.ClientSecret,
			RedirectURL:  publicURL + "oauth/twitch",
			Scopes:       []string{"user:read:chat", "user:write:chat", "user:bot", "channel:bot"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://id.twitch.tv/oauth2/authorize",
				TokenURL: "https://id.twitch.tv/oauth2/token",
			},
		},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Overlays are loaded by streaming software from any origin and
			// authenticate with their public token.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		viewers: newIPLimiter(cfg.ViewerRPS, cfg.ViewerBurst),
	}
	if s.LookupUser == nil {
		s.LookupUser = func(ctx context.Context, accessToken string) (*twitch.User, error) {
			return twitch.LookupUser(ctx, cfg.Twitch.ClientID, accessToken)
		}
	}
	s.router = s.routes()
	s.http = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	log.Success("HTTP server listening on %s", s.cfg.HTTPAddr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return log.Error("HTTP server stopped", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones. Hijacked
// websocket connections are not tracked and close with the process.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
