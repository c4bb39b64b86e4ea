package handlers

import (
	"crypto/rand"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
)

const (
	stateCookie = "oauth_state"
	sessionAge  = 24 * time.Hour
)

func setAuthCookie(w http.ResponseWriter, token string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     authCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   false, // Set to true in production with HTTPS
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(maxAge.Seconds()),
	})
}

// AuthHandler redirects to the Twitch authorization endpoint.
func (s *Server) AuthHandler(w http.ResponseWriter, r *http.Request) {
	state := makeRandomString(32)
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/oauth",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int((10 * time.Minute).Seconds()),
	})
	http.Redirect(w, r, s.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline), http.StatusFound)
}

func (s *Server) TwitchOAuthCallbackHandler(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "Missing code", http.StatusBadRequest)
		return
	}
	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != r.URL.Query().Get("state") {
		http.Error(w, "Invalid state", http.StatusBadRequest)
		return
	}

	token, err := s.oauth.Exchange(r.Context(), code)
	if err != nil {
		log.Warn("Token exchange failed: %v", err)
		http.Error(w, "Token exchange failed", http.StatusBadGateway)
		return
	}

	user, err := s.LookupUser(r.Context(), token.AccessToken)
	if err != nil {
		log.Warn("Looking up Twitch user failed: %v", err)
		http.Error(w, "Could not identify Twitch user", http.StatusBadGateway)
		return
	}

	channel, err := s.Store.UpsertChannel(r.Context(), user.ID, user.Login, token.AccessToken, token.RefreshToken)
	if err != nil {
		log.Warn("Saving channel of %s failed: %v", user.Login, err)
		http.Redirect(w, r, "/dashboard?auth=error", http.StatusFound)
		return
	}

	jwtToken, err := s.Tokens.Generate(user.ID, user.Login)
	if err != nil {
		log.Warn("Failed to generate JWT token: %v", err)
		http.Redirect(w, r, "/dashboard?auth=error", http.StatusFound)
		return
	}
	setAuthCookie(w, jwtToken, sessionAge)
	log.Info("%s logged in", user.Login)

	q := url.Values{"auth": {"success"}, "channel": {channel.TwitchID}}
	http.Redirect(w, r, "/dashboard?"+q.Encode(), http.StatusFound)
}

// LogoutHandler handles logout requests
func (s *Server) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	setAuthCookie(w, "", -time.Second)
	writeAPISuccess(w, map[string]string{"message": "Logged out successfully"})
}

// RefreshTokenHandler refreshes the JWT token
func (s *Server) RefreshTokenHandler(w http.ResponseWriter, r *http.Request) {
	tokenString, ok := bearerToken(r)
	if !ok {
		writeAPIError(w, "No token provided", http.StatusUnauthorized)
		return
	}

	newToken, err := s.Tokens.Refresh(tokenString)
	if err != nil {
		writeAPIError(w, "Failed to refresh token", http.StatusUnauthorized)
		return
	}
	setAuthCookie(w, newToken, sessionAge)

	writeAPISuccess(w, map[string]string{
		"token":   newToken,
		"message": "Token refreshed successfully",
	})
}

// GetCurrentUser returns the session's user and their own channel, if any.
func (s *Server) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	claims, _ := GetClaimsFromContext(r.Context())

	owned, err := s.Store.GetChannelByTwitchID(r.Context(), claims.UserID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	resp := map[string]interface{}{
		"user_id":  claims.UserID,
		"username": claims.Username,
	}
	if owned != nil {
		resp["channel"] = channelResponse(owned)
	}
	writeAPISuccess(w, resp)
}

func makeRandomString(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	ret := make([]byte, n)
	for i := range ret {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(letters))))
		if err != nil {
			ret[i] = letters[0]
		} else {
			ret[i] = letters[num.Int64()]
		}
	}
	return string(ret)
}
