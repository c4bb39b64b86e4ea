package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emcifuntik/twitch-overlay-widgets/internal/authz"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/commands"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/config"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/db"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/db/dbtest"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/hotword"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/limiter"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/service"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/snapshot"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/widget"
	"github.com/gorilla/websocket"
)

const ingestSecret = "ingest-secret"

type fakeBots struct {
	mu      sync.Mutex
	added   []string
	removed []string
}

func (b *fakeBots) Add(_ context.Context, ch *db.Channel) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.added = append(b.added, ch.TwitchID)
	return nil
}

func (b *fakeBots) Remove(_ context.Context, ch *db.Channel) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removed = append(b.removed, ch.TwitchID)
	return nil
}

type testServer struct {
	srv    *Server
	store  *db.Store
	snaps  *snapshot.Store
	tokens *service.TokenService
	bots   *fakeBots
	f      *dbtest.Fixture
}

func newTestServer(t *testing.T, tweak ...func(*config.Config)) *testServer {
	t.Helper()
	cfg := &config.Config{
		HTTPAddr:     ":0",
		PublicURL:    "http://localhost:8080/",
		IngestSecret: ingestSecret,
		ViewerRPS:    1000,
		ViewerBurst:  1000,
	}
	for _, fn := range tweak {
		fn(cfg)
	}

	store := dbtest.New(t)
	snaps := snapshot.NewStore(store, snapshot.NewHub())
	resolver := authz.NewResolver(store)
	proc := widget.NewProcessor(store, snaps, resolver)
	settings := service.NewConfigStoreAccessor(store)
	words := hotword.NewScanner(store, 30*time.Second)
	interp := commands.NewInterpreter(store, limiter.New(store), words, widget.NewSink(proc, store, snaps), settings)

	ts := &testServer{
		store:  store,
		snaps:  snaps,
		tokens: service.NewTokenService("test-secret"),
		bots:   &fakeBots{},
		f: dbtest.Seed(t, store,
			widget.KindBonusHunt,
			widget.KindGuessBalance,
			widget.KindSlotRequests,
			widget.KindWagerBar,
		),
	}
	ts.srv = NewServer(cfg, Deps{
		Store:    store,
		Snaps:    snaps,
		Proc:     proc,
		Authz:    resolver,
		Commands: interp,
		Hotwords: words,
		Settings: settings,
		Tokens:   ts.tokens,
		Bots:     ts.bots,
	})
	return ts
}

func (ts *testServer) token(t *testing.T, userID, name string) string {
	t.Helper()
	tok, err := ts.tokens.Generate(userID, name)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return tok
}

func (ts *testServer) do(t *testing.T, method, path, token, body string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)

	var resp APIResponse
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec, resp
}

func (ts *testServer) channelPath(suffix string) string {
	return fmt.Sprintf("/api/channels/%d%s", ts.f.Channel.ID, suffix)
}

func (ts *testServer) event(widgetType, eventType, payload string) string {
	return fmt.Sprintf(`{"overlay_id":%d,"widget_type":%q,"event_type":%q,"payload":%s}`,
		ts.f.Overlay.ID, widgetType, eventType, payload)
}

func sign(body string) string {
	mac := hmac.New(sha256.New, []byte(ingestSecret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestSubmitEventRequiresToken(t *testing.T) {
	ts := newTestServer(t)
	body := ts.event(widget.KindBonusHunt, widget.EventHuntStart, `{"title":"hunt","start_balance":100}`)

	rec, _ := ts.do(t, http.MethodPost, ts.channelPath("/events"), "", body)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	rec, _ = ts.do(t, http.MethodPost, ts.channelPath("/events"), "not-a-jwt", body)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad token, got %d", rec.Code)
	}
}

func TestSubmitEventAsOwner(t *testing.T) {
	ts := newTestServer(t)
	owner := ts.token(t, dbtest.OwnerID, dbtest.OwnerName)

	rec, resp := ts.do(t, http.MethodPost, ts.channelPath("/events"), owner,
		ts.event(widget.KindBonusHunt, widget.EventHuntStart, `{"title":"hunt","start_balance":100}`))
	if rec.Code != http.StatusCreated || !resp.Success {
		t.Fatalf("expected 201, got %d %s", rec.Code, rec.Body.String())
	}
	data := resp.Data.(map[string]interface{})
	if data["event_id"] == "" || data["snapshot_id"] == "" {
		t.Fatalf("missing ids in %v", data)
	}

	rec, resp = ts.do(t, http.MethodGet, fmt.Sprintf("/api/overlays/%d/snapshots", ts.f.Overlay.ID), owner, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	snaps := resp.Data.([]interface{})
	if len(snaps) != 1 || snaps[0].(map[string]interface{})["widget_type"] != widget.KindBonusHunt {
		t.Fatalf("unexpected snapshots %v", snaps)
	}
}

func TestSubmitEventErrors(t *testing.T) {
	ts := newTestServer(t)
	owner := ts.token(t, dbtest.OwnerID, dbtest.OwnerName)
	stranger := ts.token(t, "2000", "stranger")

	tests := []struct {
		name   string
		token  string
		body   string
		status int
		code   string
	}{
		{"stranger", stranger, ts.event(widget.KindBonusHunt, widget.EventHuntStart, `{"title":"hunt"}`), http.StatusForbidden, "forbidden"},
		{"unknown event", owner, ts.event(widget.KindBonusHunt, "explode", `{}`), http.StatusBadRequest, "validation_failed"},
		{"invalid payload", owner, ts.event(widget.KindBonusHunt, widget.EventHuntStart, `{"title":""}`), http.StatusBadRequest, "validation_failed"},
		{"malformed body", owner, `{"overlay_id":`, http.StatusBadRequest, "validation_failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := ts.do(t, http.MethodPost, ts.channelPath("/events"), tt.token, tt.body)
			if rec.Code != tt.status || string(resp.Code) != tt.code {
				t.Fatalf("expected %d %s, got %d %s", tt.status, tt.code, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestCheckPermission(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	role, err := ts.store.AddModerator(ctx, ts.f.Channel.ID, "2000", "mod")
	if err != nil {
		t.Fatalf("AddModerator: %v", err)
	}
	overlayID := ts.f.Overlay.ID
	err = ts.store.GrantPermission(ctx, &db.Permission{
		ChannelRoleID: role.ID,
		Key:           authz.WidgetKey(widget.KindWagerBar),
		OverlayScope:  &overlayID,
	})
	if err != nil {
		t.Fatalf("GrantPermission: %v", err)
	}
	mod := ts.token(t, "2000", "mod")

	tests := []struct {
		query   string
		allowed bool
		reason  string
	}{
		{fmt.Sprintf("?permission=widgets.wager_bar&overlay_id=%d", overlayID), true, ""},
		{fmt.Sprintf("?permission=widgets.wager_bar&overlay_id=%d&widget_id=%d", overlayID, ts.f.Widgets[widget.KindWagerBar].ID), true, ""},
		{"?permission=widgets.wager_bar&overlay_id=999", false, "missing_permission"},
		{"?permission=widgets.wheel", false, "missing_permission"},
	}
	for _, tt := range tests {
		rec, resp := ts.do(t, http.MethodGet, ts.channelPath("/authorize"+tt.query), mod, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d %s", tt.query, rec.Code, rec.Body.String())
		}
		data := resp.Data.(map[string]interface{})
		if data["allowed"] != tt.allowed || data["reason"] != tt.reason {
			t.Fatalf("%s: unexpected %v", tt.query, data)
		}
	}

	rec, _ := ts.do(t, http.MethodGet, ts.channelPath("/authorize"), mod, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without permission, got %d", rec.Code)
	}
}

func TestIngestAlwaysAccepts(t *testing.T) {
	ts := newTestServer(t)
	body := ts.event(widget.KindBonusHunt, widget.EventHuntStart, `{"title":"ingested","start_balance":50}`)
	path := fmt.Sprintf("/ingest/%d", ts.f.Channel.ID)

	post := func(signature, body string) int {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		if signature != "" {
			req.Header.Set(signatureHeader, signature)
		}
		rec := httptest.NewRecorder()
		ts.srv.Handler().ServeHTTP(rec, req)
		return rec.Code
	}
	key := db.SnapshotKey{OverlayID: ts.f.Overlay.ID, WidgetType: widget.KindBonusHunt}

	for _, sig := range []string{"", "sha256=00", sign("other body")} {
		if code := post(sig, body); code != http.StatusAccepted {
			t.Fatalf("expected 202 for signature %q, got %d", sig, code)
		}
	}
	if code := post(sign(`{"broken`), `{"broken`); code != http.StatusAccepted {
		t.Fatalf("expected 202 for malformed body, got %d", code)
	}
	if snap, err := ts.snaps.Get(context.Background(), key); err != nil || snap != nil {
		t.Fatalf("unsigned ingest must not be applied: %v %v", snap, err)
	}

	if code := post(sign(body), body); code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", code)
	}
	snap, err := ts.snaps.Get(context.Background(), key)
	if err != nil || snap == nil {
		t.Fatalf("expected snapshot after signed ingest: %v", err)
	}
	if snap.State["title"] != "ingested" {
		t.Fatalf("unexpected state %v", snap.State)
	}
}

func TestViewerSlotRequestCooldown(t *testing.T) {
	ts := newTestServer(t)
	viewer := ts.token(t, "3000", "viewer")
	path := fmt.Sprintf("/api/viewer/channels/%d/slot-requests", ts.f.Channel.ID)

	rec, resp := ts.do(t, http.MethodPost, path, viewer, `{"slot":"Sugar Rush"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", rec.Code, rec.Body.String())
	}
	if resp.Data.(map[string]interface{})["slot"] != "Sugar Rush" {
		t.Fatalf("unexpected data %v", resp.Data)
	}

	rec, resp = ts.do(t, http.MethodPost, path, viewer, `{"slot":"Gates of Olympus"}`)
	if rec.Code != http.StatusTooManyRequests || resp.Code != "cooldown_active" {
		t.Fatalf("expected cooldown, got %d %s", rec.Code, rec.Body.String())
	}
	if resp.RetryAfter < 1 || resp.RetryAfter > 30 || rec.Header().Get("Retry-After") == "" {
		t.Fatalf("unexpected retry after %d", resp.RetryAfter)
	}

	rec, _ = ts.do(t, http.MethodPost, fmt.Sprintf("/api/viewer/channels/%d/slot-requests", 9999), viewer, `{"slot":"x"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown channel, got %d", rec.Code)
	}
}

func TestViewerGuess(t *testing.T) {
	ts := newTestServer(t)
	owner := ts.token(t, dbtest.OwnerID, dbtest.OwnerName)
	viewer := ts.token(t, "3000", "viewer")
	path := fmt.Sprintf("/api/viewer/channels/%d/guess", ts.f.Channel.ID)

	rec, resp := ts.do(t, http.MethodPost, path, viewer, `{"value":"1,234.5"}`)
	if rec.Code != http.StatusBadRequest || resp.Error != "guessing is closed" {
		t.Fatalf("expected closed guessing, got %d %s", rec.Code, rec.Body.String())
	}

	for _, ev := range []string{
		ts.event(widget.KindBonusHunt, widget.EventHuntStart, `{"title":"hunt","start_balance":100}`),
		ts.event(widget.KindGuessBalance, widget.EventGuessOpen, `{}`),
	} {
		if rec, _ := ts.do(t, http.MethodPost, ts.channelPath("/events"), owner, ev); rec.Code != http.StatusCreated {
			t.Fatalf("setup event failed: %d %s", rec.Code, rec.Body.String())
		}
	}

	rec, resp = ts.do(t, http.MethodPost, path, viewer, `{"value":"1,234.5"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", rec.Code, rec.Body.String())
	}
	if resp.Data.(map[string]interface{})["value"] != 1234.5 {
		t.Fatalf("unexpected data %v", resp.Data)
	}

	rec, resp = ts.do(t, http.MethodPost, path, viewer, `{"value":99}`)
	if rec.Code != http.StatusTooManyRequests || resp.Code != "cooldown_active" {
		t.Fatalf("expected cooldown, got %d %s", rec.Code, rec.Body.String())
	}

	rec, _ = ts.do(t, http.MethodPost, path, viewer, `{"value":"lots"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad amount, got %d", rec.Code)
	}
}

func TestViewerPerAddressLimit(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) {
		c.ViewerRPS = 0.001
		c.ViewerBurst = 1
	})
	viewer := ts.token(t, "3000", "viewer")
	path := fmt.Sprintf("/api/viewer/channels/%d/slot-requests", ts.f.Channel.ID)

	if rec, _ := ts.do(t, http.MethodPost, path, viewer, `{"slot":"Sugar Rush"}`); rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	rec, resp := ts.do(t, http.MethodPost, path, viewer, `{"slot":"Sugar Rush"}`)
	if rec.Code != http.StatusTooManyRequests || resp.Code != "rate_limited" {
		t.Fatalf("expected rate_limited, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestOverlayState(t *testing.T) {
	ts := newTestServer(t)
	base := fmt.Sprintf("/api/overlays/%d/state", ts.f.Overlay.ID)

	for _, q := range []string{"", "?token=wrong"} {
		if rec, _ := ts.do(t, http.MethodGet, base+q, "", ""); rec.Code != http.StatusNotFound {
			t.Fatalf("%q: expected 404, got %d", q, rec.Code)
		}
	}
	rec, resp := ts.do(t, http.MethodGet, base+"?token="+ts.f.Overlay.PublicToken, "", "")
	if rec.Code != http.StatusOK || !resp.Success {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestOverlaySocketStreamsSnapshots(t *testing.T) {
	ts := newTestServer(t)
	owner := ts.token(t, dbtest.OwnerID, dbtest.OwnerName)
	submit := func(eventType, payload string) {
		t.Helper()
		rec, _ := ts.do(t, http.MethodPost, ts.channelPath("/events"), owner, ts.event(widget.KindBonusHunt, eventType, payload))
		if rec.Code != http.StatusCreated {
			t.Fatalf("%s: %d %s", eventType, rec.Code, rec.Body.String())
		}
	}
	submit(widget.EventHuntStart, `{"title":"hunt","start_balance":100}`)

	srv := httptest.NewServer(ts.srv.Handler())
	defer srv.Close()

	url := fmt.Sprintf("ws%s/ws/overlays/%d?token=%s", strings.TrimPrefix(srv.URL, "http"), ts.f.Overlay.ID, ts.f.Overlay.PublicToken)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var msg snapshot.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read initial: %v", err)
	}
	if msg.Type != "snapshot" || msg.Data.Version != 1 || msg.Data.State["title"] != "hunt" {
		t.Fatalf("unexpected initial message %+v", msg.Data)
	}

	submit(widget.EventHuntAddBonus, `{"slot":"Sugar Rush","bet":2}`)
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if msg.Data.Version != 2 {
		t.Fatalf("expected version 2, got %+v", msg.Data)
	}

	bad := fmt.Sprintf("ws%s/ws/overlays/%d?token=nope", strings.TrimPrefix(srv.URL, "http"), ts.f.Overlay.ID)
	if _, resp, err := websocket.DefaultDialer.Dial(bad, nil); err == nil || resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for a bad token, got %v", err)
	}
}

func TestSettingsAndBot(t *testing.T) {
	ts := newTestServer(t)
	owner := ts.token(t, dbtest.OwnerID, dbtest.OwnerName)

	rec, resp := ts.do(t, http.MethodPut, ts.channelPath("/settings"), owner, `{"guess_cooldown":"45"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	settings := resp.Data.(map[string]interface{})
	if settings["guess_cooldown"] != "45" || settings["slot_requests_open"] != "true" {
		t.Fatalf("unexpected settings %v", settings)
	}
	for _, body := range []string{`{"guess_cooldown":"soon"}`, `{"chat_replies":"maybe"}`, `{"volume":"11"}`} {
		if rec, _ := ts.do(t, http.MethodPut, ts.channelPath("/settings"), owner, body); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, rec.Code)
		}
	}

	if rec, _ := ts.do(t, http.MethodPut, ts.channelPath("/bot"), owner, `{"enabled":true}`); rec.Code != http.StatusOK {
		t.Fatalf("enable bot: %d %s", rec.Code, rec.Body.String())
	}
	if rec, _ := ts.do(t, http.MethodPut, ts.channelPath("/bot"), owner, `{"enabled":false}`); rec.Code != http.StatusOK {
		t.Fatalf("disable bot: %d %s", rec.Code, rec.Body.String())
	}
	if len(ts.bots.added) != 1 || len(ts.bots.removed) != 1 || ts.bots.added[0] != dbtest.OwnerID {
		t.Fatalf("unexpected registry calls added=%v removed=%v", ts.bots.added, ts.bots.removed)
	}

	mod := ts.token(t, "2000", "mod")
	if _, err := ts.store.AddModerator(context.Background(), ts.f.Channel.ID, "2000", "mod"); err != nil {
		t.Fatalf("AddModerator: %v", err)
	}
	rec, resp = ts.do(t, http.MethodPut, ts.channelPath("/bot"), mod, `{"enabled":true}`)
	if rec.Code != http.StatusForbidden || resp.Code != "missing_permission" {
		t.Fatalf("expected missing_permission, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestModeratorManagement(t *testing.T) {
	ts := newTestServer(t)
	owner := ts.token(t, dbtest.OwnerID, dbtest.OwnerName)

	rec, resp := ts.do(t, http.MethodPost, ts.channelPath("/moderators"), owner, `{"user_id":"2000","user_name":"mod"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add moderator: %d %s", rec.Code, rec.Body.String())
	}
	roleID := uint(resp.Data.(map[string]interface{})["id"].(float64))

	grant := fmt.Sprintf(`{"key":"widgets.bonus_hunt","overlay_id":%d}`, ts.f.Overlay.ID)
	rec, resp = ts.do(t, http.MethodPost, ts.channelPath(fmt.Sprintf("/moderators/%d/permissions", roleID)), owner, grant)
	if rec.Code != http.StatusOK {
		t.Fatalf("grant: %d %s", rec.Code, rec.Body.String())
	}
	perms := resp.Data.(map[string]interface{})["permissions"].([]interface{})
	if len(perms) != 1 {
		t.Fatalf("expected one grant, got %v", perms)
	}

	mod := ts.token(t, "2000", "mod")
	body := ts.event(widget.KindBonusHunt, widget.EventHuntStart, `{"title":"mod hunt"}`)
	if rec, _ := ts.do(t, http.MethodPost, ts.channelPath("/events"), mod, body); rec.Code != http.StatusCreated {
		t.Fatalf("moderator event: %d %s", rec.Code, rec.Body.String())
	}

	permID := uint(perms[0].(map[string]interface{})["id"].(float64))
	path := ts.channelPath(fmt.Sprintf("/moderators/%d/permissions/%d", roleID, permID))
	if rec, _ := ts.do(t, http.MethodDelete, path, owner, ""); rec.Code != http.StatusOK {
		t.Fatalf("revoke: %d %s", rec.Code, rec.Body.String())
	}
	rec, resp = ts.do(t, http.MethodPost, ts.channelPath("/events"), mod, body)
	if rec.Code != http.StatusForbidden || resp.Code != "missing_permission" {
		t.Fatalf("expected missing_permission after revoke, got %d %s", rec.Code, rec.Body.String())
	}

	if rec, _ := ts.do(t, http.MethodDelete, ts.channelPath(fmt.Sprintf("/moderators/%d", roleID)), owner, ""); rec.Code != http.StatusOK {
		t.Fatalf("remove: %d", rec.Code)
	}
	rec, resp = ts.do(t, http.MethodPost, ts.channelPath("/events"), mod, body)
	if rec.Code != http.StatusForbidden || resp.Code != "forbidden" {
		t.Fatalf("expected forbidden after removal, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestOverlayAndHotWordManagement(t *testing.T) {
	ts := newTestServer(t)
	owner := ts.token(t, dbtest.OwnerID, dbtest.OwnerName)

	rec, resp := ts.do(t, http.MethodPost, ts.channelPath("/overlays"), owner, `{"name":"second"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create overlay: %d %s", rec.Code, rec.Body.String())
	}
	overlay := resp.Data.(map[string]interface{})
	if len(overlay["public_token"].(string)) != publicTokenLength {
		t.Fatalf("unexpected token %v", overlay["public_token"])
	}
	overlayID := uint(overlay["id"].(float64))

	widgets := ts.channelPath(fmt.Sprintf("/overlays/%d/widgets", overlayID))
	if rec, _ := ts.do(t, http.MethodPost, widgets, owner, `{"kind":"wheel","layout":{"x":10}}`); rec.Code != http.StatusCreated {
		t.Fatalf("create widget: %d %s", rec.Code, rec.Body.String())
	}
	if rec, _ := ts.do(t, http.MethodPost, widgets, owner, `{"kind":"jukebox"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown kind, got %d", rec.Code)
	}

	rec, resp = ts.do(t, http.MethodPost, ts.channelPath("/hotwords"), owner, `{"phrase":"gg","cooldown_seconds":10,"reward_points":5}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add hot word: %d %s", rec.Code, rec.Body.String())
	}
	wordID := uint(resp.Data.(map[string]interface{})["id"].(float64))
	if rec, _ := ts.do(t, http.MethodPost, ts.channelPath("/hotwords"), owner, `{"phrase":"  "}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty phrase, got %d", rec.Code)
	}
	if rec, _ := ts.do(t, http.MethodDelete, ts.channelPath(fmt.Sprintf("/hotwords/%d", wordID)), owner, ""); rec.Code != http.StatusOK {
		t.Fatalf("remove hot word: %d", rec.Code)
	}
	_, resp = ts.do(t, http.MethodGet, ts.channelPath("/hotwords"), owner, "")
	if words := resp.Data.([]interface{}); len(words) != 0 {
		t.Fatalf("expected no hot words, got %v", words)
	}

	if rec, _ := ts.do(t, http.MethodPost, ts.channelPath("/blacklist"), owner, `{"slot":"Book of Dead"}`); rec.Code != http.StatusCreated {
		t.Fatalf("blacklist: %d", rec.Code)
	}
	viewer := ts.token(t, "3000", "viewer")
	rec, resp = ts.do(t, http.MethodPost, fmt.Sprintf("/api/viewer/channels/%d/slot-requests", ts.f.Channel.ID), viewer, `{"slot":"book of dead"}`)
	if rec.Code != http.StatusBadRequest || !strings.Contains(resp.Error, "blacklisted") {
		t.Fatalf("expected blacklisted slot, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestPreflightAndCORS(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) {
		c.AllowedOrigins = []string{"https://dash.example"}
	})
	req := httptest.NewRequest(http.MethodOptions, ts.channelPath("/events"), nil)
	req.Header.Set("Origin", "https://dash.example")
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Header().Get("Access-Control-Allow-Origin") != "https://dash.example" {
		t.Fatalf("unexpected preflight %d %v", rec.Code, rec.Header())
	}

	req = httptest.NewRequest(http.MethodOptions, ts.channelPath("/events"), nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unexpected origin allowed")
	}
}

func TestValidSignature(t *testing.T) {
	body := []byte(`{"a":1}`)
	good := sign(string(body))

	tests := []struct {
		name   string
		secret string
		header string
		want   bool
	}{
		{"valid", ingestSecret, good, true},
		{"no secret configured", "", good, false},
		{"missing prefix", ingestSecret, strings.TrimPrefix(good, "sha256="), false},
		{"not hex", ingestSecret, "sha256=zz", false},
		{"other secret", "other", good, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := validSignature(tt.secret, tt.header, body); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestIPLimiter(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l := newIPLimiter(1, 2)
	l.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if ok, _ := l.allow("1.2.3.4"); !ok {
			t.Fatalf("request %d should pass", i)
		}
	}
	ok, wait := l.allow("1.2.3.4")
	if ok || wait <= 0 || wait > time.Second {
		t.Fatalf("expected a wait up to 1s, got ok=%v wait=%v", ok, wait)
	}
	if ok, _ := l.allow("5.6.7.8"); !ok {
		t.Fatalf("other addresses have their own bucket")
	}

	now = now.Add(time.Second)
	if ok, _ := l.allow("1.2.3.4"); !ok {
		t.Fatalf("bucket should refill")
	}

	now = now.Add(visitorTTL + time.Second)
	l.allow("9.9.9.9")
	if _, ok := l.visitors["5.6.7.8"]; ok {
		t.Fatalf("idle visitor should be swept")
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	if got := clientIP(req); got != "10.0.0.1" {
		t.Fatalf("expected remote host, got %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := clientIP(req); got != "203.0.113.7" {
		t.Fatalf("expected first forwarded hop, got %q", got)
	}
}
