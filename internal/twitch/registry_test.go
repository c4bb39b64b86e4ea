package twitch

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emcifuntik/twitch-overlay-widgets/internal/commands"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/db"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/db/dbtest"
)

type fakeTransport struct {
	mu      sync.Mutex
	handle  func(ChatMessage)
	joined  map[string]bool
	replies []string
	closed  bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{joined: map[string]bool{}}
}

func (f *fakeTransport) Start(_ context.Context, handle func(ChatMessage)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handle = handle
	return nil
}

func (f *fakeTransport) Join(_ context.Context, ch *db.Channel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined[ch.TwitchID] = true
	return nil
}

func (f *fakeTransport) Part(_ context.Context, ch *db.Channel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.joined, ch.TwitchID)
	return nil
}

func (f *fakeTransport) Reply(_ context.Context, ch *db.Channel, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, ch.Name+": "+text)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) deliver(msg ChatMessage) {
	f.mu.Lock()
	handle := f.handle
	f.mu.Unlock()
	handle(msg)
}

func (f *fakeTransport) snapshot() ([]string, map[string]bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	joined := make(map[string]bool, len(f.joined))
	for k, v := range f.joined {
		joined[k] = v
	}
	return append([]string(nil), f.replies...), joined, f.closed
}

// echoHandler replies with the text it got. A non-nil gate blocks every
// call until it is closed.
type echoHandler struct {
	gate chan struct{}
	mu   sync.Mutex
	seen []commands.Message
}

func (e *echoHandler) Handle(ctx context.Context, msg commands.Message) (string, error) {
	if e.gate != nil {
		select {
		case <-e.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	e.mu.Lock()
	e.seen = append(e.seen, msg)
	e.mu.Unlock()
	if strings.HasPrefix(msg.Text, "!") {
		return "@" + msg.ViewerName + " " + msg.Text, nil
	}
	return "", nil
}

func (e *echoHandler) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.seen)
}

func seedBotChannel(t *testing.T, store *db.Store, twitchID, name string, enabled bool) *db.Channel {
	t.Helper()
	ctx := context.Background()
	ch, err := store.UpsertChannel(ctx, twitchID, name, "", "")
	if err != nil {
		t.Fatalf("UpsertChannel: %v", err)
	}
	if err := store.SetBotEnabled(ctx, ch.ID, enabled); err != nil {
		t.Fatalf("SetBotEnabled: %v", err)
	}
	ch.BotEnabled = enabled
	return ch
}

func TestRegistryStartsEnabledChannels(t *testing.T) {
	store := dbtest.New(t)
	on := seedBotChannel(t, store, "100", "alpha", true)
	seedBotChannel(t, store, "200", "beta", false)

	transport := newFakeTransport()
	handler := &echoHandler{}
	r := NewRegistry(store, transport, handler)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if got := r.Channels(); len(got) != 1 || got[0] != "100" {
		t.Fatalf("expected only alpha, got %v", got)
	}

	transport.deliver(ChatMessage{BroadcasterID: "100", ChatterID: "7", ChatterName: "viewer", Text: "!points"})
	transport.deliver(ChatMessage{BroadcasterID: "200", ChatterID: "7", ChatterName: "viewer", Text: "!points"})
	r.Stop()

	replies, joined, closed := transport.snapshot()
	if len(replies) != 1 || replies[0] != "alpha: @viewer !points" {
		t.Fatalf("unexpected replies %v", replies)
	}
	if handler.seen[0].ChannelID != on.ID || handler.seen[0].ViewerID != "7" {
		t.Fatalf("unexpected message %+v", handler.seen[0])
	}
	if !joined["100"] || joined["200"] || !closed {
		t.Fatalf("unexpected transport state joined=%v closed=%v", joined, closed)
	}
}

func TestRegistryAddRemove(t *testing.T) {
	store := dbtest.New(t)
	ch := seedBotChannel(t, store, "100", "alpha", false)
	transport := newFakeTransport()
	r := NewRegistry(store, transport, &echoHandler{})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx := context.Background()

	if err := r.Add(ctx, ch); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Add(ctx, ch); err != nil {
		t.Fatalf("second Add: %v", err)
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 listener, got %d", r.Len())
	}

	transport.deliver(ChatMessage{BroadcasterID: "100", ChatterName: "viewer", Text: "!join red"})
	if err := r.Remove(ctx, ch); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := r.Remove(ctx, ch); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
	transport.deliver(ChatMessage{BroadcasterID: "100", ChatterName: "viewer", Text: "!join blue"})

	replies, joined, _ := transport.snapshot()
	if len(replies) != 1 || joined["100"] {
		t.Fatalf("expected the queued line handled before removal, got %v joined=%v", replies, joined)
	}
	r.Stop()
}

func TestListenerDropsWhenQueueFull(t *testing.T) {
	store := dbtest.New(t)
	ch := seedBotChannel(t, store, "100", "alpha", true)
	transport := newFakeTransport()
	handler := &echoHandler{gate: make(chan struct{})}
	r := NewRegistry(store, transport, handler, WithQueueSize(2), WithTimeout(time.Second))
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The first line is taken by the listener and blocks on the gate; wait
	// for it to leave the queue so exactly two more fit.
	transport.deliver(ChatMessage{BroadcasterID: ch.TwitchID, ChatterName: "v", Text: "first"})
	deadline := time.Now().Add(time.Second)
	for {
		r.mu.RLock()
		queued := len(r.listeners[ch.TwitchID].queue)
		r.mu.RUnlock()
		if queued == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("listener never picked up the first line")
		}
		time.Sleep(time.Millisecond)
	}

	for i := 0; i < 5; i++ {
		transport.deliver(ChatMessage{BroadcasterID: ch.TwitchID, ChatterName: "v", Text: "more"})
	}
	close(handler.gate)
	r.Stop()

	if got := handler.count(); got != 3 {
		t.Fatalf("expected 3 handled lines, got %d", got)
	}
}

func TestListenerTimesOutStalledHandler(t *testing.T) {
	store := dbtest.New(t)
	ch := seedBotChannel(t, store, "100", "alpha", true)
	transport := newFakeTransport()
	handler := &echoHandler{gate: make(chan struct{})}
	r := NewRegistry(store, transport, handler, WithTimeout(20*time.Millisecond))
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	transport.deliver(ChatMessage{BroadcasterID: ch.TwitchID, ChatterName: "v", Text: "!points"})
	transport.deliver(ChatMessage{BroadcasterID: ch.TwitchID, ChatterName: "v", Text: "!points"})

	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stalled handler blocked the listener")
	}
	if replies, _, _ := transport.snapshot(); len(replies) != 0 {
		t.Fatalf("expected no replies from timed out lines, got %v", replies)
	}
}

func TestChatMessageEventDecode(t *testing.T) {
	raw := `{
		"broadcaster_user_id": "100",
		"broadcaster_user_login": "alpha",
		"chatter_user_id": "7",
		"chatter_user_login": "viewer",
		"chatter_user_name": "Viewer",
		"message_id": "abc",
		"message": {"text": "!guess 1,234", "fragments": [{"type": "text", "text": "!guess 1,234"}]},
		"message_type": "text"
	}`
	var ev ChatMessageEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	msg := ev.chatMessage()
	if msg.BroadcasterID != "100" || msg.ChatterID != "7" || msg.ChatterName != "Viewer" || msg.Text != "!guess 1,234" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

// slowJoin holds Join for one broadcaster until release is closed.
type slowJoin struct {
	*fakeTransport
	slowID  string
	entered chan struct{}
	release chan struct{}
}

func (s *slowJoin) Join(ctx context.Context, ch *db.Channel) error {
	if ch.TwitchID == s.slowID {
		close(s.entered)
		<-s.release
	}
	return s.fakeTransport.Join(ctx, ch)
}

func TestSlowJoinDoesNotBlockOtherChannels(t *testing.T) {
	store := dbtest.New(t)
	fast := seedBotChannel(t, store, "100", "fast", true)
	slow := seedBotChannel(t, store, "200", "slow", false)
	transport := &slowJoin{
		fakeTransport: newFakeTransport(),
		slowID:        "200",
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
	handler := &echoHandler{}
	r := NewRegistry(store, transport, handler)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop()

	added := make(chan error, 1)
	go func() { added <- r.Add(context.Background(), slow) }()
	<-transport.entered

	delivered := make(chan struct{})
	go func() {
		transport.deliver(ChatMessage{BroadcasterID: fast.TwitchID, ChatterName: "viewer", Text: "!points"})
		close(delivered)
	}()
	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		close(transport.release)
		t.Fatal("delivery to another channel blocked behind a pending join")
	}

	deadline := time.Now().Add(2 * time.Second)
	for handler.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if handler.count() != 1 {
		t.Fatalf("expected the line handled while the join was pending, got %d", handler.count())
	}

	if err := r.Add(context.Background(), slow); err != nil {
		t.Fatalf("Add during pending join: %v", err)
	}
	close(transport.release)
	if err := <-added; err != nil {
		t.Fatalf("Add: %v", err)
	}
	if r.Len() != 2 {
		t.Fatalf("expected 2 listeners, got %d", r.Len())
	}
}

func TestRemoveDuringJoinParts(t *testing.T) {
	store := dbtest.New(t)
	slow := seedBotChannel(t, store, "200", "slow", false)
	transport := &slowJoin{
		fakeTransport: newFakeTransport(),
		slowID:        "200",
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
	r := NewRegistry(store, transport, &echoHandler{})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop()

	added := make(chan error, 1)
	go func() { added <- r.Add(context.Background(), slow) }()
	<-transport.entered

	if err := r.Remove(context.Background(), slow); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	close(transport.release)
	if err := <-added; err != nil {
		t.Fatalf("Add: %v", err)
	}

	_, joined, _ := transport.snapshot()
	if r.Len() != 0 || joined["200"] {
		t.Fatalf("expected no listener and no join, got len=%d joined=%v", r.Len(), joined)
	}
}
