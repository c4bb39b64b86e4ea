package twitch

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/LinneB/twitchwh"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/config"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/db"
	"github.com/nicklaw5/helix/v2"
)

const chatMessageSubscription = "channel.chat.message"

// EventSubTransport receives chat through EventSub webhooks and replies
// through the Helix chat API as the bot user.
type EventSubTransport struct {
	wh        *twitchwh.Client
	helix     *helix.Client
	botUserID string
}

func NewEventSubTransport(cfg config.TwitchConfig, publicURL string) (*EventSubTransport, error) {
	if cfg.BotUserID == "" {
		return nil, errors.New("BOT_USER_ID is required for the eventsub transport")
	}
	wh, err := twitchwh.New(twitchwh.ClientConfig{
		ClientID:      cfg.ClientID,
		ClientSecret:  cfg.ClientSecret,
		WebhookSecret: cfg.EventSubSecret,
		WebhookURL:    strings.TrimSuffix(publicURL, "/") + "/eventsub",
	})
	if err != nil {
		return nil, fmt.Errorf("create eventsub client: %w", err)
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			ForceAttemptHTTP2: false, // Force HTTP/1.1
			TLSNextProto:      make(map[string]func(authority string, c *tls.Conn) http.RoundTripper),
		},
	}
	hc, err := helix.NewClient(&helix.Options{
		ClientID:        cfg.ClientID,
		ClientSecret:    cfg.ClientSecret,
		UserAccessToken: strings.TrimPrefix(cfg.BotOAuthToken, "oauth:"),
		HTTPClient:      httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("create helix client: %w", err)
	}
	return &EventSubTransport{wh: wh, helix: hc, botUserID: cfg.BotUserID}, nil
}

// Handler serves the EventSub callback route.
func (t *EventSubTransport) Handler(w http.ResponseWriter, r *http.Request) {
	t.wh.Handler(w, r)
}

func (t *EventSubTransport) Start(_ context.Context, handle func(ChatMessage)) error {
	t.wh.On(chatMessageSubscription, func(event json.RawMessage) {
		var data ChatMessageEvent
		if err := json.Unmarshal(event, &data); err != nil {
			log.Warn("Error unmarshalling EventSub chat event: %v", err)
			return
		}
		handle(data.chatMessage())
	})
	return nil
}

func (t *EventSubTransport) Join(_ context.Context, channel *db.Channel) error {
	err := t.wh.AddSubscription(chatMessageSubscription, "1", twitchwh.Condition{
		BroadcasterUserID: channel.TwitchID,
		UserID:            t.botUserID, // Bot needs to be a moderator or the broadcaster
	})
	if err != nil {
		return log.Error("Subscribing to chat messages for %s", err, channel.Name)
	}
	log.Info("Subscribed to chat of %s", channel.Name)
	return nil
}

func (t *EventSubTransport) Part(_ context.Context, channel *db.Channel) error {
	err := t.wh.RemoveSubscriptionByType(chatMessageSubscription, twitchwh.Condition{
		BroadcasterUserID: channel.TwitchID,
	})
	if err != nil {
		return log.Error("Unsubscribing from chat of %s", err, channel.Name)
	}
	return nil
}

func (t *EventSubTransport) Reply(_ context.Context, channel *db.Channel, text string) error {
	resp, err := t.helix.SendChatMessage(&helix.SendChatMessageParams{
		BroadcasterID: channel.TwitchID,
		SenderID:      t.botUserID,
		Message:       text,
	})
	if err != nil {
		return fmt.Errorf("send chat message: %w", err)
	}
	if resp.Error != "" {
		return fmt.Errorf("helix API error sending chat message: %s - %s", resp.Error, resp.ErrorMessage)
	}
	return nil
}

func (t *EventSubTransport) Close() error {
	return nil
}
