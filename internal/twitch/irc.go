package twitch

import (
	"context"
	"errors"
	"strings"

	"github.com/emcifuntik/twitch-overlay-widgets/internal/db"
	twitchirc "github.com/gempir/go-twitch-irc/v4"
)

// IRCTransport reads and writes chat over Twitch IRC as the bot account.
type IRCTransport struct {
	client *twitchirc.Client
	done   chan struct{}
}

func NewIRCTransport(username, oauthToken string) *IRCTransport {
	if oauthToken != "" && !strings.HasPrefix(oauthToken, "oauth:") {
		oauthToken = "oauth:" + oauthToken
	}
	return &IRCTransport{
		client: twitchirc.NewClient(strings.ToLower(username), oauthToken),
		done:   make(chan struct{}),
	}
}

func (t *IRCTransport) Start(ctx context.Context, handle func(ChatMessage)) error {
	t.client.OnConnect(func() {
		log.Success("Connected to Twitch IRC")
	})
	t.client.OnPrivateMessage(func(m twitchirc.PrivateMessage) {
		handle(ChatMessage{
			BroadcasterID: m.RoomID,
			ChatterID:     m.User.ID,
			ChatterLogin:  m.User.Name,
			ChatterName:   m.User.DisplayName,
			Text:          m.Message,
		})
	})

	go func() {
		defer close(t.done)
		// Connect blocks and reconnects until Disconnect.
		err := t.client.Connect()
		if err != nil && !errors.Is(err, twitchirc.ErrClientDisconnected) {
			log.Warn("Twitch IRC connection ended: %v", err)
		}
	}()
	return nil
}

func (t *IRCTransport) Join(_ context.Context, channel *db.Channel) error {
	t.client.Join(strings.ToLower(channel.Name))
	return nil
}

func (t *IRCTransport) Part(_ context.Context, channel *db.Channel) error {
	t.client.Depart(strings.ToLower(channel.Name))
	return nil
}

func (t *IRCTransport) Reply(_ context.Context, channel *db.Channel, text string) error {
	t.client.Say(strings.ToLower(channel.Name), text)
	return nil
}

func (t *IRCTransport) Close() error {
	if err := t.client.Disconnect(); err != nil {
		return err
	}
	<-t.done
	return nil
}
