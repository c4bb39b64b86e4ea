// Package twitch connects channels' chat to the command interpreter: a chat
// transport delivers lines and sends replies, and the Registry owns one
// listener per bot-enabled channel.
package twitch

import (
	"context"

	"github.com/emcifuntik/twitch-overlay-widgets/internal/db"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/logger"
)

var log = logger.New("TWITCH")

// ChatTransport delivers inbound chat lines and sends replies. Transports
// reconnect on their own.
type ChatTransport interface {
	// Start begins delivering lines of joined channels to handle. It does not
	// block.
	Start(ctx context.Context, handle func(ChatMessage)) error
	Join(ctx context.Context, channel *db.Channel) error
	Part(ctx context.Context, channel *db.Channel) error
	Reply(ctx context.Context, channel *db.Channel, text string) error
	Close() error
}
