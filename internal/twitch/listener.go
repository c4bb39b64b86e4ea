package twitch

import (
	"context"
	"time"

	"github.com/emcifuntik/twitch-overlay-widgets/internal/commands"
	"github.com/emcifuntik/twitch-overlay-widgets/internal/db"
)

// MessageHandler runs one chat line and returns the reply, if any.
// *commands.Interpreter satisfies it.
type MessageHandler interface {
	Handle(ctx context.Context, msg commands.Message) (string, error)
}

// Listener processes one channel's chat lines in arrival order on its own
// goroutine. Lines arriving while the queue is full are dropped.
type Listener struct {
	channel   db.Channel
	handler   MessageHandler
	transport ChatTransport
	timeout   time.Duration

	queue chan ChatMessage
	done  chan struct{}
}

func newListener(channel db.Channel, handler MessageHandler, transport ChatTransport, queueSize int, timeout time.Duration) *Listener {
	return &Listener{
		channel:   channel,
		handler:   handler,
		transport: transport,
		timeout:   timeout,
		queue:     make(chan ChatMessage, queueSize),
		done:      make(chan struct{}),
	}
}

// offer queues msg without blocking and reports whether it was queued.
func (l *Listener) offer(msg ChatMessage) bool {
	select {
	case l.queue <- msg:
		return true
	default:
		return false
	}
}

func (l *Listener) run(ctx context.Context) {
	defer close(l.done)
	for msg := range l.queue {
		l.handle(ctx, msg)
	}
}

func (l *Listener) handle(ctx context.Context, msg ChatMessage) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	reply, err := l.handler.Handle(ctx, commands.Message{
		ChannelID:  l.channel.ID,
		ViewerID:   msg.ChatterID,
		ViewerName: msg.ChatterName,
		Text:       msg.Text,
	})
	if err != nil {
		log.Warn("Handling chat message in %s failed: %v", l.channel.Name, err)
	}
	if reply == "" {
		return
	}
	if err := l.transport.Reply(ctx, &l.channel, reply); err != nil {
		log.Warn("Replying in %s failed: %v", l.channel.Name, err)
	}
}

// stop closes the queue and waits for queued lines to be handled. No offer
// may follow.
func (l *Listener) stop() {
	close(l.queue)
	<-l.done
}
