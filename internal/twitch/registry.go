package twitch

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/emcifuntik/twitch-overlay-widgets/internal/db"
)

const (
	DefaultQueueSize = 64
	DefaultTimeout   = 5 * time.Second
)

// Registry owns the listener of every channel the bot is active in. It is
// created at process start and torn down with Stop.
type Registry struct {
	store     *db.Store
	transport ChatTransport
	handler   MessageHandler
	queueSize int
	timeout   time.Duration

	mu        sync.RWMutex
	listeners map[string]*Listener // by broadcaster id
	joining   map[string]bool      // joins in flight; false once removed meanwhile
	ctx       context.Context
	cancel    context.CancelFunc
}

type Option func(*Registry)

func WithQueueSize(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

// WithTimeout bounds the handling of one chat line, reply included.
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func NewRegistry(store *db.Store, transport ChatTransport, handler MessageHandler, opts ...Option) *Registry {
	r := &Registry{
		store:     store,
		transport: transport,
		handler:   handler,
		queueSize: DefaultQueueSize,
		timeout:   DefaultTimeout,
		listeners: make(map[string]*Listener),
		joining:   make(map[string]bool),
		ctx:       context.Background(),
		cancel:    func() {},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start starts the transport and a listener for every bot-enabled channel.
// A channel that fails to join is logged and skipped.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))
	r.mu.Unlock()

	if err := r.transport.Start(ctx, r.dispatch); err != nil {
		return log.Error("Starting chat transport", err)
	}

	channels, err := r.store.ListBotChannels(ctx)
	if err != nil {
		return log.Error("Loading bot channels", err)
	}
	for i := range channels {
		if err := r.Add(ctx, &channels[i]); err != nil {
			log.Warn("Bot not started for %s: %v", channels[i].Name, err)
		}
	}
	log.Success("Chat bot running in %d channels", r.Len())
	return nil
}

// Add joins the channel's chat and starts its listener. Adding a channel
// that already has a listener, or is being joined, does nothing. The join
// runs without the registry lock so other channels keep flowing.
func (r *Registry) Add(ctx context.Context, channel *db.Channel) error {
	id := channel.TwitchID
	r.mu.Lock()
	if _, exists := r.listeners[id]; exists {
		r.mu.Unlock()
		log.Debug("Listener already exists for channel %s", channel.Name)
		return nil
	}
	if _, pending := r.joining[id]; pending {
		r.mu.Unlock()
		log.Debug("Join already in progress for channel %s", channel.Name)
		return nil
	}
	r.joining[id] = true
	r.mu.Unlock()

	err := r.transport.Join(ctx, channel)

	r.mu.Lock()
	wanted := r.joining[id]
	delete(r.joining, id)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if !wanted || r.ctx.Err() != nil {
		r.mu.Unlock()
		log.Debug("Channel %s was removed while joining", channel.Name)
		return r.transport.Part(ctx, channel)
	}
	l := newListener(*channel, r.handler, r.transport, r.queueSize, r.timeout)
	r.listeners[id] = l
	go l.run(r.ctx)
	r.mu.Unlock()

	log.Info("Listening to chat of %s", channel.Name)
	return nil
}

// Remove leaves the channel's chat and stops its listener after the queued
// lines were handled.
func (r *Registry) Remove(ctx context.Context, channel *db.Channel) error {
	r.mu.Lock()
	if _, pending := r.joining[channel.TwitchID]; pending {
		r.joining[channel.TwitchID] = false
	}
	l, exists := r.listeners[channel.TwitchID]
	delete(r.listeners, channel.TwitchID)
	r.mu.Unlock()

	if !exists {
		log.Debug("No listener found for channel %s", channel.Name)
		return nil
	}
	l.stop()
	return r.transport.Part(ctx, channel)
}

// Stop drains every listener and closes the transport.
func (r *Registry) Stop() {
	r.mu.Lock()
	listeners := r.listeners
	r.listeners = make(map[string]*Listener)
	r.mu.Unlock()

	for _, l := range listeners {
		l.stop()
	}
	r.cancel()
	if err := r.transport.Close(); err != nil {
		log.Warn("Closing chat transport: %v", err)
	}
	log.Info("Chat bot stopped")
}

// Len returns the number of channels with a listener.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners)
}

// Channels returns the broadcaster ids with a listener, sorted.
func (r *Registry) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.listeners))
	for id := range r.listeners {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// dispatch routes a transport line to its channel's listener. The read lock
// is held across the offer so Remove never closes a queue mid-send.
func (r *Registry) dispatch(msg ChatMessage) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, exists := r.listeners[msg.BroadcasterID]
	if !exists {
		log.Debug("No listener found for broadcaster ID: %s", msg.BroadcasterID)
		return
	}
	if !l.offer(msg) {
		log.Warn("Chat queue of %s is full, dropping message from %s", l.channel.Name, msg.ChatterName)
	}
}
