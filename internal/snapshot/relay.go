package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "overlay:"

// Relay shares committed snapshots between instances over redis pub/sub.
// Snapshots an instance published itself come back through the relay too;
// the hub drops them because their version was already seen.
type Relay struct {
	rdb  *redis.Client
	hub  *Hub
	ps   *redis.PubSub
	done chan struct{}
}

func NewRelay(rdb *redis.Client, hub *Hub) *Relay {
	return &Relay{rdb: rdb, hub: hub}
}

func overlayChannel(overlayID uint) string {
	return channelPrefix + strconv.FormatUint(uint64(overlayID), 10)
}

func (r *Relay) Publish(ctx context.Context, snap *Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot %s: %w", snap.ID, err)
	}
	if err := r.rdb.Publish(ctx, overlayChannel(snap.OverlayID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// Start subscribes to every overlay channel and feeds remote snapshots into
// the hub until Close is called.
func (r *Relay) Start(ctx context.Context) error {
	ps := r.rdb.PSubscribe(ctx, channelPrefix+"*")
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("failed to subscribe to overlay channels: %w", err)
	}
	r.ps = ps
	r.done = make(chan struct{})
	go r.loop(ps.Channel())
	log.Info("Relay subscribed to %s*", channelPrefix)
	return nil
}

func (r *Relay) loop(messages <-chan *redis.Message) {
	defer close(r.done)
	for msg := range messages {
		overlayID, err := strconv.ParseUint(strings.TrimPrefix(msg.Channel, channelPrefix), 10, 64)
		if err != nil {
			log.Warn("Ignoring relay message on %q", msg.Channel)
			continue
		}
		var snap Snapshot
		if err := json.Unmarshal([]byte(msg.Payload), &snap); err != nil {
			log.Warn("Ignoring undecodable relay message for overlay %d: %v", overlayID, err)
			continue
		}
		snap.OverlayID = uint(overlayID)
		if snap.State == nil {
			snap.State = map[string]any{}
		}
		if r.hub.Publish(&snap) {
			log.Debug("Relayed %s v%d", snap.Key(), snap.Version)
		}
	}
}

func (r *Relay) Close() error {
	if r.ps == nil {
		return nil
	}
	err := r.ps.Close()
	<-r.done
	return err
}
