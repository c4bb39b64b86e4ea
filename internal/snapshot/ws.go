package snapshot

import (
	"time"

	"github.com/emcifuntik/twitch-overlay-widgets/internal/db"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Message is the frame written to overlay and viewer sockets.
type Message struct {
	Type string    `json:"type"`
	Data *Snapshot `json:"data"`
}

// Client streams one subscription to a websocket connection. Overlays never
// send anything meaningful; reads only service ping/pong and close frames.
type Client struct {
	conn *websocket.Conn
	sub  *Subscription
	sent map[db.SnapshotKey]int64
}

func NewClient(conn *websocket.Conn, sub *Subscription) *Client {
	return &Client{
		conn: conn,
		sub:  sub,
		sent: make(map[db.SnapshotKey]int64),
	}
}

// Serve writes initial once, then every newer snapshot from the subscription,
// until either side goes away. It closes the subscription and the connection.
func (c *Client) Serve(initial []*Snapshot) {
	go c.readPump()
	c.writePump(initial)
}

func (c *Client) readPump() {
	defer c.sub.Close()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug("Overlay %d socket closed: %v", c.sub.OverlayID, err)
			}
			return
		}
	}
}

// send skips snapshots no newer than what this client already has, which
// happens when a commit lands between subscribing and reading the initial state.
func (c *Client) send(snap *Snapshot) error {
	key := snap.Key()
	if snap.Version <= c.sent[key] {
		return nil
	}
	c.sent[key] = snap.Version
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(Message{Type: "snapshot", Data: snap})
}

func (c *Client) writePump(initial []*Snapshot) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.sub.Close()
		_ = c.conn.Close()
	}()

	for _, snap := range initial {
		if err := c.send(snap); err != nil {
			return
		}
	}

	for {
		select {
		case snap, ok := <-c.sub.C():
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.send(snap); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
