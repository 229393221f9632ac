package websocket

import (
	"context"
	"sync"
	"time"

	ws "github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	appLog "weeklycal/internal/log"
)

const (
	sendBufferSize = 16
	pingInterval   = 30 * time.Second
)

// Client is one connected display and the view it renders.
type Client struct {
	hub  *Hub
	conn *ws.Conn
	send chan Message

	mu   sync.Mutex
	view View
}

func NewClient(hub *Hub, conn *ws.Conn, view View) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan Message, sendBufferSize),
		view: view,
	}
}

func (c *Client) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

func (c *Client) setView(v View) {
	c.mu.Lock()
	c.view = v
	c.mu.Unlock()
}

// address stamps msg with the schedule URL of the client's current view.
func (c *Client) address(msg Message) Message {
	if msg.Type == TypeScheduleRefreshed {
		msg.Schedule = c.View().SchedulePath()
	}
	return msg
}

// Run registers the client and blocks until the connection closes.
func (c *Client) Run(ctx context.Context) {
	c.hub.Register(c)
	defer c.hub.Unregister(c)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(ctx)
	c.readPump(ctx)
}

// readPump applies view changes sent by the display until the connection
// closes. Other messages are ignored.
func (c *Client) readPump(ctx context.Context) {
	for {
		var msg Message
		if err := wsjson.Read(ctx, c.conn, &msg); err != nil {
			if ws.CloseStatus(err) == -1 && ctx.Err() == nil {
				appLog.Debug("websocket read failed", "err", err)
			}
			return
		}
		if msg.Type != TypeView {
			continue
		}
		v := View{Language: msg.Lang, TimeZone: msg.TZ}
		c.setView(v)
		appLog.Debug("websocket view changed", "lang", v.Language, "tz", v.TimeZone)
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, c.conn, c.address(msg)); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
