// Package websocket pushes live notifications to connected display clients
// so they can reload the weekly view after the source document changes.
package websocket

import (
	"net/url"
	"sync"
	"time"

	appLog "weeklycal/internal/log"
)

const (
	TypeScheduleRefreshed = "schedule_refreshed"
	// TypeView is sent by a display to change its language or time zone.
	TypeView = "view"
)

// Message is a notification exchanged with a display.
type Message struct {
	Type      string    `json:"type"`
	Events    int       `json:"events,omitempty"`
	FetchedAt time.Time `json:"fetched_at,omitzero"`

	// Schedule is the schedule URL for the receiving display's view.
	Schedule string `json:"schedule,omitempty"`

	// Lang and TZ carry a display's requested view on TypeView messages.
	Lang string `json:"lang,omitempty"`
	TZ   string `json:"tz,omitempty"`
}

// Refreshed builds the message sent after a new source document is loaded.
func Refreshed(events int, fetchedAt time.Time) Message {
	return Message{Type: TypeScheduleRefreshed, Events: events, FetchedAt: fetchedAt}
}

// View is the language and display zone a client renders the schedule in.
// Empty fields mean the server defaults.
type View struct {
	Language string
	TimeZone string
}

// ViewFromQuery reads the lang and tz parameters.
func ViewFromQuery(q url.Values) View {
	return View{Language: q.Get("lang"), TimeZone: q.Get("tz")}
}

// SchedulePath is the /api/schedule URL for v.
func (v View) SchedulePath() string {
	q := url.Values{}
	if v.Language != "" {
		q.Set("lang", v.Language)
	}
	if v.TimeZone != "" {
		q.Set("tz", v.TimeZone)
	}
	if len(q) == 0 {
		return "/api/schedule"
	}
	return "/api/schedule?" + q.Encode()
}

// Hub maintains the set of active clients and fans messages out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*Client]struct{})}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes c and closes its send channel. Repeated calls are
// no-ops.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast queues msg for every client, addressed to each client's view.
// Clients with a full buffer miss it.
func (h *Hub) Broadcast(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	dropped := 0
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			dropped++
		}
	}
	appLog.Debug("websocket broadcast", "type", msg.Type, "clients", len(h.clients), "dropped", dropped)
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

