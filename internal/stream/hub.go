package stream

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type EventType string

const (
	EventTelemetry  EventType = "telemetry"
	EventMembership EventType = "membership"
	EventPresence   EventType = "presence"
	EventSession    EventType = "session"
)

type Event struct {
	Type      EventType       `json:"type"`
	SessionID string          `json:"session_id"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEvent marshals v into the event payload. A payload that fails to
// marshal becomes an empty payload; subscribers tolerate that.
func NewEvent(t EventType, sessionID string, v any) Event {
	payload, _ := json.Marshal(v)
	return Event{Type: t, SessionID: sessionID, Payload: payload}
}

// envelope carries the publishing hub's id across redis so a hub can skip
// events it already delivered locally.
type envelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

type Hub struct {
	id      string
	redis   *redis.Client
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
}

type Client struct {
	SessionID string
	Send      chan Event
}

func NewHub(redisClient *redis.Client) *Hub {
	h := &Hub{
		id:      uuid.NewString(),
		redis:   redisClient,
		clients: map[string]map[*Client]struct{}{},
	}

	if redisClient != nil {
		go h.subscribeRedis()
	}
	return h
}

func (h *Hub) Register(sessionID string) *Client {
	client := &Client{
		SessionID: sessionID,
		Send:      make(chan Event, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[sessionID] == nil {
		h.clients[sessionID] = map[*Client]struct{}{}
	}
	h.clients[sessionID][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sessionClients, ok := h.clients[client.SessionID]; ok {
		if _, registered := sessionClients[client]; !registered {
			return
		}
		delete(sessionClients, client)
		if len(sessionClients) == 0 {
			delete(h.clients, client.SessionID)
		}
		close(client.Send)
	}
}

func (h *Hub) Broadcast(evt Event) {
	h.deliverLocal(evt)

	if h.redis != nil {
		payload, _ := json.Marshal(envelope{Origin: h.id, Event: evt})
		err := h.redis.Publish(context.Background(), redisChannel(evt.SessionID), payload).Err()
		if err != nil {
			log.Printf("redis publish error: %v", err)
		}
	}
}

func (h *Hub) deliverLocal(evt Event) {
	h.mu.RLock()
	clients := h.clients[evt.SessionID]
	h.mu.RUnlock()

	for client := range clients {
		select {
		case client.Send <- evt:
		default:
		}
	}
}

func (h *Hub) subscribeRedis() {
	ctx := context.Background()
	pubsub := h.redis.PSubscribe(ctx, "caravan:*:events")
	defer pubsub.Close()

	for msg := range pubsub.Channel() {
		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			log.Printf("redis event decode error: %v", err)
			continue
		}
		if env.Origin == h.id {
			continue
		}
		h.deliverLocal(env.Event)
	}
}

func redisChannel(sessionID string) string {
	return "caravan:" + sessionID + ":events"
}
