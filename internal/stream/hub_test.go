package stream

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(nil)
	client := hub.Register("session-1")
	defer hub.Unregister(client)

	hub.Broadcast(NewEvent(EventTelemetry, "session-1", map[string]string{"hello": "world"}))

	select {
	case evt := <-client.Send:
		if evt.Type != EventTelemetry || evt.SessionID != "session-1" {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("timeout waiting for event")
	}
}

func TestHubBroadcastOtherSessionNotDelivered(t *testing.T) {
	hub := NewHub(nil)
	client := hub.Register("session-a")
	defer hub.Unregister(client)

	hub.Broadcast(NewEvent(EventSession, "session-b", nil))

	select {
	case evt := <-client.Send:
		t.Fatalf("unexpected event: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnregisterCloses(t *testing.T) {
	hub := NewHub(nil)
	client := hub.Register("session-2")
	hub.Unregister(client)
	_, ok := <-client.Send
	if ok {
		t.Fatalf("expected channel closed")
	}

	// second unregister is a no-op
	hub.Unregister(client)
}

func TestHubRedisBridge(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	hub := NewHub(client)
	ws := hub.Register("session-redis")
	defer hub.Unregister(ws)

	hub.Broadcast(NewEvent(EventMembership, "session-redis", []string{"u1"}))

	select {
	case evt := <-ws.Send:
		if evt.Type != EventMembership {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("timeout waiting for broadcast")
	}

	// an event published by another node is forwarded to local clients
	time.Sleep(20 * time.Millisecond)
	payload, _ := json.Marshal(envelope{
		Origin: "other-node",
		Event:  NewEvent(EventPresence, "session-redis", map[string]string{"status": "Offline"}),
	})
	if err := client.Publish(context.Background(), redisChannel("session-redis"), payload).Err(); err != nil {
		t.Fatalf("publish error: %v", err)
	}

	select {
	case evt := <-ws.Send:
		if evt.Type != EventPresence {
			t.Fatalf("unexpected event from redis: %+v", evt)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("timeout waiting for redis event")
	}
}

func TestHubRedisSkipsOwnEvents(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	hub := NewHub(client)
	ws := hub.Register("session-own")
	defer hub.Unregister(ws)

	time.Sleep(20 * time.Millisecond)
	hub.Broadcast(NewEvent(EventSession, "session-own", nil))

	// exactly one local delivery: the direct one, not the redis echo
	<-ws.Send
	select {
	case evt := <-ws.Send:
		t.Fatalf("duplicate delivery: %+v", evt)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHubRedisPublishError(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	server.Close()
	defer client.Close()

	hub := NewHub(client)
	clientNode := hub.Register("session-bad")
	defer hub.Unregister(clientNode)

	hub.Broadcast(NewEvent(EventTelemetry, "session-bad", nil))
}
