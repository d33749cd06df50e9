package sse

import (
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/affectlearn-backend/internal/logger"
)

func TestBroadcastReachesSubscribedClient(t *testing.T) {
	hub := NewSSEHub(logger.Nop())
	client := hub.NewSSEClient(uuid.New())
	hub.AddChannel(client, "user:abc")

	hub.Broadcast(SSEMessage{Channel: "user:abc", Event: SSEEventTurnAnswered})

	select {
	case msg := <-client.Outbound:
		if msg.Event != SSEEventTurnAnswered {
			t.Fatalf("got event %q", msg.Event)
		}
	default:
		t.Fatal("no message delivered")
	}

	hub.CloseClient(client)
}

func TestBroadcastSkipsOtherChannels(t *testing.T) {
	hub := NewSSEHub(logger.Nop())
	client := hub.NewSSEClient(uuid.New())
	hub.AddChannel(client, SessionChannel(uuid.New()))

	hub.Broadcast(SSEMessage{Channel: SessionChannel(uuid.New()), Event: SSEEventQuizReady})

	select {
	case msg := <-client.Outbound:
		t.Fatalf("unexpected delivery: %+v", msg)
	default:
	}

	hub.CloseClient(client)
}

func TestCloseClientTwiceIsSafe(t *testing.T) {
	hub := NewSSEHub(logger.Nop())
	client := hub.NewSSEClient(uuid.New())
	hub.AddChannel(client, "user:abc")

	hub.CloseClient(client)
	// A stream handler's deferred cleanup runs after a reconnect already
	// closed the client it replaced. Must not panic.
	hub.CloseClient(client)

	select {
	case <-client.done:
	default:
		t.Fatal("done channel not closed")
	}
	if _, ok := <-client.Outbound; ok {
		t.Fatal("outbound channel not closed")
	}
}

func TestCloseClientConcurrentWithBroadcast(t *testing.T) {
	hub := NewSSEHub(logger.Nop())
	channel := SessionChannel(uuid.New())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		client := hub.NewSSEClient(uuid.New())
		hub.AddChannel(client, channel)

		wg.Add(2)
		go func() {
			defer wg.Done()
			hub.Broadcast(SSEMessage{Channel: channel, Event: SSEEventVoiceReady})
		}()
		go func() {
			defer wg.Done()
			hub.CloseClient(client)
			hub.CloseClient(client)
		}()
	}
	wg.Wait()
}

func TestBroadcastAfterCloseDropsMessage(t *testing.T) {
	hub := NewSSEHub(logger.Nop())
	client := hub.NewSSEClient(uuid.New())
	hub.AddChannel(client, "user:abc")
	hub.CloseClient(client)

	// Closed clients leave the subscription map, so this must not send
	// on the closed outbound channel.
	hub.Broadcast(SSEMessage{Channel: "user:abc", Event: SSEEventVisualReady})
}
