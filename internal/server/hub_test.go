package server

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Tyrowin/chatrelay/internal/relay"
	"github.com/Tyrowin/chatrelay/internal/store"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T, cfg Config, messages relay.MessageStore) *Hub {
	t.Helper()
	hub := NewHub(cfg, messages, nil, nil)
	go hub.Run(context.Background())
	t.Cleanup(func() {
		_ = hub.Shutdown(2 * time.Second)
	})
	return hub
}

// flush returns once the hub loop has finished every event queued before it.
// The barrier client is never registered, so the loop ignores it.
func flush(hub *Hub) {
	hub.submit(inbound{client: &Client{id: "flush"}})
}

func connect(t *testing.T, hub *Hub) *Client {
	t.Helper()
	client := NewClient(nil, hub, "test")
	require.NoError(t, hub.Register(client))
	flush(hub)
	return client
}

func joinAs(t *testing.T, hub *Hub, user relay.UserID) *Client {
	t.Helper()
	client := connect(t, hub)
	hub.submit(inbound{client: client, envelope: Envelope{Type: relay.EventJoin, UserID: user}})
	flush(hub)
	return client
}

func joinRoom(hub *Hub, client *Client, sender, receiver relay.UserID) {
	hub.submit(inbound{client: client, envelope: Envelope{
		Type: relay.EventJoinChat, SenderID: sender, ReceiverID: receiver,
	}})
	flush(hub)
}

func sendText(hub *Hub, client *Client, sender, receiver relay.UserID, text string) {
	hub.submit(inbound{client: client, envelope: Envelope{
		Type: relay.EventSendMessage, SenderID: sender, ReceiverID: receiver, Message: text,
	}})
	flush(hub)
}

// drain returns the frames queued for client without waiting.
func drain(client *Client) [][]byte {
	var frames [][]byte
	for {
		select {
		case frame, ok := <-client.send:
			if !ok {
				return frames
			}
			frames = append(frames, frame)
		default:
			return frames
		}
	}
}

// next waits for one frame queued for client.
func next(t *testing.T, client *Client) []byte {
	t.Helper()
	select {
	case frame, ok := <-client.send:
		require.True(t, ok, "send channel closed")
		return frame
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a frame")
		return nil
	}
}

func eventType(t *testing.T, frame []byte) relay.EventType {
	t.Helper()
	var head struct {
		Type relay.EventType `json:"type"`
	}
	require.NoError(t, json.Unmarshal(frame, &head))
	return head.Type
}

func onlineUsers(t *testing.T, frame []byte) []relay.UserID {
	t.Helper()
	var event relay.OnlineUsersEvent
	require.NoError(t, json.Unmarshal(frame, &event))
	require.Equal(t, relay.EventOnlineUsers, event.Type)
	return event.Users
}

func receivedText(t *testing.T, frame []byte) relay.Message {
	t.Helper()
	var event relay.ReceiveMessageEvent
	require.NoError(t, json.Unmarshal(frame, &event))
	require.Equal(t, relay.EventReceiveMessage, event.Type)
	return event.Message
}

func isClosed(client *Client) bool {
	drain(client)
	select {
	case _, ok := <-client.send:
		return !ok
	default:
		return false
	}
}

func TestHubJoinBroadcastsOnlineUsers(t *testing.T) {
	r := require.New(t)
	hub := startHub(t, *NewConfig(), nil)

	alice := joinAs(t, hub, "alice")
	frames := drain(alice)
	r.Len(frames, 1)
	r.Equal([]relay.UserID{"alice"}, onlineUsers(t, frames[0]))

	bob := joinAs(t, hub, "bob")
	for _, client := range []*Client{alice, bob} {
		frames := drain(client)
		r.Len(frames, 1)
		r.Equal([]relay.UserID{"alice", "bob"}, onlineUsers(t, frames[0]))
	}
}

func TestHubUnjoinedConnectionGetsNoPresence(t *testing.T) {
	r := require.New(t)
	hub := startHub(t, *NewConfig(), nil)

	lurker := connect(t, hub)
	joinAs(t, hub, "alice")

	r.Empty(drain(lurker))
}

func TestHubSecondTabIsToldWithoutBroadcast(t *testing.T) {
	r := require.New(t)
	hub := startHub(t, *NewConfig(), nil)

	first := joinAs(t, hub, "alice")
	bob := joinAs(t, hub, "bob")
	drain(first)
	drain(bob)

	second := joinAs(t, hub, "alice")

	frames := drain(second)
	r.Len(frames, 1)
	r.Equal([]relay.UserID{"alice", "bob"}, onlineUsers(t, frames[0]))
	r.Empty(drain(first))
	r.Empty(drain(bob))
}

func TestHubBroadcastsOnceWhenLastConnectionLeaves(t *testing.T) {
	r := require.New(t)
	hub := startHub(t, *NewConfig(), nil)

	c1 := joinAs(t, hub, "alice")
	c2 := joinAs(t, hub, "alice")
	c3 := joinAs(t, hub, "bob")
	drain(c1)
	drain(c2)
	drain(c3)

	hub.leave(c1)
	flush(hub)
	r.True(isClosed(c1))
	r.Empty(drain(c2))
	r.Empty(drain(c3))
	r.True(hub.Registry().IsOnline("alice"))

	hub.leave(c2)
	flush(hub)
	frames := drain(c3)
	r.Len(frames, 1)
	r.Equal([]relay.UserID{"bob"}, onlineUsers(t, frames[0]))
	r.False(hub.Registry().IsOnline("alice"))

	// A repeated leave is a no-op.
	hub.leave(c2)
	flush(hub)
	r.Empty(drain(c3))
}

func TestHubRoomDelivery(t *testing.T) {
	tests := []struct {
		name          string
		echo          bool
		aliceFirstTab int
	}{
		{name: "echo off", echo: false, aliceFirstTab: 0},
		{name: "echo on", echo: true, aliceFirstTab: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := require.New(t)
			cfg := *NewConfig()
			cfg.EchoToSender = tt.echo
			messages := store.NewMemory(0)
			hub := startHub(t, cfg, messages)

			c1 := joinAs(t, hub, "alice")
			c2 := joinAs(t, hub, "alice")
			c3 := joinAs(t, hub, "bob")
			joinRoom(hub, c1, "alice", "bob")
			joinRoom(hub, c3, "bob", "alice")
			drain(c1)
			drain(c2)
			drain(c3)

			sendText(hub, c1, "alice", "bob", "hi")

			r.Len(drain(c1), tt.aliceFirstTab)
			// c2 never joined the room.
			r.Empty(drain(c2))
			frames := drain(c3)
			r.Len(frames, 1)
			msg := receivedText(t, frames[0])
			r.Equal(relay.UserID("alice"), msg.SenderID)
			r.Equal(relay.UserID("bob"), msg.ReceiverID)
			r.Equal("hi", msg.Payload)
			r.NotEmpty(msg.ID)

			hub.Dispatcher().Wait()
			history, err := messages.FindMessages(context.Background(), "bob", "alice")
			r.NoError(err)
			r.Len(history, 1)
			r.Equal(msg.ID, history[0].ID)
		})
	}
}

func TestHubRejoinUnderNewUserLeavesOldRooms(t *testing.T) {
	r := require.New(t)
	hub := startHub(t, *NewConfig(), nil)

	c1 := joinAs(t, hub, "alice")
	c2 := joinAs(t, hub, "alice")
	c3 := joinAs(t, hub, "bob")
	joinRoom(hub, c1, "alice", "bob")
	joinRoom(hub, c2, "alice", "bob")
	joinRoom(hub, c3, "bob", "alice")

	hub.submit(inbound{client: c1, envelope: Envelope{Type: relay.EventJoin, UserID: "carol"}})
	flush(hub)
	r.Empty(hub.router.RoomsOf(c1.id))
	r.Equal([]relay.ConnID{c2.id}, hub.Registry().ConnectionsFor("alice"))
	drain(c1)
	drain(c2)
	drain(c3)

	sendText(hub, c3, "bob", "alice", "secret for alice")

	r.Empty(drain(c1))
	frames := drain(c2)
	r.Len(frames, 1)
	r.Equal("secret for alice", receivedText(t, frames[0]).Payload)
}

func TestHubDirectDeliveryReachesEveryReceiverTab(t *testing.T) {
	r := require.New(t)
	hub := startHub(t, *NewConfig(), nil)

	alice := joinAs(t, hub, "alice")
	bob1 := joinAs(t, hub, "bob")
	bob2 := joinAs(t, hub, "bob")
	drain(alice)
	drain(bob1)
	drain(bob2)

	sendText(hub, alice, "alice", "bob", "knock knock")

	r.Empty(drain(alice))
	for _, client := range []*Client{bob1, bob2} {
		frames := drain(client)
		r.Len(frames, 1)
		r.Equal("knock knock", receivedText(t, frames[0]).Payload)
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	r := require.New(t)
	cfg := *NewConfig()
	cfg.SendBufferSize = 2
	hub := startHub(t, cfg, nil)

	alice := joinAs(t, hub, "alice")
	bob := joinAs(t, hub, "bob")
	// alice now holds two presence frames and her buffer is full.
	drain(bob)

	sendText(hub, bob, "bob", "alice", "are you there?")

	r.True(isClosed(alice))
	r.False(hub.Registry().IsOnline("alice"))
	frames := drain(bob)
	r.Len(frames, 1)
	r.Equal([]relay.UserID{"bob"}, onlineUsers(t, frames[0]))
	r.Equal(float64(1), testutil.ToFloat64(hub.metrics.DroppedClients))
}

func TestHubInvalidFrameGetsErrorEvent(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		error string
	}{
		{name: "malformed json", raw: `{"type":`, error: "malformed frame"},
		{name: "unknown type", raw: `{"type":"dance"}`, error: "unknown event type"},
		{name: "missing user id", raw: `{"type":"join"}`, error: "invalid join frame: userId must be 1 to 128 bytes of UTF-8"},
		{name: "empty message", raw: `{"type":"send_message","senderId":"a","receiverId":"b"}`, error: "message is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := require.New(t)
			hub := startHub(t, *NewConfig(), nil)
			client := joinAs(t, hub, "alice")
			drain(client)

			r.False(client.processMessage([]byte(tt.raw)))

			frames := drain(client)
			r.Len(frames, 1)
			var event relay.ErrorEvent
			r.NoError(json.Unmarshal(frames[0], &event))
			r.Equal(relay.EventError, event.Type)
			r.Contains(event.Error, tt.error)
			r.Equal(float64(1), testutil.ToFloat64(hub.metrics.InvalidFrames))
		})
	}
}

func TestHubHistoryRepliesToRequester(t *testing.T) {
	r := require.New(t)
	messages := store.NewMemory(0)
	hub := startHub(t, *NewConfig(), messages)

	alice := joinAs(t, hub, "alice")
	bob := joinAs(t, hub, "bob")
	sendText(hub, alice, "alice", "bob", "one")
	sendText(hub, bob, "bob", "alice", "two")
	hub.Dispatcher().Wait()
	drain(alice)
	drain(bob)

	hub.submit(inbound{client: alice, envelope: Envelope{
		Type: relay.EventHistory, SenderID: "alice", ReceiverID: "bob",
	}})

	frame := next(t, alice)
	r.Equal(relay.EventHistory, eventType(t, frame))
	var event relay.HistoryEvent
	r.NoError(json.Unmarshal(frame, &event))
	r.Len(event.Messages, 2)
	r.Equal("one", event.Messages[0].Payload)
	r.Equal("two", event.Messages[1].Payload)
	r.Empty(drain(bob))
}

func TestHubShutdown(t *testing.T) {
	r := require.New(t)
	hub := NewHub(*NewConfig(), nil, nil, nil)
	go hub.Run(context.Background())

	alice := joinAs(t, hub, "alice")
	drain(alice)

	r.NoError(hub.Shutdown(2 * time.Second))
	r.True(isClosed(alice))
	r.Zero(hub.Registry().Len())
	r.ErrorIs(hub.Register(NewClient(nil, hub, "late")), ErrHubClosed)
	r.False(hub.submit(inbound{client: alice}))
}

func TestHubRunStopsWithContext(t *testing.T) {
	r := require.New(t)
	hub := NewHub(*NewConfig(), nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	alice := joinAs(t, hub, "alice")
	drain(alice)
	cancel()

	r.NoError(hub.Shutdown(2 * time.Second))
	r.True(isClosed(alice))
}
