package relay_test

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/Tyrowin/chatrelay/internal/relay"
	"github.com/stretchr/testify/require"
)

// recordingSender keeps every frame handed to each connection.
type recordingSender struct {
	mu     sync.Mutex
	frames map[relay.ConnID][][]byte
	refuse map[relay.ConnID]bool
}

func newRecordingSender() *recordingSender {
	return &recordingSender{
		frames: make(map[relay.ConnID][][]byte),
		refuse: make(map[relay.ConnID]bool),
	}
}

func (s *recordingSender) Send(conn relay.ConnID, frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refuse[conn] {
		return false
	}
	s.frames[conn] = append(s.frames[conn], frame)
	return true
}

func (s *recordingSender) refuseFrom(conn relay.ConnID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refuse[conn] = true
}

func (s *recordingSender) count(conn relay.ConnID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames[conn])
}

func (s *recordingSender) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, frames := range s.frames {
		n += len(frames)
	}
	return n
}

func (s *recordingSender) received(t *testing.T, conn relay.ConnID) []relay.ReceiveMessageEvent {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	var events []relay.ReceiveMessageEvent
	for _, frame := range s.frames[conn] {
		var event relay.ReceiveMessageEvent
		require.NoError(t, json.Unmarshal(frame, &event))
		if event.Type == relay.EventReceiveMessage {
			events = append(events, event)
		}
	}
	return events
}

func (s *recordingSender) lastOnline(t *testing.T, conn relay.ConnID) []relay.UserID {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	frames := s.frames[conn]
	require.NotEmpty(t, frames, "no frame sent to %s", conn)
	var event relay.OnlineUsersEvent
	require.NoError(t, json.Unmarshal(frames[len(frames)-1], &event))
	require.Equal(t, relay.EventOnlineUsers, event.Type)
	return event.Users
}

// countingRecorder counts relay activity.
type countingRecorder struct {
	mu             sync.Mutex
	broadcasts     int
	dispatched     map[relay.DeliveryMode]int
	persistFailure int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{dispatched: make(map[relay.DeliveryMode]int)}
}

func (r *countingRecorder) PresenceBroadcast(int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcasts++
}

func (r *countingRecorder) MessageDispatched(mode relay.DeliveryMode, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatched[mode]++
}

func (r *countingRecorder) PersistFailed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.persistFailure++
}

func (r *countingRecorder) failures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.persistFailure
}
