package relay

import "encoding/json"

// EventType names a frame of the real-time protocol.
type EventType string

// Inbound events.
const (
	EventJoin        EventType = "join"
	EventJoinChat    EventType = "join_chat"
	EventSendMessage EventType = "send_message"
	EventHistory     EventType = "history"
)

// Outbound events.
const (
	EventOnlineUsers    EventType = "online_users"
	EventReceiveMessage EventType = "receive_message"
	EventError          EventType = "error"
)

// OnlineUsersEvent carries the full set of online users, never a delta.
type OnlineUsersEvent struct {
	Type  EventType `json:"type"`
	Users []UserID  `json:"users"`
}

// ReceiveMessageEvent delivers one message to a connection.
type ReceiveMessageEvent struct {
	Type    EventType `json:"type"`
	Message Message   `json:"message"`
}

// HistoryEvent answers a history request with the stored conversation.
type HistoryEvent struct {
	Type     EventType `json:"type"`
	Messages []Message `json:"messages"`
}

// ErrorEvent reports a rejected frame to the connection that sent it.
type ErrorEvent struct {
	Type  EventType `json:"type"`
	Error string    `json:"error"`
}

// EncodeOnlineUsers builds an online_users frame. A nil slice is sent as [].
func EncodeOnlineUsers(users []UserID) ([]byte, error) {
	if users == nil {
		users = []UserID{}
	}
	return json.Marshal(OnlineUsersEvent{Type: EventOnlineUsers, Users: users})
}

// EncodeReceiveMessage builds a receive_message frame.
func EncodeReceiveMessage(msg Message) ([]byte, error) {
	return json.Marshal(ReceiveMessageEvent{Type: EventReceiveMessage, Message: msg})
}

// EncodeHistory builds a history frame.
func EncodeHistory(messages []Message) ([]byte, error) {
	if messages == nil {
		messages = []Message{}
	}
	return json.Marshal(HistoryEvent{Type: EventHistory, Messages: messages})
}

// EncodeError builds an error frame.
func EncodeError(reason string) ([]byte, error) {
	return json.Marshal(ErrorEvent{Type: EventError, Error: reason})
}
