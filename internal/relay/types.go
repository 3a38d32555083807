// Package relay is the connection, presence and routing core of the chat relay.
//
// It tracks which users hold live connections (Registry), tells every joined
// connection who is online (Broadcaster), derives the shared channel for a pair
// of users (Router) and decides which connections receive a sent message
// (Dispatcher). Nothing in this package performs network I/O; frames are handed
// to a Sender supplied by the transport layer.
package relay

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// UserID is the client-supplied logical identity. It is not verified here.
type UserID string

// MaxUserIDLength is the longest accepted UserID, in bytes.
const MaxUserIDLength = 128

// ErrInvalidUserID is returned by UserID.Validate.
var ErrInvalidUserID = errors.New("relay: invalid user id")

// Validate checks that u is non-empty valid UTF-8 of at most MaxUserIDLength bytes.
func (u UserID) Validate() error {
	switch {
	case u == "":
		return fmt.Errorf("%w: empty", ErrInvalidUserID)
	case len(u) > MaxUserIDLength:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidUserID, MaxUserIDLength)
	case !utf8.ValidString(string(u)):
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidUserID)
	}
	return nil
}

// ConnID identifies one live transport connection for its whole lifetime.
type ConnID string

// RoomKey identifies the two-party channel shared by an unordered pair of users.
type RoomKey string

// Message is a direct message between two users. ID and Timestamp are assigned
// once by the Dispatcher and never change afterwards.
type Message struct {
	ID         string    `json:"id"`
	SenderID   UserID    `json:"senderId"`
	ReceiverID UserID    `json:"receiverId"`
	Payload    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// ErrUnknownEvent is returned for inbound frames whose type is not part of the protocol.
var ErrUnknownEvent = errors.New("relay: unknown event type")

// Sender hands an encoded frame to one live connection. It reports false when
// the connection is gone or cannot accept more frames.
type Sender interface {
	Send(conn ConnID, frame []byte) bool
}

// DeliveryMode tells how the Dispatcher picked the targets of a message.
type DeliveryMode string

const (
	// ModeRoom delivers to every connection joined to the pair's room.
	ModeRoom DeliveryMode = "room"
	// ModeDirect delivers to the receiver's live connections.
	ModeDirect DeliveryMode = "direct"
)

// Recorder receives counts of relay activity.
type Recorder interface {
	PresenceBroadcast(recipients int)
	MessageDispatched(mode DeliveryMode, targets int)
	PersistFailed()
}

type nopRecorder struct{}

func (nopRecorder) PresenceBroadcast(int) {}
func (nopRecorder) MessageDispatched(DeliveryMode, int) {}
func (nopRecorder) PersistFailed() {}
