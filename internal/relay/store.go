//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../mocks/mock_message_store.go -package=mocks
package relay

import "context"

// MessageStore persists messages outside the relay. FindMessages returns the
// conversation between a and b in either direction, oldest first.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg Message) error
	FindMessages(ctx context.Context, a, b UserID) ([]Message, error)
}
