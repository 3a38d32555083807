package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/Tyrowin/chatrelay/internal/relay"
	"github.com/go-playground/validator/v10"
)

// ErrHubClosed is returned when a client is handed to a hub that has shut down.
var ErrHubClosed = errors.New("server: hub closed")

// Envelope is an inbound frame. Which fields are required depends on Type.
type Envelope struct {
	Type       relay.EventType `json:"type"`
	UserID     relay.UserID    `json:"userId,omitempty"`
	SenderID   relay.UserID    `json:"senderId,omitempty"`
	ReceiverID relay.UserID    `json:"receiverId,omitempty"`
	Message    string          `json:"message,omitempty"`
}

type joinFrame struct {
	UserID relay.UserID `json:"userId" validate:"userid"`
}

type pairFrame struct {
	SenderID   relay.UserID `json:"senderId" validate:"userid"`
	ReceiverID relay.UserID `json:"receiverId" validate:"userid"`
}

type sendFrame struct {
	SenderID   relay.UserID `json:"senderId" validate:"userid"`
	ReceiverID relay.UserID `json:"receiverId" validate:"userid"`
	Message    string       `json:"message" validate:"required"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	})
	_ = v.RegisterValidation("userid", func(fl validator.FieldLevel) bool {
		return relay.UserID(fl.Field().String()).Validate() == nil
	})
	return v
}

var frameValidator = newValidator()

// decodeEnvelope parses and validates one inbound frame.
func decodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("malformed frame: %w", err)
	}

	var err error
	switch env.Type {
	case relay.EventJoin:
		err = frameValidator.Struct(joinFrame{UserID: env.UserID})
	case relay.EventJoinChat, relay.EventHistory:
		err = frameValidator.Struct(pairFrame{SenderID: env.SenderID, ReceiverID: env.ReceiverID})
	case relay.EventSendMessage:
		err = frameValidator.Struct(sendFrame{SenderID: env.SenderID, ReceiverID: env.ReceiverID, Message: env.Message})
	default:
		return Envelope{}, fmt.Errorf("%w: %q", relay.ErrUnknownEvent, env.Type)
	}
	if err != nil {
		return Envelope{}, fmt.Errorf("invalid %s frame: %s", env.Type, describeValidation(err))
	}
	return env, nil
}

// describeValidation turns validator errors into a short client-facing text.
func describeValidation(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "userid":
			parts = append(parts, fmt.Sprintf("%s must be 1 to %d bytes of UTF-8", fe.Field(), relay.MaxUserIDLength))
		default:
			parts = append(parts, fmt.Sprintf("%s is %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, ", ")
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
