package relay

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Delivery describes what a Dispatch call did.
type Delivery struct {
	Message Message
	Mode    DeliveryMode
	Targets []ConnID
	// Failed lists targets whose Sender refused the frame.
	Failed []ConnID
}

// DispatcherOption customises a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithEchoToSender controls whether the connection that sent a message also
// receives it. When false the sending client is expected to render its own
// message locally; when true it receives the same receive_message frame as
// every other target. Other connections of the sender are unaffected: they
// receive the message whenever they are room members.
func WithEchoToSender(echo bool) DispatcherOption {
	return func(d *Dispatcher) { d.echo = echo }
}

// WithClock overrides the time source used for message timestamps.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

// WithIDGenerator overrides the generator of message IDs.
func WithIDGenerator(newID func() string) DispatcherOption {
	return func(d *Dispatcher) { d.newID = newID }
}

// WithRecorder sets the activity recorder.
func WithRecorder(recorder Recorder) DispatcherOption {
	return func(d *Dispatcher) { d.recorder = recorder }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.log = log }
}

// Dispatcher persists sent messages and routes them to live connections.
// Persistence and delivery are independent: a failed or slow store never
// changes who receives a message, and delivery does not wait for the store.
type Dispatcher struct {
	registry *Registry
	router   *Router
	store    MessageStore
	sender   Sender

	echo     bool
	now      func() time.Time
	newID    func() string
	recorder Recorder
	log      *zap.Logger

	inflight sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. store may be nil, in which case messages
// are only delivered.
func NewDispatcher(registry *Registry, router *Router, store MessageStore, sender Sender, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		router:   router,
		store:    store,
		sender:   sender,
		now:      time.Now,
		newID:    uuid.NewString,
		recorder: nopRecorder{},
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch handles one send_message event coming from connection origin.
// origin may be empty when the message does not come from a connection.
func (d *Dispatcher) Dispatch(ctx context.Context, origin ConnID, sender, receiver UserID, payload string) Delivery {
	msg := Message{
		ID:         d.newID(),
		SenderID:   sender,
		ReceiverID: receiver,
		Payload:    payload,
		Timestamp:  d.now().UTC(),
	}
	d.persist(ctx, msg)

	mode, targets := d.route(origin, sender, receiver)
	delivery := Delivery{Message: msg, Mode: mode, Targets: targets}
	if len(targets) == 0 {
		d.log.Debug("Message not delivered live",
			zap.String("id", msg.ID),
			zap.String("sender", string(sender)),
			zap.String("receiver", string(receiver)))
		d.recorder.MessageDispatched(mode, 0)
		return delivery
	}

	frame, err := EncodeReceiveMessage(msg)
	if err != nil {
		d.log.Error("Encoding message failed", zap.String("id", msg.ID), zap.Error(err))
		delivery.Failed = targets
		return delivery
	}
	for _, conn := range targets {
		if !d.sender.Send(conn, frame) {
			delivery.Failed = append(delivery.Failed, conn)
		}
	}

	d.recorder.MessageDispatched(mode, len(targets))
	d.log.Debug("Dispatched message",
		zap.String("id", msg.ID),
		zap.String("mode", string(mode)),
		zap.Int("targets", len(targets)),
		zap.Int("failed", len(delivery.Failed)))
	return delivery
}

// History returns the stored conversation between a and b, oldest first.
func (d *Dispatcher) History(ctx context.Context, a, b UserID) ([]Message, error) {
	if d.store == nil {
		return nil, nil
	}
	return d.store.FindMessages(ctx, a, b)
}

// Wait blocks until every persistence call issued so far has returned.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

// persist saves msg on its own goroutine. The save outlives ctx cancellation:
// a connection closing mid-dispatch does not abort durability.
func (d *Dispatcher) persist(ctx context.Context, msg Message) {
	if d.store == nil {
		return
	}
	saveCtx := context.WithoutCancel(ctx)

	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		if err := d.store.SaveMessage(saveCtx, msg); err != nil {
			d.recorder.PersistFailed()
			d.log.Error("Persisting message failed",
				zap.String("id", msg.ID),
				zap.String("sender", string(msg.SenderID)),
				zap.String("receiver", string(msg.ReceiverID)),
				zap.Error(err))
		}
	}()
}

// route picks the delivery targets. The pair's room is used once both users
// have a connection joined to it; until then the receiver's connections are
// addressed directly.
func (d *Dispatcher) route(origin ConnID, sender, receiver UserID) (DeliveryMode, []ConnID) {
	mode := ModeDirect
	targets := d.registry.ConnectionsFor(receiver)

	members := d.router.MembersOf(Key(sender, receiver))
	if d.hasMember(members, sender) && d.hasMember(members, receiver) {
		mode = ModeRoom
		targets = members
	}

	if origin != "" {
		if d.echo {
			targets = append(targets, origin)
		} else {
			targets = lo.Without(targets, origin)
		}
	}
	targets = lo.Uniq(targets)
	slices.Sort(targets)
	return mode, targets
}

func (d *Dispatcher) hasMember(members []ConnID, user UserID) bool {
	return lo.ContainsBy(members, func(conn ConnID) bool {
		owner, ok := d.registry.UserOf(conn)
		return ok && owner == user
	})
}
