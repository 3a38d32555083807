package relay

import (
	"slices"

	"go.uber.org/zap"
)

// Broadcaster tells connections which users are online. It always sends the
// whole set, so a connection that missed an update converges on the next one.
type Broadcaster struct {
	registry *Registry
	sender   Sender
	recorder Recorder
	log      *zap.Logger
}

// NewBroadcaster creates a Broadcaster reading from registry and writing
// through sender. A nil recorder or logger is replaced by a no-op.
func NewBroadcaster(registry *Registry, sender Sender, recorder Recorder, log *zap.Logger) *Broadcaster {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Broadcaster{
		registry: registry,
		sender:   sender,
		recorder: recorder,
		log:      log,
	}
}

// NotifyAll sends the current online set to every joined connection and
// returns the connections that refused the frame.
func (b *Broadcaster) NotifyAll() []ConnID {
	users := slices.Collect(b.registry.OnlineUsers())
	frame, err := EncodeOnlineUsers(users)
	if err != nil {
		b.log.Error("Encoding presence snapshot failed", zap.Error(err))
		return nil
	}

	targets := b.registry.Connections()
	var refused []ConnID
	for _, conn := range targets {
		if !b.sender.Send(conn, frame) {
			refused = append(refused, conn)
		}
	}

	b.recorder.PresenceBroadcast(len(targets))
	b.log.Debug("Broadcast online users",
		zap.Int("users", len(users)),
		zap.Int("recipients", len(targets)),
		zap.Int("refused", len(refused)))
	return refused
}

// NotifyOne sends the current online set to a single connection. It is used
// when a connection joins without changing who is online.
func (b *Broadcaster) NotifyOne(conn ConnID) bool {
	frame, err := EncodeOnlineUsers(slices.Collect(b.registry.OnlineUsers()))
	if err != nil {
		b.log.Error("Encoding presence snapshot failed", zap.Error(err))
		return false
	}
	return b.sender.Send(conn, frame)
}
