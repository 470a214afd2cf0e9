// Package router persists chat messages and fans them out to live sessions.
package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/parley/internal/bus"
	"github.com/matheus3301/parley/internal/chat"
	"github.com/matheus3301/parley/internal/event"
	"github.com/matheus3301/parley/internal/keyed"
	"github.com/matheus3301/parley/internal/registry"
	"go.uber.org/zap"
)

// RoutedMessage describes a persisted and fanned-out message.
type RoutedMessage struct {
	MessageID   string
	Seq         int64
	ChatID      string
	SenderID    string
	Body        string
	Timestamp   time.Time
	ClientMsgID string
	// Delivered counts sessions that accepted the payload, sender echo included.
	Delivered int
}

// Router routes chat messages.
type Router struct {
	dir    chat.Directory
	store  chat.Persistence
	reg    *registry.Registry
	bus    *bus.Bus
	logger *zap.Logger
	chats  *keyed.Mutex
}

// New creates a message router.
func New(dir chat.Directory, store chat.Persistence, reg *registry.Registry, b *bus.Bus, logger *zap.Logger) *Router {
	return &Router{
		dir:    dir,
		store:  store,
		reg:    reg,
		bus:    b,
		logger: logger,
		chats:  keyed.New(0),
	}
}

// RouteOption customizes a single RouteMessage call.
type RouteOption func(*RoutedMessage)

// WithClientMsgID echoes the client's correlation id in the fan-out.
func WithClientMsgID(id string) RouteOption {
	return func(m *RoutedMessage) { m.ClientMsgID = id }
}

// RouteMessage persists body in the destination chat and delivers it to every
// member, the sender's own sessions included. Nothing is delivered unless the
// message was persisted. Per-recipient delivery failures are not returned.
func (r *Router) RouteMessage(ctx context.Context, senderID string, dest chat.Destination, body string, opts ...RouteOption) (RoutedMessage, error) {
	if strings.TrimSpace(body) == "" {
		return RoutedMessage{}, chat.ErrEmptyBody
	}
	res, err := chat.Resolve(ctx, r.dir, senderID, dest)
	if err != nil {
		return RoutedMessage{}, err
	}

	msg := RoutedMessage{ChatID: res.ChatID, SenderID: senderID, Body: body}
	for _, opt := range opts {
		opt(&msg)
	}

	// Persist and enqueue under the chat lock so fan-out order matches
	// persistence order within a chat.
	unlock := r.chats.Lock(res.ChatID)
	defer unlock()

	stored, err := r.store.PersistMessage(ctx, res.ChatID, senderID, body)
	if err != nil {
		r.logger.Error("persist message failed",
			zap.String("chat", res.ChatID), zap.String("sender", senderID), zap.Error(err))
		return RoutedMessage{}, fmt.Errorf("%w: %w", chat.ErrPersistenceFailed, err)
	}
	msg.MessageID = stored.MessageID
	msg.Seq = stored.Seq
	msg.Timestamp = stored.CreatedAt

	env := event.New(res.ChatID, senderID, event.NewMessage{
		MessageID:   stored.MessageID,
		Seq:         stored.Seq,
		SenderID:    senderID,
		Body:        body,
		SentAt:      stored.CreatedAt,
		ClientMsgID: msg.ClientMsgID,
	})

	msg.Delivered = r.reg.Send(senderID, env)
	for _, member := range res.Others(senderID) {
		msg.Delivered += r.reg.Send(member, env)
	}

	r.logger.Debug("message routed",
		zap.String("chat", res.ChatID),
		zap.String("message", msg.MessageID),
		zap.Int("delivered", msg.Delivered))
	r.bus.Emit(bus.KindMessageRouted, msg)
	return msg, nil
}
