// Package typing relays ephemeral typing indicators.
package typing

import (
	"context"

	"github.com/matheus3301/parley/internal/chat"
	"github.com/matheus3301/parley/internal/event"
	"github.com/matheus3301/parley/internal/registry"
	"go.uber.org/zap"
)

// Relay delivers typing updates at most once, best effort.
type Relay struct {
	dir    chat.Directory
	reg    *registry.Registry
	logger *zap.Logger
}

// NewRelay creates a typing relay.
func NewRelay(dir chat.Directory, reg *registry.Registry, logger *zap.Logger) *Relay {
	return &Relay{dir: dir, reg: reg, logger: logger}
}

// Relay sends a typing update to every destination member except the sender.
// Resolution and delivery failures are logged and dropped.
func (r *Relay) Relay(ctx context.Context, senderID string, dest chat.Destination, isTyping bool) {
	res, err := chat.Resolve(ctx, r.dir, senderID, dest)
	if err != nil {
		r.logger.Debug("typing update dropped",
			zap.String("sender", senderID), zap.Stringer("destination", dest), zap.Error(err))
		return
	}
	env := event.New(res.ChatID, senderID, event.TypingUpdate{UserID: senderID, Typing: isTyping})
	r.reg.SendAll(res.Others(senderID), env)
}
