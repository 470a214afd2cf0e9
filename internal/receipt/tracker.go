// Package receipt records read state and relays receipts to original senders.
package receipt

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/parley/internal/bus"
	"github.com/matheus3301/parley/internal/chat"
	"github.com/matheus3301/parley/internal/event"
	"github.com/matheus3301/parley/internal/registry"
	"go.uber.org/zap"
)

// Sent summarizes the receipts relayed by one MarkRead call.
type Sent struct {
	ChatID   string
	ReaderID string
	Senders  int
	Messages int
}

// Tracker implements read receipts.
type Tracker struct {
	dir    chat.Directory
	store  chat.Persistence
	reg    *registry.Registry
	bus    *bus.Bus
	logger *zap.Logger
	now    func() time.Time
}

// NewTracker creates a read-receipt tracker.
func NewTracker(dir chat.Directory, store chat.Persistence, reg *registry.Registry, b *bus.Bus, logger *zap.Logger) *Tracker {
	return &Tracker{dir: dir, store: store, reg: reg, bus: b, logger: logger, now: time.Now}
}

// MarkRead flips every unread message in chatID not sent by readerID to read
// and sends one receipt per original sender. It returns the affected message
// ids; a second call with nothing new returns none and sends nothing.
func (t *Tracker) MarkRead(ctx context.Context, readerID, chatID string, kind chat.Kind) ([]string, error) {
	actual, err := t.dir.KindOf(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if actual != kind {
		return nil, fmt.Errorf("%w: chat %s is %s, not %s", chat.ErrInvalidDestination, chatID, actual, kind)
	}
	ok, err := t.dir.IsMember(ctx, chatID, readerID)
	if err != nil {
		return nil, fmt.Errorf("check membership: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", chat.ErrNotAMember, chatID)
	}

	read, err := t.store.MarkRead(ctx, chatID, readerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", chat.ErrPersistenceFailed, err)
	}
	if len(read) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(read))
	bySender := make(map[string][]string)
	var order []string
	for _, m := range read {
		ids = append(ids, m.MessageID)
		if _, seen := bySender[m.SenderID]; !seen {
			order = append(order, m.SenderID)
		}
		bySender[m.SenderID] = append(bySender[m.SenderID], m.MessageID)
	}

	readAt := t.now().UTC()
	for _, sender := range order {
		env := event.New(chatID, readerID, event.ReadReceipt{
			MessageIDs: bySender[sender],
			ReaderID:   readerID,
			ReadAt:     readAt,
		})
		if n := t.reg.Send(sender, env); n == 0 {
			t.logger.Debug("receipt not delivered, sender offline",
				zap.String("chat", chatID), zap.String("sender", sender))
		}
	}

	t.bus.Emit(bus.KindReceiptsSent, Sent{ChatID: chatID, ReaderID: readerID, Senders: len(order), Messages: len(ids)})
	return ids, nil
}
