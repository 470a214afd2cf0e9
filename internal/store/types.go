package store

import (
	"time"

	"github.com/matheus3301/parley/internal/chat"
)

// Chat is a stored conversation.
type Chat struct {
	ID        string
	Kind      chat.Kind
	Name      string
	CreatedAt time.Time
}

// Message is a stored message in delivery order.
type Message struct {
	Seq       int64
	ID        string
	ChatID    string
	SenderID  string
	Body      string
	CreatedAt time.Time
}

// Counts summarizes table sizes for operator stats.
type Counts struct {
	Chats    int64
	Messages int64
}
