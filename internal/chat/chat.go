// Package chat holds the collaborator contracts and error taxonomy shared by
// the delivery components.
package chat

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// Kind distinguishes 1:1 chats from groups.
type Kind string

const (
	KindDirect Kind = "direct"
	KindGroup  Kind = "group"
)

// ParseKind validates a kind received from a client.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindDirect, KindGroup:
		return Kind(s), nil
	}
	return "", fmt.Errorf("%w: unknown chat kind %q", ErrInvalidDestination, s)
}

// Directory resolves chat membership. Existence of users is its concern,
// not the registry's.
type Directory interface {
	MembersOf(ctx context.Context, chatID string) ([]string, error)
	IsMember(ctx context.Context, chatID, userID string) (bool, error)
	KindOf(ctx context.Context, chatID string) (Kind, error)
	// DirectChat returns the id of the 1:1 chat between a and b, creating it if needed.
	DirectChat(ctx context.Context, a, b string) (string, error)
	// DirectPeers returns every user sharing a direct chat with userID.
	DirectPeers(ctx context.Context, userID string) ([]string, error)
}

// Persisted is what the store assigns to an accepted message.
type Persisted struct {
	MessageID string
	Seq       int64
	CreatedAt time.Time
}

// ReadMessage is one message flipped from unread to read.
type ReadMessage struct {
	MessageID string
	SenderID  string
}

// Persistence stores messages and read state.
type Persistence interface {
	PersistMessage(ctx context.Context, chatID, senderID, body string) (Persisted, error)
	// MarkRead flips every message in chatID not sent by readerID to read for
	// readerID and returns only the ones that changed.
	MarkRead(ctx context.Context, chatID, readerID string) ([]ReadMessage, error)
}

// Destination addresses a chat directly or a peer through the direct chat
// shared with the sender. Exactly one field must be set.
type Destination struct {
	ChatID string
	PeerID string
}

func (d Destination) String() string {
	if d.PeerID != "" {
		return "peer:" + d.PeerID
	}
	return "chat:" + d.ChatID
}

// Resolved is a destination turned into a chat id and its member set.
type Resolved struct {
	ChatID  string
	Members []string
}

// Resolve maps a destination onto a chat and its members, failing with
// ErrNotAMember when the sender cannot access it.
func Resolve(ctx context.Context, dir Directory, senderID string, dest Destination) (Resolved, error) {
	switch {
	case dest.ChatID != "" && dest.PeerID != "":
		return Resolved{}, fmt.Errorf("%w: both chat and peer set", ErrInvalidDestination)
	case dest.PeerID != "":
		if dest.PeerID == senderID {
			return Resolved{}, fmt.Errorf("%w: cannot address yourself", ErrInvalidDestination)
		}
		chatID, err := dir.DirectChat(ctx, senderID, dest.PeerID)
		if err != nil {
			return Resolved{}, fmt.Errorf("resolve direct chat: %w", err)
		}
		return Resolved{ChatID: chatID, Members: []string{senderID, dest.PeerID}}, nil
	case dest.ChatID != "":
		members, err := dir.MembersOf(ctx, dest.ChatID)
		if err != nil {
			return Resolved{}, fmt.Errorf("resolve members of %s: %w", dest.ChatID, err)
		}
		if !slices.Contains(members, senderID) {
			return Resolved{}, fmt.Errorf("%w: %s", ErrNotAMember, dest.ChatID)
		}
		return Resolved{ChatID: dest.ChatID, Members: members}, nil
	default:
		return Resolved{}, fmt.Errorf("%w: empty destination", ErrInvalidDestination)
	}
}

// Others returns members without userID, preserving order.
func (r Resolved) Others(userID string) []string {
	out := make([]string, 0, len(r.Members))
	for _, m := range r.Members {
		if m != userID {
			out = append(out, m)
		}
	}
	return out
}
