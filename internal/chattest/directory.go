package chattest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/parley/internal/chat"
)

// ErrPersistDown is returned by PersistMessage when persistence is failing.
var ErrPersistDown = errors.New("store unavailable")

type memChat struct {
	kind    chat.Kind
	members []string
}

type memMessage struct {
	id     string
	chatID string
	sender string
	readBy map[string]bool
}

// Directory is an in-memory chat.Directory and chat.Persistence.
type Directory struct {
	mu       sync.Mutex
	chats    map[string]*memChat
	messages []*memMessage
	failing  bool
	seq      int64
}

var (
	_ chat.Directory   = (*Directory)(nil)
	_ chat.Persistence = (*Directory)(nil)
)

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{chats: make(map[string]*memChat)}
}

// AddDirect creates a direct chat with a fixed id.
func (d *Directory) AddDirect(chatID, a, b string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.chats[chatID] = &memChat{kind: chat.KindDirect, members: []string{a, b}}
}

// AddGroup creates a group chat with a fixed id.
func (d *Directory) AddGroup(chatID string, members ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.chats[chatID] = &memChat{kind: chat.KindGroup, members: slices.Clone(members)}
}

// FailPersistence toggles PersistMessage failures.
func (d *Directory) FailPersistence(fail bool) {
	d.mu.Lock()
	d.failing = fail
	d.mu.Unlock()
}

// MessageCount returns how many messages were persisted.
func (d *Directory) MessageCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.messages)
}

func (d *Directory) MembersOf(_ context.Context, chatID string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.chats[chatID]
	if !ok {
		return nil, nil
	}
	return slices.Clone(c.members), nil
}

func (d *Directory) IsMember(_ context.Context, chatID, userID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.chats[chatID]
	return ok && slices.Contains(c.members, userID), nil
}

func (d *Directory) KindOf(_ context.Context, chatID string) (chat.Kind, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.chats[chatID]
	if !ok {
		return "", fmt.Errorf("%w: %s", chat.ErrChatNotFound, chatID)
	}
	return c.kind, nil
}

func (d *Directory) DirectChat(_ context.Context, a, b string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, c := range d.chats {
		if c.kind == chat.KindDirect && slices.Contains(c.members, a) && slices.Contains(c.members, b) {
			return id, nil
		}
	}
	pair := []string{a, b}
	sort.Strings(pair)
	id := "direct:" + pair[0] + ":" + pair[1]
	d.chats[id] = &memChat{kind: chat.KindDirect, members: []string{a, b}}
	return id, nil
}

func (d *Directory) DirectPeers(_ context.Context, userID string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var peers []string
	for _, c := range d.chats {
		if c.kind != chat.KindDirect || !slices.Contains(c.members, userID) {
			continue
		}
		for _, m := range c.members {
			if m != userID && !slices.Contains(peers, m) {
				peers = append(peers, m)
			}
		}
	}
	sort.Strings(peers)
	return peers, nil
}

func (d *Directory) PersistMessage(_ context.Context, chatID, senderID, _ string) (chat.Persisted, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failing {
		return chat.Persisted{}, ErrPersistDown
	}
	d.seq++
	m := &memMessage{id: uuid.NewString(), chatID: chatID, sender: senderID, readBy: map[string]bool{}}
	d.messages = append(d.messages, m)
	return chat.Persisted{MessageID: m.id, Seq: d.seq, CreatedAt: time.Now().UTC()}, nil
}

func (d *Directory) MarkRead(_ context.Context, chatID, readerID string) ([]chat.ReadMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []chat.ReadMessage
	for _, m := range d.messages {
		if m.chatID != chatID || m.sender == readerID || m.readBy[readerID] {
			continue
		}
		m.readBy[readerID] = true
		out = append(out, chat.ReadMessage{MessageID: m.id, SenderID: m.sender})
	}
	return out, nil
}
