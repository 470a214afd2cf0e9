package gateway

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/matheus3301/parley/internal/event"
	"github.com/matheus3301/parley/internal/registry"
)

// ErrBufferFull is returned by Send when the outbound queue is saturated.
var ErrBufferFull = errors.New("send buffer full")

// conn is one WebSocket client. Only writePump writes to ws.
type conn struct {
	id        string
	userID    string
	createdAt time.Time
	ws        *websocket.Conn
	cfg       Config

	send      chan event.Envelope
	done      chan struct{}
	closeOnce sync.Once

	releaseOnce sync.Once
}

var _ registry.Session = (*conn)(nil)

func newConn(ws *websocket.Conn, userID string, cfg Config) *conn {
	return &conn{
		id:        uuid.NewString(),
		userID:    userID,
		createdAt: time.Now(),
		ws:        ws,
		cfg:       cfg,
		send:      make(chan event.Envelope, cfg.SendBuffer),
		done:      make(chan struct{}),
	}
}

func (c *conn) ID() string           { return c.id }
func (c *conn) UserID() string       { return c.userID }
func (c *conn) CreatedAt() time.Time { return c.createdAt }

// Send enqueues env for the writer. It never blocks: a full queue drops the
// envelope and reports failure so the caller evicts the session.
func (c *conn) Send(env event.Envelope) error {
	select {
	case <-c.done:
		return registry.ErrSessionClosed
	default:
	}
	select {
	case c.send <- env:
		return nil
	default:
		return ErrBufferFull
	}
}

// Close stops the writer, which closes the socket and unblocks the reader.
func (c *conn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *conn) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case env := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.ws.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteWait)); err != nil {
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.cfg.WriteWait))
			return
		}
	}
}

// readPump hands every text frame to handle until the socket fails or the
// read deadline passes without a pong.
func (c *conn) readPump(handle func([]byte)) error {
	c.ws.SetReadLimit(c.cfg.MaxFrameBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		if mt != websocket.TextMessage {
			continue
		}
		handle(data)
	}
}
