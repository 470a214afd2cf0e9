package gateway

import (
	"context"
	"errors"

	"github.com/matheus3301/parley/internal/call"
	"github.com/matheus3301/parley/internal/chat"
	"github.com/matheus3301/parley/internal/event"
	"github.com/matheus3301/parley/internal/router"
	"go.uber.org/zap"
)

// dispatch decodes one inbound frame and runs it. Failures are reported to
// the originating connection only.
func (s *Server) dispatch(ctx context.Context, c *conn, data []byte) {
	typ, cmd, err := event.DecodeCommand(data)
	if err != nil {
		code := "bad_frame"
		if errors.Is(err, event.ErrUnknownCommand) {
			code = "unknown_command"
		}
		s.reply(c, "", event.Error{Code: code, Message: err.Error(), Command: string(typ)})
		return
	}

	var chatID string
	switch cmd := cmd.(type) {
	case event.SendMessage:
		chatID = cmd.ChatID
		_, err = s.svc.Router.RouteMessage(ctx, c.userID,
			chat.Destination{ChatID: cmd.ChatID, PeerID: cmd.PeerID}, cmd.Body,
			router.WithClientMsgID(cmd.ClientMsgID))
	case event.Typing:
		s.svc.Typing.Relay(ctx, c.userID, chat.Destination{ChatID: cmd.ChatID, PeerID: cmd.PeerID}, cmd.IsTyping)
	case event.MarkRead:
		chatID = cmd.ChatID
		var kind chat.Kind
		if kind, err = chat.ParseKind(cmd.ChatKind); err == nil {
			_, err = s.svc.Receipts.MarkRead(ctx, c.userID, cmd.ChatID, kind)
		}
	case event.CallRequest:
		chatID = cmd.ChatID
		err = s.svc.Calls.RequestCall(ctx, cmd.ChatID, c.userID)
	case event.CallAnswer:
		chatID = cmd.ChatID
		var resp call.Response
		if resp, err = call.ParseResponse(cmd.Response); err == nil {
			err = s.svc.Calls.AnswerCall(ctx, cmd.ChatID, c.userID, resp)
		}
	case event.CallCancel:
		s.svc.Calls.CancelCall(ctx, cmd.ChatID, c.userID)
	case event.CallHangup:
		chatID = cmd.ChatID
		err = s.svc.Calls.Hangup(ctx, cmd.ChatID, c.userID)
	case event.CallSignalFrame:
		chatID = cmd.ChatID
		err = s.svc.Calls.Signal(ctx, cmd.ChatID, c.userID, cmd.Data)
	}
	if err == nil {
		return
	}

	code := chat.Code(err)
	if code == "internal" {
		s.logger.Error("command failed", zap.String("user", c.userID), zap.String("command", string(typ)), zap.Error(err))
	}
	s.reply(c, chatID, event.Error{Code: code, Message: err.Error(), Command: string(typ)})
}

func (s *Server) reply(c *conn, chatID string, e event.Error) {
	if err := c.Send(event.New(chatID, "", e)); err != nil {
		s.svc.Registry.Evict(c)
	}
}
