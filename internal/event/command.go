package event

import (
	"encoding/json"
	"errors"
	"fmt"
)

// CommandType tags an inbound frame.
type CommandType string

const (
	CmdSendMessage CommandType = "send_message"
	CmdTyping      CommandType = "typing"
	CmdMarkRead    CommandType = "mark_read"
	CmdCallRequest CommandType = "call_request"
	CmdCallAnswer  CommandType = "call_answer"
	CmdCallCancel  CommandType = "call_cancel"
	CmdCallHangup  CommandType = "call_hangup"
	CmdCallSignal  CommandType = "call_signal"
)

// ErrUnknownCommand is returned by DecodeCommand for an unrecognized type tag.
var ErrUnknownCommand = errors.New("unknown command")

// Command is the closed set of frames a client may send.
type Command interface {
	Type() CommandType
	command()
}

// SendMessage routes a chat message to a chat or a direct peer.
type SendMessage struct {
	ChatID      string `json:"chat_id,omitempty"`
	PeerID      string `json:"peer_id,omitempty"`
	Body        string `json:"body"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
}

// Typing starts or stops the typing indicator.
type Typing struct {
	ChatID   string `json:"chat_id,omitempty"`
	PeerID   string `json:"peer_id,omitempty"`
	IsTyping bool   `json:"is_typing"`
}

// MarkRead marks everything unread in a chat as read.
type MarkRead struct {
	ChatID   string `json:"chat_id"`
	ChatKind string `json:"chat_kind"`
}

// CallRequest starts ringing the other participant of a direct chat.
type CallRequest struct {
	ChatID string `json:"chat_id"`
}

// CallAnswer accepts or declines a ringing call.
type CallAnswer struct {
	ChatID   string `json:"chat_id"`
	Response string `json:"response"`
}

// CallCancel withdraws a ringing call.
type CallCancel struct {
	ChatID string `json:"chat_id"`
}

// CallHangup ends a connected call.
type CallHangup struct {
	ChatID string `json:"chat_id"`
}

// CallSignalFrame relays SDP/ICE data to the other call participant.
type CallSignalFrame struct {
	ChatID string          `json:"chat_id"`
	Data   json.RawMessage `json:"data"`
}

func (SendMessage) Type() CommandType     { return CmdSendMessage }
func (Typing) Type() CommandType          { return CmdTyping }
func (MarkRead) Type() CommandType        { return CmdMarkRead }
func (CallRequest) Type() CommandType     { return CmdCallRequest }
func (CallAnswer) Type() CommandType      { return CmdCallAnswer }
func (CallCancel) Type() CommandType      { return CmdCallCancel }
func (CallHangup) Type() CommandType      { return CmdCallHangup }
func (CallSignalFrame) Type() CommandType { return CmdCallSignal }

func (SendMessage) command()     {}
func (Typing) command()          {}
func (MarkRead) command()        {}
func (CallRequest) command()     {}
func (CallAnswer) command()      {}
func (CallCancel) command()      {}
func (CallHangup) command()      {}
func (CallSignalFrame) command() {}

// DecodeCommand parses an inbound frame of the form {"type": ..., ...fields}.
// The returned type tag is set whenever the frame had one, even on error.
func DecodeCommand(data []byte) (CommandType, Command, error) {
	var head struct {
		Type CommandType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", nil, fmt.Errorf("decode frame: %w", err)
	}

	var cmd Command
	var err error
	switch head.Type {
	case CmdSendMessage:
		cmd, err = decodeInto[SendMessage](data)
	case CmdTyping:
		cmd, err = decodeInto[Typing](data)
	case CmdMarkRead:
		cmd, err = decodeInto[MarkRead](data)
	case CmdCallRequest:
		cmd, err = decodeInto[CallRequest](data)
	case CmdCallAnswer:
		cmd, err = decodeInto[CallAnswer](data)
	case CmdCallCancel:
		cmd, err = decodeInto[CallCancel](data)
	case CmdCallHangup:
		cmd, err = decodeInto[CallHangup](data)
	case CmdCallSignal:
		cmd, err = decodeInto[CallSignalFrame](data)
	default:
		return head.Type, nil, fmt.Errorf("%w %q", ErrUnknownCommand, head.Type)
	}
	if err != nil {
		return head.Type, nil, fmt.Errorf("decode %s: %w", head.Type, err)
	}
	return head.Type, cmd, nil
}

func decodeInto[T Command](data []byte) (Command, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
