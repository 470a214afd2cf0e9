package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/parley/internal/bus"
	"github.com/matheus3301/parley/internal/call"
	"github.com/matheus3301/parley/internal/chat"
	"github.com/matheus3301/parley/internal/presence"
	"github.com/matheus3301/parley/internal/registry"
	"github.com/matheus3301/parley/internal/status"
	"github.com/matheus3301/parley/internal/store"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Chats is the subset of the store the admin service manages.
type Chats interface {
	CreateGroup(ctx context.Context, name string, members []string) (string, error)
	AddMember(ctx context.Context, chatID, userID string) error
	DirectChat(ctx context.Context, a, b string) (string, error)
	ListMessages(ctx context.Context, chatID string, afterSeq int64, limit int) ([]store.Message, error)
	Counts(ctx context.Context) (store.Counts, error)
}

// Service implements AdminServer.
type Service struct {
	startedAt time.Time
	reg       *registry.Registry
	presence  *presence.Tracker
	calls     *call.Service
	chats     Chats
	machine   *status.Machine
	bus       *bus.Bus
	logger    *zap.Logger
}

var _ AdminServer = (*Service)(nil)

// NewService creates the admin service.
func NewService(reg *registry.Registry, p *presence.Tracker, calls *call.Service, chats Chats, m *status.Machine, b *bus.Bus, logger *zap.Logger) *Service {
	return &Service{
		startedAt: time.Now(),
		reg:       reg,
		presence:  p,
		calls:     calls,
		chats:     chats,
		machine:   m,
		bus:       b,
		logger:    logger,
	}
}

func (s *Service) Stats(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	rs := s.reg.Stats()
	ringing, connected := s.calls.Stats()
	counts, err := s.chats.Counts(ctx)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "count rows: %v", err)
	}
	return structpb.NewStruct(map[string]any{
		"status":          string(s.machine.Current()),
		"uptime_ms":       time.Since(s.startedAt).Milliseconds(),
		"users_online":    rs.Users,
		"sessions":        rs.Sessions,
		"calls_ringing":   ringing,
		"calls_connected": connected,
		"chats":           counts.Chats,
		"messages":        counts.Messages,
		"bus_dropped":     s.bus.Dropped(),
	})
}

func (s *Service) GetPresence(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	userID := req.GetValue()
	if userID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "user id is required")
	}
	st := s.presence.Status(ctx, userID)
	out := map[string]any{
		"user_id":  st.UserID,
		"online":   st.Online,
		"sessions": st.Sessions,
	}
	if !st.LastSeen.IsZero() {
		out["last_seen"] = st.LastSeen.UTC().Format(time.RFC3339Nano)
	}
	return structpb.NewStruct(out)
}

func (s *Service) CreateGroup(ctx context.Context, req *structpb.Struct) (*wrapperspb.StringValue, error) {
	name := stringField(req, "name")
	members := stringList(req, "members")
	if len(members) == 0 {
		return nil, grpcstatus.Error(codes.InvalidArgument, "members are required")
	}
	id, err := s.chats.CreateGroup(ctx, name, members)
	if err != nil {
		return nil, toStatus("create group", err)
	}
	s.logger.Info("group created", zap.String("chat", id), zap.Int("members", len(members)))
	return wrapperspb.String(id), nil
}

func (s *Service) AddMember(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	chatID, userID := stringField(req, "chat_id"), stringField(req, "user_id")
	if chatID == "" || userID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "chat_id and user_id are required")
	}
	if err := s.chats.AddMember(ctx, chatID, userID); err != nil {
		return nil, toStatus("add member", err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Service) OpenDirect(ctx context.Context, req *structpb.Struct) (*wrapperspb.StringValue, error) {
	a, b := stringField(req, "user_a"), stringField(req, "user_b")
	if a == "" || b == "" || a == b {
		return nil, grpcstatus.Error(codes.InvalidArgument, "two distinct users are required")
	}
	id, err := s.chats.DirectChat(ctx, a, b)
	if err != nil {
		return nil, toStatus("open direct", err)
	}
	return wrapperspb.String(id), nil
}

func (s *Service) ListMessages(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	chatID := stringField(req, "chat_id")
	if chatID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "chat_id is required")
	}
	after := int64(req.GetFields()["after_seq"].GetNumberValue())
	limit := int(req.GetFields()["limit"].GetNumberValue())

	msgs, err := s.chats.ListMessages(ctx, chatID, after, limit)
	if err != nil {
		return nil, toStatus("list messages", err)
	}
	list := make([]any, 0, len(msgs))
	for _, m := range msgs {
		list = append(list, map[string]any{
			"seq":        m.Seq,
			"id":         m.ID,
			"sender_id":  m.SenderID,
			"body":       m.Body,
			"created_at": m.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	return structpb.NewStruct(map[string]any{"messages": list})
}

// WatchEvents streams bus events whose kind starts with the requested
// namespace until the client goes away.
func (s *Service) WatchEvents(req *wrapperspb.StringValue, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ch, unsub := s.bus.Subscribe(req.GetValue(), 256)
	defer unsub()

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt := <-ch:
			msg, err := eventToStruct(evt)
			if err != nil {
				s.logger.Warn("encode bus event failed", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

func eventToStruct(evt bus.Event) (*structpb.Struct, error) {
	raw, err := json.Marshal(evt.Payload)
	if err != nil {
		return nil, err
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{
		"id":      evt.ID,
		"kind":    evt.Kind,
		"ts":      evt.Timestamp.UTC().Format(time.RFC3339Nano),
		"payload": payload,
	})
}

func stringField(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func stringList(s *structpb.Struct, key string) []string {
	var out []string
	for _, v := range s.GetFields()[key].GetListValue().GetValues() {
		if str := v.GetStringValue(); str != "" {
			out = append(out, str)
		}
	}
	return out
}

func toStatus(op string, err error) error {
	switch {
	case errors.Is(err, chat.ErrChatNotFound):
		return grpcstatus.Errorf(codes.NotFound, "%s: %v", op, err)
	case errors.Is(err, chat.ErrInvalidDestination):
		return grpcstatus.Errorf(codes.InvalidArgument, "%s: %v", op, err)
	}
	return grpcstatus.Error(codes.Internal, fmt.Sprintf("%s: %v", op, err))
}
