package api

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/relay/internal/bus"
	"github.com/matheus3301/relay/internal/conversation"
	"github.com/matheus3301/relay/internal/presence"
	"github.com/matheus3301/relay/internal/room"
)

// AdminService answers operational queries about a running relayd.
type AdminService struct {
	instance  string
	startedAt time.Time
	presence  *presence.Tracker
	rooms     *room.Router
	convs     *conversation.Aggregator
	bus       *bus.Bus
	logger    *zap.Logger
}

// NewAdminService creates the admin service of one daemon instance.
func NewAdminService(instance string, tracker *presence.Tracker, rooms *room.Router, convs *conversation.Aggregator, b *bus.Bus, logger *zap.Logger) *AdminService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminService{
		instance:  instance,
		startedAt: time.Now(),
		presence:  tracker,
		rooms:     rooms,
		convs:     convs,
		bus:       b,
		logger:    logger,
	}
}

var _ AdminServer = (*AdminService)(nil)

func (s *AdminService) GetPresence(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	ids := s.presence.Snapshot()
	online := make([]any, len(ids))
	for i, id := range ids {
		online[i] = id
	}
	return newStruct(map[string]any{
		"instance":        s.instance,
		"pid":             os.Getpid(),
		"uptime_ms":       time.Since(s.startedAt).Milliseconds(),
		"online_user_ids": online,
		"online_count":    len(ids),
	})
}

func (s *AdminService) GetRoomStats(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	st := s.rooms.Stats()
	rooms := make(map[string]any, len(st.Rooms))
	for name, n := range st.Rooms {
		rooms[name] = n
	}
	return newStruct(map[string]any{
		"sessions":        st.Sessions,
		"rooms":           rooms,
		"bus_subscribers": s.bus.Subscribers(),
		"bus_dropped":     s.bus.Dropped(),
	})
}

func (s *AdminService) GetUnreadCounts(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := requireID(req, "user_id")
	if err != nil {
		return nil, err
	}
	u, err := s.convs.UnreadCounts(ctx, userID)
	if err != nil {
		return nil, Status(err)
	}
	return toStruct(u)
}

// ListConversations takes user_id and optional limit, active_type and
// active_id fields.
func (s *AdminService) ListConversations(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := requireID(req, "user_id")
	if err != nil {
		return nil, err
	}
	var active *conversation.Key
	if t := req.GetFields()["active_type"].GetStringValue(); t != "" {
		active = &conversation.Key{Type: t, ID: int64(req.GetFields()["active_id"].GetNumberValue())}
	}
	limit := int(req.GetFields()["limit"].GetNumberValue())
	entries, err := s.convs.List(ctx, userID, active, limit)
	if err != nil {
		return nil, Status(err)
	}
	if entries == nil {
		entries = []conversation.Entry{}
	}
	return toStruct(map[string]any{"conversations": entries})
}

// WatchEvents streams bus events whose kind starts with the optional prefix
// field until the client goes away.
func (s *AdminService) WatchEvents(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	prefix := req.GetFields()["prefix"].GetStringValue()
	ch, unsub := s.bus.Subscribe(prefix, 256)
	defer unsub()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			env, err := s.envelope(evt)
			if err != nil {
				s.logger.Warn("dropping unencodable event", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.Send(env); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func (s *AdminService) envelope(evt bus.Event) (*structpb.Struct, error) {
	payload, err := toValue(evt.Payload)
	if err != nil {
		return nil, err
	}
	return newStruct(map[string]any{
		"event_id":       uuid.NewString(),
		"instance":       s.instance,
		"kind":           evt.Kind,
		"occurred_at_ms": evt.Timestamp.UnixMilli(),
		"payload":        payload,
	})
}

func requireID(req *structpb.Struct, name string) (int64, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return 0, grpcstatus.Errorf(codes.InvalidArgument, "%s is required", name)
	}
	n := v.GetNumberValue()
	if n <= 0 || n != float64(int64(n)) {
		return 0, grpcstatus.Errorf(codes.InvalidArgument, "invalid %s", name)
	}
	return int64(n), nil
}

func newStruct(m map[string]any) (*structpb.Struct, error) {
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	return st, nil
}

// toValue converts any JSON-encodable value into a structpb value.
func toValue(v any) (*structpb.Value, error) {
	if v == nil {
		return structpb.NewNullValue(), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return structpb.NewValue(generic)
}

func toStruct(v any) (*structpb.Struct, error) {
	val, err := toValue(v)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	st := val.GetStructValue()
	if st == nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: not an object")
	}
	return st, nil
}
