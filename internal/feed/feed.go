// Package feed streams collector updates to remote watchers over gRPC. The
// service is described by hand instead of generated code: one server-streaming
// method whose request and responses are google.protobuf.Struct values.
package feed

import (
	"context"
	"errors"
	"io"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/lightswarm/internal/collector"
	"github.com/banshee-data/lightswarm/internal/monitoring"
)

const (
	ServiceName = "lightswarm.LeaderFeed"
	WatchMethod = "/" + ServiceName + "/Watch"
)

// Source is the update fan-out the server reads from. *collector.Collector
// implements it.
type Source interface {
	Subscribe() (int, <-chan collector.Update)
	Unsubscribe(id int)
}

// watcher is the handler type checked by grpc.Server.RegisterService.
type watcher interface {
	Watch(req *structpb.Struct, stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*watcher)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "lightswarm/feed.proto",
}

func watchHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(watcher).Watch(req, stream)
}

// Server implements LeaderFeed.
type Server struct {
	src  Source
	logf func(format string, v ...interface{})
}

func NewServer(src Source) *Server {
	return &Server{src: src, logf: monitoring.Prefixed("feed")}
}

// Register adds the LeaderFeed service to g.
func (s *Server) Register(g *grpc.Server) {
	g.RegisterService(&serviceDesc, s)
}

// Watch streams updates until the client goes away. The optional request
// field "kinds" (a list of strings) limits which update kinds are sent.
func (s *Server) Watch(req *structpb.Struct, stream grpc.ServerStream) error {
	kinds := map[string]bool{}
	if v, ok := req.GetFields()["kinds"]; ok {
		for _, k := range v.GetListValue().GetValues() {
			kinds[k.GetStringValue()] = true
		}
	}

	id, updates := s.src.Subscribe()
	defer s.src.Unsubscribe(id)
	s.logf("watcher %d connected, kinds=%v", id, kinds)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			s.logf("watcher %d disconnected", id)
			return nil
		case u, ok := <-updates:
			if !ok {
				return status.Error(codes.Unavailable, "feed closed")
			}
			if len(kinds) > 0 && !kinds[string(u.Kind)] {
				continue
			}
			msg, err := Encode(u)
			if err != nil {
				return status.Errorf(codes.Internal, "encode update: %v", err)
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

// Encode converts an update to its wire form.
func Encode(u collector.Update) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"kind":        string(u.Kind),
		"session":     u.Session,
		"swarm_id":    u.SwarmID,
		"prev_id":     u.PrevID,
		"reading":     u.Reading,
		"led":         u.LED,
		"interval_ms": float64(u.Interval) / float64(time.Millisecond),
		"at":          u.At.UTC().Format(time.RFC3339Nano),
	})
}

// Decode is the inverse of Encode.
func Decode(msg *structpb.Struct) (collector.Update, error) {
	f := msg.GetFields()
	at, err := time.Parse(time.RFC3339Nano, f["at"].GetStringValue())
	if err != nil {
		return collector.Update{}, err
	}
	return collector.Update{
		Kind:     collector.UpdateKind(f["kind"].GetStringValue()),
		Session:  f["session"].GetStringValue(),
		SwarmID:  int(f["swarm_id"].GetNumberValue()),
		PrevID:   int(f["prev_id"].GetNumberValue()),
		Reading:  int(f["reading"].GetNumberValue()),
		LED:      int(f["led"].GetNumberValue()),
		Interval: time.Duration(f["interval_ms"].GetNumberValue() * float64(time.Millisecond)),
		At:       at,
	}, nil
}

// Watch opens a LeaderFeed stream on conn and calls fn for every update until
// the stream ends, ctx is cancelled or fn returns an error.
func Watch(ctx context.Context, conn grpc.ClientConnInterface, kinds []string, fn func(collector.Update) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := conn.NewStream(ctx, &serviceDesc.Streams[0], WatchMethod)
	if err != nil {
		return err
	}

	list := make([]interface{}, len(kinds))
	for i, k := range kinds {
		list[i] = k
	}
	req, err := structpb.NewStruct(map[string]interface{}{"kinds": list})
	if err != nil {
		return err
	}
	if err := stream.SendMsg(req); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}

	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		u, err := Decode(msg)
		if err != nil {
			return err
		}
		if err := fn(u); err != nil {
			return err
		}
	}
}
